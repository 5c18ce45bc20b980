package handler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYSTEM COMMAND
// Handles !sistema: help, points, ranking, welcome, info and stats.
// ══════════════════════════════════════════════════════════════════════════════

const (
	usagePoints  = "!sistema puntos [@usuario|ranking [límite]]"
	usagePenalty = "!sistema penalizar <@usuario> <puntos>"
)

// CounterReader reads the usage counters kept by the dispatcher.
// *persistence.Gateway implements it.
type CounterReader interface {
	Keys(prefix string) []string
	GetInto(key string, dest any) (bool, error)
}

// SystemConfig configures the sistema command.
type SystemConfig struct {
	// Penalties enables the moderator-only penalizar sub-verb.
	Penalties bool

	// Backend names the storage backend shown by info.
	Backend string

	// StartedAt is the process start time used for uptime.
	StartedAt time.Time

	// Counters, when set, adds command usage to stats.
	Counters CounterReader
}

// SystemCommand handles the sistema command.
type SystemCommand struct {
	command
	cfg SystemConfig
}

// NewSystemCommand creates the sistema command.
func NewSystemCommand(deps Deps, cfg SystemConfig) *SystemCommand {
	deps = deps.withDefaults()
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = deps.Clock.Now()
	}
	if cfg.Backend == "" {
		cfg.Backend = "memoria"
	}

	c := &SystemCommand{
		command: command{
			name:        "sistema",
			description: "Comandos del sistema, ayuda y puntos",
			usage:       "!sistema [ayuda|puntos|bienvenida|info|stats] [parámetros]",
			help:        presenter.HelpGeneral,
			deps:        deps,
		},
		cfg: cfg,
	}

	c.register("ayuda", c.helpTopic)
	c.register("puntos", c.points)
	c.register("bienvenida", c.welcome)
	c.register("info", c.info)
	c.register("stats", c.stats)
	if cfg.Penalties {
		c.register("penalizar", c.penalize)
	}
	return c
}

func (c *SystemCommand) helpTopic(_ context.Context, _ *store.Classroom, _ chat.Request, args []string) (string, error) {
	topic := arg(args, 0)
	if topic == "" {
		return presenter.HelpGeneral, nil
	}
	if text, ok := presenter.HelpFor(topic); ok {
		return text, nil
	}
	return presenter.FormatNoHelp(topic), nil
}

func (c *SystemCommand) points(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	first := arg(args, 0)

	if strings.EqualFold(first, "ranking") {
		limit := presenter.DefaultRankingLimit
		if raw := arg(args, 1); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return presenter.MsgBadRankingLimit, nil
			}
			limit = presenter.ClampRankingLimit(n)
		}
		return presenter.FormatRanking(room.Ranking(limit), limit), nil
	}

	card := presenter.PointsCard{}
	targetID := req.ActorID
	if first != "" {
		if !chat.IsMention(first) {
			return usageError("Menciona a un usuario o usa `ranking`.", usagePoints)
		}
		targetID = chat.ParseMention(first)
		card.Mention = first
	}

	if targetID == req.ActorID {
		card.User = room.EnsureUser(ctx, targetID)
	} else {
		card.User = room.LookupOrCreate(ctx, targetID)
	}

	card.Tasks = room.TaskStatsFor(targetID)
	card.Position, card.Total, _ = room.Rank(targetID)
	return presenter.FormatPointsCard(card, c.deps.Clock.Now()), nil
}

func (c *SystemCommand) welcome(_ context.Context, _ *store.Classroom, _ chat.Request, args []string) (string, error) {
	if mention := arg(args, 0); mention != "" {
		return presenter.FormatWelcome(mention), nil
	}
	return presenter.WelcomeGeneral, nil
}

func (c *SystemCommand) info(_ context.Context, room *store.Classroom, _ chat.Request, _ []string) (string, error) {
	return presenter.FormatInfo(presenter.Info{
		Uptime:  c.deps.Clock.Now().Sub(c.cfg.StartedAt),
		Backend: c.cfg.Backend,
		Tenant:  string(room.Tenant()),
	}), nil
}

func (c *SystemCommand) stats(ctx context.Context, room *store.Classroom, _ chat.Request, _ []string) (string, error) {
	return presenter.FormatStats(room.Stats(), c.commandCounters(ctx)), nil
}

// commandCounters reads the per-command usage counters. Unreadable entries
// are skipped.
func (c *SystemCommand) commandCounters(ctx context.Context) map[string]int64 {
	if c.cfg.Counters == nil {
		return nil
	}
	keys := c.cfg.Counters.Keys(chat.CommandCounterPrefix)
	sort.Strings(keys)

	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		var n int64
		ok, err := c.cfg.Counters.GetInto(key, &n)
		if err != nil {
			c.deps.Logger.WarnContext(ctx, "unreadable command counter", "key", key, "error", err)
			continue
		}
		if ok {
			out[strings.TrimPrefix(key, chat.CommandCounterPrefix)] = n
		}
	}
	return out
}

func (c *SystemCommand) penalize(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if c.deps.Moderators == nil || !c.deps.Moderators.IsModerator(req.ActorID) {
		return chat.MsgForbidden, nil
	}
	if len(args) < 2 || !chat.IsMention(args[0]) {
		return usageError("Faltan argumentos.", usagePenalty)
	}

	amount, err := strconv.Atoi(args[1])
	if err != nil || amount <= 0 {
		return usageError("La cantidad de puntos debe ser un número mayor que 0.", usagePenalty)
	}

	targetID := chat.ParseMention(args[0])
	u, err := room.DeductScore(ctx, targetID, req.ActorID, amount)
	if err != nil {
		if shared.IsNotFound(err) {
			return usageError("Usuario no encontrado.", "")
		}
		return failure(err, usagePenalty)
	}

	c.deps.Logger.InfoContext(ctx, "score penalty applied",
		"tenant", req.Tenant,
		"actor_id", req.ActorID,
		"target_id", targetID,
		"amount", amount,
	)
	return presenter.FormatPenalty(u, args[0], amount), nil
}
