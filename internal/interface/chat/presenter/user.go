package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER CARD
// ══════════════════════════════════════════════════════════════════════════════

// PointsCard is everything the points view shows about one user.
type PointsCard struct {
	User  *user.User
	Tasks store.TaskStats

	// Mention is set when the card is about someone other than the caller.
	Mention string

	Position int
	Total    int
}

// FormatPointsCard renders the points view.
func FormatPointsCard(card PointsCard, now time.Time) string {
	u := card.User

	var sb strings.Builder
	sb.WriteString("🏆 **PUNTOS DEL USUARIO**\n\n")
	if card.Mention != "" {
		fmt.Fprintf(&sb, "👤 Usuario: %s\n", card.Mention)
	} else {
		sb.WriteString("👤 Tus puntos actuales\n")
	}
	fmt.Fprintf(&sb, "💎 **%d puntos**\n\n", u.Score)

	state := "Inactivo"
	if u.IsActive(now) {
		state = "Activo"
	}

	sb.WriteString("📊 **Estadísticas:**\n")
	fmt.Fprintf(&sb, "• 🏆 Nivel actual: %d\n", u.Level())
	fmt.Fprintf(&sb, "• 📚 Materia favorita: %s\n", u.FavoriteCourse)
	fmt.Fprintf(&sb, "• 🎯 Puntos para siguiente nivel: %d\n", u.ScoreToNextLevel())
	fmt.Fprintf(&sb, "• 💚 Estado: %s\n", state)
	fmt.Fprintf(&sb, "• 📝 Tareas: %s\n", FormatTaskStats(card.Tasks))
	fmt.Fprintf(&sb, "• 🏅 Posición en ranking: #%d de %d", card.Position, card.Total)
	return sb.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking limits.
const (
	DefaultRankingLimit = 10
	MaxRankingLimit     = 50
)

// ClampRankingLimit bounds a requested limit to 1..MaxRankingLimit.
func ClampRankingLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxRankingLimit {
		return MaxRankingLimit
	}
	return n
}

// MsgBadRankingLimit is the reply to a non-numeric limit.
const MsgBadRankingLimit = "❌ El límite debe ser un número entre 1 y 50."

var medals = [...]string{"🥇", "🥈", "🥉"}

func medal(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return "🏅"
}

// FormatRanking renders the leaderboard. users must be ranked and already
// cut to limit.
func FormatRanking(users []*user.User, limit int) string {
	if len(users) == 0 {
		return "🏆 **No hay usuarios con puntos registrados**\n\n" +
			"¡Sé el primero en ganar puntos completando tareas!"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 **RANKING DE PUNTOS - TOP %d**\n\n", limit)
	for i, u := range users {
		fmt.Fprintf(&sb, "%s **#%d** %s - **%d puntos** (Nivel %d)\n",
			medal(i), i+1, u.DisplayName, u.Score, u.Level())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatPenalty confirms a score deduction.
func FormatPenalty(u *user.User, mention string, amount int) string {
	return fmt.Sprintf("⚖️ **Penalización aplicada**\n\n"+
		"👤 Usuario: %s\n"+
		"➖ %d puntos\n"+
		"💎 Puntos actuales: %d", mention, amount, u.Score)
}
