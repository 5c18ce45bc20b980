// Package chat implements the text-command interface of the bot: the command
// contract, the registry, the dispatcher that turns inbound chat messages
// into replies and the bot loop that drives a Transport.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/educativo/edubot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Request is one parsed invocation of a command.
type Request struct {
	// Tenant is the classroom the command operates on.
	Tenant shared.TenantID

	GuildID   string
	ChannelID string

	// ActorID is the chat user that sent the message.
	ActorID string

	// Command is the lower-cased command name.
	Command string

	// Args are the tokens after the command name.
	Args []string
}

// Arg returns the i-th argument, or "" when absent.
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Command is a named chat command.
type Command interface {
	// Name is the word typed after the prefix.
	Name() string

	// Describe returns a one-line description and a usage string.
	Describe() (description, usage string)

	// Authorize reports whether actorID may run the command at all.
	Authorize(actorID string) bool

	// Execute runs the command and returns the reply text. Errors are
	// reserved for internal failures; user mistakes are part of the reply.
	Execute(ctx context.Context, req Request) (string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// Registry maps command names to commands. It is immutable after creation
// and safe for concurrent use.
type Registry struct {
	commands map[string]Command
}

// NewRegistry builds a registry. Duplicate or empty names are an error.
func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{commands: make(map[string]Command, len(cmds))}
	for _, cmd := range cmds {
		if cmd == nil {
			return nil, fmt.Errorf("chat: nil command")
		}
		name := strings.ToLower(strings.TrimSpace(cmd.Name()))
		if name == "" {
			return nil, fmt.Errorf("chat: command with empty name (%T)", cmd)
		}
		if _, dup := r.commands[name]; dup {
			return nil, fmt.Errorf("chat: duplicate command %q", name)
		}
		r.commands[name] = cmd
	}
	return r, nil
}

// Lookup finds a command by name, ignoring case.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.commands[strings.ToLower(strings.TrimSpace(name))]
	return cmd, ok
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.commands)
}
