// Package handler contains the chat commands: materia, tarea and sistema.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/presenter"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// ModeratorChecker reports whether an actor is a moderator.
// *middleware.ModeratorList implements it.
type ModeratorChecker interface {
	IsModerator(actorID string) bool
}

// Deps are the dependencies shared by all handlers.
type Deps struct {
	Hub        *store.Hub
	Clock      timeutil.Clock
	Moderators ModeratorChecker
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// SUB-VERB ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// action handles one sub-verb. args exclude the sub-verb itself.
type action func(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error)

// command is the common part of the three commands.
type command struct {
	name        string
	description string
	usage       string
	help        string

	deps    Deps
	actions map[string]action

	// order lists the sub-verbs as shown to users.
	order []string
}

func (c *command) register(verb string, fn action) {
	if c.actions == nil {
		c.actions = make(map[string]action)
	}
	c.actions[verb] = fn
	c.order = append(c.order, verb)
}

// Name implements chat.Command.
func (c *command) Name() string { return c.name }

// Describe implements chat.Command.
func (c *command) Describe() (string, string) { return c.description, c.usage }

// Authorize implements chat.Command. Every actor may run the commands;
// moderator-only sub-verbs check on their own.
func (c *command) Authorize(string) bool { return true }

// Execute implements chat.Command.
func (c *command) Execute(ctx context.Context, req chat.Request) (string, error) {
	verb := strings.ToLower(req.Arg(0))
	if verb == "" {
		return c.help, nil
	}
	fn, ok := c.actions[verb]
	if !ok {
		return presenter.FormatInvalidAction(verb, c.order), nil
	}
	return fn(ctx, c.deps.Hub.Classroom(req.Tenant), req, req.Args[1:])
}

func arg(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RENDERING
// ══════════════════════════════════════════════════════════════════════════════

var errorMessages = []struct {
	err error
	msg string
}{
	{shared.ErrCourseNotFound, "Materia no encontrada."},
	{shared.ErrDuplicateCode, "Ya existe una materia con ese código."},
	{shared.ErrEmptyCourseCode, "Debes indicar el código de la materia."},
	{shared.ErrEmptyCourseName, "Debes proporcionar un nombre para la materia entre comillas."},
	{shared.ErrReservedCourseCode, "El código `General` está reservado."},
	{shared.ErrCourseNotOwner, "Solo el creador de la materia puede modificarla."},
	{shared.ErrCourseAlreadyArchived, "La materia ya está archivada."},
	{shared.ErrCourseNotArchived, "La materia no está archivada."},
	{shared.ErrTaskNotFound, "Tarea no encontrada."},
	{shared.ErrEmptyTaskTitle, "Debes proporcionar un título para la tarea entre comillas."},
	{shared.ErrInvalidPriority, "La prioridad debe estar entre 1 (baja) y 3 (alta)."},
	{shared.ErrUnknownCourse, "La materia indicada no existe. Usa `!materia listar` para ver las materias disponibles o crea la tarea sin materia."},
	{shared.ErrTaskNotOwner, "Solo el creador de la tarea puede modificarla."},
	{shared.ErrTaskAlreadyCompleted, "La tarea ya está completada."},
	{shared.ErrPastDueDate, "La fecha de vencimiento no puede ser en el pasado."},
	{shared.ErrUserNotFound, "Usuario no encontrado."},
	{shared.ErrNegativeScore, "La cantidad de puntos no puede ser negativa."},
	{presenter.ErrOrdinalNotNumber, "El número de tarea debe ser un número válido."},
	{presenter.ErrOrdinalRange, "Número de tarea inválido. Usa `!tarea listar` para ver los números."},
}

// describe returns the user message of a domain error. ok is false for
// errors that are not the user's fault.
func describe(err error) (msg string, ok bool) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.msg, true
		}
	}
	switch {
	case shared.IsValidation(err):
		return "Datos inválidos.", true
	case shared.IsNotFound(err):
		return "No encontrado.", true
	case shared.IsPermission(err):
		return "No tienes permisos para esta acción.", true
	case shared.IsConflict(err):
		return "La operación no es posible en el estado actual.", true
	}
	return "", false
}

// failure renders err inline when it is a domain error and passes anything
// else up as an internal failure.
func failure(err error, usage string) (string, error) {
	if msg, ok := describe(err); ok {
		return presenter.FormatError(msg, usage), nil
	}
	return "", err
}

// usageError renders a usage mistake.
func usageError(msg, usage string) (string, error) {
	return presenter.FormatError(msg, usage), nil
}
