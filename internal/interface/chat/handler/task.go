package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/presenter"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK COMMAND
// Handles !tarea. Tasks are addressed by their position in the caller's
// own listing, not by ID.
// ══════════════════════════════════════════════════════════════════════════════

const (
	usageTaskCreate   = `!tarea crear "<título>" ["descripción"] [materia] [prioridad 1-3]`
	usageTaskList     = "!tarea listar [pendientes|completadas|vencidas|materia <código>]"
	usageTaskComplete = "!tarea completar <número>"
	usageTaskDelete   = "!tarea eliminar <número>"
	usageTaskDue      = "!tarea vencimiento <número> <dd/MM/yyyy HH:mm>"
	usageTaskPriority = "!tarea prioridad <número> <1-3>"
)

const (
	msgPriorityNotNumber = "La prioridad debe ser un número entre 1 y 3."
	msgBadDueDate        = "Formato de fecha inválido. Usa: dd/MM/yyyy HH:mm"
)

// TaskCommand handles the tarea command.
type TaskCommand struct {
	command
}

// NewTaskCommand creates the tarea command.
func NewTaskCommand(deps Deps) *TaskCommand {
	c := &TaskCommand{command: command{
		name:        "tarea",
		description: "Gestión completa de tareas académicas",
		usage:       "!tarea [crear|listar|completar|eliminar|vencimiento|prioridad] [parámetros]",
		help:        presenter.HelpTask,
		deps:        deps.withDefaults(),
	}}

	c.register("crear", c.create)
	c.register("listar", c.list)
	c.register("completar", c.complete)
	c.register("eliminar", c.delete)
	c.register("vencimiento", c.dueDate)
	c.register("prioridad", c.priority)
	return c
}

func (c *TaskCommand) create(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return usageError("Debes proporcionar un título para la tarea entre comillas.", usageTaskCreate)
	}

	var priority task.Priority
	if raw := arg(args, 3); raw != "" {
		p, err := task.ParsePriority(raw)
		if errors.Is(err, shared.ErrInvalidPriority) {
			return failure(err, usageTaskCreate)
		}
		if err != nil {
			return usageError(msgPriorityNotNumber, usageTaskCreate)
		}
		priority = p
	}

	created, err := room.CreateTask(ctx, store.TaskInput{
		Title:       args[0],
		Description: arg(args, 1),
		CourseCode:  arg(args, 2),
		Priority:    priority,
		ActorID:     req.ActorID,
	})
	if err != nil {
		return failure(err, usageTaskCreate)
	}
	return presenter.FormatTaskCreated(created), nil
}

func (c *TaskCommand) list(_ context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	mine := presenter.OrderTasks(room.TasksByCreator(req.ActorID))
	now := c.deps.Clock.Now()

	if strings.EqualFold(arg(args, 0), "materia") {
		code := course.NormalizeCode(arg(args, 1))
		if code == "" {
			return usageError("Debes especificar el código de la materia.", usageTaskList)
		}
		return presenter.FormatTaskList("Tareas de "+code, mine, presenter.ListOptions{Course: code}, now), nil
	}

	if len(mine) == 0 {
		return presenter.NoTasks, nil
	}
	opts := presenter.ListOptions{Filter: presenter.ParseTaskFilter(arg(args, 0))}
	return presenter.FormatTaskList("TUS TAREAS", mine, opts, now), nil
}

// resolve finds the task at the given position of the caller's full
// listing, the numbering every tarea listar view shows.
func (c *TaskCommand) resolve(room *store.Classroom, actorID, ordinal string) (*task.Task, error) {
	return presenter.ResolveOrdinal(presenter.OrderTasks(room.TasksByCreator(actorID)), ordinal)
}

func (c *TaskCommand) complete(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if arg(args, 0) == "" {
		return usageError("Debes especificar el número de la tarea.", usageTaskComplete)
	}
	t, err := c.resolve(room, req.ActorID, args[0])
	if err != nil {
		return failure(err, usageTaskComplete)
	}

	done, err := room.CompleteTask(ctx, t.ID, req.ActorID)
	if err != nil {
		return failure(err, usageTaskComplete)
	}
	c.deps.Logger.DebugContext(ctx, "task completed",
		"tenant", req.Tenant,
		"task_id", done.Task.ID,
		"reward", done.Reward,
		"leveled_up", done.LeveledUp,
	)
	return presenter.FormatTaskCompleted(done), nil
}

func (c *TaskCommand) delete(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if arg(args, 0) == "" {
		return usageError("Debes especificar el número de la tarea.", usageTaskDelete)
	}
	t, err := c.resolve(room, req.ActorID, args[0])
	if err != nil {
		return failure(err, usageTaskDelete)
	}

	deleted, err := room.DeleteTask(ctx, t.ID, req.ActorID)
	if err != nil {
		return failure(err, usageTaskDelete)
	}
	return presenter.FormatTaskDeleted(deleted), nil
}

func (c *TaskCommand) dueDate(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if len(args) < 2 {
		return usageError("Faltan argumentos.", usageTaskDue)
	}
	t, err := c.resolve(room, req.ActorID, args[0])
	if err != nil {
		return failure(err, usageTaskDue)
	}

	due, err := timeutil.ParseDueDate(strings.Join(args[1:], " "))
	if err != nil {
		return usageError(msgBadDueDate, usageTaskDue)
	}

	updated, err := room.SetDueDate(ctx, t.ID, req.ActorID, due)
	if err != nil {
		return failure(err, usageTaskDue)
	}
	return presenter.FormatDueDateSet(updated), nil
}

func (c *TaskCommand) priority(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if len(args) < 2 {
		return usageError("Faltan argumentos.", usageTaskPriority)
	}
	t, err := c.resolve(room, req.ActorID, args[0])
	if err != nil {
		return failure(err, usageTaskPriority)
	}

	p, err := task.ParsePriority(args[1])
	switch {
	case errors.Is(err, shared.ErrInvalidPriority):
		return failure(err, usageTaskPriority)
	case err != nil:
		return usageError(msgPriorityNotNumber, usageTaskPriority)
	}

	updated, previous, err := room.SetPriority(ctx, t.ID, req.ActorID, p)
	if err != nil {
		return failure(err, usageTaskPriority)
	}
	return presenter.FormatPrioritySet(updated, previous), nil
}
