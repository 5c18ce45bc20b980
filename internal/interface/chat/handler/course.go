package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE COMMAND
// Handles !materia: create, list, archive and delete courses.
// ══════════════════════════════════════════════════════════════════════════════

const (
	usageCourseCreate  = `!materia crear <código> "<nombre>" ["descripción"] ["profesor"]`
	usageCourseDelete  = "!materia eliminar <código>"
	usageCourseTasks   = "!materia tareas <código> [pendientes|completadas|vencidas]"
	usageCourseArchive = "!materia archivar <código>"
	usageCourseRestore = "!materia desarchivar <código>"
)

// CourseCommand handles the materia command.
type CourseCommand struct {
	command
}

// NewCourseCommand creates the materia command.
func NewCourseCommand(deps Deps) *CourseCommand {
	c := &CourseCommand{command: command{
		name:        "materia",
		description: "Gestión completa de materias académicas",
		usage:       "!materia [crear|listar|eliminar|tareas|archivar|desarchivar] [parámetros]",
		help:        presenter.HelpCourse,
		deps:        deps.withDefaults(),
	}}

	c.register("crear", c.create)
	c.register("listar", c.list)
	c.register("eliminar", c.delete)
	c.register("tareas", c.tasks)
	c.register("archivar", c.archive)
	c.register("desarchivar", c.unarchive)
	return c
}

func (c *CourseCommand) create(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	if len(args) < 2 {
		return usageError("Faltan argumentos.", usageCourseCreate)
	}

	res, err := room.CreateCourse(ctx, store.CourseInput{
		Code:        args[0],
		Name:        args[1],
		Description: arg(args, 2),
		Instructor:  arg(args, 3),
		ActorID:     req.ActorID,
	})
	if errors.Is(err, shared.ErrDuplicateCode) {
		return usageError(fmt.Sprintf("Ya existe una materia con el código `%s`.", course.NormalizeCode(args[0])), "")
	}
	if err != nil {
		return failure(err, usageCourseCreate)
	}
	return presenter.FormatCourseCreated(res), nil
}

func (c *CourseCommand) list(_ context.Context, room *store.Classroom, _ chat.Request, args []string) (string, error) {
	return presenter.FormatCourseList(room.Courses(), presenter.ParseCourseFilter(arg(args, 0)), room.CountTasksIn), nil
}

func (c *CourseCommand) delete(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	code := course.NormalizeCode(arg(args, 0))
	if code == "" {
		return usageError("Debes especificar el código de la materia a eliminar.", usageCourseDelete)
	}

	deleted, err := room.DeleteCourse(ctx, code, req.ActorID)
	var counted *store.TaskCountError
	switch {
	case errors.As(err, &counted):
		return presenter.FormatCourseHasTasks(code, counted.Count), nil
	case errors.Is(err, shared.ErrCourseNotFound):
		return usageError(fmt.Sprintf("Materia `%s` no encontrada.", code), "")
	case errors.Is(err, shared.ErrCourseNotOwner):
		return usageError("Solo el creador de la materia puede eliminarla.", "")
	case err != nil:
		return failure(err, usageCourseDelete)
	}
	return presenter.FormatCourseDeleted(deleted), nil
}

func (c *CourseCommand) tasks(_ context.Context, room *store.Classroom, _ chat.Request, args []string) (string, error) {
	code := course.NormalizeCode(arg(args, 0))
	if code == "" {
		return usageError("Debes especificar el código de la materia.", usageCourseTasks)
	}

	cr, err := room.Course(code)
	if errors.Is(err, shared.ErrCourseNotFound) {
		return usageError(fmt.Sprintf("Materia `%s` no encontrada.", code), "")
	}
	if err != nil {
		return failure(err, usageCourseTasks)
	}

	tasks := presenter.OrderTasks(room.TasksByCourse(code))
	if len(tasks) == 0 {
		return presenter.FormatCourseNoTasks(cr), nil
	}
	opts := presenter.ListOptions{Filter: presenter.ParseTaskFilter(arg(args, 1)), Unnumbered: true}
	return presenter.FormatTaskList("Materia: "+cr.Name, tasks, opts, c.deps.Clock.Now()), nil
}

func (c *CourseCommand) archive(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	code := course.NormalizeCode(arg(args, 0))
	if code == "" {
		return usageError("Debes especificar el código de la materia a archivar.", usageCourseArchive)
	}

	archived, err := room.ArchiveCourse(ctx, code, req.ActorID)
	switch {
	case errors.Is(err, shared.ErrCourseNotFound):
		return usageError(fmt.Sprintf("Materia `%s` no encontrada.", code), "")
	case errors.Is(err, shared.ErrCourseNotOwner):
		return usageError("Solo el creador de la materia puede archivarla.", "")
	case errors.Is(err, shared.ErrCourseAlreadyArchived):
		return usageError(fmt.Sprintf("La materia `%s` ya está archivada.", code), "")
	case err != nil:
		return failure(err, usageCourseArchive)
	}
	return presenter.FormatCourseArchived(archived), nil
}

func (c *CourseCommand) unarchive(ctx context.Context, room *store.Classroom, req chat.Request, args []string) (string, error) {
	code := course.NormalizeCode(arg(args, 0))
	if code == "" {
		return usageError("Debes especificar el código de la materia a desarchivar.", usageCourseRestore)
	}

	restored, err := room.UnarchiveCourse(ctx, code, req.ActorID)
	switch {
	case errors.Is(err, shared.ErrCourseNotFound):
		return usageError(fmt.Sprintf("Materia `%s` no encontrada.", code), "")
	case errors.Is(err, shared.ErrCourseNotOwner):
		return usageError("Solo el creador de la materia puede desarchivarla.", "")
	case errors.Is(err, shared.ErrCourseNotArchived):
		return usageError(fmt.Sprintf("La materia `%s` no está archivada.", code), "")
	case err != nil:
		return failure(err, usageCourseRestore)
	}
	return presenter.FormatCourseRestored(restored), nil
}
