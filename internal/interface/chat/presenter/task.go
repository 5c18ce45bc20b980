// Package presenter formats domain data as chat replies.
// Replies use the platform's markdown subset: **bold**, *italic* and
// back-ticked code spans.
package presenter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ORDERING
// ══════════════════════════════════════════════════════════════════════════════

// OrderTasks returns tasks sorted by priority (high first), then by creation
// time and ID. The input slice is not modified.
func OrderTasks(tasks []*task.Task) []*task.Task {
	out := make([]*task.Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Ordinal resolution failures.
var (
	ErrOrdinalNotNumber = shared.NewDomainError("presenter", "ResolveOrdinal", shared.ErrValidation, "task number must be a number")
	ErrOrdinalRange     = shared.NewDomainError("presenter", "ResolveOrdinal", shared.ErrValidation, "task number out of range")
)

// ResolveOrdinal maps a 1-based position, as shown in the task listing, to a
// task of the ordered listing.
func ResolveOrdinal(ordered []*task.Task, ordinal string) (*task.Task, error) {
	n, err := strconv.Atoi(strings.TrimSpace(ordinal))
	if err != nil {
		return nil, ErrOrdinalNotNumber
	}
	if n < 1 || n > len(ordered) {
		return nil, ErrOrdinalRange
	}
	return ordered[n-1], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTERS
// ══════════════════════════════════════════════════════════════════════════════

// TaskFilter selects a subset of tasks in listings.
type TaskFilter string

const (
	FilterAll       TaskFilter = "todas"
	FilterPending   TaskFilter = "pendientes"
	FilterCompleted TaskFilter = "completadas"
	FilterOverdue   TaskFilter = "vencidas"
)

// ParseTaskFilter reads a filter word. Unknown or empty words mean FilterAll.
func ParseTaskFilter(s string) TaskFilter {
	switch f := TaskFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterPending, FilterCompleted, FilterOverdue:
		return f
	default:
		return FilterAll
	}
}

// Matches reports whether t belongs in a listing filtered by f.
func (f TaskFilter) Matches(t *task.Task, now time.Time) bool {
	switch f {
	case FilterPending:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	case FilterOverdue:
		return t.IsOverdue(now)
	default:
		return true
	}
}

// FilterTasks keeps the tasks matching f.
func FilterTasks(tasks []*task.Task, f TaskFilter, now time.Time) []*task.Task {
	if f == FilterAll {
		return tasks
	}
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// PriorityLabel renders a priority with its color marker.
func PriorityLabel(p task.Priority) string {
	switch p {
	case task.PriorityLow:
		return "🟢 Baja"
	case task.PriorityMedium:
		return "🟡 Media"
	case task.PriorityHigh:
		return "🔴 Alta"
	default:
		return "❓ Desconocida"
	}
}

// NoTasks is shown when the actor has no tasks at all.
const NoTasks = "📝 **No tienes tareas registradas**\n\n" +
	"Crea una tarea con: `!tarea crear \"<título>\"`"

// ListOptions narrows a task listing.
type ListOptions struct {
	Filter TaskFilter

	// Course keeps only the tasks of one course when set.
	Course string

	// Unnumbered drops the row numbers, for listings whose tasks the reader
	// cannot act on.
	Unnumbered bool
}

func (o ListOptions) keep(t *task.Task, now time.Time) bool {
	if o.Course != "" && !t.BelongsTo(o.Course) {
		return false
	}
	return o.Filter.Matches(t, now)
}

// FormatTaskList renders a listing of ordered, the caller's tasks as
// returned by OrderTasks. A row's number is its position in ordered, so a
// filtered view skips numbers and every number shown resolves through
// ResolveOrdinal to the task on that row.
func FormatTaskList(title string, ordered []*task.Task, opts ListOptions, now time.Time) string {
	var sb strings.Builder

	switch opts.Filter {
	case FilterPending:
		fmt.Fprintf(&sb, "⏳ **%s - PENDIENTES**\n\n", title)
	case FilterCompleted:
		fmt.Fprintf(&sb, "✅ **%s - COMPLETADAS**\n\n", title)
	case FilterOverdue:
		fmt.Fprintf(&sb, "⚠️ **%s - VENCIDAS**\n\n", title)
	default:
		fmt.Fprintf(&sb, "📝 **%s**\n\n", title)
	}

	rows := 0
	for i, t := range ordered {
		if !opts.keep(t, now) {
			continue
		}
		rows++

		mark := "⏳"
		if t.Completed {
			mark = "✅"
		}
		if opts.Unnumbered {
			fmt.Fprintf(&sb, "• %s **%s** %s", mark, t.Title, PriorityLabel(t.Priority))
		} else {
			fmt.Fprintf(&sb, "`%d.` %s **%s** %s", i+1, mark, t.Title, PriorityLabel(t.Priority))
		}
		if !t.InGeneralBucket() {
			fmt.Fprintf(&sb, " *(%s)*", t.CourseCode)
		}
		sb.WriteString("\n")

		if t.Description != "" {
			fmt.Fprintf(&sb, "   📄 %s\n", t.Description)
		}
		if t.DueAt != nil {
			fmt.Fprintf(&sb, "   ⏰ Vence: %s", timeutil.FormatDue(*t.DueAt))
			if t.IsOverdue(now) {
				sb.WriteString(" ⚠️ VENCIDA")
			}
			sb.WriteString("\n")
		}
	}
	if rows == 0 {
		sb.WriteString("*No hay tareas en esta categoría*")
		return sb.String()
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTaskCreated confirms a new task.
func FormatTaskCreated(t *task.Task) string {
	var sb strings.Builder
	sb.WriteString("✅ **Tarea creada exitosamente**\n\n")
	fmt.Fprintf(&sb, "📝 **%s**\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&sb, "📄 %s\n", t.Description)
	}
	fmt.Fprintf(&sb, "📚 Materia: %s\n", t.CourseCode)
	fmt.Fprintf(&sb, "⭐ Prioridad: %s\n", PriorityLabel(t.Priority))
	fmt.Fprintf(&sb, "🆔 ID: `%s`", t.ID)
	return sb.String()
}

// FormatTaskCompleted reports the reward of a completion.
func FormatTaskCompleted(c store.Completion) string {
	var sb strings.Builder
	sb.WriteString("✅ **Tarea completada**\n\n")
	fmt.Fprintf(&sb, "📝 %s\n", c.Task.Title)
	fmt.Fprintf(&sb, "⭐ Prioridad: %s\n", PriorityLabel(c.Task.Priority))
	fmt.Fprintf(&sb, "🎉 +%d puntos otorgados (%d base + %d por prioridad)\n", c.Reward, c.Base, c.Bonus)
	fmt.Fprintf(&sb, "🏆 Total de puntos: %d", c.User.Score)
	if c.LeveledUp {
		fmt.Fprintf(&sb, "\n🆙 ¡Subiste al nivel %d!", c.User.Level())
	}
	return sb.String()
}

// FormatTaskDeleted confirms a deletion.
func FormatTaskDeleted(t *task.Task) string {
	return fmt.Sprintf("✅ Tarea `%s` eliminada exitosamente.", t.Title)
}

// FormatDueDateSet confirms a new due date.
func FormatDueDateSet(t *task.Task) string {
	due := ""
	if t.DueAt != nil {
		due = timeutil.FormatFull(*t.DueAt)
	}
	return "✅ **Fecha de vencimiento establecida**\n\n" +
		"📝 Tarea: " + t.Title + "\n" +
		"⏰ Vence: " + due
}

// FormatPrioritySet confirms a priority change.
func FormatPrioritySet(t *task.Task, previous task.Priority) string {
	return "✅ **Prioridad actualizada**\n\n" +
		"📝 Tarea: " + t.Title + "\n" +
		"⭐ Prioridad anterior: " + PriorityLabel(previous) + "\n" +
		"⭐ Nueva prioridad: " + PriorityLabel(t.Priority)
}

// FormatTaskStats renders the one-line task summary of a user card.
func FormatTaskStats(s store.TaskStats) string {
	if s.Total == 0 {
		return "Sin tareas registradas"
	}
	return fmt.Sprintf("Total: %d | Completadas: %d | Pendientes: %d | Vencidas: %d",
		s.Total, s.Completed, s.Pending, s.Overdue)
}
