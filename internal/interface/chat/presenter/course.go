package presenter

import (
	"fmt"
	"strings"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/course"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// CourseFilter selects the course listing variant.
type CourseFilter string

const (
	CoursesAll      CourseFilter = "todas"
	CoursesActive   CourseFilter = "activas"
	CoursesArchived CourseFilter = "archivadas"
	CoursesDetail   CourseFilter = "detalle"
)

// ParseCourseFilter reads a filter word. Unknown or empty words mean CoursesAll.
func ParseCourseFilter(s string) CourseFilter {
	switch f := CourseFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case CoursesActive, CoursesArchived, CoursesDetail:
		return f
	default:
		return CoursesAll
	}
}

// NoCourses is shown when no course exists.
const NoCourses = "📚 **No hay materias registradas**\n\n" +
	"Crea una materia con: `!materia crear <código> \"<nombre>\"`"

// FormatCourseCreated confirms a new course and any first-course bonus.
func FormatCourseCreated(res store.CourseCreated) string {
	c := res.Course

	var sb strings.Builder
	sb.WriteString("✅ **Materia creada exitosamente**\n\n")
	fmt.Fprintf(&sb, "📚 **%s** - %s\n", c.Code, c.Name)
	if c.Description != "" {
		fmt.Fprintf(&sb, "📝 %s\n", c.Description)
	}
	if c.HasInstructor() {
		fmt.Fprintf(&sb, "👨‍🏫 %s\n", c.Instructor)
	}
	fmt.Fprintf(&sb, "🆔 ID: `%s`", c.ID)
	if res.Bonus > 0 {
		fmt.Fprintf(&sb, "\n🎉 +%d puntos por crear tu primera materia!", res.Bonus)
	}
	return sb.String()
}

// FormatCourseList renders the course listing. taskCount is consulted only
// by the detail variant.
func FormatCourseList(courses []*course.Course, f CourseFilter, taskCount func(code string) int) string {
	if len(courses) == 0 {
		return NoCourses
	}

	var sb strings.Builder
	switch f {
	case CoursesActive:
		sb.WriteString("📚 **MATERIAS ACTIVAS**\n\n")
	case CoursesArchived:
		sb.WriteString("📦 **MATERIAS ARCHIVADAS**\n\n")
	case CoursesDetail:
		sb.WriteString("📚 **TODAS LAS MATERIAS (DETALLE)**\n\n")
	default:
		sb.WriteString("📚 **TODAS LAS MATERIAS**\n\n")
	}

	shown := 0
	for _, c := range courses {
		switch {
		case f == CoursesActive && !c.Active:
			continue
		case f == CoursesArchived && c.Active:
			continue
		}
		shown++

		fmt.Fprintf(&sb, "📚 **%s** - %s", c.Code, c.Name)
		if !c.Active {
			sb.WriteString(" *(archivada)*")
		}
		sb.WriteString("\n")

		if f != CoursesDetail {
			continue
		}
		if c.Description != "" {
			fmt.Fprintf(&sb, "📝 %s\n", c.Description)
		}
		if c.HasInstructor() {
			fmt.Fprintf(&sb, "👨‍🏫 %s\n", c.Instructor)
		}
		count := 0
		if taskCount != nil {
			count = taskCount(c.Code)
		}
		fmt.Fprintf(&sb, "📋 Tareas: %d\n\n", count)
	}

	if shown == 0 {
		sb.WriteString("*No hay materias en esta categoría*")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatCourseArchived confirms an archive.
func FormatCourseArchived(c *course.Course) string {
	return "📦 **Materia archivada**\n\n" +
		"📚 " + c.Code + " - " + c.Name + "\n" +
		"💡 Usa `!materia desarchivar " + c.Code + "` para restaurarla."
}

// FormatCourseRestored confirms an unarchive.
func FormatCourseRestored(c *course.Course) string {
	return "✅ **Materia restaurada**\n\n" +
		"📚 " + c.Code + " - " + c.Name + "\n" +
		"🎯 La materia está ahora activa nuevamente."
}

// FormatCourseDeleted confirms a deletion.
func FormatCourseDeleted(c *course.Course) string {
	return fmt.Sprintf("✅ Materia `%s` eliminada exitosamente.", c.Code)
}

// FormatCourseHasTasks explains why a course cannot be deleted.
func FormatCourseHasTasks(code string, count int) string {
	return fmt.Sprintf("❌ No se puede eliminar la materia `%s` porque tiene %d tarea(s) asociada(s).\n"+
		"Elimina primero las tareas o archiva la materia con `!materia archivar %s`.", code, count, code)
}

// FormatCourseNoTasks is shown for a course without tasks.
func FormatCourseNoTasks(c *course.Course) string {
	return "📝 **Materia: " + c.Name + "**\n\n" +
		"No hay tareas para esta materia.\n" +
		"Crea una con: `!tarea crear \"<título>\" \"<descripción>\" " + c.Code + "`"
}
