package presenter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/pkg/timeutil"
)

// Version is the bot version shown by the info and help views.
const Version = "2.0.0"

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// FormatError renders an inline error with an optional usage hint.
func FormatError(msg, usage string) string {
	out := "❌ **Error**: " + msg
	if usage != "" {
		out += "\n💡 **Uso**: `" + usage + "`"
	}
	return out
}

// FormatInvalidAction is the reply to an unknown sub-verb.
func FormatInvalidAction(action string, available []string) string {
	quoted := make([]string, len(available))
	for i, a := range available {
		quoted[i] = "`" + a + "`"
	}
	return fmt.Sprintf("❌ Acción no válida: `%s`\nAcciones disponibles: %s", action, strings.Join(quoted, ", "))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELP
// ══════════════════════════════════════════════════════════════════════════════

// HelpGeneral is the overview of every command.
const HelpGeneral = "🤖 **BOT EDUCATIVO - AYUDA GENERAL**\n\n" +
	"**📚 GESTIÓN DE MATERIAS:**\n" +
	"• `!materia crear <código> \"<nombre>\" [\"descripción\"] [\"profesor\"]`\n" +
	"• `!materia listar [activas|archivadas|detalle]`\n" +
	"• `!materia eliminar <código>`\n" +
	"• `!materia tareas <código> [filtro]`\n" +
	"• `!materia archivar/desarchivar <código>`\n\n" +
	"**📝 GESTIÓN DE TAREAS:**\n" +
	"• `!tarea crear \"<título>\" [\"descripción\"] [materia] [prioridad]`\n" +
	"• `!tarea listar [pendientes|completadas|vencidas]`\n" +
	"• `!tarea completar <número>`\n" +
	"• `!tarea eliminar <número>`\n" +
	"• `!tarea vencimiento <número> <fecha>`\n" +
	"• `!tarea prioridad <número> <1-3>`\n\n" +
	"**⚙️ COMANDOS DE SISTEMA:**\n" +
	"• `!sistema ayuda [comando]` - Esta ayuda\n" +
	"• `!sistema puntos [usuario|ranking]` - Sistema de puntos\n" +
	"• `!sistema bienvenida` - Mensajes de bienvenida\n" +
	"• `!sistema info` - Información del bot\n" +
	"• `!sistema stats` - Estadísticas generales\n\n" +
	"**📖 AYUDA ESPECÍFICA:**\n" +
	"Usa `!sistema ayuda <comando>` para obtener ayuda detallada.\n" +
	"Comandos disponibles: `materia`, `tarea`, `puntos`\n\n" +
	"**💡 CONSEJOS:**\n" +
	"• Usa comillas para argumentos con espacios\n" +
	"• Los códigos de materia no distinguen mayúsculas\n" +
	"• Completa tareas para ganar puntos\n" +
	"• Las tareas de mayor prioridad dan más puntos\n\n" +
	"🆔 **Bot Educativo v" + Version + "**"

// HelpCourse documents the materia command.
const HelpCourse = "📚 **AYUDA: COMANDOS DE MATERIAS**\n\n" +
	"**CREAR MATERIA:**\n" +
	"• `!materia crear <código> \"<nombre>\" [\"descripción\"] [\"profesor\"]`\n" +
	"• El código debe ser único (ej: MAT101, FIS201)\n" +
	"• El nombre es obligatorio y debe ir entre comillas\n" +
	"• Descripción y profesor son opcionales\n\n" +
	"**LISTAR MATERIAS:**\n" +
	"• `!materia listar` - Todas las materias\n" +
	"• `!materia listar activas` - Solo activas\n" +
	"• `!materia listar archivadas` - Solo archivadas\n" +
	"• `!materia listar detalle` - Vista completa con estadísticas\n\n" +
	"**GESTIÓN:**\n" +
	"• `!materia eliminar <código>` - Eliminar (solo si no tiene tareas)\n" +
	"• `!materia archivar <código>` - Archivar materia\n" +
	"• `!materia desarchivar <código>` - Restaurar materia archivada\n" +
	"• `!materia tareas <código> [filtro]` - Ver tareas de la materia\n\n" +
	"**EJEMPLOS:**\n" +
	"```\n" +
	"!materia crear MAT101 \"Matemáticas\" \"Álgebra básica\" \"Dr. Smith\"\n" +
	"!materia listar detalle\n" +
	"!materia tareas MAT101 pendientes\n" +
	"```"

// HelpTask documents the tarea command.
const HelpTask = "📝 **AYUDA: COMANDOS DE TAREAS**\n\n" +
	"**CREAR TAREA:**\n" +
	"• `!tarea crear \"<título>\" [\"descripción\"] [materia] [prioridad]`\n" +
	"• Título obligatorio entre comillas\n" +
	"• Prioridad: 1=baja, 2=media (por defecto), 3=alta\n" +
	"• Si no especificas materia, se asigna como \"General\"\n\n" +
	"**LISTAR TAREAS:**\n" +
	"• `!tarea listar` - Todas mis tareas\n" +
	"• `!tarea listar pendientes` - Solo pendientes\n" +
	"• `!tarea listar completadas` - Solo completadas\n" +
	"• `!tarea listar vencidas` - Solo vencidas\n" +
	"• `!tarea listar materia <código>` - De una materia específica\n\n" +
	"**GESTIÓN:**\n" +
	"• `!tarea completar <número>` - Marcar como completada\n" +
	"• `!tarea eliminar <número>` - Eliminar tarea\n" +
	"• `!tarea vencimiento <número> <dd/MM/yyyy HH:mm>` - Establecer fecha\n" +
	"• `!tarea prioridad <número> <1-3>` - Cambiar prioridad\n\n" +
	"**SISTEMA DE PUNTOS:**\n" +
	"• Completar tarea: 10 puntos base\n" +
	"• Bonus por prioridad: +5 (baja), +10 (media), +15 (alta)\n" +
	"• Total posible: 15-25 puntos por tarea\n\n" +
	"**EJEMPLOS:**\n" +
	"```\n" +
	"!tarea crear \"Estudiar capítulo 5\" \"Revisar ejemplos\" MAT101 3\n" +
	"!tarea vencimiento 1 25/12/2026 23:59\n" +
	"!tarea completar 1\n" +
	"```"

// HelpPoints documents the points system.
const HelpPoints = "🏆 **AYUDA: SISTEMA DE PUNTOS**\n\n" +
	"**CONSULTAR PUNTOS:**\n" +
	"• `!sistema puntos` - Tus puntos actuales\n" +
	"• `!sistema puntos @usuario` - Puntos de otro usuario\n" +
	"• `!sistema puntos ranking` - Top 10 del servidor\n" +
	"• `!sistema puntos ranking 20` - Top 20 del servidor\n\n" +
	"**FORMAS DE GANAR PUNTOS:**\n" +
	"• ✅ Crear primera materia: +5 puntos\n" +
	"• ✅ Completar tarea prioridad baja: +15 puntos (10+5)\n" +
	"• ✅ Completar tarea prioridad media: +20 puntos (10+10)\n" +
	"• ✅ Completar tarea prioridad alta: +25 puntos (10+15)\n\n" +
	"**NIVELES:**\n" +
	"• El nivel se calcula automáticamente según puntos\n" +
	"• Fórmula: √(puntos/100) + 1\n" +
	"• Cada nivel requiere más puntos que el anterior\n\n" +
	"**EJEMPLOS:**\n" +
	"```\n" +
	"!sistema puntos\n" +
	"!sistema puntos ranking\n" +
	"!sistema puntos @EstudianteEjemplo\n" +
	"```"

// HelpFor returns the specific help of a topic and whether it exists.
func HelpFor(topic string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(topic)) {
	case "materia", "materias":
		return HelpCourse, true
	case "tarea", "tareas":
		return HelpTask, true
	case "puntos":
		return HelpPoints, true
	default:
		return "", false
	}
}

// FormatNoHelp is the reply to an unknown help topic.
func FormatNoHelp(topic string) string {
	return "❌ No hay ayuda específica disponible para: `" + topic + "`\n" +
		"Comandos con ayuda específica: `materia`, `tarea`, `puntos`\n" +
		"Usa `!sistema ayuda` para la ayuda general."
}

// ══════════════════════════════════════════════════════════════════════════════
// WELCOME
// ══════════════════════════════════════════════════════════════════════════════

// WelcomeGeneral greets the channel.
const WelcomeGeneral = "👋 **¡BIENVENIDO AL BOT EDUCATIVO!**\n\n" +
	"🎓 **¿Qué puedes hacer aquí?**\n" +
	"• 📚 Crear y gestionar tus materias académicas\n" +
	"• 📝 Organizar tareas con prioridades y fechas\n" +
	"• 🏆 Ganar puntos completando actividades\n" +
	"• 📊 Competir en el ranking de estudiantes\n\n" +
	"🚀 **Primeros pasos:**\n" +
	"1️⃣ Usa `!sistema ayuda` para ver todos los comandos\n" +
	"2️⃣ Crea tu primera materia: `!materia crear MAT101 \"Matemáticas\"`\n" +
	"3️⃣ Añade tareas: `!tarea crear \"Estudiar capítulo 1\" \"\" MAT101 2`\n" +
	"4️⃣ ¡Completa tareas y gana puntos!\n\n" +
	"💡 **Consejos importantes:**\n" +
	"• Usa comillas para argumentos con espacios\n" +
	"• Las tareas de mayor prioridad dan más puntos\n" +
	"• Establece fechas de vencimiento para organizarte mejor\n\n" +
	"¡Que tengas una excelente experiencia de estudio! 🌟"

// FormatWelcome greets one mentioned user.
func FormatWelcome(mention string) string {
	return "👋 **¡Bienvenido " + mention + "!**\n\n" +
		"🎓 Te damos la bienvenida al **Bot Educativo**, tu asistente para organizar tus estudios.\n\n" +
		"🌟 **Comienza ahora:**\n" +
		"• `!sistema ayuda` - Descubre todos los comandos\n" +
		"• `!materia crear` - Crea tu primera materia\n" +
		"• `!sistema puntos` - Consulta tus puntos\n\n" +
		"💪 ¡Estamos aquí para ayudarte a alcanzar tus metas académicas!"
}

// ══════════════════════════════════════════════════════════════════════════════
// INFO AND STATS
// ══════════════════════════════════════════════════════════════════════════════

// Info is the runtime data of the info view.
type Info struct {
	Uptime  time.Duration
	Backend string
	Tenant  string
}

// FormatInfo renders the info view.
func FormatInfo(in Info) string {
	return "🤖 **INFORMACIÓN DEL BOT EDUCATIVO**\n\n" +
		"📋 **Detalles técnicos:**\n" +
		"• 🏷️ Versión: " + Version + "\n" +
		"• ⚡ Estado: Activo y funcionando\n" +
		"• 🕒 Tiempo activo: " + timeutil.FormatUptime(in.Uptime) + "\n" +
		"• 💾 Sistema de datos: " + in.Backend + "\n" +
		"• 🏫 Aula: " + in.Tenant + "\n\n" +
		"🎯 **Funcionalidades principales:**\n" +
		"• ✅ Gestión completa de materias académicas\n" +
		"• ✅ Sistema de tareas con prioridades y fechas\n" +
		"• ✅ Ranking competitivo de estudiantes\n" +
		"• ✅ Sistema de puntos gamificado\n" +
		"• ✅ Estadísticas detalladas de progreso"
}

// FormatStats renders the stats view. counters maps command names to their
// usage count and may be empty.
func FormatStats(s store.Stats, counters map[string]int64) string {
	top := "Ninguno"
	if s.TopUser != nil {
		top = fmt.Sprintf("%s (%d pts)", s.TopUser.DisplayName, s.TopUser.Score)
	}

	var sb strings.Builder
	sb.WriteString("📊 **ESTADÍSTICAS DEL BOT**\n\n")

	sb.WriteString("👥 **Usuarios:**\n")
	fmt.Fprintf(&sb, "• Total registrados: %d\n", s.Users)
	fmt.Fprintf(&sb, "• Usuarios activos: %d\n", s.ActiveUsers)
	fmt.Fprintf(&sb, "• Promedio puntos/usuario: %d\n\n", s.AveragePoints)

	sb.WriteString("📚 **Materias:**\n")
	fmt.Fprintf(&sb, "• Total creadas: %d\n", s.Courses)
	fmt.Fprintf(&sb, "• Materias activas: %d\n", s.ActiveCourses)
	fmt.Fprintf(&sb, "• Materias archivadas: %d\n\n", s.ArchivedCourses)

	sb.WriteString("📝 **Tareas:**\n")
	fmt.Fprintf(&sb, "• Total creadas: %d\n", s.Tasks)
	fmt.Fprintf(&sb, "• Tareas completadas: %d\n", s.CompletedTasks)
	fmt.Fprintf(&sb, "• Tareas pendientes: %d\n", s.PendingTasks)
	fmt.Fprintf(&sb, "• Tareas vencidas: %d\n", s.OverdueTasks)
	fmt.Fprintf(&sb, "• Tasa de completación: %d%%\n\n", s.CompletionRate)

	sb.WriteString("💎 **Sistema de puntos:**\n")
	fmt.Fprintf(&sb, "• Total puntos en circulación: %d\n", s.TotalPoints)
	fmt.Fprintf(&sb, "• Usuario con más puntos: %s", top)

	if len(counters) > 0 {
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if counters[names[i]] != counters[names[j]] {
				return counters[names[i]] > counters[names[j]]
			}
			return names[i] < names[j]
		})

		sb.WriteString("\n\n📈 **Uso de comandos:**\n")
		for i, name := range names {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "• `%s`: %d", name, counters[name])
		}
	}

	sb.WriteString("\n\n🔄 **Última actualización:** Bot Educativo v" + Version)
	return sb.String()
}
