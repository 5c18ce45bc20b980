package handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/infrastructure/persistence"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/middleware"
	"github.com/educativo/edubot/internal/interface/chat/presenter"
	"github.com/educativo/edubot/pkg/retry"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock      *timeutil.FixedClock
	gateway    *persistence.Gateway
	hub        *store.Hub
	dispatcher *chat.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gateway, err := persistence.Open(context.Background(), persistence.NewMemoryBackend(), persistence.Config{
		Name:         "memory",
		WriteTimeout: time.Second,
		Retrier:      retry.New(retry.WithMaxAttempts(1)),
	})
	require.NoError(t, err)

	h := &harness{clock: timeutil.NewFixedClock(epoch), gateway: gateway}
	mods := middleware.NewModeratorList("mod")
	h.hub = store.NewHub(store.Config{
		Persister:        gateway,
		Clock:            h.clock,
		IsModerator:      mods.IsModerator,
		PersistTimeout:   time.Second,
		FirstCourseBonus: true,
	})

	deps := Deps{Hub: h.hub, Clock: h.clock, Moderators: mods}
	registry, err := chat.NewRegistry(
		NewCourseCommand(deps),
		NewTaskCommand(deps),
		NewSystemCommand(deps, SystemConfig{
			Penalties: true,
			Backend:   gateway.Backend(),
			StartedAt: epoch,
			Counters:  gateway,
		}),
	)
	require.NoError(t, err)

	cfg := chat.DefaultDispatcherConfig()
	h.dispatcher, err = chat.NewDispatcher(registry, cfg, chat.DispatcherDeps{
		Counters: gateway,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	return h
}

// say sends one message and returns the joined reply.
func (h *harness) say(t *testing.T, actor, text string) string {
	t.Helper()
	out := h.dispatcher.Handle(context.Background(), chat.Inbound{
		GuildID:   "g1",
		ChannelID: "c1",
		ActorID:   actor,
		Text:      text,
	})
	require.Equal(t, chat.StatusOK, out.Status, "message %q", text)
	h.clock.Advance(time.Minute)
	return strings.Join(out.Replies, "")
}

func (h *harness) room() *store.Classroom {
	return h.hub.Classroom(shared.GlobalTenant)
}

// ══════════════════════════════════════════════════════════════════════════════
// END TO END
// ══════════════════════════════════════════════════════════════════════════════

func TestScenario_CreateCompleteAndScore(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	assert.Contains(t, reply, "Materia creada exitosamente")
	assert.Contains(t, reply, "MAT101")

	reply = h.say(t, "B", `!tarea crear "Leer cap 1" "" MAT101 3`)
	assert.Contains(t, reply, "Tarea creada exitosamente")
	assert.Contains(t, reply, "🔴 Alta")

	reply = h.say(t, "B", "!tarea completar 1")
	assert.Contains(t, reply, "+25 puntos")
	assert.Contains(t, reply, "Total de puntos: 25")

	reply = h.say(t, "B", "!sistema puntos")
	assert.Contains(t, reply, "💎 **25 puntos**")
	assert.Contains(t, reply, "Nivel actual: 1")
	assert.Contains(t, reply, "Materia favorita: MAT101")
	assert.Contains(t, reply, "Posición en ranking: #1 de 2")
}

func TestCommand_HelpAndUnknownAction(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, presenter.HelpCourse, h.say(t, "A", "!materia"))
	assert.Equal(t, presenter.HelpTask, h.say(t, "A", "!tarea"))
	assert.Equal(t, presenter.HelpGeneral, h.say(t, "A", "!sistema"))

	reply := h.say(t, "A", "!materia volar")
	assert.Contains(t, reply, "Acción no válida: `volar`")
	assert.Contains(t, reply, "`crear`, `listar`, `eliminar`, `tareas`, `archivar`, `desarchivar`")
}

// ══════════════════════════════════════════════════════════════════════════════
// MATERIA
// ══════════════════════════════════════════════════════════════════════════════

func TestCourse_CreateValidation(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.say(t, "A", "!materia crear MAT101"), "💡 **Uso**")
	assert.Contains(t, h.say(t, "A", `!materia crear General "Nada"`), "reservado")

	first := h.say(t, "A", `!materia crear mat101 "Matemáticas" "Álgebra" "Dra. Ruiz"`)
	assert.Contains(t, first, "primera materia")
	assert.Contains(t, first, "Dra. Ruiz")

	assert.Contains(t, h.say(t, "B", `!materia crear MAT101 "Otra"`), "Ya existe una materia con el código `MAT101`")
}

func TestCourse_ListFilters(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, presenter.NoCourses, h.say(t, "A", "!materia listar"))

	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	h.say(t, "A", `!materia crear FIS101 "Física"`)
	h.say(t, "A", "!materia archivar FIS101")

	active := h.say(t, "A", "!materia listar activas")
	assert.Contains(t, active, "MAT101")
	assert.NotContains(t, active, "FIS101")

	archived := h.say(t, "A", "!materia listar archivadas")
	assert.Contains(t, archived, "FIS101")
	assert.NotContains(t, archived, "MAT101")

	assert.Contains(t, h.say(t, "A", "!materia listar detalle"), "📋 Tareas: 0")
}

func TestCourse_ArchiveOwnership(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)

	assert.Contains(t, h.say(t, "B", "!materia archivar MAT101"), "Solo el creador")
	assert.Contains(t, h.say(t, "A", "!materia desarchivar MAT101"), "no está archivada")
	assert.Contains(t, h.say(t, "A", "!materia archivar MAT101"), "Materia archivada")
	assert.Contains(t, h.say(t, "A", "!materia archivar MAT101"), "ya está archivada")
	assert.Contains(t, h.say(t, "A", "!materia desarchivar MAT101"), "Materia restaurada")
	assert.Contains(t, h.say(t, "A", "!materia archivar QUI101"), "Materia `QUI101` no encontrada")
}

func TestCourse_DeleteGuardsTasks(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	h.say(t, "A", `!tarea crear "Guía 1" "" MAT101`)

	reply := h.say(t, "A", "!materia eliminar MAT101")
	assert.Contains(t, reply, "porque tiene 1 tarea(s)")

	h.say(t, "A", "!tarea eliminar 1")
	assert.Contains(t, h.say(t, "A", "!materia eliminar mat101"), "Materia `MAT101` eliminada")

	_, err := h.room().Course("MAT101")
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

func TestCourse_TasksListing(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)

	assert.Contains(t, h.say(t, "A", "!materia tareas MAT101"), "No hay tareas para esta materia")

	h.say(t, "A", `!tarea crear "Guía 1" "" MAT101 1`)
	h.say(t, "B", `!tarea crear "Guía 2" "" MAT101 3`)

	reply := h.say(t, "A", "!materia tareas MAT101")
	assert.Contains(t, reply, "Materia: Matemáticas")
	assert.Less(t, strings.Index(reply, "Guía 2"), strings.Index(reply, "Guía 1"))
	assert.Contains(t, reply, "• ⏳ **Guía 2**")
	assert.NotContains(t, reply, "`1.`")
}

// ══════════════════════════════════════════════════════════════════════════════
// TAREA
// ══════════════════════════════════════════════════════════════════════════════

func TestTask_CreateValidation(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.say(t, "A", "!tarea crear"), "Debes proporcionar un título")
	assert.Contains(t, h.say(t, "A", `!tarea crear "T" "" General alta`), "La prioridad debe ser un número entre 1 y 3.")
	assert.Contains(t, h.say(t, "A", `!tarea crear "T" "" General 5`), "entre 1 (baja) y 3 (alta)")
	assert.Contains(t, h.say(t, "A", `!tarea crear "T" "" QUI101`), "La materia indicada no existe")

	reply := h.say(t, "A", `!tarea crear "T"`)
	assert.Contains(t, reply, "Materia: General")
	assert.Contains(t, reply, "🟡 Media")
}

func TestTask_ListIsPerCreatorAndOrdered(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, presenter.NoTasks, h.say(t, "A", "!tarea listar"))

	h.say(t, "A", `!tarea crear "Baja" "" General 1`)
	h.say(t, "A", `!tarea crear "Alta" "" General 3`)
	h.say(t, "B", `!tarea crear "Ajena"`)

	reply := h.say(t, "A", "!tarea listar")
	assert.NotContains(t, reply, "Ajena")
	assert.Contains(t, reply, "`1.` ⏳ **Alta**")
	assert.Contains(t, reply, "`2.` ⏳ **Baja**")

	h.say(t, "A", "!tarea completar 2")
	assert.NotContains(t, h.say(t, "A", "!tarea listar pendientes"), "Baja")
	assert.Contains(t, h.say(t, "A", "!tarea listar completadas"), "Baja")
}

func TestTask_FilteredListingKeepsNumbers(t *testing.T) {
	h := newHarness(t)
	h.say(t, "B", `!tarea crear "Alta hecha" "" General 3`)
	h.say(t, "B", `!tarea crear "Baja pendiente" "" General 1`)
	h.say(t, "B", "!tarea completar 1")

	pending := h.say(t, "B", "!tarea listar pendientes")
	assert.Contains(t, pending, "`2.` ⏳ **Baja pendiente**")
	assert.NotContains(t, pending, "`1.`")

	assert.Contains(t, h.say(t, "B", "!tarea eliminar 2"), "Tarea `Baja pendiente` eliminada")

	left := h.room().TasksByCreator("B")
	require.Len(t, left, 1)
	assert.Equal(t, "Alta hecha", left[0].Title)
}

func TestTask_CourseListingUsesFullNumbers(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	h.say(t, "A", `!tarea crear "Suelta" "" General 3`)
	h.say(t, "A", `!tarea crear "Guía" "" MAT101 1`)

	assert.Contains(t, h.say(t, "A", "!tarea listar materia MAT101"), "`2.` ⏳ **Guía**")

	h.say(t, "A", "!tarea eliminar 2")
	left := h.room().TasksByCreator("A")
	require.Len(t, left, 1)
	assert.Equal(t, "Suelta", left[0].Title)
}

func TestTask_ListByCourse(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	h.say(t, "A", `!tarea crear "Guía" "" MAT101`)
	h.say(t, "A", `!tarea crear "Suelta"`)

	reply := h.say(t, "A", "!tarea listar materia mat101")
	assert.Contains(t, reply, "Tareas de MAT101")
	assert.Contains(t, reply, "Guía")
	assert.NotContains(t, reply, "Suelta")

	assert.Contains(t, h.say(t, "A", "!tarea listar materia"), "💡 **Uso**")
}

func TestTask_OrdinalErrors(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!tarea crear "Única"`)

	assert.Contains(t, h.say(t, "A", "!tarea completar"), "Debes especificar el número")
	assert.Contains(t, h.say(t, "A", "!tarea completar uno"), "debe ser un número válido")
	assert.Contains(t, h.say(t, "A", "!tarea completar 2"), "Número de tarea inválido")
	assert.Contains(t, h.say(t, "B", "!tarea completar 1"), "Número de tarea inválido")

	h.say(t, "A", "!tarea completar 1")
	assert.Contains(t, h.say(t, "A", "!tarea completar 1"), "ya está completada")
}

func TestTask_DueDate(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!tarea crear "Informe"`)

	assert.Contains(t, h.say(t, "A", "!tarea vencimiento 1"), "Faltan argumentos")
	assert.Contains(t, h.say(t, "A", "!tarea vencimiento 1 mañana"), "Formato de fecha inválido. Usa: dd/MM/yyyy HH:mm")
	assert.Contains(t, h.say(t, "A", "!tarea vencimiento 1 01/01/2020 10:00"), "no puede ser en el pasado")

	reply := h.say(t, "A", "!tarea vencimiento 1 15/03/2026 18:30")
	assert.Contains(t, reply, "Fecha de vencimiento establecida")

	tasks := h.room().TasksByCreator("A")
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].DueAt)
	assert.Equal(t, 15, tasks[0].DueAt.Day())
}

func TestTask_Priority(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!tarea crear "Informe"`)

	assert.Contains(t, h.say(t, "A", "!tarea prioridad 1 x"), "La prioridad debe ser un número entre 1 y 3.")
	assert.Contains(t, h.say(t, "A", "!tarea prioridad 1 0"), "entre 1 (baja) y 3 (alta)")

	reply := h.say(t, "A", "!tarea prioridad 1 3")
	assert.Contains(t, reply, "Prioridad anterior: 🟡 Media")
	assert.Contains(t, reply, "Nueva prioridad: 🔴 Alta")
}

// ══════════════════════════════════════════════════════════════════════════════
// SISTEMA
// ══════════════════════════════════════════════════════════════════════════════

func TestSystem_HelpTopics(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, presenter.HelpGeneral, h.say(t, "A", "!sistema ayuda"))
	assert.Equal(t, presenter.HelpPoints, h.say(t, "A", "!sistema ayuda puntos"))
	assert.Contains(t, h.say(t, "A", "!sistema ayuda cocina"), "No hay ayuda específica disponible para: `cocina`")
}

func TestSystem_Ranking(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.say(t, "A", "!sistema puntos ranking"), "No hay usuarios")

	h.say(t, "A", `!tarea crear "T1" "" General 3`)
	h.say(t, "B", `!tarea crear "T2" "" General 1`)
	h.say(t, "A", "!tarea completar 1")
	h.say(t, "B", "!tarea completar 1")

	reply := h.say(t, "A", "!sistema puntos ranking")
	assert.Contains(t, reply, "TOP 10")
	assert.Less(t, strings.Index(reply, "🥇"), strings.Index(reply, "🥈"))

	assert.Contains(t, h.say(t, "A", "!sistema puntos ranking 500"), "TOP 50")
	assert.Equal(t, presenter.MsgBadRankingLimit, h.say(t, "A", "!sistema puntos ranking muchos"))
}

func TestSystem_PointsOfMention(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "A", "!sistema puntos <@!99>")
	assert.Contains(t, reply, "Usuario: <@!99>")
	assert.Contains(t, reply, "Sin tareas registradas")

	looked, err := h.room().User("99")
	require.NoError(t, err)
	assert.False(t, looked.IsActive(h.clock.Now()))

	assert.Contains(t, h.say(t, "A", "!sistema puntos fulano"), "💡 **Uso**")
}

func TestSystem_WelcomeAndInfo(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, presenter.WelcomeGeneral, h.say(t, "A", "!sistema bienvenida"))
	assert.Contains(t, h.say(t, "A", "!sistema bienvenida <@7>"), "¡Bienvenido <@7>!")

	info := h.say(t, "A", "!sistema info")
	assert.Contains(t, info, "Versión: "+presenter.Version)
	assert.Contains(t, info, "Sistema de datos: memory")
}

func TestSystem_StatsIncludesCommandCounters(t *testing.T) {
	h := newHarness(t)
	h.say(t, "A", `!materia crear MAT101 "Matemáticas"`)
	h.say(t, "A", "!materia listar")
	h.say(t, "A", `!tarea crear "T"`)

	reply := h.say(t, "A", "!sistema stats")
	assert.Contains(t, reply, "Total creadas: 1")
	assert.Contains(t, reply, "• `materia`: 2")
	assert.Contains(t, reply, "• `tarea`: 1")

	var last string
	ok, err := h.gateway.GetInto(chat.LastActivityPrefix+"A", &last)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, last)
}

func TestSystem_Penalize(t *testing.T) {
	h := newHarness(t)
	h.say(t, "B", `!tarea crear "T" "" General 3`)
	h.say(t, "B", "!tarea completar 1")

	assert.Equal(t, chat.MsgForbidden, h.say(t, "A", "!sistema penalizar <@B> 5"))
	assert.Contains(t, h.say(t, "mod", "!sistema penalizar <@B>"), "Faltan argumentos")
	assert.Contains(t, h.say(t, "mod", "!sistema penalizar <@B> 0"), "mayor que 0")
	assert.Contains(t, h.say(t, "mod", "!sistema penalizar <@nadie> 5"), "Usuario no encontrado")

	reply := h.say(t, "mod", "!sistema penalizar <@B> 40")
	assert.Contains(t, reply, "Penalización aplicada")
	assert.Contains(t, reply, "Puntos actuales: 0")
}

func TestSystem_PenaltiesDisabled(t *testing.T) {
	cmd := NewSystemCommand(Deps{Hub: store.NewHub(store.DefaultConfig())}, SystemConfig{})

	reply, err := cmd.Execute(context.Background(), chat.Request{
		Tenant:  shared.GlobalTenant,
		ActorID: "mod",
		Command: "sistema",
		Args:    []string{"penalizar", "<@B>", "5"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "Acción no válida: `penalizar`")
	assert.NotContains(t, reply, "`penalizar`,")
}

func TestDescribe_FallsBackToKind(t *testing.T) {
	msg, ok := describe(shared.NewDomainError("x", "Op", shared.ErrValidation, "bad"))
	assert.True(t, ok)
	assert.Equal(t, "Datos inválidos.", msg)

	_, ok = describe(assert.AnError)
	assert.False(t, ok)

	reply, err := failure(assert.AnError, "")
	assert.Empty(t, reply)
	assert.ErrorIs(t, err, assert.AnError)
}
