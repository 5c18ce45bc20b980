package chat

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ══════════════════════════════════════════════════════════════════════════════
// ARGUMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "tarea listar pendientes", []string{"tarea", "listar", "pendientes"}},
		{"quoted", `materia crear MAT101 "Matemáticas Discretas"`, []string{"materia", "crear", "MAT101", "Matemáticas Discretas"}},
		{"quoted args", `crear MAT101 "Cálculo I" "intro" "Dr. X"`, []string{"crear", "MAT101", "Cálculo I", "intro", "Dr. X"}},
		{"single quoted word", `tarea crear "Leer"`, []string{"tarea", "crear", "Leer"}},
		{"empty quotes", `tarea crear "Leer cap 1" "" MAT101 3`, []string{"tarea", "crear", "Leer cap 1", "", "MAT101", "3"}},
		{"unterminated", `tarea crear "sin cierre final`, []string{"tarea", "crear", "sin cierre final"}},
		{"collapses spaces", `a   "b    c"`, []string{"a", "b c"}},
		{"empty", "   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestParseMention(t *testing.T) {
	assert.Equal(t, "123", ParseMention("<@123>"))
	assert.Equal(t, "123", ParseMention("<@!123>"))
	assert.Equal(t, "juan", ParseMention("juan"))

	assert.True(t, IsMention("<@!123>"))
	assert.False(t, IsMention("<@>"))
	assert.False(t, IsMention("@123"))
}

func TestRequestArg(t *testing.T) {
	req := Request{Args: []string{"crear", "MAT101"}}
	assert.Equal(t, "crear", req.Arg(0))
	assert.Equal(t, "MAT101", req.Arg(1))
	assert.Empty(t, req.Arg(2))
	assert.Empty(t, req.Arg(-1))
}

// ══════════════════════════════════════════════════════════════════════════════
// SPLITTING
// ══════════════════════════════════════════════════════════════════════════════

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, SplitMessage("", 10))
	assert.Equal(t, []string{"hola"}, SplitMessage("hola", 10))

	text := strings.Repeat("ñ", 25)
	chunks := SplitMessage(text, 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Equal(t, 5, utf8.RuneCountInString(chunks[2]))
}

func TestSplitMessage_DefaultLimit(t *testing.T) {
	text := strings.Repeat("a", DefaultMaxMessageLength+1)
	chunks := SplitMessage(text, 0)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], DefaultMaxMessageLength)
}

func TestSplitMessageWords(t *testing.T) {
	chunks := SplitMessageWords("uno dos tres cuatro", 9)
	assert.Equal(t, []string{"uno dos ", "tres ", "cuatro"}, chunks)
	assert.Equal(t, "uno dos tres cuatro", strings.Join(chunks, ""))

	hard := SplitMessageWords("abcdefghij", 4)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, hard)
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

type stubCommand struct {
	name    string
	allow   bool
	reply   string
	err     error
	panics  bool
	lastReq Request
}

func (s *stubCommand) Name() string { return s.name }
func (s *stubCommand) Describe() (string, string) { return "stub", "!" + s.name }
func (s *stubCommand) Authorize(string) bool { return s.allow }

func (s *stubCommand) Execute(_ context.Context, req Request) (string, error) {
	s.lastReq = req
	if s.panics {
		panic("stub exploded")
	}
	return s.reply, s.err
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(&stubCommand{name: "tarea"}, &stubCommand{name: "Materia"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	cmd, ok := r.Lookup("MATERIA")
	require.True(t, ok)
	assert.Equal(t, "Materia", cmd.Name())

	names := make([]string, 0, r.Len())
	for _, c := range r.Commands() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"Materia", "tarea"}, names)

	_, ok = r.Lookup("sistema")
	assert.False(t, ok)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(&stubCommand{name: "a"}, &stubCommand{name: "A"})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry(&stubCommand{name: " "})
	assert.ErrorContains(t, err, "empty name")

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}
