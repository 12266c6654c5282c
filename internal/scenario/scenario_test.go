package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(`
name: commit flow
seat: seat1
keyboard:
  repeat_rate: 30
steps:
  - op: connect
    client: ime
  - op: get_input_method
    client: ime
    as: im
  - op: commit_string
    target: im
    text: hi
  - op: commit
    target: im
    serial: 0
  - op: expect
    target: im
    want:
      commit: hi
`))
	require.NoError(t, err)

	assert.Equal(t, "commit flow", sc.Name)
	assert.Equal(t, "seat1", sc.Seat)
	require.NotNil(t, sc.Keyboard)
	require.NotNil(t, sc.Keyboard.RepeatRate)
	assert.Equal(t, int32(30), *sc.Keyboard.RepeatRate)
	assert.Nil(t, sc.Keyboard.RepeatDelay)
	require.Len(t, sc.Steps, 5)
	assert.Equal(t, "hi", sc.Steps[2].Text)
	require.NotNil(t, sc.Steps[3].Serial)
	assert.Equal(t, uint32(0), *sc.Steps[3].Serial)
	require.NotNil(t, sc.Steps[4].Want.Commit)
	assert.Equal(t, "hi", *sc.Steps[4].Want.Commit)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "no steps", yaml: "name: empty\n", want: "no steps"},
		{name: "unknown op", yaml: "steps:\n  - op: teleport\n", want: `unknown op "teleport"`},
		{name: "unknown field", yaml: "steps:\n  - op: connect\n    client: a\n    colour: red\n", want: "colour"},
		{name: "missing client", yaml: "steps:\n  - op: connect\n", want: "client is required"},
		{name: "missing target", yaml: "steps:\n  - op: commit_string\n    text: x\n", want: "target is required"},
		{name: "missing as", yaml: "steps:\n  - op: get_input_method\n    client: a\n", want: "as is required"},
		{name: "bad key state", yaml: "steps:\n  - op: key\n    state: bouncing\n", want: "unknown state"},
		{name: "bad cause", yaml: "steps:\n  - op: text_change_cause\n    target: im\n    cause: gremlins\n", want: "unknown cause"},
		{name: "expect without want", yaml: "steps:\n  - op: expect\n    target: im\n", want: "want is required"},
		{name: "not yaml", yaml: "steps: [", want: "invalid scenario"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - op: connect\n    client: a\n"), 0644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, sc.Steps, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario")
}

func TestLoadExamples(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "examples", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := Load(path)
			require.NoError(t, err)
			assert.NotEmpty(t, sc.Name)
		})
	}
}
