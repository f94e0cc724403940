package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registrationYAML = `
id: user-registration-process
name: User registration
activities:
  - id: init-variables
    kind: script_init
    script: init-registration
    next: create-registration-task
  - id: create-registration-task
    kind: service_call
    endpoint: ${SERVICE_API}/create-user
    method: POST
    payload: [userId, userName, userEmail]
    timeout: 5s
    next: wait
  - id: wait
    kind: receive_message
    message: email_confirmed_message
    correlation_key: userId
    next: choose
  - id: choose
    kind: call_subprocess
    process: chose-next-process
    inputs:
      all: true
    outputs:
      variables:
        - source: nextProcess
        - source: processChosen
    next: end
  - id: end
    kind: end
`

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	definition, err := Load(strings.NewReader(registrationYAML), "registration.yaml")
	require.NoError(t, err)

	assert.Equal(t, "user-registration-process", definition.ID)
	require.Len(t, definition.Activities, 5)

	call := definition.Activities[1]
	assert.Equal(t, models.ActivityKindServiceCall, call.Kind)
	assert.Equal(t, "${SERVICE_API}/create-user", call.Endpoint)
	assert.Equal(t, 5*time.Second, call.Timeout)
	assert.Equal(t, []string{"userId", "userName", "userEmail"}, call.Payload)

	sub := definition.Activities[3]
	require.NotNil(t, sub.Inputs)
	assert.True(t, sub.Inputs.All)
	require.NotNil(t, sub.Outputs)
	assert.Len(t, sub.Outputs.Variables, 2)

	require.NoError(t, Validate(definition))
}

func TestLoad_JSON(t *testing.T) {
	t.Parallel()

	document := `{"id": "p", "activities": [
		{"id": "s", "kind": "script_init", "script": "choose-next-process", "next": "e"},
		{"id": "e", "kind": "end"}
	]}`

	definition, err := Load(strings.NewReader(document), "p.json")
	require.NoError(t, err)
	assert.Equal(t, "choose-next-process", definition.Activities[0].Script)
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		document string
	}{
		{name: "empty", document: ""},
		{name: "missing activities", document: "id: p\n"},
		{name: "unknown kind", document: "id: p\nactivities:\n  - id: a\n    kind: gateway\n"},
		{name: "unknown field", document: "id: p\nactivities:\n  - id: a\n    kind: end\n    color: red\n"},
		{name: "bad timeout", document: "id: p\nactivities:\n  - id: a\n    kind: end\n    timeout: soon\n"},
		{name: "not yaml", document: "id: [p\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(strings.NewReader(tt.document), tt.name+".yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.name+".yaml")
		})
	}
}

func TestLoadFS_SkipsNonDocumentsAndCollectsErrors(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"defs/a.yaml":    {Data: []byte(registrationYAML)},
		"defs/README.md": {Data: []byte("not a definition")},
		"defs/b.yml":     {Data: []byte("id: b\nactivities: []\n")},
	}

	definitions, err := LoadFS(fsys, "defs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defs/b.yml")
	require.Len(t, definitions, 1)
	assert.Equal(t, "user-registration-process", definitions[0].ID)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registration.yaml"), []byte(registrationYAML), 0o600))

	definitions, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, definitions, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
