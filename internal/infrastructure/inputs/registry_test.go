package inputs

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct{ name string }

func (f stubFactory) Name() string { return f.name }

func (f stubFactory) ConfigSpec() TypeInfo {
	return TypeInfo{Type: f.name, Fields: []ConfigField{{Name: "name", Required: true}, {Name: "opt"}}}
}

func (f stubFactory) Create(Config, Buffer, zerolog.Logger) (MessageInput, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{"zeta"})
	r.Register(stubFactory{"alpha"})

	assert.Equal(t, []string{"alpha", "zeta"}, r.ListRegistered())
	all := r.AllTypesInfo()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Type)

	_, ok := r.GetTypeInfo("missing")
	assert.False(t, ok)

	_, err := r.Create(Spec{Type: "missing", Name: "x"}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown source type")

	_, err = r.Create(Spec{Type: "alpha", Config: Config{"name": "  "}}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, `empty "name"`)

	_, err = r.Create(Spec{Type: "alpha", Name: "ok"}, nil, zerolog.Nop())
	assert.NoError(t, err)
}

func TestSpecConfigWithName(t *testing.T) {
	base := Config{"path": "/tmp/x.csv"}
	cfg := Spec{Name: "file", Config: base}.ConfigWithName()
	assert.Equal(t, "file", cfg.String("name"))
	assert.Equal(t, "/tmp/x.csv", cfg.String("path"))
	_, mutated := base["name"]
	assert.False(t, mutated)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFor("text/csv; charset=utf-8"))
	assert.Equal(t, FormatCSV, FormatFor("requests.CSV"))
	assert.Equal(t, FormatJSON, FormatFor("application/x-ndjson"))
	assert.Equal(t, FormatJSON, FormatFor(""))
}
