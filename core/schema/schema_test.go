package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestSchema(t *testing.T) *Validator {
	t.Helper()
	v, err := Load("testdata")
	require.NoError(t, err)
	return v
}

func TestLoad_MissingRoot(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_MissingReference(t *testing.T) {
	dir := t.TempDir()
	root := `{"type": "object", "properties": {"a": {"$ref": "missing.json"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(root), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_UnsupportedScheme(t *testing.T) {
	dir := t.TempDir()
	root := `{"type": "object", "properties": {"a": {"$ref": "https://example.org/remote.json"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(root), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

func TestValidate_Valid(t *testing.T) {
	v := loadTestSchema(t)

	doc, err := os.ReadFile("../request/testdata/valid.json")
	require.NoError(t, err)

	result := v.Validate(doc)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Diagnostics)
}

func TestValidate_Invalid(t *testing.T) {
	v := loadTestSchema(t)

	tests := []struct {
		name     string
		doc      string
		location string
	}{
		{name: "not json", doc: `{"pipeline_param": `, location: ""},
		{name: "trailing data", doc: `{} {}`, location: ""},
		{name: "missing globus details", doc: `{"pipeline_param": {"id": "INT_1", "target_genomes": [{"sampleset": "a"}], "nxf_params_file": {"pgs_id": "PGS1", "format": "json", "target_build": "GRCh37"}, "nxf_work": ""}}`, location: ""},
		{name: "bad id in referenced schema", doc: `{"pipeline_param": {"id": "bad", "target_genomes": [{"sampleset": "a"}], "nxf_params_file": {"pgs_id": "PGS1", "format": "json", "target_build": "GRCh37"}, "nxf_work": ""}, "globus_details": {"guest_collection_id": "g", "dir_path_on_guest_collection": "d", "files": []}}`, location: "/pipeline_param/id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate([]byte(tt.doc))
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Diagnostics)

			var locations []string
			for _, d := range result.Diagnostics {
				assert.NotEmpty(t, d.Message)
				locations = append(locations, d.InstanceLocation)
			}
			assert.Contains(t, locations, tt.location)
		})
	}
}
