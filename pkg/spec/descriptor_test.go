package spec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petsSpec = `openapi: 3.0.1
info:
  title: Pets
  version: v2
servers:
  - url: https://pets.internal.example.com
paths: {}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pets-v2.yaml", petsSpec)

	desc, err := Extract(path)
	require.NoError(t, err)

	assert.Equal(t, "pets-v2", desc.Identity)
	assert.Equal(t, "pets-v2", desc.APIPath)
	assert.Equal(t, "v2", desc.VersionID)
	assert.Equal(t, "pets-v2-v2", desc.DisplayName)
	assert.Equal(t, "https://pets.internal.example.com", desc.ServiceURL)
	assert.Equal(t, path, desc.SourceLocation)
	assert.Equal(t, []byte(petsSpec), desc.Content)
}

func TestExtractJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "orders.json",
		`{"openapi": "3.0.1", "info": {"title": "Orders", "version": "1.1"}, "paths": {}}`)

	desc, err := Extract(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", desc.Identity)
	assert.Equal(t, "1.1", desc.VersionID)
	assert.Empty(t, desc.ServiceURL)
}

func TestExtractMalformed(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "unparseable", content: "{::not yaml::"},
		{name: "missing version", content: "openapi: 3.0.1\ninfo:\n  title: NoVersion\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".yaml", tt.content)

			_, err := Extract(path)
			require.Error(t, err)

			var malformed *MalformedSpecError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, path, malformed.Path)
		})
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var malformed *MalformedSpecError
	assert.True(t, errors.As(err, &malformed))
}
