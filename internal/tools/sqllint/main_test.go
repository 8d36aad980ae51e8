package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLinterFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 0b4c1f0e-3f4a-4d6e-9a51-2c1d0f7e8a10\nSELECT 1`\n\nconst QBad = `SELECT 2`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `--sql 0b4c1f0e-3f4a-4d6e-9a51-2c1d0f7e8a10\nUPDATE t SET x = 1`\n\nconst Label = \"not sql\"\n")

	l := newLinter()
	require.NoError(t, l.lintPath(dir))
	require.Len(t, l.violations, 2)

	byName := map[string]violation{}
	for _, v := range l.violations {
		byName[v.name] = v
	}
	assert.Contains(t, byName["QBad"].message, "missing or invalid")
	assert.Contains(t, byName["QTwo"].message, "already used")

	var out bytes.Buffer
	assert.True(t, l.report(&out))
	assert.Contains(t, out.String(), "QTwo")
}

func TestLinterAcceptsUniqueMarkers(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "ok.go", "package q\n\nconst (\n\tQA = `--sql 11111111-2222-4333-8444-555555555555\nSELECT 1`\n\tQB = `\n--sql 11111111-2222-4333-8444-666666666666\nDELETE FROM t`\n)\n")

	l := newLinter()
	require.NoError(t, l.lintPath(path))
	assert.Empty(t, l.violations)
	assert.False(t, l.report(&bytes.Buffer{}))
}

func TestLinterSkipsTestFilesAndUnderscoreDirs(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "x_test.go", "package q\n\nconst Q = `SELECT 1`\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "_ref"), 0o755))
	writeGo(t, filepath.Join(dir, "_ref"), "r.go", "package r\n\nconst Q = `SELECT 1`\n")

	l := newLinter()
	require.NoError(t, l.lintPath(dir))
	assert.Empty(t, l.violations)
}
