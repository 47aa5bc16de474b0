package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	l.Info("resolved", "provider", "cloudflare", "attempt", 2, "error", errors.New("boom"), 42)
	m := decode(t, &buf)

	assert.Equal(t, "resolved", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "cloudflare", m["provider"])
	assert.Equal(t, float64(2), m["attempt"])
	assert.Equal(t, "boom", m["error"])
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With("component", "publisher", 7, "ignored")

	l.Warn("slow")
	m := decode(t, &buf)
	assert.Equal(t, "publisher", m["component"])
	assert.Equal(t, "warn", m["level"])
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.log")
	l, err := Init("debug", "json", path)
	require.NoError(t, err)
	l.Debug("hello")
	assert.FileExists(t, path)
}

func TestGlobalIgnoresNil(t *testing.T) {
	prev := Global()
	SetGlobal(nil)
	assert.Same(t, prev, Global())
}
