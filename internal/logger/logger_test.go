package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := WithComponent("billing")
	l.Info().Str("invoice_id", "inv1").Msg("finalized")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "billing", line["component"])
	assert.Equal(t, "inv1", line["invoice_id"])
	assert.Equal(t, "finalized", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Setup(Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
}

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	closer, err := Setup(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = closer.Close()
		SetOutput(&bytes.Buffer{})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Ctx(context.Background()).Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")

	var scoped bytes.Buffer
	l := zerolog.New(&scoped)
	ctx := l.WithContext(context.Background())
	Ctx(ctx).Info().Msg("scoped")
	assert.Contains(t, scoped.String(), "scoped")
}
