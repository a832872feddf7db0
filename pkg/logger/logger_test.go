package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewJSONWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithWriter(&buf, "debug", "json")
	require.NoError(t, err)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	l.Info().Str("component", "pool").Msg("ready")
	require.Contains(t, buf.String(), `"component":"pool"`)
	require.Contains(t, buf.String(), `"message":"ready"`)
}

func TestNewRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer
	_, err := newWithWriter(&buf, "loud", "json")
	require.Error(t, err)

	_, err = newWithWriter(&buf, "info", "xml")
	require.Error(t, err)
}
