package core

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"brewcast/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{Environment: "local", Service: "brewcast-test"}, discardLogger())
	require.NoError(t, err)
	return s
}
