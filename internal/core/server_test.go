package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notemeter/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server: config.ServerConfig{
			RequestTimeout:     time.Second,
			CorsAllowedOrigins: []string{"*"},
			EnableCompression:  true,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), testLogger())
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, testLogger())
	assert.Error(t, err)

	_, err = NewServer(testConfig(), nil)
	assert.Error(t, err)

	srv, err := NewServer(testConfig(), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, srv.Validator)
	assert.NotNil(t, srv.Handler())
}

func TestShutdown_RunsHooksInReverse(t *testing.T) {
	srv := newTestServer(t)
	var order []string
	srv.OnShutdown(func(context.Context) error { order = append(order, "pool"); return nil })
	srv.OnShutdown(func(context.Context) error { order = append(order, "sink"); return nil })

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, []string{"sink", "pool"}, order)
}

func TestShutdown_JoinsErrors(t *testing.T) {
	srv := newTestServer(t)
	ran := false
	srv.OnShutdown(func(context.Context) error { ran = true; return nil })
	srv.OnShutdown(func(context.Context) error { return errors.New("flush failed") })

	err := srv.Shutdown(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.True(t, ran, "later hooks still run after a failure")
}
