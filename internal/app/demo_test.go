package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obligo/bondengine/internal/config"
)

// The default configuration needs no external services, so the demo
// lifecycle runs end to end in-process.
func TestDemoModeRunsLifecycle(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	a := New(&cfg, discardLogger())
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "turbo"

	a := New(&cfg, discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
}
