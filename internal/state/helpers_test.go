package state

import (
	"testing"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	mgr, err := NewManager(t.TempDir(), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}

func nopLogger() *logger.Logger {
	return logger.NewNopLogger()
}
