package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/pkg/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FastConfig returns the default configuration with timeouts shortened so
// retry paths complete within milliseconds.
func FastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ConnectionTimeout = 100 * time.Millisecond
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.MaxConnectionAttempts = 3
	cfg.MaxReadAttempts = 3
	cfg.MaxWriteAttempts = 3
	return cfg
}
