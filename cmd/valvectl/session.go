package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/valvectl/internal/devicefactory"
	"github.com/srg/valvectl/internal/valve"
	"github.com/srg/valvectl/pkg/config"
	"github.com/srg/valvectl/scanner"
)

// commandContext returns the command's context cancelled on Ctrl+C or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// commandEnv holds what every valve command needs.
type commandEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newCommandEnv(cmd *cobra.Command) (*commandEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger}, nil
}

func (e *commandEnv) newScanner(opts *scanner.ScanOptions) (*scanner.Scanner, error) {
	central, err := devicefactory.NewCentral(e.logger)
	if err != nil {
		return nil, err
	}
	return scanner.New(central, e.cfg, e.logger, opts), nil
}

// withValve finds a valve, connects to it, runs fn and disconnects. The
// --address flag narrows the scan to one valve.
func withValve(cmd *cobra.Command, fn func(ctx context.Context, session *valve.Session) error) error {
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	address, _ := cmd.Flags().GetString("address")
	opts := &scanner.ScanOptions{}
	if address != "" {
		opts.AllowList = []string{address}
	}

	s, err := env.newScanner(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Dispose(); err != nil {
			env.logger.WithField("error", err).Warn("Failed to release valves")
		}
	}()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	scanCtx, scanCancel := context.WithTimeout(ctx, env.cfg.ScanDuration)
	session, err := s.ScanOnce(scanCtx)
	scanCancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			if address != "" {
				return fmt.Errorf("%w: %s did not advertise within %s", ErrNoValveFound, address, env.cfg.ScanDuration)
			}
			return fmt.Errorf("%w within %s", ErrNoValveFound, env.cfg.ScanDuration)
		}
		return err
	}

	env.logger.WithField("address", session.Address()).Info("Connecting to valve...")
	if err := session.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, session)
}
