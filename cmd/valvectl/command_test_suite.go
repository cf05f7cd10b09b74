//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/devicefactory"
	"github.com/srg/valvectl/internal/testutils"
)

const fastConfigYAML = `connection_timeout: 100ms
read_timeout: 50ms
max_connection_attempts: 3
max_read_attempts: 3
max_write_attempts: 3
scan_duration: 300ms
`

// CommandTestSuite runs commands against a simulated valve advertised by a
// fake central. All cmd/valvectl suites embed it.
type CommandTestSuite struct {
	testutils.ValveSuite

	ConfigPath string

	originalCentralFactory func(*logrus.Logger) (device.Central, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.ValveSuite.SetupTest()
	s.Central.Advertise(s.Valve)

	s.ConfigPath = filepath.Join(s.T().TempDir(), "valvectl.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(fastConfigYAML), 0o600))

	s.originalCentralFactory = devicefactory.CentralFactory
	devicefactory.CentralFactory = func(*logrus.Logger) (device.Central, error) {
		return s.Central, nil
	}

	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.CentralFactory = s.originalCentralFactory
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and the test configuration,
// returning stdout and the command error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--config", s.ConfigPath))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
