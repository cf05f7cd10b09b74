//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/pkg/config"
	"github.com/stretchr/testify/suite"
)

// ValveSuite provides a simulated valve, a fake central and a fast
// configuration, rebuilt before every test.
//
// Basic usage:
//
//	type SessionSuite struct {
//	    testutils.ValveSuite
//	}
//
//	func (s *SessionSuite) TestSomething() {
//	    s.Valve.DropResponses(1)
//	    // ...
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
type ValveSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Config  *config.Config
	Events  *EventLog
	Valve   *SimulatedValve
	Central *FakeCentral

	// TestTimeout bounds Eventually-style waits.
	TestTimeout time.Duration
}

const DefaultValveAddress = "aa:bb:cc:dd:ee:01"

func (s *ValveSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

func (s *ValveSuite) SetupTest() {
	s.Config = FastConfig()
	s.Events = NewEventLog()
	s.Valve = NewSimulatedValve(DefaultValveAddress, s.Events)
	s.Central = NewFakeCentral(s.Events)
}
