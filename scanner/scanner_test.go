//go:build test

package scanner_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/testutils"
	"github.com/srg/valvectl/internal/valve"
	"github.com/srg/valvectl/scanner"
	suitelib "github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	testutils.ValveSuite

	second *testutils.SimulatedValve
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.ValveSuite.SetupTest()
	suite.second = testutils.NewSimulatedValve("aa:bb:cc:dd:ee:02", suite.Events)
}

func (suite *ScannerTestSuite) newScanner(opts *scanner.ScanOptions) *scanner.Scanner {
	s := scanner.New(suite.Central, suite.Config, suite.Logger, opts)
	suite.T().Cleanup(func() { _ = s.Dispose() })
	return s
}

// collector gathers sessions delivered to a handler.
type collector struct {
	mu       sync.Mutex
	sessions []*valve.Session
}

func (c *collector) handle(session *valve.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, session)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *collector) get(i int) *valve.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func (suite *ScannerTestSuite) waitFor(cond func() bool, msg string) {
	suite.Require().Eventually(cond, suite.TestTimeout, 5*time.Millisecond, msg)
}

func (suite *ScannerTestSuite) TestDiscovery_ConnectsAndEmits() {
	s := suite.newScanner(nil)
	discovered, connected := &collector{}, &collector{}
	s.OnDiscovered(discovered.handle)
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.True(suite.Central.Discover(suite.Valve))

	suite.waitFor(func() bool { return connected.len() == 1 }, "valve MUST be connected")
	suite.Equal(1, discovered.len())
	suite.Same(discovered.get(0), connected.get(0))
	suite.Equal(valve.StateConnected, connected.get(0).State())
	suite.Equal("0011223344556677889900aa", connected.get(0).SerialNumber())

	suite.waitFor(suite.Central.Scanning, "scanning MUST resume after the queue drains")
	suite.Equal([]string{
		"scan:start",
		"scan:stop",
		testutils.DefaultValveAddress + ":connect",
		testutils.DefaultValveAddress + ":read-serial",
		"scan:start",
	}, suite.Events.Events())
}

func (suite *ScannerTestSuite) TestDiscovery_Idempotent() {
	s := suite.newScanner(nil)
	discovered, connected := &collector{}, &collector{}
	s.OnDiscovered(discovered.handle)
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)
	suite.waitFor(func() bool { return connected.len() == 1 }, "valve MUST be connected")
	suite.waitFor(suite.Central.Scanning, "scanning MUST resume")

	suite.True(suite.Central.Discover(suite.Valve))
	suite.True(suite.Central.Discover(testutils.NewSimulatedValve(strings.ToUpper(testutils.DefaultValveAddress), nil)))

	suite.Len(s.Sessions(), 1)
	suite.Equal(1, discovered.len(), "rediscovery MUST NOT emit again")
	suite.Equal(1, suite.Valve.ConnectCount(), "rediscovery MUST NOT queue another connect")
}

func (suite *ScannerTestSuite) TestQueue_SerializesConnects() {
	suite.Valve.SetDelays(testutils.StepConnect, 50*time.Millisecond)
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.True(suite.Central.DiscoverAll(suite.Valve, suite.second))

	suite.waitFor(func() bool { return connected.len() == 2 }, "both valves MUST connect")

	trace := suite.Events.Filter(func(e string) bool {
		return strings.HasSuffix(e, ":connect") || strings.HasSuffix(e, ":read-serial")
	})
	suite.Equal([]string{
		testutils.DefaultValveAddress + ":connect",
		testutils.DefaultValveAddress + ":read-serial",
		"aa:bb:cc:dd:ee:02:connect",
		"aa:bb:cc:dd:ee:02:read-serial",
	}, trace, "second connect MUST NOT start before the first finished")
}

func (suite *ScannerTestSuite) TestQueue_DisconnectsWithoutListeners() {
	s := suite.newScanner(nil)
	discovered := &collector{}
	s.OnDiscovered(discovered.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)

	suite.waitFor(func() bool { return suite.Valve.DisconnectCount() > 0 }, "unobserved valve MUST be disconnected")
	suite.waitFor(func() bool {
		return discovered.get(0).State() == valve.StateDisconnected
	}, "session MUST end disconnected")
}

func (suite *ScannerTestSuite) TestQueue_ConnectFailureIsNotFatal() {
	suite.Valve.WithoutService()
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.True(suite.Central.DiscoverAll(suite.Valve, suite.second))

	suite.waitFor(func() bool { return connected.len() == 1 }, "healthy valve MUST still connect")
	suite.Equal("aa:bb:cc:dd:ee:02", connected.get(0).Address())
	suite.Equal(device.StateDisconnected, suite.Valve.State(), "failed valve MUST be disconnected")
	suite.waitFor(suite.Central.Scanning, "scanning MUST resume after a failure")
}

func (suite *ScannerTestSuite) TestAutoConnectDisabled() {
	suite.Config.AutoConnect = false
	s := suite.newScanner(nil)
	discovered := &collector{}
	s.OnDiscovered(discovered.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)

	suite.Equal(1, discovered.len())
	suite.Never(func() bool { return suite.Valve.ConnectCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	suite.True(suite.Central.Scanning())
}

func (suite *ScannerTestSuite) TestAllowAndBlockLists() {
	suite.Config.AutoConnect = false
	third := testutils.NewSimulatedValve("aa:bb:cc:dd:ee:03", nil)
	s := suite.newScanner(&scanner.ScanOptions{
		AllowList: []string{"AA:BB:CC:DD:EE:01", "aa:bb:cc:dd:ee:03"},
		BlockList: []string{"aa:bb:cc:dd:ee:03"},
	})
	discovered := &collector{}
	s.OnDiscovered(discovered.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.DiscoverAll(suite.Valve, suite.second, third)

	suite.waitFor(func() bool { return discovered.len() >= 1 }, "allowed valve MUST be discovered")
	suite.Len(s.Sessions(), 1)
	suite.Equal(testutils.DefaultValveAddress, s.Sessions()[0].Address())
}

func (suite *ScannerTestSuite) TestStop_PreventsResume() {
	suite.Valve.SetDelays(testutils.StepConnect, 50*time.Millisecond)
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)
	suite.Require().NoError(s.Stop())

	suite.waitFor(func() bool { return connected.len() == 1 }, "queued connect MUST still run")
	suite.Never(suite.Central.Scanning, 100*time.Millisecond, 10*time.Millisecond)
}

func (suite *ScannerTestSuite) TestStart_PropagatesTransportError() {
	suite.Central.FailStart(device.ErrTransportUnsupported)
	s := suite.newScanner(nil)

	suite.ErrorIs(s.Start(context.Background()), device.ErrTransportUnsupported)
}

func (suite *ScannerTestSuite) discoverWhenScanning(p device.Peripheral) {
	go func() {
		for i := 0; i < 200; i++ {
			if suite.Central.Discover(p) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func (suite *ScannerTestSuite) TestScanOnce() {
	s := suite.newScanner(nil)
	suite.discoverWhenScanning(suite.Valve)

	session, err := s.ScanOnce(context.Background())

	suite.Require().NoError(err)
	suite.Equal(testutils.DefaultValveAddress, session.Address())
	suite.Equal(valve.StateDisconnected, session.State())
	suite.False(suite.Central.Scanning(), "scanning MUST stop after the first discovery")
	suite.Zero(suite.Valve.ConnectCount())
}

func (suite *ScannerTestSuite) TestFindOne_Connects() {
	s := suite.newScanner(nil)
	suite.discoverWhenScanning(suite.Valve)

	session, err := s.FindOne(context.Background())

	suite.Require().NoError(err)
	suite.Equal(valve.StateConnected, session.State())
	suite.False(suite.Central.Scanning())
}

func (suite *ScannerTestSuite) TestFindOne_ConnectFailure() {
	suite.Valve.WithoutService()
	s := suite.newScanner(nil)
	suite.discoverWhenScanning(suite.Valve)

	_, err := s.FindOne(context.Background())

	suite.True(device.IsNotFound(err, "service"))
	suite.Equal(device.StateDisconnected, suite.Valve.State())
}

func (suite *ScannerTestSuite) TestFindOne_TrackedValveAfterFailure() {
	suite.Valve.DropResponses(suite.Config.MaxReadAttempts)
	s := suite.newScanner(nil)
	suite.discoverWhenScanning(suite.Valve)

	first, err := s.FindOne(context.Background())
	suite.Require().ErrorIs(err, valve.ErrResponseTimeout)
	suite.Nil(first)
	suite.Len(s.Sessions(), 1, "failed valve MUST stay tracked")

	suite.discoverWhenScanning(suite.Valve)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	session, err := s.FindOne(ctx)

	suite.Require().NoError(err, "tracked valve MUST be found again")
	suite.Equal(valve.StateConnected, session.State())
	suite.Len(s.Sessions(), 1)
	suite.Same(s.Sessions()[0], session)
	suite.False(suite.Central.Scanning())
}

func (suite *ScannerTestSuite) TestScanOnce_ResolvesConnectedSession() {
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)
	suite.waitFor(func() bool { return connected.len() == 1 }, "valve MUST connect")
	suite.Require().NoError(s.Stop())

	suite.discoverWhenScanning(suite.Valve)
	session, err := s.FindOne(context.Background())

	suite.Require().NoError(err)
	suite.Same(connected.get(0), session)
	suite.Equal(1, suite.Valve.ConnectCount(), "connected session MUST NOT be reconnected")
}

func (suite *ScannerTestSuite) TestFindOne_Timeout() {
	s := suite.newScanner(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.FindOne(ctx)

	suite.ErrorIs(err, context.DeadlineExceeded)
	suite.False(suite.Central.Scanning())
}

func (suite *ScannerTestSuite) TestDispose() {
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.DiscoverAll(suite.Valve, suite.second)
	suite.waitFor(func() bool { return connected.len() == 2 }, "both valves MUST connect")

	suite.Require().NoError(s.Dispose())

	suite.False(suite.Central.Scanning())
	suite.Empty(s.Sessions())
	suite.Equal(device.StateDisconnected, suite.Valve.State())
	suite.Equal(device.StateDisconnected, suite.second.State())

	suite.Require().NoError(s.Start(context.Background()))
	suite.rediscover(suite.Valve)
	suite.waitFor(func() bool { return connected.len() == 3 }, "disposed addresses MUST be tracked afresh")
}

// rediscover reports p and fails the test if discovery does not return promptly.
func (suite *ScannerTestSuite) rediscover(p device.Peripheral) {
	done := make(chan bool, 1)
	go func() { done <- suite.Central.Discover(p) }()

	select {
	case ok := <-done:
		suite.Require().True(ok, "central MUST be scanning")
	case <-time.After(time.Second):
		suite.FailNow("discovery MUST NOT block")
	}
}

func (suite *ScannerTestSuite) TestDispose_RepeatedCycles() {
	suite.Config.AutoConnect = false
	s := suite.newScanner(nil)
	discovered := &collector{}
	s.OnDiscovered(discovered.handle)

	for cycle := 1; cycle <= 3; cycle++ {
		suite.Require().NoError(s.Start(context.Background()))
		suite.rediscover(suite.Valve)
		suite.rediscover(suite.second)
		suite.Len(s.Sessions(), 2)

		suite.Require().NoError(s.Dispose())
		suite.Empty(s.Sessions())
		suite.Equal(2*cycle, discovered.len(), "every cycle MUST track the valves afresh")
	}
}

func (suite *ScannerTestSuite) TestDisconnectAll() {
	s := suite.newScanner(nil)
	connected := &collector{}
	s.OnConnected(connected.handle)

	suite.Require().NoError(s.Start(context.Background()))
	suite.Central.Discover(suite.Valve)
	suite.waitFor(func() bool { return connected.len() == 1 }, "valve MUST connect")

	suite.Require().NoError(s.DisconnectAll())

	suite.Equal(valve.StateDisconnected, connected.get(0).State())
	suite.Len(s.Sessions(), 1, "DisconnectAll MUST keep tracked addresses")
	suite.False(suite.Central.Scanning())
}
