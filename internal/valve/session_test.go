//go:build test

package valve_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/protocol"
	"github.com/srg/valvectl/internal/testutils"
	"github.com/srg/valvectl/internal/valve"
	"github.com/stretchr/testify/suite"
)

type SessionTestSuite struct {
	testutils.ValveSuite
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) newSession() *valve.Session {
	return valve.NewSession(s.Valve, s.Config, s.Logger)
}

func (s *SessionTestSuite) connected() *valve.Session {
	session := s.newSession()
	s.Require().NoError(session.Connect(context.Background()), "Connect MUST succeed")
	s.T().Cleanup(func() { _ = session.Disconnect() })
	return session
}

// ---- connection state machine ----

func (s *SessionTestSuite) TestConnect_CachesSerialAfterWakeUp() {
	session := s.connected()

	s.Equal(valve.StateConnected, session.State())
	s.Equal("0011223344556677889900aa", session.SerialNumber())
	s.Equal(1, s.Valve.WakeUpCount(), "connect MUST wake the valve once")
	s.Equal([]uint16{protocol.FieldSerialNumber.Offset}, s.Valve.ReadOffsets())
	s.False(s.Valve.Notifying(), "notifications MUST be disabled between requests")
	s.Empty(s.Valve.DescriptorWrites(), "descriptor MUST NOT be written without the fix")
}

func (s *SessionTestSuite) TestConnect_RaspberryFixWritesDescriptor() {
	s.Config.RaspberryFix = true
	s.connected()

	s.Eventually(func() bool {
		return len(s.Valve.DescriptorWrites()) == 1
	}, s.TestTimeout, 5*time.Millisecond)
	s.Equal([]byte{0x01, 0x00}, s.Valve.DescriptorWrites()[0])
}

func (s *SessionTestSuite) TestConnect_ServiceDiscoveryTimeoutRestartsFromRadioConnect() {
	s.Valve.SetDelays(testutils.StepDiscoverServices, 3*s.Config.ConnectionTimeout)

	session := s.connected()

	s.Equal(valve.StateConnected, session.State())
	s.Equal(2, s.Valve.ConnectCount(), "timeout MUST restart with a fresh radio connect")
	s.GreaterOrEqual(s.Valve.DisconnectCount(), 1, "stale link MUST be dropped before retrying")
}

func (s *SessionTestSuite) TestConnect_DescriptorDiscoveryTimeoutRestarts() {
	s.Valve.SetDelays(testutils.StepDiscoverDescriptors, 3*s.Config.ConnectionTimeout)

	s.connected()

	s.Equal(2, s.Valve.ConnectCount())
}

func (s *SessionTestSuite) TestConnect_AttemptsExceeded() {
	slow := 3 * s.Config.ConnectionTimeout
	s.Valve.SetDelays(testutils.StepConnect, slow, slow, slow, slow)

	session := s.newSession()
	err := session.Connect(context.Background())

	s.Require().ErrorIs(err, valve.ErrConnectionAttemptsExceeded)
	s.Equal(s.Config.MaxConnectionAttempts, s.Valve.ConnectCount())
	s.Equal(valve.StateDisconnected, session.State())
}

func (s *SessionTestSuite) TestConnect_MissingServiceIsNotRetried() {
	s.Valve.WithoutService()

	err := s.newSession().Connect(context.Background())

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "service"), "MUST report the missing service, got %v", err)
	s.Equal(1, s.Valve.ConnectCount(), "structural failures MUST NOT be retried")
	s.Equal(device.StateDisconnected, s.Valve.State())
}

func (s *SessionTestSuite) TestConnect_MissingCharacteristicIsNotRetried() {
	s.Valve.WithoutCharacteristic(device.ValveNotifyUUID)

	err := s.newSession().Connect(context.Background())

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "characteristic"))
	s.Contains(err.Error(), `"fff2"`)
	s.Equal(1, s.Valve.ConnectCount())
}

func (s *SessionTestSuite) TestConnect_PostConnectFailurePropagates() {
	s.Valve.DropResponses(100)

	session := s.newSession()
	err := session.Connect(context.Background())

	s.ErrorIs(err, valve.ErrResponseTimeout)
	s.Equal(valve.StateDisconnected, session.State())
}

func (s *SessionTestSuite) TestReconnect() {
	session := s.connected()
	s.Require().NoError(session.Disconnect())
	s.Equal(valve.StateDisconnected, session.State())

	s.Require().NoError(session.Connect(context.Background()))
	s.Equal(valve.StateConnected, session.State())
	s.Equal(2, s.Valve.WakeUpCount(), "a new link MUST be woken again")
}

func (s *SessionTestSuite) TestRequestsRequireConnection() {
	session := s.newSession()

	_, err := session.GetBatteryVoltage(context.Background())
	s.ErrorIs(err, device.ErrNotConnected)

	s.Require().NoError(session.Connect(context.Background()))
	s.Require().NoError(session.Disconnect())

	_, err = session.GetBatteryVoltage(context.Background())
	s.ErrorIs(err, device.ErrNotConnected)
}

// ---- accessors ----

func (s *SessionTestSuite) TestAccessors_Read() {
	session := s.connected()
	ctx := context.Background()

	locked, err := session.GetLocked(ctx)
	s.Require().NoError(err)
	s.False(locked)

	mode, err := session.GetMode(ctx)
	s.Require().NoError(err)
	s.Equal(0, mode)

	floats := []struct {
		name string
		get  func(context.Context) (float64, error)
		want float64
	}{
		{"battery voltage", session.GetBatteryVoltage, 3.0},
		{"current temperature", session.GetCurrentTemperature, 21.5},
		{"temperature deviation", session.GetTemperatureDeviation, 0.5},
		{"target temperature", session.GetTargetTemperature, 21.5},
	}
	for _, f := range floats {
		v, err := f.get(ctx)
		s.Require().NoError(err, f.name)
		s.InDelta(f.want, v, 1e-9, f.name)
	}

	saving, err := session.GetTargetTemperatureFor(ctx, valve.PresetSaving)
	s.Require().NoError(err)
	s.InDelta(17.0, saving, 1e-9)

	manual, err := session.GetTargetTemperatureFor(ctx, valve.PresetManual)
	s.Require().NoError(err)
	s.InDelta(22.0, manual, 1e-9)

	name, err := session.GetName(ctx)
	s.Require().NoError(err)
	s.Equal("Living Room", name, "NUL padding MUST be trimmed")

	serial, err := session.GetSerialNumber(ctx)
	s.Require().NoError(err)
	s.Equal("0011223344556677889900aa", serial)
	s.Len(s.Valve.ReadOffsets(), 10, "serial number MUST come from the connect-time cache")
}

func (s *SessionTestSuite) TestAccessors_BatteryVoltageBounds() {
	s.Valve.SetMemory(int(protocol.FieldBatteryVoltage.Offset), []byte{0x1E})
	session := s.connected()

	v, err := session.GetBatteryVoltage(context.Background())
	s.Require().NoError(err)
	s.InDelta(2.0, v, 1e-9)
}

func (s *SessionTestSuite) TestAccessors_Write() {
	session := s.connected()
	ctx := context.Background()

	s.Require().NoError(session.SetLocked(ctx, true))
	s.Require().NoError(session.SetMode(ctx, 2))
	s.Require().NoError(session.SetTargetTemperature(ctx, 23.5))
	s.Require().NoError(session.SetTargetTemperatureFor(ctx, valve.PresetSaving, 16))
	s.Require().NoError(session.SetName(ctx, "Kitchen"))

	mem := s.Valve.Memory()
	s.Equal(byte(1), mem[protocol.FieldLocked.Offset])
	s.Equal(byte(2), mem[protocol.FieldMode.Offset])
	s.Equal(byte(0x2F), mem[protocol.FieldTargetTemperature.Offset])
	s.Equal(byte(0x20), mem[protocol.FieldTargetTemperatureSaving.Offset])

	name, err := session.GetName(ctx)
	s.Require().NoError(err)
	s.Equal("Kitchen", name, "shorter names MUST overwrite the whole field")

	locked, err := session.GetLocked(ctx)
	s.Require().NoError(err)
	s.True(locked)
}

func (s *SessionTestSuite) TestSetName_RejectsLongNamesBeforeIO() {
	session := s.connected()
	before := len(s.Valve.Requests())

	err := session.SetName(context.Background(), strings.Repeat("x", valve.MaxNameLength+1))
	s.ErrorIs(err, valve.ErrNameTooLong)

	var overflow *protocol.OverflowError
	err = session.SetName(context.Background(), strings.Repeat("é", 40))
	s.Require().ErrorAs(err, &overflow, "multi-byte names over the field length MUST overflow")
	s.Equal(80, overflow.Length)

	s.Len(s.Valve.Requests(), before, "rejected names MUST NOT reach the valve")
}

func (s *SessionTestSuite) TestWriteField_ReadOnlyEncodingFailsBeforeIO() {
	session := s.connected()
	before := len(s.Valve.Requests())

	err := session.WriteField(context.Background(), protocol.FieldBatteryVoltage, 3.1)

	var unsupported *protocol.UnsupportedEncodingError
	s.Require().ErrorAs(err, &unsupported)
	s.Equal(protocol.EncodingBatteryVoltage, unsupported.Encoding)
	s.Len(s.Valve.Requests(), before)
}

// ---- correlator ----

func (s *SessionTestSuite) TestCorrelator_ReassemblesFragments() {
	s.Valve.SetFragmentSize(3)
	session := s.connected()

	snapshot, err := session.ReadStateSnapshot(context.Background())

	s.Require().NoError(err)
	s.Equal(s.Valve.Memory(), snapshot)
}

func (s *SessionTestSuite) TestCorrelator_RetriesSameFrameAfterTimeout() {
	session := s.connected()
	s.Valve.DropResponses(1)
	before := len(s.Valve.Requests())

	v, err := session.GetCurrentTemperature(context.Background())

	s.Require().NoError(err)
	s.InDelta(21.5, v, 1e-9)
	sent := s.Valve.Requests()[before:]
	s.Require().Len(sent, 2)
	s.Equal(sent[0], sent[1], "retry MUST resend the identical frame")
}

func (s *SessionTestSuite) TestCorrelator_GivesUpAfterMaxReadAttempts() {
	session := s.connected()
	s.Valve.DropResponses(100)
	before := len(s.Valve.Requests())

	started := time.Now()
	_, err := session.GetCurrentTemperature(context.Background())

	s.Require().ErrorIs(err, valve.ErrResponseTimeout)
	s.Len(s.Valve.Requests()[before:], s.Config.MaxReadAttempts)
	s.GreaterOrEqual(time.Since(started), time.Duration(s.Config.MaxReadAttempts)*s.Config.ReadTimeout)
	s.False(s.Valve.Notifying())
}

func (s *SessionTestSuite) TestCorrelator_SlowWriteCountsAgainstReadTimeout() {
	s.Config.ReadTimeout = 100 * time.Millisecond
	session := s.connected()
	slow := 90 * time.Millisecond
	s.Valve.SetDelays(testutils.StepWrite, slow, slow, slow)
	s.Valve.DropResponses(100)

	started := time.Now()
	_, err := session.GetCurrentTemperature(context.Background())
	elapsed := time.Since(started)

	s.Require().ErrorIs(err, valve.ErrResponseTimeout)
	attempts := time.Duration(s.Config.MaxReadAttempts)
	s.GreaterOrEqual(elapsed, attempts*s.Config.ReadTimeout)
	s.Less(elapsed, attempts*(s.Config.ReadTimeout+slow/2), "each attempt MUST be bounded by a single ReadTimeout")
}

func (s *SessionTestSuite) TestCorrelator_SerializesConcurrentCallers() {
	session := s.connected()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, err := session.GetCurrentTemperature(ctx)
			if err == nil && math.Abs(v-21.5) > 1e-9 {
				err = fmt.Errorf("unexpected temperature %v", v)
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := session.GetName(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
}

func (s *SessionTestSuite) TestCorrelator_CallerCancellation() {
	session := s.connected()
	s.Valve.DropResponses(100)

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.ReadTimeout/2)
	defer cancel()

	_, err := session.GetLocked(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *SessionTestSuite) TestCorrelator_VerifiesChecksumWhenEnabled() {
	s.Config.VerifyChecksum = true
	session := s.connected()

	v, err := session.GetTargetTemperature(context.Background())
	s.Require().NoError(err)
	s.InDelta(21.5, v, 1e-9)
}

// ---- write atomicity ----

func (s *SessionTestSuite) TestWriteField_RetriesWholeSequence() {
	session := s.connected()
	s.Valve.RejectWriteAt(200, 1)

	name := strings.Repeat("n", valve.MaxNameLength)
	s.Require().NoError(session.SetName(context.Background(), name))

	s.Equal([]uint16{
		176, 188, 200, // rejected at 200
		176, 188, 200, 212, 224, 236,
	}, s.Valve.WriteOffsets())

	got, err := session.GetName(context.Background())
	s.Require().NoError(err)
	s.Equal(name, got)
}

func (s *SessionTestSuite) TestWriteField_AttemptsExceeded() {
	session := s.connected()
	s.Valve.RejectWrites(100)

	err := session.SetTargetTemperature(context.Background(), 19)

	s.Require().ErrorIs(err, valve.ErrWriteAttemptsExceeded)
	s.Len(s.Valve.WriteOffsets(), s.Config.MaxWriteAttempts)
	s.Equal(byte(0x2B), s.Valve.Memory()[protocol.FieldTargetTemperature.Offset], "rejected writes MUST NOT apply")
}

// ---- wake-up throttling ----

func (s *SessionTestSuite) TestWakeUp_Throttled() {
	session := s.connected()
	now := time.Now()
	session.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := session.GetLocked(ctx)
	s.Require().NoError(err)
	_, err = session.GetBatteryVoltage(ctx)
	s.Require().NoError(err)
	s.Equal(1, s.Valve.WakeUpCount(), "reads within the interval MUST NOT wake the valve again")

	now = now.Add(s.Config.WakeUpInterval + time.Millisecond)
	_, err = session.GetLocked(ctx)
	s.Require().NoError(err)
	s.Equal(2, s.Valve.WakeUpCount())
}

func (s *SessionTestSuite) TestWakeUp_ZeroIntervalAlwaysWakes() {
	s.Config.WakeUpInterval = 0
	session := s.connected()

	for i := 0; i < 3; i++ {
		_, err := session.GetLocked(context.Background())
		s.Require().NoError(err)
	}
	s.Equal(4, s.Valve.WakeUpCount())
}

// ---- snapshot ----

func (s *SessionTestSuite) TestReadStateSnapshot() {
	session := s.connected()

	snapshot, err := session.ReadStateSnapshot(context.Background())
	s.Require().NoError(err)
	s.Len(snapshot, protocol.StateLength)
	s.Equal([]uint16{154, 0, 48, 96, 144, 192}, s.Valve.ReadOffsets())

	decoded, err := valve.DecodeSnapshot(snapshot)
	s.Require().NoError(err)

	var names []string
	for pair := decoded.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	s.Equal([]string{
		"locked", "mode", "battery-voltage", "current-temperature", "temperature-deviation",
		"target-temperature", "target-temperature-saving", "target-temperature-auto",
		"target-temperature-manual", "serial-number", "name",
	}, names)

	name, _ := decoded.Get("name")
	s.Equal("Living Room", name)
	temp, _ := decoded.Get("current-temperature")
	s.InDelta(21.5, temp, 1e-9)
}
