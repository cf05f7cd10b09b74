package valve

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/protocol"
)

// sendRequest writes frame and waits for a CR LF terminated response on the
// notify characteristic. A missing response is retried with the same frame up
// to MaxReadAttempts times; any other failure is returned as is.
func (s *Session) sendRequest(ctx context.Context, frame []byte) ([]byte, error) {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	writeChar, notifyChar, err := s.characteristics()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.MaxReadAttempts; attempt++ {
		resp, err := s.exchange(ctx, writeChar, notifyChar, frame)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, device.ErrTimeout) {
			return nil, err
		}
		s.logger.WithFields(s.fields()).WithFields(logrus.Fields{
			"attempt": attempt,
			"timeout": s.cfg.ReadTimeout,
		}).Warn("Timed out reading response")
	}

	return nil, &AttemptsExceededError{Operation: OperationRead, Address: s.Address(), Attempts: s.cfg.MaxReadAttempts}
}

// exchange performs a single request/response round trip.
func (s *Session) exchange(ctx context.Context, writeChar, notifyChar device.Characteristic, frame []byte) ([]byte, error) {
	var (
		mu       sync.Mutex
		buf      []byte
		complete bool
	)
	responses := make(chan []byte, 1)

	remove := notifyChar.OnData(func(data []byte) {
		s.logger.WithFields(s.fields()).WithField("data", hex.EncodeToString(data)).
			Tracef("[%s -> Host]", s.Address())

		mu.Lock()
		defer mu.Unlock()
		if complete {
			return
		}
		buf = append(buf, data...)
		if protocol.HasTerminator(buf) {
			complete = true
			responses <- buf
		}
	})
	defer func() {
		remove()
		if err := notifyChar.SetNotify(false); err != nil {
			s.logger.WithFields(s.fields()).WithField("error", err).Debug("Failed to disable notifications")
		}
	}()

	if err := notifyChar.SetNotify(true); err != nil {
		return nil, fmt.Errorf("enable notifications on %s: %w", s.Address(), err)
	}

	s.logger.WithFields(s.fields()).WithField("data", hex.EncodeToString(frame)).
		Tracef("[Host -> %s]", s.Address())

	// The write and the wait for its response share one ReadTimeout.
	deadline := time.Now().Add(s.cfg.ReadTimeout)
	err := withTimeoutErr(ctx, s.cfg.ReadTimeout, "valve-write", func(ctx context.Context) error {
		return writeChar.Write(ctx, frame, true)
	})
	if err != nil {
		if errors.Is(err, device.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("write request to %s: %w", s.Address(), err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case resp := <-responses:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response: %w after %s", device.ErrTimeout, s.cfg.ReadTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
