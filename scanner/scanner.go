// Package scanner turns the discovery stream of a BLE central into valve
// sessions and a serialized sequence of connection attempts.
package scanner

import (
	"context"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/groutine"
	"github.com/srg/valvectl/internal/valve"
	"github.com/srg/valvectl/pkg/config"
)

// Handler receives a session on a lifecycle event.
type Handler func(session *valve.Session)

// ScanOptions configures which peripherals are tracked
type ScanOptions struct {
	AllowList []string
	BlockList []string
}

type handlerEntry struct {
	id int
	fn Handler
}

// Scanner discovers valves and connects them one at a time.
//
// Scanning and connecting never overlap: the radio is stopped before every
// connect attempt and resumed once the queue drains, if Start was called.
type Scanner struct {
	central device.Central
	cfg     config.Config
	logger  *logrus.Logger
	opts    ScanOptions

	handlersMu   sync.RWMutex
	nextHandler  int
	onDiscovered []handlerEntry
	onConnected  []handlerEntry
	// onSeen fires for every accepted advertisement, tracked or new.
	onSeen       []handlerEntry

	// radioMu serializes central calls and guards scanning. It is taken
	// before mu, never after.
	radioMu  sync.Mutex
	scanning bool

	mu         sync.Mutex
	sessions   *hashmap.Map[string, *valve.Session]
	wantScan   bool
	queue      []*valve.Session
	connecting bool
	scanCtx    context.Context
	workers    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scanner over central. A nil cfg uses config.DefaultConfig,
// nil opts tracks every valve, and a nil logger falls back to logrus.New.
func New(central device.Central, cfg *config.Config, logger *logrus.Logger, opts *ScanOptions) *Scanner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &ScanOptions{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		central:  central,
		cfg:      *cfg,
		logger:   logger,
		opts:     *opts,
		sessions: hashmap.New[string, *valve.Session](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnDiscovered registers a handler for newly tracked valves and returns a
// function removing it. Handlers run on the central's discovery goroutine.
func (s *Scanner) OnDiscovered(fn Handler) (remove func()) {
	return s.addHandler(&s.onDiscovered, fn)
}

// OnConnected registers a handler for valves connected by the queue. When a
// valve connects with no handler registered it is disconnected right away.
func (s *Scanner) OnConnected(fn Handler) (remove func()) {
	return s.addHandler(&s.onConnected, fn)
}

func (s *Scanner) addHandler(list *[]handlerEntry, fn Handler) func() {
	s.handlersMu.Lock()
	id := s.nextHandler
	s.nextHandler++
	*list = append(*list, handlerEntry{id: id, fn: fn})
	s.handlersMu.Unlock()

	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		for i, h := range *list {
			if h.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// emit calls every handler of list and reports whether there was any.
func (s *Scanner) emit(list *[]handlerEntry, session *valve.Session) bool {
	s.handlersMu.RLock()
	handlers := append([]handlerEntry(nil), *list...)
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		h.fn(session)
	}
	return len(handlers) > 0
}

// Start begins continuous scanning. With AutoConnect set, each new valve is
// queued for connection.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	s.wantScan = true
	s.scanCtx = ctx
	s.mu.Unlock()

	s.logger.Info("Starting valve scan...")
	return s.startRadio(ctx)
}

// Stop halts scanning. Queued connections still run; scanning does not resume after them.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	s.wantScan = false
	s.mu.Unlock()

	return s.stopRadio()
}

func (s *Scanner) startRadio(ctx context.Context) error {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()

	if s.scanning {
		return nil
	}
	if err := s.central.StartScanning(ctx, s.handleDiscovery); err != nil {
		return err
	}
	s.scanning = true
	return nil
}

func (s *Scanner) stopRadio() error {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()

	if !s.scanning {
		return nil
	}
	s.scanning = false
	return s.central.StopScanning()
}

// resumeRadio restarts scanning if Start is still in effect.
func (s *Scanner) resumeRadio() {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()

	s.mu.Lock()
	want, ctx := s.wantScan, s.scanCtx
	s.mu.Unlock()

	if !want || s.scanning || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.central.StartScanning(ctx, s.handleDiscovery); err != nil {
		s.logger.WithField("error", err).Error("Failed to resume scanning")
		return
	}
	s.scanning = true
	s.logger.Debug("Scanning resumed")
}

// trackedSessions returns the current address to session map. Dispose
// replaces it rather than deleting entries.
func (s *Scanner) trackedSessions() *hashmap.Map[string, *valve.Session] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Scanner) handleDiscovery(p device.Peripheral) {
	address := device.NormalizeAddress(p.Address())
	if !s.shouldIncludeDevice(address) {
		return
	}

	sessions := s.trackedSessions()
	if session, ok := sessions.Get(address); ok {
		s.emit(&s.onSeen, session)
		return
	}
	session, loaded := sessions.GetOrInsert(address, valve.NewSession(p, &s.cfg, s.logger))
	if loaded {
		s.emit(&s.onSeen, session)
		return
	}

	s.logger.WithField("address", p.Address()).Info("Discovered valve")
	s.emit(&s.onDiscovered, session)
	s.emit(&s.onSeen, session)

	s.mu.Lock()
	queue := s.cfg.AutoConnect && s.wantScan
	s.mu.Unlock()
	if queue {
		s.enqueue(session)
	}
}

// shouldIncludeDevice applies the allow and block lists
func (s *Scanner) shouldIncludeDevice(address string) bool {
	for _, blocked := range s.opts.BlockList {
		if device.NormalizeAddress(blocked) == address {
			return false
		}
	}

	if len(s.opts.AllowList) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowList {
		if device.NormalizeAddress(allowed) == address {
			return true
		}
	}
	return false
}

func (s *Scanner) enqueue(session *valve.Session) {
	s.mu.Lock()
	s.queue = append(s.queue, session)
	if s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.workers.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	groutine.Go(ctx, "valve-connect-queue", s.processQueue)
}

// processQueue connects queued sessions one by one, then resumes scanning.
func (s *Scanner) processQueue(ctx context.Context) {
	defer s.workers.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || ctx.Err() != nil {
			s.queue = nil
			s.connecting = false
			s.mu.Unlock()
			s.resumeRadio()
			return
		}
		session := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.stopRadio(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop scanning before connect")
		}
		s.connect(ctx, session)
	}
}

func (s *Scanner) connect(ctx context.Context, session *valve.Session) {
	logger := s.logger.WithField("address", session.Address())

	if err := session.Connect(ctx); err != nil {
		logger.WithField("error", err).Error("Failed to connect valve")
		if derr := session.Disconnect(); derr != nil {
			logger.WithField("error", derr).Debug("Disconnect after failed connect failed")
		}
		return
	}

	if !s.emit(&s.onConnected, session) {
		logger.Debug("Disconnecting valve because there are no listeners")
		if err := session.Disconnect(); err != nil {
			logger.WithField("error", err).Warn("Failed to disconnect valve")
		}
	}
}

// ScanOnce scans until the first accepted valve advertises, stops scanning
// and returns its session. An address that is already tracked resolves to
// its existing session, in whatever state it is.
func (s *Scanner) ScanOnce(ctx context.Context) (*valve.Session, error) {
	found := make(chan *valve.Session, 1)
	remove := s.addHandler(&s.onSeen, func(session *valve.Session) {
		select {
		case found <- session:
		default:
		}
	})
	defer remove()

	if err := s.startRadio(ctx); err != nil {
		return nil, err
	}

	select {
	case session := <-found:
		if err := s.stopRadio(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop scanning")
		}
		return session, nil
	case <-ctx.Done():
		_ = s.stopRadio()
		return nil, ctx.Err()
	}
}

// FindOne is ScanOnce followed by Connect when AutoConnect is set and the
// session is not connected yet.
func (s *Scanner) FindOne(ctx context.Context) (*valve.Session, error) {
	session, err := s.ScanOnce(ctx)
	if err != nil {
		return nil, err
	}
	if !s.cfg.AutoConnect || session.State() == valve.StateConnected {
		return session, nil
	}

	if err := session.Connect(ctx); err != nil {
		if derr := session.Disconnect(); derr != nil {
			s.logger.WithField("error", derr).Debug("Disconnect after failed connect failed")
		}
		return nil, err
	}
	return session, nil
}

// Sessions returns the tracked sessions ordered by address.
func (s *Scanner) Sessions() []*valve.Session {
	sessions := s.trackedSessions()
	out := make([]*valve.Session, 0, sessions.Len())
	sessions.Range(func(_ string, session *valve.Session) bool {
		out = append(out, session)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address() < out[j].Address()
	})
	return out
}

// DisconnectAll stops scanning, waits for the connect queue to settle and
// disconnects every connected session. It must not be called from a handler.
func (s *Scanner) DisconnectAll() error {
	if err := s.Stop(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to stop scanning")
	}
	s.workers.Wait()

	var firstErr error
	for _, session := range s.Sessions() {
		if session.State() == valve.StateDisconnected {
			continue
		}
		if err := session.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispose cancels pending connections, disconnects every session and forgets
// all tracked addresses. The scanner may be started again afterwards.
func (s *Scanner) Dispose() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()

	err := s.DisconnectAll()

	s.mu.Lock()
	s.sessions = hashmap.New[string, *valve.Session]()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	return err
}
