package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/marketfeed/internal/metrics"
)

// Prober answers whether the backend is reachable. *probe.Prober satisfies it.
type Prober interface {
	Check(ctx context.Context) bool
	Reset()
}

// Poller is the polling fallback. *poller.Poller satisfies it.
type Poller interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
}

// Handler receives every message of the current session, in order.
// *router.Router satisfies it.
type Handler interface {
	Route(data []byte) error
}

// Deps bundles the manager's collaborators.
type Deps struct {
	Prober  Prober
	Poller  Poller
	Handler Handler
	Dialer  Dialer      // default: DialWebSocket
	Clock   clock.Clock // default: wall clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// session is one WebSocket connection. Events from a session that is no
// longer m.session are dropped.
type session struct {
	id        uuid.UUID
	epoch     uint64
	client    Client
	logger    *slog.Logger
	startedAt time.Time
	done      chan struct{}
}

// Manager is the connection orchestrator and status state machine.
type Manager struct {
	cfg       ManagerConfig
	clientCfg ClientConfig

	prober  Prober
	poller  Poller
	handler Handler
	dial    Dialer
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Lifetime context for polling and scheduled reconnects.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu is never held across network I/O.
	mu         sync.Mutex
	status     Status
	session    *session
	epoch      uint64 // bumped by Disconnect, Reconnect and Stop to void pending work
	connecting bool
	attempts   int
	exhausted  bool
	backoff    backoff.BackOff
	timer      *clock.Timer
	stopped    bool
	watchers   []chan StatusChange

	sessionsOpened      int64
	reconnectsScheduled int64
	messagesReceived    int64
	messagesDropped     int64
}

// NewManager creates a new Connection Manager in the disconnected state.
// The WebSocket endpoint is derived from cfg.APIHost unless cfg.Client.URL
// is already set.
func NewManager(cfg ManagerConfig, deps Deps) (*Manager, error) {
	def := DefaultManagerConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.WatchBufferSize < 1 {
		cfg.WatchBufferSize = def.WatchBufferSize
	}

	clientCfg := cfg.Client
	if clientCfg.URL == "" {
		u, err := EndpointURL(cfg.APIHost)
		if err != nil {
			return nil, err
		}
		clientCfg.URL = u
	}

	if deps.Dialer == nil {
		deps.Dialer = DialWebSocket
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		clientCfg: clientCfg,
		prober:    deps.Prober,
		poller:    deps.Poller,
		handler:   deps.Handler,
		dial:      deps.Dialer,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusDisconnected,
		backoff:   newReconnectBackOff(cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts),
	}
	m.metrics.SetStatus(m.status.String(), statusNames())

	return m, nil
}

// newReconnectBackOff yields base, 2*base, 4*base, ... for max attempts,
// then backoff.Stop.
func newReconnectBackOff(base time.Duration, max int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0 // bounded by attempt count only
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(max))
}

// Start runs the first Connect. The manager keeps running until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("connection manager started",
		"url", m.clientCfg.URL,
		"channel", m.cfg.Channel,
		"max_reconnect_attempts", m.cfg.MaxReconnectAttempts,
	)
	m.Connect(ctx)
	return nil
}

// Stop closes the session, cancels the reconnect timer and polling, and
// waits for session goroutines. Nothing fires after Stop returns.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.epoch++
	m.cancelTimerLocked()
	s := m.detachLocked()
	m.connecting = false
	m.setStatusLocked(StatusDisconnected, "stopped")
	watchers := m.watchers
	m.watchers = nil
	m.mu.Unlock()

	m.logger.Info("stopping connection manager")

	m.cancel()
	if s != nil {
		m.closeSession(s)
	}
	m.poller.Stop()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		err = ctx.Err()
	}

	for _, w := range watchers {
		close(w)
	}

	m.logger.Info("connection manager stopped")
	return err
}

// Connect opens the push channel, or falls back to polling when the backend
// is unavailable or the dial fails. It is a no-op while a session is open or
// an attempt is in progress, and after the reconnect budget is exhausted
// (use Reconnect). Errors never propagate; they resolve into a Status.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.stopped || m.session != nil || m.connecting || m.exhausted {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.cancelTimerLocked()
	epoch := m.epoch
	m.setStatusLocked(StatusConnecting, "connect")
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	m.attempt(ctx, epoch, false)
}

// Disconnect closes the session with code 1000, cancels any scheduled
// reconnect and stops polling. No automatic reconnection happens until
// Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.cancelTimerLocked()
	s := m.detachLocked()
	m.connecting = false
	m.resetBudgetLocked()
	m.setStatusLocked(StatusDisconnected, "disconnect requested")
	m.mu.Unlock()

	if s != nil {
		m.closeSession(s)
	}
	m.poller.Stop()

	m.logger.Info("disconnected by request")
}

// Reconnect re-probes the backend and retries the push channel with a fresh
// reconnect budget. Polling stays active until a session opens. It is a
// no-op while a session is open.
func (m *Manager) Reconnect(ctx context.Context) {
	m.mu.Lock()
	if m.stopped || m.session != nil {
		m.mu.Unlock()
		return
	}
	m.epoch++ // voids a scheduled reconnect or an attempt in flight
	m.cancelTimerLocked()
	m.connecting = false
	m.resetBudgetLocked()
	m.mu.Unlock()

	m.prober.Reset()
	m.logger.Info("manual reconnect requested")
	m.Connect(ctx)
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether a session is open.
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// IsUsingPolling reports whether the polling fallback is active.
func (m *Manager) IsUsingPolling() bool {
	return m.poller.Running()
}

// State returns a snapshot for consumers.
func (m *Manager) State() State {
	status := m.Status()
	return State{
		Status:         status,
		IsConnected:    status == StatusConnected,
		IsUsingPolling: m.poller.Running(),
	}
}

// Watch returns a channel of status transitions. Slow watchers miss
// transitions rather than blocking the manager. The channel is closed by Stop.
func (m *Manager) Watch() <-chan StatusChange {
	ch := make(chan StatusChange, m.cfg.WatchBufferSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		close(ch)
		return ch
	}
	m.watchers = append(m.watchers, ch)
	return ch
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		Status:              m.status,
		SessionsOpened:      m.sessionsOpened,
		ReconnectAttempts:   m.attempts,
		ReconnectsScheduled: m.reconnectsScheduled,
		BudgetExhausted:     m.exhausted,
		MessagesReceived:    m.messagesReceived,
		MessagesDropped:     m.messagesDropped,
	}
	if m.session != nil {
		stats.SessionID = m.session.id.String()
		stats.SessionStartedAt = m.session.startedAt
	}
	m.mu.Unlock()

	stats.UsingPolling = m.poller.Running()
	return stats
}

// attempt runs probe then dial for one connection attempt. The caller has
// set m.connecting and holds a wg slot. A failed dial on a scheduled
// reconnect spends the next backoff step; on Connect it is terminal.
func (m *Manager) attempt(ctx context.Context, epoch uint64, scheduled bool) {
	if !m.prober.Check(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.currentAttemptLocked(epoch) {
			return
		}
		m.connecting = false
		m.setStatusLocked(StatusUnavailable, "backend unavailable")
		m.startPollingLocked()
		return
	}

	client, err := m.dial(ctx, m.clientCfg, m.logger)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.currentAttemptLocked(epoch) {
			return
		}
		m.connecting = false
		m.logger.Warn("websocket dial failed", "error", err, "scheduled", scheduled)
		m.setStatusLocked(StatusError, "dial failed")
		m.startPollingLocked()
		if scheduled {
			m.scheduleReconnectLocked()
		}
		return
	}

	m.mu.Lock()
	current := m.currentAttemptLocked(epoch)
	m.mu.Unlock()
	if !current {
		client.Close()
		return
	}

	// Only one data source at a time: polling ends before the session
	// starts delivering.
	m.poller.Stop()

	m.mu.Lock()
	if !m.currentAttemptLocked(epoch) {
		m.mu.Unlock()
		client.Close()
		return
	}

	s := &session{
		id:        uuid.New(),
		epoch:     epoch,
		client:    client,
		startedAt: m.clock.Now(),
		done:      make(chan struct{}),
	}
	s.logger = m.logger.With("session", s.id.String())

	m.session = s
	m.connecting = false
	m.resetBudgetLocked()
	m.sessionsOpened++
	m.setStatusLocked(StatusConnected, "session opened")
	m.wg.Add(1)
	m.mu.Unlock()

	go m.pump(s)

	sub, _ := json.Marshal(SubscribeCommand{Action: "subscribe", Channel: m.cfg.Channel})
	if err := client.Send(sub); err != nil {
		s.logger.Warn("subscribe failed", "error", err)
		m.handleClose(s, err)
		return
	}

	s.logger.Info("subscribed", "channel", m.cfg.Channel)
}

// reconnectDue is the timer callback for a scheduled reconnect.
func (m *Manager) reconnectDue(epoch uint64) {
	m.mu.Lock()
	if m.stopped || m.epoch != epoch || m.session != nil || m.connecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.connecting = true
	m.setStatusLocked(StatusConnecting, "reconnect")
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	m.attempt(m.ctx, epoch, true)
}

// pump delivers a session's messages to the handler, then its terminal
// error to handleClose.
func (m *Manager) pump(s *session) {
	defer m.wg.Done()

	for {
		select {
		case <-s.done:
			// Detached: whatever the old client buffered is counted, not routed.
			for {
				select {
				case msg := <-s.client.Messages():
					m.deliver(s, msg)
				default:
					return
				}
			}
		case msg := <-s.client.Messages():
			m.deliver(s, msg)
		case err := <-s.client.Errors():
			// Deliver whatever arrived before the close.
		drain:
			for {
				select {
				case msg := <-s.client.Messages():
					m.deliver(s, msg)
				default:
					break drain
				}
			}
			m.handleClose(s, err)
			return
		}
	}
}

func (m *Manager) deliver(s *session, msg TimestampedMessage) {
	m.mu.Lock()
	if m.session != s {
		m.messagesDropped++
		m.mu.Unlock()
		return
	}
	m.messagesReceived++
	m.mu.Unlock()

	if err := m.handler.Route(msg.Data); err != nil {
		s.logger.Debug("message not applied", "error", err)
	}
}

// handleClose drives the reconnect decision for a session that ended on its
// own. A transport error first sets StatusError; a close frame with code
// 1000 ends the session for good; anything else schedules a reconnect.
func (m *Manager) handleClose(s *session, err error) {
	code := websocket.CloseAbnormalClosure
	transportErr := true
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		transportErr = false
	}

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.detachLocked()

	if transportErr {
		s.logger.Warn("websocket error", "error", err)
		m.setStatusLocked(StatusError, err.Error())
	}

	if code == websocket.CloseNormalClosure {
		s.logger.Info("websocket closed normally")
		m.setStatusLocked(StatusDisconnected, "closed normally")
	} else {
		s.logger.Warn("websocket closed", "code", code)
		m.setStatusLocked(StatusDisconnected, "closed abnormally")
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.closeSession(s)
}

// scheduleReconnectLocked schedules the next attempt at base*2^attempts, or
// falls back to polling for good when the budget is spent.
func (m *Manager) scheduleReconnectLocked() {
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.exhausted = true
		m.logger.Warn("reconnect attempts exhausted, using polling", "attempts", m.attempts)
		m.setStatusLocked(StatusUnavailable, "reconnect attempts exhausted")
		m.startPollingLocked()
		return
	}

	attempt := m.attempts
	m.attempts++
	m.reconnectsScheduled++
	m.metrics.IncReconnect()

	epoch := m.epoch
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnectDue(epoch) })

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) currentAttemptLocked(epoch uint64) bool {
	return !m.stopped && m.epoch == epoch && m.session == nil
}

func (m *Manager) startPollingLocked() {
	if m.poller.Start(m.ctx) {
		m.logger.Info("polling fallback active")
	}
}

func (m *Manager) resetBudgetLocked() {
	m.attempts = 0
	m.exhausted = false
	m.backoff.Reset()
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) detachLocked() *session {
	s := m.session
	m.session = nil
	return s
}

// closeSession must be called without mu held; it writes a close frame.
func (m *Manager) closeSession(s *session) {
	close(s.done)
	if err := s.client.Close(); err != nil {
		s.logger.Debug("close error", "error", err)
	}
}

func (m *Manager) setStatusLocked(to Status, reason string) {
	from := m.status
	if from == to {
		return
	}
	m.status = to
	m.metrics.SetStatus(to.String(), statusNames())

	change := StatusChange{From: from, To: to, Reason: reason, At: m.clock.Now()}
	for _, w := range m.watchers {
		select {
		case w <- change:
		default:
			m.logger.Warn("status watcher full, dropping change", "to", to)
		}
	}

	m.logger.Debug("status changed", "from", from, "to", to, "reason", reason)
}

func statusNames() []string {
	names := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		names[i] = s.String()
	}
	return names
}
