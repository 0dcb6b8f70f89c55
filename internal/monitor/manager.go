package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seqlab/seqmon/internal/metrics"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/position"
	"github.com/seqlab/seqmon/internal/reconnect"
	"github.com/seqlab/seqmon/internal/rpc"
)

// DefaultRefreshInterval is how often discovery is re-run while connected.
const DefaultRefreshInterval = 5 * time.Second

var errReconnectRequested = errors.New("reconnect requested")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPolicy sets the reconnect backoff policy.
func WithPolicy(p reconnect.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithRefreshInterval sets the discovery refresh cadence while connected.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshInterval = d
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithStateListener registers a callback invoked synchronously from the run
// loop on every state transition, in transition order.
func WithStateListener(fn func(ConnectionState)) Option {
	return func(m *Manager) {
		m.listener = fn
	}
}

// monitoredPosition is one live position client plus its stats feed.
type monitoredPosition struct {
	session      PositionSession
	stats        *position.StatsStream
	dropsCounted int64
}

// Manager owns the connection lifecycle to one control host: initial connect,
// discovery, position client supervision, and reconnection with backoff. The
// connection state is written only by the manager's own run loop; everyone
// else reads it through CurrentState.
type Manager struct {
	dialer          Dialer
	policy          reconnect.Policy
	logger          *slog.Logger
	refreshInterval time.Duration
	metrics         *metrics.Metrics
	listener        func(ConnectionState)

	state   atomic.Pointer[ConnectionState]
	forceCh chan struct{}

	mu        sync.Mutex
	started   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	conn      ManagerSession
	devices   []model.Device
	positions []model.Position
	monitored map[string]bool
	clients   map[string]*monitoredPosition
	faults    chan error
	epochDone chan struct{}

	wg sync.WaitGroup
}

// NewManager creates a manager over the given dialer. It does nothing until
// Start is called.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:          dialer,
		policy:          reconnect.NewPolicy(),
		logger:          slog.Default(),
		refreshInterval: DefaultRefreshInterval,
		forceCh:         make(chan struct{}, 1),
		monitored:       make(map[string]bool),
		clients:         make(map[string]*monitoredPosition),
	}
	for _, opt := range opts {
		opt(m)
	}

	initial := disconnected(nil)
	m.state.Store(&initial)
	return m
}

// Start launches the run loop. Returns an error if already started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor: already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	m.runCtx = runCtx
	m.cancel = cancel
	m.mu.Unlock()

	m.transition(connecting())

	m.wg.Add(1)
	go m.run(runCtx)

	m.logger.Info("monitor started")
	return nil
}

// Stop shuts the manager down, cancelling any in-flight reconnect wait. The
// given context bounds how long to wait for the run loop to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentState returns the connection state without blocking.
func (m *Manager) CurrentState() ConnectionState {
	return *m.state.Load()
}

// ForceReconnect requests an immediate reconnect, resetting the attempt
// counter. While connected it tears the connection down first; while waiting
// out a backoff delay it skips the remainder of the delay.
func (m *Manager) ForceReconnect() {
	select {
	case m.forceCh <- struct{}{}:
	default:
	}
}

// Devices returns the device listing from the most recent discovery.
func (m *Manager) Devices() []model.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Positions returns the position listing from the most recent discovery.
func (m *Manager) Positions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, len(m.positions))
	copy(out, m.positions)
	return out
}

// Monitor selects a position for monitoring. If connected and the position is
// present in the latest discovery, its client and stats stream are created
// immediately; otherwise the selection takes effect when the position
// (re)appears. An ID never seen by discovery while connected is a NotFound.
func (m *Manager) Monitor(ctx context.Context, positionID string) error {
	m.mu.Lock()
	if _, ok := m.clients[positionID]; ok {
		m.monitored[positionID] = true
		m.mu.Unlock()
		return nil
	}
	m.monitored[positionID] = true
	m.metrics.SetMonitored(len(m.monitored))

	conn := m.conn
	pos, present := m.findPositionLocked(positionID)
	m.mu.Unlock()

	if conn == nil {
		// Not connected; the selection attaches on the next establish.
		return nil
	}
	if !present {
		m.mu.Lock()
		delete(m.monitored, positionID)
		m.metrics.SetMonitored(len(m.monitored))
		m.mu.Unlock()
		return rpc.NotFound("position", positionID)
	}

	return m.attachPosition(ctx, conn, pos)
}

// Unmonitor deselects a position, tearing down its client and closing its
// streams.
func (m *Manager) Unmonitor(positionID string) {
	m.mu.Lock()
	delete(m.monitored, positionID)
	m.metrics.SetMonitored(len(m.monitored))
	entry, ok := m.clients[positionID]
	delete(m.clients, positionID)
	m.mu.Unlock()

	if ok {
		m.closeEntry(positionID, entry)
	}
}

// StatsStream returns the live stats stream for a monitored position.
func (m *Manager) StatsStream(positionID string) (*position.StatsStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.clients[positionID]; ok {
		return entry.stats, nil
	}
	if m.monitored[positionID] {
		return nil, rpc.Disconnected()
	}
	return nil, rpc.NotFound("position", positionID)
}

// Session returns the live client for a monitored position, for run-control
// calls routed through an established connection.
func (m *Manager) Session(positionID string) (PositionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.clients[positionID]; ok {
		return entry.session, nil
	}
	if m.monitored[positionID] {
		return nil, rpc.Disconnected()
	}
	return nil, rpc.NotFound("position", positionID)
}

// transition publishes a new connection state. Run-loop only.
func (m *Manager) transition(s ConnectionState) {
	m.state.Store(&s)
	m.metrics.SetConnectionState(int(s.Kind))
	m.logger.Info("connection state", "state", s.String())
	if m.listener != nil {
		m.listener(s)
	}
}

// run is the reconnect loop and the single writer of ConnectionState.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	attempt := uint32(0)
	for {
		err := m.establish(ctx)
		if ctx.Err() != nil {
			m.teardown()
			return
		}

		if err == nil {
			attempt = 0
			m.transition(connected())

			reason := m.supervise(ctx)
			m.teardown()
			if ctx.Err() != nil {
				return
			}

			m.transition(disconnected(reason))
			if errors.Is(reason, errReconnectRequested) {
				m.transition(reconnecting(0))
				m.metrics.ReconnectScheduled()
				continue
			}
		} else {
			m.metrics.ConnectFailed()
			m.transition(disconnected(err))
		}

		m.transition(reconnecting(attempt))
		m.metrics.ReconnectScheduled()

		delay := m.policy.DelayForAttempt(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.forceCh:
			timer.Stop()
			attempt = 0
		case <-timer.C:
			attempt++
		}
	}
}

// establish dials the manager endpoint, takes a discovery snapshot, and
// re-creates clients for every monitored position.
func (m *Manager) establish(ctx context.Context) error {
	conn, err := m.dialer.DialManager(ctx)
	if err != nil {
		return err
	}

	devices, err := conn.ListDevices(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	positions, err := conn.ListPositions(ctx, "")
	if err != nil {
		conn.Close()
		return err
	}

	faults := make(chan error, 8)
	epochDone := make(chan struct{})

	m.mu.Lock()
	m.conn = conn
	m.devices = devices
	m.positions = positions
	m.faults = faults
	m.epochDone = epochDone
	monitored := make([]string, 0, len(m.monitored))
	for id := range m.monitored {
		monitored = append(monitored, id)
	}
	m.mu.Unlock()

	m.watch(conn.Errors(), faults, epochDone)

	for _, id := range monitored {
		pos, ok := m.positionByID(positions, id)
		if !ok {
			m.logger.Warn("monitored position absent from discovery", "position", id)
			continue
		}
		if err := m.attachPosition(ctx, conn, pos); err != nil {
			m.logger.Warn("re-creating position client failed", "position", id, "error", err)
			m.countRPCError(err)
			var ce *rpc.ClientError
			if errors.As(err, &ce) && ce.Retriable() {
				m.teardown()
				return err
			}
		}
	}

	return nil
}

// supervise blocks while connected, returning the failure that ends the
// connection. Periodic discovery refreshes run here too.
func (m *Manager) supervise(ctx context.Context) error {
	m.mu.Lock()
	faults := m.faults
	m.mu.Unlock()

	refresh := time.NewTicker(m.refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.forceCh:
			return errReconnectRequested
		case err := <-faults:
			m.logger.Warn("session fault", "error", err)
			m.countRPCError(err)
			return err
		case <-refresh.C:
			if err := m.refresh(ctx); err != nil {
				return err
			}
		}
	}
}

// refresh re-runs discovery while connected: positions absent from the new
// listing are torn down (their streams end with the disconnected signal),
// monitored positions that reappeared are re-attached. A retriable discovery
// failure ends the connection.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}

	devices, err := conn.ListDevices(ctx)
	if err != nil {
		return m.refreshError(err)
	}
	positions, err := conn.ListPositions(ctx, "")
	if err != nil {
		return m.refreshError(err)
	}

	m.mu.Lock()
	m.devices = devices
	m.positions = positions

	var stale []string
	var missing []model.Position
	for id := range m.clients {
		if _, ok := m.positionByID(positions, id); !ok {
			stale = append(stale, id)
		}
	}
	for id := range m.monitored {
		if _, ok := m.clients[id]; ok {
			continue
		}
		if pos, ok := m.positionByID(positions, id); ok {
			missing = append(missing, pos)
		}
	}
	staleEntries := make(map[string]*monitoredPosition, len(stale))
	for _, id := range stale {
		staleEntries[id] = m.clients[id]
		delete(m.clients, id)
	}

	// Fold backpressure drops into metrics while we hold the entries.
	for _, entry := range m.clients {
		d := entry.stats.Dropped()
		m.metrics.SnapshotsDropped(d - entry.dropsCounted)
		entry.dropsCounted = d
	}
	m.mu.Unlock()

	for id, entry := range staleEntries {
		m.logger.Info("position no longer present, tearing down", "position", id)
		m.closeEntry(id, entry)
	}

	for _, pos := range missing {
		if err := m.attachPosition(ctx, conn, pos); err != nil {
			m.logger.Warn("re-attaching position failed", "position", pos.ID, "error", err)
			m.countRPCError(err)
			var ce *rpc.ClientError
			if errors.As(err, &ce) && ce.Retriable() {
				return err
			}
		}
	}

	return nil
}

// refreshError decides whether a discovery failure ends the connection.
func (m *Manager) refreshError(err error) error {
	m.countRPCError(err)
	var ce *rpc.ClientError
	if errors.As(err, &ce) && !ce.Retriable() {
		m.logger.Warn("discovery refresh failed", "error", err)
		return nil
	}
	return err
}

// countRPCError folds a classified failure into the per-kind error counter.
func (m *Manager) countRPCError(err error) {
	var ce *rpc.ClientError
	if errors.As(err, &ce) {
		m.metrics.RPCError(ce.Kind.String())
	}
}

// attachPosition dials one position and opens its stats feed.
func (m *Manager) attachPosition(ctx context.Context, conn ManagerSession, pos model.Position) error {
	endpoint, err := conn.ResolveEndpoint(pos)
	if err != nil {
		return err
	}

	sess, err := m.dialer.DialPosition(ctx, pos, endpoint)
	if err != nil {
		return err
	}

	stats, err := sess.WatchStats(ctx)
	if err != nil {
		sess.Close()
		return err
	}

	m.mu.Lock()
	if !m.monitored[pos.ID] || m.conn != conn {
		// Deselected or epoch ended while dialing.
		m.mu.Unlock()
		stats.Close()
		sess.Close()
		return nil
	}
	if _, ok := m.clients[pos.ID]; ok {
		// A concurrent attach won the race while we were dialing; the
		// installed client is authoritative, this dial is surplus.
		m.mu.Unlock()
		stats.Close()
		sess.Close()
		return nil
	}
	m.clients[pos.ID] = &monitoredPosition{session: sess, stats: stats}
	faults := m.faults
	epochDone := m.epochDone
	m.mu.Unlock()

	m.watch(sess.Errors(), faults, epochDone)

	m.logger.Info("monitoring position", "position", pos.ID, "endpoint", string(endpoint))
	return nil
}

// watch forwards one session's transport fault into the epoch fault channel.
func (m *Manager) watch(errs <-chan error, faults chan<- error, done <-chan struct{}) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case err := <-errs:
			select {
			case faults <- err:
			default:
			}
		case <-done:
		}
	}()
}

// teardown closes every client and the manager session for the current epoch.
func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	clients := m.clients
	epochDone := m.epochDone
	m.conn = nil
	m.clients = make(map[string]*monitoredPosition)
	m.faults = nil
	m.epochDone = nil
	m.mu.Unlock()

	for id, entry := range clients {
		m.closeEntry(id, entry)
	}
	if conn != nil {
		conn.Close()
	}
	if epochDone != nil {
		close(epochDone)
	}
}

// closeEntry shuts one position client down, waking blocked stream readers.
func (m *Manager) closeEntry(id string, entry *monitoredPosition) {
	m.metrics.SnapshotsDropped(entry.stats.Dropped() - entry.dropsCounted)
	entry.stats.Close()
	if err := entry.session.Close(); err != nil {
		m.logger.Debug("closing position session", "position", id, "error", err)
	}
}

func (m *Manager) findPositionLocked(id string) (model.Position, bool) {
	return m.positionByID(m.positions, id)
}

func (m *Manager) positionByID(positions []model.Position, id string) (model.Position, bool) {
	for _, pos := range positions {
		if pos.ID == id {
			return pos, true
		}
	}
	return model.Position{}, false
}
