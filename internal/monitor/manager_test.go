package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seqlab/seqmon/internal/discovery"
	"github.com/seqlab/seqmon/internal/metrics"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/reconnect"
	"github.com/seqlab/seqmon/internal/rpc"
)

// fastPolicy keeps reconnect delays negligible and deterministic.
var fastPolicy = reconnect.Policy{
	InitialDelay:   10 * time.Millisecond,
	MaxDelay:       50 * time.Millisecond,
	Multiplier:     2.0,
	JitterFraction: 0,
}

type fakeManagerSession struct {
	positions []model.Position
	errs      chan error
}

func (s *fakeManagerSession) Host(ctx context.Context) (discovery.HostInfo, error) {
	return discovery.HostInfo{Hostname: "test", Version: "0.0.0"}, nil
}

func (s *fakeManagerSession) ListDevices(ctx context.Context) ([]model.Device, error) {
	seen := map[string]bool{}
	var devices []model.Device
	for _, pos := range s.positions {
		if seen[pos.DeviceID] {
			continue
		}
		seen[pos.DeviceID] = true
		devices = append(devices, model.Device{ID: pos.DeviceID, State: model.DeviceConnected})
	}
	return devices, nil
}

func (s *fakeManagerSession) ListPositions(ctx context.Context, deviceID string) ([]model.Position, error) {
	return s.positions, nil
}

func (s *fakeManagerSession) ResolveEndpoint(pos model.Position) (model.Endpoint, error) {
	return model.Endpoint("ws://127.0.0.1:1/rpc"), nil
}

func (s *fakeManagerSession) Errors() <-chan error { return s.errs }
func (s *fakeManagerSession) Close() error         { return nil }

// scriptDialer fails the first n manager dials, then succeeds.
type scriptDialer struct {
	mu        sync.Mutex
	failures  int
	dials     int
	positions []model.Position
	sessions  []*fakeManagerSession
}

func (d *scriptDialer) DialManager(ctx context.Context) (ManagerSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dials <= d.failures {
		return nil, rpc.ConnectionFailed("ws://test:9501/rpc", errors.New("connection refused"))
	}

	s := &fakeManagerSession{positions: d.positions, errs: make(chan error, 1)}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *scriptDialer) DialPosition(ctx context.Context, pos model.Position, endpoint model.Endpoint) (PositionSession, error) {
	return nil, rpc.ConnectionFailed(string(endpoint), errors.New("no position server in this test"))
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *scriptDialer) lastSession() *fakeManagerSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// stateRecorder captures the transition sequence from the run loop.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) kinds() []StateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateKind, len(r.states))
	for i, s := range r.states {
		out[i] = s.Kind
	}
	return out
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

// waitForRecorded waits until the recorder's last transition is kind.
func waitForRecorded(t *testing.T, rec *stateRecorder, kind StateKind) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		kinds := rec.kinds()
		if len(kinds) > 0 && kinds[len(kinds)-1] == kind {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never recorded state %v, sequence %v", kind, rec.kinds())
}

func waitForState(t *testing.T, m *Manager, kind StateKind) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.CurrentState().Kind == kind {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never reached state %v, current %v", kind, m.CurrentState())
}

func TestManager_TransitionSequence(t *testing.T) {
	dialer := &scriptDialer{failures: 2}
	rec := &stateRecorder{}

	m := NewManager(dialer, WithPolicy(fastPolicy), WithStateListener(rec.record))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForRecorded(t, rec, StateConnected)

	want := []StateKind{
		StateConnecting,
		StateDisconnected,
		StateReconnecting,
		StateDisconnected,
		StateReconnecting,
		StateConnected,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("transition kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v (full sequence %v)", i, got[i], want[i], got)
		}
	}

	states := rec.snapshot()
	if states[2].Attempt != 0 {
		t.Errorf("first reconnecting attempt = %d, want 0", states[2].Attempt)
	}
	if states[4].Attempt != 1 {
		t.Errorf("second reconnecting attempt = %d, want 1", states[4].Attempt)
	}
	if states[1].Reason == "" || states[1].Since.IsZero() {
		t.Errorf("disconnected state missing reason/since: %+v", states[1])
	}
}

func TestManager_SessionFaultTriggersReconnect(t *testing.T) {
	dialer := &scriptDialer{}
	rec := &stateRecorder{}

	m := NewManager(dialer, WithPolicy(fastPolicy), WithStateListener(rec.record))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForRecorded(t, rec, StateConnected)

	// Inject a transport fault into the live session.
	dialer.lastSession().errs <- rpc.ConnectionFailed("ws://test:9501/rpc", errors.New("broken pipe"))

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.kinds()) < 5 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	want := []StateKind{
		StateConnecting,
		StateConnected,
		StateDisconnected,
		StateReconnecting,
		StateConnected,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("transition kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v (full sequence %v)", i, got[i], want[i], got)
		}
	}

	// Attempt counter restarts after a lost connection.
	if states := rec.snapshot(); states[3].Attempt != 0 {
		t.Errorf("reconnecting attempt after fault = %d, want 0", states[3].Attempt)
	}
}

func TestManager_SessionFaultCountsRPCError(t *testing.T) {
	dialer := &scriptDialer{}
	reg := prometheus.NewRegistry()

	m := NewManager(dialer, WithPolicy(fastPolicy), WithMetrics(metrics.New(reg)))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForState(t, m, StateConnected)

	dialer.lastSession().errs <- rpc.ConnectionFailed("ws://test:9501/rpc", errors.New("broken pipe"))

	// The fault is classified and counted before the reconnect cycle runs.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := testutil.GatherAndCount(reg, "seqmon_rpc_errors_total")
		if err != nil {
			t.Fatalf("gather failed: %v", err)
		}
		if n > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("rpc_errors_total never incremented after a session fault")
}

func TestManager_ForceReconnectWhileConnected(t *testing.T) {
	// A delay this long would hang the test if force did not bypass it.
	slowPolicy := reconnect.Policy{
		InitialDelay:   time.Hour,
		MaxDelay:       time.Hour,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	dialer := &scriptDialer{}
	m := NewManager(dialer, WithPolicy(slowPolicy))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForState(t, m, StateConnected)

	m.ForceReconnect()

	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if dialer.dialCount() < 2 {
		t.Fatal("ForceReconnect did not trigger a new dial")
	}
	waitForState(t, m, StateConnected)
}

func TestManager_ForceReconnectSkipsBackoffDelay(t *testing.T) {
	slowPolicy := reconnect.Policy{
		InitialDelay:   time.Hour,
		MaxDelay:       time.Hour,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	// Every dial fails; the manager parks in a one-hour backoff wait.
	dialer := &scriptDialer{failures: 1 << 30}
	m := NewManager(dialer, WithPolicy(slowPolicy))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForState(t, m, StateReconnecting)
	first := dialer.dialCount()

	m.ForceReconnect()

	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() <= first && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if dialer.dialCount() <= first {
		t.Fatal("ForceReconnect did not skip the backoff delay")
	}
}

func TestManager_StopDuringBackoffWait(t *testing.T) {
	slowPolicy := reconnect.Policy{
		InitialDelay:   time.Hour,
		MaxDelay:       time.Hour,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	dialer := &scriptDialer{failures: 1 << 30}
	m := NewManager(dialer, WithPolicy(slowPolicy))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForState(t, m, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Stop must cancel the backoff sleep, not wait it out.
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_StartTwice(t *testing.T) {
	dialer := &scriptDialer{}
	m := NewManager(dialer, WithPolicy(fastPolicy))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestManager_DiscoverySnapshotExposed(t *testing.T) {
	dialer := &scriptDialer{
		positions: []model.Position{
			{ID: "X1", DeviceID: "DEV1", State: model.PositionRunning, Port: 9601},
		},
	}
	m := NewManager(dialer, WithPolicy(fastPolicy))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForState(t, m, StateConnected)

	devices := m.Devices()
	if len(devices) != 1 || devices[0].ID != "DEV1" {
		t.Errorf("Devices() = %+v, want one DEV1", devices)
	}
	positions := m.Positions()
	if len(positions) != 1 || positions[0].ID != "X1" {
		t.Errorf("Positions() = %+v, want one X1", positions)
	}
}

func TestManager_MonitorUnknownPosition(t *testing.T) {
	dialer := &scriptDialer{}
	m := NewManager(dialer, WithPolicy(fastPolicy))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitForState(t, m, StateConnected)

	err := m.Monitor(context.Background(), "NOPE")

	var ce *rpc.ClientError
	if !errors.As(err, &ce) || ce.Kind != rpc.KindNotFound {
		t.Errorf("Monitor(unknown) = %v, want KindNotFound", err)
	}

	if _, err := m.StatsStream("NOPE"); err == nil {
		t.Error("StatsStream(unknown) should fail")
	}
}
