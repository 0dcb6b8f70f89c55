package model

import "time"

// -----------------------------------------------------------------------------
// Discovery Types
// -----------------------------------------------------------------------------

// Device represents one physical instrument reported by the control server.
type Device struct {
	ID    string      `json:"id"`    // Stable device identifier (e.g., "SQ-A101")
	Name  string      `json:"name"`  // Human-readable device name
	State DeviceState `json:"state"` // Current connectivity state
}

// DeviceState is the connectivity state of a device.
type DeviceState string

const (
	DeviceConnected    DeviceState = "connected"
	DeviceDisconnected DeviceState = "disconnected"
)

// Position represents one controllable unit on a device. An instrument may
// expose several positions, each with its own RPC endpoint.
type Position struct {
	ID        string        `json:"id"`        // Position identifier
	Name      string        `json:"name"`      // Human-readable position name (e.g., "P1")
	DeviceID  string        `json:"device_id"` // Owning device identifier
	State     PositionState `json:"state"`     // Current lifecycle state
	Port      int           `json:"port"`      // RPC port for this position's services (0 = not running)
	Simulated bool          `json:"simulated"` // Whether this is a simulated position
}

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	PositionIdle         PositionState = "idle"
	PositionInitializing PositionState = "initializing"
	PositionRunning      PositionState = "running"
	PositionError        PositionState = "error"
)

// Endpoint is a resolved RPC endpoint address for one position.
type Endpoint string

// -----------------------------------------------------------------------------
// Run Types
// -----------------------------------------------------------------------------

// RunPhase enumerates the server-authoritative acquisition phases.
type RunPhase int

const (
	RunIdle RunPhase = iota
	RunStarting
	RunRunning
	RunPaused
	RunFinishing
	RunStopped
	RunError
)

// String returns a short label for display.
func (p RunPhase) String() string {
	switch p {
	case RunIdle:
		return "Idle"
	case RunStarting:
		return "Starting"
	case RunRunning:
		return "Running"
	case RunPaused:
		return "Paused"
	case RunFinishing:
		return "Finishing"
	case RunStopped:
		return "Stopped"
	case RunError:
		return "Error"
	default:
		return "Unknown"
	}
}

// RunState is the acquisition state of one position. Transitions are driven
// exclusively by server-reported state; the client never infers them locally.
type RunState struct {
	Phase        RunPhase
	ErrorMessage string // Set only when Phase == RunError
}

// Active reports whether the state represents an in-progress run.
func (s RunState) Active() bool {
	switch s.Phase {
	case RunStarting, RunRunning, RunPaused, RunFinishing:
		return true
	}
	return false
}

// Label returns a short display label, including the error message if present.
func (s RunState) Label() string {
	if s.Phase == RunError && s.ErrorMessage != "" {
		return "Error: " + s.ErrorMessage
	}
	return s.Phase.String()
}

// RunInfo describes the current (or most recent) acquisition run.
type RunInfo struct {
	RunID          string // Acquisition run UUID ("" when no run has started)
	State          RunState
	ReadsProcessed uint64
	ReadsPassed    uint64
	ReadsFailed    uint64
	BasesPassed    uint64
	BasesFailed    uint64
}

// -----------------------------------------------------------------------------
// Statistics Types
// -----------------------------------------------------------------------------

// StatsSnapshot is a point-in-time measurement report from the server.
// Immutable once constructed; derived values are computed, never stored back.
type StatsSnapshot struct {
	Timestamp      time.Time // Server timestamp for this snapshot
	ReadsProcessed uint64    // Total reads processed
	ReadsPassed    uint64    // Reads passing filters
	ReadsFailed    uint64    // Reads failing filters
	BasesCalled    uint64    // Total bases called
	BasesPassed    uint64    // Bases in passing reads
	BasesFailed    uint64    // Bases in failing reads
	ActivePores    uint32    // Currently sequencing pores
}

// PassRate returns the read pass rate as a percentage (0-100).
func (s StatsSnapshot) PassRate() float64 {
	total := s.ReadsPassed + s.ReadsFailed
	if total == 0 {
		return 0
	}
	return float64(s.ReadsPassed) / float64(total) * 100
}

// MeanReadLength returns the mean read length in bases, 0 if no reads.
func (s StatsSnapshot) MeanReadLength() float64 {
	total := s.ReadsPassed + s.ReadsFailed
	if total == 0 {
		return 0
	}
	return float64(s.BasesPassed+s.BasesFailed) / float64(total)
}

// Rate returns the base-calling throughput in bases per second between a
// previous snapshot and this one. Returns 0 when the interval is not positive
// or the counter went backwards (new run).
func (s StatsSnapshot) Rate(prev StatsSnapshot) float64 {
	dt := s.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 || s.BasesCalled < prev.BasesCalled {
		return 0
	}
	return float64(s.BasesCalled-prev.BasesCalled) / dt
}
