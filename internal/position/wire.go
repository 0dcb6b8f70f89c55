package position

import (
	"time"

	"github.com/seqlab/seqmon/internal/model"
)

// runStatePayload is the wire shape of a run state, shared by get_run_state
// results and watch_run_state updates.
type runStatePayload struct {
	Phase        string `json:"phase"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (p runStatePayload) toModel() model.RunState {
	return model.RunState{
		Phase:        phaseFromWire(p.Phase),
		ErrorMessage: p.ErrorMessage,
	}
}

// phaseFromWire maps a wire phase string to a RunPhase. Unknown phases map to
// RunError so a schema drift is visible instead of silently reading as Idle.
func phaseFromWire(s string) model.RunPhase {
	switch s {
	case "idle":
		return model.RunIdle
	case "starting":
		return model.RunStarting
	case "running":
		return model.RunRunning
	case "paused":
		return model.RunPaused
	case "finishing":
		return model.RunFinishing
	case "stopped":
		return model.RunStopped
	case "error":
		return model.RunError
	default:
		return model.RunError
	}
}

// PhaseToWire maps a RunPhase to its wire string. Exported for the simulated
// server, which emits the same payloads this package decodes.
func PhaseToWire(p model.RunPhase) string {
	switch p {
	case model.RunIdle:
		return "idle"
	case model.RunStarting:
		return "starting"
	case model.RunRunning:
		return "running"
	case model.RunPaused:
		return "paused"
	case model.RunFinishing:
		return "finishing"
	case model.RunStopped:
		return "stopped"
	default:
		return "error"
	}
}

type runInfoPayload struct {
	RunID          string          `json:"run_id"`
	State          runStatePayload `json:"state"`
	ReadsProcessed uint64          `json:"reads_processed"`
	ReadsPassed    uint64          `json:"reads_passed"`
	ReadsFailed    uint64          `json:"reads_failed"`
	BasesPassed    uint64          `json:"bases_passed"`
	BasesFailed    uint64          `json:"bases_failed"`
}

type statsPayload struct {
	Timestamp      time.Time `json:"timestamp"`
	ReadsProcessed uint64    `json:"reads_processed"`
	ReadsPassed    uint64    `json:"reads_passed"`
	ReadsFailed    uint64    `json:"reads_failed"`
	BasesCalled    uint64    `json:"bases_called"`
	BasesPassed    uint64    `json:"bases_passed"`
	BasesFailed    uint64    `json:"bases_failed"`
	ActivePores    uint32    `json:"active_pores"`
}

func (p statsPayload) toModel() model.StatsSnapshot {
	return model.StatsSnapshot{
		Timestamp:      p.Timestamp,
		ReadsProcessed: p.ReadsProcessed,
		ReadsPassed:    p.ReadsPassed,
		ReadsFailed:    p.ReadsFailed,
		BasesCalled:    p.BasesCalled,
		BasesPassed:    p.BasesPassed,
		BasesFailed:    p.BasesFailed,
		ActivePores:    p.ActivePores,
	}
}
