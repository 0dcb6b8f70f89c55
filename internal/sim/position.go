package sim

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/position"
	"github.com/seqlab/seqmon/internal/rpc"
)

// Simulated throughput while a run is in the Running phase.
const (
	simBasesPerSecond = 420000
	simMeanReadLength = 520
	simActivePores    = 412
)

// simPosition is one simulated position: a run-state machine plus cumulative
// acquisition counters that only advance while Running.
type simPosition struct {
	server *Server
	spec   PositionSpec
	ep     *endpoint

	mu          sync.Mutex
	phase       model.RunPhase
	errMessage  string
	runID       string
	lastTick    time.Time
	basesCalled uint64
}

func (p *simPosition) lifecycleState() model.PositionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case model.RunStarting:
		return model.PositionInitializing
	case model.RunRunning, model.RunPaused, model.RunFinishing:
		return model.PositionRunning
	case model.RunError:
		return model.PositionError
	default:
		return model.PositionIdle
	}
}

func (p *simPosition) setPhase(phase model.RunPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.advanceLocked(time.Now())
	wasActive := (model.RunState{Phase: p.phase}).Active()
	p.phase = phase
	if !wasActive && (model.RunState{Phase: phase}).Active() {
		p.runID = uuid.NewString()
		p.basesCalled = 0
	}
}

// advanceLocked accrues simulated throughput since the last tick.
func (p *simPosition) advanceLocked(now time.Time) {
	if p.phase == model.RunRunning {
		dt := now.Sub(p.lastTick).Seconds()
		if dt > 0 {
			p.basesCalled += uint64(dt * simBasesPerSecond)
		}
	}
	p.lastTick = now
}

func (p *simPosition) runStateMsg() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := map[string]interface{}{"phase": position.PhaseToWire(p.phase)}
	if p.errMessage != "" {
		msg["error_message"] = p.errMessage
	}
	return msg
}

func (p *simPosition) snapshot(now time.Time) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.advanceLocked(now)

	reads := p.basesCalled / simMeanReadLength
	readsFailed := reads / 12
	readsPassed := reads - readsFailed
	basesFailed := p.basesCalled / 12
	basesPassed := p.basesCalled - basesFailed

	var pores uint32
	if p.phase == model.RunRunning {
		pores = simActivePores
	}

	return map[string]interface{}{
		"timestamp":       now.UTC(),
		"reads_processed": reads,
		"reads_passed":    readsPassed,
		"reads_failed":    readsFailed,
		"bases_called":    p.basesCalled,
		"bases_passed":    basesPassed,
		"bases_failed":    basesFailed,
		"active_pores":    pores,
	}
}

func (p *simPosition) runInfoMsg() map[string]interface{} {
	snap := p.snapshot(time.Now())

	p.mu.Lock()
	runID := p.runID
	stateMsg := map[string]interface{}{"phase": position.PhaseToWire(p.phase)}
	if p.errMessage != "" {
		stateMsg["error_message"] = p.errMessage
	}
	p.mu.Unlock()

	return map[string]interface{}{
		"run_id":          runID,
		"state":           stateMsg,
		"reads_processed": snap["reads_processed"],
		"reads_passed":    snap["reads_passed"],
		"reads_failed":    snap["reads_failed"],
		"bases_passed":    snap["bases_passed"],
		"bases_failed":    snap["bases_failed"],
	}
}

// transitionTo applies a run-control mutation, enforcing the server-side
// state machine.
func (p *simPosition) transitionTo(op string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch op {
	case "pause":
		if p.phase != model.RunRunning {
			return "cannot pause while " + position.PhaseToWire(p.phase), false
		}
		p.advanceLocked(time.Now())
		p.phase = model.RunPaused
	case "resume":
		if p.phase != model.RunPaused {
			return "cannot resume while " + position.PhaseToWire(p.phase), false
		}
		p.lastTick = time.Now()
		p.phase = model.RunRunning
	case "stop":
		switch p.phase {
		case model.RunStarting, model.RunRunning, model.RunPaused:
			p.advanceLocked(time.Now())
			p.phase = model.RunStopped
		default:
			return "cannot stop while " + position.PhaseToWire(p.phase), false
		}
	}
	return "", true
}

// handle serves one position-endpoint connection.
func (p *simPosition) handle(w http.ResponseWriter, r *http.Request) {
	c, err := p.ep.accept(w, r)
	if err != nil {
		return
	}
	defer c.shutdown()

	var subMu sync.Mutex
	subs := make(map[int64]context.CancelFunc)
	defer func() {
		subMu.Lock()
		for _, cancel := range subs {
			cancel()
		}
		subMu.Unlock()
	}()

	for {
		var req rpc.Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}

		switch req.Op {
		case "get_run_state":
			c.writeResult(req.ID, p.runStateMsg())
		case "get_run_info":
			c.writeResult(req.ID, p.runInfoMsg())
		case "pause", "resume", "stop":
			if msg, ok := p.transitionTo(req.Op); !ok {
				c.writeError(req.ID, rpc.CodeInvalidState, msg)
			} else {
				c.writeResult(req.ID, struct{}{})
			}
		case "watch_stats":
			sid := c.newSID()
			subCtx, cancel := context.WithCancel(c.ctx)
			subMu.Lock()
			subs[sid] = cancel
			subMu.Unlock()
			c.writeSubscribed(req.ID, sid)
			go p.streamStats(subCtx, c, sid)
		case "watch_run_state":
			sid := c.newSID()
			subCtx, cancel := context.WithCancel(c.ctx)
			subMu.Lock()
			subs[sid] = cancel
			subMu.Unlock()
			c.writeSubscribed(req.ID, sid)
			go p.streamRunState(subCtx, c, sid)
		case "unsubscribe":
			var params rpc.UnsubscribeParams
			if raw, err := json.Marshal(req.Params); err == nil {
				json.Unmarshal(raw, &params)
			}
			subMu.Lock()
			if cancel, ok := subs[params.SID]; ok {
				cancel()
				delete(subs, params.SID)
			}
			subMu.Unlock()
		default:
			c.writeError(req.ID, rpc.CodeBadRequest, "unknown operation "+req.Op)
		}
	}
}

// streamStats emits snapshots at the configured cadence until cancelled.
func (p *simPosition) streamStats(ctx context.Context, c *conn, sid int64) {
	ticker := time.NewTicker(p.server.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.writeUpdate(sid, p.snapshot(now))
		}
	}
}

// streamRunState emits the current state immediately, then again whenever it
// changes.
func (p *simPosition) streamRunState(ctx context.Context, c *conn, sid int64) {
	last := p.runStateMsg()
	c.writeUpdate(sid, last)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := p.runStateMsg()
			if cur["phase"] != last["phase"] || cur["error_message"] != last["error_message"] {
				c.writeUpdate(sid, cur)
				last = cur
			}
		}
	}
}
