package position

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seqlab/seqmon/internal/buffer"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

// RunStateStream yields server-reported run-state changes.
type RunStateStream struct {
	stream *rpc.Stream
}

// Recv returns the next run state. It terminates with an error instead of
// hanging when the subscription or transport closes.
func (s *RunStateStream) Recv(ctx context.Context) (model.RunState, error) {
	msg, err := s.stream.Recv(ctx)
	if err != nil {
		return model.RunState{}, err
	}

	var payload runStatePayload
	if err := json.Unmarshal(msg, &payload); err != nil {
		return model.RunState{}, rpc.ProtocolViolation("decoding run state update", err)
	}
	return payload.toModel(), nil
}

// Close cancels the subscription.
func (s *RunStateStream) Close() error {
	return s.stream.Close()
}

// StatsStream yields statistics snapshots through a bounded drop-oldest ring.
// A feed task drains the subscription into the ring; the consumer reads at
// its own pace and only ever loses the oldest samples.
type StatsStream struct {
	positionID string
	stream     *rpc.Stream
	ring       *buffer.Ring[model.StatsSnapshot]
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStatsStream(positionID string, stream *rpc.Stream, capacity int, logger *slog.Logger) *StatsStream {
	feedCtx, cancel := context.WithCancel(context.Background())

	s := &StatsStream{
		positionID: positionID,
		stream:     stream,
		ring:       buffer.NewRing[model.StatsSnapshot](capacity),
		logger:     logger,
		cancel:     cancel,
	}

	s.wg.Add(1)
	go s.feed(feedCtx)

	return s
}

// feed drains the subscription into the ring until the stream terminates.
func (s *StatsStream) feed(ctx context.Context) {
	defer s.wg.Done()
	defer s.ring.Close()

	var last time.Time
	for {
		msg, err := s.stream.Recv(ctx)
		if err != nil {
			return
		}

		var payload statsPayload
		if err := json.Unmarshal(msg, &payload); err != nil {
			s.logger.Warn("discarding malformed stats update", "position", s.positionID, "error", err)
			continue
		}

		// Snapshots must reach the consumer in timestamp order; a stale or
		// duplicate timestamp is skipped.
		if !last.IsZero() && !payload.Timestamp.After(last) {
			continue
		}
		last = payload.Timestamp

		s.ring.Push(payload.toModel())
	}
}

// Recv blocks for the next snapshot. Once the feed has terminated and the
// ring is drained, it fails with the disconnected classification.
func (s *StatsStream) Recv(ctx context.Context) (model.StatsSnapshot, error) {
	snap, err := s.ring.Recv(ctx)
	if err != nil {
		if errors.Is(err, buffer.ErrClosed) {
			return model.StatsSnapshot{}, rpc.Disconnected()
		}
		return model.StatsSnapshot{}, &rpc.ClientError{Kind: rpc.KindDisconnected, Op: "watch_stats", Err: err}
	}
	return snap, nil
}

// PollLatest returns the newest buffered snapshot without blocking,
// discarding anything older.
func (s *StatsStream) PollLatest() (model.StatsSnapshot, bool) {
	return s.ring.PollLatest()
}

// Dropped returns how many snapshots have been discarded to keep the buffer
// bounded.
func (s *StatsStream) Dropped() int64 {
	return s.ring.Dropped()
}

// Close cancels the subscription and the feed task, waking any blocked Recv.
func (s *StatsStream) Close() error {
	s.cancel()
	err := s.stream.Close()
	s.wg.Wait()
	return err
}
