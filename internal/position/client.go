// Package position talks to a single position's RPC endpoint: run state,
// run control, and the streaming statistics feed. Run-control operations are
// not pre-validated locally; the server's state machine is authoritative and
// invalid transitions come back as call failures.
package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

// DefaultStatsCapacity bounds the stats ring between the feed and a slow
// consumer. Old samples are dropped in favor of fresh ones.
const DefaultStatsCapacity = 16

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout sets the per-call timeout for unary operations.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithStatsCapacity sets the stats ring capacity.
func WithStatsCapacity(n int) Option {
	return func(c *Client) {
		c.statsCap = n
	}
}

// Client is the RPC client for one position endpoint.
type Client struct {
	pos      model.Position
	sess     *rpc.Session
	logger   *slog.Logger
	timeout  time.Duration
	statsCap int
}

// Dial connects to a position's endpoint and returns a client for it.
func Dial(ctx context.Context, pos model.Position, endpoint model.Endpoint, opts ...Option) (*Client, error) {
	sess, err := rpc.Dial(ctx, string(endpoint))
	if err != nil {
		return nil, err
	}
	return NewClient(sess, pos, opts...), nil
}

// NewClient wraps an established session to a position endpoint.
func NewClient(sess *rpc.Session, pos model.Position, opts ...Option) *Client {
	c := &Client{
		pos:      pos,
		sess:     sess,
		logger:   slog.Default(),
		statsCap: DefaultStatsCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Position returns the discovered position this client is bound to.
func (c *Client) Position() model.Position {
	return c.pos
}

// Errors surfaces transport-level session failures to the supervisor.
func (c *Client) Errors() <-chan error {
	return c.sess.Errors()
}

// RunState fetches the position's current acquisition state.
func (c *Client) RunState(ctx context.Context) (model.RunState, error) {
	var payload runStatePayload
	if err := c.sess.Call(ctx, "get_run_state", nil, &payload, c.timeout); err != nil {
		return model.RunState{}, err
	}
	return payload.toModel(), nil
}

// RunInfo fetches details of the current or most recent run.
func (c *Client) RunInfo(ctx context.Context) (model.RunInfo, error) {
	var payload runInfoPayload
	if err := c.sess.Call(ctx, "get_run_info", nil, &payload, c.timeout); err != nil {
		return model.RunInfo{}, err
	}
	return model.RunInfo{
		RunID:          payload.RunID,
		State:          payload.State.toModel(),
		ReadsProcessed: payload.ReadsProcessed,
		ReadsPassed:    payload.ReadsPassed,
		ReadsFailed:    payload.ReadsFailed,
		BasesPassed:    payload.BasesPassed,
		BasesFailed:    payload.BasesFailed,
	}, nil
}

// Pause requests a pause of the current run.
func (c *Client) Pause(ctx context.Context) error {
	return c.sess.Call(ctx, "pause", nil, nil, c.timeout)
}

// Resume requests a resume of a paused run.
func (c *Client) Resume(ctx context.Context) error {
	return c.sess.Call(ctx, "resume", nil, nil, c.timeout)
}

// Stop requests a stop of the current run.
func (c *Client) Stop(ctx context.Context) error {
	return c.sess.Call(ctx, "stop", nil, nil, c.timeout)
}

// WatchRunState opens a stream of run-state changes.
func (c *Client) WatchRunState(ctx context.Context) (*RunStateStream, error) {
	stream, err := c.sess.Subscribe(ctx, "watch_run_state", nil)
	if err != nil {
		return nil, err
	}
	return &RunStateStream{stream: stream}, nil
}

// WatchStats opens the statistics stream. Updates are drained into a bounded
// drop-oldest ring before the caller sees them, so a slow consumer gets the
// latest-favored view instead of stalling the feed.
func (c *Client) WatchStats(ctx context.Context) (*StatsStream, error) {
	stream, err := c.sess.Subscribe(ctx, "watch_stats", nil)
	if err != nil {
		return nil, err
	}
	return newStatsStream(c.pos.ID, stream, c.statsCap, c.logger), nil
}

// Close releases the underlying session. Open streams terminate rather than
// hanging.
func (c *Client) Close() error {
	return c.sess.Close()
}
