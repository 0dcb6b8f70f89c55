package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/seqlab/seqmon/internal/discovery"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/position"
	"github.com/seqlab/seqmon/internal/rpc"
)

// ManagerSession is one live connection to the control host's manager
// endpoint, carrying the discovery surface plus transport supervision.
type ManagerSession interface {
	Host(ctx context.Context) (discovery.HostInfo, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	ListPositions(ctx context.Context, deviceID string) ([]model.Position, error)
	ResolveEndpoint(pos model.Position) (model.Endpoint, error)
	Errors() <-chan error
	Close() error
}

// PositionSession is one live connection to a position endpoint.
type PositionSession interface {
	Position() model.Position
	RunState(ctx context.Context) (model.RunState, error)
	RunInfo(ctx context.Context) (model.RunInfo, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	WatchRunState(ctx context.Context) (*position.RunStateStream, error)
	WatchStats(ctx context.Context) (*position.StatsStream, error)
	Errors() <-chan error
	Close() error
}

// Dialer creates sessions. The manager depends only on this interface, so
// tests can script connection failures without a real server.
type Dialer interface {
	DialManager(ctx context.Context) (ManagerSession, error)
	DialPosition(ctx context.Context, pos model.Position, endpoint model.Endpoint) (PositionSession, error)
}

// NetDialer dials real WebSocket endpoints.
type NetDialer struct {
	Endpoint       string        // Manager endpoint, e.g. ws://localhost:9501/rpc
	ConnectTimeout time.Duration // Zero uses the session default
	CallTimeout    time.Duration // Zero uses the session default
	StatsCapacity  int           // Zero uses the position default
	Logger         *slog.Logger  // Nil uses slog.Default
}

type managerSession struct {
	sess *rpc.Session
	*discovery.Client
}

func (s *managerSession) Errors() <-chan error { return s.sess.Errors() }
func (s *managerSession) Close() error         { return s.sess.Close() }

func (d *NetDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// DialManager connects to the manager endpoint.
func (d *NetDialer) DialManager(ctx context.Context) (ManagerSession, error) {
	opts := []rpc.SessionOption{rpc.WithLogger(d.logger())}
	if d.ConnectTimeout > 0 {
		opts = append(opts, rpc.WithConnectTimeout(d.ConnectTimeout))
	}
	if d.CallTimeout > 0 {
		opts = append(opts, rpc.WithCallTimeout(d.CallTimeout))
	}

	sess, err := rpc.Dial(ctx, d.Endpoint, opts...)
	if err != nil {
		return nil, err
	}

	disc := discovery.NewClient(sess,
		discovery.WithLogger(d.logger()),
		discovery.WithCallTimeout(d.CallTimeout),
	)
	return &managerSession{sess: sess, Client: disc}, nil
}

// DialPosition connects to one position endpoint.
func (d *NetDialer) DialPosition(ctx context.Context, pos model.Position, endpoint model.Endpoint) (PositionSession, error) {
	opts := []position.Option{position.WithLogger(d.logger())}
	if d.CallTimeout > 0 {
		opts = append(opts, position.WithCallTimeout(d.CallTimeout))
	}
	if d.StatsCapacity > 0 {
		opts = append(opts, position.WithStatsCapacity(d.StatsCapacity))
	}
	return position.Dial(ctx, pos, endpoint, opts...)
}
