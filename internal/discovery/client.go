// Package discovery enumerates devices and positions from a control host's
// manager endpoint. Every call is a fresh snapshot; nothing is cached here,
// so the caller decides how stale a listing it can tolerate.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

// HostInfo describes the control host behind the manager endpoint.
type HostInfo struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

// positionRecord is the wire shape of one entry in a list_positions result.
type positionRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	State      string `json:"state"`
	Port       int    `json:"port"`
	Simulated  bool   `json:"simulated"`
}

type listPositionsResult struct {
	Positions []positionRecord `json:"positions"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout sets the per-call timeout for discovery operations.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client performs discovery against one manager-endpoint session.
type Client struct {
	sess    *rpc.Session
	logger  *slog.Logger
	timeout time.Duration
}

// NewClient wraps an established manager-endpoint session.
func NewClient(sess *rpc.Session, opts ...Option) *Client {
	c := &Client{
		sess:   sess,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host fetches identity information for the control host.
func (c *Client) Host(ctx context.Context) (HostInfo, error) {
	var info HostInfo
	if err := c.sess.Call(ctx, "describe_host", nil, &info, c.timeout); err != nil {
		return HostInfo{}, err
	}
	return info, nil
}

// ListDevices returns the devices currently known to the host, derived from
// the position listing. A device with no positions is not reported.
func (c *Client) ListDevices(ctx context.Context) ([]model.Device, error) {
	records, err := c.listPositions(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]model.Device)
	for _, rec := range records {
		if _, ok := seen[rec.DeviceID]; ok {
			continue
		}
		seen[rec.DeviceID] = model.Device{
			ID:    rec.DeviceID,
			Name:  rec.DeviceName,
			State: model.DeviceConnected,
		}
	}

	devices := make([]model.Device, 0, len(seen))
	for _, dev := range seen {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return devices, nil
}

// ListPositions returns the positions on one device, or on all devices when
// deviceID is empty. An unknown device yields an empty slice, not an error:
// absence from a listing means "no longer present."
func (c *Client) ListPositions(ctx context.Context, deviceID string) ([]model.Position, error) {
	records, err := c.listPositions(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]model.Position, 0, len(records))
	for _, rec := range records {
		if deviceID != "" && rec.DeviceID != deviceID {
			continue
		}
		positions = append(positions, model.Position{
			ID:        rec.ID,
			Name:      rec.Name,
			DeviceID:  rec.DeviceID,
			State:     model.PositionState(rec.State),
			Port:      rec.Port,
			Simulated: rec.Simulated,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })

	return positions, nil
}

// ResolveEndpoint derives the per-position RPC endpoint from the manager
// endpoint's host and the position's advertised port.
func (c *Client) ResolveEndpoint(pos model.Position) (model.Endpoint, error) {
	if pos.Port <= 0 {
		return "", rpc.NotFound("position endpoint", pos.ID)
	}

	u, err := url.Parse(c.sess.Endpoint())
	if err != nil {
		return "", rpc.ProtocolViolation("parsing manager endpoint "+c.sess.Endpoint(), err)
	}

	return model.Endpoint(fmt.Sprintf("%s://%s:%d/rpc", u.Scheme, u.Hostname(), pos.Port)), nil
}

func (c *Client) listPositions(ctx context.Context) ([]positionRecord, error) {
	var result listPositionsResult
	if err := c.sess.Call(ctx, "list_positions", nil, &result, c.timeout); err != nil {
		return nil, err
	}
	c.logger.Debug("discovery listing", "endpoint", c.sess.Endpoint(), "positions", len(result.Positions))
	return result.Positions, nil
}
