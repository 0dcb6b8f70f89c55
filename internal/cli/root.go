// Package cli implements the seqmon command tree: one-shot discovery and
// run-control commands plus the live watch dashboard.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seqlab/seqmon/internal/config"
	"github.com/seqlab/seqmon/internal/discovery"
	"github.com/seqlab/seqmon/internal/logging"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/position"
	"github.com/seqlab/seqmon/internal/rpc"
	"github.com/seqlab/seqmon/internal/version"
)

var (
	flagConfig   string
	flagHost     string
	flagPort     int
	flagJSON     bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "seqmon",
	Short:         "Remote monitor for lab instrument control hosts",
	Long:          "seqmon discovers instrument positions on a control host and monitors their acquisition runs over RPC.",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "control host (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "manager RPC port (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the command tree. Called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Typed client failures carry a user-facing message.
		var ce *rpc.ClientError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, "error:", ce.DisplayMessage())
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

// loadConfig merges the config file (or defaults) with command-line
// overrides and sets up logging.
func loadConfig() (*config.Config, func() error, error) {
	var cfg *config.Config
	var err error

	if flagConfig != "" {
		cfg, err = config.LoadAndValidate(flagConfig)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg = config.Default()
	}

	if flagHost != "" {
		cfg.Connection.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Connection.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, closeLogs, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("configuration loaded", "endpoint", cfg.Connection.Endpoint())

	return cfg, closeLogs, nil
}

// dialDiscovery opens a manager-endpoint session for one-shot commands.
func dialDiscovery(ctx context.Context, cfg *config.Config) (*rpc.Session, *discovery.Client, error) {
	sess, err := rpc.Dial(ctx, cfg.Connection.Endpoint(),
		rpc.WithConnectTimeout(cfg.Connection.ConnectTimeout.Std()),
		rpc.WithCallTimeout(cfg.Connection.CallTimeout.Std()),
	)
	if err != nil {
		return nil, nil, err
	}
	disc := discovery.NewClient(sess, discovery.WithCallTimeout(cfg.Connection.CallTimeout.Std()))
	return sess, disc, nil
}

// dialPosition resolves and connects to one position by ID.
func dialPosition(ctx context.Context, cfg *config.Config, disc *discovery.Client, positionID string) (*position.Client, error) {
	positions, err := disc.ListPositions(ctx, "")
	if err != nil {
		return nil, err
	}

	for _, pos := range positions {
		if pos.ID == positionID || pos.Name == positionID {
			endpoint, err := disc.ResolveEndpoint(pos)
			if err != nil {
				return nil, err
			}
			return position.Dial(ctx, pos, endpoint,
				position.WithCallTimeout(cfg.Connection.CallTimeout.Std()),
				position.WithStatsCapacity(cfg.Connection.StatsBuffer),
			)
		}
	}
	return nil, rpc.NotFound("position", positionID)
}

// retryOnce retries a one-shot operation a single time when the failure is
// classified retriable. Stream and session recovery stay with the connection
// manager; this is only for one-shot commands.
func retryOnce(ctx context.Context, logger *slog.Logger, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	var ce *rpc.ClientError
	if !errors.As(err, &ce) || !ce.Retriable() {
		return err
	}

	logger.Warn("retrying after transient failure", "error", err)
	select {
	case <-ctx.Done():
		return err
	case <-time.After(500 * time.Millisecond):
	}
	return op(ctx)
}

// phaseLabel renders a run state for table output.
func phaseLabel(state model.RunState) string {
	return state.Label()
}
