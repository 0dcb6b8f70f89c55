package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <position>",
	Short: "Pause the acquisition run on a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "pause", func(ctx context.Context, sess controlSession) error {
			return sess.Pause(ctx)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <position>",
	Short: "Resume a paused acquisition run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "resume", func(ctx context.Context, sess controlSession) error {
			return sess.Resume(ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <position>",
	Short: "Stop the acquisition run on a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "stop", func(ctx context.Context, sess controlSession) error {
			return sess.Stop(ctx)
		})
	},
}

// controlSession is the slice of the position client the control commands
// need.
type controlSession interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

// runControl dials the named position and applies one run-control mutation.
// The server owns the state machine: an invalid transition comes back as an
// invalid_state error and is reported verbatim.
func runControl(cmd *cobra.Command, positionID, verb string, op func(context.Context, controlSession) error) error {
	cfg, closeLogs, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx := cmd.Context()

	sess, disc, err := dialDiscovery(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	client, err := dialPosition(ctx, cfg, disc, positionID)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := retryOnce(ctx, slog.Default(), func(ctx context.Context) error {
		return op(ctx, client)
	}); err != nil {
		return err
	}

	state, err := client.RunState(ctx)
	if err != nil {
		// The mutation landed; reporting the new state is best-effort.
		fmt.Printf("%s: %s requested\n", client.Position().Name, verb)
		return nil
	}
	fmt.Printf("%s: %s\n", client.Position().Name, phaseLabel(state))
	return nil
}
