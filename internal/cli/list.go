package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seqlab/seqmon/internal/model"
)

type listOutput struct {
	Host      string           `json:"host"`
	Devices   []model.Device   `json:"devices"`
	Positions []model.Position `json:"positions"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices and positions on the control host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		info, err := disc.Host(ctx)
		if err != nil {
			return err
		}
		devices, err := disc.ListDevices(ctx)
		if err != nil {
			return err
		}
		positions, err := disc.ListPositions(ctx, "")
		if err != nil {
			return err
		}

		out := listOutput{Host: info.Hostname, Devices: devices, Positions: positions}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Printf("Host: %s (%d devices, %d positions)\n\n", info.Hostname, len(devices), len(positions))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tDEVICE\tSTATE\tPORT\tSIMULATED")
		for _, pos := range positions {
			sim := ""
			if pos.Simulated {
				sim = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", pos.Name, pos.DeviceID, pos.State, pos.Port, sim)
		}
		return w.Flush()
	},
}
