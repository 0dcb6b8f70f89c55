package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/seqlab/seqmon/internal/config"
	"github.com/seqlab/seqmon/internal/discovery"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

// statusFanout bounds concurrent position dials during a status sweep.
const statusFanout = 8

type positionStatus struct {
	Position model.Position `json:"position"`
	State    string         `json:"state"`
	RunID    string         `json:"run_id,omitempty"`
	Reads    uint64         `json:"reads_processed"`
	Passed   uint64         `json:"reads_passed"`
	Failed   uint64         `json:"reads_failed"`
	Bases    uint64         `json:"bases_called"`
	Err      string         `json:"error,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status [position...]",
	Short: "Show run state and counters for positions",
	Long:  "status queries the run state of every position on the host, or only the named ones. A position that cannot be reached is reported, not fatal.",
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

		positions, err := disc.ListPositions(ctx, "")
		if err != nil {
			return err
		}
		if len(args) > 0 {
			positions, err = selectPositions(positions, args)
			if err != nil {
				return err
			}
		}

		var mu sync.Mutex
		results := make([]positionStatus, 0, len(positions))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(statusFanout)
		for _, pos := range positions {
			g.Go(func() error {
				st := queryPosition(gctx, cfg, disc, pos)
				mu.Lock()
				results = append(results, st)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		sort.Slice(results, func(i, j int) bool {
			return results[i].Position.Name < results[j].Position.Name
		})

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		pr := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tDEVICE\tRUN STATE\tREADS\tPASS\tFAIL\tBASES")
		for _, st := range results {
			if st.Err != "" {
				fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\n", st.Position.Name, st.Position.DeviceID, st.Err)
				continue
			}
			pr.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				st.Position.Name, st.Position.DeviceID, st.State,
				st.Reads, st.Passed, st.Failed, st.Bases)
		}
		return w.Flush()
	},
}

// queryPosition fetches run state and counters for one position. Failures are
// folded into the row so one dead position does not abort the sweep.
func queryPosition(ctx context.Context, cfg *config.Config, disc *discovery.Client, pos model.Position) positionStatus {
	st := positionStatus{Position: pos}

	err := retryOnce(ctx, slog.Default(), func(ctx context.Context) error {
		client, err := dialPosition(ctx, cfg, disc, pos.ID)
		if err != nil {
			return err
		}
		defer client.Close()

		state, err := client.RunState(ctx)
		if err != nil {
			return err
		}
		info, err := client.RunInfo(ctx)
		if err != nil {
			return err
		}
		st.State = phaseLabel(state)
		st.RunID = info.RunID
		st.Reads = info.ReadsProcessed
		st.Passed = info.ReadsPassed
		st.Failed = info.ReadsFailed
		st.Bases = info.BasesPassed + info.BasesFailed
		return nil
	})
	if err != nil {
		st.Err = statusError(err)
	}
	return st
}

func statusError(err error) string {
	var ce *rpc.ClientError
	if errors.As(err, &ce) {
		return "unreachable: " + ce.DisplayMessage()
	}
	return "unreachable: " + err.Error()
}

// selectPositions filters the discovered set down to the named ones,
// matching by ID or display name.
func selectPositions(positions []model.Position, names []string) ([]model.Position, error) {
	selected := make([]model.Position, 0, len(names))
	for _, name := range names {
		found := false
		for _, pos := range positions {
			if pos.ID == name || pos.Name == name {
				selected = append(selected, pos)
				found = true
				break
			}
		}
		if !found {
			return nil, rpc.NotFound("position", name)
		}
	}
	return selected, nil
}
