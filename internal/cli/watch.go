package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/seqlab/seqmon/internal/config"
	"github.com/seqlab/seqmon/internal/metrics"
	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/monitor"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true)
	watchDimStyle   = lipgloss.NewStyle().Faint(true)

	watchConnectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	watchReconnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	watchDisconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

var flagMetricsPort int

func init() {
	watchCmd.Flags().IntVar(&flagMetricsPort, "metrics-port", 0, "expose Prometheus metrics on this port (overrides config)")
}

var watchCmd = &cobra.Command{
	Use:   "watch [position...]",
	Short: "Live dashboard of acquisition statistics",
	Long: "watch keeps a supervised connection to the control host and renders " +
		"a refreshing dashboard of per-position statistics. It reconnects " +
		"automatically when the host goes away. Press r to force a reconnect, " +
		"q to quit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLogs, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLogs()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if flagMetricsPort > 0 {
			cfg.Metrics.Enabled = true
			cfg.Metrics.Port = flagMetricsPort
		}
		reg := prometheus.NewRegistry()
		mx := metrics.New(reg)
		if cfg.Metrics.Enabled {
			go serveMetrics(cfg.Metrics, reg)
		}

		dialer := &monitor.NetDialer{
			Endpoint:       cfg.Connection.Endpoint(),
			ConnectTimeout: cfg.Connection.ConnectTimeout.Std(),
			CallTimeout:    cfg.Connection.CallTimeout.Std(),
			StatsCapacity:  cfg.Connection.StatsBuffer,
			Logger:         slog.Default(),
		}
		m := monitor.NewManager(dialer,
			monitor.WithLogger(slog.Default()),
			monitor.WithPolicy(cfg.Reconnect.Policy()),
			monitor.WithMetrics(mx),
		)
		if err := m.Start(ctx); err != nil {
			return err
		}
		defer m.Stop(context.Background())

		keys := make(chan rune, 4)
		go readKeys(keys)

		return watchLoop(ctx, m, args, cfg.UI.RefreshInterval.Std(), keys)
	},
}

// watchLoop drives the dashboard: each tick it monitors any newly discovered
// positions, drains the latest snapshot per stream, and redraws.
func watchLoop(ctx context.Context, m *monitor.Manager, filter []string, interval time.Duration, keys <-chan rune) error {
	if interval <= 0 {
		interval = config.DefaultRefreshInterval.Std()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	latest := make(map[string]model.StatsSnapshot)
	prev := make(map[string]model.StatsSnapshot)

	for {
		select {
		case <-ctx.Done():
			return nil
		case key := <-keys:
			switch key {
			case 'q':
				return nil
			case 'r':
				m.ForceReconnect()
			}
		case <-ticker.C:
			monitorDiscovered(ctx, m, filter)
			for _, pos := range m.Positions() {
				ss, err := m.StatsStream(pos.ID)
				if err != nil {
					continue
				}
				if snap, ok := ss.PollLatest(); ok {
					if cur, seen := latest[pos.ID]; seen {
						prev[pos.ID] = cur
					}
					latest[pos.ID] = snap
				}
			}
			render(os.Stdout, m, latest, prev, 3*interval)
		}
	}
}

// monitorDiscovered selects every discovered position matching the filter.
// Monitor is idempotent, so re-selecting on each tick is harmless and picks
// up positions that appear later.
func monitorDiscovered(ctx context.Context, m *monitor.Manager, filter []string) {
	for _, pos := range m.Positions() {
		if len(filter) > 0 && !matchesFilter(pos, filter) {
			continue
		}
		m.Monitor(ctx, pos.ID)
	}
}

func matchesFilter(pos model.Position, filter []string) bool {
	for _, name := range filter {
		if pos.ID == name || pos.Name == name {
			return true
		}
	}
	return false
}

func render(out *os.File, m *monitor.Manager, latest, prev map[string]model.StatsSnapshot, staleAfter time.Duration) {
	pr := message.NewPrinter(language.English)
	var b strings.Builder

	state := m.CurrentState()
	b.WriteString(watchTitleStyle.Render("seqmon"))
	b.WriteString("  ")
	b.WriteString(stateStyle(state.Kind).Render(state.String()))
	b.WriteString("  ")
	b.WriteString(watchDimStyle.Render(time.Now().Format("15:04:05")))
	b.WriteString("\n\n")

	positions := m.Positions()
	if len(positions) == 0 {
		b.WriteString(watchDimStyle.Render("no positions discovered"))
		b.WriteString("\n")
	} else {
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tDEVICE\tSTATE\tREADS\tBASES\tRATE (b/s)\tPORES\tPASS%")
		for _, pos := range positions {
			snap, ok := latest[pos.ID]
			if !ok {
				fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\t-\n", pos.Name, pos.DeviceID, pos.State)
				continue
			}
			rate := snap.Rate(prev[pos.ID])
			// Stale data stays on screen but is flagged so a stopped feed
			// is not mistaken for a stalled run.
			stale := ""
			if time.Since(snap.Timestamp) > staleAfter {
				stale = " (stale)"
			}
			pr.Fprintf(w, "%s\t%s\t%s%s\t%d\t%d\t%.0f\t%d\t%.1f\n",
				pos.Name, pos.DeviceID, pos.State, stale,
				snap.ReadsProcessed, snap.BasesCalled, rate, snap.ActivePores, snap.PassRate())
		}
		w.Flush()
	}

	b.WriteString("\n")
	b.WriteString(watchDimStyle.Render("r: reconnect  q: quit"))
	b.WriteString("\n")

	// Clear and redraw in one write to keep flicker down.
	fmt.Fprint(out, "\033[2J\033[H"+b.String())
}

func stateStyle(kind monitor.StateKind) lipgloss.Style {
	switch kind {
	case monitor.StateConnected:
		return watchConnectedStyle
	case monitor.StateReconnecting, monitor.StateConnecting:
		return watchReconnectingStyle
	default:
		return watchDisconnectedStyle
	}
}

// readKeys forwards single-character commands from stdin. Line-buffered
// input is fine here; the dashboard only needs r and q.
func readKeys(keys chan<- rune) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys <- rune(line[0])
	}
}

// serveMetrics exposes the Prometheus registry over HTTP. Failures are
// logged, not fatal; the dashboard works without metrics.
func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("metrics server listening", "addr", addr, "path", cfg.Path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
