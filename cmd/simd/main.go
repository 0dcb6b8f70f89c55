// Command simd runs a simulated instrument control host. It serves the same
// RPC surface as a real host, so seqmon can be exercised end to end without
// hardware: a manager endpoint for discovery plus one endpoint per position.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/sim"
	"github.com/seqlab/seqmon/internal/version"
)

func main() {
	positions := flag.Int("positions", 2, "number of simulated positions per device")
	devices := flag.Int("devices", 1, "number of simulated devices")
	hostname := flag.String("hostname", "simhost", "hostname reported by describe_host")
	statsInterval := flag.Duration("stats-interval", time.Second, "cadence of statistics updates")
	running := flag.Bool("running", true, "start positions with an active run")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting simulated host",
		"version", version.Version,
		"commit", version.Commit,
		"devices", *devices,
		"positions", *positions,
	)

	phase := model.RunIdle
	if *running {
		phase = model.RunRunning
	}

	var specs []sim.PositionSpec
	for d := 0; d < *devices; d++ {
		deviceID := fmt.Sprintf("SQ-A%d", 101+d)
		for p := 0; p < *positions; p++ {
			specs = append(specs, sim.PositionSpec{
				ID:         fmt.Sprintf("%s-P%d", deviceID, p+1),
				Name:       fmt.Sprintf("P%d", d**positions+p+1),
				DeviceID:   deviceID,
				DeviceName: fmt.Sprintf("device-%d", d+1),
				Phase:      phase,
				Simulated:  true,
			})
		}
	}

	host := sim.New(specs,
		sim.WithLogger(logger),
		sim.WithHostname(*hostname),
		sim.WithStatsInterval(*statsInterval),
	)
	if err := host.Start(); err != nil {
		logger.Error("failed to start simulated host", "error", err)
		os.Exit(1)
	}
	defer host.Close()

	logger.Info("simulated host ready",
		"manager_endpoint", host.ManagerEndpoint(),
		"positions", len(specs),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)
}
