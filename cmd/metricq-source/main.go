// Command metricq-source is a thin cobra-based wrapper around pkg/source,
// demonstrating an IntervalSource that publishes a random-walk metric. Real
// sources embed pkg/source the same way; this binary exists so the package
// has a runnable entry point, the way the teacher ships cmd/agent around
// comp/core.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metricq/metricq-go/internal/config"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/client"
	"github.com/metricq/metricq-go/pkg/source"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

func main() {
	v := viper.New()

	var metric string
	var period time.Duration

	root := &cobra.Command{
		Use:   "metricq-source",
		Short: "Publish a periodic random-walk metric to a MetricQ broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := mlog.Setup(cfg.LogLevel); err != nil {
				return err
			}
			return runSource(cfg, metric, period)
		},
	}

	config.BindFlags(root, v)
	root.Flags().StringVar(&metric, "metric", "metricq-go.source.example", "metric id to publish")
	root.Flags().DurationVar(&period, "period", time.Second, "publish interval")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSource(cfg config.AgentConfig, metric string, period time.Duration) error {
	log := mlog.New("metricq-source")
	value := 0.0

	var src *source.IntervalSource
	src = source.NewIntervalSource(cfg.DataClient(), source.NewRegistry(client.NewRegistry()), period, func(ctx context.Context) error {
		value += rand.NormFloat64()
		if err := src.Send(metric, timeutil.Now(), value, 1); err != nil {
			return err
		}
		return src.Flush()
	})

	ctx := context.Background()

	if err := src.Connect(ctx); err != nil {
		return err
	}
	if err := src.DeclareMetrics(ctx, map[string]interface{}{
		metric: map[string]interface{}{"rate": 1.0 / period.Seconds(), "unit": "1"},
	}); err != nil {
		return err
	}

	log.Infof("publishing %s every %s", metric, period)

	// Agent.Run is not used here: it calls Agent.Connect itself, which would
	// re-dial the management connection Source.Connect already established
	// above. Instead wait on the same signals Run would, mirroring its
	// SIGINT-clean / other-signal-tagged distinction (§4.2) via
	// agent.SignalStopCause.
	waitForSignalAndStop(src.Stop)
	return src.Wait()
}

func waitForSignalAndStop(stop func(error)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stop(agent.SignalStopCause(<-sigCh))
}
