// Command metricq-sink is a thin cobra-based wrapper around pkg/sink: it
// subscribes to a set of metrics and logs every value received.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metricq/metricq-go/internal/config"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/client"
	"github.com/metricq/metricq-go/pkg/sink"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

func main() {
	v := viper.New()
	var metrics []string

	root := &cobra.Command{
		Use:   "metricq-sink",
		Short: "Subscribe to MetricQ metrics and log every value received",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := mlog.Setup(cfg.LogLevel); err != nil {
				return err
			}
			if len(metrics) == 0 {
				return fmt.Errorf("metricq-sink: at least one --metric is required")
			}
			return runSink(cfg, metrics)
		},
	}

	config.BindFlags(root, v)
	root.Flags().StringSliceVar(&metrics, "metric", nil, "metric id to subscribe to (repeatable)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSink(cfg config.AgentConfig, metrics []string) error {
	log := mlog.New("metricq-sink")

	s := sink.New(cfg.DataClient(), sink.NewRegistry(client.NewRegistry()), func(metric string, t timeutil.Timestamp, v float64) {
		log.Infof("%s %s %v", metric, t, v)
	}, log)

	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.Subscribe(ctx, metrics, nil); err != nil {
		return err
	}

	log.Infof("subscribed to %s", strings.Join(metrics, ", "))

	// Agent.Run is not used here: it calls Agent.Connect itself, which would
	// re-dial the management connection Connect already established above.
	waitForSignalAndStop(s.Stop)
	return s.Wait()
}

func waitForSignalAndStop(stop func(error)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stop(agent.SignalStopCause(<-sigCh))
}
