// Command metricq-client is a thin cobra-based wrapper around pkg/client: it
// issues a single management-plane RPC (e.g. "discover") and prints the
// reply as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metricq/metricq-go/internal/config"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/client"
	"github.com/metricq/metricq-go/pkg/rpc"
)

func main() {
	v := viper.New()
	var function string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "metricq-client <function>",
		Short: "Issue a management-plane RPC against a MetricQ broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			function = args[0]
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := mlog.Setup(cfg.LogLevel); err != nil {
				return err
			}
			return runClient(cfg, function, timeout)
		},
	}

	config.BindFlags(root, v)
	root.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "RPC timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(cfg config.AgentConfig, function string, timeout time.Duration) error {
	log := mlog.New("metricq-client")

	c := client.New(cfg.AgentOnly(), client.NewRegistry(), log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AgentOnly().RPCTimeout+timeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Stop(nil)

	reply, err := c.RPC(ctx, function, rpc.Args{}, agent.WithTimeout(timeout))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
