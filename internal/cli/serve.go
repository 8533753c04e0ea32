package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evalstream/internal/logging"
	"evalstream/internal/mockserver"
	"evalstream/internal/relay"
	"evalstream/internal/session"
)

func newRelayCmd(g *globalFlags) *cobra.Command {
	var addr string
	var throttle time.Duration
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve sessions to browsers over a websocket relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Relay.Addr = addr
			}
			if cmd.Flags().Changed("throttle") {
				if throttle < 0 {
					return usageError(fmt.Errorf("--throttle must be >= 0"))
				}
				cfg.Relay.Throttle = throttle
			}
			transport, err := newTransport(cfg)
			if err != nil {
				return err
			}
			hub := relay.NewHub(cfg.Relay.Throttle)
			controller, err := session.NewController(session.Options{
				Transport:  transport,
				ReadBuffer: cfg.Stream.ReadBuffer,
				SampleCap:  cfg.Stream.SampleCap,
				Observers:  []session.Observer{hub},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on http://%s (endpoint %s)\n", cfg.Relay.Addr, cfg.Endpoint.BaseURL)
			logging.Logger().Info("relay starting", "addr", cfg.Relay.Addr, "throttle", cfg.Relay.Throttle)
			return relay.Serve(ctx, relay.Config{Addr: cfg.Relay.Addr}, controller, hub)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from relay.addr)")
	cmd.Flags().DurationVar(&throttle, "throttle", 0, "Minimum interval between running snapshots")
	return cmd
}

type mockFlags struct {
	addr     string
	script   string
	token    string
	maxChunk int
	delay    time.Duration
	prompts  int
	seed     uint64
}

func newMockCmd(g *globalFlags) *cobra.Command {
	var f mockFlags
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a scripted evaluation endpoint for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			mock := cfg.Mock
			if f.addr != "" {
				mock.Addr = f.addr
			}
			if f.script != "" {
				mock.Script = f.script
			}
			if cmd.Flags().Changed("token") {
				mock.Token = f.token
			}
			if cmd.Flags().Changed("max-chunk") {
				mock.MaxChunk = f.maxChunk
			}
			if cmd.Flags().Changed("delay") {
				mock.Delay = f.delay
			}
			if cmd.Flags().Changed("prompts") {
				mock.Prompts = f.prompts
			}

			opts := mockserver.Options{
				Prompts:    mock.Prompts,
				MaxChunk:   mock.MaxChunk,
				Delay:      mock.Delay,
				Token:      mock.Token,
				StreamPath: cfg.Endpoint.StreamPath,
				Seed:       f.seed,
			}
			if mock.Script != "" {
				script, err := mockserver.LoadScript(mock.Script)
				if err != nil {
					return err
				}
				opts.Script = script
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Mock endpoint listening on http://%s%s\n", mock.Addr, opts.StreamPath)
			return serveMock(ctx, mockserver.Config{Addr: mock.Addr, Options: opts})
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (default from mock.addr)")
	cmd.Flags().StringVar(&f.script, "script", "", "YAML script of events to replay")
	cmd.Flags().StringVar(&f.token, "token", "", "Require this bearer token")
	cmd.Flags().IntVar(&f.maxChunk, "max-chunk", 0, "Largest flushed write in bytes")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Pause after each event")
	cmd.Flags().IntVar(&f.prompts, "prompts", 0, "Prompts per generated run when the job sets no limit")
	cmd.Flags().Uint64Var(&f.seed, "seed", 1, "Seed for generated runs and chunk sizes")
	return cmd
}

// serveMock runs the mock endpoint; tests replace it to avoid binding a port.
var serveMock = func(ctx context.Context, cfg mockserver.Config) error {
	return mockserver.Serve(ctx, cfg)
}
