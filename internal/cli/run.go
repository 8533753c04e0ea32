package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"evalstream/internal/config"
	"evalstream/internal/evalclient"
	"evalstream/internal/logging"
	"evalstream/internal/session"
	"evalstream/internal/ui/live"
	"evalstream/internal/ui/plain"
)

// newTransport builds the evaluation transport; tests replace it with a fake.
var newTransport = func(cfg config.Config) (session.Transport, error) {
	client, err := evalclient.New(cfg.ClientOptions(userAgent()))
	if err != nil {
		return nil, err
	}
	return client, nil
}

type runFlags struct {
	dataset    string
	model      string
	maxPrompts int
	options    map[string]string
	token      string
	uiMode     string
	noColor    bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one evaluation session and follow its progress",
		Example: "  evalstream run --dataset gsm8k --model gpt-4o-mini --max-prompts 50\n" +
			"  evalstream run --dataset gsm8k --model llama3 --ui plain --option temperature=0",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), g, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "Dataset identifier")
	cmd.Flags().StringVar(&f.model, "model", "", "Model identifier")
	cmd.Flags().IntVar(&f.maxPrompts, "max-prompts", 0, "Limit the number of prompts (0 for all)")
	cmd.Flags().StringToStringVar(&f.options, "option", nil, "Extra job option as key=value (repeatable)")
	cmd.Flags().StringVar(&f.token, "token", "", "Bearer credential for this job (overrides endpoint.token)")
	cmd.Flags().StringVar(&f.uiMode, "ui", "", "Progress UI: auto|live|plain (default from ui.mode)")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "Disable colors in the live UI and summary")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func runSession(ctx context.Context, g *globalFlags, f runFlags, stdout, stderr io.Writer) error {
	cfg, err := g.load(stderr)
	if err != nil {
		return err
	}
	job := evalclient.JobSpec{
		DatasetID:  f.dataset,
		ModelID:    f.model,
		MaxPrompts: f.maxPrompts,
		Options:    f.options,
		Credential: f.token,
	}
	if err := job.Validate(); err != nil {
		return usageError(err)
	}

	mode := cfg.UI.Mode
	if f.uiMode != "" {
		mode = f.uiMode
	}
	noColor := cfg.UI.NoColor || f.noColor
	decision, err := resolveUIMode(mode, strings.EqualFold(cfg.Log.Level, "debug"), stdout)
	if err != nil {
		return usageError(err)
	}
	if decision.warning != "" {
		fmt.Fprintln(stderr, decision.warning)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	controller, err := session.NewController(session.Options{
		Transport:  transport,
		ReadBuffer: cfg.Stream.ReadBuffer,
		SampleCap:  cfg.Stream.SampleCap,
	})
	if err != nil {
		return err
	}

	var liveUI *live.Controller
	if decision.useLive {
		liveUI = live.Start(stdout, live.Options{
			NoColor:  noColor,
			OnCancel: func() { _ = controller.Cancel() },
		})
		controller.Subscribe(liveUI)
	} else {
		controller.Subscribe(plain.NewPrinter(stdout))
	}

	if _, err := controller.Start(context.Background(), job); err != nil {
		stopLive(liveUI)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			_ = controller.Cancel()
		case <-controller.Done():
		}
	}()

	snap, _ := controller.Wait(context.Background())
	stopLive(liveUI)

	if err := plain.WriteSummary(stdout, snap, plain.SummaryOptions{Styled: decision.useLive && !noColor}); err != nil {
		return err
	}
	return outcome(snap.Phase)
}

// stopLive closes the live UI and waits for the terminal to be restored.
func stopLive(ui *live.Controller) {
	if ui == nil {
		return
	}
	ui.Close()
	if err := ui.Wait(); err != nil {
		logging.Logger().Warn("live ui exited with error", "error", err)
	}
}

// outcome maps a terminal phase to the command result.
func outcome(phase session.Phase) error {
	switch phase {
	case session.PhaseCompleted:
		return nil
	case session.PhaseCancelled:
		return &exitError{code: ExitCancelled}
	default:
		return &exitError{code: ExitError}
	}
}
