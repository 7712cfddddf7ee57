package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mbd888/scoreguard/internal/config"
	"github.com/mbd888/scoreguard/internal/health"
	"github.com/mbd888/scoreguard/internal/logging"
	"github.com/mbd888/scoreguard/internal/replay"
	"github.com/mbd888/scoreguard/internal/risk"
	"github.com/mbd888/scoreguard/internal/server"
	"github.com/mbd888/scoreguard/internal/session"
	"github.com/mbd888/scoreguard/internal/traces"
)

var errBlocked = errors.New("one or more sessions were blocked")

type options struct {
	format string
	serve  bool
	live   bool
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "replay [file|-]",
		Short: "Run anti-cheat risk analysis over a stream of score observations",
		Long: `Replays JSON-lines score observations through per-session risk engines and
prints the final risk report of every session.

Reads from the given file, or from stdin when the file is "-" or omitted.
Exits with status 2 when any session was blocked.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, stdin, stdout)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", replay.FormatTable, "Output format (table, json)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "Serve health and metrics on OPS_ADDR until interrupted")
	cmd.Flags().BoolVar(&opts.live, "live", false,
		"Stamp observations with the wall clock, close idle sessions, and print block events as they happen")

	return cmd
}

func run(ctx context.Context, opts *options, args []string, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.format != replay.FormatTable && opts.format != replay.FormatJSON {
		return fmt.Errorf("%w: %q", replay.ErrUnknownFormat, opts.format)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.serve && cfg.OpsAddr == "" {
		return errors.New("--serve requires OPS_ADDR")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting scoreguard replay",
		"version", Version,
		"commit", Commit,
		"env", cfg.Env,
		"live", opts.live,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	in, closeInput, err := openInput(args, stdin)
	if err != nil {
		return err
	}
	defer closeInput()

	replayOpts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithThresholds(cfg.Thresholds()),
	}
	if opts.live {
		enc := json.NewEncoder(stdout)
		replayOpts = append(replayOpts,
			replay.WithLiveClock(risk.SystemClock{}),
			replay.WithOnBlock(func(r replay.Result) {
				if err := enc.Encode(blockEvent{Event: "blocked", Result: r}); err != nil {
					logger.Error("failed to write block event", "session_id", r.SessionID, "error", err)
				}
			}),
		)
	}
	p := replay.New(replayOpts...)

	var janitor *session.Janitor
	if opts.live {
		janitor = session.NewJanitor(p.Tracker(), cfg.SessionIdleTimeout, cfg.SessionSweepInterval, logger)
		go janitor.Start(ctx)
		defer janitor.Stop()
	}

	var srvErr chan error
	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()
	if opts.serve {
		srv, err := server.New(cfg,
			server.WithLogger(logger),
			server.WithHealth(healthRegistry(p.Tracker(), janitor)),
			server.WithVersion(Version),
		)
		if err != nil {
			return fmt.Errorf("create ops server: %w", err)
		}
		srvErr = make(chan error, 1)
		go func() { srvErr <- srv.Run(srvCtx) }()
	}

	results, err := replayUntilDone(ctx, p, in)
	if err != nil {
		return err
	}
	if err := replay.Render(stdout, opts.format, results); err != nil {
		return fmt.Errorf("render results: %w", err)
	}

	if opts.serve {
		logger.Info("replay complete, serving ops endpoints until interrupted", "addr", cfg.OpsAddr)
		select {
		case <-ctx.Done():
			cancelSrv()
			if err := <-srvErr; err != nil {
				return err
			}
		case err := <-srvErr:
			if err != nil {
				return err
			}
		}
	}

	if replay.AnyBlocked(results) {
		return errBlocked
	}
	return nil
}

// blockEvent is the JSON line printed for each block in live mode.
type blockEvent struct {
	Event string `json:"event"`
	replay.Result
}

// replayUntilDone runs the replay but returns early on interrupt, since a
// read from stdin cannot be cancelled.
func replayUntilDone(ctx context.Context, p *replay.Replayer, in io.Reader) ([]replay.Result, error) {
	type outcome struct {
		results []replay.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := p.Run(ctx, in)
		done <- outcome{results, err}
	}()

	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("replay interrupted: %w", ctx.Err())
	}
}

func openInput(args []string, stdin io.Reader) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func healthRegistry(tracker *session.Tracker, janitor *session.Janitor) *health.Registry {
	reg := health.NewRegistry()
	reg.Register("tracker", func(ctx context.Context) health.Status {
		return health.Status{Healthy: true, Detail: fmt.Sprintf("%d active sessions", tracker.Len())}
	})
	if janitor != nil {
		reg.Register("janitor", func(ctx context.Context) health.Status {
			if !janitor.Running() {
				return health.Status{Healthy: false, Detail: "not running"}
			}
			return health.Status{Healthy: true}
		})
	}
	return reg
}
