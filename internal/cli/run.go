package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/clock"
	"fieldsync/internal/config"
	"fieldsync/internal/field"
	"fieldsync/internal/health"
	"fieldsync/internal/logging"
	"fieldsync/internal/loop"
	"fieldsync/internal/metrics"
	"fieldsync/internal/replay"
	"fieldsync/internal/store"
)

const maxEventLine = 1 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	Database    string
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the engine from host events on stdin",
		Long: `Read one JSON host event per line from stdin and deliver it to a
real-time engine. Commits and push outcomes are written to stdout.

An event has the same keys as a scenario step, without "at":

  {"op":"focus","field":"title"}
  {"op":"input","field":"title","value":"호텔"}
  {"op":"push","field":"title","value":"server copy"}

At end of input, or on interrupt, pending values are flushed. Changes to
the --config file are applied without restarting.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file (toml, yaml or json)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist commits to this SQLite database")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics and health endpoints on this address")

	return cmd
}

func runRun(opts *RunOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var loader *config.Loader
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		loader = config.NewLoader(opts.ConfigPath)
		var err error
		if cfg, err = loader.Load(); err != nil {
			return WrapExitError(ExitFailure, "invalid config", err)
		}
		defer loader.Close()
	} else {
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return WrapExitError(ExitFailure, "invalid config", err)
		}
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}

	lcfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	if cmd.Flags().Changed("log-level") {
		if lcfg.Level, err = logging.ParseLevel(opts.LogLevel); err != nil {
			return err
		}
	}
	if lcfg.Output == "" || lcfg.Output == "stderr" {
		lcfg.Writer = cmd.ErrOrStderr()
	}
	log, err := logging.New(lcfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer log.Close()
	logger := log.Logger

	fopts, err := cfg.Engine.Options()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	var st *store.Store
	if cfg.Storage.Path != "" {
		if st, err = store.Open(cfg.Storage.Path); err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	ts := clock.NewRealTimeSource()
	lp := loop.New(ts, 0, logger)
	reg := metrics.NewRegistry("fieldsync", "")

	out := &eventWriter{w: cmd.OutOrStdout(), json: opts.Format == "json", clock: ts}
	host := replay.NewHost()
	host.OnPush = func(fieldID, value string, applied bool) {
		kind := replay.KindPushSuppressed
		if applied {
			kind = replay.KindPushApplied
			if st != nil {
				if _, err := st.Set(fieldID, value); err != nil {
					logger.Warn("store external value", "field", fieldID, "error", err)
				}
			}
		}
		out.write(kind, fieldID, value)
	}

	eng := field.NewEngine(field.Env{
		Clock:     ts,
		Scheduler: lp,
		Handler: field.ChangeFunc(func(fieldID, value string) error {
			out.write(replay.KindCommit, fieldID, value)
			if st != nil {
				return st.OnChange(fieldID, value)
			}
			return nil
		}),
		Active:  host,
		Logger:  logger,
		Metrics: metrics.NewEngineMetrics(reg),
	}, fopts)
	host.Bind(eng)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		_ = lp.Run(loopCtx)
	}()

	if loader != nil {
		watchConfig(ctx, loader, lp, eng, logger)
	}
	checker := health.NewChecker()
	checker.RegisterFunc("loop", true, health.LoopCheck(lp.Do, 100*time.Millisecond))
	if st != nil {
		checker.RegisterFunc("store", true, health.DatabaseCheck(st.DB().PingContext))
	}
	checker.SetReady(true)
	defer checker.SetReady(false)

	if cfg.Metrics.Addr != "" {
		srv := serveHTTP(cfg.Metrics.Addr, reg, checker, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	readErr := readEvents(ctx, cmd.InOrStdin(), func(line int, ev replay.Step, perr error) error {
		return lp.Do(loopCtx, func() {
			if perr != nil {
				out.write(replay.KindError, "", fmt.Sprintf("line %d: %v", line, perr))
				return
			}
			if err := host.Apply(ev); err != nil {
				out.write(replay.KindError, ev.Field, err.Error())
			}
		})
	})

	// Flush on the loop before stopping it.
	if err := lp.Do(loopCtx, func() {
		n := eng.Flush()
		logger.Debug("flushed pending values", "commits", n)
		eng.UnmountAll()
	}); err != nil {
		logger.Warn("flush", "error", err)
	}
	stopLoop()
	<-lp.Done()

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return WrapExitError(ExitCommandError, "failed to read events", readErr)
	}
	return nil
}

// readEvents decodes one event per line from r and passes it to handle.
// Decode failures are passed to handle rather than stopping the stream.
// It returns when r is exhausted, ctx is done or handle fails.
func readEvents(ctx context.Context, r io.Reader, handle func(line int, ev replay.Step, err error) error) error {
	type item struct {
		line int
		data []byte
	}
	lines := make(chan item)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		n := 0
		for sc.Scan() {
			n++
			data := bytes.TrimSpace(sc.Bytes())
			if len(data) == 0 {
				continue
			}
			select {
			case lines <- item{n, append([]byte(nil), data...)}:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			var ev replay.Step
			dec := json.NewDecoder(bytes.NewReader(it.data))
			dec.DisallowUnknownFields()
			err := dec.Decode(&ev)
			if err == nil && ev.Op == "" {
				err = errors.New("missing op")
			}
			if err := handle(it.line, ev, err); err != nil {
				return err
			}
		}
	}
}

func watchConfig(ctx context.Context, loader *config.Loader, lp *loop.Loop, eng *field.Engine, logger *slog.Logger) {
	loader.OnChange(func(c *config.Config) {
		opts, err := c.Engine.Options()
		if err != nil {
			logger.Warn("ignoring config change", "error", err)
			return
		}
		if err := lp.Post(func() { eng.Reconfigure(opts) }); err != nil {
			logger.Debug("config change after shutdown", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload failed", "path", loader.Path(), "error", err)
			}
		}
	}()
}

func serveHTTP(addr string, reg *metrics.Registry, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.HTTPHandler())
	mux.Handle("/healthz", checker.HealthHandler())
	mux.Handle("/livez", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics and health", "addr", addr)
	return srv
}

// eventWriter prints engine outcomes. It is only used from the loop
// goroutine.
type eventWriter struct {
	w     io.Writer
	json  bool
	clock clock.TimeSource
}

type runEvent struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Field string    `json:"field,omitempty"`
	Value string    `json:"value"`
}

func (o *eventWriter) write(kind, fieldID, value string) {
	if o.json {
		_ = json.NewEncoder(o.w).Encode(runEvent{
			Time:  o.clock.Now().UTC(),
			Kind:  kind,
			Field: fieldID,
			Value: value,
		})
		return
	}
	if kind == replay.KindError {
		fmt.Fprintf(o.w, "%s %s\n", kind, value)
		return
	}
	fmt.Fprintf(o.w, "%s %s %q\n", kind, fieldID, value)
}
