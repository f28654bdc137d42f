package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/cli"
	"github.com/TheLazyLemur/agentorch/internal/config"
	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/TheLazyLemur/agentorch/internal/dashboard"
	"github.com/TheLazyLemur/agentorch/internal/dispatch"
	"github.com/TheLazyLemur/agentorch/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const serviceName = "agentorch"

// options holds the global flags. Set flags override config values.
type options struct {
	Backend      string
	Timeout      time.Duration
	WorkDir      string
	OutputFormat string
	Mode         string
	Dashboard    string
	LogLevel     string
}

// deps are the seams tests replace.
type deps struct {
	// env replaces the process environment when non-nil.
	env      map[string]string
	spawner  cli.ProcessSpawner
	lookPath cli.LookupFunc
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg        *config.Config
	resolver   *cli.Resolver
	invoker    *cli.Invoker
	dispatcher *dispatch.Dispatcher

	hub    *dashboard.Hub
	server *dashboard.Server

	closers []func(context.Context) error
}

func main() {
	if err := execute(deps{}, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// execute runs the CLI with args and releases telemetry and the dashboard
// afterwards, whether or not the command failed.
func execute(d deps, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root, a := newRootCmd(d)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func newRootCmd(d deps) (*cobra.Command, *app) {
	opts := &options{}
	a := &app{}

	root := &cobra.Command{
		Use:          "agentorch",
		Short:        "Run agent CLIs non-interactively, alone, in parallel batches or as a conversation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, opts, d)
		},
	}

	applyFlags(root.PersistentFlags(), opts)

	root.AddCommand(runCommand(a))
	root.AddCommand(batchCommand(a))
	root.AddCommand(chatCommand(a))
	root.AddCommand(backendsCommand(a))

	return root, a
}

func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVarP(&opts.Backend, "backend", "b", core.BackendAuto, "Backend name (claude, cursor, auto)")
	flags.DurationVar(&opts.Timeout, "timeout", config.DefaultTimeout, "Per-invocation timeout, 0 disables")
	flags.StringVarP(&opts.WorkDir, "workdir", "C", "", "Working directory for the agent process")
	flags.StringVar(&opts.OutputFormat, "output-format", string(core.OutputText), "Agent output format (text|json)")
	flags.StringVar(&opts.Mode, "mode", "", "Agent mode passed as --mode=<value>")
	flags.StringVar(&opts.Dashboard, "dashboard", "", "Serve the live dashboard on this address, e.g. :7070")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
}

func (a *app) setup(cmd *cobra.Command, opts *options, d deps) error {
	cfg, err := loadConfig(d.env)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	if err := overrideConfig(cfg, cmd.Flags(), opts); err != nil {
		return err
	}
	a.cfg = cfg

	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel})
	if cfg.DashboardAddr != "" {
		a.hub = dashboard.NewHub()
		handler = dashboard.NewBroadcastHandler(a.hub, handler)
	}
	slog.SetDefault(slog.New(handler))

	// spans go to stderr so they never mix with command output
	var traceConsole io.Writer
	if cfg.TraceConsole {
		traceConsole = cmd.ErrOrStderr()
	}
	shutdownTracing, err := telemetry.InitTracing(serviceName, cfg.OTLPEndpoint, traceConsole)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdownTracing)

	var metrics *telemetry.Metrics
	if a.hub != nil {
		metricsHandler, shutdownMetrics, err := telemetry.InitMetrics(serviceName)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, shutdownMetrics)
		metrics = telemetry.DefaultMetrics()

		if err := a.startDashboard(cfg.DashboardAddr, metricsHandler); err != nil {
			return err
		}
	}

	registry := cli.DefaultRegistry()
	a.resolver = cli.NewResolver(registry, d.lookPath)
	a.invoker = cli.NewInvoker(a.resolver, d.spawner, cfg.Timeout).
		WithDirPolicy(cli.NewDirPolicy(cfg.AllowedDirs)).
		WithMetrics(metrics)
	a.dispatcher = dispatch.New(a.invoker).
		WithBackendCheck(registry.CheckName).
		WithMetrics(metrics)
	return nil
}

func (a *app) startDashboard(addr string, metrics http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dashboard listen")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go a.hub.Run(ctx)

	a.server = dashboard.NewServer(a.hub, metrics)
	srv := &http.Server{Handler: a.server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dashboard server", "error", err)
		}
	}()
	slog.Info("dashboard listening", "addr", ln.Addr().String())

	a.closers = append(a.closers, func(ctx context.Context) error {
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return nil
}

// close runs closers in reverse order and reports the first failure.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func loadConfig(env map[string]string) (*config.Config, error) {
	if env == nil {
		return config.LoadFromEnv()
	}
	return config.Load(env)
}

func overrideConfig(cfg *config.Config, flags *pflag.FlagSet, opts *options) error {
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if flags.Changed("timeout") {
		if opts.Timeout < 0 {
			return errors.Errorf("--timeout must not be negative, got %s", opts.Timeout)
		}
		cfg.Timeout = opts.Timeout
	}
	if flags.Changed("workdir") {
		cfg.WorkDir = opts.WorkDir
	}
	if flags.Changed("output-format") {
		format, err := core.ParseOutputFormat(opts.OutputFormat)
		if err != nil {
			return err
		}
		cfg.OutputFormat = format
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.Mode
	}
	if flags.Changed("dashboard") {
		cfg.DashboardAddr = opts.Dashboard
	}
	if flags.Changed("log-level") {
		level, err := config.ParseLogLevel(opts.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	return nil
}

// readPrompt joins args, or reads all of r when there are none.
func readPrompt(args []string, r io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "reading prompt from stdin")
	}
	return strings.TrimSpace(string(data)), nil
}
