// Package cmd defines the CLI commands of the sro-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/app"
	"github.com/JakeFAU/sro-registry-crawler/internal/config"
	"github.com/JakeFAU/sro-registry-crawler/internal/logging"
	"github.com/JakeFAU/sro-registry-crawler/internal/runner"
)

// App is what the commands need from the application. Tests swap in a fake.
type App interface {
	Collect(ctx context.Context, req app.CollectRequest) ([]runner.Result, error)
	IDs(ctx context.Context, req app.CollectRequest, service string) ([]int64, error)
	History() *runner.History
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type stateKey struct{}

// state is built once per invocation by the root PersistentPreRunE.
type state struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

func stateFrom(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok || st == nil || st.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return st, nil
}

type rootOptions struct {
	cfgFile  string
	envFiles []string
	output   string
	dev      bool
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(st *state) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sro-crawler",
		Short: "Collects member records from the NOSTROY and NOPRIZ registries.",
		Long: `sro-crawler pages through the public SRO member registries, fetches one
detail record per member registered in a date window and appends the flattened
rows to a workbook, a Google sheet or Postgres. Runs are resumable: discovered
IDs are cached and rows already present are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	cmd.PersistentFlags().StringVar(&opts.output, "output", "", "output backend: xlsx, xlsx_grouped, sheets or postgres")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "development logging")

	cmd.AddCommand(newCollectCmd(), newIDsCmd(), newScheduleCmd())
	return cmd
}

func (st *state) init(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	st.cfg = cfg

	logFile := ""
	if cfg.Logging.Dir != "" {
		if err := os.MkdirAll(cfg.Logging.Dir, 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		logFile = filepath.Join(cfg.Logging.Dir, cmd.Name()+".log")
	}
	logger, err := logging.New(cfg.Logging.Development, logFile)
	if err != nil {
		return err
	}
	st.logger = logger.With(zap.String("command", cmd.Name()))
	zap.ReplaceGlobals(st.logger)

	a, err := newApp(cmd.Context(), cfg, st.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	st.app = a
	cmd.SetContext(context.WithValue(cmd.Context(), stateKey{}, st))
	return nil
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.cfgFile, opts.envFiles...)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output.Backend = opts.output
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = opts.dev
	}
	if err := applyCollectFlags(cmd, &cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// run executes the command line in args and releases the application
// afterwards, whether or not the command failed.
func run(ctx context.Context, st *state, args []string, configure ...func(*cobra.Command)) error {
	root := newRootCmd(st)
	root.SetArgs(args)
	for _, fn := range configure {
		fn(root)
	}
	defer st.close()
	return root.ExecuteContext(ctx)
}

func (st *state) close() {
	if st.app != nil {
		st.app.Close()
		st.app = nil
	}
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	st := &state{}
	err := run(ctx, st, os.Args[1:])
	stop()
	if err == nil {
		return
	}
	if st.logger != nil {
		st.logger.Error("command failed", zap.Error(err))
		_ = st.logger.Sync()
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
