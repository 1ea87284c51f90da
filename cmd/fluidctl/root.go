package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/fluidsql/pkg/audit"
	"github.com/ruslano69/fluidsql/pkg/clientctx"
	"github.com/ruslano69/fluidsql/pkg/dataservice"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/resilience"
	"github.com/ruslano69/fluidsql/pkg/security"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

// cli - флаги и то, что собрано из них перед выполнением команды
type cli struct {
	configPath string
	dialect    string
	connection string
	timeout    time.Duration
	verbose    bool

	cfg      *Config
	svc      *dataservice.Service
	audit    audit.Logger
	registry *prometheus.Registry
	closers  []func() error
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "fluidctl",
		Short:         "Fluid SQL data service client",
		Long:          "Inspect tables, build dialect commands and run them through the Perform engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), c.verbose)
			return c.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config file (default "+DefaultConfigPath+")")
	flags.StringVar(&c.dialect, "dialect", "", "dialect name, overrides config")
	flags.StringVar(&c.connection, "connection", "", "connection string, overrides config")
	flags.DurationVar(&c.timeout, "command-timeout", -1, "command timeout, overrides config (0 = none)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newDialectsCmd(c),
		newPingCmd(c),
		newDescribeCmd(c),
		newQueryCmd(c),
		newExecCmd(c),
	)

	return root
}

func setupLogging(out io.Writer, verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).Level(level)
}

func (c *cli) setup() error {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.dialect != "" {
		cfg.Properties.Dialect = c.dialect
	}
	if c.connection != "" {
		cfg.Properties.Connection.ConnectionString = c.connection
	}
	if c.timeout >= 0 {
		cfg.Properties.Connection.CommandTimeout = c.timeout
	}
	if cfg.Properties.User.UserName == "" {
		cfg.Properties.User.UserName = security.CurrentUser()
	}
	if err := cfg.Properties.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	clientctx.SetDefault(cfg.Properties)

	d, err := dialect.Lookup(cfg.Properties.Dialect)
	if err != nil {
		return err
	}

	retryer, err := buildRetryer(cfg.Retry)
	if err != nil {
		return err
	}

	logger, closers, err := buildAudit(cfg.Audit, d, cfg.Properties.Connection.ConnectionString, cfg.Properties.User)
	if err != nil {
		return err
	}
	c.audit = logger
	c.closers = closers
	c.registry = prometheus.NewRegistry()

	opts := []dataservice.Option{
		dataservice.WithProperties(cfg.Properties),
		dataservice.WithLogger(log.Logger),
		dataservice.WithAudit(logger),
		dataservice.WithMetrics(dataservice.NewMetrics(c.registry)),
		dataservice.WithBreaker(resilience.New(breakerConfig(cfg.Breaker))),
	}
	if retryer != nil {
		opts = append(opts, dataservice.WithRetry(retryer))
	}
	c.svc = dataservice.New(d, opts...)
	return nil
}

// runE закрывает аудит и пулы после команды, в том числе после ошибки
func (c *cli) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return errors.Join(fn(cmd, args), c.close())
	}
}

func (c *cli) close() error {
	var errs []error
	if c.audit != nil {
		errs = append(errs, c.audit.Close())
	}
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	if c.cfg != nil && c.cfg.Metrics.File != "" && c.registry != nil {
		if err := prometheus.WriteToTextfile(c.cfg.Metrics.File, c.registry); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	errs = append(errs, dataservice.DefaultOpener.Close())
	return errors.Join(errs...)
}

// requireConnection - команды, которые ходят в БД, без строки подключения бессмысленны
func (c *cli) requireConnection() error {
	if c.svc.ConnectionString() == "" {
		return fmt.Errorf("%w: use --connection, config or %s", dataservice.ErrNoConnectionString, clientctx.EnvConnection)
	}
	return nil
}

func printOK(w io.Writer, format string, args ...any) {
	okColor.Fprint(w, "OK ")
	fmt.Fprintf(w, format+"\n", args...)
}

func printWarn(w io.Writer, format string, args ...any) {
	warnColor.Fprintf(w, format+"\n", args...)
}
