package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tuannm99/novadb/internal/client"
	"github.com/tuannm99/novadb/internal/config"
)

type (
	Cmd struct {
		rootFlags rootFlags
		replFlags replFlags
		cfg       *config.Config
		log       *slog.Logger
	}

	rootFlags struct {
		cfgFile   string
		debugMode bool
		driver    string
		dsn       string
		timeout   time.Duration
	}
)

func main() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

func New() *Cmd {
	return &Cmd{}
}

func (c *Cmd) Execute() error {
	return c.newRootCmd().Execute()
}

func (c *Cmd) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "novadb",
		Short: "Run SQL against PostgreSQL or SQLite",
		Long: `Run SQL against a PostgreSQL server or a SQLite database and print
every statement's rows or affected row count.`,
		PersistentPreRunE: c.initConfig,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVar(&c.rootFlags.debugMode, "debug", false, "turn on debug output")
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.driver, "driver", "", "driver: postgres or sqlite (overrides config)")
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.dsn, "dsn", "", "connection string (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&c.rootFlags.timeout, "timeout", 0, "per-statement timeout (0 = none)")

	rootCmd.AddCommand(c.getQueryCmd())
	rootCmd.AddCommand(c.getReplCmd())
	return rootCmd
}

// initConfig loads the config file and environment, then applies flags.
func (c *Cmd) initConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	debug := c.rootFlags.debugMode

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	c.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.rootFlags.cfgFile)
	if err != nil {
		return err
	}
	if flags.Changed("driver") {
		cfg.Driver = c.rootFlags.driver
	}
	if flags.Changed("dsn") {
		cfg.DSN = c.rootFlags.dsn
	}
	if cfg.Debug && !debug {
		c.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.log.Debug("config loaded", "driver", cfg.Driver, "file", c.rootFlags.cfgFile)
	return nil
}

func (c *Cmd) dial(ctx context.Context) (*client.Client, error) {
	cli, err := client.Dial(ctx, c.cfg, c.log)
	if err != nil {
		return nil, err
	}
	cli.SetTimeout(c.rootFlags.timeout)
	return cli, nil
}
