// fibopt keeps the fast-path prefix lists of a switch in sync with its
// heaviest traffic destinations.
//
// Each run selects the most recent analytics window, fetches the top
// prefixes for the exact-length (LEM) and aggregate (LPM) classes,
// reconciles them into the persisted lists with stable sequence numbers,
// installs both lists on the device and purges old analytics data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/fibopt/internal/runlock"
	"github.com/newtron-network/fibopt/pkg/audit"
	"github.com/newtron-network/fibopt/pkg/device"
	"github.com/newtron-network/fibopt/pkg/optimizer"
	"github.com/newtron-network/fibopt/pkg/settings"
	"github.com/newtron-network/fibopt/pkg/sir"
	"github.com/newtron-network/fibopt/pkg/util"
	"github.com/newtron-network/fibopt/pkg/version"
)

// Default locations
const (
	defaultConfigPath = "/etc/fibopt/fibopt.yaml"
	sirConfigCategory = "apps"
	sirConfigName     = "fib_optimizer"
)

var (
	// Global option flags
	configPath    string
	configFromSIR bool
	sirURL        string
	envFile       string
	logLevel      string
	logJSON       bool
	verbose       bool
	jsonOutput    bool

	// Global state
	cfg *settings.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "fibopt",
	Short:             "FIB prefix-list optimizer",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `fibopt programs the switch's fast-path prefix lists from traffic analytics.

A run selects the analytics window, fetches the top prefixes per class,
reconciles them into the stored lists keeping sequence numbers stable,
installs LPM then LEM on the device and purges old analytics data.

  fibopt run                 full cycle
  fibopt plan                show what a run would change
  fibopt show [lem|lpm]      print the stored lists`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		if isMetaCommand(cmd) {
			return nil
		}

		var err error
		cfg, err = loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		setupAudit(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&configFromSIR, "config-from-sir", false, "Read configuration from the SIR apps/fib_optimizer variable")
	rootCmd.PersistentFlags().StringVar(&sirURL, "sir-url", "", "SIR base URL (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (same as --log-level debug)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "cycle", Title: "Optimization:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "meta", Title: "Meta:"},
	)
	for _, cmd := range []*cobra.Command{runCmd, planCmd} {
		cmd.GroupID = "cycle"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{showCmd, installCmd, purgeCmd} {
		cmd.GroupID = "ops"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}

	for _, cmd := range []*cobra.Command{planCmd, showCmd, auditCmd} {
		addOutputFlags(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info("fibopt"))
	},
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
}

func setupLogging() error {
	level := logLevel
	if verbose {
		level = "debug"
	}
	if err := util.SetLogLevel(level); err != nil {
		return err
	}
	if logJSON {
		util.SetJSONFormat()
	}
	return nil
}

// isMetaCommand reports whether cmd (or any ancestor) needs no configuration.
func isMetaCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "completion":
			return true
		}
	}
	return false
}

// loadConfig reads .env, then the configuration file or SIR variable, then
// applies FIBOPT_* overrides and validates.
func loadConfig(ctx context.Context) (*settings.Config, error) {
	if err := settings.LoadEnv(envFile); err != nil {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	var (
		c   *settings.Config
		err error
	)
	if configFromSIR {
		c, err = configFromVariable(ctx)
	} else {
		c, err = settings.LoadFile(configPath)
	}
	if err != nil {
		return nil, err
	}

	c.ApplyEnv()
	if sirURL != "" {
		c.SIR.URL = sirURL
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func configFromVariable(ctx context.Context) (*settings.Config, error) {
	base := sirURL
	if base == "" {
		base = os.Getenv(settings.EnvSIRURL)
	}
	if base == "" {
		return nil, util.NewConfigurationMissingError("sir.url")
	}
	v, err := sir.NewClient(base).Variable(ctx, sirConfigCategory, sirConfigName)
	if err != nil {
		return nil, fmt.Errorf("reading configuration from SIR: %w", err)
	}
	c, err := settings.Parse([]byte(v.Content))
	if err != nil {
		return nil, err
	}
	if c.SIR.URL == "" {
		c.SIR.URL = base
	}
	return c, nil
}

func setupAudit(c *settings.Config) {
	path := c.Audit.Path
	if path == "" {
		path = filepath.Join(c.Path, "audit.log")
	}
	logger, err := audit.NewFileLogger(path, audit.RotationConfig{
		MaxSize:    c.Audit.MaxSize,
		MaxBackups: c.Audit.MaxBackups,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
		return
	}
	audit.SetDefaultLogger(logger)
}

func newSIRClient(c *settings.Config) *sir.Client {
	return sir.NewClient(c.SIR.URL,
		sir.WithTimeout(c.SIR.Timeout),
		sir.WithInsecureSkipVerify(c.SIR.InsecureSkipVerify),
	)
}

// newOrchestrator wires the optimizer. With withDevice false no device
// channel is opened.
func newOrchestrator(c *settings.Config, withDevice bool) (*optimizer.Orchestrator, func(), error) {
	var ch device.Channel
	closeFn := func() {}
	if withDevice {
		var err error
		ch, err = device.Open(c.Device)
		if err != nil {
			return nil, nil, fmt.Errorf("opening device channel: %w", err)
		}
		closeFn = func() {
			if err := ch.Close(); err != nil {
				util.Warnf("closing device channel: %v", err)
			}
		}
	}

	orch, err := optimizer.New(c, newSIRClient(c), ch)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return orch, closeFn, nil
}

// withLock runs fn while holding the run lock.
func withLock(c *settings.Config, fn func() error) error {
	lock, err := runlock.Acquire(c.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
