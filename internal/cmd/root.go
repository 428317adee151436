// Package cmd implements the simstat command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/simstat/internal/config"
	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/internal/server/handlers"
)

var (
	cfgFile  string
	verbose  bool
	readOnly bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}

	appIdentity *config.Identity
)

var rootCmd = &cobra.Command{
	Use:   "simstat",
	Short: "Infer the state of simulation jobs from their working directories",
	Long: `simstat scans simulation job directories and infers, for each job, whether
it is running, completed or canceled, how far it has progressed and when
it will finish. It reads the job configuration card, the progress log and
the scheduler output file; it never writes into job directories.

Examples:
  simstat scan /scratch/sims
  simstat scan /scratch/sims --include wing --format table --sort remaining
  simstat scan --manifest monitor.yaml
  simstat inspect /scratch/sims/aero/wing_v3
  simstat serve /scratch/sims`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRun,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./simstat.yaml or user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse to publish anywhere but stdout")

	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
}

// initConfig prepares the global viper instance used for persistent flags.
func initConfig() {
	if appIdentity == nil {
		appIdentity = config.DefaultIdentity()
	}
	setDefaults()
	viper.SetEnvPrefix(appIdentity.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}
}

// setDefaults registers configuration defaults on the global viper.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
	viper.SetDefault("readonly", false)
}

func preRun(cmd *cobra.Command, args []string) error {
	name := "simstat"
	if appIdentity != nil && appIdentity.BinaryName != "" {
		name = appIdentity.BinaryName
	}
	observability.InitCLILogger(name, verbose)
	return nil
}

// SetVersionInfo records build metadata for `version` and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the application identity, or nil before init.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// isReadOnly reports whether publishing outside stdout is disabled, by
// flag or by SIMSTAT_READONLY.
func isReadOnly() bool {
	return readOnly || viper.GetBool("readonly")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	code := 1
	var ee *exitErr
	if errors.As(err, &ee) {
		code = ee.code
	} else if ctx.Err() != nil {
		code = foundry.ExitSignalInt
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return code
}

// exitErr carries the exit code a failure should produce.
type exitErr struct {
	code    int
	message string
	err     error
}

func (e *exitErr) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitErr) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitErr{code: code, message: message, err: err}
}

