package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simstat/internal/config"
	apperrors "github.com/3leaps/simstat/internal/errors"
	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/pkg/manifest"
	"github.com/3leaps/simstat/pkg/publish"
)

var (
	doctorProvider string
	doctorManifest string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the toolchain, configuration, scan root and publish target.

Examples:
  simstat doctor                          # Environment and config checks
  simstat doctor --manifest monitor.yaml  # Also validate a manifest
  simstat doctor --provider s3            # S3 credential and bucket checks`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run publish provider checks (s3)")
	doctorCmd.Flags().StringVarP(&doctorManifest, "manifest", "m", "", "Validate this monitor manifest")
}

type checkStatus int

const (
	checkPassed checkStatus = iota
	checkWarned
	checkFailed
	// checkAborted stops the run with exitCode.
	checkAborted
)

type checkResult struct {
	status   checkStatus
	detail   string
	fields   []zap.Field
	err      error
	exitCode int
}

func passed(detail string, fields ...zap.Field) checkResult {
	return checkResult{status: checkPassed, detail: detail, fields: fields}
}

func failed(detail string, err error) checkResult {
	return checkResult{status: checkFailed, detail: detail, err: err}
}

// doctorState carries what earlier checks learned to later ones.
type doctorState struct {
	cfg         *config.Config
	destination string
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context, st *doctorState) checkResult
}

// doctorChecks lists the checks in run order. The manifest check is only
// present when a manifest path is given.
func doctorChecks(manifestPath string) []doctorCheck {
	checks := []doctorCheck{
		{"Go version", checkGoVersion},
		{"Crucible access", checkCrucible},
		{"Gofulmen access", checkGofulmen},
		{"config directory", checkConfigDir},
		{"environment", func(context.Context, *doctorState) checkResult {
			return passed(runtime.GOOS+"/"+runtime.GOARCH,
				zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))
		}},
		{"configuration", checkConfig},
		{"scan root", checkScanRoot},
	}
	if manifestPath != "" {
		checks = append(checks, doctorCheck{"manifest", func(_ context.Context, st *doctorState) checkResult {
			return checkManifest(manifestPath, st)
		}})
	}
	return checks
}

func checkGoVersion(context.Context, *doctorState) checkResult {
	v := runtime.Version()
	if v < "go1.23" {
		return checkResult{status: checkWarned, detail: v + " (recommended: go1.23+)", fields: []zap.Field{zap.String("go_version", v)}}
	}
	return passed(v, zap.String("go_version", v))
}

func checkCrucible(context.Context, *doctorState) checkResult {
	v := crucible.GetVersion().Crucible
	if v == "" {
		return checkResult{
			status:   checkAborted,
			detail:   "Cannot access Crucible",
			err:      apperrors.NewExternalServiceError("Crucible service unavailable"),
			exitCode: foundry.ExitExternalServiceUnavailable,
		}
	}
	return passed("v"+v, zap.String("crucible_version", v))
}

func checkGofulmen(context.Context, *doctorState) checkResult {
	v := crucible.GetVersion().Gofulmen
	if v == "" {
		return failed("Cannot access Gofulmen", nil)
	}
	return passed("v"+v, zap.String("gofulmen_version", v))
}

func checkConfigDir(ctx context.Context, _ *doctorState) checkResult {
	dir, err := os.UserConfigDir()
	if err != nil {
		return checkResult{
			status:   checkAborted,
			detail:   "Cannot find config directory",
			err:      apperrors.WrapInternal(ctx, err, "Cannot find config directory"),
			exitCode: foundry.ExitFileNotFound,
		}
	}
	return passed(dir, zap.String("config_dir", dir))
}

func checkConfig(ctx context.Context, st *doctorState) checkResult {
	cfg, err := config.Load(ctx)
	if err != nil {
		return failed("Invalid configuration", err)
	}
	st.cfg = cfg
	st.destination = cfg.Publish.Destination
	return passed(fmt.Sprintf("workers=%d depth=%d", cfg.Workers, cfg.Depth),
		zap.Int("workers", cfg.Workers),
		zap.Int("depth", cfg.Depth),
		zap.String("timezone", cfg.Timezone))
}

func checkScanRoot(ctx context.Context, st *doctorState) checkResult {
	switch {
	case st.cfg == nil:
		return checkResult{status: checkWarned, detail: "skipped (no configuration)"}
	case st.cfg.Root == "":
		return passed("not configured (pass it to scan)")
	}
	if err := (rootChecker{root: st.cfg.Root}).CheckHealth(ctx); err != nil {
		return failed(st.cfg.Root+" is not readable", err)
	}
	return passed(st.cfg.Root, zap.String("root", st.cfg.Root))
}

func checkManifest(path string, st *doctorState) checkResult {
	m, err := manifest.Load(path)
	if err == nil {
		m.ApplyDefaults()
		if err = manifest.Validate(m); err == nil {
			_, err = m.CrawlerConfig()
		}
	}
	if err != nil {
		return failed(path, err)
	}
	st.destination = m.Publish.Destination
	return passed(path, zap.String("root", m.Root))
}

// runChecks logs one numbered line per check. It reports whether every
// check passed, and returns an error when a check aborts the run.
func runChecks(ctx context.Context, logger *zap.Logger, checks []doctorCheck, st *doctorState) (bool, error) {
	ok := true
	for i, c := range checks {
		res := c.run(ctx, st)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		fields := res.fields
		if res.err != nil {
			fields = append(fields, zap.Error(res.err))
		}

		switch res.status {
		case checkPassed:
			logger.Info(prefix+" ✅ "+res.detail, fields...)
		case checkWarned:
			logger.Warn(prefix+" ⚠️  "+res.detail, fields...)
			ok = false
		case checkFailed:
			logger.Error(prefix+" ❌ "+res.detail, fields...)
			ok = false
		case checkAborted:
			logger.Error(prefix+" ❌ "+res.detail, fields...)
			return false, exitError(res.exitCode, res.detail, res.err)
		}
	}
	return ok, nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	banner := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		banner = id.BinaryName + " doctor"
	}
	logger.Info("=== " + banner + " ===")
	logger.Info("")
	logger.Info("Running diagnostic checks...")
	logger.Info("")

	st := &doctorState{}
	ok, err := runChecks(ctx, logger, doctorChecks(doctorManifest), st)
	if err != nil {
		return err
	}

	dest, destErr := publish.ParseDestination(st.destination)
	if doctorProvider == "s3" || (destErr == nil && dest.Kind == publish.KindS3) {
		logger.Info("")
		logger.Info("S3 Provider Checks:")
		s3ok, err := runChecks(ctx, logger, s3Checks(dest), st)
		if err != nil {
			return err
		}
		ok = ok && s3ok
	}

	logger.Info("")
	if ok {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", banner))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("")
	logger.Info("=== End Diagnostics ===")
	return nil
}

// s3Checks verifies AWS credentials and, for an s3 destination, the
// bucket itself. A credential failure skips the remaining checks.
func s3Checks(dest publish.Destination) []doctorCheck {
	var credsOK bool
	checks := []doctorCheck{
		{"AWS credentials", func(ctx context.Context, _ *doctorState) checkResult {
			cfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				printAWSCredentialsHelp()
				return failed("Cannot load AWS config", err)
			}
			creds, err := cfg.Credentials.Retrieve(ctx)
			if err != nil {
				printAWSCredentialsHelp()
				return failed("Cannot retrieve credentials", err)
			}
			credsOK = true
			source := creds.Source
			if source == "" {
				source = "unknown"
			}
			return passed("Found credentials",
				zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
				zap.String("credential_source", source))
		}},
	}
	if dest.Kind != publish.KindS3 {
		return checks
	}
	return append(checks, doctorCheck{"destination bucket", func(ctx context.Context, _ *doctorState) checkResult {
		if !credsOK {
			return checkResult{status: checkWarned, detail: "skipped (no credentials)"}
		}
		pub, err := publish.New(ctx, dest, publish.Options{})
		if err == nil {
			defer func() { _ = pub.Close() }()
			err = pub.CheckHealth(ctx)
		}
		if err != nil {
			return failed(dest.Dir, err)
		}
		return passed(dest.Dir, zap.String("destination", dest.String()))
	}})
}

// maskAccessKey keeps only the last four characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	l := observability.CLILogger
	l.Info("")
	l.Info("To configure AWS credentials:")
	l.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or")
	l.Info("  2. Run 'aws configure' and set AWS_PROFILE, or")
	l.Info("  3. Run on infrastructure with an attached IAM role")
	l.Info("")
	l.Info("For S3-compatible stores such as MinIO, also set publish.endpoint")
	l.Info("in simstat.yaml or SIMSTAT_PUBLISH_ENDPOINT.")
	l.Info("")
}
