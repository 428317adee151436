// Package config loads simstat's runtime configuration.
//
// Sources, highest precedence first: runtime overrides passed to Load,
// SIMSTAT_* environment variables, a simstat.yaml config file, defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for env vars and config file discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
	Vendor     string
}

// DefaultIdentity is simstat's identity.
func DefaultIdentity() *Identity {
	return &Identity{
		BinaryName: "simstat",
		EnvPrefix:  "SIMSTAT",
		ConfigName: "simstat",
		Vendor:     "3leaps",
	}
}

// Config is the complete runtime configuration.
type Config struct {
	// Root is the directory scanned by default.
	Root string `mapstructure:"root"`

	// Depth is 2 for root/group/job trees and 1 for root/job trees.
	Depth int `mapstructure:"depth"`

	Workers   int     `mapstructure:"workers"`
	RateLimit float64 `mapstructure:"rate_limit"`

	// Timezone is the IANA zone job timestamps were written in.
	Timezone string `mapstructure:"timezone"`

	Terms   TermsConfig   `mapstructure:"terms"`
	Files   FilesConfig   `mapstructure:"files"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Publish PublishConfig `mapstructure:"publish"`
}

// TermsConfig holds job name search terms.
type TermsConfig struct {
	Include    []string `mapstructure:"include"`
	Exclude    []string `mapstructure:"exclude"`
	IgnoreCase bool     `mapstructure:"ignore_case"`
}

// FilesConfig names the job artifacts.
type FilesConfig struct {
	Config      string `mapstructure:"config"`
	Progress    string `mapstructure:"progress"`
	OutputRegex string `mapstructure:"output_regex"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CacheTTL bounds how often /jobs triggers a rescan.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// PublishConfig configures where snapshots are written.
type PublishConfig struct {
	Destination    string `mapstructure:"destination"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// EnvSpec maps an environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetConfigFile makes Load read path instead of searching. It takes
// precedence over the <PREFIX>_CONFIG variable. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// envSuffixes maps env var suffixes (after the prefix) to config paths.
var envSuffixes = map[string]string{
	"ROOT":                "root",
	"DEPTH":               "depth",
	"WORKERS":             "workers",
	"RATE_LIMIT":          "rate_limit",
	"TIMEZONE":            "timezone",
	"INCLUDE":             "terms.include",
	"EXCLUDE":             "terms.exclude",
	"IGNORE_CASE":         "terms.ignore_case",
	"CONFIG_FILE":         "files.config",
	"PROGRESS_PATTERN":    "files.progress",
	"OUTPUT_REGEX":        "files.output_regex",
	"HOST":                "server.host",
	"PORT":                "server.port",
	"READ_TIMEOUT":        "server.read_timeout",
	"WRITE_TIMEOUT":       "server.write_timeout",
	"IDLE_TIMEOUT":        "server.idle_timeout",
	"SHUTDOWN_TIMEOUT":    "server.shutdown_timeout",
	"CACHE_TTL":           "server.cache_ttl",
	"LOG_LEVEL":           "logging.level",
	"LOG_PROFILE":         "logging.profile",
	"METRICS_ENABLED":     "metrics.enabled",
	"METRICS_PORT":        "metrics.port",
	"HEALTH_ENABLED":      "health.enabled",
	"DEBUG":               "debug.enabled",
	"PPROF_ENABLED":       "debug.pprof_enabled",
	"PUBLISH_DESTINATION": "publish.destination",
	"PUBLISH_REGION":      "publish.region",
	"PUBLISH_ENDPOINT":    "publish.endpoint",
	"PUBLISH_PROFILE":     "publish.profile",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("depth", 2)
	v.SetDefault("workers", 4)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("timezone", "Local")

	v.SetDefault("terms.include", []string{})
	v.SetDefault("terms.exclude", []string{})
	v.SetDefault("terms.ignore_case", false)

	v.SetDefault("files.config", "velodyne.card")
	v.SetDefault("files.progress", "status.timestep")
	v.SetDefault("files.output_regex", `\.o(\d+)$`)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cache_ttl", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("publish.destination", "stdout")
}

// Load builds the configuration and stores it for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		appIdentity = DefaultIdentity()
	}
	identity := *appIdentity
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, &identity, explicit); err != nil {
		return nil, err
	}

	for _, spec := range envSpecsFor(&identity) {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Terms.Include = compact(cfg.Terms.Include)
	cfg.Terms.Exclude = compact(cfg.Terms.Exclude)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Depth != 1 && c.Depth != 2 {
		errs = append(errs, fmt.Errorf("depth must be 1 or 2, got %d", c.Depth))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Server.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("server.cache_ttl must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves Timezone. Empty and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// readConfigFile merges the first config file found. An explicit path
// (argument or <PREFIX>_CONFIG) must exist; discovered paths are optional.
func readConfigFile(v *viper.Viper, id *Identity, explicit string) error {
	if explicit == "" {
		explicit = os.Getenv(id.EnvPrefix + "_CONFIG")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	var candidates []string
	if root, err := findProjectRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, id.ConfigName+".yaml"))
	}
	candidates = append(candidates, userConfigPaths(id)...)

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths returns per-user config file locations for the
// current identity.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}
	return userConfigPaths(id)
}

func userConfigPaths(id *Identity) []string {
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, id.Vendor, id.ConfigName, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, id.Vendor, id.ConfigName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName+".yaml"))
	}
	return paths
}

// getEnvSpecs returns the env var mappings for the current identity,
// sorted by name.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}
	return envSpecsFor(id)
}

func envSpecsFor(id *Identity) []EnvSpec {
	specs := make([]EnvSpec, 0, len(envSuffixes))
	for suffix, path := range envSuffixes {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + "_" + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// boundaryEnvVars hint the workspace root in CI, in priority order.
var boundaryEnvVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot locates the directory holding go.mod or .git above the
// working directory. In CI a boundary variable naming an absolute,
// existing ancestor of the working directory is returned directly.
// Without a marker, the working directory itself is the root.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if isCI() {
		for _, name := range boundaryEnvVars {
			if b := os.Getenv(name); b != "" && validBoundary(b, cwd) {
				return filepath.Clean(b), nil
			}
		}
	}

	for dir := cwd; ; {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

func validBoundary(boundary, cwd string) bool {
	if !filepath.IsAbs(boundary) {
		return false
	}
	fi, err := os.Stat(boundary)
	if err != nil || !fi.IsDir() {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(boundary), cwd)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
