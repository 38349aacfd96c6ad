// Package config provides the explicit configuration object handed to the
// scenario suite. Nothing in the suite reads the environment directly; main
// loads a Config once and passes it down.
//
// CLI flags select what to run and how (browser, headed mode, parallelism,
// mocked sinks). Environment variables provide timeouts, sink credentials and
// file locations.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/scenario-suite/internal/ratelimit"
)

const (
	defaultBrowser           = "chromium"
	defaultTimeout           = 5 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	defaultScenarioTimeout   = 2 * time.Minute
	defaultParallelism       = 4
	defaultAWSRegion         = "auto"

	// Matches db.KeySize; config does not import db.
	resultsDBKeySize = 32
)

// Browsers lists the engines the playwright driver can launch.
var Browsers = []string{"chromium", "firefox", "webkit"}

// Config holds all suite configuration.
type Config struct {
	// Engine
	Browser  string
	Headless bool
	SlowMo   time.Duration

	// Waits. DefaultTimeout bounds every implicit element wait;
	// NavigationTimeout bounds page loads unless a step overrides it;
	// ScenarioTimeout bounds a whole scenario unless the scenario overrides it.
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	ScenarioTimeout   time.Duration

	// Scheduling
	Parallelism int
	RateLimit   ratelimit.Config

	// Scenario sources
	ScenarioDir string // directory of *.yaml scenario files, optional

	// Sinks
	ResultsDBPath   string // SQLCipher run history; empty disables
	ResultsDBKey    []byte // 32-byte key from RESULTS_DB_KEY (hex)
	ReportDir       string // where report.md and report.html are written; empty disables
	MetricsTextfile string // node-exporter textfile; empty disables
	Trace           bool   // export OpenTelemetry spans to stderr
	LogLevel        string

	// Mock sink flags (controlled by CLI flags, not env vars)
	NoEmail bool // log notifications instead of sending (--no-email)
	NoS3    bool // keep artifacts in memory instead of uploading (--no-s3)

	// Failure notification (Resend)
	ResendAPIKey    string
	ResendFromEmail string
	NotifyTo        []string

	// Artifact storage (S3-compatible)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // ARTIFACTS_BUCKET
	AWSPublicURL       string // ARTIFACTS_PUBLIC_URL
}

// Flags are the command-line selections for one invocation.
type Flags struct {
	List     bool
	Run      string // name glob
	Tag      string
	Browser  string
	Headed   bool
	Parallel int
	NoEmail  bool
	NoS3     bool
	MCPAddr  string
	Install  bool
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses the suite's CLI flags from args (without the program name).
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags
	var testMode bool
	fs := flag.NewFlagSet("scenarios", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&f.List, "list", false, "List scenarios and exit")
	fs.StringVar(&f.Run, "run", "", "Only run scenarios whose name matches this glob")
	fs.StringVar(&f.Tag, "tag", "", "Only run scenarios carrying this tag")
	fs.StringVar(&f.Browser, "browser", "", "Browser engine: chromium, firefox or webkit (overrides SCENARIO_BROWSER)")
	fs.BoolVar(&f.Headed, "headed", false, "Show the browser window")
	fs.IntVar(&f.Parallel, "parallel", 0, "Maximum scenarios in flight (overrides SCENARIO_PARALLELISM)")
	fs.BoolVar(&f.NoEmail, "no-email", false, "Log failure notifications instead of sending them")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Keep failure artifacts in memory instead of uploading")
	fs.BoolVar(&testMode, "test", false, "Shorthand for --no-email --no-s3")
	fs.StringVar(&f.MCPAddr, "mcp-addr", "", "Serve scenario tools over MCP on this address instead of running once")
	fs.BoolVar(&f.Install, "install", false, "Download the Playwright driver and the selected browser before running")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if testMode {
		f.NoEmail = true
		f.NoS3 = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.NoEmail = f.NoEmail
	cfg.NoS3 = f.NoS3

	// Engine
	cfg.Browser = strings.ToLower(getEnvOrDefault("SCENARIO_BROWSER", defaultBrowser))
	if f.Browser != "" {
		cfg.Browser = strings.ToLower(f.Browser)
	}
	cfg.Headless = parseBoolOrDefault("SCENARIO_HEADLESS", true)
	if f.Headed {
		cfg.Headless = false
	}
	cfg.SlowMo = parseDurationOrDefault("SCENARIO_SLOW_MO", 0)

	// Waits
	cfg.DefaultTimeout = parseDurationOrDefault("SCENARIO_DEFAULT_TIMEOUT", defaultTimeout)
	cfg.NavigationTimeout = parseDurationOrDefault("SCENARIO_NAVIGATION_TIMEOUT", defaultNavigationTimeout)
	cfg.ScenarioTimeout = parseDurationOrDefault("SCENARIO_TIMEOUT", defaultScenarioTimeout)

	// Scheduling
	cfg.Parallelism = parseIntOrDefault("SCENARIO_PARALLELISM", defaultParallelism)
	if f.Parallel > 0 {
		cfg.Parallelism = f.Parallel
	}
	cfg.RateLimit = ratelimit.Config{
		PerHostRPS:      parseFloat64OrDefault("RATE_LIMIT_PER_HOST_RPS", ratelimit.DefaultConfig.PerHostRPS),
		PerHostBurst:    parseIntOrDefault("RATE_LIMIT_PER_HOST_BURST", ratelimit.DefaultConfig.PerHostBurst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	cfg.ScenarioDir = getEnvOrDefault("SCENARIO_DIR", "")

	// Sinks
	cfg.ResultsDBPath = getEnvOrDefault("RESULTS_DB_PATH", "")
	var keyErr error
	if raw := getEnvOrDefault("RESULTS_DB_KEY", ""); raw != "" {
		cfg.ResultsDBKey, keyErr = hex.DecodeString(raw)
	}
	cfg.ReportDir = getEnvOrDefault("REPORT_DIR", "")
	cfg.MetricsTextfile = getEnvOrDefault("METRICS_TEXTFILE", "")
	cfg.Trace = parseBoolOrDefault("SCENARIO_TRACE", false)
	cfg.LogLevel = getEnvOrDefault("SCENARIO_LOG_LEVEL", "info")

	// Resend
	cfg.ResendAPIKey = getEnvOrDefault("RESEND_API_KEY", "")
	cfg.ResendFromEmail = getEnvOrDefault("RESEND_FROM_EMAIL", "")
	cfg.NotifyTo = splitList(os.Getenv("NOTIFY_EMAIL_TO"))

	// S3
	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultAWSRegion)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("ARTIFACTS_BUCKET", "")
	cfg.AWSPublicURL = getEnvOrDefault("ARTIFACTS_PUBLIC_URL", "")
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	if err := cfg.Validate(); err != nil {
		if keyErr != nil {
			var v *ValidationError
			if errors.As(err, &v) {
				v.Errors = append([]string{"RESULTS_DB_KEY must be hex encoded"}, v.Errors...)
			}
		}
		return nil, err
	}
	if keyErr != nil {
		return nil, &ValidationError{Errors: []string{"RESULTS_DB_KEY must be hex encoded"}}
	}
	return cfg, nil
}

// Validate checks that the configuration is usable and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !isKnownBrowser(c.Browser) {
		errs = append(errs, fmt.Sprintf("SCENARIO_BROWSER must be one of %s, got %q", strings.Join(Browsers, ", "), c.Browser))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, "SCENARIO_DEFAULT_TIMEOUT must be positive")
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, "SCENARIO_NAVIGATION_TIMEOUT must be positive")
	}
	if c.ScenarioTimeout <= 0 {
		errs = append(errs, "SCENARIO_TIMEOUT must be positive")
	} else if c.ScenarioTimeout < c.DefaultTimeout {
		errs = append(errs, "SCENARIO_TIMEOUT must not be shorter than SCENARIO_DEFAULT_TIMEOUT")
	}
	if c.SlowMo < 0 {
		errs = append(errs, "SCENARIO_SLOW_MO must not be negative")
	}
	if c.Parallelism < 1 {
		errs = append(errs, "SCENARIO_PARALLELISM must be at least 1")
	}
	if c.RateLimit.PerHostRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_HOST_RPS must be positive")
	}
	if c.RateLimit.PerHostBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_HOST_BURST must be positive")
	}

	if c.ResultsDBPath != "" && len(c.ResultsDBKey) != resultsDBKeySize {
		errs = append(errs, fmt.Sprintf("RESULTS_DB_KEY must be %d hex-encoded bytes when RESULTS_DB_PATH is set", resultsDBKeySize))
	}

	// Email: a recipient list turns notification on; sending for real needs a key.
	if len(c.NotifyTo) > 0 && !c.NoEmail {
		if c.ResendAPIKey == "" {
			errs = append(errs, "RESEND_API_KEY is required when NOTIFY_EMAIL_TO is set (set env var or use --no-email)")
		}
		if c.ResendFromEmail == "" {
			errs = append(errs, "RESEND_FROM_EMAIL is required when NOTIFY_EMAIL_TO is set (set env var or use --no-email)")
		}
	}

	// S3: a bucket turns artifact upload on; real uploads need credentials.
	if c.AWSBucketName != "" && !c.NoS3 {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when ARTIFACTS_BUCKET is set (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when ARTIFACTS_BUCKET is set (set env var or use --no-s3)")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// NotifyEnabled reports whether failures should produce an email.
func (c *Config) NotifyEnabled() bool {
	return len(c.NotifyTo) > 0
}

// ArtifactsEnabled reports whether failure artifacts should be stored.
func (c *Config) ArtifactsEnabled() bool {
	return c.AWSBucketName != "" || c.NoS3
}

// PrintStartupSummary prints a human-readable summary of the configuration to w.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "scenario suite starting...")
	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "  Browser:   %s (%s)\n", c.Browser, mode)
	fmt.Fprintf(w, "  Timeouts:  element %s, navigation %s, scenario %s\n", c.DefaultTimeout, c.NavigationTimeout, c.ScenarioTimeout)
	fmt.Fprintf(w, "  Parallel:  %d (per-host %.1f rps)\n", c.Parallelism, c.RateLimit.PerHostRPS)

	switch {
	case c.ResultsDBPath == "":
		fmt.Fprintln(w, "  History:   disabled")
	default:
		fmt.Fprintf(w, "  History:   %s\n", c.ResultsDBPath)
	}
	if c.ReportDir != "" {
		fmt.Fprintf(w, "  Reports:   %s\n", c.ReportDir)
	}
	switch {
	case !c.ArtifactsEnabled():
		fmt.Fprintln(w, "  Artifacts: disabled")
	case c.NoS3:
		fmt.Fprintln(w, "  Artifacts: in-memory S3 (--no-s3)")
	default:
		fmt.Fprintf(w, "  Artifacts: s3://%s\n", c.AWSBucketName)
	}
	switch {
	case !c.NotifyEnabled():
		fmt.Fprintln(w, "  Notify:    disabled")
	case c.NoEmail:
		fmt.Fprintln(w, "  Notify:    mock (--no-email)")
	default:
		fmt.Fprintf(w, "  Notify:    Resend to %s\n", strings.Join(c.NotifyTo, ", "))
	}
	fmt.Fprintln(w, "")
}

func isKnownBrowser(name string) bool {
	for _, b := range Browsers {
		if b == name {
			return true
		}
	}
	return false
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
