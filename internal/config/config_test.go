package config

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/scenario-suite/internal/ratelimit"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		Browser:           "chromium",
		Headless:          true,
		DefaultTimeout:    5 * time.Second,
		NavigationTimeout: 30 * time.Second,
		ScenarioTimeout:   2 * time.Minute,
		Parallelism:       4,
		RateLimit:         defaultRateLimitConfig(),
		NoEmail:           true,
		NoS3:              true,
	}
}

func defaultRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		PerHostRPS:      2,
		PerHostBurst:    4,
		CleanupInterval: time.Hour,
	}
}

func TestValidate_MinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_RequiresSinkSecretsWhenNotMocked(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NoEmail = false
	cfg.NoS3 = false
	cfg.NotifyTo = []string{"qa@example.com"}
	cfg.AWSBucketName = "scenario-artifacts"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when real sinks are enabled without secrets")
	}
	msg := err.Error()
	for _, expected := range []string{
		"RESEND_API_KEY",
		"RESEND_FROM_EMAIL",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func TestValidate_SenderAddressHasNoDefault(t *testing.T) {
	t.Setenv("RESEND_FROM_EMAIL", "")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("NOTIFY_EMAIL_TO", "qa@example.com")

	flags, err := ParseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	_, err = LoadConfig(flags)
	if err == nil || !strings.Contains(err.Error(), "RESEND_FROM_EMAIL") {
		t.Fatalf("expected RESEND_FROM_EMAIL error, got %v", err)
	}
	if strings.Contains(err.Error(), "RESEND_API_KEY") {
		t.Fatalf("key was set, got %v", err)
	}

	t.Setenv("RESEND_FROM_EMAIL", "alerts@example.com")
	cfg, err := LoadConfig(flags)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ResendFromEmail != "alerts@example.com" {
		t.Fatalf("ResendFromEmail = %q", cfg.ResendFromEmail)
	}
}

func TestValidate_SinksOffNeedNoSecrets(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NoEmail = false
	cfg.NoS3 = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sinks without recipients/bucket should need no secrets: %v", err)
	}
	if cfg.NotifyEnabled() || cfg.ArtifactsEnabled() {
		t.Fatal("sinks should be disabled without recipients and bucket")
	}
}

func testValidate_RejectsNonPositiveWaits(t *rapid.T) {
	cfg := validTestConfig()
	field := rapid.SampledFrom([]string{"default", "navigation", "scenario"}).Draw(t, "field")
	bad := -time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "bad"))

	var token string
	switch field {
	case "default":
		cfg.DefaultTimeout = bad
		token = "SCENARIO_DEFAULT_TIMEOUT"
	case "navigation":
		cfg.NavigationTimeout = bad
		token = "SCENARIO_NAVIGATION_TIMEOUT"
	case "scenario":
		cfg.ScenarioTimeout = bad
		token = "SCENARIO_TIMEOUT"
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for %s=%v", field, bad)
	}
	if !strings.Contains(err.Error(), token) {
		t.Fatalf("expected error mentioning %q, got: %v", token, err)
	}
}

func TestValidate_RejectsNonPositiveWaits(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsNonPositiveWaits)
}

func testValidate_RejectsUnknownBrowser(t *rapid.T) {
	cfg := validTestConfig()
	cfg.Browser = rapid.StringMatching(`[a-z]{1,12}`).Filter(func(s string) bool {
		return !isKnownBrowser(s)
	}).Draw(t, "browser")

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SCENARIO_BROWSER") {
		t.Fatalf("expected SCENARIO_BROWSER error for %q, got: %v", cfg.Browser, err)
	}
}

func TestValidate_RejectsUnknownBrowser(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsUnknownBrowser)
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("SCENARIO_BROWSER", "firefox")
	t.Setenv("SCENARIO_DEFAULT_TIMEOUT", "7s")
	t.Setenv("SCENARIO_PARALLELISM", "2")
	t.Setenv("NOTIFY_EMAIL_TO", " a@example.com , ,b@example.com ")
	t.Setenv("AWS_ENDPOINT_URL_S3", "https://fly.storage.tigris.dev/")
	t.Setenv("ARTIFACTS_BUCKET", "runs")

	flags, err := ParseFlags([]string{"-test", "-headed", "-parallel", "8", "-browser", "WebKit"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg, err := LoadConfig(flags)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Browser != "webkit" {
		t.Fatalf("Browser = %q, want flag override webkit", cfg.Browser)
	}
	if cfg.Headless {
		t.Fatal("-headed should disable headless")
	}
	if cfg.Parallelism != 8 {
		t.Fatalf("Parallelism = %d, want 8", cfg.Parallelism)
	}
	if cfg.DefaultTimeout != 7*time.Second {
		t.Fatalf("DefaultTimeout = %v, want 7s", cfg.DefaultTimeout)
	}
	if len(cfg.NotifyTo) != 2 || cfg.NotifyTo[1] != "b@example.com" {
		t.Fatalf("NotifyTo = %#v", cfg.NotifyTo)
	}
	if cfg.AWSPublicURL != "https://fly.storage.tigris.dev/runs" {
		t.Fatalf("AWSPublicURL = %q", cfg.AWSPublicURL)
	}
	if !cfg.NoEmail || !cfg.NoS3 {
		t.Fatal("-test should enable both mocks")
	}
}

func TestParseFlags_RejectsUnknownFlag(t *testing.T) {
	t.Parallel()
	if _, err := ParseFlags([]string{"-nope"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true); !got {
		t.Fatal("parseBoolOrDefault fallback mismatch: got=false want=true")
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   value   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
}

func TestValidate_ResultsDBNeedsKey(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.ResultsDBPath = "/tmp/runs.db"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "RESULTS_DB_KEY") {
		t.Fatalf("expected RESULTS_DB_KEY error, got %v", err)
	}
	cfg.ResultsDBKey = make([]byte, 32)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config with key, got %v", err)
	}
}

func TestLoadConfig_ResultsDBKeyHex(t *testing.T) {
	t.Setenv("RESULTS_DB_PATH", "/tmp/runs.db")
	t.Setenv("RESULTS_DB_KEY", strings.Repeat("ab", 32))
	t.Setenv("REPORT_DIR", "/tmp/reports")

	cfg, err := LoadConfig(Flags{NoEmail: true, NoS3: true})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.ResultsDBKey) != 32 || cfg.ResultsDBKey[0] != 0xab {
		t.Fatalf("ResultsDBKey = %x", cfg.ResultsDBKey)
	}
	if cfg.ReportDir != "/tmp/reports" {
		t.Fatalf("ReportDir = %q", cfg.ReportDir)
	}

	t.Setenv("RESULTS_DB_KEY", "not-hex")
	if _, err := LoadConfig(Flags{NoEmail: true, NoS3: true}); err == nil || !strings.Contains(err.Error(), "hex encoded") {
		t.Fatalf("expected hex error, got %v", err)
	}
}
