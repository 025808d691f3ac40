package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facegate/internal/constants"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Terminal    TerminalConfig
	Remote      RemoteConfig
	Extractor   ExtractorConfig
	Database    DatabaseConfig
	Recognition RecognitionConfig
	Attendance  AttendanceConfig
	Sync        SyncConfig
	Web         WebConfig
	Log         LogConfig
}

type TerminalConfig struct {
	ID       string // stable terminal identifier, reported as the export source
	Timezone string // IANA zone used to derive the business day (defaults to Local)
}

type RemoteConfig struct {
	URL     string // base URL of the central business system
	Token   string // bearer token
	Timeout time.Duration
}

type ExtractorConfig struct {
	URL          string // defaults to http://localhost:8000
	Timeout      time.Duration
	MaxImageSize int
}

type DatabaseConfig struct {
	Driver       string // sqlite (default) or postgres
	URL          string // sqlite file path or PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type RecognitionConfig struct {
	Tolerances []float64 `yaml:"tolerances"`
	Metric     string    `yaml:"metric"` // euclidean or cosine
	Finder     string    `yaml:"finder"` // linear or hnsw
}

type AttendanceConfig struct {
	MinimumWorkDuration time.Duration
	ConfirmationTimeout time.Duration
	CooldownWindow      time.Duration
	InstantMode         bool
	AutoConfirmCheckout bool
	DayStartOffset      time.Duration // business day starts this long after midnight
}

type SyncConfig struct {
	Interval        time.Duration
	ExportBatchSize int
	Disabled        bool
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS whitelist in addition to localhost
	OperatorToken  string   // required for operator actions when set
}

type LogConfig struct {
	Level  string
	Format string
}

// policyFile mirrors policy.yaml. Durations stay strings until parsed.
type policyFile struct {
	Recognition struct {
		Tolerances []float64 `yaml:"tolerances"`
		Metric     string    `yaml:"metric"`
		Finder     string    `yaml:"finder"`
	} `yaml:"recognition"`
	Attendance struct {
		MinimumWorkDuration string `yaml:"minimum_work_duration"`
		ConfirmationTimeout string `yaml:"confirmation_timeout"`
		CooldownWindow      string `yaml:"cooldown_window"`
		InstantMode         *bool  `yaml:"instant_mode"`
		AutoConfirmCheckout *bool  `yaml:"auto_confirm_checkout"`
		DayStartOffset      string `yaml:"day_start_offset"`
	} `yaml:"attendance"`
	Sync struct {
		Interval        string `yaml:"interval"`
		RequestTimeout  string `yaml:"request_timeout"`
		ExportBatchSize int    `yaml:"export_batch_size"`
	} `yaml:"sync"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool reads a boolean environment variable, falling back to defaultVal.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// envDuration reads a Go duration (e.g. "90s", "1h") from the environment.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

// envString returns the env value or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envFloats parses a comma separated list of floats (e.g. "0.4,0.5,0.6").
func envFloats(key string, defaultVal []float64) []float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []float64
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f <= 0 {
			return defaultVal
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// envList parses a comma separated list, dropping empty entries.
func envList(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePolicy(data []byte, into *policyFile) error {
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse policy: %w", err)
	}
	return nil
}

func parseDuration(field, s string, defaultVal time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("policy %s: %w", field, err)
	}
	return d, nil
}

// Load builds the configuration from the embedded policy, an optional
// POLICY_FILE overlay and the environment, in that order of precedence.
func Load() (*Config, error) {
	var policy policyFile
	if err := parsePolicy(policyYAML, &policy); err != nil {
		// Embedded file, so this is a build problem rather than a runtime one.
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}
	if path := os.Getenv("POLICY_FILE"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		if err := parsePolicy(data, &policy); err != nil {
			return nil, err
		}
	}

	minWork, err := parseDuration("minimum_work_duration", policy.Attendance.MinimumWorkDuration, constants.DefaultMinimumWorkDuration)
	if err != nil {
		return nil, err
	}
	confirmTimeout, err := parseDuration("confirmation_timeout", policy.Attendance.ConfirmationTimeout, constants.DefaultConfirmationTimeout)
	if err != nil {
		return nil, err
	}
	cooldown, err := parseDuration("cooldown_window", policy.Attendance.CooldownWindow, constants.DefaultCooldownWindow)
	if err != nil {
		return nil, err
	}
	dayOffset, err := parseDuration("day_start_offset", policy.Attendance.DayStartOffset, 0)
	if err != nil {
		return nil, err
	}
	interval, err := parseDuration("sync interval", policy.Sync.Interval, constants.DefaultSyncInterval)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseDuration("sync request_timeout", policy.Sync.RequestTimeout, constants.DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	instant := policy.Attendance.InstantMode == nil || *policy.Attendance.InstantMode
	autoConfirm := policy.Attendance.AutoConfirmCheckout != nil && *policy.Attendance.AutoConfirmCheckout
	batch := policy.Sync.ExportBatchSize
	if batch <= 0 {
		batch = constants.DefaultExportBatchSize
	}

	cfg := &Config{
		Terminal: TerminalConfig{
			ID:       envString("TERMINAL_ID", defaultTerminalID()),
			Timezone: os.Getenv("TERMINAL_TIMEZONE"),
		},
		Remote: RemoteConfig{
			URL:     os.Getenv("REMOTE_URL"),
			Token:   os.Getenv("REMOTE_TOKEN"),
			Timeout: envDuration("REMOTE_TIMEOUT", requestTimeout),
		},
		Extractor: ExtractorConfig{
			URL:          os.Getenv("EXTRACTOR_URL"),
			Timeout:      envDuration("EXTRACTOR_TIMEOUT", 30*time.Second),
			MaxImageSize: envInt("EXTRACTOR_MAX_IMAGE_SIZE", constants.MaxImageSize),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(envString("DATABASE_DRIVER", "sqlite")),
			URL:          envString("DATABASE_URL", "attendance.db"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Recognition: RecognitionConfig{
			Tolerances: envFloats("FACE_TOLERANCES", policy.Recognition.Tolerances),
			Metric:     strings.ToLower(envString("FACE_DISTANCE_METRIC", orDefault(policy.Recognition.Metric, "euclidean"))),
			Finder:     strings.ToLower(envString("FACE_FINDER", orDefault(policy.Recognition.Finder, "linear"))),
		},
		Attendance: AttendanceConfig{
			MinimumWorkDuration: envDuration("MINIMUM_WORK_DURATION", minWork),
			ConfirmationTimeout: envDuration("CONFIRMATION_TIMEOUT", confirmTimeout),
			CooldownWindow:      envDuration("DETECTION_COOLDOWN", cooldown),
			InstantMode:         envBool("INSTANT_MODE", instant),
			AutoConfirmCheckout: envBool("AUTO_CONFIRM_CHECKOUT", autoConfirm),
			DayStartOffset:      envDuration("DAY_START_OFFSET", dayOffset),
		},
		Sync: SyncConfig{
			Interval:        envDuration("SYNC_INTERVAL", interval),
			ExportBatchSize: envInt("EXPORT_BATCH_SIZE", batch),
			Disabled:        envBool("SYNC_DISABLED", false),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			OperatorToken:  os.Getenv("WEB_OPERATOR_TOKEN"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
	}
	if len(cfg.Recognition.Tolerances) == 0 {
		cfg.Recognition.Tolerances = []float64{constants.DefaultTolerance}
	}
	return cfg, nil
}

// Validate reports configuration values the terminal cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Database.Driver) {
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver))
	}
	if !slices.Contains([]string{"euclidean", "cosine"}, c.Recognition.Metric) {
		errs = append(errs, fmt.Errorf("unsupported FACE_DISTANCE_METRIC %q", c.Recognition.Metric))
	}
	if !slices.Contains([]string{"linear", "hnsw"}, c.Recognition.Finder) {
		errs = append(errs, fmt.Errorf("unsupported FACE_FINDER %q", c.Recognition.Finder))
	}
	if c.Attendance.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("confirmation timeout must be positive"))
	}
	if c.Attendance.DayStartOffset >= 24*time.Hour {
		errs = append(errs, errors.New("day start offset must be below 24h"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync interval must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the business-day time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Terminal.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Terminal.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TERMINAL_TIMEZONE: %w", err)
	}
	return loc, nil
}

// defaultTerminalID derives a terminal id from the hostname, or a random one.
func defaultTerminalID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "terminal-" + uuid.NewString()[:8]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
