package application

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"provider-presence/internal/ingest"
	"provider-presence/internal/presence/domain/timeline"
	"provider-presence/internal/report/export"
)

// Input kinds.
const (
	InputCSV      = "csv"
	InputPostgres = "postgres"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

const dateLayout = "2006-01-02"

// Config defines the presence pipeline configuration.
type Config struct {
	Dates               DatesConfig    `yaml:"dates"`
	Hours               []int          `yaml:"hours"`
	CutoffHour          int            `yaml:"cutoff_hour"`
	OperationalFromHour int            `yaml:"operational_from_hour"`
	Workers             int            `yaml:"workers"`
	Input               InputConfig    `yaml:"input"`
	Output              OutputConfig   `yaml:"output"`
	Store               StoreConfig    `yaml:"store"`
	DatabaseURL         string         `yaml:"database_url"`
	HTTPAddr            string         `yaml:"http_addr"`
	JWTSecret           string         `yaml:"jwt_secret"`
	Schedule            ScheduleConfig `yaml:"schedule"`
	Watch               bool           `yaml:"watch"`
	WatchDebounce       time.Duration  `yaml:"watch_debounce"`
}

// DatesConfig lists the calendar dates to report, either explicitly or as an
// inclusive from/to range. Both empty derives the range from the events.
type DatesConfig struct {
	List []string `yaml:"list"`
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
}

// InputConfig selects where raw status records come from. From/To bound the
// postgres query and are ignored for csv.
type InputConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// OutputConfig lists run artifacts. XLSX and PDF files are written next to
// the results file when their format is enabled.
type OutputConfig struct {
	ProcessedPath string   `yaml:"processed_path"`
	ResultsPath   string   `yaml:"results_path"`
	Formats       []string `yaml:"formats"`
}

// StoreConfig selects the run repository.
type StoreConfig struct {
	Kind       string `yaml:"kind"`
	SQLitePath string `yaml:"sqlite_path"`
}

// ScheduleConfig defines the daily run time ("15:04", UTC). Empty disables it.
type ScheduleConfig struct {
	DailyAt string `yaml:"daily_at"`
}

// LoadConfig reads .env, then the YAML file named by PRESENCE_CONFIG, then
// environment overrides, and validates the result.
func LoadConfig() (Config, error) {
	loadDotEnv()

	cfg := defaultConfig()
	if path := os.Getenv("PRESENCE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("presence: parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		CutoffHour: ingest.DefaultCutoffHour,
		Workers:    runtime.NumCPU(),
		Input: InputConfig{
			Kind: InputCSV,
			Path: filepath.FromSlash("data/raw_events.csv"),
		},
		Output: OutputConfig{
			ProcessedPath: filepath.FromSlash("data/processed_events.csv"),
			ResultsPath:   filepath.FromSlash("data/online_seconds.csv"),
			Formats:       []string{string(export.FormatCSV)},
		},
		Store: StoreConfig{
			Kind:       StoreMemory,
			SQLitePath: filepath.FromSlash("data/presence.db"),
		},
		HTTPAddr:      ":8080",
		WatchDebounce: 500 * time.Millisecond,
	}
}

func loadDotEnv() {
	path := getenvDefault("PRESENCE_ENV_FILE", ".env")
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

func applyEnv(cfg *Config) {
	if from, to := os.Getenv("PRESENCE_DATES_FROM"), os.Getenv("PRESENCE_DATES_TO"); from != "" || to != "" {
		cfg.Dates = DatesConfig{From: from, To: to}
	}
	if list := splitCSV(os.Getenv("PRESENCE_DATES")); len(list) > 0 {
		cfg.Dates = DatesConfig{List: list}
	}
	cfg.CutoffHour = getenvIntDefault("PRESENCE_CUTOFF_HOUR", cfg.CutoffHour)
	cfg.OperationalFromHour = getenvIntDefault("PRESENCE_OPERATIONAL_FROM_HOUR", cfg.OperationalFromHour)
	cfg.Workers = getenvIntDefault("PRESENCE_WORKERS", cfg.Workers)
	cfg.Input.Kind = getenvDefault("PRESENCE_INPUT_KIND", cfg.Input.Kind)
	cfg.Input.Path = getenvDefault("PRESENCE_INPUT", cfg.Input.Path)
	cfg.Output.ProcessedPath = getenvDefault("PRESENCE_PROCESSED_PATH", cfg.Output.ProcessedPath)
	cfg.Output.ResultsPath = getenvDefault("PRESENCE_RESULTS_PATH", cfg.Output.ResultsPath)
	if formats := splitCSV(os.Getenv("PRESENCE_EXPORT_FORMATS")); len(formats) > 0 {
		cfg.Output.Formats = formats
	}
	cfg.Store.Kind = getenvDefault("PRESENCE_STORE", cfg.Store.Kind)
	cfg.Store.SQLitePath = getenvDefault("PRESENCE_SQLITE_PATH", cfg.Store.SQLitePath)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = getenvDefault("DATABASE_URL", os.Getenv("PG_DSN"))
	}
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.JWTSecret)
	cfg.Schedule.DailyAt = getenvDefault("PRESENCE_DAILY_AT", cfg.Schedule.DailyAt)
	cfg.Watch = getenvBoolDefault("PRESENCE_WATCH", cfg.Watch)
	cfg.WatchDebounce = getenvDuration("PRESENCE_WATCH_DEBOUNCE", cfg.WatchDebounce)
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.CutoffHour < 1 || c.CutoffHour > 24 {
		return ingest.ErrInvalidCutoffHour
	}
	if c.OperationalFromHour < 0 || c.OperationalFromHour > 23 {
		return fmt.Errorf("presence: operational_from_hour %d: %w", c.OperationalFromHour, timeline.ErrInvalidHour)
	}
	if c.Workers < 0 {
		return errors.New("presence: workers must not be negative")
	}
	switch c.Input.Kind {
	case InputCSV:
		if c.Input.Path == "" {
			return errors.New("presence: input path required")
		}
	case InputPostgres:
		if c.DatabaseURL == "" {
			return errors.New("presence: database_url required for postgres input")
		}
		if _, _, err := c.InputWindow(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("presence: unknown input kind %q", c.Input.Kind)
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("presence: sqlite_path required")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("presence: database_url required for postgres store")
		}
	default:
		return fmt.Errorf("presence: unknown store kind %q", c.Store.Kind)
	}
	if _, err := c.ExportFormats(); err != nil {
		return err
	}
	if _, err := c.ResolveDates(); err != nil {
		return err
	}
	if c.Schedule.DailyAt != "" {
		if _, _, err := parseDailyAt(c.Schedule.DailyAt); err != nil {
			return fmt.Errorf("presence: schedule.daily_at %q: %w", c.Schedule.DailyAt, err)
		}
	}
	return nil
}

// ResolveDates returns the configured dates, or nil when they should be
// derived from the events.
func (c Config) ResolveDates() ([]time.Time, error) {
	if len(c.Dates.List) > 0 {
		dates := make([]time.Time, 0, len(c.Dates.List))
		for _, value := range c.Dates.List {
			d, err := parseDate(value)
			if err != nil {
				return nil, err
			}
			dates = append(dates, d)
		}
		return dates, nil
	}
	if c.Dates.From == "" && c.Dates.To == "" {
		return nil, nil
	}
	if c.Dates.From == "" || c.Dates.To == "" {
		return nil, errors.New("presence: dates.from and dates.to must be set together")
	}
	from, err := parseDate(c.Dates.From)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(c.Dates.To)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("presence: dates.to %s before dates.from %s", c.Dates.To, c.Dates.From)
	}
	return timeline.DateRange(from, to), nil
}

// EngineConfig builds the engine configuration.
func (c Config) EngineConfig() (timeline.EngineConfig, error) {
	dates, err := c.ResolveDates()
	if err != nil {
		return timeline.EngineConfig{}, err
	}
	return timeline.EngineConfig{
		Dates:               dates,
		Hours:               c.Hours,
		OperationalFromHour: c.OperationalFromHour,
		Workers:             c.Workers,
	}, nil
}

// ExportFormats parses the enabled export formats.
func (c Config) ExportFormats() ([]export.Format, error) {
	return export.ParseFormats(strings.Join(c.Output.Formats, ","))
}

// InputWindow parses the postgres input bounds; zero values are unbounded.
func (c Config) InputWindow() (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if c.Input.From != "" {
		if from, err = ingest.ParseEventTime(c.Input.From); err != nil {
			return from, to, fmt.Errorf("presence: input.from: %w", err)
		}
	}
	if c.Input.To != "" {
		if to, err = ingest.ParseEventTime(c.Input.To); err != nil {
			return from, to, fmt.Errorf("presence: input.to: %w", err)
		}
	}
	return from, to, nil
}

func parseDate(value string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence: invalid date %q: %w", value, err)
	}
	return d, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
