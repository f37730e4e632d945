package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"studyplan/internal/availability"
	"studyplan/internal/planner"
	"studyplan/internal/zoned"
)

// ICSConfig describes a busy-calendar source. Either URL or Path is set.
type ICSConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// AvailabilityConfig tunes normalization and free-window derivation.
type AvailabilityConfig struct {
	LongBlockHours int `yaml:"long_block_hours" json:"long_block_hours"`
	DayStartHour   int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour     int `yaml:"day_end_hour" json:"day_end_hour"`
	MinFreeMinutes int `yaml:"min_free_minutes" json:"min_free_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the plan feed.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the user's days are counted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the cron schedule on which `serve` re-plans.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// TasksFile and AvailabilityFile are YAML inputs; OutputDir receives
	// plan.json and plan.ics. Relative paths resolve against the config
	// file's directory.
	TasksFile        string `yaml:"tasks_file" json:"tasks_file"`
	AvailabilityFile string `yaml:"availability_file" json:"availability_file"`
	OutputDir        string `yaml:"output_dir" json:"output_dir"`

	// CacheDir holds HTTP caches of remote ICS feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// HorizonDays is how many days ahead of now availability is planned.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CalendarName is the X-WR-CALNAME of the exported plan feed.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Planner      planner.Options    `yaml:"planner" json:"planner"`

	// Weekly are recurring availability templates.
	Weekly []availability.WeeklyTemplate `yaml:"weekly" json:"weekly"`

	// ICS lists busy calendars subtracted from availability.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Timezone:         "UTC",
		LogLevel:         "info",
		RefreshCron:      "*/30 * * * *",
		TasksFile:        "tasks.yaml",
		AvailabilityFile: "availability.yaml",
		OutputDir:        "out",
		CacheDir:         "cache",
		HorizonDays:      14,
		CalendarName:     "Study plan",
		Availability: AvailabilityConfig{
			LongBlockHours: availability.DefaultLongBlockHours,
			DayStartHour:   availability.DefaultDayStartHour,
			DayEndHour:     availability.DefaultDayEndHour,
			MinFreeMinutes: availability.DefaultMinFreeMinutes,
		},
		Planner: planner.DefaultOptions(),
		Weekly:  []availability.WeeklyTemplate{},
		ICS:     []ICSConfig{},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.TasksFile == "" {
		c.TasksFile = d.TasksFile
	}
	if c.AvailabilityFile == "" {
		c.AvailabilityFile = d.AvailabilityFile
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.CalendarName == "" {
		c.CalendarName = d.CalendarName
	}

	a := &c.Availability
	if a.LongBlockHours <= 0 {
		a.LongBlockHours = d.Availability.LongBlockHours
	}
	if a.MinFreeMinutes <= 0 {
		a.MinFreeMinutes = d.Availability.MinFreeMinutes
	}

	p := &c.Planner
	if p.MinSessionMinutes <= 0 {
		p.MinSessionMinutes = d.Planner.MinSessionMinutes
	}
	if p.MaxSessionMinutes <= 0 {
		p.MaxSessionMinutes = d.Planner.MaxSessionMinutes
	}
	if p.BufferMinutes < 0 {
		p.BufferMinutes = d.Planner.BufferMinutes
	}
	if p.MaxMinutesPerDay <= 0 {
		p.MaxMinutesPerDay = d.Planner.MaxMinutesPerDay
	}
	if p.HorizonDays <= 0 {
		p.HorizonDays = d.Planner.HorizonDays
	}

	if c.Weekly == nil {
		c.Weekly = []availability.WeeklyTemplate{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if !zoned.Supported(c.Timezone) {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, zoned.ErrUnsupportedZone))
	}
	a := c.Availability
	if a.DayStartHour < 0 || a.DayEndHour > 24 || a.DayEndHour <= a.DayStartHour {
		errs = append(errs, fmt.Errorf("availability: day hours %d-%d are not a valid range", a.DayStartHour, a.DayEndHour))
	}
	if c.Planner.MinSessionMinutes > c.Planner.MaxSessionMinutes {
		errs = append(errs, fmt.Errorf("planner: min_session_minutes %d exceeds max_session_minutes %d",
			c.Planner.MinSessionMinutes, c.Planner.MaxSessionMinutes))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	for i, w := range c.Weekly {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("weekly[%d]: %w", i, err))
		}
	}
	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		if src.URL == "" && src.Path == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url or path is required", i))
		}
		if src.ID != "" && seen[src.ID] {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
	}
	return errors.Join(errs...)
}

// ResolvePath makes p absolute relative to the directory of configPath.
func ResolvePath(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 permissions and returned.
//   - Otherwise the YAML is decoded on top of DefaultConfig, normalized
//     and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Decode over the defaults so keys absent from the file keep their
	// default rather than the zero value (a zero buffer is meaningful).
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// Save normalizes cfg and writes it atomically as YAML with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	// atomic.WriteFile keeps the old file's mode but not for new files.
	return os.Chmod(path, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
