// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides (COURSEWATCH_BROWSER_ENDPOINT, ...).
const EnvPrefix = "COURSEWATCH"

// Supported browser driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Selectors() SelectorsConfig
	Timing() TimingConfig
	Course() CourseConfig
	Verification() VerificationConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserEndpoint(string)
	SetBrowserTargetMatch(string)

	// Verification Setters
	SetVerificationEnabled(bool)
	SetVerificationMaxPasses(int)
}

// Config holds the entire application configuration.
// Sections are read through the Interface getters.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	BrowserCfg      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	SelectorsCfg    SelectorsConfig    `mapstructure:"selectors" yaml:"selectors"`
	TimingCfg       TimingConfig       `mapstructure:"timing" yaml:"timing"`
	CourseCfg       CourseConfig       `mapstructure:"course" yaml:"course"`
	VerificationCfg VerificationConfig `mapstructure:"verification" yaml:"verification"`
	// RunCfg gets its marching orders from CLI flags, not the config file.
	RunCfg RunConfig `mapstructure:"-" yaml:"-"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig           { return c.BrowserCfg }
func (c *Config) Selectors() SelectorsConfig       { return c.SelectorsCfg }
func (c *Config) Timing() TimingConfig             { return c.TimingCfg }
func (c *Config) Course() CourseConfig             { return c.CourseCfg }
func (c *Config) Verification() VerificationConfig { return c.VerificationCfg }
func (c *Config) Run() RunConfig                   { return c.RunCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.RunCfg = rc }

// Browser Setters
func (c *Config) SetBrowserDriver(d string)      { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserEndpoint(e string)    { c.BrowserCfg.Endpoint = e }
func (c *Config) SetBrowserTargetMatch(m string) { c.BrowserCfg.TargetMatch = m }

// Verification Setters
func (c *Config) SetVerificationEnabled(b bool)  { c.VerificationCfg.Enabled = b }
func (c *Config) SetVerificationMaxPasses(n int) { c.VerificationCfg.MaxPasses = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes how to reach the already running browser.
type BrowserConfig struct {
	// Driver selects the automation backend: "chromedp" or "rod".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Endpoint is the host:port of the remote debugging listener.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// TargetMatch picks the tab whose URL contains this string. Empty picks the first real page.
	TargetMatch string `mapstructure:"target_match" yaml:"target_match"`
	// AttachTimeout bounds the total time spent retrying the attach.
	AttachTimeout time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	// ActionTimeout bounds every individual query, click or script call.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// CloseOnFinish closes the whole browser after a successful run instead of just detaching.
	CloseOnFinish bool `mapstructure:"close_on_finish" yaml:"close_on_finish"`
}

// SelectorsConfig is the DOM vocabulary of the course player.
type SelectorsConfig struct {
	Section        string `mapstructure:"section" yaml:"section"`
	Tick           string `mapstructure:"tick" yaml:"tick"`
	Arrow          string `mapstructure:"arrow" yaml:"arrow"`
	CollapsedClass string `mapstructure:"collapsed_class" yaml:"collapsed_class"`
	// TopicsXPath is a template taking the 1-based section index.
	TopicsXPath string `mapstructure:"topics_xpath" yaml:"topics_xpath"`
	Player      string `mapstructure:"player" yaml:"player"`
	OuterFrame  string `mapstructure:"outer_frame" yaml:"outer_frame"`
	InnerFrame  string `mapstructure:"inner_frame" yaml:"inner_frame"`
	Video       string `mapstructure:"video" yaml:"video"`
}

// TimingConfig holds every pause and wait used while pacing the walk.
type TimingConfig struct {
	ClickPause        time.Duration `mapstructure:"click_pause" yaml:"click_pause"`
	LoadPause         time.Duration `mapstructure:"load_pause" yaml:"load_pause"`
	SectionPause      time.Duration `mapstructure:"section_pause" yaml:"section_pause"`
	RetryPause        time.Duration `mapstructure:"retry_pause" yaml:"retry_pause"`
	ReloadPause       time.Duration `mapstructure:"reload_pause" yaml:"reload_pause"`
	PostWatchPause    time.Duration `mapstructure:"post_watch_pause" yaml:"post_watch_pause"`
	PlayerTimeout     time.Duration `mapstructure:"player_timeout" yaml:"player_timeout"`
	OuterFrameTimeout time.Duration `mapstructure:"outer_frame_timeout" yaml:"outer_frame_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ReadyRetries      int           `mapstructure:"ready_retries" yaml:"ready_retries"`
	ReadyInterval     time.Duration `mapstructure:"ready_interval" yaml:"ready_interval"`
}

// CourseConfig controls which sections are walked and how stubborn the walker is.
type CourseConfig struct {
	SkipPatterns      []string `mapstructure:"skip_patterns" yaml:"skip_patterns"`
	MaxSectionRetries int      `mapstructure:"max_section_retries" yaml:"max_section_retries"`
}

// VerificationConfig controls the passes that follow the main pass.
type VerificationConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Delay   time.Duration `mapstructure:"delay" yaml:"delay"`
	// MaxPasses caps the number of verification passes. Zero means no cap.
	MaxPasses int `mapstructure:"max_passes" yaml:"max_passes"`
}

// RunConfig holds per-invocation settings taken from the command line.
type RunConfig struct {
	ReportPath string
	DryRun     bool
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "coursewatch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.endpoint", "127.0.0.1:9222")
	v.SetDefault("browser.target_match", "")
	v.SetDefault("browser.attach_timeout", "30s")
	v.SetDefault("browser.action_timeout", "20s")
	v.SetDefault("browser.close_on_finish", false)

	// -- Selectors --
	v.SetDefault("selectors.section", ".tocSubTitle")
	v.SetDefault("selectors.tick", ".icon-Tick")
	v.SetDefault("selectors.arrow", ".icon-DownArrow")
	v.SetDefault("selectors.collapsed_class", "expand_more")
	v.SetDefault("selectors.topics_xpath", "(//mat-card-subtitle)[%d]/following-sibling::div//div[contains(@class, 'modTitle')]")
	v.SetDefault("selectors.player", ".videoPlayer")
	v.SetDefault("selectors.outer_frame", "#myPlayer")
	v.SetDefault("selectors.inner_frame", "#content")
	v.SetDefault("selectors.video", "video")

	// -- Timing --
	v.SetDefault("timing.click_pause", "500ms")
	v.SetDefault("timing.load_pause", "4s")
	v.SetDefault("timing.section_pause", "2s")
	v.SetDefault("timing.retry_pause", "2s")
	v.SetDefault("timing.reload_pause", "5s")
	v.SetDefault("timing.post_watch_pause", "2s")
	v.SetDefault("timing.player_timeout", "5s")
	v.SetDefault("timing.outer_frame_timeout", "15s")
	v.SetDefault("timing.wait_timeout", "30s")
	v.SetDefault("timing.poll_interval", "500ms")
	v.SetDefault("timing.ready_retries", 10)
	v.SetDefault("timing.ready_interval", "1s")

	// -- Course --
	v.SetDefault("course.skip_patterns", []string{"Final Assessment"})
	v.SetDefault("course.max_section_retries", 3)

	// -- Verification --
	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.delay", "2s")
	v.SetDefault("verification.max_passes", 10)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The endpoint is the one value people set ad hoc from the shell.
	_ = v.BindEnv("browser.endpoint", EnvPrefix+"_ENDPOINT", EnvPrefix+"_BROWSER_ENDPOINT")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return err
	}
	if err := c.SelectorsCfg.Validate(); err != nil {
		return err
	}
	if err := c.TimingCfg.Validate(); err != nil {
		return err
	}
	if c.CourseCfg.MaxSectionRetries < 1 {
		return fmt.Errorf("course.max_section_retries must be at least 1")
	}
	if c.VerificationCfg.MaxPasses < 0 {
		return fmt.Errorf("verification.max_passes must not be negative")
	}
	if c.VerificationCfg.Delay < 0 {
		return fmt.Errorf("verification.delay must not be negative")
	}
	return nil
}

// Validate checks the browser connection settings.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverRod, b.Driver)
	}
	if strings.TrimSpace(b.Endpoint) == "" {
		return fmt.Errorf("browser.endpoint is a required configuration field")
	}
	if b.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if b.AttachTimeout < 0 {
		return fmt.Errorf("browser.attach_timeout must not be negative")
	}
	return nil
}

// Validate checks that every selector is present and the topics template takes exactly one index.
func (s *SelectorsConfig) Validate() error {
	required := map[string]string{
		"selectors.section":      s.Section,
		"selectors.tick":         s.Tick,
		"selectors.arrow":        s.Arrow,
		"selectors.topics_xpath": s.TopicsXPath,
		"selectors.player":       s.Player,
		"selectors.outer_frame":  s.OuterFrame,
		"selectors.inner_frame":  s.InnerFrame,
		"selectors.video":        s.Video,
	}
	for key, val := range required {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if n := strings.Count(s.TopicsXPath, "%d"); n != 1 || strings.Count(s.TopicsXPath, "%") != 1 {
		return fmt.Errorf("selectors.topics_xpath must contain exactly one %%d verb")
	}
	return nil
}

// Validate rejects negative pauses and empty readiness loops.
func (t *TimingConfig) Validate() error {
	durations := map[string]time.Duration{
		"timing.click_pause":         t.ClickPause,
		"timing.load_pause":          t.LoadPause,
		"timing.section_pause":       t.SectionPause,
		"timing.retry_pause":         t.RetryPause,
		"timing.reload_pause":        t.ReloadPause,
		"timing.post_watch_pause":    t.PostWatchPause,
		"timing.player_timeout":      t.PlayerTimeout,
		"timing.outer_frame_timeout": t.OuterFrameTimeout,
		"timing.wait_timeout":        t.WaitTimeout,
		"timing.ready_interval":      t.ReadyInterval,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if t.PollInterval <= 0 {
		return fmt.Errorf("timing.poll_interval must be a positive duration")
	}
	if t.ReadyRetries < 1 {
		return fmt.Errorf("timing.ready_retries must be at least 1")
	}
	return nil
}
