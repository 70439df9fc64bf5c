// Package config provides configuration management for mailbridge.
package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/greeddj/mailbridge-go/internal/credential"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/freebusy"
	"github.com/greeddj/mailbridge-go/internal/identity"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// defaultLabel is the default label for the mail account.
	defaultLabel = "mail"
	// defaultStorePath is the SQLite database used when none is configured.
	defaultStorePath = "mailbridge.db"
	// maxRate caps --rate.
	maxRate = 100
	// maxLookbackDaysLimit is the largest accepted correlation.max_lookback_days.
	maxLookbackDaysLimit = 365
)

// DefaultPromotionalKeywords mark newsletters and marketing mail that never needs a reply.
var DefaultPromotionalKeywords = []string{
	"newsletter", "iscriviti", "webinar", "evento online", "evento digitale",
	"promo ", "promozione", "the future of", "unsubscribe", "webversion", "marketing",
}

// keyringGet looks up stored passwords. Tests replace it.
var keyringGet = credential.Get

// Config holds the entire configuration for the application.
type Config struct {
	Path string `json:"-" yaml:"-"` // Absolute path the config was read from.

	IMAP        IMAP              `json:"imap"        yaml:"imap"`        // Mail account; empty server uses the offline mailbox.
	SMTP        SMTP              `json:"smtp"        yaml:"smtp"`        // Outgoing mail.
	Store       Store             `json:"store"       yaml:"store"`       // Embedded calendar, task and offline mail store.
	Cache       Cache             `json:"cache"       yaml:"cache"`       // Ordinal table limits.
	Limits      Limits            `json:"limits"      yaml:"limits"`      // Listing bounds.
	Correlation Correlation       `json:"correlation" yaml:"correlation"` // Pending-reply detection.
	FreeBusy    FreeBusy          `json:"freebusy"    yaml:"freebusy"`    // Free-time search.
	Worker      Worker            `json:"worker"      yaml:"worker"`      // Provider lane.
	Filters     Filters           `json:"filters"     yaml:"filters"`     // Pending-reply filters.
	Features    features.Settings `json:"features"    yaml:"features"`    // Tool gating.
}

// IMAP holds mail server connection data.
type IMAP struct {
	Label   string   `json:"label"   yaml:"label"`   // Human-readable label for the server
	Server  string   `json:"server"  yaml:"server"`  // Server address (host:port)
	User    string   `json:"user"    yaml:"user"`    // Username
	Pass    string   `json:"pass"    yaml:"pass"`    // Password
	TLS     *bool    `json:"tls"     yaml:"tls"`     // Implicit TLS; defaults to true
	Keyring bool     `json:"keyring" yaml:"keyring"` // Read the password from the OS keyring when pass is empty
	Address string   `json:"address" yaml:"address"` // The user's own address; defaults to user when it is one
	Sent    string   `json:"sent"    yaml:"sent"`    // Sent folder; resolved by special-use when empty
	Archive string   `json:"archive" yaml:"archive"` // Archive folder
	Trash   string   `json:"trash"   yaml:"trash"`   // Trash folder
	Folders []string `json:"folders" yaml:"folders"` // Folders listed and checked for pending replies
	Preview int      `json:"preview" yaml:"preview"` // Body bytes fetched for previews; 0 disables
}

// UseTLS reports whether the IMAP connection uses implicit TLS.
func (i IMAP) UseTLS() bool {
	return i.TLS == nil || *i.TLS
}

// KeyringKey is the keyring entry holding the IMAP password.
func (i IMAP) KeyringKey() string {
	return credential.Key("imap", i.User, i.Server)
}

// SMTP holds outgoing server data. Empty user and pass fall back to the IMAP ones.
type SMTP struct {
	Server string `json:"server" yaml:"server"` // host:port; empty disables sending
	User   string `json:"user"   yaml:"user"`
	Pass   string `json:"pass"   yaml:"pass"`
	TLS    bool   `json:"tls"    yaml:"tls"`  // Implicit TLS; otherwise STARTTLS when offered
	From   string `json:"from"   yaml:"from"` // From header; defaults to imap.address
}

// Store configures the embedded SQLite store.
type Store struct {
	Path      string   `json:"path"       yaml:"path"`
	Calendars []string `json:"calendars"  yaml:"calendars"`  // Default calendars; empty means all
	TaskLists []string `json:"task_lists" yaml:"task_lists"` // Default task lists; empty means all
}

// CacheLimit bounds one ordinal table.
type CacheLimit struct {
	Capacity int      `json:"capacity" yaml:"capacity"`
	TTL      Duration `json:"ttl"      yaml:"ttl"`
}

// Cache configures the ordinal tables per kind.
type Cache struct {
	Messages CacheLimit `json:"messages" yaml:"messages"`
	Events   CacheLimit `json:"events"   yaml:"events"`
	Tasks    CacheLimit `json:"tasks"    yaml:"tasks"`
	Dir      string     `json:"dir"      yaml:"dir"` // Folder snapshots; empty means ~/.mailbridge/cache.
}

// Limits bounds listings.
type Limits struct {
	MaxDays       MaxDays `json:"max_days"       yaml:"max_days"`
	MaxResults    int     `json:"max_results"    yaml:"max_results"`
	ScanCap       int     `json:"scan_cap"       yaml:"scan_cap"`
	OccurrenceCap int     `json:"occurrence_cap" yaml:"occurrence_cap"`
}

// MaxDays is the widest accepted window per kind.
type MaxDays struct {
	Mail   int `json:"mail"   yaml:"mail"`
	Events int `json:"events" yaml:"events"`
	Tasks  int `json:"tasks"  yaml:"tasks"`
}

// For returns the bound for kind.
func (m MaxDays) For(kind model.Kind) int {
	switch kind {
	case model.KindEvent:
		return m.Events
	case model.KindTask:
		return m.Tasks
	}
	return m.Mail
}

// Correlation tunes pending-reply detection.
type Correlation struct {
	InitialLookbackDays int      `json:"initial_lookback_days" yaml:"initial_lookback_days"`
	MaxLookbackDays     int      `json:"max_lookback_days"     yaml:"max_lookback_days"`
	Skew                Duration `json:"skew"                  yaml:"skew"`
	UserAddresses       []string `json:"user_addresses"        yaml:"user_addresses"`
	TrustAnsweredFlag   bool     `json:"trust_answered_flag"   yaml:"trust_answered_flag"`
	SentFolders         []string `json:"sent_folders"          yaml:"sent_folders"`
}

// FreeBusy tunes free-time search.
type FreeBusy struct {
	WorkStart       string `json:"work_start"       yaml:"work_start"` // HH:MM
	WorkEnd         string `json:"work_end"         yaml:"work_end"`
	Timezone        string `json:"timezone"         yaml:"timezone"` // IANA name or Local
	SkipWeekends    bool   `json:"skip_weekends"    yaml:"skip_weekends"`
	TentativeFree   bool   `json:"tentative_free"   yaml:"tentative_free"`
	OOFFree         bool   `json:"oof_free"         yaml:"oof_free"`
	IntervalMinutes int    `json:"interval_minutes" yaml:"interval_minutes"`
	MaxResults      int    `json:"max_results"      yaml:"max_results"`
}

// Location loads the configured timezone.
func (f FreeBusy) Location() (*time.Location, error) {
	if f.Timezone == "" || strings.EqualFold(f.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(f.Timezone)
}

// WorkingHours converts the configured day into freebusy.WorkingHours.
func (f FreeBusy) WorkingHours() (freebusy.WorkingHours, error) {
	loc, err := f.Location()
	if err != nil {
		return freebusy.WorkingHours{}, fmt.Errorf("freebusy timezone %q: %w", f.Timezone, err)
	}
	start, err := freebusy.ParseClock(f.WorkStart)
	if err != nil {
		return freebusy.WorkingHours{}, fmt.Errorf("freebusy work_start: %w", err)
	}
	end, err := freebusy.ParseClock(f.WorkEnd)
	if err != nil {
		return freebusy.WorkingHours{}, fmt.Errorf("freebusy work_end: %w", err)
	}
	if end <= start {
		return freebusy.WorkingHours{}, fmt.Errorf("freebusy work_end %s must be after work_start %s", f.WorkEnd, f.WorkStart)
	}
	return freebusy.WorkingHours{Start: start, End: end, Location: loc, SkipWeekends: f.SkipWeekends}, nil
}

// Worker configures the provider lane.
type Worker struct {
	Rate        float64  `json:"rate"         yaml:"rate"` // Calls per second; 0 disables limiting
	Burst       int      `json:"burst"        yaml:"burst"`
	CallTimeout Duration `json:"call_timeout" yaml:"call_timeout"`
	Queue       int      `json:"queue"        yaml:"queue"`
}

// Filters holds pending-reply filters.
type Filters struct {
	PromotionalKeywords []string `json:"promotional_keywords" yaml:"promotional_keywords"`
}

// New loads configuration from the file specified in CLI context.
// It automatically detects the format (JSON or YAML) based on file extension.
// Supported extensions: .json, .yaml, .yml
// A missing file is accepted only when --config was not given explicitly; then defaults apply.
func New(cCtx *cli.Context) (*Config, error) {
	configPath := cCtx.String("config")

	var (
		cfg *Config
		err error
	)
	if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) && !cCtx.IsSet("config") {
		cfg = Default()
	} else if cfg, err = Load(configPath); err != nil {
		return nil, err
	}

	if cCtx.IsSet("rate") {
		rate := cCtx.Float64("rate")
		if rate < 0 || rate > maxRate {
			return nil, fmt.Errorf("--rate must be between 0 and %d, got %v", maxRate, rate)
		}
		cfg.Worker.Rate = rate
	}
	if cCtx.IsSet("timeout") {
		if d := cCtx.Duration("timeout"); d > 0 {
			cfg.Worker.CallTimeout = Duration(d)
		}
	}
	if cCtx.IsSet("store") {
		cfg.Store.Path = cCtx.String("store")
	}

	if err := cfg.resolvePassword(); err != nil {
		return nil, err
	}

	// Validate required fields.
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied: no IMAP server,
// so mail is served from the local store.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads and parses a config file and applies defaults. It does not validate.
func Load(configPath string) (*Config, error) {
	filePath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for config file %q: %w", configPath, err)
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %q does not exist", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %q: %w", filePath, err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON in config file %q: %w", filePath, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file %q: %w", filePath, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format %q; supported: .json, .yaml, .yml", ext)
	}

	cfg.Path = filePath
	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults fills every unset value.
func (c *Config) setDefaults() {
	c.IMAP.Label = cmp.Or(c.IMAP.Label, defaultLabel)
	if len(c.IMAP.Folders) == 0 {
		c.IMAP.Folders = []string{"INBOX"}
	}
	if c.IMAP.Address == "" && strings.Contains(c.IMAP.User, "@") {
		c.IMAP.Address = c.IMAP.User
	}
	c.SMTP.User = cmp.Or(c.SMTP.User, c.IMAP.User)
	c.SMTP.From = cmp.Or(c.SMTP.From, c.IMAP.Address)

	c.Store.Path = cmp.Or(c.Store.Path, defaultStorePath)

	c.Cache.Messages = c.Cache.Messages.orDefault(identity.DefaultMessageCapacity, identity.DefaultMessageTTL)
	c.Cache.Events = c.Cache.Events.orDefault(identity.DefaultEventCapacity, identity.DefaultEventTTL)
	c.Cache.Tasks = c.Cache.Tasks.orDefault(identity.DefaultTaskCapacity, identity.DefaultTaskTTL)

	c.Limits.MaxDays.Mail = cmp.Or(c.Limits.MaxDays.Mail, 30)
	c.Limits.MaxDays.Events = cmp.Or(c.Limits.MaxDays.Events, 90)
	c.Limits.MaxDays.Tasks = cmp.Or(c.Limits.MaxDays.Tasks, 365)
	c.Limits.MaxResults = cmp.Or(c.Limits.MaxResults, 25)
	c.Limits.ScanCap = cmp.Or(c.Limits.ScanCap, 400)
	c.Limits.OccurrenceCap = cmp.Or(c.Limits.OccurrenceCap, 500)

	c.Correlation.InitialLookbackDays = cmp.Or(c.Correlation.InitialLookbackDays, 14)
	c.Correlation.MaxLookbackDays = cmp.Or(c.Correlation.MaxLookbackDays, 180)
	c.Correlation.Skew = cmp.Or(c.Correlation.Skew, Duration(5*time.Minute))
	if len(c.Correlation.UserAddresses) == 0 && c.IMAP.Address != "" {
		c.Correlation.UserAddresses = []string{c.IMAP.Address}
	}
	if len(c.Correlation.SentFolders) == 0 {
		c.Correlation.SentFolders = []string{cmp.Or(c.IMAP.Sent, "Sent")}
	}

	c.FreeBusy.WorkStart = cmp.Or(c.FreeBusy.WorkStart, "08:00")
	c.FreeBusy.WorkEnd = cmp.Or(c.FreeBusy.WorkEnd, "18:00")
	c.FreeBusy.Timezone = cmp.Or(c.FreeBusy.Timezone, "Local")
	c.FreeBusy.IntervalMinutes = cmp.Or(c.FreeBusy.IntervalMinutes, 30)
	c.FreeBusy.MaxResults = cmp.Or(c.FreeBusy.MaxResults, freebusy.DefaultMaxResults)

	c.Worker.Burst = cmp.Or(c.Worker.Burst, 1)
	c.Worker.CallTimeout = cmp.Or(c.Worker.CallTimeout, Duration(60*time.Second))
	c.Worker.Queue = cmp.Or(c.Worker.Queue, 64)

	if c.Filters.PromotionalKeywords == nil {
		c.Filters.PromotionalKeywords = DefaultPromotionalKeywords
	}
}

func (l CacheLimit) orDefault(capacity int, ttl time.Duration) CacheLimit {
	return CacheLimit{Capacity: cmp.Or(l.Capacity, capacity), TTL: cmp.Or(l.TTL, Duration(ttl))}
}

// resolvePassword reads the IMAP password from the keyring when asked to.
func (c *Config) resolvePassword() error {
	if c.IMAP.Server == "" || c.IMAP.Pass != "" || !c.IMAP.Keyring {
		c.SMTP.Pass = cmp.Or(c.SMTP.Pass, c.IMAP.Pass)
		return nil
	}
	pass, err := keyringGet(c.IMAP.KeyringKey())
	if err != nil {
		return fmt.Errorf("imap password from keyring: %w", err)
	}
	c.IMAP.Pass = pass
	c.SMTP.Pass = cmp.Or(c.SMTP.Pass, pass)
	return nil
}

// IdentityLimits converts the cache section for identity.New.
func (c *Config) IdentityLimits() map[model.Kind]identity.Limit {
	return map[model.Kind]identity.Limit{
		model.KindMessage: {Capacity: c.Cache.Messages.Capacity, TTL: c.Cache.Messages.TTL.Std()},
		model.KindEvent:   {Capacity: c.Cache.Events.Capacity, TTL: c.Cache.Events.TTL.Std()},
		model.KindTask:    {Capacity: c.Cache.Tasks.Capacity, TTL: c.Cache.Tasks.TTL.Std()},
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.IMAP.Server != "" {
		if c.IMAP.User == "" {
			return fmt.Errorf("imap user is required")
		}
		if c.IMAP.Pass == "" {
			return fmt.Errorf("imap password is required (set imap.pass or imap.keyring)")
		}
	}
	if c.SMTP.Server != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp from address is required (set smtp.from or imap.address)")
	}
	for name, limit := range map[string]CacheLimit{"messages": c.Cache.Messages, "events": c.Cache.Events, "tasks": c.Cache.Tasks} {
		if limit.Capacity < 0 || limit.TTL < 0 {
			return fmt.Errorf("cache.%s: capacity and ttl must not be negative", name)
		}
	}
	if c.Limits.MaxDays.Mail < 0 || c.Limits.MaxDays.Events < 0 || c.Limits.MaxDays.Tasks < 0 {
		return fmt.Errorf("limits.max_days must not be negative")
	}
	if c.Limits.MaxResults < 0 || c.Limits.ScanCap < 0 || c.Limits.OccurrenceCap < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Correlation.MaxLookbackDays > maxLookbackDaysLimit {
		return fmt.Errorf("correlation.max_lookback_days must be at most %d", maxLookbackDaysLimit)
	}
	if c.Correlation.InitialLookbackDays < 1 || c.Correlation.InitialLookbackDays > c.Correlation.MaxLookbackDays {
		return fmt.Errorf("correlation.initial_lookback_days must be between 1 and max_lookback_days (%d)", c.Correlation.MaxLookbackDays)
	}
	if _, err := c.FreeBusy.WorkingHours(); err != nil {
		return err
	}
	if c.FreeBusy.IntervalMinutes < 1 || c.FreeBusy.IntervalMinutes > 24*60 {
		return fmt.Errorf("freebusy.interval_minutes must be between 1 and 1440")
	}
	if c.FreeBusy.MaxResults < 1 || c.FreeBusy.MaxResults > freebusy.MaxResultsLimit {
		return fmt.Errorf("freebusy.max_results must be between 1 and %d", freebusy.MaxResultsLimit)
	}
	if c.Worker.Rate < 0 || c.Worker.Rate > maxRate {
		return fmt.Errorf("worker.rate must be between 0 and %d", maxRate)
	}
	if c.Worker.Burst < 1 || c.Worker.Queue < 1 {
		return fmt.Errorf("worker.burst and worker.queue must be positive")
	}
	return nil
}
