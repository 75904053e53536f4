// Package config assembles and validates the configuration of one collection
// run from flags, environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/blackmichael/bsky-collect/internal/domain"
	"github.com/blackmichael/bsky-collect/internal/output"
)

// Command names a collection mode.
type Command string

const (
	CommandStream     Command = "stream"
	CommandHistorical Command = "historical"
	CommandFollowers  Command = "followers"
	CommandFollowing  Command = "following"
	CommandRepostedBy Command = "reposted-by"
)

// IsGraph reports whether the command lists relationship edges.
func (c Command) IsGraph() bool {
	switch c {
	case CommandFollowers, CommandFollowing, CommandRepostedBy:
		return true
	}
	return false
}

// Keys shared by flags and environment variables. Flags use the key as their
// name; environment variables are BSKY_ plus the key upper-cased with
// underscores.
const (
	KeyHandle      = "handle"
	KeyAppPassword = "app-password"
	KeyPDS         = "pds"
	KeyFirehoseURL = "firehose-url"

	KeyLogLevel  = "log-level"
	KeyLogFormat = "log-format"

	KeyOutDir      = "out-dir"
	KeyFormat      = "format"
	KeyBatchSize   = "batch-size"
	KeyCompression = "compression"

	KeyMaxItems   = "max-items"
	KeyType       = "type"
	KeyHasLink    = "has-link"
	KeyFilterTerm = "filter-term"
	KeyLiteral    = "literal"
	KeyCutoff     = "cutoff"
	KeySince      = "since"
	KeyUntil      = "until"
	KeyQuery      = "query"
	KeyNoBackfill = "no-backfill"

	KeyMetricsAddr = "metrics-addr"
	KeyRateLimit   = "rate-limit"
)

// Defaults.
const (
	DefaultPDS       = "https://bsky.social"
	DefaultBatchSize = 50
	DefaultFormat    = "json"
	DefaultRateLimit = 10.0
)

// Config is the validated configuration of a run.
type Config struct {
	Command Command

	Handle      string
	AppPassword string
	PDS         string
	FirehoseURL string

	LogLevel  string
	LogFormat string

	OutDir      string
	Format      output.Format
	BatchSize   int
	Compression output.Compression

	// Query is sent to the search endpoint in historical mode.
	Query string

	// Subject is the DID or handle (or post URI for reposted-by) whose
	// relationships are listed in graph modes.
	Subject string

	Pattern     *domain.Pattern
	Types       []domain.ActionType
	RequireLink bool

	MaxItems int
	Cutoff   time.Time
	Since    time.Time
	Until    time.Time
	Backfill bool

	MetricsAddr string
	RateLimit   float64
}

// NewViper returns a viper instance bound to the BSKY_ environment, after
// loading envFiles (default ".env") into the process environment. Missing
// files are ignored; variables already set are not overridden.
func NewViper(envFiles ...string) *viper.Viper {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix("BSKY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyAppPassword, "BSKY_APP_PSWD", "BSKY_APP_PASSWORD")

	v.SetDefault(KeyPDS, DefaultPDS)
	v.SetDefault(KeyBatchSize, DefaultBatchSize)
	v.SetDefault(KeyFormat, DefaultFormat)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyRateLimit, DefaultRateLimit)
	return v
}

// Load reads and validates the configuration for cmd. subject is the
// positional argument of graph commands. now anchors the cutoff and
// since/until checks.
func Load(v *viper.Viper, cmd Command, subject string, now time.Time) (*Config, error) {
	cfg := &Config{
		Command:     cmd,
		Handle:      strings.TrimPrefix(strings.TrimSpace(v.GetString(KeyHandle)), "@"),
		AppPassword: v.GetString(KeyAppPassword),
		PDS:         v.GetString(KeyPDS),
		FirehoseURL: v.GetString(KeyFirehoseURL),
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		OutDir:      v.GetString(KeyOutDir),
		BatchSize:   v.GetInt(KeyBatchSize),
		Query:       strings.TrimSpace(v.GetString(KeyQuery)),
		Subject:     strings.TrimSpace(subject),
		RequireLink: v.GetBool(KeyHasLink),
		MaxItems:    v.GetInt(KeyMaxItems),
		Backfill:    !v.GetBool(KeyNoBackfill),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		RateLimit:   v.GetFloat64(KeyRateLimit),
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "bsky_" + strings.ReplaceAll(string(cmd), "-", "_")
	}

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Handle == "" {
		add(errors.New("handle is required (--handle or BSKY_HANDLE)"))
	}
	if cfg.AppPassword == "" {
		add(errors.New("app password is required (--app-password or BSKY_APP_PSWD)"))
	}

	var err error
	cfg.Format, err = output.ParseFormat(v.GetString(KeyFormat))
	add(err)
	cfg.Compression, err = output.ParseCompression(v.GetString(KeyCompression))
	add(err)
	if cfg.Format == output.FormatSQLite && cfg.Compression != output.CompressNone {
		add(errors.New("compression does not apply to sqlite output"))
	}
	if cfg.BatchSize < 1 {
		add(fmt.Errorf("batch size must be >= 1, got %d", cfg.BatchSize))
	}
	if v.IsSet(KeyMaxItems) && cfg.MaxItems < 1 {
		add(fmt.Errorf("max items must be >= 1 when set, got %d", cfg.MaxItems))
	}
	if cfg.RateLimit < 0 {
		add(fmt.Errorf("rate limit must be >= 0, got %g", cfg.RateLimit))
	}

	if cmd.IsGraph() {
		if cfg.Subject == "" {
			add(fmt.Errorf("%s requires a subject", cmd))
		}
		return cfg, errors.Join(errs...)
	}

	cfg.Types, err = parseTypes(v.GetStringSlice(KeyType))
	add(err)

	if term := v.GetString(KeyFilterTerm); term != "" {
		if v.GetBool(KeyLiteral) {
			cfg.Pattern = domain.LiteralPattern(term)
		} else {
			cfg.Pattern, err = domain.CompilePattern(term)
			add(err)
		}
	}

	switch cmd {
	case CommandStream:
		add(cfg.loadCutoff(v.GetString(KeyCutoff), now))
	case CommandHistorical:
		if cfg.Query == "" {
			cfg.Query = strings.TrimSpace(v.GetString(KeyFilterTerm))
		}
		if cfg.Query == "" {
			add(errors.New("historical requires --query (or --filter-term)"))
		}
		add(cfg.loadRange(v.GetString(KeySince), v.GetString(KeyUntil), now))
	default:
		add(fmt.Errorf("unknown command %q", cmd))
	}

	return cfg, errors.Join(errs...)
}

func (c *Config) loadCutoff(raw string, now time.Time) error {
	if raw == "" {
		return nil
	}
	t, err := ParseTime(raw)
	if err != nil {
		return fmt.Errorf("cutoff: %w", err)
	}
	if !t.After(now) {
		return fmt.Errorf("cutoff %s must be in the future", t.Format(time.RFC3339))
	}
	c.Cutoff = t
	return nil
}

func (c *Config) loadRange(rawSince, rawUntil string, now time.Time) error {
	var errs []error
	if rawSince != "" {
		t, err := ParseTime(rawSince)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("since: %w", err))
		case t.After(now):
			errs = append(errs, fmt.Errorf("since %s must be in the past", t.Format(time.RFC3339)))
		default:
			c.Since = t
		}
	}
	if rawUntil != "" {
		t, err := ParseTime(rawUntil)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("until: %w", err))
		case t.After(now):
			errs = append(errs, fmt.Errorf("until %s must be in the past", t.Format(time.RFC3339)))
		default:
			c.Until = t
		}
	}
	if !c.Since.IsZero() && !c.Until.IsZero() && !c.Since.Before(c.Until) {
		errs = append(errs, errors.New("since must be before until"))
	}
	return errors.Join(errs...)
}

// parseTypes accepts repeated or comma-separated action types.
func parseTypes(raw []string) ([]domain.ActionType, error) {
	var (
		types []domain.ActionType
		errs  []error
	)
	for _, item := range raw {
		for _, s := range strings.Split(item, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			t, err := domain.ParseActionType(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			types = append(types, t)
		}
	}
	return types, errors.Join(errs...)
}

// FilterSpec returns the acceptance configuration of content runs.
func (c *Config) FilterSpec() domain.FilterSpec {
	return domain.NewFilterSpec(c.Pattern, c.Types, c.RequireLink)
}

// TerminationSpec returns the stop configuration of the run.
func (c *Config) TerminationSpec() domain.TerminationSpec {
	return domain.TerminationSpec{
		MaxItems: c.MaxItems,
		Cutoff:   c.Cutoff,
		Since:    c.Since,
		Until:    c.Until,
	}
}

// BaseName is the file stem of the run, e.g. bsky_stream_20250102_150405.
func (c *Config) BaseName(started time.Time) string {
	return fmt.Sprintf("bsky_%s_%s", strings.ReplaceAll(string(c.Command), "-", "_"), started.UTC().Format("20060102_150405"))
}

// OutputOptions returns the writer configuration for the run.
func (c *Config) OutputOptions(started time.Time) output.Options {
	opts := output.Options{
		Dir:         c.OutDir,
		BaseName:    c.BaseName(started),
		Format:      c.Format,
		BatchSize:   c.BatchSize,
		Compression: c.Compression,
	}
	if c.Command.IsGraph() {
		opts.Table = "edges"
	} else {
		opts.Table = "posts"
	}
	return opts
}

// Collections returns the Jetstream collections needed to observe the
// configured action types, or nil for all of them.
func (c *Config) Collections() []string {
	if len(c.Types) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, t := range c.Types {
		var nsid string
		switch t {
		case domain.ActionPost, domain.ActionReply, domain.ActionQuote:
			nsid = domain.CollectionPost
		case domain.ActionRepost:
			nsid = domain.CollectionRepost
		case domain.ActionLike:
			nsid = domain.CollectionLike
		default:
			return nil
		}
		if _, ok := seen[nsid]; !ok {
			seen[nsid] = struct{}{}
			out = append(out, nsid)
		}
	}
	return out
}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// ParseTime accepts YYYY-MM-DD, YYYY-MM-DD HH:MM, YYYY-MM-DDTHH:MM:SS and
// RFC 3339. Values without an offset are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD, YYYY-MM-DD HH:MM, YYYY-MM-DDTHH:MM:SS or RFC 3339", s)
}
