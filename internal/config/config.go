package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"famsync/internal/models"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "FAMSYNC_"
	DefaultConfigFile = "famsync.yaml"
	durableDir        = "/data"

	mappingFile     = "event-mapping.json"
	ignoreFile      = "ignored-events.json"
	localEventsFile = "local-events.json"
	lockFile        = "famsync.lock"
)

// Config is the process-wide configuration. It is loaded once at startup and
// passed to every component; nothing reads the environment after Load.
type Config struct {
	Google    Google    `koanf:"google"`
	Calendar  Calendars `koanf:"calendar"`
	Household Household `koanf:"household"`
	Storage   Storage   `koanf:"storage"`
	Sync      Sync      `koanf:"sync"`
	Rules     Rules     `koanf:"rules"`
	Sources   Sources   `koanf:"sources"`
}

type Google struct {
	Credentials  string `koanf:"credentials"`
	Token        string `koanf:"token"`
	ClientID     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
}

// Calendars binds each routing target to a provider calendar id.
type Calendars struct {
	Family  string `koanf:"family"`
	PersonA string `koanf:"persona"`
	PersonB string `koanf:"personb"`
}

// Household names the people the routing rules know about. PersonA and
// PersonB own the private calendars; Members are everyone else (children).
type Household struct {
	PersonA string   `koanf:"persona"`
	PersonB string   `koanf:"personb"`
	Members []string `koanf:"members"`
}

type Storage struct {
	Dir string `koanf:"dir"`
}

type Sync struct {
	CallsPerSecond float64 `koanf:"callspersecond"`
	MonthsBack     int     `koanf:"monthsback"`
	MonthsAhead    int     `koanf:"monthsahead"`
	RetryAttempts  int     `koanf:"retryattempts"`
	Strict         bool    `koanf:"strict"`
	Timezone       string  `koanf:"timezone"`
}

// Rules holds the migration eligibility pattern lists. Each entry is a
// case-insensitive regular expression.
type Rules struct {
	Allow    []string `koanf:"allow"`
	Deny     []string `koanf:"deny"`
	Activity []string `koanf:"activity"`
}

type Sources struct {
	ICS    []ICSSource    `koanf:"ics"`
	CalDAV []CalDAVSource `koanf:"caldav"`
}

// ICSSource is a subscription feed, either an http(s) URL or a file path.
type ICSSource struct {
	Name      string   `koanf:"name"`
	URL       string   `koanf:"url"`
	Assignees []string `koanf:"assignees"`
	Category  string   `koanf:"category"`
}

// CalDAVSource is a personal calendar read over CalDAV.
type CalDAVSource struct {
	Name      string   `koanf:"name"`
	Endpoint  string   `koanf:"endpoint"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
	Calendar  string   `koanf:"calendar"`
	Assignees []string `koanf:"assignees"`
}

// Default returns the configuration used before any file or environment is applied.
func Default() Config {
	return Config{
		Google: Google{
			Credentials: "credentials.json",
			Token:       "token.json",
		},
		Household: Household{
			PersonA: "Svante",
			PersonB: "Sarah",
			Members: []string{"Algot", "Tuva"},
		},
		Sync: Sync{
			CallsPerSecond: 3,
			MonthsBack:     1,
			MonthsAhead:    6,
			RetryAttempts:  3,
			Timezone:       "Europe/Stockholm",
		},
		Rules: Rules{
			Allow: []string{
				`handboll`, `fotboll`, `innebandy`, `hockey`, `simning`, `gymnastik`,
				`match`, `träning`, `cup`, `turnering`, `seriespel`, `idrott`,
				`sportadmin`, `laget\.se`, `\bik\b`, `\bif\b`,
			},
			Deny: []string{
				`privat`, `personal`, `skola`, `school`, `jobb`, `arbete`, `work`,
			},
			Activity: []string{
				`match`, `träning`, `cup`, `turnering`, `handboll`, `fotboll`,
			},
		},
	}
}

// Load builds the configuration from struct defaults, the optional YAML file
// at path and FAMSYNC_* environment variables, in that order of precedence.
func Load(logger *slog.Logger, path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path == "" {
		path = DefaultConfigFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Config file not found, using defaults and environment.", "file", path)
		} else {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else {
		logger.Info("Loaded configuration file.", "file", path)
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnv,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Storage.Dir = resolveStorageDir(cfg.Storage.Dir)
	return &cfg, nil
}

// transformEnv maps FAMSYNC_SYNC_MONTHSAHEAD to sync.monthsahead and splits
// comma separated list values.
func transformEnv(k, v string) (string, any) {
	k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
	switch k {
	case "household.members", "rules.allow", "rules.deny", "rules.activity":
		return k, splitList(v)
	}
	return k, v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveStorageDir prefers an explicit override, then a mounted durable
// volume, then the working directory.
func resolveStorageDir(dir string) string {
	if dir != "" {
		return dir
	}
	if st, err := os.Stat(durableDir); err == nil && st.IsDir() {
		return durableDir
	}
	return "."
}

// Validate refuses configurations that would run against missing calendars
// or without credentials.
func (c *Config) Validate() error {
	var missing []string
	if c.Google.Credentials == "" {
		missing = append(missing, envPrefix+"GOOGLE_CREDENTIALS")
	}
	if c.Calendar.Family == "" {
		missing = append(missing, envPrefix+"CALENDAR_FAMILY")
	}
	if c.Calendar.PersonA == "" {
		missing = append(missing, envPrefix+"CALENDAR_PERSONA")
	}
	if c.Calendar.PersonB == "" {
		missing = append(missing, envPrefix+"CALENDAR_PERSONB")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", models.ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.Sync.CallsPerSecond <= 0 {
		return fmt.Errorf("sync.callspersecond must be positive, got %v", c.Sync.CallsPerSecond)
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Sync.Timezone, err)
	}
	return nil
}

// IDFor returns the provider calendar id bound to a routing target.
func (c Calendars) IDFor(t models.Target) string {
	switch t {
	case models.TargetPersonA:
		return c.PersonA
	case models.TargetPersonB:
		return c.PersonB
	default:
		return c.Family
	}
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Window returns the remote listing window around now.
func (c *Config) Window(now time.Time) models.Window {
	now = now.In(c.Location())
	return models.Window{
		Start: now.AddDate(0, -c.Sync.MonthsBack, 0),
		End:   now.AddDate(0, c.Sync.MonthsAhead, 0),
	}
}

func (c *Config) MappingPath() string     { return filepath.Join(c.Storage.Dir, mappingFile) }
func (c *Config) IgnorePath() string      { return filepath.Join(c.Storage.Dir, ignoreFile) }
func (c *Config) LocalEventsPath() string { return filepath.Join(c.Storage.Dir, localEventsFile) }
func (c *Config) LockPath() string        { return filepath.Join(c.Storage.Dir, lockFile) }
