// Package config loads harvester settings from defaults, a YAML file, .env
// files and HARVESTER_* environment variables, in increasing precedence.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARVESTER_"

// Config holds all harvester settings.
type Config struct {
	// Endpoint is the SPARQL endpoint URL.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// UserAgent identifies the harvester to the endpoint operator.
	UserAgent string `yaml:"user_agent" validate:"required"`

	Harvest     HarvestConfig     `yaml:"harvest"`
	Client      ClientConfig      `yaml:"client"`
	Storage     StorageConfig     `yaml:"storage"`
	Consolidate ConsolidateConfig `yaml:"consolidate"`
	Logging     LoggingConfig     `yaml:"logging"`

	// RedisAddr enables the shared cooldown store and the enumeration cache.
	RedisAddr string `yaml:"redis_addr" validate:"omitempty,hostname_port"`

	// MetricsAddr enables the Prometheus endpoint, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// HarvestConfig controls paging and degradation.
type HarvestConfig struct {
	PageSize    int           `yaml:"page_size" validate:"gt=0"`
	MinPageSize int           `yaml:"min_page_size" validate:"gt=0"`
	PageDelay   time.Duration `yaml:"page_delay" validate:"gte=0"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"gte=0"`
	MaxFailures int           `yaml:"max_failures" validate:"gt=0"`
	Workers     int           `yaml:"workers" validate:"gt=0,lte=16"`
}

// ClientConfig controls request execution.
type ClientConfig struct {
	// MaxAttempts counts the first request, so 1 disables retries.
	MaxAttempts       int           `yaml:"max_attempts" validate:"gt=0"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// StorageConfig locates files on disk.
type StorageConfig struct {
	RawDir             string `yaml:"raw_dir" validate:"required"`
	ProcessedDir       string `yaml:"processed_dir" validate:"required"`
	PartitionsFile     string `yaml:"partitions_file"`
	PeopleTemplate     string `yaml:"people_template"`
	PartitionsTemplate string `yaml:"partitions_template"`
	LedgerPath         string `yaml:"ledger_path"`
}

// ConsolidateConfig controls the merge step.
type ConsolidateConfig struct {
	LowerYear   int      `yaml:"lower_year"`
	UpperYear   int      `yaml:"upper_year"`
	DropColumns []string `yaml:"drop_columns"`
	Output      string   `yaml:"output"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:  "https://query.wikidata.org/sparql",
		UserAgent: "wdqs-harvester/1.0 (https://github.com/Sternrassler/wdqs-harvester)",
		Harvest: HarvestConfig{
			PageSize:    2000,
			MinPageSize: 500,
			PageDelay:   time.Second,
			Cooldown:    5 * time.Second,
			MaxFailures: 3,
			Workers:     1,
		},
		Client: ClientConfig{
			MaxAttempts:       4,
			RequestTimeout:    60 * time.Second,
			RequestsPerSecond: 5,
			Burst:             1,
			CacheTTL:          24 * time.Hour,
		},
		Storage: StorageConfig{
			RawDir:       filepath.Join("data", "raw"),
			ProcessedDir: filepath.Join("data", "processed"),
			LedgerPath:   filepath.Join("data", "ledger.db"),
		},
		Consolidate: ConsolidateConfig{
			LowerYear:   1800,
			UpperYear:   1901,
			DropColumns: []string{"field"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile merges a YAML file into c. Keys absent from the file keep
// their current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies HARVESTER_* overrides. WDQS_USER_AGENT is honoured
// when HARVESTER_USER_AGENT is unset.
func (c *Config) LoadFromEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("WDQS_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	str("ENDPOINT", &c.Endpoint)
	str("USER_AGENT", &c.UserAgent)
	str("REDIS_ADDR", &c.RedisAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("RAW_DIR", &c.Storage.RawDir)
	str("PROCESSED_DIR", &c.Storage.ProcessedDir)
	str("PARTITIONS_FILE", &c.Storage.PartitionsFile)
	str("LEDGER_PATH", &c.Storage.LedgerPath)
	str("LOG_LEVEL", &c.Logging.Level)

	num("PAGE_SIZE", &c.Harvest.PageSize)
	num("MIN_PAGE_SIZE", &c.Harvest.MinPageSize)
	num("MAX_FAILURES", &c.Harvest.MaxFailures)
	num("WORKERS", &c.Harvest.Workers)
	num("MAX_ATTEMPTS", &c.Client.MaxAttempts)

	dur("PAGE_DELAY", &c.Harvest.PageDelay)
	dur("COOLDOWN", &c.Harvest.Cooldown)
	dur("REQUEST_TIMEOUT", &c.Client.RequestTimeout)

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_PRETTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_PRETTY: %w", EnvPrefix, err))
		} else {
			c.Logging.Pretty = b
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "REQUESTS_PER_SECOND"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_SECOND: %w", EnvPrefix, err))
		} else {
			c.Client.RequestsPerSecond = f
		}
	}

	return errors.Join(errs...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the relations between fields.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.Harvest.MinPageSize > c.Harvest.PageSize {
		errs = append(errs, fmt.Errorf("min_page_size %d exceeds page_size %d", c.Harvest.MinPageSize, c.Harvest.PageSize))
	}
	if c.Consolidate.LowerYear > c.Consolidate.UpperYear {
		errs = append(errs, fmt.Errorf("lower_year %d is after upper_year %d", c.Consolidate.LowerYear, c.Consolidate.UpperYear))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, errors.New("user_agent must not be blank"))
	}

	return errors.Join(errs...)
}

// ConsolidatedPath returns the merged output file.
func (c *Config) ConsolidatedPath() string {
	if c.Consolidate.Output != "" {
		return c.Consolidate.Output
	}
	return filepath.Join(c.Storage.ProcessedDir, "scholars.csv")
}

// FailureReportPath returns the abandoned-partitions report file.
func (c *Config) FailureReportPath() string {
	return filepath.Join(c.Storage.ProcessedDir, "failed_occupations.csv")
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then .env, then the environment. The result is not validated;
// callers validate after applying flags.
func Load(path string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return cfg, nil
}
