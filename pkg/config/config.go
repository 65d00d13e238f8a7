// Package config holds the job defaults and loads the runtime configuration
// from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment defaults
const (
	DefaultMongoDB          = "nmdc"
	DefaultLogFile          = "/tmp/agg.log"
	DefaultPollSeconds      = 14400
	DefaultBaseURL          = "https://data.microbiomedata.org/data"
	DefaultBasePath         = "/global/cfs/cdirs/m3408/results"
	DefaultEnv              = EnvDev
	DefaultSource           = SourceMongo
	DefaultSink             = SinkMongo
	DefaultStatusAddr       = ":8080"
	DefaultJournalRetention = 100
)

// NMDC runtime API endpoints
const (
	ProdAPIURL = "https://api.microbiomedata.org"
	DevAPIURL  = "https://api-dev.microbiomedata.org"
)

const (
	EnvProd = "prod"
	EnvDev  = "dev"

	SourceMongo = "mongo"
	SourceAPI   = "api"

	SinkMongo = "mongo"
	SinkAPI   = "api"
)

// Timeouts
const (
	ConnectTimeout  = 30 * time.Second
	FetchTimeout    = 10 * time.Minute
	APITimeout      = 2 * time.Minute
	ShutdownTimeout = 30 * time.Second

	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second

	// JournalGCInterval is how often the persistent journal's value log is collected.
	JournalGCInterval = 10 * time.Minute

	// HealthGrace is added to twice the poll interval before a missing
	// successful cycle marks the job unhealthy.
	HealthGrace = 12 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config is the full runtime configuration of the aggregation job.
// The env tag names the variable a field is read from.
type Config struct {
	MongoURL string `env:"MONGO_URL" validate:"required"`
	MongoDB  string `env:"MONGO_DB" validate:"required"`
	LogFile  string `env:"LOG_FILE" validate:"required"`

	PollInterval time.Duration `env:"POLL_TIME" validate:"gt=0"`

	// Results published under BaseURL are mirrored on disk under BasePath.
	BaseURL  string `env:"NMDC_BASE_URL" validate:"required,url"`
	BasePath string `env:"NMDC_BASE_PATH" validate:"required"`

	ClientID     string `env:"NMDC_CLIENT_ID" validate:"required_if=Source api,required_if=Sink api"`
	ClientSecret string `env:"NMDC_CLIENT_PW" validate:"required_if=Source api,required_if=Sink api"`
	Env          string `env:"ENV" validate:"oneof=prod dev"`

	Source string `env:"AGG_SOURCE" validate:"oneof=mongo api"`
	// Sink api submits members through the runtime API, which only inserts,
	// so it needs SkipDone to leave already aggregated units alone.
	Sink     string `env:"AGG_SINK" validate:"oneof=mongo api"`
	SkipDone bool   `env:"AGG_SKIP_DONE" validate:"required_if=Sink api"`

	StatusAddr       string `env:"STATUS_ADDR"`
	JournalPath      string `env:"JOURNAL_PATH"`
	JournalRetention int    `env:"JOURNAL_RETENTION" validate:"gte=1"`
}

// APIURL returns the runtime API endpoint selected by Env.
func (c *Config) APIURL() string {
	if c.Env == EnvProd {
		return ProdAPIURL
	}
	return DevAPIURL
}

// LoadFromEnv loads the configuration from the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load reads the configuration through lookup, applies defaults and
// validates the result. It never touches the network.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		MongoURL:         r.str("MONGO_URL", ""),
		MongoDB:          r.str("MONGO_DB", DefaultMongoDB),
		LogFile:          r.str("LOG_FILE", DefaultLogFile),
		PollInterval:     time.Duration(r.integer("POLL_TIME", DefaultPollSeconds)) * time.Second,
		BaseURL:          r.str("NMDC_BASE_URL", DefaultBaseURL),
		BasePath:         r.str("NMDC_BASE_PATH", DefaultBasePath),
		ClientID:         r.str("NMDC_CLIENT_ID", ""),
		ClientSecret:     r.str("NMDC_CLIENT_PW", ""),
		Env:              strings.ToLower(r.str("ENV", DefaultEnv)),
		Source:           strings.ToLower(r.str("AGG_SOURCE", DefaultSource)),
		Sink:             strings.ToLower(r.str("AGG_SINK", DefaultSink)),
		SkipDone:         r.boolean("AGG_SKIP_DONE", false),
		StatusAddr:       r.raw("STATUS_ADDR", DefaultStatusAddr),
		JournalPath:      r.str("JOURNAL_PATH", ""),
		JournalRetention: r.integer("JOURNAL_RETENTION", DefaultJournalRetention),
	}

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks field constraints and reports them by variable name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config error: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_if":
		cond := conditionName(fe.Param())
		if fe.Kind() == reflect.Bool {
			return fmt.Sprintf("%s must be true when %s", fe.Field(), cond)
		}
		return fmt.Sprintf("%s is required when %s", fe.Field(), cond)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}

// conditionName renders a required_if param ("Sink api") as "AGG_SINK=api".
func conditionName(param string) string {
	field, value, _ := strings.Cut(param, " ")
	if f, ok := reflect.TypeOf(Config{}).FieldByName(field); ok {
		if name := f.Tag.Get("env"); name != "" {
			field = name
		}
	}
	return field + "=" + value
}

// reader collects parse errors so every bad variable is reported at once.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

// raw keeps an explicitly empty value; STATUS_ADDR="" disables the listener.
func (r *reader) raw(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config error: %s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config error: %s must be a boolean, got %q", key, v))
		return def
	}
	return b
}
