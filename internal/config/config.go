// Package config loads the plank CLI configuration from plank.yaml,
// PLANK_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/decode"
	"github.com/christopherhwood/plank/fetch"
	"github.com/christopherhwood/plank/metaschema"
)

// Config holds CLI settings.
type Config struct {
	Timeout      time.Duration
	Verbose      bool
	LogFormat    string // text or json
	Output       string // text, json or yaml
	MetaSchema   bool
	Draft        string
	RejectCycles bool
	CheckRefs    bool
	Concurrency  int

	Decode DecodeConfig
	HTTP   HTTPConfig
	S3     S3Config
}

// DecodeConfig limits document decoding.
type DecodeConfig struct {
	MaxDepth      int
	MaxBytes      int64
	DuplicateKeys string // ignore, warn or error
}

// HTTPConfig configures http and https retrieval.
type HTTPConfig struct {
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	UserAgent string
}

// S3Config enables s3:// retrieval when Endpoint is set.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", time.Minute)
	v.SetDefault("log-format", "text")
	v.SetDefault("output", "text")
	v.SetDefault("draft", metaschema.DefaultDraft)
	v.SetDefault("concurrency", 8)
	v.SetDefault("decode.max-depth", 512)
	v.SetDefault("decode.max-bytes", 16<<20)
	v.SetDefault("decode.duplicate-keys", "error")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.rate-limit", 10.0)
	v.SetDefault("http.rate-burst", 5)
	v.SetDefault("http.user-agent", "plank/1")
}

// Load reads the configuration. path names an explicit config file; when
// empty, plank.yaml is looked up in the working directory and is optional.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plank")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("PLANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	cfg := &Config{
		Timeout:      v.GetDuration("timeout"),
		Verbose:      v.GetBool("verbose"),
		LogFormat:    v.GetString("log-format"),
		Output:       v.GetString("output"),
		MetaSchema:   v.GetBool("metaschema"),
		Draft:        v.GetString("draft"),
		RejectCycles: v.GetBool("reject-cycles"),
		CheckRefs:    v.GetBool("check-refs"),
		Concurrency:  v.GetInt("concurrency"),
		Decode: DecodeConfig{
			MaxDepth:      v.GetInt("decode.max-depth"),
			MaxBytes:      v.GetInt64("decode.max-bytes"),
			DuplicateKeys: v.GetString("decode.duplicate-keys"),
		},
		HTTP: HTTPConfig{
			Timeout:   v.GetDuration("http.timeout"),
			RateLimit: v.GetFloat64("http.rate-limit"),
			RateBurst: v.GetInt("http.rate-burst"),
			UserAgent: v.GetString("http.user-agent"),
		},
		S3: S3Config{
			Endpoint:        v.GetString("s3.endpoint"),
			AccessKeyID:     v.GetString("s3.access-key-id"),
			SecretAccessKey: v.GetString("s3.secret-access-key"),
			Region:          v.GetString("s3.region"),
			UseSSL:          v.GetBool("s3.use-ssl"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid output %q (want text, json or yaml)", c.Output)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q (want text or json)", c.LogFormat)
	}
	if _, err := c.duplicateKeys(); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

func (c *Config) duplicateKeys() (decode.Severity, error) {
	switch strings.ToLower(c.Decode.DuplicateKeys) {
	case "", "ignore":
		return decode.Ignore, nil
	case "warn":
		return decode.Warn, nil
	case "error":
		return decode.Error, nil
	}
	return 0, fmt.Errorf("invalid decode.duplicate-keys %q (want ignore, warn or error)", c.Decode.DuplicateKeys)
}

// LogLevel returns the level implied by Verbose.
func (c *Config) LogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Fetcher builds the document source: file, http, https and, when an
// endpoint is configured, s3.
func (c *Config) Fetcher() (fetch.Fetcher, error) {
	m := fetch.NewMux()
	m.Handle("file", &fetch.File{MaxBytes: c.Decode.MaxBytes})
	h := fetch.NewHTTP(&fetch.HTTPConfig{
		Timeout:   c.HTTP.Timeout,
		RateLimit: c.HTTP.RateLimit,
		RateBurst: c.HTTP.RateBurst,
		MaxBytes:  c.Decode.MaxBytes,
		UserAgent: c.HTTP.UserAgent,
	})
	m.Handle("http", h)
	m.Handle("https", h)
	if c.S3.Endpoint != "" {
		s3, err := fetch.NewS3(&fetch.S3Config{
			EndpointURL:     c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			Region:          c.S3.Region,
			UseSSL:          c.S3.UseSSL,
			MaxBytes:        c.Decode.MaxBytes,
		})
		if err != nil {
			return nil, err
		}
		m.Handle("s3", s3)
	}
	return m, nil
}

// LoaderOptions translates the configuration into loader options. Decoder
// warnings go to logger.
func (c *Config) LoaderOptions(logger *slog.Logger) ([]plank.Option, error) {
	f, err := c.Fetcher()
	if err != nil {
		return nil, err
	}
	dup, err := c.duplicateKeys()
	if err != nil {
		return nil, err
	}
	dopts := decode.Options{
		OnDuplicateKey: dup,
		MaxDepth:       c.Decode.MaxDepth,
		MaxBytes:       c.Decode.MaxBytes,
		IssueSink: func(is decode.Issue) {
			logger.Warn("decode warning", "code", is.Code, "path", is.Path, "message", is.Message)
		},
	}
	opts := []plank.Option{
		plank.WithFetcher(f),
		plank.WithDecoders(decode.Default(dopts)),
		plank.WithLogger(logger),
		plank.WithConcurrency(c.Concurrency),
	}
	if c.RejectCycles {
		opts = append(opts, plank.WithCyclePolicy(plank.RejectCycles))
	}
	if c.MetaSchema {
		ms, err := metaschema.New(c.Draft)
		if err != nil {
			return nil, err
		}
		opts = append(opts, plank.WithDocumentCheck(ms))
	}
	return opts, nil
}
