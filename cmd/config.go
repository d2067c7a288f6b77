package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/secscan/internal/api"
	"github.com/khanhnv2901/secscan/internal/application"
	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
)

const (
	envPrefix      = "SECSCAN"
	configName     = ".secscan"
	defaultAddr    = "127.0.0.1:8080"
	defaultDataDir = "./data/scans"
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	Server  ServerConfig
	Scanner ScannerConfig
	Storage StorageConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Tracing TracingConfig
}

// ServerConfig holds the API service settings.
type ServerConfig struct {
	Addr            string
	AuthToken       string
	CORSOrigins     []string
	RateLimit       int
	RateBurst       int
	ScansPerMinute  int
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

// ScannerConfig holds module budgets and probing options.
type ScannerConfig struct {
	HeaderTimeout       time.Duration
	TLSTimeout          time.Duration
	ProbeTimeout        time.Duration
	PathTimeout         time.Duration
	CORSTimeout         time.Duration
	MaxRedirects        int
	ScanDeadline        time.Duration
	ModuleConcurrency   int
	PathConcurrency     int
	ProbeMode           string
	RecommendationLimit int
	UserAgent           string
	MaxBodyBytes        int64
	TLSClientHello      string
	AllowPrivateTargets bool
}

// StorageConfig selects the scan record store.
type StorageConfig struct {
	Driver string
	Dir    string
	DSN    string
}

// LoggingConfig drives logger construction.
type LoggingConfig struct {
	Level       string
	Development bool
	File        string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// setConfigDefaults registers every key so env overrides resolve even when
// no config file is present.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.scans_per_minute", 5)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("scanner.header_timeout", constants.HeaderFetchTimeout)
	v.SetDefault("scanner.tls_timeout", constants.TLSHandshakeTimeout)
	v.SetDefault("scanner.probe_timeout", constants.ProbeTimeout)
	v.SetDefault("scanner.path_timeout", constants.PathProbeTimeout)
	v.SetDefault("scanner.cors_timeout", constants.CORSTimeout)
	v.SetDefault("scanner.max_redirects", constants.MaxRedirects)
	v.SetDefault("scanner.scan_deadline", constants.ScanDeadline)
	v.SetDefault("scanner.module_concurrency", 4)
	v.SetDefault("scanner.path_concurrency", 4)
	v.SetDefault("scanner.probe_mode", string(checker.ProbeModeFirstMatch))
	v.SetDefault("scanner.recommendation_limit", constants.RecommendationLimit)
	v.SetDefault("scanner.user_agent", constants.DefaultUserAgent)
	v.SetDefault("scanner.max_body_bytes", constants.MaxBodyBytes)
	v.SetDefault("scanner.tls_client_hello", checker.ClientHelloGo)
	v.SetDefault("scanner.allow_private_targets", false)

	v.SetDefault("storage.driver", application.StorageNone)
	v.SetDefault("storage.dir", defaultDataDir)
	v.SetDefault("storage.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "secscan")
}

// newViper returns a viper instance wired for SECSCAN_ env overrides.
func newViper() *viper.Viper {
	v := viper.New()
	setConfigDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfigFile loads path, or $HOME/.secscan.yaml when path is empty. A
// missing default file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}
	v.AddConfigPath("$HOME")
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// loadCLIConfig resolves every key from v.
func loadCLIConfig(v *viper.Viper) (*CLIConfig, error) {
	cfg := &CLIConfig{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			AuthToken:       v.GetString("server.auth_token"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
			RateLimit:       v.GetInt("server.rate_limit"),
			RateBurst:       v.GetInt("server.rate_burst"),
			ScansPerMinute:  v.GetInt("server.scans_per_minute"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			TrustedProxies:  v.GetStringSlice("server.trusted_proxies"),
		},
		Scanner: ScannerConfig{
			HeaderTimeout:       v.GetDuration("scanner.header_timeout"),
			TLSTimeout:          v.GetDuration("scanner.tls_timeout"),
			ProbeTimeout:        v.GetDuration("scanner.probe_timeout"),
			PathTimeout:         v.GetDuration("scanner.path_timeout"),
			CORSTimeout:         v.GetDuration("scanner.cors_timeout"),
			MaxRedirects:        v.GetInt("scanner.max_redirects"),
			ScanDeadline:        v.GetDuration("scanner.scan_deadline"),
			ModuleConcurrency:   v.GetInt("scanner.module_concurrency"),
			PathConcurrency:     v.GetInt("scanner.path_concurrency"),
			ProbeMode:           v.GetString("scanner.probe_mode"),
			RecommendationLimit: v.GetInt("scanner.recommendation_limit"),
			UserAgent:           v.GetString("scanner.user_agent"),
			MaxBodyBytes:        v.GetInt64("scanner.max_body_bytes"),
			TLSClientHello:      strings.ToLower(v.GetString("scanner.tls_client_hello")),
			AllowPrivateTargets: v.GetBool("scanner.allow_private_targets"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Dir:    v.GetString("storage.dir"),
			DSN:    v.GetString("storage.dsn"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("logging.level"),
			Development: v.GetBool("logging.development"),
			File:        v.GetString("logging.file"),
			MaxSizeMB:   v.GetInt("logging.max_size_mb"),
			MaxBackups:  v.GetInt("logging.max_backups"),
			MaxAgeDays:  v.GetInt("logging.max_age_days"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
		Tracing: TracingConfig{
			Endpoint:    v.GetString("tracing.endpoint"),
			Insecure:    v.GetBool("tracing.insecure"),
			ServiceName: v.GetString("tracing.service_name"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CLIConfig) validate() error {
	if _, err := checker.ParseProbeMode(c.Scanner.ProbeMode); err != nil {
		return fmt.Errorf("scanner.probe_mode: %w", err)
	}
	if !checker.ValidClientHello(c.Scanner.TLSClientHello) {
		return fmt.Errorf("scanner.tls_client_hello: unknown profile %q (want go, chrome or firefox)", c.Scanner.TLSClientHello)
	}
	if _, err := api.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	switch c.Storage.Driver {
	case "", application.StorageNone, application.StorageJSON, application.StoragePostgres:
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q (want none, json or postgres)", c.Storage.Driver)
	}
	return nil
}

// Settings converts the scanner section into module settings.
func (c *CLIConfig) Settings() scanapp.Settings {
	mode, _ := checker.ParseProbeMode(c.Scanner.ProbeMode)
	return scanapp.Settings{
		HeaderTimeout:   c.Scanner.HeaderTimeout,
		TLSTimeout:      c.Scanner.TLSTimeout,
		ProbeTimeout:    c.Scanner.ProbeTimeout,
		PathTimeout:     c.Scanner.PathTimeout,
		CORSTimeout:     c.Scanner.CORSTimeout,
		MaxRedirects:    c.Scanner.MaxRedirects,
		PathConcurrency: c.Scanner.PathConcurrency,
		ProbeMode:       mode,
		UserAgent:       c.Scanner.UserAgent,
		MaxBodyBytes:    c.Scanner.MaxBodyBytes,
		ClientHello:     c.Scanner.TLSClientHello,
		AllowPrivate:    c.Scanner.AllowPrivateTargets,
	}
}

// ScanConfig converts the scanner section into orchestrator bounds.
func (c *CLIConfig) ScanConfig() scanapp.Config {
	return scanapp.Config{
		ScanDeadline:        c.Scanner.ScanDeadline,
		ModuleConcurrency:   c.Scanner.ModuleConcurrency,
		RecommendationLimit: c.Scanner.RecommendationLimit,
	}
}

// applyDurationDefault runs setter with value unless the flag was set
// explicitly on the command line.
func applyDurationDefault(flags *pflag.FlagSet, name string, value time.Duration, setter func(time.Duration)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyBoolDefault(flags *pflag.FlagSet, name string, value bool, setter func(bool)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
