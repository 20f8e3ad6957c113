// Package config assembles the relay configuration from defaults, an optional YAML file,
// the environment and command line flags, in increasing order of precedence.
package config

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	relay "github.com/itzg/es-graphite-relay"
	"github.com/itzg/es-graphite-relay/internal/source"
)

type Config struct {
	Elasticsearch   ElasticsearchConfig `yaml:"elasticsearch"`
	Graphite        GraphiteConfig      `yaml:"graphite"`
	IntervalSeconds float64             `yaml:"interval_seconds"`
	BulkSize        int                 `yaml:"bulk_size"`
	MaxRetryBulk    int                 `yaml:"max_retry_bulk"`
	MetricsAddr     string              `yaml:"metrics_addr"`
	LogLevel        string              `yaml:"log_level"`
}

type ElasticsearchConfig struct {
	Addr     string `yaml:"addr"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type GraphiteConfig struct {
	Addr     string `yaml:"addr"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Prefix   string `yaml:"prefix"`
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

func defaults() Config {
	return Config{
		Elasticsearch: ElasticsearchConfig{
			Port:     source.DefaultPort,
			Protocol: "http",
		},
		Graphite: GraphiteConfig{
			Protocol: string(relay.Pickle),
			Prefix:   relay.DefaultNamespace,
		},
		IntervalSeconds: relay.DefaultInterval.Seconds(),
		BulkSize:        relay.DefaultBulkSize,
		MaxRetryBulk:    relay.DefaultMaxRetries,
		LogLevel:        "info",
	}
}

// Load parses args (without the program name) and builds a validated Config. It returns
// pflag.ErrHelp when help was requested.
func Load(name string, args []string, lookupEnv LookupEnv) (*Config, error) {
	cfg := defaults()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	var flags Config
	fs.StringVar(&flags.Elasticsearch.Addr, "elasticsearch-addr", "", "Elasticsearch host to monitor (required)")
	fs.IntVar(&flags.Elasticsearch.Port, "elasticsearch-port", cfg.Elasticsearch.Port, "Elasticsearch HTTP port")
	fs.StringVar(&flags.Elasticsearch.Protocol, "elasticsearch-protocol", cfg.Elasticsearch.Protocol, "http or https")
	fs.StringVar(&flags.Elasticsearch.User, "elasticsearch-user", "", "basic auth user")
	fs.StringVar(&flags.Elasticsearch.Password, "elasticsearch-password", "", "basic auth password")
	fs.StringVar(&flags.Graphite.Addr, "graphite", "", "Graphite/Carbon host to send metrics to (required)")
	fs.IntVar(&flags.Graphite.Port, "graphite-port", 0, "collector port (default depends on protocol: pickle 2004, plaintext 2003, line 8094)")
	fs.StringVar(&flags.Graphite.Protocol, "graphite-protocol", cfg.Graphite.Protocol, "pickle, plaintext or line")
	fs.StringVar(&flags.Graphite.Prefix, "graphite-prefix", cfg.Graphite.Prefix, "namespace placed in front of every metric path")
	fs.Float64Var(&flags.IntervalSeconds, "interval-seconds", cfg.IntervalSeconds, "seconds between polls")
	fs.IntVar(&flags.BulkSize, "bulk-size", cfg.BulkSize, "metrics per batch sent to the collector")
	fs.IntVar(&flags.MaxRetryBulk, "max-retry-bulk", cfg.MaxRetryBulk, "reconnect attempts per batch before it is dropped")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	cfg.applyFlags(fs, &flags)

	if cfg.Graphite.Port == 0 {
		if p, err := relay.ParseProtocol(cfg.Graphite.Protocol); err == nil {
			cfg.Graphite.Port = p.DefaultPort()
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	return nil
}

func (c *Config) applyEnv(lookupEnv LookupEnv) error {
	if lookupEnv == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		*dst = n
		return nil
	}

	str("ELASTICSEARCH_ADDR", &c.Elasticsearch.Addr)
	str("ELASTICSEARCH_PROTOCOL", &c.Elasticsearch.Protocol)
	str("ELASTICSEARCH_USER", &c.Elasticsearch.User)
	str("ELASTICSEARCH_PASSWORD", &c.Elasticsearch.Password)
	str("GRAPHITE", &c.Graphite.Addr)
	str("GRAPHITE_PROTOCOL", &c.Graphite.Protocol)
	str("GRAPHITE_PREFIX", &c.Graphite.Prefix)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	for key, dst := range map[string]*int{
		"ELASTICSEARCH_PORT": &c.Elasticsearch.Port,
		"GRAPHITE_PORT":      &c.Graphite.Port,
		"BULK_SIZE":          &c.BulkSize,
		"MAX_RETRY_BULK":     &c.MaxRetryBulk,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("INTERVAL_SECONDS"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrap(err, "invalid INTERVAL_SECONDS")
		}
		c.IntervalSeconds = f
	}
	return nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet, flags *Config) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("elasticsearch-addr", func() { c.Elasticsearch.Addr = flags.Elasticsearch.Addr })
	set("elasticsearch-port", func() { c.Elasticsearch.Port = flags.Elasticsearch.Port })
	set("elasticsearch-protocol", func() { c.Elasticsearch.Protocol = flags.Elasticsearch.Protocol })
	set("elasticsearch-user", func() { c.Elasticsearch.User = flags.Elasticsearch.User })
	set("elasticsearch-password", func() { c.Elasticsearch.Password = flags.Elasticsearch.Password })
	set("graphite", func() { c.Graphite.Addr = flags.Graphite.Addr })
	set("graphite-port", func() { c.Graphite.Port = flags.Graphite.Port })
	set("graphite-protocol", func() { c.Graphite.Protocol = flags.Graphite.Protocol })
	set("graphite-prefix", func() { c.Graphite.Prefix = flags.Graphite.Prefix })
	set("interval-seconds", func() { c.IntervalSeconds = flags.IntervalSeconds })
	set("bulk-size", func() { c.BulkSize = flags.BulkSize })
	set("max-retry-bulk", func() { c.MaxRetryBulk = flags.MaxRetryBulk })
	set("metrics-addr", func() { c.MetricsAddr = flags.MetricsAddr })
	set("log-level", func() { c.LogLevel = flags.LogLevel })
}

func (c *Config) validate() error {
	if c.Elasticsearch.Addr == "" {
		return errors.New("elasticsearch address is required (ELASTICSEARCH_ADDR or --elasticsearch-addr)")
	}
	if c.Graphite.Addr == "" {
		return errors.New("graphite address is required (GRAPHITE or --graphite)")
	}
	if _, err := relay.ParseProtocol(c.Graphite.Protocol); err != nil {
		return errors.Wrap(err, "invalid graphite protocol")
	}
	if c.Graphite.Prefix == "" || strings.ContainsAny(c.Graphite.Prefix, `=,"`) {
		return errors.Newf("invalid graphite prefix %q (must be non-empty without '=', ',' or '\"')", c.Graphite.Prefix)
	}
	if c.Elasticsearch.Protocol != "http" && c.Elasticsearch.Protocol != "https" {
		return errors.Newf("invalid elasticsearch protocol %q (expected http or https)", c.Elasticsearch.Protocol)
	}
	if c.IntervalSeconds <= 0 {
		return errors.Newf("interval seconds must be positive, got %v", c.IntervalSeconds)
	}
	if c.BulkSize <= 0 {
		return errors.Newf("bulk size must be positive, got %d", c.BulkSize)
	}
	if c.MaxRetryBulk <= 0 {
		return errors.Newf("max retry bulk must be positive, got %d", c.MaxRetryBulk)
	}
	if c.Elasticsearch.Port <= 0 || c.Graphite.Port <= 0 {
		return errors.New("ports must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c *Config) Relay() relay.Config {
	// validated in Load
	p, _ := relay.ParseProtocol(c.Graphite.Protocol)
	return relay.Config{
		Namespace: c.Graphite.Prefix,
		Interval:  c.Interval(),
		Protocol:  p,
		BulkSize:  c.BulkSize,
	}
}

func (c *Config) Source() source.Config {
	return source.Config{
		Host:     c.Elasticsearch.Addr,
		Port:     c.Elasticsearch.Port,
		Protocol: c.Elasticsearch.Protocol,
		User:     c.Elasticsearch.User,
		Password: c.Elasticsearch.Password,
	}
}

// GraphiteEndpoint returns the collector's host:port.
func (c *Config) GraphiteEndpoint() string {
	return net.JoinHostPort(c.Graphite.Addr, strconv.Itoa(c.Graphite.Port))
}
