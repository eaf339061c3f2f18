package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/pkg/formdata"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where commands look for the configuration file.
	DefaultPath = "forumtap.yml"

	DefaultInstance     = "default"
	DefaultRedisURL     = "redis://localhost:6379"
	DefaultHostAddress  = "127.0.0.1:7878"
	DefaultEmitTimeout  = "10s"
	DefaultBuffer       = 64
	DefaultQueueRetries = 5
	DefaultConcurrency  = 4

	// Environment overrides applied by Load.
	EnvInstance = "FORUMTAP_INSTANCE"
	EnvRedisURL = "REDIS_URL"
)

var instanceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Config represents the top-level forumtap.yml configuration
type Config struct {
	Version  string          `yaml:"version"`
	Instance string          `yaml:"instance,omitempty"`
	Forum    *ForumConfig    `yaml:"forum,omitempty"`
	Decoder  *DecoderConfig  `yaml:"decoder,omitempty"`
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	Sinks    *SinksConfig    `yaml:"sinks,omitempty"`
	Host     *HostConfig     `yaml:"host,omitempty"`
	Dispatch *DispatchConfig `yaml:"dispatch,omitempty"`
	Worker   *WorkerConfig   `yaml:"worker,omitempty"`
}

// ForumConfig overrides the forum's script names, keyed by intent
// (write, edit, comment, note, login).
type ForumConfig struct {
	Endpoints map[string]string `yaml:"endpoints,omitempty"`
}

// DecoderConfig tunes the multipart decoder
type DecoderConfig struct {
	ChunkSize      int `yaml:"chunk_size,omitempty"`       // Default: 1024
	MaxHeaderBytes int `yaml:"max_header_bytes,omitempty"` // Default: 8192
}

// RedisConfig locates the shared Redis used for the record store, the
// extension message bus and the queue sink.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SinksConfig selects where finished records are stored
type SinksConfig struct {
	Redis    *RedisSinkConfig    `yaml:"redis,omitempty"`
	SQLite   *SQLiteSinkConfig   `yaml:"sqlite,omitempty"`
	Postgres *PostgresSinkConfig `yaml:"postgres,omitempty"`
	Blobs    *BlobSinkConfig     `yaml:"blobs,omitempty"`
	Queue    *QueueSinkConfig    `yaml:"queue,omitempty"`
}

// RedisSinkConfig toggles the Redis record store (enabled by default)
type RedisSinkConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// SQLiteSinkConfig is the local database file
type SQLiteSinkConfig struct {
	Path string `yaml:"path"`
}

// PostgresSinkConfig is a shared Postgres database
type PostgresSinkConfig struct {
	DSN string `yaml:"dsn"`
}

// BlobSinkConfig is an S3-compatible bucket for attachment bytes
type BlobSinkConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// QueueSinkConfig hands records to `forumtap worker` through asynq
type QueueSinkConfig struct {
	MaxRetries int `yaml:"max_retries,omitempty"` // Default: 5
}

// HostConfig configures the browser-host boundary
type HostConfig struct {
	Address         string `yaml:"address,omitempty"`          // Default: 127.0.0.1:7878
	CancelMalformed bool   `yaml:"cancel_malformed,omitempty"` // Cancel buffered submissions that fail to decode
}

// DispatchConfig tunes the queue between the aggregator and the sinks
type DispatchConfig struct {
	Buffer      int    `yaml:"buffer,omitempty"`       // Default: 64
	EmitTimeout string `yaml:"emit_timeout,omitempty"` // Default: 10s

	emitTimeout time.Duration
}

// WorkerConfig configures `forumtap worker`
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency,omitempty"` // Default: 4
}

// Default returns a validated configuration with every default applied:
// Redis record store only, host on the loopback interface.
func Default() *Config {
	c := &Config{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and applies
// defaults for omitted sections.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if !instanceNamePattern.MatchString(c.Instance) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase letters, digits and dashes", c.Instance)
	}

	if c.Forum == nil {
		c.Forum = &ForumConfig{}
	}
	for intent, name := range c.Forum.Endpoints {
		i := classify.Intent(intent)
		if err := i.Validate(); err != nil || i == classify.IntentUnclassified {
			return fmt.Errorf("forum.endpoints: unknown intent '%s' (must be 'write', 'edit', 'comment', 'note' or 'login')", intent)
		}
		if name == "" {
			return fmt.Errorf("forum.endpoints.%s: script name cannot be empty", intent)
		}
	}

	if c.Decoder == nil {
		c.Decoder = &DecoderConfig{}
	}
	if c.Decoder.ChunkSize < 0 {
		return fmt.Errorf("decoder.chunk_size must be >= 1, got %d", c.Decoder.ChunkSize)
	}
	if c.Decoder.ChunkSize == 0 {
		c.Decoder.ChunkSize = formdata.DefaultChunkSize
	}
	if c.Decoder.MaxHeaderBytes < 0 {
		return fmt.Errorf("decoder.max_header_bytes must be >= 1, got %d", c.Decoder.MaxHeaderBytes)
	}
	if c.Decoder.MaxHeaderBytes == 0 {
		c.Decoder.MaxHeaderBytes = formdata.DefaultMaxHeaderBytes
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.URL == "" {
		c.Redis.URL = DefaultRedisURL
	}

	if err := c.validateSinks(); err != nil {
		return err
	}

	if c.Host == nil {
		c.Host = &HostConfig{}
	}
	if c.Host.Address == "" {
		c.Host.Address = DefaultHostAddress
	}

	if c.Dispatch == nil {
		c.Dispatch = &DispatchConfig{}
	}
	if c.Dispatch.Buffer < 0 {
		return fmt.Errorf("dispatch.buffer must be >= 1, got %d", c.Dispatch.Buffer)
	}
	if c.Dispatch.Buffer == 0 {
		c.Dispatch.Buffer = DefaultBuffer
	}
	if c.Dispatch.EmitTimeout == "" {
		c.Dispatch.EmitTimeout = DefaultEmitTimeout
	}
	timeout, err := time.ParseDuration(c.Dispatch.EmitTimeout)
	if err != nil {
		return fmt.Errorf("dispatch.emit_timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("dispatch.emit_timeout must be positive, got %s", c.Dispatch.EmitTimeout)
	}
	c.Dispatch.emitTimeout = timeout

	if c.Worker == nil {
		c.Worker = &WorkerConfig{}
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultConcurrency
	}

	return nil
}

func (c *Config) validateSinks() error {
	if c.Sinks == nil {
		c.Sinks = &SinksConfig{}
	}
	s := c.Sinks

	if s.Redis == nil {
		s.Redis = &RedisSinkConfig{}
	}
	if s.Redis.Enabled == nil {
		enabled := true
		s.Redis.Enabled = &enabled
	}

	if s.SQLite != nil && s.SQLite.Path == "" {
		return fmt.Errorf("sinks.sqlite: path is required")
	}
	if s.Postgres != nil && s.Postgres.DSN == "" {
		return fmt.Errorf("sinks.postgres: dsn is required")
	}
	if s.Blobs != nil {
		if s.Blobs.Endpoint == "" {
			return fmt.Errorf("sinks.blobs: endpoint is required")
		}
		if s.Blobs.Bucket == "" {
			return fmt.Errorf("sinks.blobs: bucket is required")
		}
	}
	if s.Queue != nil {
		if s.Queue.MaxRetries < 0 {
			return fmt.Errorf("sinks.queue.max_retries must be >= 0, got %d", s.Queue.MaxRetries)
		}
		if s.Queue.MaxRetries == 0 {
			s.Queue.MaxRetries = DefaultQueueRetries
		}
	}

	if !*s.Redis.Enabled && s.SQLite == nil && s.Postgres == nil && s.Blobs == nil && s.Queue == nil {
		return fmt.Errorf("no sinks enabled: records would be discarded")
	}
	return nil
}

// RedisSinkEnabled reports whether records are saved to Redis.
func (c *Config) RedisSinkEnabled() bool {
	return c.Sinks != nil && c.Sinks.Redis != nil && c.Sinks.Redis.Enabled != nil && *c.Sinks.Redis.Enabled
}

// Endpoints returns the classifier's endpoint list with overrides applied.
func (c *Config) Endpoints() []classify.Endpoint {
	overrides := make(map[classify.Intent]string)
	if c.Forum != nil {
		for intent, name := range c.Forum.Endpoints {
			overrides[classify.Intent(intent)] = name
		}
	}
	return classify.EndpointsWithOverrides(overrides)
}

// FormDecoder returns the multipart decoder configured by the decoder section.
func (c *Config) FormDecoder() formdata.Decoder {
	if c.Decoder == nil {
		return formdata.Decoder{}
	}
	return formdata.Decoder{ChunkSize: c.Decoder.ChunkSize, MaxHeaderBytes: c.Decoder.MaxHeaderBytes}
}

// Timeout returns the parsed emit_timeout.
func (d *DispatchConfig) Timeout() time.Duration {
	return d.emitTimeout
}

// ApplyEnv applies FORUMTAP_INSTANCE and REDIS_URL over the file's values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvInstance); v != "" {
		c.Instance = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.URL = v
	}
}

// Load reads and validates forumtap.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault is Load, except that a missing file yields Default() with
// the environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	config = &Config{Version: "1.0"}
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
