package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the core video service.
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// ObjectStore configuration (recording/DVR uploads)
	ObjectStore ObjectStoreConfig `json:"object_store" yaml:"object_store"`

	// Bus configuration (work queue + watch pub/sub)
	Bus BusConfig `json:"bus" yaml:"bus"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Streaming configuration (ingest, rendition ladder, LL-HLS timing)
	Streaming StreamingConfig `json:"streaming" yaml:"streaming"`

	// Recording configuration
	Recording RecordingConfig `json:"recording" yaml:"recording"`

	// Session configuration (playback token signing)
	Session SessionConfig `json:"session" yaml:"session"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	// Host is the server host address
	Host string `json:"host" yaml:"host"`

	// Port is the edge HTTP (playlist/part/DVR) port
	Port int `json:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// MaxConnections is the maximum number of concurrent connections
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// DevMode enables development mode
	DevMode bool `json:"dev_mode" yaml:"dev_mode"`
}

// ObjectStoreConfig holds object storage configuration for recordings and
// thumbnails.
type ObjectStoreConfig struct {
	// Bucket is the target bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the provider region
	Region string `json:"region" yaml:"region"`

	// Endpoint overrides the default endpoint (for S3-compatible stores)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// AccessKeyID is the static access key (empty uses the default chain)
	AccessKeyID string `json:"access_key_id" yaml:"access_key_id"`

	// SecretAccessKey is the static secret key
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`

	// UsePathStyle forces path-style addressing (required by most
	// self-hosted S3-compatible stores)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// MaxRetries is the maximum number of upload retry attempts
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RequestTimeout bounds a single object store operation
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// BusConfig holds message bus configuration.
type BusConfig struct {
	// Brokers is the list of broker addresses
	Brokers []string `json:"brokers" yaml:"brokers"`

	// WorkQueueTopic is the topic transcoding jobs are published to
	WorkQueueTopic string `json:"work_queue_topic" yaml:"work_queue_topic"`

	// ConsumerGroup is the consumer group id for work queue consumers
	ConsumerGroup string `json:"consumer_group" yaml:"consumer_group"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// DSN is the Postgres connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RenditionConfig describes one output of the transcode ladder.
type RenditionConfig struct {
	Name         string `json:"name" yaml:"name"`
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`
	FPS          int    `json:"fps" yaml:"fps"`
	VideoBitrate int    `json:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate int    `json:"audio_bitrate" yaml:"audio_bitrate"`
}

// StreamingConfig holds ingest, transcode and LL-HLS timing configuration.
type StreamingConfig struct {
	// EnableRTMP enables the RTMP ingest listener
	EnableRTMP bool `json:"enable_rtmp" yaml:"enable_rtmp"`

	// RTMP configuration
	RTMP RTMPConfig `json:"rtmp" yaml:"rtmp"`

	// Renditions is the transcode ladder applied to every ingested stream
	Renditions []RenditionConfig `json:"renditions" yaml:"renditions"`

	// TargetPartDuration is the target duration of one LL-HLS part, in seconds
	TargetPartDuration float64 `json:"target_part_duration" yaml:"target_part_duration"`

	// TargetSegmentDuration is the target duration of one segment, in seconds
	TargetSegmentDuration float64 `json:"target_segment_duration" yaml:"target_segment_duration"`

	// MaxSegmentsRetained bounds how many complete segments are kept in
	// memory per rendition before the oldest are evicted
	MaxSegmentsRetained int `json:"max_segments_retained" yaml:"max_segments_retained"`

	// BlockTimeout bounds a blocked playlist request
	BlockTimeout time.Duration `json:"block_timeout" yaml:"block_timeout"`

	// ThumbnailEvery emits one thumbnail every N keyframes
	ThumbnailEvery int `json:"thumbnail_every" yaml:"thumbnail_every"`
}

// RTMPConfig holds RTMP-specific configuration
type RTMPConfig struct {
	// Port is the RTMP server port
	Port int `json:"port" yaml:"port"`

	// ChunkSize is the RTMP chunk size
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
}

// RecordingConfig holds recording/DVR uploader configuration.
type RecordingConfig struct {
	// Enabled enables uploading segments/thumbnails to the object store
	Enabled bool `json:"enabled" yaml:"enabled"`

	// KeyPrefixTemplate is the object key prefix, with {org}/{room}/{rendition}
	// substituted at record-start time
	KeyPrefixTemplate string `json:"key_prefix_template" yaml:"key_prefix_template"`

	// QueueDepth bounds the uploader's pending task channel
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
}

// SessionConfig holds playback session token configuration.
type SessionConfig struct {
	// MasterSecret seeds the HKDF-derived signing key
	MasterSecret string `json:"master_secret" yaml:"master_secret"`

	// TTL is the session lifetime before Refresh is required
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `json:"format" yaml:"format"`

	// OutputPath is the log output path
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxConnections: 10000,
			DevMode:        false,
		},
		ObjectStore: ObjectStoreConfig{
			UsePathStyle:   true,
			MaxRetries:     5,
			RequestTimeout: 30 * time.Second,
		},
		Bus: BusConfig{
			Brokers:        []string{"localhost:9092"},
			WorkQueueTopic: "transcode.jobs",
			ConsumerGroup:  "corevideo-transcoder",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Streaming: StreamingConfig{
			EnableRTMP: true,
			RTMP: RTMPConfig{
				Port:      1935,
				ChunkSize: 4096,
			},
			Renditions: []RenditionConfig{
				{Name: "1080p", Width: 1920, Height: 1080, FPS: 30, VideoBitrate: 6_000_000, AudioBitrate: 160_000},
				{Name: "720p", Width: 1280, Height: 720, FPS: 30, VideoBitrate: 3_000_000, AudioBitrate: 128_000},
				{Name: "480p", Width: 854, Height: 480, FPS: 30, VideoBitrate: 1_200_000, AudioBitrate: 96_000},
				{Name: "360p", Width: 640, Height: 360, FPS: 30, VideoBitrate: 700_000, AudioBitrate: 64_000},
			},
			TargetPartDuration:    1.0,
			TargetSegmentDuration: 6.0,
			MaxSegmentsRetained:   10,
			BlockTimeout:          30 * time.Second,
			ThumbnailEvery:        30,
		},
		Recording: RecordingConfig{
			Enabled:           false,
			KeyPrefixTemplate: "recordings/{org}/{room}/{rendition}",
			QueueDepth:        64,
		},
		Session: SessionConfig{
			MasterSecret: "change-me-in-production",
			TTL:          6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// variable overrides.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables
func (c *Config) loadFromEnv() {
	if host := os.Getenv("COREVIDEO_HOST"); host != "" {
		c.Server.Host = host
	}
	if dsn := os.Getenv("COREVIDEO_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("COREVIDEO_SESSION_SECRET"); secret != "" {
		c.Session.MasterSecret = secret
	}
	if bucket := os.Getenv("COREVIDEO_S3_BUCKET"); bucket != "" {
		c.ObjectStore.Bucket = bucket
	}
	if key := os.Getenv("COREVIDEO_S3_ACCESS_KEY_ID"); key != "" {
		c.ObjectStore.AccessKeyID = key
	}
	if secret := os.Getenv("COREVIDEO_S3_SECRET_ACCESS_KEY"); secret != "" {
		c.ObjectStore.SecretAccessKey = secret
	}
	if brokers := os.Getenv("COREVIDEO_BUS_BROKERS"); brokers != "" {
		c.Bus.Brokers = []string{brokers}
	}
}
