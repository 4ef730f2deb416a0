// Package config loads the engine's runtime settings with viper,
// following the env-var-driven configuration pattern used across the
// teacher repo's services (see common.GetEnv/GetEnvInt/GetEnvBool for the
// lower-level equivalents this package replaces with a single typed
// struct).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"evtcore.dev/common"
	"evtcore.dev/errs"
)

// EnvPrefix is prepended (with an underscore) to every setting key when
// resolving environment variable overrides, e.g. EVTCORE_CHUNK_SIZE.
const EnvPrefix = "EVTCORE"

// Settings is the full set of tunables the persistence engine's
// components read at construction time.
type Settings struct {
	// ChunkingEnabled turns on stream chunking (§3 StreamChunk) and
	// table-side large-payload chunking (§4.C) engine-wide.
	ChunkingEnabled bool `mapstructure:"chunking_enabled"`
	// ChunkSize is the number of events per StreamChunk when chunking is
	// enabled.
	ChunkSize int `mapstructure:"chunk_size"`

	// CompressPayloads turns GZip compression on for large table
	// payloads (§4.C step 1). Defaults on, per spec.
	CompressPayloads bool `mapstructure:"compress_payloads"`
	// PayloadChunkThresholdBytes is the UTF-8 byte length above which a
	// table event payload is routed through the chunking codec.
	PayloadChunkThresholdBytes int `mapstructure:"payload_chunk_threshold_bytes"`
	// MaxPayloadChunkSizeBytes bounds the size of a single primary-row or
	// continuation-row payload chunk.
	MaxPayloadChunkSizeBytes int `mapstructure:"max_payload_chunk_size_bytes"`

	// BlobContainer is the container/bucket name the KvBlob capability
	// resolves paths under.
	BlobContainer string `mapstructure:"blob_container"`
	// TableName is the table name the WideTable capability resolves
	// partition/row keys under.
	TableName string `mapstructure:"table_name"`

	// RebuildLeaseDefault is the default timeout StartRebuild uses when
	// the caller does not specify one explicitly.
	RebuildLeaseDefault int `mapstructure:"rebuild_lease_default_seconds"`

	// StatusCacheTTLSeconds controls how long the projection-status
	// read-through cache (§2 domain stack) retains an entry.
	StatusCacheTTLSeconds int `mapstructure:"status_cache_ttl_seconds"`

	// AWSRegion / PostgresDSN / RedisAddr are substrate connection
	// settings; they hold no default because there is no safe default
	// for a connection target.
	AWSRegion   string `mapstructure:"aws_region"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
}

// Default returns Settings with the values spec.md calls out explicitly
// (§4.C: 60 KiB threshold and max chunk size, compression on by default).
func Default() Settings {
	const sixtyKiB = 60 * 1024
	return Settings{
		ChunkingEnabled:            false,
		ChunkSize:                  1000,
		CompressPayloads:           true,
		PayloadChunkThresholdBytes: sixtyKiB,
		MaxPayloadChunkSizeBytes:   sixtyKiB,
		BlobContainer:              "events",
		TableName:                  "events",
		RebuildLeaseDefault:        300,
		StatusCacheTTLSeconds:      30,
	}
}

// Load builds Settings from defaults, then an optional config file, then
// EVTCORE_-prefixed environment variables, in that order of increasing
// precedence — the same layering viper applies across the teacher's
// service configs.
func Load(configPath string) (Settings, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("chunking_enabled", def.ChunkingEnabled)
	v.SetDefault("chunk_size", def.ChunkSize)
	v.SetDefault("compress_payloads", def.CompressPayloads)
	v.SetDefault("payload_chunk_threshold_bytes", def.PayloadChunkThresholdBytes)
	v.SetDefault("max_payload_chunk_size_bytes", def.MaxPayloadChunkSizeBytes)
	v.SetDefault("blob_container", def.BlobContainer)
	v.SetDefault("table_name", def.TableName)
	v.SetDefault("rebuild_lease_default_seconds", def.RebuildLeaseDefault)
	v.SetDefault("status_cache_ttl_seconds", def.StatusCacheTTLSeconds)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errs.Wrapf(errs.InvalidArgument, err, "reading config file %s", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errs.Wrap(errs.InvalidArgument, err, "decoding settings")
	}

	// viper.AutomaticEnv does not populate fields that were never
	// registered via SetDefault/BindEnv; bind the connection settings
	// explicitly so EVTCORE_POSTGRES_DSN etc. are honored.
	for _, key := range []string{"aws_region", "postgres_dsn", "redis_addr"} {
		_ = v.BindEnv(key)
	}
	s.AWSRegion = v.GetString("aws_region")
	s.PostgresDSN = v.GetString("postgres_dsn")
	s.RedisAddr = v.GetString("redis_addr")

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings combinations the chunking codec and stream
// chunking invariants cannot tolerate.
func (s Settings) Validate() error {
	if s.ChunkingEnabled && s.ChunkSize <= 0 {
		return errs.New(errs.InvalidArgument, "chunk_size must be positive when chunking is enabled")
	}
	if s.PayloadChunkThresholdBytes <= 0 {
		return errs.New(errs.InvalidArgument, "payload_chunk_threshold_bytes must be positive")
	}
	if s.MaxPayloadChunkSizeBytes <= 0 {
		return errs.New(errs.InvalidArgument, "max_payload_chunk_size_bytes must be positive")
	}
	if s.PayloadChunkThresholdBytes > s.MaxPayloadChunkSizeBytes {
		return errs.New(errs.InvalidArgument, "payload_chunk_threshold_bytes cannot exceed max_payload_chunk_size_bytes")
	}
	return nil
}

// DumpMasked renders the settings as YAML with connection secrets masked
// via common.MaskSecret, for startup diagnostics logging.
func (s Settings) DumpMasked() (string, error) {
	masked := s
	masked.PostgresDSN = common.MaskSecret(s.PostgresDSN)
	out, err := yaml.Marshal(masked)
	if err != nil {
		return "", fmt.Errorf("marshaling settings: %w", err)
	}
	return string(out), nil
}
