// Package config loads and validates contrag's YAML configuration.
//
// API keys are never stored in the config file — they are merged in from
// environment variables at load time.
package config

import (
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/dhaniverse/contrag/internal/errs"
)

// Config is the full configuration surface consumed by the pipeline.
type Config struct {
	Server         ServerConfig   `yaml:"server"`
	Log            LogConfig      `yaml:"log"`
	Source         SourceConfig   `yaml:"source"`
	Chunking       ChunkingConfig `yaml:"chunking"`
	Graph          GraphConfig    `yaml:"graph"`
	MasterEntities []MasterEntity `yaml:"master_entities"`
	Embedder       EmbedderConfig `yaml:"embedder"`
	VectorStore    VectorConfig   `yaml:"vector_store"`
}

// Duration is a time.Duration that decodes from YAML strings like "15s"
// or "1h30m" in addition to integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return errs.Newf(errs.ErrKindConfig, "invalid duration %q", node.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errs.Wrap(errs.ErrKindConfig, "invalid duration "+s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServerConfig configures the HTTP API server (contragd).
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// SourceConfig selects and configures the backing data source.
type SourceConfig struct {
	// Driver is the data source backend: "postgres", "mysql" or "minio".
	Driver string `yaml:"driver"`

	// DSN is the connection string for relational drivers.
	DSN string `yaml:"dsn"`

	// Schema is the database schema to introspect ("public" for Postgres,
	// the database name for MySQL).
	Schema string `yaml:"schema"`

	// Pool tuning (relational drivers).
	MaxConns        int32    `yaml:"max_conns"`
	MinConns        int32    `yaml:"min_conns"`
	MaxConnLifetime Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime Duration `yaml:"max_conn_idle_time"`
	ConnectTimeout  Duration `yaml:"connect_timeout"`

	// Object storage settings (minio driver). Documents live at
	// <entity-type>/<id>.json inside Bucket.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`

	// SampleLimit caps how many instances per entity type are sampled
	// during heuristic schema inference.
	SampleLimit int `yaml:"sample_limit"`
}

// ChunkingConfig controls context serialization and chunk boundaries.
type ChunkingConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`

	// Overlap is the number of trailing characters of one chunk repeated
	// as the leading characters of the next. Must be < ChunkSize.
	Overlap int `yaml:"overlap"`

	// IncludeFieldNames controls whether serialized lines carry the
	// "<field>: " prefix.
	IncludeFieldNames bool `yaml:"include_field_names"`
}

// GraphConfig bounds entity graph construction.
type GraphConfig struct {
	// MaxDepth is the maximum recursion depth from the root node.
	MaxDepth int `yaml:"max_depth"`

	// FanoutLimit caps related instances fetched per relationship per node.
	FanoutLimit int `yaml:"fanout_limit"`

	// IDFallbackFields is the ordered list of identifier fields tried when
	// a lookup by the declared primary key finds nothing. "<entity>" is
	// substituted with the lowercased entity type name.
	IDFallbackFields []string `yaml:"id_fallback_fields"`
}

// MasterEntity is an explicit per-entity override. When present for an
// entity type, its relationship list fully replaces inferred relationships.
type MasterEntity struct {
	Name          string             `yaml:"name"`
	PrimaryKey    string             `yaml:"primary_key"`
	Relationships []RelationshipRule `yaml:"relationships"`

	// SampleFilter restricts which instances are sampled during inference,
	// for sources that support filtered sampling.
	SampleFilter map[string]any `yaml:"sample_filter"`

	// TimeSeriesField names the field carrying the instance timestamp,
	// used as chunk provenance.
	TimeSeriesField string `yaml:"time_series_field"`
}

// RelationshipRule is one explicitly configured relationship edge.
type RelationshipRule struct {
	// Kind is one of "one_to_one", "one_to_many", "many_to_one",
	// "many_to_many".
	Kind         string `yaml:"kind"`
	TargetEntity string `yaml:"target_entity"`
	LocalKey     string `yaml:"local_key"`
	ForeignKey   string `yaml:"foreign_key"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider string `yaml:"provider"` // "openai"
	Model    string `yaml:"model"`

	// Dimensions is the expected embedding width. Zero means "derive from
	// the model name".
	Dimensions int `yaml:"dimensions"`

	// Endpoint overrides the provider's default API base URL.
	Endpoint string `yaml:"endpoint"`

	// CacheSize bounds the in-process text→embedding cache. Zero disables
	// caching.
	CacheSize int `yaml:"cache_size"`

	// APIKey is never read from YAML — only from the environment.
	APIKey string `yaml:"-"`
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	Driver string `yaml:"driver"` // "memory" or "pgvector"
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// Default returns a ready-to-validate config with production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Source: SourceConfig{
			Driver:          "postgres",
			Schema:          "public",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: Duration(30 * time.Minute),
			MaxConnIdleTime: Duration(5 * time.Minute),
			ConnectTimeout:  Duration(10 * time.Second),
			SampleLimit:     25,
		},
		Chunking: ChunkingConfig{
			ChunkSize:         1000,
			Overlap:           100,
			IncludeFieldNames: true,
		},
		Graph: GraphConfig{
			MaxDepth:         3,
			FanoutLimit:      10,
			IDFallbackFields: []string{"id", "<entity>_id", "<entity>Id"},
		},
		Embedder: EmbedderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			CacheSize: 512,
		},
		VectorStore: VectorConfig{
			Driver: "memory",
			Table:  "contrag_vectors",
		},
	}
}

// Load reads the YAML file at path, applies defaults, merges secrets from
// the environment, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "cannot read config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "cannot parse config file", err)
	}

	cfg.mergeEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeEnv pulls secrets from the environment into the config.
func (c *Config) mergeEnv() {
	if key := os.Getenv("CONTRAG_EMBEDDER_API_KEY"); key != "" {
		c.Embedder.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Embedder.APIKey = key
	}
}

// Validate checks the configuration for errors that must be rejected
// before any backend call is attempted.
func (c *Config) Validate() error {
	switch c.Source.Driver {
	case "postgres", "mysql":
		if c.Source.DSN == "" {
			return errs.Newf(errs.ErrKindConfig, "source driver %q requires a dsn", c.Source.Driver)
		}
	case "minio":
		if c.Source.Endpoint == "" || c.Source.Bucket == "" {
			return errs.New(errs.ErrKindConfig, `source driver "minio" requires endpoint and bucket`)
		}
	default:
		return errs.Newf(errs.ErrKindConfig, "unknown source driver %q", c.Source.Driver)
	}

	if c.Chunking.ChunkSize <= 0 {
		return errs.New(errs.ErrKindConfig, "chunk_size must be greater than zero")
	}
	if c.Chunking.Overlap < 0 {
		return errs.New(errs.ErrKindConfig, "overlap must not be negative")
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return errs.Newf(errs.ErrKindConfig,
			"overlap (%d) must be less than chunk_size (%d)",
			c.Chunking.Overlap, c.Chunking.ChunkSize)
	}

	if c.Graph.MaxDepth < 0 {
		return errs.New(errs.ErrKindConfig, "max_depth must not be negative")
	}
	if c.Graph.FanoutLimit <= 0 {
		return errs.New(errs.ErrKindConfig, "fanout_limit must be greater than zero")
	}
	if c.Source.SampleLimit <= 0 {
		return errs.New(errs.ErrKindConfig, "sample_limit must be greater than zero")
	}

	if c.Embedder.Dimensions < 0 {
		return errs.New(errs.ErrKindConfig, "embedder dimensions must not be negative")
	}

	for _, me := range c.MasterEntities {
		if me.Name == "" {
			return errs.New(errs.ErrKindConfig, "master entity name cannot be empty")
		}
		if me.PrimaryKey == "" {
			return errs.Newf(errs.ErrKindConfig, "master entity %q needs a primary_key", me.Name)
		}
		for _, rel := range me.Relationships {
			switch rel.Kind {
			case "one_to_one", "one_to_many", "many_to_one", "many_to_many":
			default:
				return errs.Newf(errs.ErrKindConfig,
					"master entity %q: unknown relationship kind %q", me.Name, rel.Kind)
			}
			if rel.TargetEntity == "" {
				return errs.Newf(errs.ErrKindConfig,
					"master entity %q: relationship needs a target_entity", me.Name)
			}
		}
	}

	switch c.VectorStore.Driver {
	case "memory":
	case "pgvector":
		if c.VectorStore.DSN == "" {
			return errs.New(errs.ErrKindConfig, `vector store driver "pgvector" requires a dsn`)
		}
	default:
		return errs.Newf(errs.ErrKindConfig, "unknown vector store driver %q", c.VectorStore.Driver)
	}

	return nil
}

// MasterEntity returns the override for the named entity type, if any.
func (c *Config) MasterEntity(name string) (MasterEntity, bool) {
	for _, me := range c.MasterEntities {
		if me.Name == name {
			return me, true
		}
	}
	return MasterEntity{}, false
}
