package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/mission-engine/model"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// MISSIONSIM_LATENCY_UPLINK_SECONDS=60.
const EnvPrefix = "MISSIONSIM"

// Engine is the process-wide engine configuration.
type Engine struct {
	Latency      LatencyConfig    `mapstructure:"latency"`
	Tick         time.Duration    `mapstructure:"tick"`
	DefaultScale float64          `mapstructure:"default_scale"`
	Dispatcher   DispatcherConfig `mapstructure:"dispatcher"`
	Snapshot     SnapshotConfig   `mapstructure:"snapshot"`
	PassCache    PassCacheConfig  `mapstructure:"pass_cache"`
	Metrics      AddrConfig       `mapstructure:"metrics"`
	GRPC         AddrConfig       `mapstructure:"grpc"`
	Logging      LoggingConfig    `mapstructure:"logging"`
	Tracing      TracingConfig    `mapstructure:"tracing"`
}

// LatencyConfig holds the default command latency profile.
type LatencyConfig struct {
	UplinkSeconds    float64 `mapstructure:"uplink_seconds"`
	ExecutionSeconds float64 `mapstructure:"execution_seconds"`
	CriticalFactor   float64 `mapstructure:"critical_factor"`
}

// DispatcherConfig sizes the event dispatcher.
type DispatcherConfig struct {
	Buffer          int           `mapstructure:"buffer"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// SnapshotConfig controls session persistence.
type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// PassCacheConfig sizes the next-pass cache.
type PassCacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// AddrConfig is a listen address; empty disables the listener.
type AddrConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("latency.uplink_seconds", 90.0)
	v.SetDefault("latency.execution_seconds", 30.0)
	v.SetDefault("latency.critical_factor", 0.5)
	v.SetDefault("tick", time.Second)
	v.SetDefault("default_scale", 1.0)
	v.SetDefault("dispatcher.buffer", 256)
	v.SetDefault("dispatcher.delivery_timeout", 5*time.Second)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.dir", "var/snapshots")
	v.SetDefault("pass_cache.size", 1024)
	v.SetDefault("pass_cache.ttl", 10*time.Minute)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("grpc.addr", ":50061")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "missionsim")
}

// DefaultEngine returns the built-in defaults without reading files or
// the environment.
func DefaultEngine() Engine {
	v := viper.New()
	setDefaults(v)
	var cfg Engine
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}

// LoadEngine reads path (YAML; optional when empty), applies MISSIONSIM_*
// environment overrides and validates the result.
func LoadEngine(path string) (Engine, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return Engine{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Validate(path, src, DefEngine); err != nil {
			return Engine{}, err
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Engine{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	var cfg Engine
	if err := v.Unmarshal(&cfg); err != nil {
		return Engine{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}

// Validate checks values the schema cannot see, such as environment
// overrides.
func (e Engine) Validate() error {
	switch {
	case e.Latency.UplinkSeconds < 0 || e.Latency.ExecutionSeconds < 0:
		return model.NewConfigError("latency", "durations must be >= 0", ErrInvalid)
	case e.Latency.CriticalFactor <= 0 || e.Latency.CriticalFactor > 1:
		return model.NewConfigError("latency.critical_factor", "must be in (0, 1]", ErrInvalid)
	case e.DefaultScale <= 0:
		return model.NewConfigError("default_scale", "must be > 0", ErrInvalid)
	case e.Tick <= 0:
		return model.NewConfigError("tick", "must be > 0", ErrInvalid)
	case e.Dispatcher.Buffer <= 0:
		return model.NewConfigError("dispatcher.buffer", "must be > 0", ErrInvalid)
	case e.Snapshot.Enabled && e.Snapshot.Dir == "":
		return model.NewConfigError("snapshot.dir", "required when snapshots are enabled", ErrInvalid)
	case e.Tracing.SampleRatio < 0 || e.Tracing.SampleRatio > 1:
		return model.NewConfigError("tracing.sample_ratio", "must be in [0, 1]", ErrInvalid)
	}
	return nil
}
