// signally/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin              string        `mapstructure:"FF_BIN"`
	FFProbeBin         string        `mapstructure:"FFPROBE_BIN"`
	MediaRoot          string        `mapstructure:"MEDIA_ROOT"`
	TranscodeWorkers   int           `mapstructure:"TRANSCODE_WORKERS"`
	TranscodeExtraArgs string        `mapstructure:"TRANSCODE_EXTRA_ARGS"`
	LaunchGrace        time.Duration `mapstructure:"LAUNCH_GRACE"`
	TermGrace          time.Duration `mapstructure:"TERM_GRACE"`
	KillGrace          time.Duration `mapstructure:"KILL_GRACE"`
	OutputTail         int64         `mapstructure:"OUTPUT_TAIL"`
	IngestHost         string        `mapstructure:"INGEST_HOST"`
	IngestPort         int           `mapstructure:"INGEST_PORT"`
	IngestApp          string        `mapstructure:"INGEST_APP"`
	IngestTimeout      time.Duration `mapstructure:"INGEST_TIMEOUT"`
	HLSBaseURL         string        `mapstructure:"HLS_BASE_URL"`
	StreamExtraArgs    string        `mapstructure:"STREAM_EXTRA_ARGS"`
	ThrottleCPU        float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem    int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk   int64         `mapstructure:"THROTTLE_FREEDISK"`
	RegistryDriver     string        `mapstructure:"REGISTRY_DRIVER"`
	RegistryDSN        string        `mapstructure:"REGISTRY_DSN"`
	ReconcileSchedule  string        `mapstructure:"RECONCILE_SCHEDULE"`
	RescanSchedule     string        `mapstructure:"RESCAN_SCHEDULE"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("MEDIA_ROOT", "./multimedia")
	vp.SetDefault("TRANSCODE_WORKERS", 1)
	vp.SetDefault("TRANSCODE_EXTRA_ARGS", "")
	vp.SetDefault("LAUNCH_GRACE", "1s")
	vp.SetDefault("TERM_GRACE", "2s")
	vp.SetDefault("KILL_GRACE", "1s")
	vp.SetDefault("OUTPUT_TAIL", "2KB")
	vp.SetDefault("INGEST_HOST", "localhost")
	vp.SetDefault("INGEST_PORT", 1935)
	vp.SetDefault("INGEST_APP", "live")
	vp.SetDefault("INGEST_TIMEOUT", "5s")
	vp.SetDefault("HLS_BASE_URL", "http://localhost:8000/hls")
	vp.SetDefault("STREAM_EXTRA_ARGS", "")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("REGISTRY_DRIVER", "sqlite")
	vp.SetDefault("REGISTRY_DSN", "channels.db")
	vp.SetDefault("RECONCILE_SCHEDULE", "@every 30s")
	vp.SetDefault("RESCAN_SCHEDULE", "@every 5m")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "text")
}

// Load reads configuration from defaults, an optional signally_config.yaml and
// SIGNALLY_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("signally_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/signally/")
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("SIGNALLY")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the queue and supervisor cannot run with.
func (c *Config) Validate() error {
	if c.TranscodeWorkers < 1 {
		return fmt.Errorf("TRANSCODE_WORKERS must be at least 1, got %d", c.TranscodeWorkers)
	}
	if c.IngestPort < 1 || c.IngestPort > 65535 {
		return fmt.Errorf("INGEST_PORT out of range: %d", c.IngestPort)
	}
	if c.LaunchGrace <= 0 || c.TermGrace <= 0 || c.KillGrace <= 0 {
		return fmt.Errorf("grace periods must be positive")
	}
	if c.OutputTail <= 0 {
		return fmt.Errorf("OUTPUT_TAIL must be positive")
	}
	switch c.RegistryDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported REGISTRY_DRIVER: %s", c.RegistryDriver)
	}
	return nil
}
