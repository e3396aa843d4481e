package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JobStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
}

type TempFilesConfig struct {
	Dir            string `yaml:"dir"`
	MaxRetries     int    `yaml:"max_retries"`
	InitialDelayMS int    `yaml:"initial_delay_ms"`
}

type ModelConfig struct {
	Mode              string   `yaml:"mode"` // mock, exec
	Command           string   `yaml:"command"`
	Devices           []string `yaml:"devices"`
	IdleUnloadSeconds int      `yaml:"idle_unload_seconds"`
}

type PipelineConfig struct {
	ChunkingEnabled bool  `yaml:"chunking_enabled"`
	ChunkSeconds    int   `yaml:"chunk_seconds"`
	SampleRate      int   `yaml:"sample_rate"`
	MaxParallel     int   `yaml:"max_parallel"`
	MaxInputMB      int64 `yaml:"max_input_mb"`
	MaxDurationSec  int   `yaml:"max_duration_seconds"`
	MinDurationMS   int   `yaml:"min_duration_ms"`
}

type EffectsConfig struct {
	PitchSemitones float64 `yaml:"pitch_semitones"`
	SpeedFactor    float64 `yaml:"speed_factor"`
	VolumeFactor   float64 `yaml:"volume_factor"`
}

type VideoConfig struct {
	Enabled             bool   `yaml:"enabled"`
	FFmpegPath          string `yaml:"ffmpeg_path"`
	FFprobePath         string `yaml:"ffprobe_path"`
	DurationFallbackSec int    `yaml:"duration_fallback_seconds"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	JobStore    JobStoreConfig  `yaml:"job_store"`
	TempFiles   TempFilesConfig `yaml:"temp_files"`
	Model       ModelConfig     `yaml:"model"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Effects     EffectsConfig   `yaml:"effects"`
	Video       VideoConfig     `yaml:"video"`
}

func Default() Config {
	return Config{
		RuntimeName: "sonant-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		JobStore: JobStoreConfig{
			Path:          "./data/sonant-jobs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
		},
		TempFiles: TempFilesConfig{
			Dir:            "",
			MaxRetries:     3,
			InitialDelayMS: 100,
		},
		Model: ModelConfig{
			Mode:              "mock",
			Devices:           []string{"cpu"},
			IdleUnloadSeconds: 300,
		},
		Pipeline: PipelineConfig{
			ChunkingEnabled: true,
			ChunkSeconds:    60,
			SampleRate:      16000,
			MaxParallel:     1,
			MaxInputMB:      100,
			MaxDurationSec:  600,
			MinDurationMS:   1000,
		},
		Effects: EffectsConfig{
			PitchSemitones: 0,
			SpeedFactor:    1.0,
			VolumeFactor:   1.0,
		},
		Video: VideoConfig{
			Enabled:             true,
			FFmpegPath:          "ffmpeg",
			FFprobePath:         "ffprobe",
			DurationFallbackSec: 60,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SONANT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SONANT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SONANT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SONANT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SONANT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SONANT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SONANT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SONANT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SONANT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SONANT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SONANT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SONANT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SONANT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SONANT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SONANT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SONANT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SONANT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Path, "SONANT_JOB_STORE_PATH")
	overrideString(&cfg.JobStore.RetentionMode, "SONANT_JOB_STORE_RETENTION_MODE")
	overrideInt(&cfg.JobStore.RetentionDays, "SONANT_JOB_STORE_RETENTION_DAYS")
	overrideString(&cfg.TempFiles.Dir, "SONANT_TEMP_FILES_DIR")
	overrideInt(&cfg.TempFiles.MaxRetries, "SONANT_TEMP_FILES_MAX_RETRIES")
	overrideInt(&cfg.TempFiles.InitialDelayMS, "SONANT_TEMP_FILES_INITIAL_DELAY_MS")
	overrideString(&cfg.Model.Mode, "SONANT_MODEL_MODE")
	overrideString(&cfg.Model.Command, "SONANT_MODEL_COMMAND")
	overrideStringSlice(&cfg.Model.Devices, "SONANT_MODEL_DEVICES")
	overrideInt(&cfg.Model.IdleUnloadSeconds, "SONANT_MODEL_IDLE_UNLOAD_SECONDS")
	overrideBool(&cfg.Pipeline.ChunkingEnabled, "SONANT_PIPELINE_CHUNKING_ENABLED")
	overrideInt(&cfg.Pipeline.ChunkSeconds, "SONANT_PIPELINE_CHUNK_SECONDS")
	overrideInt(&cfg.Pipeline.SampleRate, "SONANT_PIPELINE_SAMPLE_RATE")
	overrideInt(&cfg.Pipeline.MaxParallel, "SONANT_PIPELINE_MAX_PARALLEL")
	overrideInt64(&cfg.Pipeline.MaxInputMB, "SONANT_PIPELINE_MAX_INPUT_MB")
	overrideInt(&cfg.Pipeline.MaxDurationSec, "SONANT_PIPELINE_MAX_DURATION_SECONDS")
	overrideInt(&cfg.Pipeline.MinDurationMS, "SONANT_PIPELINE_MIN_DURATION_MS")
	overrideFloat(&cfg.Effects.PitchSemitones, "SONANT_EFFECTS_PITCH_SEMITONES")
	overrideFloat(&cfg.Effects.SpeedFactor, "SONANT_EFFECTS_SPEED_FACTOR")
	overrideFloat(&cfg.Effects.VolumeFactor, "SONANT_EFFECTS_VOLUME_FACTOR")
	overrideBool(&cfg.Video.Enabled, "SONANT_VIDEO_ENABLED")
	overrideString(&cfg.Video.FFmpegPath, "SONANT_VIDEO_FFMPEG_PATH")
	overrideString(&cfg.Video.FFprobePath, "SONANT_VIDEO_FFPROBE_PATH")
	overrideInt(&cfg.Video.DurationFallbackSec, "SONANT_VIDEO_DURATION_FALLBACK_SECONDS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.JobStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("job_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.JobStore.RetentionMode == "persistent" && cfg.JobStore.Path == "" {
		return errors.New("job_store.path must not be empty when retention is persistent")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	if cfg.TempFiles.MaxRetries < 0 {
		return errors.New("temp_files.max_retries must be >= 0")
	}
	switch cfg.Model.Mode {
	case "mock", "exec":
	default:
		return errors.New("model.mode must be one of mock|exec")
	}
	if cfg.Model.Mode == "exec" && cfg.Model.Command == "" {
		return errors.New("model.command must be set when mode=exec")
	}
	if len(cfg.Model.Devices) == 0 {
		return errors.New("model.devices must not be empty")
	}
	if cfg.Model.IdleUnloadSeconds < 0 {
		return errors.New("model.idle_unload_seconds must be >= 0")
	}
	if cfg.Pipeline.ChunkSeconds <= 0 {
		return errors.New("pipeline.chunk_seconds must be positive")
	}
	if cfg.Pipeline.SampleRate <= 0 {
		return errors.New("pipeline.sample_rate must be positive")
	}
	if cfg.Pipeline.MaxParallel <= 0 {
		return errors.New("pipeline.max_parallel must be >= 1")
	}
	if cfg.Pipeline.MaxInputMB <= 0 {
		return errors.New("pipeline.max_input_mb must be positive")
	}
	if cfg.Pipeline.MaxDurationSec <= 0 {
		return errors.New("pipeline.max_duration_seconds must be positive")
	}
	if cfg.Effects.SpeedFactor < 0 {
		return errors.New("effects.speed_factor must be >= 0")
	}
	if cfg.Effects.VolumeFactor < 0 {
		return errors.New("effects.volume_factor must be >= 0")
	}
	if cfg.Video.Enabled {
		if cfg.Video.FFmpegPath == "" || cfg.Video.FFprobePath == "" {
			return errors.New("video.ffmpeg_path and video.ffprobe_path must be set when video is enabled")
		}
		if cfg.Video.DurationFallbackSec <= 0 {
			return errors.New("video.duration_fallback_seconds must be positive")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
