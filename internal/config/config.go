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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// Traces selects the span exporter: otlp, stdout or none. Empty picks
	// otlp when an endpoint is set and stdout otherwise.
	Traces string `yaml:"traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Audio       AudioConfig       `yaml:"audio"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	STT         STTConfig         `yaml:"stt"`
	Punctuation PunctuationConfig `yaml:"punctuation"`
	Translation TranslationConfig `yaml:"translation"`
	TTS         TTSConfig         `yaml:"tts"`
	Queue       QueueConfig       `yaml:"queue"`
	Cache       CacheConfig       `yaml:"cache"`
	Bridge      BridgeConfig      `yaml:"bridge"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig selects the capture and playback devices.
type AudioConfig struct {
	Mode        string `yaml:"mode"` // portaudio, null
	InputDevice string `yaml:"input_device"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	BlockSize   int    `yaml:"block_size"`
	SpoolDir    string `yaml:"spool_dir"`
}

// StreamingConfig holds the chunking policy of a listening session.
type StreamingConfig struct {
	PollIntervalMS    int  `yaml:"poll_interval_ms"`
	MinChunkMS        int  `yaml:"min_chunk_ms"`
	PartialMinMS      int  `yaml:"partial_min_ms"`
	PunctuateMinChars int  `yaml:"punctuate_min_chars"`
	Partials          bool `yaml:"partials"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	VADEnabled bool   `yaml:"vad_enabled"`
	VADMode    int    `yaml:"vad_mode"`
}

type PunctuationConfig struct {
	Mode    string `yaml:"mode"` // none, mock, exec
	Command string `yaml:"command"`
}

type TranslationConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, ollama
	Command     string  `yaml:"command"`
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	SourceLang  string  `yaml:"source_lang"`
	DestLang    string  `yaml:"dest_lang"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string            `yaml:"mode"` // mock, exec
	Command    string            `yaml:"command"`
	Voices     map[string]string `yaml:"voices"`
	SampleRate int               `yaml:"sample_rate"`
	Channels   int               `yaml:"channels"`
	TimeoutMS  int               `yaml:"timeout_ms"`
}

// QueueConfig bounds the translation and speech queues. Capacity 0 means unbounded.
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"` // block, drop_oldest
}

type CacheConfig struct {
	Mode          string `yaml:"mode"` // off, memory, disk
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
}

type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interpret",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Mode:       "portaudio",
			SampleRate: 16000,
			Channels:   1,
			BlockSize:  1024,
		},
		Streaming: StreamingConfig{
			PollIntervalMS:    500,
			MinChunkMS:        1000,
			PartialMinMS:      500,
			PunctuateMinChars: 3,
			Partials:          true,
		},
		STT: STTConfig{
			Mode:    "mock",
			VADMode: 2,
		},
		Punctuation: PunctuationConfig{
			Mode: "none",
		},
		Translation: TranslationConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			Temperature: 0.1,
			SourceLang:  "en",
			DestLang:    "fr",
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
		},
		Queue: QueueConfig{
			Capacity: 0,
			Overflow: "block",
		},
		Cache: CacheConfig{
			Mode:          "memory",
			Path:          "./data/translations.db",
			RetentionDays: 7,
			MaxEntries:    5000,
		},
		Bridge: BridgeConfig{
			Enabled:       true,
			SubjectPrefix: "interpret",
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Mode, "LOQA_AUDIO_MODE")
	overrideString(&cfg.Audio.InputDevice, "LOQA_AUDIO_INPUT_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BlockSize, "LOQA_AUDIO_BLOCK_SIZE")
	overrideString(&cfg.Audio.SpoolDir, "LOQA_AUDIO_SPOOL_DIR")
	overrideInt(&cfg.Streaming.PollIntervalMS, "LOQA_STREAMING_POLL_INTERVAL_MS")
	overrideInt(&cfg.Streaming.MinChunkMS, "LOQA_STREAMING_MIN_CHUNK_MS")
	overrideInt(&cfg.Streaming.PartialMinMS, "LOQA_STREAMING_PARTIAL_MIN_MS")
	overrideInt(&cfg.Streaming.PunctuateMinChars, "LOQA_STREAMING_PUNCTUATE_MIN_CHARS")
	overrideBool(&cfg.Streaming.Partials, "LOQA_STREAMING_PARTIALS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideBool(&cfg.STT.VADEnabled, "LOQA_STT_VAD_ENABLED")
	overrideInt(&cfg.STT.VADMode, "LOQA_STT_VAD_MODE")
	overrideString(&cfg.Punctuation.Mode, "LOQA_PUNCTUATION_MODE")
	overrideString(&cfg.Punctuation.Command, "LOQA_PUNCTUATION_COMMAND")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideString(&cfg.Translation.Endpoint, "LOQA_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideFloat(&cfg.Translation.Temperature, "LOQA_TRANSLATION_TEMPERATURE")
	overrideString(&cfg.Translation.SourceLang, "LOQA_TRANSLATION_SOURCE_LANG")
	overrideString(&cfg.Translation.DestLang, "LOQA_TRANSLATION_DEST_LANG")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideInt(&cfg.Queue.Capacity, "LOQA_QUEUE_CAPACITY")
	overrideString(&cfg.Queue.Overflow, "LOQA_QUEUE_OVERFLOW")
	overrideString(&cfg.Cache.Mode, "LOQA_CACHE_MODE")
	overrideString(&cfg.Cache.Path, "LOQA_CACHE_PATH")
	overrideInt(&cfg.Cache.RetentionDays, "LOQA_CACHE_RETENTION_DAYS")
	overrideInt(&cfg.Cache.MaxEntries, "LOQA_CACHE_MAX_ENTRIES")
	overrideBool(&cfg.Bridge.Enabled, "LOQA_BRIDGE_ENABLED")
	overrideString(&cfg.Bridge.SubjectPrefix, "LOQA_BRIDGE_SUBJECT_PREFIX")
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
	switch cfg.Telemetry.Traces {
	case "", "otlp", "stdout", "none":
	default:
		return errors.New("telemetry.traces must be one of otlp|stdout|none")
	}
	if cfg.Telemetry.Traces == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
	}
	switch cfg.Audio.Mode {
	case "portaudio", "null":
	default:
		return errors.New("audio.mode must be one of portaudio|null")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be positive")
	}
	if cfg.Streaming.PollIntervalMS <= 0 {
		return errors.New("streaming.poll_interval_ms must be positive")
	}
	if cfg.Streaming.MinChunkMS <= 0 {
		return errors.New("streaming.min_chunk_ms must be positive")
	}
	if cfg.Streaming.PartialMinMS <= 0 {
		return errors.New("streaming.partial_min_ms must be positive")
	}
	if cfg.Streaming.PunctuateMinChars < 0 {
		return errors.New("streaming.punctuate_min_chars must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.VADMode < 0 || cfg.STT.VADMode > 3 {
		return errors.New("stt.vad_mode must be between 0 and 3")
	}
	switch cfg.Punctuation.Mode {
	case "none", "mock", "exec":
	default:
		return errors.New("punctuation.mode must be one of none|mock|exec")
	}
	if cfg.Punctuation.Mode == "exec" && cfg.Punctuation.Command == "" {
		return errors.New("punctuation.command must be set when mode=exec")
	}
	switch cfg.Translation.Mode {
	case "mock", "exec", "ollama":
	default:
		return errors.New("translation.mode must be one of mock|exec|ollama")
	}
	if cfg.Translation.Mode == "exec" && cfg.Translation.Command == "" {
		return errors.New("translation.command must be set when mode=exec")
	}
	if cfg.Translation.Mode == "ollama" && cfg.Translation.Endpoint == "" {
		return errors.New("translation.endpoint must be set when mode=ollama")
	}
	if cfg.Translation.SourceLang == "" || cfg.Translation.DestLang == "" {
		return errors.New("translation.source_lang and translation.dest_lang must not be empty")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.Queue.Capacity < 0 {
		return errors.New("queue.capacity must be >= 0")
	}
	switch cfg.Queue.Overflow {
	case "block", "drop_oldest":
	default:
		return errors.New("queue.overflow must be one of block|drop_oldest")
	}
	switch cfg.Cache.Mode {
	case "off", "memory":
	case "disk":
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when mode=disk")
		}
	default:
		return errors.New("cache.mode must be one of off|memory|disk")
	}
	if cfg.Cache.RetentionDays < 0 {
		return errors.New("cache.retention_days must be >= 0")
	}
	if cfg.Bridge.Enabled && cfg.Bridge.SubjectPrefix == "" {
		return errors.New("bridge.subject_prefix must not be empty when the bridge is enabled")
	}
	return nil
}
