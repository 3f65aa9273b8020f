package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/audio/device"
	"github.com/loqalabs/loqa-interpret/internal/audio/vad"
	"github.com/loqalabs/loqa-interpret/internal/cache"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/pipeline"
	"github.com/loqalabs/loqa-interpret/internal/stt"
	"github.com/loqalabs/loqa-interpret/internal/translate"
	"github.com/loqalabs/loqa-interpret/internal/tts"
)

// buildDeps selects the pipeline collaborators named by config.
func buildDeps(cfg config.Config, store *cache.Store, logger *slog.Logger) (pipeline.Deps, error) {
	var (
		deps pipeline.Deps
		err  error
	)

	switch cfg.STT.Mode {
	case "mock":
		deps.Recognizer = stt.NewMockRecognizer()
	case "exec":
		if deps.Recognizer, err = stt.NewExecRecognizer(cfg.STT, cfg.Audio.SpoolDir); err != nil {
			return deps, fmt.Errorf("stt: %w", err)
		}
	default:
		return deps, fmt.Errorf("unknown stt mode %q", cfg.STT.Mode)
	}

	switch cfg.Punctuation.Mode {
	case "none":
		deps.Punctuator = stt.NewNoopPunctuator()
	case "mock":
		deps.Punctuator = stt.NewMockPunctuator()
	case "exec":
		if deps.Punctuator, err = stt.NewExecPunctuator(cfg.Punctuation.Command); err != nil {
			return deps, fmt.Errorf("punctuation: %w", err)
		}
	default:
		return deps, fmt.Errorf("unknown punctuation mode %q", cfg.Punctuation.Mode)
	}

	var translator translate.Translator
	switch cfg.Translation.Mode {
	case "mock":
		translator = translate.NewMockTranslator()
	case "exec":
		if translator, err = translate.NewExecTranslator(cfg.Translation.Command); err != nil {
			return deps, fmt.Errorf("translation: %w", err)
		}
	case "ollama":
		translator = translate.NewOllamaTranslator(cfg.Translation.Endpoint, cfg.Translation.Model, cfg.Translation.Temperature)
	default:
		return deps, fmt.Errorf("unknown translation mode %q", cfg.Translation.Mode)
	}
	deps.Translator = translate.NewCached(translator, store, logger)

	switch cfg.TTS.Mode {
	case "mock":
		deps.Synthesizer = tts.NewMockSynth(cfg.TTS.SampleRate, cfg.TTS.Channels)
	case "exec":
		if deps.Synthesizer, err = tts.NewExecSynth(cfg.TTS.Command, cfg.TTS.SampleRate, cfg.TTS.Channels); err != nil {
			return deps, fmt.Errorf("tts: %w", err)
		}
	default:
		return deps, fmt.Errorf("unknown tts mode %q", cfg.TTS.Mode)
	}

	switch cfg.Audio.Mode {
	case "portaudio":
		deps.Source = device.NewCapture(cfg.Audio, logger)
		deps.Player = device.NewPlayback()
	case "null":
		deps.Source = audio.NullSource{}
		deps.Player = audio.NullPlayer{}
	default:
		return deps, fmt.Errorf("unknown audio mode %q", cfg.Audio.Mode)
	}

	if cfg.STT.VADEnabled {
		gate, err := vad.New(cfg.Audio.SampleRate, cfg.STT.VADMode)
		if err != nil {
			return deps, fmt.Errorf("vad: %w", err)
		}
		deps.VoiceGate = gate
	}
	return deps, nil
}

// openCache opens the translation cache, falling back to no cache when the
// database cannot be opened.
func openCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) *cache.Store {
	store, err := cache.Open(ctx, cfg, logger.With(slog.String("component", "translation-cache")))
	if err != nil {
		logger.Warn("translation cache disabled", slog.String("error", err.Error()))
		store, _ = cache.Open(ctx, config.CacheConfig{Mode: "off"}, logger)
	}
	return store
}
