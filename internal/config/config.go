package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the session engine.
type Config struct {
	Models    ModelsConfig
	Engine    EngineConfig
	Session   SessionConfig
	Camera    CameraConfig
	Audio     AudioConfig
	Deepgram  DeepgramConfig
	Translate TranslateConfig
	Speech    SpeechConfig
	Voice     VoiceConfig
}

type ModelsConfig struct {
	Dir           string
	BaseURL       string
	ModelFile     string
	ProjectorFile string
	ContextSize   int
}

type EngineConfig struct {
	Command     string
	Temperature float64
}

type SessionConfig struct {
	MinWarmup       time.Duration
	FrameDelay      time.Duration
	VideoFrameCount int
}

type CameraConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	FrameWidth  int
	FrameHeight int
}

type AudioConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

type DeepgramConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

type TranslateConfig struct {
	BaseURL string
}

type SpeechConfig struct {
	Command string
}

type VoiceConfig struct {
	PhraseFile string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return Config{}, errors.New("could not determine cache directory")
	}

	cfg := Config{
		Models: ModelsConfig{
			Dir:           envOrDefault("SCENESENSE_MODELS_DIR", filepath.Join(cacheDir, "scenesense", "models")),
			BaseURL:       envOrDefault("SCENESENSE_MODEL_BASE_URL", "https://huggingface.co/ggml-org/SmolVLM2-500M-Video-Instruct-GGUF/resolve/main/"),
			ModelFile:     envOrDefault("SCENESENSE_MODEL_FILE", "SmolVLM2-500M-Video-Instruct-Q8_0.gguf"),
			ProjectorFile: envOrDefault("SCENESENSE_PROJECTOR_FILE", "mmproj-SmolVLM2-500M-Video-Instruct-Q8_0.gguf"),
			ContextSize:   envOrDefaultInt("SCENESENSE_CONTEXT_SIZE", 4096),
		},
		Engine: EngineConfig{
			Command:     envOrDefault("SCENESENSE_ENGINE_COMMAND", "llama-mtmd-cli"),
			Temperature: envOrDefaultFloat("SCENESENSE_ENGINE_TEMPERATURE", 0.1),
		},
		Session: SessionConfig{
			MinWarmup:       time.Duration(envOrDefaultInt("SCENESENSE_MIN_WARMUP_MS", 2500)) * time.Millisecond,
			FrameDelay:      time.Duration(envOrDefaultInt("SCENESENSE_FRAME_DELAY_MS", 3000)) * time.Millisecond,
			VideoFrameCount: envOrDefaultInt("SCENESENSE_VIDEO_FRAMES", 3),
		},
		Camera: CameraConfig{
			Command:     envOrDefault("SCENESENSE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat: envOrDefault("SCENESENSE_CAMERA_INPUT_FORMAT", "v4l2"),
			InputDevice: envOrDefault("SCENESENSE_CAMERA_DEVICE", "/dev/video0"),
			FrameWidth:  envOrDefaultInt("SCENESENSE_FRAME_WIDTH", 512),
			FrameHeight: envOrDefaultInt("SCENESENSE_FRAME_HEIGHT", 384),
		},
		Audio: AudioConfig{
			Command:     envOrDefault("SCENESENSE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat: envOrDefault("SCENESENSE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: envOrDefault("SCENESENSE_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:  envOrDefaultInt("SCENESENSE_SAMPLE_RATE", 16000),
			Channels:    envOrDefaultInt("SCENESENSE_CHANNELS", 1),
		},
		Deepgram: DeepgramConfig{
			APIKey:     strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL: envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:      envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		},
		Translate: TranslateConfig{
			BaseURL: envOrDefault("SCENESENSE_TRANSLATE_URL", "http://localhost:5000"),
		},
		Speech: SpeechConfig{
			Command: envOrDefault("SCENESENSE_TTS_COMMAND", "espeak-ng"),
		},
		Voice: VoiceConfig{
			PhraseFile: strings.TrimSpace(os.Getenv("SCENESENSE_PHRASE_FILE")),
		},
	}

	if cfg.Models.ContextSize <= 0 {
		cfg.Models.ContextSize = 4096
	}
	if cfg.Session.VideoFrameCount <= 0 {
		cfg.Session.VideoFrameCount = 3
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Camera.FrameWidth <= 0 || cfg.Camera.FrameHeight <= 0 {
		cfg.Camera.FrameWidth = 512
		cfg.Camera.FrameHeight = 384
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
