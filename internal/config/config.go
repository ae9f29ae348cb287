// Package config loads process-wide configuration for the streaming
// recognition service from environment variables, with an optional YAML
// file overlay applied before the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds listener addresses.
type Server struct {
	WSAddr    string `yaml:"ws_addr"`    // audio socket (§6.1)
	AdminAddr string `yaml:"admin_addr"` // admin HTTP (§6.2)
	GRPCAddr  string `yaml:"grpc_addr"`  // health gRPC surface
}

// Audio holds frame/VAD tuning (§4.2, §4.3).
type Audio struct {
	SampleRate      int     `yaml:"sample_rate"`
	FrameSamples    int     `yaml:"frame_samples"`
	ThresholdOn     float64 `yaml:"threshold_on"`
	ThresholdOff    float64 `yaml:"threshold_off"`
	MinSpeechFrames int     `yaml:"min_speech_frames"`
	HangoverFrames  int     `yaml:"hangover_frames"`
	PreRollMs       int     `yaml:"pre_roll_ms"`
	HangoverMs      int     `yaml:"hangover_ms"`
	MaxUtteranceSec int     `yaml:"max_utterance_sec"`
}

// Workers holds the transcription worker pool's tuning (§4.4).
type Workers struct {
	PoolSize      int           `yaml:"pool_size"`
	MaxQueueDepth int           `yaml:"max_queue_depth"`
	JobDeadline   time.Duration `yaml:"job_deadline"`
}

// AudioLog is the mutable, process-wide audio-log snapshot (§3, §9). It is
// read with a single-writer guard (internal/syncx.RWGuard) and mutated
// atomically by the admin API.
type AudioLog struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Session holds per-connection supervisor tuning (§4.6).
type Session struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// Config aggregates all process-wide settings.
type Config struct {
	Server   Server   `yaml:"server"`
	Audio    Audio    `yaml:"audio"`
	Workers  Workers  `yaml:"workers"`
	AudioLog AudioLog `yaml:"audio_log"`
	Session  Session  `yaml:"session"`
}

// Defaults returns the spec-mandated defaults (§4.3, §4.4, §4.6).
func Defaults() Config {
	return Config{
		Server: Server{
			WSAddr:    ":8080",
			AdminAddr: ":8081",
			GRPCAddr:  ":8082",
		},
		Audio: Audio{
			SampleRate:      16000,
			FrameSamples:    512,
			ThresholdOn:     0.5,
			ThresholdOff:    0.35,
			MinSpeechFrames: 2,
			HangoverFrames:  16,
			PreRollMs:       512,
			HangoverMs:      512,
			MaxUtteranceSec: 30,
		},
		Workers: Workers{
			PoolSize:      4,
			MaxQueueDepth: 32,
			JobDeadline:   30 * time.Second,
		},
		AudioLog: AudioLog{
			Enabled:   false,
			OutputDir: "./audio-log",
			MaxFiles:  1000,
		},
		Session: Session{
			DrainTimeout: 10 * time.Second,
		},
	}
}

// Load builds configuration from defaults, an optional YAML file overlay,
// and environment variables, in that order of increasing precedence.
func Load(filePath string) (Config, error) {
	cfg := Defaults()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", filePath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.WSAddr = getEnv("STREAMRECOG_WS_ADDR", cfg.Server.WSAddr)
	cfg.Server.AdminAddr = getEnv("STREAMRECOG_ADMIN_ADDR", cfg.Server.AdminAddr)
	cfg.Server.GRPCAddr = getEnv("STREAMRECOG_GRPC_ADDR", cfg.Server.GRPCAddr)

	cfg.Audio.SampleRate = getEnvInt("STREAMRECOG_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.FrameSamples = getEnvInt("STREAMRECOG_FRAME_SAMPLES", cfg.Audio.FrameSamples)
	cfg.Audio.ThresholdOn = getEnvFloat("STREAMRECOG_THRESHOLD_ON", cfg.Audio.ThresholdOn)
	cfg.Audio.ThresholdOff = getEnvFloat("STREAMRECOG_THRESHOLD_OFF", cfg.Audio.ThresholdOff)
	cfg.Audio.MinSpeechFrames = getEnvInt("STREAMRECOG_MIN_SPEECH_FRAMES", cfg.Audio.MinSpeechFrames)
	cfg.Audio.HangoverFrames = getEnvInt("STREAMRECOG_HANGOVER_FRAMES", cfg.Audio.HangoverFrames)
	cfg.Audio.PreRollMs = getEnvInt("STREAMRECOG_PRE_ROLL_MS", cfg.Audio.PreRollMs)
	cfg.Audio.HangoverMs = getEnvInt("STREAMRECOG_HANGOVER_MS", cfg.Audio.HangoverMs)
	cfg.Audio.MaxUtteranceSec = getEnvInt("STREAMRECOG_MAX_UTTERANCE_SEC", cfg.Audio.MaxUtteranceSec)

	cfg.Workers.PoolSize = getEnvInt("STREAMRECOG_WORKER_POOL_SIZE", cfg.Workers.PoolSize)
	cfg.Workers.MaxQueueDepth = getEnvInt("STREAMRECOG_MAX_QUEUE_DEPTH", cfg.Workers.MaxQueueDepth)
	cfg.Workers.JobDeadline = getEnvDuration("STREAMRECOG_JOB_DEADLINE", cfg.Workers.JobDeadline)

	cfg.AudioLog.Enabled = getEnvBool("STREAMRECOG_AUDIO_LOG_ENABLED", cfg.AudioLog.Enabled)
	cfg.AudioLog.OutputDir = getEnv("STREAMRECOG_AUDIO_LOG_DIR", cfg.AudioLog.OutputDir)
	cfg.AudioLog.MaxFiles = getEnvInt("STREAMRECOG_AUDIO_LOG_MAX_FILES", cfg.AudioLog.MaxFiles)

	cfg.Session.DrainTimeout = getEnvDuration("STREAMRECOG_DRAIN_TIMEOUT", cfg.Session.DrainTimeout)
}

// Validate checks invariants the admin API also enforces on mutation (§6.2).
func (c Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive")
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("config: frame_samples must be positive")
	}
	if c.Audio.ThresholdOn <= c.Audio.ThresholdOff {
		return fmt.Errorf("config: threshold_on must exceed threshold_off")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("config: worker pool size must be >= 1")
	}
	if c.Workers.MaxQueueDepth < 1 {
		return fmt.Errorf("config: max_queue_depth must be >= 1")
	}
	if c.AudioLog.MaxFiles < 1 {
		return fmt.Errorf("config: audio-log max_files must be >= 1")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
