package core

import (
	"os"
	"time"

	"bilimusic/internal/i18n"
)

// Output container formats supported by the muxer.
const (
	FormatMP3 = "mp3"
	FormatM4A = "m4a"
)

type Config struct {
	Bilibili BilibiliConfig
	Media    MediaConfig
	LLM      LLMConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

type BilibiliConfig struct {
	APIBaseURL       string
	UserAgent        string
	ShortLinkTimeout time.Duration
	APITimeout       time.Duration
}

type MediaConfig struct {
	FFmpegPath      string
	Format          string
	DownloadTimeout time.Duration
	MuxTimeout      time.Duration
	TempDir         string
	OutputDir       string
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Language            string
	FloodLimitPerMinute int
}

func DefaultConfig() *Config {
	return &Config{
		Bilibili: BilibiliConfig{
			APIBaseURL:       "https://api.bilibili.com",
			ShortLinkTimeout: 5 * time.Second,
			APITimeout:       10 * time.Second,
		},
		Media: MediaConfig{
			FFmpegPath:      "ffmpeg",
			Format:          FormatMP3,
			DownloadTimeout: 60 * time.Second,
			MuxTimeout:      5 * time.Minute,
			OutputDir:       ".",
		},
		LLM: LLMConfig{
			Provider: "none",
			Timeout:  15 * time.Second,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8501,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Language:            i18n.DefaultLanguage,
			FloodLimitPerMinute: 20,
		},
	}
}

// ScratchDir returns the directory for per-run temporary files.
func (m MediaConfig) ScratchDir() string {
	if m.TempDir != "" {
		return m.TempDir
	}
	return os.TempDir()
}
