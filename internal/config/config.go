// Package config provides configuration management for mockshelf.
// Values start from defaults, are overlaid by an optional TOML file and
// finally by MOCKSHELF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort      = 8790
	DefaultHost      = "127.0.0.1"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
	DefaultDataDir   = ".mockshelf"

	DefaultFigmaBaseURL     = "https://api.figma.com"
	DefaultExportFormat     = "png"
	DefaultExportScale      = 2.0
	DefaultExportBatchSize  = 0 // all ids in one request
	DefaultExportBatchPause = 1 * time.Second

	DefaultRetryAttempts       = 3
	DefaultRetryInitialBackoff = 15 * time.Second
	DefaultRetryMaxBackoff     = 60 * time.Second

	DefaultFileCacheTTL = 5 * time.Minute

	DefaultFFmpegPath     = "ffmpeg"
	DefaultEncoderTimeout = 5 * time.Minute
	DefaultCanvasWidth    = 1080
	DefaultFrameRate      = 30

	DefaultLLMBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultLLMModel   = "openai/gpt-4o-mini"
	DefaultLLMTimeout = 60 * time.Second

	// Environment variable names
	EnvConfigFile = "MOCKSHELF_CONFIG"
	EnvPort       = "MOCKSHELF_PORT"
	EnvHost       = "MOCKSHELF_HOST"
	EnvLogLevel   = "MOCKSHELF_LOG_LEVEL"
	EnvLogFormat  = "MOCKSHELF_LOG_FORMAT"
	EnvDataDir    = "MOCKSHELF_DATA_DIR"

	EnvFigmaToken       = "MOCKSHELF_FIGMA_TOKEN"
	EnvFigmaBaseURL     = "MOCKSHELF_FIGMA_BASE_URL"
	EnvExportBatchSize  = "MOCKSHELF_EXPORT_BATCH_SIZE"
	EnvFFmpegPath       = "MOCKSHELF_FFMPEG_PATH"
	EnvEncoderTimeout   = "MOCKSHELF_ENCODER_TIMEOUT"
	EnvLLMAPIKey        = "MOCKSHELF_LLM_API_KEY"
	EnvLLMBaseURL       = "MOCKSHELF_LLM_BASE_URL"
	EnvLLMModel         = "MOCKSHELF_LLM_MODEL"
	EnvRetryInitialWait = "MOCKSHELF_RETRY_INITIAL_BACKOFF"

	// Database filename
	DBFilename = "mockshelf.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Host() string
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	MediaDir() string
	ScratchDir() string
	LockPath() string

	FigmaToken() string
	FigmaBaseURL() string
	ExportFormat() string
	ExportScale() float64
	ExportBatchSize() int
	ExportBatchPause() time.Duration

	RetryAttempts() int
	RetryInitialBackoff() time.Duration
	RetryMaxBackoff() time.Duration
	FileCacheTTL() time.Duration

	FFmpegPath() string
	EncoderTimeout() time.Duration
	CanvasWidth() int
	FrameRate() int

	LLMAPIKey() string
	LLMBaseURL() string
	LLMModel() string
	LLMTimeout() time.Duration
}

// fileConfig mirrors the TOML layout accepted by MOCKSHELF_CONFIG.
type fileConfig struct {
	Server struct {
		Port      int    `toml:"port"`
		Host      string `toml:"host"`
		DataDir   string `toml:"data_dir"`
		LogLevel  string `toml:"log_level"`
		LogFormat string `toml:"log_format"`
	} `toml:"server"`
	Figma struct {
		Token             string  `toml:"token"`
		BaseURL           string  `toml:"base_url"`
		ExportFormat      string  `toml:"export_format"`
		ExportScale       float64 `toml:"export_scale"`
		ExportBatchSize   *int    `toml:"export_batch_size"`
		ExportBatchPause  string  `toml:"export_batch_pause"`
		RetryAttempts     int     `toml:"retry_attempts"`
		RetryInitialDelay string  `toml:"retry_initial_backoff"`
		RetryMaxDelay     string  `toml:"retry_max_backoff"`
		CacheTTL          string  `toml:"cache_ttl"`
	} `toml:"figma"`
	Encoder struct {
		FFmpegPath  string `toml:"ffmpeg_path"`
		Timeout     string `toml:"timeout"`
		CanvasWidth int    `toml:"canvas_width"`
		FrameRate   int    `toml:"frame_rate"`
	} `toml:"encoder"`
	LLM struct {
		APIKey  string `toml:"api_key"`
		BaseURL string `toml:"base_url"`
		Model   string `toml:"model"`
		Timeout string `toml:"timeout"`
	} `toml:"llm"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port      int
	host      string
	logLevel  string
	logFormat string
	dataDir   string

	figmaToken       string
	figmaBaseURL     string
	exportFormat     string
	exportScale      float64
	exportBatchSize  int
	exportBatchPause time.Duration

	retryAttempts       int
	retryInitialBackoff time.Duration
	retryMaxBackoff     time.Duration
	fileCacheTTL        time.Duration

	ffmpegPath     string
	encoderTimeout time.Duration
	canvasWidth    int
	frameRate      int

	llmAPIKey  string
	llmBaseURL string
	llmModel   string
	llmTimeout time.Duration

	sourcePath string
}

// New creates a new EnvConfig with defaults, the optional config file and
// environment variable overrides applied in that order.
func New() (*EnvConfig, error) {
	cfg := defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:                DefaultPort,
		host:                DefaultHost,
		logLevel:            DefaultLogLevel,
		logFormat:           DefaultLogFormat,
		dataDir:             defaultDataDir(),
		figmaBaseURL:        DefaultFigmaBaseURL,
		exportFormat:        DefaultExportFormat,
		exportScale:         DefaultExportScale,
		exportBatchSize:     DefaultExportBatchSize,
		exportBatchPause:    DefaultExportBatchPause,
		retryAttempts:       DefaultRetryAttempts,
		retryInitialBackoff: DefaultRetryInitialBackoff,
		retryMaxBackoff:     DefaultRetryMaxBackoff,
		fileCacheTTL:        DefaultFileCacheTTL,
		ffmpegPath:          DefaultFFmpegPath,
		encoderTimeout:      DefaultEncoderTimeout,
		canvasWidth:         DefaultCanvasWidth,
		frameRate:           DefaultFrameRate,
		llmBaseURL:          DefaultLLMBaseURL,
		llmModel:            DefaultLLMModel,
		llmTimeout:          DefaultLLMTimeout,
	}
}

func (c *EnvConfig) loadFile(path string) error {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	c.sourcePath = path

	setString(&c.host, fc.Server.Host)
	setString(&c.dataDir, expandHome(fc.Server.DataDir))
	setString(&c.logLevel, fc.Server.LogLevel)
	setString(&c.logFormat, fc.Server.LogFormat)
	if fc.Server.Port != 0 {
		c.port = fc.Server.Port
	}

	setString(&c.figmaToken, fc.Figma.Token)
	setString(&c.figmaBaseURL, fc.Figma.BaseURL)
	setString(&c.exportFormat, fc.Figma.ExportFormat)
	if fc.Figma.ExportScale > 0 {
		c.exportScale = fc.Figma.ExportScale
	}
	if fc.Figma.ExportBatchSize != nil {
		c.exportBatchSize = *fc.Figma.ExportBatchSize
	}
	if fc.Figma.RetryAttempts > 0 {
		c.retryAttempts = fc.Figma.RetryAttempts
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"figma.export_batch_pause", fc.Figma.ExportBatchPause, &c.exportBatchPause},
		{"figma.retry_initial_backoff", fc.Figma.RetryInitialDelay, &c.retryInitialBackoff},
		{"figma.retry_max_backoff", fc.Figma.RetryMaxDelay, &c.retryMaxBackoff},
		{"figma.cache_ttl", fc.Figma.CacheTTL, &c.fileCacheTTL},
		{"encoder.timeout", fc.Encoder.Timeout, &c.encoderTimeout},
		{"llm.timeout", fc.LLM.Timeout, &c.llmTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	setString(&c.ffmpegPath, fc.Encoder.FFmpegPath)
	if fc.Encoder.CanvasWidth > 0 {
		c.canvasWidth = fc.Encoder.CanvasWidth
	}
	if fc.Encoder.FrameRate > 0 {
		c.frameRate = fc.Encoder.FrameRate
	}

	setString(&c.llmAPIKey, fc.LLM.APIKey)
	setString(&c.llmBaseURL, fc.LLM.BaseURL)
	setString(&c.llmModel, fc.LLM.Model)
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.logFormat, os.Getenv(EnvLogFormat))
	setString(&c.dataDir, expandHome(os.Getenv(EnvDataDir)))
	setString(&c.figmaToken, os.Getenv(EnvFigmaToken))
	setString(&c.figmaBaseURL, os.Getenv(EnvFigmaBaseURL))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.llmAPIKey, os.Getenv(EnvLLMAPIKey))
	setString(&c.llmBaseURL, os.Getenv(EnvLLMBaseURL))
	setString(&c.llmModel, os.Getenv(EnvLLMModel))

	if v := os.Getenv(EnvExportBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportBatchSize, err)
		}
		c.exportBatchSize = n
	}
	if v := os.Getenv(EnvEncoderTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEncoderTimeout, err)
		}
		c.encoderTimeout = d
	}
	if v := os.Getenv(EnvRetryInitialWait); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryInitialWait, err)
		}
		c.retryInitialBackoff = d
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	switch strings.ToLower(c.logFormat) {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: want auto, json or text", c.logFormat)
	}
	c.exportFormat = strings.ToLower(c.exportFormat)
	switch c.exportFormat {
	case "png", "jpg":
	default:
		return fmt.Errorf("invalid export format %q: want png or jpg", c.exportFormat)
	}
	if c.exportBatchSize < 0 {
		return fmt.Errorf("export batch size must not be negative")
	}
	if c.retryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.retryMaxBackoff < c.retryInitialBackoff {
		return fmt.Errorf("retry max backoff %s is below initial backoff %s", c.retryMaxBackoff, c.retryInitialBackoff)
	}
	if c.encoderTimeout <= 0 {
		return fmt.Errorf("encoder timeout must be positive")
	}
	if c.canvasWidth <= 0 || c.canvasWidth%2 != 0 {
		return fmt.Errorf("canvas width must be a positive even number, got %d", c.canvasWidth)
	}
	if c.frameRate <= 0 {
		return fmt.Errorf("frame rate must be positive")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Host returns the HTTP bind host
func (c *EnvConfig) Host() string {
	return c.host
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns auto, json or text
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir holds uploaded and rendered assets.
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

// ScratchDir holds per-run working directories.
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.dataDir, "scratch")
}

// LockPath is the single-instance lock for the data directory.
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, "mockshelf.lock")
}

func (c *EnvConfig) FigmaToken() string {
	return c.figmaToken
}

func (c *EnvConfig) FigmaBaseURL() string {
	return strings.TrimRight(c.figmaBaseURL, "/")
}

func (c *EnvConfig) ExportFormat() string {
	return c.exportFormat
}

func (c *EnvConfig) ExportScale() float64 {
	return c.exportScale
}

func (c *EnvConfig) ExportBatchSize() int {
	return c.exportBatchSize
}

func (c *EnvConfig) ExportBatchPause() time.Duration {
	return c.exportBatchPause
}

func (c *EnvConfig) RetryAttempts() int {
	return c.retryAttempts
}

func (c *EnvConfig) RetryInitialBackoff() time.Duration {
	return c.retryInitialBackoff
}

func (c *EnvConfig) RetryMaxBackoff() time.Duration {
	return c.retryMaxBackoff
}

func (c *EnvConfig) FileCacheTTL() time.Duration {
	return c.fileCacheTTL
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) EncoderTimeout() time.Duration {
	return c.encoderTimeout
}

func (c *EnvConfig) CanvasWidth() int {
	return c.canvasWidth
}

func (c *EnvConfig) FrameRate() int {
	return c.frameRate
}

func (c *EnvConfig) LLMAPIKey() string {
	return c.llmAPIKey
}

func (c *EnvConfig) LLMBaseURL() string {
	return c.llmBaseURL
}

func (c *EnvConfig) LLMModel() string {
	return c.llmModel
}

func (c *EnvConfig) LLMTimeout() time.Duration {
	return c.llmTimeout
}

// SourcePath returns the config file that was loaded, if any.
func (c *EnvConfig) SourcePath() string {
	return c.sourcePath
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
