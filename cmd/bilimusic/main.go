// Package main provides the bilimusic CLI application entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"bilimusic/internal/bilibili"
	"bilimusic/internal/core"
	"bilimusic/internal/flood"
	httpserver "bilimusic/internal/http"
	"bilimusic/internal/i18n"
	"bilimusic/internal/llm"
	"bilimusic/internal/media"
	"bilimusic/internal/store"
	"bilimusic/pkg/text"
	"bilimusic/pkg/videolink"
)

const (
	envPrefix    = "BILIMUSIC"
	noneProvider = "none"
	// previewCoverSlots is how many preview covers stay on disk.
	previewCoverSlots = 1
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bilimusic",
	Short: "bilimusic - Bilibili video to tagged audio file",
	Long: `bilimusic resolves Bilibili share links (standard links, b23.tv short links or
share text with a title), downloads the video's audio track and writes it as a
tagged MP3 or M4A with the video cover embedded.

Run without a subcommand to start the web interface.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var getCmd = &cobra.Command{
	Use:   "get <link or share text>",
	Short: "Convert one video to an audio file in the output directory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGet,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <link or share text>",
	Short: "Print the BV identifier a link points to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Interface language (%s)", supportedLangs))

	flags.String("api-base-url", bilibili.DefaultAPIBaseURL, "Bilibili API base URL")
	flags.String("user-agent", videolink.DefaultUserAgent, "User-Agent sent to Bilibili")
	flags.Duration("short-link-timeout", 5*time.Second, "Timeout for following a short link")
	flags.Duration("api-timeout", 10*time.Second, "Timeout for each Bilibili API call")

	flags.String("ffmpeg-path", "ffmpeg", "Path to the ffmpeg binary")
	flags.String("format", core.FormatMP3, "Output format (mp3, m4a)")
	flags.Duration("download-timeout", 60*time.Second, "Timeout for each audio or cover download")
	flags.Duration("mux-timeout", 5*time.Minute, "Timeout for one ffmpeg run")
	flags.String("temp-dir", "", "Directory for temporary files (default: system temp dir)")
	flags.String("output-dir", ".", "Directory receiving converted files")

	flags.String("llm-provider", noneProvider, "LLM provider for title suggestions (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM API base URL")
	flags.Duration("llm-timeout", 15*time.Second, "Timeout for one title suggestion")

	flags.String("server-host", "127.0.0.1", "HTTP server host")
	flags.Int("server-port", 8501, "HTTP server port")
	flags.Int("flood-limit-per-minute", 20, "Maximum API requests per client per minute (0 disables)")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	getCmd.Flags().String("title", "", "Song title tag (default: suggested from the video title)")
	getCmd.Flags().String("artist", "", "Artist tag (default: the uploader)")

	rootCmd.AddCommand(serveCmd, getCmd, resolveCmd)

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureBilibili(cfg)
	configureMedia(cfg)
	configureLLM(cfg)
	configureServer(cfg)
	configureApp(cfg)

	return cfg
}

func configureBilibili(cfg *core.Config) {
	cfg.Bilibili.APIBaseURL = viper.GetString("api-base-url")
	cfg.Bilibili.UserAgent = viper.GetString("user-agent")
	cfg.Bilibili.ShortLinkTimeout = positiveDuration("short-link-timeout", cfg.Bilibili.ShortLinkTimeout)
	cfg.Bilibili.APITimeout = positiveDuration("api-timeout", cfg.Bilibili.APITimeout)
}

func configureMedia(cfg *core.Config) {
	cfg.Media.FFmpegPath = viper.GetString("ffmpeg-path")
	cfg.Media.Format = strings.ToLower(viper.GetString("format"))
	cfg.Media.DownloadTimeout = positiveDuration("download-timeout", cfg.Media.DownloadTimeout)
	cfg.Media.MuxTimeout = positiveDuration("mux-timeout", cfg.Media.MuxTimeout)
	cfg.Media.TempDir = viper.GetString("temp-dir")
	cfg.Media.OutputDir = viper.GetString("output-dir")
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
	cfg.LLM.Timeout = positiveDuration("llm-timeout", cfg.LLM.Timeout)
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureApp(cfg *core.Config) {
	// Language configuration with validation
	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}
	if !i18n.IsSupported(cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(i18n.GetSupportedLanguages(), ", "))
		cfg.App.Language = i18n.DefaultLanguage
	}

	cfg.App.FloodLimitPerMinute = viper.GetInt("flood-limit-per-minute")
	if cfg.App.FloodLimitPerMinute < 0 {
		cfg.App.FloodLimitPerMinute = 0
	}
}

func positiveDuration(key string, fallback time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.EqualFold(format, "text") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	switch config.Media.Format {
	case core.FormatMP3, core.FormatM4A:
	default:
		return fmt.Errorf("unsupported output format %q (use %s or %s)", config.Media.Format, core.FormatMP3, core.FormatM4A)
	}

	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	return validateLLMConfig()
}

func validateLLMConfig() error {
	if config.LLM.Provider != noneProvider && config.LLM.Provider != "" {
		if config.LLM.APIKey == "" && config.LLM.Provider != llm.ProviderOllama {
			return fmt.Errorf("LLM API key is required for provider: %s", config.LLM.Provider)
		}
	}
	return nil
}

type services struct {
	ffmpeg    *media.FFmpeg
	covers    *store.CoverCache
	pipeline  *core.Pipeline
	localizer *i18n.Localizer
}

func initializeServices() (*services, error) {
	resolver := videolink.NewResolver(
		videolink.WithTimeout(config.Bilibili.ShortLinkTimeout),
		videolink.WithUserAgent(config.Bilibili.UserAgent),
	)
	metadata := bilibili.NewClient(&config.Bilibili, logger.Named("bilibili"))
	downloader := media.NewDownloader(config.Media.DownloadTimeout, logger.Named("download"))
	ffmpeg := media.NewFFmpeg(config.Media.FFmpegPath, config.Media.MuxTimeout, logger.Named("ffmpeg"))

	covers, err := store.NewCoverCache(config.Media.ScratchDir(), previewCoverSlots, logger.Named("covers"))
	if err != nil {
		return nil, err
	}

	pipeline := core.NewPipeline(config, resolver, metadata, downloader, ffmpeg, covers, logger.Named("pipeline"))

	provider, err := createLLMProvider()
	if err != nil {
		return nil, err
	}
	if provider != nil {
		pipeline.SetSuggester(provider)
	}

	return &services{
		ffmpeg:    ffmpeg,
		covers:    covers,
		pipeline:  pipeline,
		localizer: i18n.NewLocalizer(config.App.Language),
	}, nil
}

func createLLMProvider() (*llm.Provider, error) {
	if config.LLM.Provider == noneProvider || config.LLM.Provider == "" {
		return nil, nil
	}
	provider, err := llm.NewProvider(&config.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting bilimusic",
		zap.String("format", config.Media.Format),
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("language", config.App.Language))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer closeServices(svcs)

	if err := svcs.ffmpeg.Check(); err != nil {
		logger.Warn("ffmpeg not available, conversions will fail", zap.Error(err))
	}

	var floodgate *flood.Floodgate
	if config.App.FloodLimitPerMinute > 0 {
		floodgate = flood.New(config.App.FloodLimitPerMinute)
		defer floodgate.Stop()
	}

	httpServer := httpserver.NewServer(&config.Server, svcs.pipeline, svcs.localizer, floodgate,
		config.Media.ScratchDir(), logger.Named("http"))
	svcs.pipeline.SetObserver(httpServer.Metrics())

	return runServices(ctx, httpServer)
}

func runServices(ctx context.Context, httpServer *httpserver.Server) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	logger.Info("bilimusic started successfully",
		zap.String("http_addr", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("bilimusic stopped with error", zap.Error(err))
		return err
	}

	logger.Info("bilimusic stopped gracefully")
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer closeServices(svcs)

	if err := svcs.ffmpeg.Check(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	t := svcs.localizer.T

	preview, err := svcs.pipeline.Preview(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, t("cli.resolved", preview.Video.ID.String()))
	fmt.Fprintln(out, t("cli.video", preview.Video.Title, preview.Video.Author))

	track := preview.Track
	if title, _ := cmd.Flags().GetString("title"); title != "" {
		track.Title = title
	}
	if artist, _ := cmd.Flags().GetString("artist"); artist != "" {
		track.Artist = artist
	}

	fmt.Fprintln(out, t("cli.converting", strings.ToUpper(config.Media.Format)))
	result, err := svcs.pipeline.Convert(ctx, core.ConvertRequest{
		Track:     &track,
		OutputDir: config.Media.OutputDir,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, t("cli.saved", result.Path, result.Size))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	resolver := videolink.NewResolver(
		videolink.WithTimeout(config.Bilibili.ShortLinkTimeout),
		videolink.WithUserAgent(config.Bilibili.UserAgent),
	)
	return resolveTo(ctx, cmd, resolver, strings.Join(args, " "))
}

func resolveTo(ctx context.Context, cmd *cobra.Command, resolver core.LinkResolver, input string) error {
	id, err := resolver.Resolve(ctx, text.ExtractLink(strings.TrimSpace(input)))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func closeServices(svcs *services) {
	if err := svcs.covers.Close(); err != nil {
		logger.Debug("Failed to remove preview covers", zap.Error(err))
	}
	_ = logger.Sync()
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch core.Classify(err) {
	case core.KindInput:
		return 2
	case core.KindResolution:
		return 3
	case core.KindTransport, core.KindUpstream:
		return 4
	case core.KindTool:
		return 5
	default:
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
}
