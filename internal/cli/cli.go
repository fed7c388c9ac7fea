package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"tapedeck.dev/internal/config"
	"tapedeck.dev/internal/engine"
	"tapedeck.dev/internal/fs"
	"tapedeck.dev/internal/player"
	"tapedeck.dev/internal/tracking"
)

const Version = "0.3.0"

type cliContextKey struct{}

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	engineFactory    engine.Factory
	terminalDetector TerminalDetector
	trackingDB       *sql.DB // Optional tracking database
}

// NewCLI creates a new CLI instance
func NewCLI() *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:           "tapedeck",
		Short:         "Audio playback controller",
		Long:          "Tapedeck plays audio files and raw PCM streams through a native audio engine, with pause, seek, speed and volume control.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newFeedCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newBackendsCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().Float64("volume", -1, "Set volume (0.0 to 1.0)")
	rootCmd.PersistentFlags().String("backend", "", "Audio backend (auto/malgo/system_command)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug/info/warn/error)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if version, _ := cmd.Flags().GetBool("version"); version {
			cmd.Printf("tapedeck version %s\n", Version)
			return nil
		}
		return cmd.Help()
	}

	return &CLI{
		rootCmd:          rootCmd,
		configManager:    nil, // Lazy initialization - only create when needed
		engineFactory:    nil,
		terminalDetector: nil,
		trackingDB:       nil,
	}
}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), cliContextKey{}, cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli
	}
	return nil
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Version requests skip all system initialization.
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		fmt.Fprintf(stdout, "tapedeck version %s\n", Version)
		return 0
	}

	c.initializeSystems()

	defer func() {
		if c.trackingDB != nil {
			if err := c.trackingDB.Close(); err != nil {
				slog.Error("error closing tracking database", "error", err)
			}
		}
	}()

	c.rootCmd.SetArgs(args[1:]) // Skip program name
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	c.rootCmd.SetContext(contextWithCLI(c))

	if err := c.rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		slog.Error("command execution failed", "error", err)
		return 1
	}

	return 0
}

// initializeSystems lazily initializes CLI components when actually needed
func (c *CLI) initializeSystems() {
	if c.configManager == nil {
		c.configManager = config.NewConfigManager()
	}
	if c.engineFactory == nil {
		c.engineFactory = engine.NewFactory()
	}
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}
}

// loadAndValidateConfig loads configuration, applies flag overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	volume, _ := cmd.Flags().GetFloat64("volume")
	backendFlag, _ := cmd.Flags().GetString("backend")
	logLevelFlag, _ := cmd.Flags().GetString("log-level")

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			// If config file doesn't exist, use defaults
			slog.Warn("config file not found, using defaults", "file", configFile, "error", err)
			cfg = cli.configManager.GetDefaultConfig()
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			slog.Error("config load failed", "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	if volume >= 0 {
		cfg.Volume = volume
		slog.Debug("volume override applied", "value", volume)
	}
	if backendFlag != "" {
		cfg.AudioBackend = backendFlag
		slog.Debug("backend override applied", "value", backendFlag)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
		slog.Debug("log level override applied", "value", logLevelFlag)
	}

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupLogging configures slog with split stderr/file destinations. Stderr
// gets the configured level; the rotated log file always gets debug so a
// failure can be diagnosed after the fact.
func setupLogging(cfg *config.Config, stderrWriter io.Writer) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}

	stderrHandler := slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{Level: level})

	if cfg.FileLogging == nil || !cfg.FileLogging.Enabled {
		slog.SetDefault(slog.New(stderrHandler))
		return
	}

	configManager := config.NewConfigManager()
	logFilePath := configManager.ResolveLogFilePath(cfg.FileLogging.Filename)

	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		slog.Error("failed to create log directory", "path", logDir, "error", err)
		// Continue without file logging rather than failing
		slog.SetDefault(slog.New(stderrHandler))
		return
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.FileLogging.MaxSizeMB,
		MaxBackups: cfg.FileLogging.MaxBackups,
		MaxAge:     cfg.FileLogging.MaxAgeDays,
		Compress:   cfg.FileLogging.Compress,
	}
	fileHandler := slog.NewTextHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(NewMultiLevelHandler(stderrHandler, fileHandler)))

	slog.Debug("logging setup completed",
		"stderr_level", level.String(),
		"file_path", logFilePath)
}

// initializeTracking opens the tracking database if enabled in configuration
func (c *CLI) initializeTracking(cfg *config.Config) {
	if c.trackingDB != nil {
		return // Already initialized
	}

	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		slog.Debug("session tracking disabled, skipping database initialization")
		return
	}

	dbPath := cfg.Tracking.DatabasePath
	if dbPath == "" {
		var err error
		dbPath, err = tracking.GetDatabasePath()
		if err != nil {
			slog.Error("failed to get database path, continuing without tracking", "error", err)
			return // Graceful degradation
		}
	}

	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		slog.Error("failed to initialize tracking database, continuing without tracking",
			"path", dbPath, "error", err)
		return // Graceful degradation - continue without tracking
	}

	c.trackingDB = db
	slog.Debug("tracking database initialized", "path", dbPath)
}

// recorder returns a session recorder, backed by the tracking database when
// it is open and a disabled no-op recorder otherwise
func (c *CLI) recorder() *tracking.Recorder {
	return tracking.NewRecorder(c.trackingDB)
}

// newPlayer builds a player whose engine is created lazily from the factory.
// stopFailed, when non-nil, is raised if the engine ever fails to stop so the
// session record can carry the failure the player contract swallows.
func (c *CLI) newPlayer(cfg *config.Config, stopFailed *atomic.Bool) *player.Player {
	binder := func(port engine.CallbackPort) (engine.Engine, error) {
		return c.engineFactory.CreateEngine(cfg.AudioBackend, port)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}

	opts := []player.Option{
		player.WithLogLevel(level),
		player.WithStopFailureHook(func(st player.State) {
			slog.Warn("engine failed to stop", "state", st.String())
			if stopFailed != nil {
				stopFailed.Store(true)
			}
		}),
	}
	if cfg.BlockSize > 0 {
		opts = append(opts, player.WithBlockSize(cfg.BlockSize))
	}
	if cfg.ResponseTimeoutMs > 0 {
		opts = append(opts, player.WithResponseTimeout(time.Duration(cfg.ResponseTimeoutMs)*time.Millisecond))
	}

	return player.New(binder, opts...)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newMediaLoader builds a loader over the real filesystem and the configured
// plus XDG media directories
func newMediaLoader(cfg *config.Config) *MediaLoader {
	xdgDirs := config.NewXDGDirs()
	paths := append([]string{}, cfg.MediaPaths...)
	paths = append(paths, xdgDirs.GetMediaPaths()...)
	return NewMediaLoader(fs.NewDefaultFactory().Production(), paths)
}

// printJSON writes v as indented JSON to the command's stdout
func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
