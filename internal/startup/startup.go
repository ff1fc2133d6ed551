package startup

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"video-compare/internal/decoder"
	"video-compare/internal/logging"
	"video-compare/internal/memory"
	"video-compare/internal/playback"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	Port           string
	BindAddr       string
	MetricsPort    string
	MetricsEnabled bool
	DatabaseDir    string

	LogFrames       bool
	LogHealthChecks bool

	// Playback tuning
	CacheDuration time.Duration
	SyncTimeout   time.Duration
	RunAhead      time.Duration
	ReopenGap     time.Duration
	MaxTickRate   float64
	EndPolicy     playback.EndPolicy

	// Decoding
	DecodeThreads int
	FFmpegPath    string
	FFprobePath   string

	JPEGQuality int
	MaxSessions int

	// SourceVolumes names directories holding sources (often network
	// mounts) for filesystem retry metrics.
	SourceVolumes map[string]string

	// Derived paths
	DatabasePath string

	// FFmpegAvailable reports whether file sources can be decoded. Synthetic
	// sources work without it.
	FFmpegAvailable bool
}

// Addr is the listen address of the main server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		BindAddr:        getEnv("BIND_ADDR", "127.0.0.1"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		DatabaseDir:     getEnv("DATABASE_DIR", "./data"),
		LogFrames:       getEnvBool("LOG_FRAMES", false),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),
		CacheDuration:   getEnvSeconds("CACHE_SECONDS", 2*time.Second),
		SyncTimeout:     getEnvDuration("SYNC_TIMEOUT", 200*time.Millisecond),
		RunAhead:        getEnvDuration("RUN_AHEAD", 500*time.Millisecond),
		ReopenGap:       getEnvDuration("REOPEN_GAP", 2*time.Second),
		MaxTickRate:     getEnvFloat("MAX_TICK_RATE", 60),
		DecodeThreads:   getEnvInt("DECODE_THREADS", 0),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
		JPEGQuality:     getEnvInt("JPEG_QUALITY", 80),
		MaxSessions:     getEnvInt("MAX_SESSIONS", 4),
	}
	endPolicy := getEnv("END_POLICY", "hold-last")
	sourceVolumes := getEnv("SOURCE_VOLUMES", "")

	logging.Info("  PORT:                %s", config.Port)
	logging.Info("  BIND_ADDR:           %s", config.BindAddr)
	logging.Info("  METRICS_PORT:        %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", config.MetricsEnabled)
	logging.Info("  DATABASE_DIR:        %s", config.DatabaseDir)
	logging.Info("  CACHE_SECONDS:       %v", config.CacheDuration)
	logging.Info("  SYNC_TIMEOUT:        %v", config.SyncTimeout)
	logging.Info("  RUN_AHEAD:           %v", config.RunAhead)
	logging.Info("  REOPEN_GAP:          %v", config.ReopenGap)
	logging.Info("  MAX_TICK_RATE:       %v", config.MaxTickRate)
	logging.Info("  END_POLICY:          %s", endPolicy)
	logging.Info("  DECODE_THREADS:      %s", threadsString(config.DecodeThreads))
	logging.Info("  FFMPEG_PATH:         %s", config.FFmpegPath)
	logging.Info("  FFPROBE_PATH:        %s", config.FFprobePath)
	logging.Info("  JPEG_QUALITY:        %d", config.JPEGQuality)
	logging.Info("  MAX_SESSIONS:        %d", config.MaxSessions)
	logging.Info("  SOURCE_VOLUMES:      %s", orNone(sourceVolumes))
	logging.Info("  LOG_FRAMES:          %v", config.LogFrames)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	if err := config.validate(endPolicy); err != nil {
		return nil, err
	}
	volumes, err := parseVolumes(sourceVolumes)
	if err != nil {
		return nil, fmt.Errorf("SOURCE_VOLUMES: %w", err)
	}
	config.SourceVolumes = volumes

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	databaseDir, err := filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.DatabaseDir = databaseDir
	config.DatabasePath = filepath.Join(databaseDir, "settings.db")
	logging.Info("  Database directory (absolute): %s", databaseDir)

	if err := ensureDirectory(databaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}

	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(databaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for settings): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	return config, nil
}

// validate checks ranges and parses the end policy.
func (c *Config) validate(endPolicy string) error {
	policy, err := playback.ParseEndPolicy(endPolicy)
	if err != nil {
		return fmt.Errorf("END_POLICY: %w", err)
	}
	c.EndPolicy = policy

	switch {
	case c.CacheDuration <= 0:
		return fmt.Errorf("CACHE_SECONDS must be positive, got %v", c.CacheDuration)
	case c.SyncTimeout <= 0:
		return fmt.Errorf("SYNC_TIMEOUT must be positive, got %v", c.SyncTimeout)
	case c.RunAhead < 0:
		return fmt.Errorf("RUN_AHEAD must not be negative, got %v", c.RunAhead)
	case c.CacheDuration < c.RunAhead+decoder.DefaultConfig("").KeepBehind:
		return fmt.Errorf("CACHE_SECONDS (%v) must hold RUN_AHEAD (%v) plus %v of history",
			c.CacheDuration, c.RunAhead, decoder.DefaultConfig("").KeepBehind)
	case c.ReopenGap < 0:
		return fmt.Errorf("REOPEN_GAP must not be negative, got %v", c.ReopenGap)
	case c.MaxTickRate <= 0:
		return fmt.Errorf("MAX_TICK_RATE must be positive, got %v", c.MaxTickRate)
	case c.DecodeThreads < 0:
		return fmt.Errorf("DECODE_THREADS must not be negative, got %d", c.DecodeThreads)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	case c.MaxSessions < 0:
		return fmt.Errorf("MAX_SESSIONS must not be negative, got %d", c.MaxSessions)
	}
	return nil
}

// parseVolumes parses "name=/path,name=/path".
func parseVolumes(s string) (map[string]string, error) {
	volumes := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, ok := strings.Cut(entry, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid entry %q, want name=/path", entry)
		}
		volumes[name] = path
	}
	return volumes, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func threadsString(n int) string {
	if n == 0 {
		return "auto"
	}
	return strconv.Itoa(n)
}

// LogDatabaseInit logs settings store initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SETTINGS STORE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Settings store initialized in %v", duration)
}

// LogDecoderInit checks that ffmpeg and ffprobe can be run and records the
// result in config.FFmpegAvailable.
func LogDecoderInit(config *Config) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DECODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	config.FFmpegAvailable = true
	for _, bin := range []string{config.FFmpegPath, config.FFprobePath} {
		if err := checkFFmpeg(bin); err != nil {
			logging.Warn("  %s check failed: %v", bin, err)
			config.FFmpegAvailable = false
		}
	}
	if config.FFmpegAvailable {
		logging.Info("  [OK] FFmpeg is available")
	} else {
		logging.Warn("  File sources cannot be opened; synthetic sources still work")
	}
}

// LogMemoryConfig logs how the Go memory limit was configured
func LogMemoryConfig(mc memory.ConfigResult) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	if !mc.Configured {
		logging.Info("  GOMEMLIMIT:      not set (set MEMORY_LIMIT or GOMEMLIMIT)")
		return
	}

	logging.Info("  Source:          %s", mc.Source)
	logging.Info("  GOMEMLIMIT:      %s", memory.FormatBytes(mc.GoMemLimit))
	if mc.Source == "MEMORY_LIMIT" {
		logging.Info("  Container limit: %s", memory.FormatBytes(mc.ContainerLimit))
		logging.Info("  Ratio:           %.0f%%", mc.Ratio*100)
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			// Route might not have methods specified (e.g., static file server)
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logFrames, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		// Group routes by prefix for cleaner output
		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		// Sort group keys
		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		// Print routes by group
		for _, group := range groupKeys {
			groupRoutes := groups[group]
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groupRoutes {
				methodPadded := fmt.Sprintf("%-6s", route.Method)
				logging.Debug("    %s %s", methodPadded, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logFrames {
		logging.Info("    Frame snapshot logging: ON")
	} else {
		logging.Info("    Frame snapshot logging: OFF (set LOG_FRAMES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	// Remove leading slash
	path = strings.TrimPrefix(path, "/")

	// Get first segment
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return ""
	}

	first := parts[0]

	// Special handling for API routes
	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	BindAddr        string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	MaxSessions     int
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://%s/api/sessions", net.JoinHostPort(config.BindAddr, config.Port))
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://%s/metrics", net.JoinHostPort(config.BindAddr, config.MetricsPort))
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	if config.MaxSessions > 0 {
		logging.Info("  Session limit:   %d", config.MaxSessions)
	} else {
		logging.Info("  Session limit:   none")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
        _     _
 __   _(_) __| | ___  ___         ___ ___  _ __ ___  _ __   __ _ _ __ ___
 \ \ / / |/ _` + "`" + ` |/ _ \/ _ \ _____ / __/ _ \| '_ ` + "`" + ` _ \| '_ \ / _` + "`" + ` | '__/ _ \
  \ V /| | (_| |  __/ (_) |_____| (_| (_) | | | | | | |_) | (_| | | |  __/
   \_/ |_|\__,_|\___|\___/       \___\___/|_| |_| |_| .__/ \__,_|_|  \___|
                                                    |_|
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())

		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}

		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
		// Don't return error since write access was confirmed
	}
	return nil
}

func checkFFmpeg(bin string) error {
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", bin)
	}
	logging.Debug("  %s path: %s", bin, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", bin, err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		logging.Debug("  %s version: %s", bin, strings.TrimSpace(lines[0]))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envValue parses key with parse, falling back to defaultValue when the
// variable is unset or malformed.
func envValue[T any](key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := parse(value)
	if err != nil {
		logging.Warn("Invalid %s for %s: %q, using default: %v", kind, key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	return envValue(key, defaultValue, "boolean", strconv.ParseBool)
}

func getEnvInt(key string, defaultValue int) int {
	return envValue(key, defaultValue, "integer", strconv.Atoi)
}

func getEnvFloat(key string, defaultValue float64) float64 {
	return envValue(key, defaultValue, "number", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return envValue(key, defaultValue, "duration", time.ParseDuration)
}

// getEnvSeconds reads a number of seconds, which may be fractional.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	return envValue(key, defaultValue, "seconds value", func(v string) (time.Duration, error) {
		f, err := strconv.ParseFloat(v, 64)
		return time.Duration(f * float64(time.Second)), err
	})
}
