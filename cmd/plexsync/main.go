// Package main provides the plexsync CLI entry point.
package main

import (
	"context"
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

	"plexsync/internal/cache"
	"plexsync/internal/core"
	httpserver "plexsync/internal/http"
	"plexsync/internal/lidarr"
	"plexsync/internal/plex"
	"plexsync/internal/spotify"
	"plexsync/internal/store"
)

const defaultServerHost = "0.0.0.0"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plexsync",
	Short: "plexsync - mirror Spotify playlists into a Plex music library",
	Long: `plexsync reconciles Spotify playlists against a Plex server: it fetches
playlist tracks from Spotify, matches each track against the Plex music
library, and creates or updates the corresponding Plex playlists.`,
	SilenceUsage: true,
}

var syncManualCmd = &cobra.Command{
	Use:   "sync-manual-lists",
	Short: "Sync the playlists from the configured manual list",
	RunE:  runSyncManualLists,
}

var syncLidarrCmd = &cobra.Command{
	Use:   "sync-lidarr-imports",
	Short: "Sync the Spotify playlists configured in Lidarr import lists",
	RunE:  runSyncLidarrImports,
}

var syncPlaylistCmd = &cobra.Command{
	Use:   "sync-playlist <id|url>",
	Short: "Sync a single playlist by ID, URL or URI",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncPlaylist,
}

var clearCachesCmd = &cobra.Command{
	Use:   "clear-caches",
	Short: "Remove all cached lookups",
	RunE:  runClearCaches,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check connectivity to Spotify, Plex, Lidarr and the cache",
	RunE:  runDiagnose,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run periodic syncs with health and metrics endpoints",
	RunE:  runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("plex-server-url", "", "Plex server base URL")
	rootCmd.PersistentFlags().String("plex-token", "", "Plex access token")
	rootCmd.PersistentFlags().String("plex-users", "", "Comma-separated Plex users to sync for (empty = default identity)")
	rootCmd.PersistentFlags().String("plex-user-tokens", "", "Comma-separated user:token pairs for managed users")
	rootCmd.PersistentFlags().String("plex-music-section", "", "Plex music section ID (discovered when empty)")
	rootCmd.PersistentFlags().Bool("plex-skip-tls-verify", false, "Skip TLS verification for self-signed Plex servers")
	rootCmd.PersistentFlags().String("lidarr-url", "", "Lidarr base URL")
	rootCmd.PersistentFlags().String("lidarr-api-key", "", "Lidarr API key")
	rootCmd.PersistentFlags().String("manual-playlists", "", "Comma-separated Spotify playlist IDs or URLs")
	rootCmd.PersistentFlags().Bool("cache-enabled", true, "Enable the persistent lookup cache")
	rootCmd.PersistentFlags().String("cache-dir", "./cache", "Cache directory path")
	rootCmd.PersistentFlags().Duration("cache-ttl", time.Hour, "Cache entry time to live")
	rootCmd.PersistentFlags().Int("parallel-count", 3, "Number of playlists to sync in parallel")
	rootCmd.PersistentFlags().Int("match-parallelism", 4, "Number of tracks to match in parallel per playlist")
	rootCmd.PersistentFlags().Int("max-retries", 3, "Retry attempts for transient catalog failures")
	rootCmd.PersistentFlags().String("server-host", defaultServerHost, "HTTP server host (serve mode)")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port (serve mode)")

	syncManualCmd.Flags().Bool("replace", false, "Replace playlist content instead of appending missing tracks")
	syncManualCmd.Flags().Bool("clear-caches", false, "Clear all caches before syncing")
	syncLidarrCmd.Flags().Bool("clear-caches", false, "Clear all caches before syncing")
	syncPlaylistCmd.Flags().Bool("clear-caches", false, "Clear all caches before syncing")
	serveCmd.Flags().Duration("interval", time.Hour, "Delay between periodic sync runs")
	serveCmd.Flags().Bool("replace", false, "Replace playlist content instead of appending missing tracks")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(syncManualCmd, syncLidarrCmd, syncPlaylistCmd, clearCachesCmd, diagnoseCmd, serveCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}
	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("PLEXSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")

	cfg.Plex.ServerURL = viper.GetString("plex-server-url")
	cfg.Plex.Token = viper.GetString("plex-token")
	cfg.Plex.Users = splitList(viper.GetString("plex-users"))
	cfg.Plex.UserTokens = parseUserTokens(viper.GetString("plex-user-tokens"))
	cfg.Plex.MusicSection = viper.GetString("plex-music-section")
	cfg.Plex.SkipTLSVerify = viper.GetBool("plex-skip-tls-verify")

	cfg.Lidarr.BaseURL = viper.GetString("lidarr-url")
	cfg.Lidarr.APIKey = viper.GetString("lidarr-api-key")

	cfg.Cache.Enabled = viper.GetBool("cache-enabled")
	cfg.Cache.Dir = viper.GetString("cache-dir")
	cfg.Cache.TTL = viper.GetDuration("cache-ttl")

	cfg.Sync.ManualPlaylists = splitList(viper.GetString("manual-playlists"))
	cfg.Sync.Parallelism = viper.GetInt("parallel-count")
	cfg.Sync.MatchParallelism = viper.GetInt("match-parallelism")
	cfg.Sync.MaxRetries = viper.GetInt("max-retries")

	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
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

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}
	return builtLogger
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseUserTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range splitList(raw) {
		user, token, ok := strings.Cut(pair, ":")
		if ok && user != "" && token != "" {
			tokens[user] = token
		}
	}
	return tokens
}

type services struct {
	cache        core.Cache
	cacheStore   *cache.Store
	spotify      *spotify.Client
	plex         *plex.Client
	lidarr       *lidarr.Client
	unavailable  *store.UnavailableStore
	metrics      *httpserver.Metrics
	orchestrator *core.Orchestrator
}

func buildServices(ctx context.Context, parallelism int, replace bool) (*services, error) {
	s := &services{
		unavailable: store.NewUnavailableStore(10000, 0.001),
		metrics:     httpserver.NewMetrics(),
	}

	if config.Cache.Enabled {
		s.cacheStore = cache.Open(logger, config.Cache.Dir, config.Cache.TTL, config.Cache.MaxEntries)
		s.cache = s.cacheStore
	} else {
		s.cache = cache.Nop{}
	}

	spotifyClient, err := spotify.NewClient(ctx, config.Spotify, logger)
	if err != nil {
		return nil, err
	}
	s.spotify = spotifyClient

	s.plex = plex.NewClient(config.Plex, logger)
	if err := s.plex.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to Plex: %w", err)
	}

	if config.Lidarr.BaseURL != "" {
		s.lidarr = lidarr.NewClient(config.Lidarr, logger)
	}

	syncCfg := config.Sync
	syncCfg.Replace = replace
	runCfg := *config
	runCfg.Sync = syncCfg

	runner := core.NewJobRunner(logger, s.spotify, s.plex, s.cache,
		core.NewMatcher(), core.NewRetryer(logger, syncCfg), s.metrics, s.unavailable, runCfg)
	s.orchestrator = core.NewOrchestrator(logger, runner, s.unavailable, parallelism)

	return s, nil
}

func (s *services) close() {
	if s.cacheStore != nil {
		if err := s.cacheStore.Close(); err != nil {
			logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
}

// expandRequests pairs every playlist with every configured target user.
// An empty user list syncs for the server's default identity.
func expandRequests(playlistIDs []string) []core.SyncRequest {
	users := config.Plex.Users
	if len(users) == 0 {
		users = []string{""}
	}

	requests := make([]core.SyncRequest, 0, len(playlistIDs)*len(users))
	for _, user := range users {
		for _, id := range playlistIDs {
			requests = append(requests, core.SyncRequest{PlaylistID: id, TargetUser: user})
		}
	}
	return requests
}

func resolvePlaylistIDs(raw []string) ([]string, error) {
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		id, err := spotify.ExtractPlaylistID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func maybeClearCaches(cmd *cobra.Command, s *services) error {
	wipe, err := cmd.Flags().GetBool("clear-caches")
	if err != nil || !wipe {
		return err
	}
	logger.Info("Clearing caches before sync")
	return s.cache.Clear("")
}

func printReport(report *core.RunReport) {
	fmt.Printf("Synced %d playlists: %d created, %d updated, %d replaced, %d unchanged, %d failed\n",
		len(report.Outcomes), report.Created, report.Updated, report.Replaced, report.Skipped, report.Failed)
	fmt.Printf("Tracks: %d matched, %d unmatched\n", report.TotalMatched, report.TotalUnmatched)

	for _, outcome := range report.Outcomes {
		if outcome.Action != core.ActionFailed && outcome.TracksUnmatched == 0 {
			continue
		}
		fmt.Printf("  %s (%s): %s, %d/%d matched\n",
			outcome.PlaylistTitle, outcome.PlaylistSourceID, outcome.Action,
			outcome.TracksMatched, outcome.TracksRequested)
		for _, e := range outcome.Errors {
			fmt.Printf("    %s: %s\n", e.Stage, e.Message)
		}
	}

	if len(report.UnavailablePlaylists) > 0 {
		fmt.Printf("Unavailable source playlists (prune from configuration): %s\n",
			strings.Join(report.UnavailablePlaylists, ", "))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSyncManualLists(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if len(config.Sync.ManualPlaylists) == 0 {
		return fmt.Errorf("no manual playlists configured")
	}
	ids, err := resolvePlaylistIDs(config.Sync.ManualPlaylists)
	if err != nil {
		return err
	}

	replace, _ := cmd.Flags().GetBool("replace")
	s, err := buildServices(ctx, config.Sync.Parallelism, replace)
	if err != nil {
		return err
	}
	defer s.close()

	if err := maybeClearCaches(cmd, s); err != nil {
		return err
	}

	report := s.orchestrator.Run(ctx, expandRequests(ids))
	printReport(report)
	return nil
}

func runSyncLidarrImports(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if config.Lidarr.BaseURL == "" {
		return fmt.Errorf("lidarr-url is not configured")
	}

	s, err := buildServices(ctx, config.Sync.Parallelism, false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := maybeClearCaches(cmd, s); err != nil {
		return err
	}

	ids, err := s.lidarr.PlaylistIDs(ctx)
	if err != nil {
		return fmt.Errorf("fetching Lidarr import lists: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No Spotify import lists configured in Lidarr")
		return nil
	}

	report := s.orchestrator.Run(ctx, expandRequests(ids))
	printReport(report)
	return nil
}

func runSyncPlaylist(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := spotify.ExtractPlaylistID(args[0])
	if err != nil {
		return err
	}

	s, err := buildServices(ctx, 1, false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := maybeClearCaches(cmd, s); err != nil {
		return err
	}

	report := s.orchestrator.Run(ctx, expandRequests([]string{id}))
	printReport(report)
	return nil
}

func runClearCaches(_ *cobra.Command, _ []string) error {
	cacheStore := cache.Open(logger, config.Cache.Dir, config.Cache.TTL, config.Cache.MaxEntries)
	defer cacheStore.Close()

	if err := cacheStore.Clear(""); err != nil {
		return err
	}
	fmt.Println("Caches cleared")
	return nil
}

func runDiagnose(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	failed := false
	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("FAIL %s: %v\n", name, err)
			return
		}
		fmt.Printf("OK   %s\n", name)
	}

	spotifyClient, err := spotify.NewClient(ctx, config.Spotify, logger)
	check("spotify auth", err)
	if err == nil {
		check("spotify api", spotifyClient.Ping(ctx))
	}

	plexClient := plex.NewClient(config.Plex, logger)
	if err := plexClient.Connect(ctx); err != nil {
		check("plex connect", err)
	} else {
		check("plex connect", nil)
		check("plex api", plexClient.Ping(ctx))
	}

	if config.Lidarr.BaseURL != "" {
		check("lidarr api", lidarr.NewClient(config.Lidarr, logger).Ping(ctx))
	}

	if config.Cache.Enabled {
		cacheStore := cache.Open(logger, config.Cache.Dir, config.Cache.TTL, config.Cache.MaxEntries)
		defer cacheStore.Close()
		if cacheStore.Persistent() {
			check("cache store", nil)
		} else {
			check("cache store", fmt.Errorf("persistent store unavailable, running memory-only"))
		}
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	interval, _ := cmd.Flags().GetDuration("interval")
	replace, _ := cmd.Flags().GetBool("replace")

	s, err := buildServices(ctx, config.Sync.Parallelism, replace)
	if err != nil {
		return err
	}
	defer s.close()

	server := httpserver.NewServer(config.Server, logger, s.metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		server.SetReady(true)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := runScheduledSync(gctx, s); err != nil {
				return err
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

// runScheduledSync runs one periodic pass over the manual list plus the
// Lidarr imports. Job failures are reported through metrics and logs; only
// authentication failures stop the service.
func runScheduledSync(ctx context.Context, s *services) error {
	ids, err := resolvePlaylistIDs(config.Sync.ManualPlaylists)
	if err != nil {
		logger.Error("Invalid manual playlist reference", zap.Error(err))
		ids = nil
	}

	if s.lidarr != nil {
		lidarrIDs, err := s.lidarr.PlaylistIDs(ctx)
		if err != nil {
			if core.IsAuth(err) {
				return err
			}
			logger.Warn("Skipping Lidarr imports this run", zap.Error(err))
		}
		ids = append(ids, lidarrIDs...)
	}

	if len(ids) == 0 {
		logger.Warn("Nothing to sync, configure manual-playlists or lidarr-url")
		return nil
	}

	report := s.orchestrator.Run(ctx, expandRequests(ids))
	s.metrics.RunCompleted()
	printReport(report)
	return nil
}
