// Command gameday issues requests against the game-day backend and tails its
// live topic streams through the resilient client stack.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nghyane/gameday-net/internal/config"
	"github.com/nghyane/gameday-net/internal/logging"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/nghyane/gameday-net/internal/watcher"
	"github.com/nghyane/gameday-net/pkg/gameday"
	flag "github.com/spf13/pflag"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath   string
		initConfig   bool
		forceInit    bool
		showVersion  bool
		signIn       bool
		signOut      bool
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		method       string
		path         string
		data         string
		queries      []string
		headers      []string
		anonymous    bool
		tailTopic    string
		watchConfig  bool
		stats        bool
		statsSince   time.Duration
	)

	flag.StringVar(&configPath, "config", config.DefaultConfigPath(), "Configuration file path")
	flag.BoolVar(&initConfig, "init", false, "Write a default configuration file")
	flag.BoolVar(&forceInit, "force", false, "Overwrite an existing configuration (use with --init)")
	flag.BoolVar(&showVersion, "version", false, "Print version information")
	flag.BoolVar(&signIn, "sign-in", false, "Store a token pair (use with --access-token and --refresh-token)")
	flag.BoolVar(&signOut, "sign-out", false, "Forget the stored token pair")
	flag.StringVar(&accessToken, "access-token", "", "Access token for --sign-in")
	flag.StringVar(&refreshToken, "refresh-token", "", "Refresh token for --sign-in")
	flag.DurationVar(&expiresIn, "expires-in", time.Hour, "Access token lifetime for --sign-in")
	flag.StringVarP(&method, "method", "X", "GET", "HTTP method for --path")
	flag.StringVarP(&path, "path", "p", "", "Request path, e.g. /schools")
	flag.StringVarP(&data, "data", "d", "", "JSON request body")
	flag.StringArrayVarP(&queries, "query", "q", nil, "Query pair name=value (repeatable, order kept)")
	flag.StringArrayVarP(&headers, "header", "H", nil, "Extra header 'Name: value' (repeatable)")
	flag.BoolVar(&anonymous, "anonymous", false, "Send the request without credentials")
	flag.StringVarP(&tailTopic, "tail", "t", "", "Tail a stream topic until interrupted")
	flag.BoolVar(&watchConfig, "watch", false, "Reload settings when the config file changes")
	flag.BoolVar(&stats, "stats", false, "Print recorded attempt statistics")
	flag.DurationVar(&statsSince, "since", 24*time.Hour, "Window for --stats")
	flag.Parse()

	if showVersion {
		fmt.Printf("gameday %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}
	if initConfig {
		doInitConfig(configPath, forceInit)
		return
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gameday.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize client: %v", err)
	}
	defer func() {
		if errClose := client.Close(); errClose != nil {
			log.Warnf("failed to close client: %v", errClose)
		}
	}()

	if watchConfig {
		w, errWatch := watcher.NewWatcher(configPath, client.ApplyConfig)
		if errWatch != nil {
			log.Fatalf("failed to create config watcher: %v", errWatch)
		}
		w.SetConfig(cfg)
		if errWatch = w.Start(ctx); errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		}
		defer func() { _ = w.Stop() }()
	}

	switch {
	case signIn:
		err = doSignIn(ctx, client, accessToken, refreshToken, expiresIn)
	case signOut:
		client.SignOut(ctx)
		fmt.Println("signed out")
	case stats:
		err = doStats(ctx, client, statsSince)
	case path != "":
		client.Start(ctx)
		err = doRequest(ctx, client, requestFlags{
			method:    method,
			path:      path,
			data:      data,
			queries:   queries,
			headers:   headers,
			anonymous: anonymous,
		})
	case tailTopic != "":
		client.Start(ctx)
		err = doTail(ctx, client, tailTopic)
	default:
		flag.Usage()
		return
	}
	if err != nil {
		log.Errorf("%v", err)
		_ = client.Close()
		logging.Close()
		os.Exit(1)
	}
}

func doInitConfig(configPath string, force bool) {
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Printf("config already exists at %s (use --force to overwrite)\n", configPath)
		return
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		log.Fatalf("failed to create config directory: %v", err)
	}
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		log.Fatalf("failed to write config: %v", err)
	}
	fmt.Printf("wrote default config to %s\n", configPath)
}

func doSignIn(ctx context.Context, client *gameday.Client, access, refresh string, expiresIn time.Duration) error {
	if access == "" || refresh == "" {
		return errors.New("--sign-in needs both --access-token and --refresh-token")
	}
	if !client.SignIn(ctx, access, refresh, expiresIn) {
		return errors.New("credentials were kept in memory but could not be persisted")
	}
	fmt.Printf("signed in (access token %s)\n", log.RedactToken(access))
	return nil
}
