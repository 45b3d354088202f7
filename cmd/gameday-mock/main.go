// Command gameday-mock runs the fake game-day backend for local testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nghyane/gameday-net/internal/logging"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/nghyane/gameday-net/internal/mockserver"
	flag "github.com/spf13/pflag"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		addr          string
		tokenLifetime time.Duration
		omitExpiresIn bool
		debug         bool
	)
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.DurationVar(&tokenLifetime, "token-lifetime", time.Hour, "Lifetime of issued access tokens")
	flag.BoolVar(&omitExpiresIn, "omit-expires-in", false, "Leave expires_in out of refresh responses")
	flag.BoolVar(&debug, "debug", false, "Log every request")
	flag.Parse()

	if debug {
		logging.SetLevel(logging.DebugLevel)
	}

	srv := mockserver.New(mockserver.Options{
		TokenLifetime: tokenLifetime,
		OmitExpiresIn: omitExpiresIn,
		Debug:         debug,
	})
	access, refresh, err := srv.IssueCredentials()
	if err != nil {
		log.Fatalf("failed to issue credentials: %v", err)
	}
	fmt.Printf("sign in with:\n  gameday --sign-in --access-token %s --refresh-token %s\n", access, refresh)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("%v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Errorf("failed to stop mock server: %v", err)
		}
	}
}
