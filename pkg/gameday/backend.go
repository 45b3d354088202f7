package gameday

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nghyane/gameday-net/internal/config"
	"github.com/nghyane/gameday-net/internal/credentials"
)

// OpenBackend builds the credential backend named by cfg. The returned close
// function releases database handles and is never nil.
func OpenBackend(ctx context.Context, cfg config.CredentialsConfig) (credentials.Backend, func() error, error) {
	noop := func() error { return nil }
	var (
		backend credentials.Backend
		closer  = noop
	)
	switch cfg.Backend {
	case config.BackendMemory:
		backend = credentials.NewMemoryBackend()
	case config.BackendFile, "":
		dir := cfg.Path
		if dir == "" {
			dir = config.DefaultCredentialsDir()
		}
		backend = credentials.NewFileBackend(dir)
	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = config.DefaultCredentialsDir()
		}
		if !strings.HasSuffix(path, ".db") {
			path = filepath.Join(path, "credentials.db")
		}
		b, err := credentials.NewSQLiteBackend(path)
		if err != nil {
			return nil, noop, err
		}
		backend, closer = b, b.Close
	case config.BackendPostgres:
		b, err := credentials.NewPostgresBackend(ctx, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, noop, err
		}
		backend = b
		closer = func() error { b.Close(); return nil }
	case config.BackendObject:
		b, err := credentials.NewObjectBackend(ctx, credentials.ObjectConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, noop, err
		}
		backend = b
	default:
		return nil, noop, fmt.Errorf("unknown credentials backend %q", cfg.Backend)
	}

	if cfg.SealKey != "" {
		sealed, err := credentials.NewSealed(backend, cfg.SealKey)
		if err != nil {
			_ = closer()
			return nil, noop, err
		}
		backend = sealed
	}
	return backend, closer, nil
}
