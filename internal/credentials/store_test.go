package credentials

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/nghyane/gameday-net/internal/logging"
)

type failingBackend struct {
	getErr error
	setErr error
}

func (f failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.getErr }
func (f failingBackend) Set(context.Context, string, []byte) error   { return f.setErr }
func (f failingBackend) Delete(context.Context, string) error        { return nil }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestStoreSaveAndRead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(NewMemoryBackend(), WithClock(fixedClock(now)))

	if s.HasCredentials(ctx) {
		t.Fatal("new store should be empty")
	}
	if !s.IsExpired(ctx) {
		t.Fatal("empty store should report expired")
	}

	if !s.Save(ctx, "access-1", "refresh-1", time.Hour) {
		t.Fatal("Save failed")
	}
	p, ok := s.Read(ctx)
	if !ok || p.AccessToken != "access-1" || p.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected pair: %+v ok=%v", p, ok)
	}
	if !p.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", p.ExpiresAt)
	}
}

func TestStoreExpirySkew(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now
	s := NewStore(NewMemoryBackend(), WithClock(func() time.Time { return clock }))
	s.Save(ctx, "a", "r", 2*time.Minute)

	if s.IsExpired(ctx) {
		t.Fatal("two minutes out should not be expired")
	}
	clock = now.Add(61 * time.Second)
	if !s.IsExpired(ctx) {
		t.Fatal("within 60s of expiry should be treated as expired")
	}
}

func TestStoreRejectsPartialPair(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	s.Save(ctx, "a", "r", time.Hour)

	if s.Save(ctx, "only-access", "", time.Hour) {
		t.Fatal("partial pair must be rejected")
	}
	p, _ := s.Read(ctx)
	if p.AccessToken != "a" || p.RefreshToken != "r" {
		t.Fatalf("previous pair should survive, got %+v", p)
	}
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend)
	s.Save(ctx, "a", "r", time.Hour)
	if !s.Clear(ctx) {
		t.Fatal("Clear failed")
	}
	if s.HasCredentials(ctx) {
		t.Fatal("credentials should be gone")
	}
	if _, err := backend.Get(ctx, DefaultKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("backend still holds value: %v", err)
	}
}

func TestStoreReadFailureMeansSignedOut(t *testing.T) {
	s := NewStore(failingBackend{getErr: errors.New("keychain locked")})
	if _, ok := s.Read(context.Background()); ok {
		t.Fatal("read failure should look like no credentials")
	}
}

func TestStorePersistFailureReportsFalse(t *testing.T) {
	ctx := context.Background()
	s := NewStore(failingBackend{getErr: ErrNotFound, setErr: errors.New("disk full")})
	if s.Save(ctx, "a", "r", time.Hour) {
		t.Fatal("expected false on persist failure")
	}
	if tok, ok := s.AccessToken(ctx); !ok || tok != "a" {
		t.Fatal("in-memory pair should still be usable")
	}
}

func TestStoreLoadsPersistedPair(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	NewStore(backend).Save(ctx, "a", "r", time.Hour)

	fresh := NewStore(backend)
	if tok, ok := fresh.RefreshToken(ctx); !ok || tok != "r" {
		t.Fatalf("expected persisted refresh token, got %q ok=%v", tok, ok)
	}
}

func TestStoreConcurrentReadersNeverSeePartialPair(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	s.Save(ctx, "access-0", "refresh-0", time.Hour)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < 200; i++ {
			n := string(rune('a' + i%26))
			s.Save(ctx, "access-"+n, "refresh-"+n, time.Hour)
		}
		close(stop)
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, ok := s.Read(ctx)
				if !ok {
					t.Error("pair vanished")
					return
				}
				if strings.TrimPrefix(p.AccessToken, "access-") != strings.TrimPrefix(p.RefreshToken, "refresh-") {
					t.Errorf("torn pair observed: %+v", p)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestStoreNeverLogsTokens(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetLevel(log.DebugLevel)
	defer func() {
		log.SetOutput(&bytes.Buffer{})
		log.SetLevel(log.InfoLevel)
	}()

	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	s.Save(ctx, "plaintext-access-token-value", "plaintext-refresh-token-value", time.Hour)
	s.Clear(ctx)

	if strings.Contains(buf.String(), "plaintext-") {
		t.Fatalf("token written to log: %s", buf.String())
	}
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	ts := s.TokenSource(ctx)
	if _, err := ts.Token(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	s.Save(ctx, "a", "r", time.Hour)
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "a" || tok.Type() != "Bearer" {
		t.Fatalf("unexpected token %+v err=%v", tok, err)
	}
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "u1"}).
		SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, ok := ExpiryFromJWT(signed)
	if !ok || !got.Equal(exp) {
		t.Fatalf("ExpiryFromJWT = %v, %v; want %v", got, ok, exp)
	}
	if _, ok := ExpiryFromJWT("opaque-token"); ok {
		t.Fatal("opaque token should not yield an expiry")
	}
}
