package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nghyane/gameday-net/internal/apierr"
	"github.com/nghyane/gameday-net/internal/credentials"
	"github.com/nghyane/gameday-net/internal/json"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/tidwall/gjson"
)

// DefaultRefreshPath is the token refresh endpoint, relative to the base URL.
const DefaultRefreshPath = "/auth/refresh"

// defaultTokenLifetime applies when the server sends neither expires_in nor a
// JWT exp claim.
const defaultTokenLifetime = time.Hour

const refreshFlightKey = "refresh"

var errNoRefreshToken = errors.New("no refresh token stored")

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh runs at most one refresh call at a time; concurrent callers share
// its outcome. stale is the access token the caller was rejected with: if the
// store already holds a different, unexpired token the network call is
// skipped. Waiting callers may abandon the wait via ctx without cancelling
// the shared refresh.
func (p *Pipeline) refresh(ctx context.Context, stale string) error {
	ch := p.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		if stale != "" {
			if current, ok := p.creds.AccessToken(flightCtx); ok && current != stale && !p.creds.IsExpired(flightCtx) {
				return current, nil
			}
		}
		return p.doRefresh(flightCtx)
	})
	select {
	case <-ctx.Done():
		return contextError(ctx.Err())
	case res := <-ch:
		if res.Shared {
			log.Debug("joined in-flight credential refresh")
		}
		return res.Err
	}
}

// doRefresh performs the refresh call. Every failure clears the stored
// credentials and reports unauthorized.
func (p *Pipeline) doRefresh(ctx context.Context) (string, error) {
	token, err := p.exchangeRefreshToken(ctx)
	if err != nil {
		p.creds.Clear(ctx)
		log.WithError(err).Warn("credential refresh failed, signed out")
		return "", apierr.New(apierr.KindUnauthorized, err)
	}
	return token, nil
}

func (p *Pipeline) exchangeRefreshToken(ctx context.Context) (string, error) {
	refreshToken, ok := p.creds.RefreshToken(ctx)
	if !ok {
		return "", errNoRefreshToken
	}
	payload, err := json.MarshalSnake(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	s := p.Settings()
	reqCtx := ctx
	if s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
	}
	target := Post(p.refreshPath).target(p.base)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("X-Request-ID", p.newID())
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("refresh response body close error: %v", errClose)
		}
	}()
	body, err := readBody(resp)
	log.WithFields(log.Fields{
		"path":    p.refreshPath,
		"status":  resp.StatusCode,
		"latency": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("credential refresh attempt")
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("refresh response is not valid JSON")
	}

	access := firstString(body, "access_token", "accessToken")
	rotated := firstString(body, "refresh_token", "refreshToken")
	if access == "" || rotated == "" {
		return "", errors.New("refresh response missing tokens")
	}
	lifetime := expiresIn(body, access, p.now())
	if !p.creds.Save(ctx, access, rotated, lifetime) {
		log.Warn("refreshed credentials could not be persisted")
	}
	log.WithField("expires_in", lifetime.String()).Info("credentials refreshed")
	return access, nil
}

func firstString(body []byte, paths ...string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// expiresIn reads expires_in (seconds), falling back to the access token's
// JWT exp claim, then to defaultTokenLifetime.
func expiresIn(body []byte, access string, now time.Time) time.Duration {
	for _, path := range []string{"expires_in", "expiresIn"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.Number && v.Int() > 0 {
			return time.Duration(v.Int()) * time.Second
		}
	}
	if exp, ok := credentials.ExpiryFromJWT(access); ok {
		if d := exp.Sub(now); d > 0 {
			return d
		}
	}
	return defaultTokenLifetime
}
