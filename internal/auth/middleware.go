package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenVerifier checks identity-provider tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Identity, error)
}

// KeyValidator resolves API keys to the owning staff email. Unknown keys
// are reported as ErrKeyNotFound.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (string, error)
}

// rateLimiter tracks failed credential attempts per IP.
type rateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{attempts: make(map[string][]time.Time), now: time.Now}
}

const (
	rateLimitWindow  = 1 * time.Minute
	rateLimitMaxFail = 10
)

// limited reports whether ip has used up its failures in the window.
func (rl *rateLimiter) limited(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.prune(ip)) >= rateLimitMaxFail
}

// recordFailure records a failed attempt for ip. At most once per window
// it also drops IPs whose failures have all expired.
func (rl *rateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) >= rateLimitWindow {
		for other := range rl.attempts {
			rl.prune(other)
		}
		rl.lastSweep = now
	}
	rl.attempts[ip] = append(rl.prune(ip), now)
}

func (rl *rateLimiter) prune(ip string) []time.Time {
	cutoff := rl.now().Add(-rateLimitWindow)
	valid := rl.attempts[ip][:0]
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(rl.attempts, ip)
		return nil
	}
	rl.attempts[ip] = valid
	return valid
}

// Staff authenticates write requests. Either credential source may be nil,
// in which case that kind of credential is rejected.
type Staff struct {
	tokens  TokenVerifier
	keys    KeyValidator
	logger  *slog.Logger
	limiter *rateLimiter
}

// NewStaff creates the staff authentication middleware.
func NewStaff(tokens TokenVerifier, keys KeyValidator, logger *slog.Logger) *Staff {
	if logger == nil {
		logger = slog.Default()
	}
	return &Staff{tokens: tokens, keys: keys, logger: logger, limiter: newRateLimiter()}
}

// RequireStaff validates the Bearer credential and stores the caller's
// Identity in the request context. Returns 401 for missing or invalid
// credentials and 429 for rate-limited IPs.
func (s *Staff) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		scheme, credential, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(credential) == "" {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		credential = strings.TrimSpace(credential)

		ip := clientIP(r)
		if s.limiter.limited(ip) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		id, err := s.authenticate(r.Context(), credential)
		if err != nil {
			s.logger.Error("authenticating request", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if id == nil {
			s.limiter.recordFailure(ip)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
	})
}

// authenticate returns nil, nil for credentials that are simply wrong and
// an error only when a backing store failed.
func (s *Staff) authenticate(ctx context.Context, credential string) (*Identity, error) {
	if IsAPIKey(credential) {
		if s.keys == nil {
			return nil, nil
		}
		email, err := s.keys.Validate(ctx, credential)
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &Identity{Email: email, Method: "api_key"}, nil
	}

	if s.tokens == nil {
		return nil, nil
	}
	id, err := s.tokens.Verify(ctx, credential)
	if err != nil {
		s.logger.Debug("token rejected", "error", err)
		return nil, nil
	}
	return &id, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
