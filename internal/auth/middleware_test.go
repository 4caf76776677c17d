package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeVerifier struct {
	tokens map[string]string
}

func (f fakeVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	email, ok := f.tokens[raw]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Email: email, Method: "token"}, nil
}

type failingKeys struct{}

func (failingKeys) Validate(context.Context, string) (string, error) {
	return "", errors.New("database is locked")
}

func TestRequireStaff(t *testing.T) {
	keys := testAPIKeyStore(t)
	rawKey, _, err := keys.Create(t.Context(), "cli", "key@example.org")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	staff := NewStaff(fakeVerifier{tokens: map[string]string{"good-token": "idp@example.org"}}, keys, discardLogger())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantEmail  string
		wantMethod string
	}{
		{"missing header", "", http.StatusUnauthorized, "", ""},
		{"basic scheme", "Basic abc", http.StatusUnauthorized, "", ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "", ""},
		{"idp token", "Bearer good-token", http.StatusOK, "idp@example.org", "token"},
		{"lower-case scheme", "bearer good-token", http.StatusOK, "idp@example.org", "token"},
		{"bad token", "Bearer bad-token", http.StatusUnauthorized, "", ""},
		{"api key", "Bearer " + rawKey, http.StatusOK, "key@example.org", "api_key"},
		{"unknown api key", "Bearer th_nope", http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Identity
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := IdentityFromContext(r.Context())
				if !ok {
					t.Error("identity missing from context")
				}
				got = id
				w.WriteHeader(http.StatusOK)
			})

			r := httptest.NewRequest(http.MethodPost, "/api/import", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			staff.RequireStaff(inner).ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got.Email != tt.wantEmail || got.Method != tt.wantMethod {
				t.Errorf("identity = %+v, want %s via %s", got, tt.wantEmail, tt.wantMethod)
			}
		})
	}
}

func TestRequireStaffNilSources(t *testing.T) {
	staff := NewStaff(nil, nil, discardLogger())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	})

	for _, cred := range []string{"th_abc", "some.jwt.token"} {
		r := httptest.NewRequest(http.MethodPost, "/api/houses", nil)
		r.Header.Set("Authorization", "Bearer "+cred)
		w := httptest.NewRecorder()
		staff.RequireStaff(inner).ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", cred, w.Code)
		}
	}
}

func TestRequireStaffKeyStoreError(t *testing.T) {
	staff := NewStaff(nil, failingKeys{}, discardLogger())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r := httptest.NewRequest(http.MethodPost, "/api/import", nil)
	r.Header.Set("Authorization", "Bearer th_whatever")
	w := httptest.NewRecorder()
	staff.RequireStaff(inner).ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequireStaffRateLimit(t *testing.T) {
	staff := NewStaff(fakeVerifier{tokens: map[string]string{"good": "a@example.org"}}, nil, discardLogger())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := staff.RequireStaff(inner)

	do := func(token string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/import", nil)
		r.RemoteAddr = "203.0.113.7:4444"
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	for i := 0; i < rateLimitMaxFail; i++ {
		if code := do("bad"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, code)
		}
	}
	if code := do("good"); code != http.StatusTooManyRequests {
		t.Errorf("status after %d failures = %d, want 429", rateLimitMaxFail, code)
	}

	// Failures age out of the window.
	staff.limiter.now = func() time.Time { return time.Now().Add(2 * rateLimitWindow) }
	if code := do("good"); code != http.StatusOK {
		t.Errorf("status after window = %d, want 200", code)
	}
}

func TestRateLimiterSweepsExpiredIPs(t *testing.T) {
	rl := newRateLimiter()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		rl.recordFailure(ip)
	}
	if len(rl.attempts) != 3 {
		t.Fatalf("tracked IPs = %d, want 3", len(rl.attempts))
	}

	now = now.Add(rateLimitWindow + time.Second)
	rl.recordFailure("10.0.0.4")

	if len(rl.attempts) != 1 {
		t.Errorf("tracked IPs after window = %d, want 1: %v", len(rl.attempts), rl.attempts)
	}
	if _, ok := rl.attempts["10.0.0.4"]; !ok {
		t.Error("latest failure was dropped")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
