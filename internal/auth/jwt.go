package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// VerifierConfig configures identity-provider token checks.
type VerifierConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// Verifier checks RS256 identity-provider tokens against a JWKS.
type Verifier struct {
	kf       keyfunc.Keyfunc
	issuer   string
	audience string
	leeway   time.Duration
}

type staffClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// NewVerifier fetches keys from cfg.JWKSURL and refreshes them in the
// background. Startup does not fail when the identity provider is down.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) (*Verifier, error) {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("refreshing jwks", "url", cfg.JWKSURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating jwks storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("creating keyfunc: %w", err)
	}

	return NewVerifierWithKeyfunc(kf, cfg), nil
}

// NewVerifierWithKeyfunc creates a Verifier over an existing key source.
func NewVerifierWithKeyfunc(kf keyfunc.Keyfunc, cfg VerifierConfig) *Verifier {
	return &Verifier{kf: kf, issuer: cfg.Issuer, audience: cfg.Audience, leeway: cfg.Leeway}
}

// Verify parses and validates a raw token and returns its identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &staffClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.kf.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: no email claim", ErrInvalidToken)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return Identity{}, fmt.Errorf("%w: email not verified", ErrInvalidToken)
	}

	return Identity{Email: claims.Email, Method: "token"}, nil
}
