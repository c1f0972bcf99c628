package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const subjectKey contextKey = "subject"

// Middleware verifies bearer tokens against the configured OIDC issuer and
// stores the token subject in the request context. It protects the staff
// scanner endpoints only; the webhook route stays open and authenticates via
// the payload signature instead.
type Middleware struct {
	verifier *oidc.IDTokenVerifier
}

func NewMiddleware(ctx context.Context, issuer string) (*Middleware, error) {
	if issuer == "" {
		return nil, fmt.Errorf("OIDC issuer is not configured")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &Middleware{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := ExtractTokenFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		idToken, err := m.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			http.Error(w, "failed to parse claims", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Attribution tags requests with the bearer token's subject without verifying
// the token. Used when no OIDC issuer is configured, so scanner actions still
// carry a name in the logs. It never rejects a request.
func Attribution(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rawToken, err := ExtractTokenFromRequest(r); err == nil {
			if sub, err := SubjectFromToken(rawToken); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), subjectKey, sub))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Subject returns the verified token subject for the request, if any.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}
