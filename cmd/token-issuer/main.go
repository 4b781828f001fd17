// Minimal service that mints short-lived session tokens for speech gateway
// clients. Callers are verified with OIDC when configured (ID tokens via
// discovery or access tokens via JWKS); minted tokens are HS256 JWTs carrying
// the caller's subject, ready for the gateway's authorization message.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	GatewayURL string    `json:"gateway_url,omitempty"`
}

type server struct {
	gatewayURL string
	signingKey []byte
	tokenTTL   time.Duration
	tokenAud   string
	issuerName string

	// OIDC config
	tokenType string // "id" (ID token) or "access" (JWT access token)
	issuer    string
	audience  string
	verifier  *oidc.IDTokenVerifier
	jwks      *keyfunc.JWKS

	// CORS
	allowedOrigins []string
}

var logger *zap.SugaredLogger

type subjectKey struct{}

func main() {
	zl := zap.Must(zap.NewProduction())
	defer zl.Sync()
	logger = zl.Sugar()

	s := &server{
		gatewayURL: os.Getenv("NOVASONIC_GATEWAY_URL"),
		signingKey: []byte(must("SESSION_SIGNING_SECRET")),
		tokenTTL:   durationEnv("SESSION_TOKEN_TTL", 5*time.Minute),
		tokenAud:   env("SESSION_TOKEN_AUDIENCE", "novasonic-gateway"),
		issuerName: env("SESSION_ISSUER_NAME", "novasonic-token-issuer"),
	}

	// OIDC setup
	if iss := os.Getenv("OIDC_ISSUER"); iss != "" {
		aud := must("OIDC_AUDIENCE")
		s.issuer = iss
		s.audience = aud
		s.tokenType = env("OIDC_TOKEN_TYPE", "access") // "id" or "access"

		prov, err := oidc.NewProvider(context.Background(), iss)
		if err != nil {
			logger.Fatalw("oidc provider", "error", err)
		}

		if s.tokenType == "id" {
			s.verifier = prov.Verifier(&oidc.Config{ClientID: aud})
			logger.Infow("OIDC enabled", "mode", "id", "issuer", iss, "audience", aud)
		} else {
			// Access token: load JWKS
			var disc struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
				logger.Fatalw("discover jwks_uri", "error", err)
			}
			jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
				RefreshInterval: time.Hour,
				RefreshTimeout:  10 * time.Second,
			})
			if err != nil {
				logger.Fatalw("jwks", "error", err)
			}
			s.jwks = jwks
			logger.Infow("OIDC enabled", "mode", "access", "issuer", iss, "audience", aud)
		}
	} else {
		logger.Info("OIDC disabled, minting for anonymous callers")
	}

	if ao := os.Getenv("CORS_ALLOWED_ORIGINS"); ao != "" {
		s.allowedOrigins = splitCSV(ao)
		logger.Infow("CORS enabled", "origins", s.allowedOrigins)
	}

	mux := http.NewServeMux()
	mux.Handle("/token", s.cors(s.auth(http.HandlerFunc(s.handleToken))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warnw("write health response", "error", err)
		}
	})

	addr := env("ADDR", ":8080")
	logger.Infow("token-issuer listening", "addr", addr)
	logger.Fatal(http.ListenAndServe(addr, mux))
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sub := "anonymous"
	if v, ok := r.Context().Value(subjectKey{}).(string); ok && v != "" {
		sub = v
	}

	now := time.Now()
	expires := now.Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"iss": s.issuerName,
		"sub": sub,
		"aud": s.tokenAud,
		"iat": now.Unix(),
		"exp": expires.Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.Errorw("sign session token", "error", err)
		http.Error(w, "mint failed", http.StatusInternalServerError)
		return
	}

	logger.Infow("session token minted", "sub", sub, "expires_at", expires)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TokenResponse{
		Token:      signed,
		ExpiresAt:  expires,
		GatewayURL: s.gatewayURL,
	}); err != nil {
		logger.Errorw("encode token response", "error", err)
	}
}

// Middleware: OIDC auth
func (s *server) auth(next http.Handler) http.Handler {
	if s.issuer == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(auth[len("Bearer "):])
		var sub string
		if s.tokenType == "id" {
			if s.verifier == nil {
				http.Error(w, "verifier not initialized", http.StatusInternalServerError)
				return
			}
			idt, err := s.verifier.Verify(r.Context(), raw)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			sub = idt.Subject
		} else {
			if s.jwks == nil {
				http.Error(w, "jwks not initialized", http.StatusInternalServerError)
				return
			}
			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, s.jwks.Keyfunc, jwt.WithAudience(s.audience), jwt.WithIssuer(s.issuer))
			if err != nil || !tok.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			sub, _ = claims.GetSubject()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
	})
}

// Middleware: CORS
func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.allowedOrigins) == 0 || contains(s.allowedOrigins, origin) || contains(s.allowedOrigins, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// helpers

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		logger.Fatalf("missing env %s", k)
	}
	return v
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Fatalf("invalid duration in %s: %v", k, err)
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func contains(a []string, v string) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}
