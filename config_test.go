package novasonic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticToken(t *testing.T) {
	tests := []struct {
		name     string
		token    StaticToken
		expected string
		wantErr  error
	}{
		{
			name:     "valid token",
			token:    StaticToken("test-token-123"),
			expected: "test-token-123",
		},
		{
			name:    "empty token",
			token:   StaticToken(""),
			wantErr: ErrNoCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.token.Token(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEnvCredential(t *testing.T) {
	t.Setenv("NOVASONIC_TEST_TOKEN", "from-env")

	cred := EnvCredential("NOVASONIC_TEST_TOKEN")
	got, err := cred.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-env" {
		t.Errorf("expected from-env, got %q", got)
	}

	// Resolution happens per call, so rotation is picked up.
	t.Setenv("NOVASONIC_TEST_TOKEN", "rotated")
	got, err = cred.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after rotation: %v", err)
	}
	if got != "rotated" {
		t.Errorf("expected rotated, got %q", got)
	}

	missing := EnvCredential("NOVASONIC_TEST_TOKEN_MISSING")
	if _, err := missing.Token(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential for unset variable, got %v", err)
	}
}

// signedTestJWT builds an HS256 token with the given expiry for credential
// tests. The signature is irrelevant; JWTCredential only reads claims.
func signedTestJWT(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "test-user",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return token
}

func TestJWTCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		raw := signedTestJWT(t, time.Now().Add(time.Hour))
		cred := JWTCredential{Raw: raw}
		got, err := cred.Token(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != raw {
			t.Error("expected the raw token back")
		}
	})

	t.Run("expired token fails fast", func(t *testing.T) {
		raw := signedTestJWT(t, time.Now().Add(-time.Hour))
		cred := JWTCredential{Raw: raw}
		if _, err := cred.Token(ctx); !errors.Is(err, ErrCredentialExpired) {
			t.Errorf("expected ErrCredentialExpired, got %v", err)
		}
	})

	t.Run("leeway tolerates clock skew", func(t *testing.T) {
		raw := signedTestJWT(t, time.Now().Add(-10*time.Second))
		cred := JWTCredential{Raw: raw, Leeway: time.Minute}
		if _, err := cred.Token(ctx); err != nil {
			t.Errorf("expected expiry within leeway to pass, got %v", err)
		}
	})

	t.Run("no expiry claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).
			SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		cred := JWTCredential{Raw: token}
		if _, err := cred.Token(ctx); err != nil {
			t.Errorf("token without exp should pass, got %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		cred := JWTCredential{Raw: "not.a.jwt"}
		if _, err := cred.Token(ctx); !errors.Is(err, ErrNoCredential) {
			t.Errorf("expected ErrNoCredential for unparseable token, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		cred := JWTCredential{}
		if _, err := cred.Token(ctx); !errors.Is(err, ErrNoCredential) {
			t.Errorf("expected ErrNoCredential, got %v", err)
		}
	})
}

