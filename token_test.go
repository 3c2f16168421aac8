package trustbroker

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ENDragnee/trustbroker-client/keys"
)

func buildTestJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to build test token: %v", err)
	}
	return token
}

func TestInspectAccessToken(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	t.Run("full claims", func(t *testing.T) {
		token := buildTestJWT(t, jwt.MapClaims{
			"sub": "req_test",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		})

		info, err := InspectAccessToken(token)
		if err != nil {
			t.Fatalf("InspectAccessToken() error = %v", err)
		}
		if info.Subject != "req_test" {
			t.Errorf("expected subject 'req_test', got %q", info.Subject)
		}
		if !info.IssuedAt.Equal(now) {
			t.Errorf("expected iat %v, got %v", now, info.IssuedAt)
		}
		if !info.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Errorf("expected exp %v, got %v", now.Add(time.Hour), info.ExpiresAt)
		}
		if info.Expired(time.Now()) {
			t.Error("token should not be expired")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := buildTestJWT(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})

		info, err := InspectAccessToken(token)
		if err != nil {
			t.Fatalf("InspectAccessToken() error = %v", err)
		}
		if !info.Expired(time.Now()) {
			t.Error("token should be expired")
		}
	})

	t.Run("no expiry claim", func(t *testing.T) {
		token := buildTestJWT(t, jwt.MapClaims{"sub": "req_test"})

		info, err := InspectAccessToken(token)
		if err != nil {
			t.Fatalf("InspectAccessToken() error = %v", err)
		}
		if info.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
			t.Error("token without exp never expires client-side")
		}
	})

	t.Run("opaque token", func(t *testing.T) {
		if _, err := InspectAccessToken("opaque-token-1"); err == nil {
			t.Error("expected error for non-JWT token")
		}
	})
}

func signPlatformJWS(t *testing.T, key *ecdsa.PrivateKey, kid string, payload []byte) string {
	t.Helper()

	opts := (&jose.SignerOptions{}).WithHeader(jose.HeaderKey("kid"), kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("failed to sign payload: %v", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize JWS: %v", err)
	}
	return compact
}

func TestVerifyPlatformSignatureStaticKey(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate platform key: %v", err)
	}
	platformPub, err := keys.FromPublic(&ecKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to wrap platform key: %v", err)
	}

	payload := []byte(`{"requestId":"req_abc","schemaId":"schema_1"}`)
	compact := signPlatformJWS(t, ecKey, "platform-key-1", payload)

	client := testClient(t, "http://broker.invalid", func(c *Config) {
		c.PlatformKey = platformPub
	})

	got, err := client.VerifyPlatformSignature(context.Background(), compact)
	if err != nil {
		t.Fatalf("VerifyPlatformSignature() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("unexpected payload %s", got)
	}

	t.Run("wrong key", func(t *testing.T) {
		otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		otherPub, err := keys.FromPublic(&otherKey.PublicKey)
		if err != nil {
			t.Fatalf("failed to wrap key: %v", err)
		}
		other := testClient(t, "http://broker.invalid", func(c *Config) {
			c.PlatformKey = otherPub
		})
		if _, err := other.VerifyPlatformSignature(context.Background(), compact); !errors.Is(err, ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})

	t.Run("malformed signature", func(t *testing.T) {
		if _, err := client.VerifyPlatformSignature(context.Background(), "not-a-jws"); !errors.Is(err, ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if _, err := client.VerifyPlatformSignature(context.Background(), ""); !errors.Is(err, ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})
}

func TestVerifyPlatformSignatureJWKS(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate platform key: %v", err)
	}

	keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &ecKey.PublicKey,
		KeyID:     "platform-key-1",
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}}

	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(keySet)
	}))
	defer server.Close()

	payload := []byte(`{"requestId":"req_abc"}`)
	compact := signPlatformJWS(t, ecKey, "platform-key-1", payload)

	client := testClient(t, server.URL, nil)
	got, err := client.VerifyPlatformSignature(context.Background(), compact)
	if err != nil {
		t.Fatalf("VerifyPlatformSignature() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("unexpected payload %s", got)
	}

	// A second verification within the cache TTL must not refetch the JWKS.
	if _, err := client.VerifyPlatformSignature(context.Background(), compact); err != nil {
		t.Fatalf("VerifyPlatformSignature() error = %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("expected a single JWKS fetch, got %d", got)
	}

	t.Run("unknown key id", func(t *testing.T) {
		stranger := signPlatformJWS(t, ecKey, "rotated-away", payload)
		if _, err := client.VerifyPlatformSignature(context.Background(), stranger); !errors.Is(err, ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})
}
