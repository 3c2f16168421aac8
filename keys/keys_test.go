package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeys(t *testing.T) map[string]*PrivateKey {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	out := map[string]*PrivateKey{}
	out["rsa"], err = FromSigner(rsaKey)
	require.NoError(t, err)
	out["ecdsa"], err = FromSigner(ecKey)
	require.NoError(t, err)
	out["ed25519"], err = FromSigner(edKey)
	require.NoError(t, err)
	return out
}

func TestSignVerifyRoundTrip(t *testing.T) {
	type payload struct {
		ProviderID string `json:"providerId"`
		SchemaID   string `json:"schemaId"`
	}

	for name, priv := range generateKeys(t) {
		t.Run(name, func(t *testing.T) {
			sig, err := Sign(priv, payload{ProviderID: "p1", SchemaID: "s1"})
			require.NoError(t, err)
			require.NotEmpty(t, sig)

			// Verification must succeed for any representation with the
			// same canonical form, not just the one that was signed.
			equivalent := map[string]any{"schemaId": "s1", "providerId": "p1"}
			assert.True(t, Verify(priv.Public(), equivalent, sig))
		})
	}
}

func TestSignIsRepeatableOnVerification(t *testing.T) {
	// ECDSA signatures are randomized: two signatures over the same payload
	// may differ byte-for-byte, but both must verify.
	priv := generateKeys(t)["ecdsa"]
	payload := map[string]any{"a": 1}

	sig1, err := Sign(priv, payload)
	require.NoError(t, err)
	sig2, err := Sign(priv, payload)
	require.NoError(t, err)

	assert.True(t, Verify(priv.Public(), payload, sig1))
	assert.True(t, Verify(priv.Public(), payload, sig2))
}

func TestVerifyRejectsTampering(t *testing.T) {
	all := generateKeys(t)
	for name, priv := range all {
		t.Run(name, func(t *testing.T) {
			sig, err := Sign(priv, map[string]any{"amount": 100})
			require.NoError(t, err)

			assert.False(t, Verify(priv.Public(), map[string]any{"amount": 101}, sig), "modified payload must not verify")
			assert.False(t, Verify(priv.Public(), map[string]any{"amount": 100}, "not-base64!"), "malformed encoding must not verify")
		})
	}

	// A signature from one key pair must not verify under another.
	sig, err := Sign(all["ecdsa"], map[string]any{"a": 1})
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherPub, err := FromPublic(&other.PublicKey)
	require.NoError(t, err)
	assert.False(t, Verify(otherPub, map[string]any{"a": 1}, sig))
}

func TestRawTextSignedUnchanged(t *testing.T) {
	priv := generateKeys(t)["ed25519"]

	const text = "platform-signature-text"
	sig, err := Sign(priv, text)
	require.NoError(t, err)

	assert.True(t, Verify(priv.Public(), text, sig))
	assert.True(t, Verify(priv.Public(), []byte(text), sig), "string and []byte forms of raw text are equivalent")
	assert.False(t, Verify(priv.Public(), text+" ", sig))
}

func TestRawJSONCanonicalizedBeforeSigning(t *testing.T) {
	priv := generateKeys(t)["ecdsa"]

	sig, err := Sign(priv, json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.True(t, Verify(priv.Public(), json.RawMessage(`{"a":1,"b":2}`), sig))
}

func TestSignNilPayload(t *testing.T) {
	priv := generateKeys(t)["rsa"]
	_, err := Sign(priv, nil)
	require.Error(t, err)
}

func TestParsePrivateKeyPEM(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pem     []byte
		wantErr bool
	}{
		{
			name: "pkcs8",
			pem:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
		},
		{
			name: "pkcs1 rsa",
			pem:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}),
		},
		{
			name: "sec1 ec",
			pem:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}),
		},
		{
			name:    "garbage",
			pem:     []byte("not a key"),
			wantErr: true,
		},
		{
			name:    "wrong block content",
			pem:     pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x01, 0x02}}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priv, err := ParsePrivateKeyPEM(tt.pem)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			sig, err := Sign(priv, "probe")
			require.NoError(t, err)
			assert.True(t, Verify(priv.Public(), "probe", sig))
		})
	}
}

func TestParsePublicKeyPEM(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix}))
	require.NoError(t, err)
	assert.Equal(t, "ES256", pub.Algorithm())

	priv, err := FromSigner(ecKey)
	require.NoError(t, err)
	sig, err := Sign(priv, "probe")
	require.NoError(t, err)
	assert.True(t, Verify(pub, "probe", sig))

	_, err = ParsePublicKeyPEM([]byte("garbage"))
	require.Error(t, err)
}

func TestFromConstructorsRejectUnsupported(t *testing.T) {
	_, err := FromSigner(nil)
	require.Error(t, err)

	_, err = FromPublic("not a key")
	require.Error(t, err)
}

func TestAlgorithm(t *testing.T) {
	all := generateKeys(t)
	assert.Equal(t, "RS256", all["rsa"].Algorithm())
	assert.Equal(t, "ES256", all["ecdsa"].Algorithm())
	assert.Equal(t, "EdDSA", all["ed25519"].Algorithm())
}
