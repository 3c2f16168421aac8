// Package keys holds the asymmetric key material a requester uses to sign
// broker requests and to verify broker and provider signatures.
//
// Key material is parsed once, at construction time; a malformed key is a
// construction-time error. Parsed keys are immutable and safe for concurrent
// use.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/ENDragnee/trustbroker-client/canonical"
)

// PrivateKey is an opaque signing capability backed by an RSA, ECDSA, or
// Ed25519 private key.
type PrivateKey struct {
	signer crypto.Signer
}

// PublicKey is an opaque verification capability for the same algorithms.
type PublicKey struct {
	key crypto.PublicKey
}

// ParsePrivateKeyPEM parses PEM-encoded private key material. PKCS#8, PKCS#1
// (RSA), and SEC 1 (EC) encodings are accepted.
func ParsePrivateKeyPEM(pemBytes []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("keys: failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return fromAny(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return fromAny(key)
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return fromAny(key)
	}
	return nil, errors.New("keys: unrecognized private key encoding")
}

// ParsePublicKeyPEM parses PEM-encoded public key material. PKIX public keys
// and X.509 certificates are accepted.
func ParsePublicKeyPEM(pemBytes []byte) (*PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("keys: failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some deployments hand out the key in certificate form.
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("keys: failed to parse public key: %w", err)
		}
		pub = cert.PublicKey
	}
	return FromPublic(pub)
}

// FromSigner wraps an already materialized private key.
func FromSigner(s crypto.Signer) (*PrivateKey, error) {
	if s == nil {
		return nil, errors.New("keys: nil signer")
	}
	switch s.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
		return &PrivateKey{signer: s}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported private key type: %T", s)
	}
}

// FromPublic wraps an already materialized public key.
func FromPublic(k crypto.PublicKey) (*PublicKey, error) {
	switch k.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return &PublicKey{key: k}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported public key type: %T", k)
	}
}

func fromAny(key any) (*PrivateKey, error) {
	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("keys: key type %T cannot sign", key)
	}
	return FromSigner(s)
}

// Public returns the verification half of the key pair.
func (p *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: p.signer.Public()}
}

// Algorithm returns the JOSE-style algorithm identifier for the key.
func (p *PrivateKey) Algorithm() string {
	return algorithmOf(p.signer.Public())
}

// Algorithm returns the JOSE-style algorithm identifier for the key.
func (p *PublicKey) Algorithm() string {
	return algorithmOf(p.key)
}

// Key exposes the underlying crypto.PublicKey for interoperability with JOSE
// libraries.
func (p *PublicKey) Key() crypto.PublicKey {
	return p.key
}

func algorithmOf(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	case ed25519.PublicKey:
		return "EdDSA"
	default:
		return ""
	}
}

// Sign produces a base64-encoded signature over the canonical form of payload.
// Structured payloads are canonicalized; string and []byte payloads are signed
// as-is, and json.RawMessage is canonicalized as pre-serialized JSON. RSA keys
// sign SHA-256 digests with PKCS#1 v1.5, ECDSA keys with ASN.1-encoded
// signatures, Ed25519 keys over the raw message.
//
// Sign never returns a partial signature: any canonicalization or primitive
// failure yields an error and an empty result.
func Sign(priv *PrivateKey, payload any) (string, error) {
	if priv == nil {
		return "", errors.New("keys: nil private key")
	}
	data, err := signingBytes(payload)
	if err != nil {
		return "", err
	}

	var sig []byte
	if _, ok := priv.signer.(ed25519.PrivateKey); ok {
		sig, err = priv.signer.Sign(rand.Reader, data, crypto.Hash(0))
	} else {
		sum := sha256.Sum256(data)
		sig, err = priv.signer.Sign(rand.Reader, sum[:], crypto.SHA256)
	}
	if err != nil {
		return "", fmt.Errorf("keys: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether sigB64 is a valid signature over the canonical form
// of payload under pub. It returns false for a cryptographic mismatch, a
// malformed signature encoding, or a payload that cannot be canonicalized;
// unusable key material is surfaced earlier, when the key is parsed. Callers
// must treat false as "signature did not verify", never as a setup error.
func Verify(pub *PublicKey, payload any, sigB64 string) bool {
	if pub == nil {
		return false
	}
	data, err := signingBytes(payload)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	switch k := pub.key.(type) {
	case *rsa.PublicKey:
		sum := sha256.Sum256(data)
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, sum[:], sig) == nil
	case *ecdsa.PublicKey:
		sum := sha256.Sum256(data)
		return ecdsa.VerifyASN1(k, sum[:], sig)
	case ed25519.PublicKey:
		return ed25519.Verify(k, data, sig)
	default:
		return false
	}
}

func signingBytes(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, errors.New("keys: nil payload")
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return canonical.Transform(p)
	default:
		return canonical.Marshal(p)
	}
}
