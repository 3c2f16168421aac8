package trustbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// platformAlgorithms are the signature algorithms the broker platform is
// allowed to sign with.
var platformAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256, jose.EdDSA}

// AccessTokenInfo is the subset of broker-issued access token claims the
// client inspects before contacting a provider. Tokens are inspected, not
// validated: the provider is the party that verifies them.
type AccessTokenInfo struct {
	Subject   string
	IssuedAt  time.Time // zero when absent
	ExpiresAt time.Time // zero when absent
}

// Expired reports whether the token carried an expiry that has passed.
func (i *AccessTokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// InspectAccessToken decodes a broker-issued access token in JWT form without
// verifying it. Opaque (non-JWT) tokens yield an error and should be sent to
// the provider unchanged.
func InspectAccessToken(token string) (*AccessTokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("trustbroker: access token is not a JWT: %w", err)
	}

	info := &AccessTokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// VerifyPlatformSignature checks a platform signature delivered as a compact
// JWS and returns its payload. The configured PlatformKey is used when
// present; otherwise the signing key is resolved by key id from the broker's
// JWKS endpoint. Errors wrap ErrVerification; they mean the signature could
// not be validated, whether because it is malformed, forged, or signed by an
// unknown key.
func (c *Client) VerifyPlatformSignature(ctx context.Context, platformSignature string) ([]byte, error) {
	if platformSignature == "" {
		return nil, fmt.Errorf("%w: empty platform signature", ErrVerification)
	}

	jws, err := jose.ParseSigned(platformSignature, platformAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: parse platform signature: %v", ErrVerification, err)
	}

	if c.config.PlatformKey != nil {
		payload, err := jws.Verify(c.config.PlatformKey.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: platform signature did not verify", ErrVerification)
		}
		return payload, nil
	}

	if len(jws.Signatures) == 0 {
		return nil, fmt.Errorf("%w: platform signature carries no signatures", ErrVerification)
	}
	kid := jws.Signatures[0].Header.KeyID
	key, err := c.platformKeys.get(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve platform key: %v", ErrVerification, err)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("%w: platform signature did not verify", ErrVerification)
	}
	return payload, nil
}
