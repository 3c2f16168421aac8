package trustbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ENDragnee/trustbroker-client/canonical"
	"github.com/ENDragnee/trustbroker-client/keys"
)

// Defaults applied by NewClient when the corresponding Config field is zero.
const (
	DefaultBrokerURL    = "https://broker.trustbroker.io"
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 2 * time.Minute
	DefaultTimeout      = 30 * time.Second
)

// Config holds the TrustBroker client configuration.
type Config struct {
	// ClientID is the requester identity sent as the Client-Id header on
	// every broker call. Required.
	ClientID string
	// PrivateKey signs every outbound request body. Required.
	PrivateKey *keys.PrivateKey
	// PublicKey enables local verification of the client's own signatures
	// via VerifyLocal. Optional.
	PublicKey *keys.PublicKey
	// PlatformKey verifies broker platform signatures. When absent, the
	// client resolves platform keys from the broker's JWKS endpoint.
	PlatformKey *keys.PublicKey
	// ProviderKey, when set, verifies the signature on provider data
	// responses. Optional.
	ProviderKey *keys.PublicKey
	// RequesterID is the identity sent to providers in signed-body mode.
	// Defaults to ClientID.
	RequesterID string

	BrokerURL    string        // Broker endpoint (default: DefaultBrokerURL)
	PollInterval time.Duration // Consent poll cadence (default: 3s)
	PollTimeout  time.Duration // Consent poll deadline (default: 120s)
	Timeout      time.Duration // Per-request HTTP timeout (default: 30s)
	HTTPClient   *http.Client  // Custom HTTP client (optional)

	Logger  Logger   // Optional; nil disables logging
	Metrics *Metrics // Optional; nil disables metrics
}

// DefaultConfig returns a Config with default values. ClientID and PrivateKey
// must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		BrokerURL:    DefaultBrokerURL,
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
		Timeout:      DefaultTimeout,
	}
}

// Client is the requester-side TrustBroker client.
type Client struct {
	config       Config
	httpClient   *http.Client
	logger       Logger
	metrics      *Metrics
	platformKeys *jwksCache
}

// NewClient creates a new TrustBroker client. Missing credentials are a fatal
// construction-time error; they are never read from ambient state later.
func NewClient(config Config) (*Client, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInitialization)
	}
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("%w: private key is required", ErrInitialization)
	}
	if config.BrokerURL == "" {
		config.BrokerURL = DefaultBrokerURL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequesterID == "" {
		config.RequesterID = config.ClientID
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Client{
		config:       config,
		httpClient:   httpClient,
		logger:       logger,
		metrics:      config.Metrics,
		platformKeys: newJWKSCache(config.BrokerURL+"/.well-known/jwks.json", httpClient, 5*time.Minute),
	}, nil
}

// do issues one authenticated broker call. It is the single choke point for
// outbound broker traffic: the body is marshalled to canonical JSON, signed,
// and sent byte-for-byte as signed, with the Client-Id header set
// unconditionally and the Signature header only when a body is present.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = canonical.Marshal(body)
		if err != nil {
			return fmt.Errorf("trustbroker: encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BrokerURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("trustbroker: create request: %w", err)
	}

	req.Header.Set("Client-Id", c.config.ClientID)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if len(payload) > 0 {
		sig, err := keys.Sign(c.config.PrivateKey, payload)
		if err != nil {
			// Never send an unsigned body.
			return fmt.Errorf("%w: %v", ErrSigning, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Signature", sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeRequest("broker", "connection_error")
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observeRequest("broker", "connection_error")
		return fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}

	if resp.StatusCode >= 400 {
		c.metrics.observeRequest("broker", fmt.Sprintf("http_%d", resp.StatusCode))
		apiErr := statusError(CodeAPIError, resp.StatusCode, respBody)
		c.logger.Debug("broker call failed", "method", method, "path", path, "status", resp.StatusCode, "reason", apiErr.Reason)
		return apiErr
	}
	c.metrics.observeRequest("broker", "ok")

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &RequestError{
				Code:       CodeInvalidResponse,
				Reason:     fmt.Sprintf("undecodable broker response: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
	}
	return nil
}

// CreateRequest initiates a data exchange request with the broker.
func (c *Client) CreateRequest(ctx context.Context, in CreateRequestInput) (*RequestRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var rec RequestRecord
	if err := c.do(ctx, http.MethodPost, "/requests", in, &rec); err != nil {
		return nil, err
	}
	if rec.RequestID == "" {
		return nil, &RequestError{Code: CodeInvalidResponse, Reason: "broker returned no request id"}
	}
	c.logger.Info("exchange request created", "requestId", rec.RequestID, "status", rec.Status)
	return &rec, nil
}

// RequestStatus reads the current state of a request.
func (c *Client) RequestStatus(ctx context.Context, requestID string) (*RequestRecord, error) {
	if requestID == "" {
		return nil, fmt.Errorf("trustbroker: request id is required")
	}
	var rec RequestRecord
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(requestID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RequestToken reads the current state of a request including the access
// deliverables once it is approved.
func (c *Client) RequestToken(ctx context.Context, requestID string) (*RequestRecord, error) {
	if requestID == "" {
		return nil, fmt.Errorf("trustbroker: request id is required")
	}
	var rec RequestRecord
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(requestID)+"/token", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SubmitRequesterSignature countersigns the platform signature for a request
// and submits the full signature set to the broker. The requester signature is
// computed over the platform signature text exactly as received.
func (c *Client) SubmitRequesterSignature(ctx context.Context, requestID, providerID, providerSignature, platformSignature string) (*RequestRecord, error) {
	if requestID == "" {
		return nil, fmt.Errorf("trustbroker: request id is required")
	}
	if platformSignature == "" {
		return nil, fmt.Errorf("trustbroker: platform signature is required")
	}

	requesterSig, err := keys.Sign(c.config.PrivateKey, platformSignature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	body := SignatureSubmission{
		ProviderID:         providerID,
		ProviderSignature:  providerSignature,
		PlatformSignature:  platformSignature,
		RequesterSignature: requesterSig,
	}
	var rec RequestRecord
	if err := c.do(ctx, http.MethodPost, "/requests/"+url.PathEscape(requestID)+"/requester-signature", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RequestConsent creates a request and polls it to a terminal outcome in one
// call. opts may be nil for the configured defaults.
func (c *Client) RequestConsent(ctx context.Context, in CreateRequestInput, opts *PollOptions) (*ConsentGrant, error) {
	rec, err := c.CreateRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	return c.PollForConsent(ctx, rec.RequestID, opts)
}

// FetchOptions configures a provider data fetch.
type FetchOptions struct {
	// SignedBody forces the signed-body deployment mode even when the grant
	// carries an access token.
	SignedBody bool
}

// providerFetchBase is the signed portion of a signed-body fetch.
type providerFetchBase struct {
	RequesterID       string `json:"requesterId"`
	PlatformSignature string `json:"platformSignature"`
	RequestID         string `json:"requestId"`
}

type providerFetchRequest struct {
	providerFetchBase
	Signature string `json:"signature"`
}

// FetchData retrieves the approved data directly from the provider, bypassing
// the broker. In bearer mode the broker-issued access token authenticates the
// call; in signed-body mode the client signs the canonical fetch payload with
// its own key. An access token in JWT form is checked for expiry before use;
// opaque tokens are sent as-is.
func (c *Client) FetchData(ctx context.Context, grant *ConsentGrant, opts FetchOptions) (*DataResponse, error) {
	if grant == nil || grant.ProviderEndpoint == "" {
		return nil, fmt.Errorf("trustbroker: grant has no provider endpoint")
	}

	bearer := grant.AccessToken != "" && !opts.SignedBody

	var payload []byte
	var err error
	if bearer {
		if info, infoErr := InspectAccessToken(grant.AccessToken); infoErr == nil && info.Expired(time.Now()) {
			return nil, fmt.Errorf("%w: expired at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
		}
		payload, err = canonical.Marshal(map[string]string{"requestId": grant.RequestID})
		if err != nil {
			return nil, fmt.Errorf("trustbroker: encode fetch body: %w", err)
		}
	} else {
		base := providerFetchBase{
			RequesterID:       c.config.RequesterID,
			PlatformSignature: grant.PlatformSignature,
			RequestID:         grant.RequestID,
		}
		canonicalBase, err := canonical.Marshal(base)
		if err != nil {
			return nil, fmt.Errorf("trustbroker: encode fetch body: %w", err)
		}
		sig, err := keys.Sign(c.config.PrivateKey, canonicalBase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSigning, err)
		}
		payload, err = canonical.Marshal(providerFetchRequest{providerFetchBase: base, Signature: sig})
		if err != nil {
			return nil, fmt.Errorf("trustbroker: encode fetch body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, grant.ProviderEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("trustbroker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer {
		req.Header.Set("Authorization", "Bearer "+grant.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeRequest("provider", "connection_error")
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observeRequest("provider", "connection_error")
		return nil, fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}

	if resp.StatusCode >= 400 {
		c.metrics.observeRequest("provider", fmt.Sprintf("http_%d", resp.StatusCode))
		return nil, statusError(CodeProviderError, resp.StatusCode, respBody)
	}
	c.metrics.observeRequest("provider", "ok")

	var data DataResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, &RequestError{
			Code:       CodeInvalidResponse,
			Reason:     fmt.Sprintf("undecodable provider response: %v", err),
			HTTPStatus: resp.StatusCode,
		}
	}

	if c.config.ProviderKey != nil {
		if data.Signature == "" {
			c.logger.Warn("provider key configured but response carries no signature", "requestId", grant.RequestID)
		} else if !keys.Verify(c.config.ProviderKey, json.RawMessage(data.Data), data.Signature) {
			return nil, &RequestError{
				Code:   CodeInvalidResponse,
				Reason: "provider response signature does not verify",
			}
		}
	}
	return &data, nil
}

// VerifyLocal verifies a signature produced by this client against its own
// public key. It returns ErrVerification when no public key was configured;
// a false result with a nil error means the signature did not verify.
func (c *Client) VerifyLocal(payload any, signature string) (bool, error) {
	if c.config.PublicKey == nil {
		return false, fmt.Errorf("%w: no public key configured", ErrVerification)
	}
	return keys.Verify(c.config.PublicKey, payload, signature), nil
}

// Close cleans up client resources.
func (c *Client) Close() error {
	// Currently no cleanup needed
	return nil
}
