package trustbroker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is a broker-reported request status. The broker owns the status; the
// client only ever reads it.
type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusAwaitingConsent Status = "AWAITING_CONSENT"
	StatusApproved        Status = "APPROVED"
	StatusDenied          Status = "DENIED"
	StatusExpired         Status = "EXPIRED"
	StatusFailed          Status = "FAILED"
)

// Terminal reports whether the broker will never change the status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// InFlight reports whether s is a known non-terminal status.
func (s Status) InFlight() bool {
	switch s {
	case StatusInitiated, StatusAwaitingConsent:
		return true
	}
	return false
}

// RequestRecord is the broker's view of a data exchange request. The optional
// fields are only populated once the request is approved.
type RequestRecord struct {
	RequestID         string `json:"requestId"`
	Status            Status `json:"status"`
	ProviderEndpoint  string `json:"providerEndpoint,omitempty"`
	AccessToken       string `json:"accessToken,omitempty"`
	PlatformSignature string `json:"platformSignature,omitempty"`
	FailureReason     string `json:"failureReason,omitempty"`
}

// CreateRequestInput describes a new data exchange request.
type CreateRequestInput struct {
	ProviderID      string `json:"providerId"`
	OwnerExternalID string `json:"ownerExternalId"`
	SchemaID        string `json:"schemaId"`
	ExpiresIn       int    `json:"expiresIn,omitempty"` // seconds, broker default when zero
}

// Validate checks the input for structural validity before it is sent.
func (in CreateRequestInput) Validate() error {
	if in.ProviderID == "" {
		return errors.New("trustbroker: provider id is required")
	}
	if in.OwnerExternalID == "" {
		return errors.New("trustbroker: owner external id is required")
	}
	if in.SchemaID == "" {
		return errors.New("trustbroker: schema id is required")
	}
	if in.ExpiresIn < 0 {
		return fmt.Errorf("trustbroker: expiresIn must not be negative, got %d", in.ExpiresIn)
	}
	return nil
}

// SignatureSubmission is the body of the requester-signature endpoint.
type SignatureSubmission struct {
	ProviderID         string `json:"providerId"`
	ProviderSignature  string `json:"providerSignature"`
	PlatformSignature  string `json:"platformSignature"`
	RequesterSignature string `json:"requesterSignature"`
}

// ConsentGrant is the approved outcome of a consent poll: everything the
// requester needs to fetch the data from the provider.
type ConsentGrant struct {
	RequestID         string
	ProviderEndpoint  string
	AccessToken       string
	PlatformSignature string
}

// DataResponse is the provider's reply to a data fetch.
type DataResponse struct {
	Signature string          `json:"signature"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}
