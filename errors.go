package trustbroker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable machine-readable code carried by RequestError. Callers
// branch on the code, never on message text.
type ErrorCode string

const (
	// CodeAPIError marks a structured error response from the broker.
	CodeAPIError ErrorCode = "API_ERROR"
	// CodeProviderError marks a structured error response from a provider.
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	// CodeAborted marks caller cancellation of a poll session.
	CodeAborted ErrorCode = "ABORTED"
	// CodeTimedOut marks a poll session that exceeded its deadline.
	CodeTimedOut ErrorCode = "TIMED_OUT"
	// CodeUnknownStatus marks a broker status outside the known set.
	CodeUnknownStatus ErrorCode = "UNKNOWN_STATUS"
	// CodeInvalidResponse marks a broker or provider response that violates
	// the contract, such as an approval without deliverables.
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"

	// Terminal broker statuses are surfaced verbatim as error codes.
	CodeConsentDenied  ErrorCode = "DENIED"
	CodeConsentExpired ErrorCode = "EXPIRED"
	CodeConsentFailed  ErrorCode = "FAILED"
)

// RequestError is the typed failure of a broker or provider operation.
type RequestError struct {
	Code ErrorCode
	// Status is set when the broker reported a terminal status.
	Status Status
	// Reason is the human-readable detail, when one was reported.
	Reason string
	// HTTPStatus is the transport status code, when the failure carried one.
	HTTPStatus int
}

func (e *RequestError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("trustbroker: %s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("trustbroker: %s", e.Code)
}

func terminalCode(s Status) ErrorCode {
	switch s {
	case StatusDenied:
		return CodeConsentDenied
	case StatusExpired:
		return CodeConsentExpired
	case StatusFailed:
		return CodeConsentFailed
	default:
		return CodeUnknownStatus
	}
}

// errorBody is the structured error shape brokers and providers return.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError classifies a non-2xx response into a RequestError.
func statusError(code ErrorCode, httpStatus int, body []byte) *RequestError {
	reason := fmt.Sprintf("request failed with status %d", httpStatus)
	var decoded errorBody
	if len(body) > 0 && json.Unmarshal(body, &decoded) == nil {
		if decoded.Error != "" {
			reason = decoded.Error
		} else if decoded.Message != "" {
			reason = decoded.Message
		}
	} else if len(body) > 0 {
		if s := strings.TrimSpace(string(body)); s != "" {
			reason = s
		}
	}
	return &RequestError{Code: code, Reason: reason, HTTPStatus: httpStatus}
}

// isTransient reports whether err is a connectivity-level fault or a 5xx the
// poll loop may retry. Client-classified 4xx responses are logically
// impossible to fix by retrying and are never transient.
func isTransient(err error) bool {
	if errors.Is(err, ErrConnection) {
		return true
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == CodeAPIError && re.HTTPStatus >= 500
	}
	return false
}
