package trustbroker

import (
	"context"
	"fmt"
	"time"
)

// PollOptions controls a single consent poll session. The zero value falls
// back to the client's configured interval and timeout.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// Observer, when set, is invoked synchronously with each status the
	// broker reports, including the terminal one. It carries no control-flow
	// weight; the returned error alone decides the outcome.
	Observer func(Status)
}

// PollForConsent polls the broker until the request reaches a terminal state,
// the session deadline passes, or ctx is cancelled.
//
// Each iteration checks cancellation first, then queries the broker. A
// connectivity fault or 5xx is retried on the next cycle; a 4xx is a fatal
// API_ERROR. An approval missing its deliverables is INVALID_RESPONSE, the
// other terminal statuses surface as typed errors carrying the broker's
// failure reason, and a status outside the known set is UNKNOWN_STATUS —
// schema drift is never looped on. The sleep between queries is cut short by
// cancellation and never extends past the deadline, so the session ends within
// the deadline plus one query round trip.
func (c *Client) PollForConsent(ctx context.Context, requestID string, opts *PollOptions) (*ConsentGrant, error) {
	if requestID == "" {
		return nil, fmt.Errorf("trustbroker: request id is required")
	}

	interval := c.config.PollInterval
	timeout := c.config.PollTimeout
	var observer func(Status)
	if opts != nil {
		if opts.Interval > 0 {
			interval = opts.Interval
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		observer = opts.Observer
	}

	start := time.Now()
	deadline := start.Add(timeout)
	finish := func(outcome string) {
		c.metrics.observePoll(outcome, time.Since(start))
	}

	for {
		if err := ctx.Err(); err != nil {
			finish(string(CodeAborted))
			return nil, &RequestError{Code: CodeAborted, Reason: err.Error()}
		}

		rec, err := c.RequestToken(ctx, requestID)
		switch {
		case err != nil && isTransient(err):
			c.logger.Warn("transient broker fault while polling", "requestId", requestID, "error", err)
		case err != nil:
			finish(string(CodeAPIError))
			return nil, err
		default:
			if observer != nil {
				observer(rec.Status)
			}
			switch {
			case rec.Status == StatusApproved:
				// An approval without deliverables is a broker-side
				// contract violation, not something to retry.
				if rec.ProviderEndpoint == "" || (rec.AccessToken == "" && rec.PlatformSignature == "") {
					finish(string(CodeInvalidResponse))
					return nil, &RequestError{
						Code:   CodeInvalidResponse,
						Status: rec.Status,
						Reason: "approved request is missing provider endpoint or access credentials",
					}
				}
				finish(string(StatusApproved))
				c.logger.Info("consent granted", "requestId", requestID)
				return &ConsentGrant{
					RequestID:         requestID,
					ProviderEndpoint:  rec.ProviderEndpoint,
					AccessToken:       rec.AccessToken,
					PlatformSignature: rec.PlatformSignature,
				}, nil
			case rec.Status.Terminal():
				code := terminalCode(rec.Status)
				finish(string(code))
				return nil, &RequestError{Code: code, Status: rec.Status, Reason: rec.FailureReason}
			case rec.Status.InFlight():
				c.logger.Debug("consent pending", "requestId", requestID, "status", rec.Status)
			default:
				finish(string(CodeUnknownStatus))
				return nil, &RequestError{
					Code:   CodeUnknownStatus,
					Status: rec.Status,
					Reason: fmt.Sprintf("broker reported unrecognized status %q", rec.Status),
				}
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			finish(string(CodeTimedOut))
			return nil, &RequestError{
				Code:   CodeTimedOut,
				Reason: fmt.Sprintf("no terminal status within %s", timeout),
			}
		}

		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			finish(string(CodeAborted))
			return nil, &RequestError{Code: CodeAborted, Reason: ctx.Err().Error()}
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			finish(string(CodeTimedOut))
			return nil, &RequestError{
				Code:   CodeTimedOut,
				Reason: fmt.Sprintf("no terminal status within %s", timeout),
			}
		}
	}
}
