// Package trustbroker provides the requester-side Go client for the
// TrustBroker data exchange platform.
//
// A requester asks the broker to authorize access to data held by a provider,
// the broker collects the data owner's consent out of band, and once the
// request is approved the requester fetches the data directly from the
// provider using the credentials the broker issued. Every outbound broker call
// is stamped with the requester's identity and, when it carries a body, a
// signature over the canonical form of that body.
//
// # Quick Start
//
//	priv, err := keys.ParsePrivateKeyPEM(pemBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := trustbroker.NewClient(trustbroker.Config{
//	    ClientID:   "req_9f2c81",
//	    PrivateKey: priv,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	grant, err := client.RequestConsent(ctx, trustbroker.CreateRequestInput{
//	    ProviderID:      "prov_acme_bank",
//	    OwnerExternalID: "owner-4411",
//	    SchemaID:        "account-statements.v1",
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	data, err := client.FetchData(ctx, grant, trustbroker.FetchOptions{})
package trustbroker

import "errors"

// Version is the SDK version.
const Version = "0.1.0"

// Common errors returned by the SDK.
var (
	ErrInitialization = errors.New("trustbroker: invalid client configuration")
	ErrSigning        = errors.New("trustbroker: request signing failed")
	ErrVerification   = errors.New("trustbroker: signature verification unavailable")
	ErrConnection     = errors.New("trustbroker: connection failed")
	ErrTokenExpired   = errors.New("trustbroker: access token has expired")
)
