// Command requester runs one consent-gated data exchange end to end: it
// creates a request with the broker, waits for the owner's decision, fetches
// the approved data from the provider, and prints it to stdout.
//
// Configuration is taken from the environment:
//
//	TRUSTBROKER_CLIENT_ID         requester identity (required)
//	TRUSTBROKER_PRIVATE_KEY_FILE  PEM-encoded signing key (required)
//	TRUSTBROKER_URL               broker base URL
//	TRUSTBROKER_PROVIDER_ID       provider to request from (required)
//	TRUSTBROKER_OWNER_ID          data owner's external id (required)
//	TRUSTBROKER_SCHEMA_ID         data schema to request (required)
//	TRUSTBROKER_EXPIRES_IN        request validity in seconds
//	TRUSTBROKER_POLL_INTERVAL_MS  consent poll cadence
//	TRUSTBROKER_POLL_TIMEOUT_MS   consent poll deadline
//	TRUSTBROKER_SIGNED_BODY       force signed-body fetch mode
//	PLATFORM_PUBKEY_FILE          static platform verification key (PEM)
//	PROVIDER_PUBKEY_FILE          provider response verification key (PEM)
//	METRICS_LISTEN_ADDR           expose /metrics when set
//	SPIFFE_ENDPOINT_SOCKET        use SPIFFE mTLS for all outbound calls
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	trustbroker "github.com/ENDragnee/trustbroker-client"
	"github.com/ENDragnee/trustbroker-client/keys"
)

func envInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s=%q: %v", name, v, err)
	}
	return n
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s=%q: %v", name, v, err)
	}
	return b
}

func loadPublicKey(name string) *keys.PublicKey {
	path := strings.TrimSpace(os.Getenv(name))
	if path == "" {
		return nil
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", name, err)
	}
	pub, err := keys.ParsePublicKeyPEM(pemBytes)
	if err != nil {
		log.Fatalf("parse %s: %v", name, err)
	}
	return pub
}

func main() {
	clientID := strings.TrimSpace(os.Getenv("TRUSTBROKER_CLIENT_ID"))
	if clientID == "" {
		log.Fatal("TRUSTBROKER_CLIENT_ID is required")
	}
	keyFile := strings.TrimSpace(os.Getenv("TRUSTBROKER_PRIVATE_KEY_FILE"))
	if keyFile == "" {
		log.Fatal("TRUSTBROKER_PRIVATE_KEY_FILE is required")
	}
	providerID := strings.TrimSpace(os.Getenv("TRUSTBROKER_PROVIDER_ID"))
	ownerID := strings.TrimSpace(os.Getenv("TRUSTBROKER_OWNER_ID"))
	schemaID := strings.TrimSpace(os.Getenv("TRUSTBROKER_SCHEMA_ID"))
	if providerID == "" || ownerID == "" || schemaID == "" {
		log.Fatal("TRUSTBROKER_PROVIDER_ID, TRUSTBROKER_OWNER_ID and TRUSTBROKER_SCHEMA_ID are required")
	}

	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		log.Fatalf("read TRUSTBROKER_PRIVATE_KEY_FILE: %v", err)
	}
	priv, err := keys.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		log.Fatalf("parse TRUSTBROKER_PRIVATE_KEY_FILE: %v", err)
	}

	ctx := context.Background()

	config := trustbroker.DefaultConfig()
	config.ClientID = clientID
	config.PrivateKey = priv
	config.PublicKey = priv.Public()
	config.PlatformKey = loadPublicKey("PLATFORM_PUBKEY_FILE")
	config.ProviderKey = loadPublicKey("PROVIDER_PUBKEY_FILE")
	config.Logger = trustbroker.NewSlogLogger(slog.Default())
	if url := strings.TrimSpace(os.Getenv("TRUSTBROKER_URL")); url != "" {
		config.BrokerURL = url
	}
	if ms := envInt64("TRUSTBROKER_POLL_INTERVAL_MS", 0); ms > 0 {
		config.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt64("TRUSTBROKER_POLL_TIMEOUT_MS", 0); ms > 0 {
		config.PollTimeout = time.Duration(ms) * time.Millisecond
	}

	if socket := strings.TrimSpace(os.Getenv("SPIFFE_ENDPOINT_SOCKET")); socket != "" {
		httpClient, closer, err := trustbroker.NewMTLSHTTPClient(ctx, socket, nil, config.Timeout)
		if err != nil {
			log.Fatalf("failed to set up SPIFFE mTLS: %v", err)
		}
		defer closer.Close()
		config.HTTPClient = httpClient
		log.Printf("outbound calls use SPIFFE mTLS via %s", socket)
	}

	if addr := strings.TrimSpace(os.Getenv("METRICS_LISTEN_ADDR")); addr != "" {
		reg := prometheus.NewRegistry()
		config.Metrics = trustbroker.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("WARN: metrics server stopped: %v", err)
			}
		}()
	}

	client, err := trustbroker.NewClient(config)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	input := trustbroker.CreateRequestInput{
		ProviderID:      providerID,
		OwnerExternalID: ownerID,
		SchemaID:        schemaID,
		ExpiresIn:       int(envInt64("TRUSTBROKER_EXPIRES_IN", 0)),
	}

	log.Printf("requesting %s from %s for owner %s", schemaID, providerID, ownerID)
	grant, err := client.RequestConsent(ctx, input, &trustbroker.PollOptions{
		Observer: func(s trustbroker.Status) {
			log.Printf("request status: %s", s)
		},
	})
	if err != nil {
		log.Fatalf("consent not granted: %v", err)
	}
	log.Printf("consent granted, provider endpoint %s", grant.ProviderEndpoint)

	if grant.PlatformSignature != "" {
		if payload, err := client.VerifyPlatformSignature(ctx, grant.PlatformSignature); err != nil {
			log.Printf("WARN: platform signature did not verify: %v", err)
		} else {
			log.Printf("platform signature verified, %d byte payload", len(payload))
		}
	}

	data, err := client.FetchData(ctx, grant, trustbroker.FetchOptions{
		SignedBody: envBool("TRUSTBROKER_SIGNED_BODY", false),
	})
	if err != nil {
		log.Fatalf("failed to fetch data: %v", err)
	}

	log.Printf("received %d bytes for request %s", len(data.Data), data.RequestID)
	os.Stdout.Write(data.Data)
	os.Stdout.Write([]byte("\n"))
}
