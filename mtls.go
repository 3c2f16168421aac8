package trustbroker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// NewMTLSHTTPClient builds an *http.Client whose transport presents the
// workload's X.509 SVID and validates the peer's, for deployments where the
// broker sits behind a SPIFFE mesh. socketPath addresses the Workload API,
// e.g. "unix:///run/spire/sockets/agent.sock". A nil authorizer accepts any
// peer SVID. The returned closer releases the SVID source and must be closed
// after the client is no longer used.
func NewMTLSHTTPClient(ctx context.Context, socketPath string, authorizer tlsconfig.Authorizer, timeout time.Duration) (*http.Client, io.Closer, error) {
	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: workload api: %v", ErrConnection, err)
	}
	if authorizer == nil {
		authorizer = tlsconfig.AuthorizeAny()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsconfig.MTLSClientConfig(source, source, authorizer),
		},
	}
	return client, source, nil
}
