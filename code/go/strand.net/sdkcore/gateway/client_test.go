package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/dev"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
)

func init() {
	logging.Logger = zap.NewNop()
}

func testIdentity(b byte) encryption.PrivateKey {
	var seed [32]byte
	seed[0] = b
	return encryption.KeyFromSeed(&seed, 0)
}

func testMeta() gateway.AppMeta {
	return gateway.AppMeta{
		Name:       "test app",
		ServiceURL: "https://app.test",
	}
}

func testClient(t *testing.T, baseURL string, opts ...gateway.Option) *gateway.Client {
	t.Helper()
	opts = append([]gateway.Option{gateway.WithLogger(zap.NewNop())}, opts...)
	c, err := gateway.New(baseURL, testIdentity(1), opts...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := gateway.New("not a url", testIdentity(1))
	require.True(t, errors.Is(err, common.ErrInvalidConfig))

	_, err = gateway.New("", testIdentity(1))
	require.True(t, errors.Is(err, common.ErrInvalidConfig))

	_, err = gateway.New("https://gw.test", nil)
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestRegisterInvalidMetaStaysLocal(t *testing.T) {
	srv, g := dev.NewGatewayServer()
	defer srv.Close()
	c := testClient(t, srv.URL)

	_, err := c.Register(context.Background(), gateway.AppMeta{Name: "no service url"})
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
	require.Equal(t, 0, g.Requests())
	require.Equal(t, gateway.Unregistered, c.State())
}

func TestAwaitApprovalAfterPolls(t *testing.T) {
	srv, _ := dev.NewGatewayServer(dev.ApprovalAfterPolls(3))
	defer srv.Close()

	const interval = 25 * time.Millisecond
	c := testClient(t, srv.URL)

	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	require.Equal(t, gateway.StatePending, ticket.State)
	require.Equal(t, gateway.PendingApproval, c.State())

	start := time.Now()
	state, err := c.AwaitApproval(context.Background(), ticket, interval)
	require.NoError(t, err)
	require.Equal(t, gateway.StateApproved, state)
	require.Equal(t, gateway.Connected, c.State())

	// Three pending polls plus the approving one, each preceded by a wait.
	require.GreaterOrEqual(t, time.Since(start), 4*interval)
}

func TestRegisterApprovedShortCircuits(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithAutoApprove())
	defer srv.Close()
	c := testClient(t, srv.URL)

	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	require.Equal(t, gateway.StateApproved, ticket.State)
	require.Equal(t, gateway.Connected, c.State())

	// A terminal ticket needs no polling at all.
	state, err := c.AwaitApproval(context.Background(), ticket, time.Hour)
	require.NoError(t, err)
	require.Equal(t, gateway.StateApproved, state)

	// Registering the same identity again is safe and keeps the standing.
	again, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	require.Equal(t, gateway.StateApproved, again.State)
	require.Equal(t, 2, g.RegisterCount())
	require.Equal(t, gateway.StateApproved, g.AppState(c.PublicKey()))
}

func TestAwaitApprovalRejected(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithApprovalScript(
		gateway.StatePending, gateway.StateRejected))
	defer srv.Close()
	c := testClient(t, srv.URL)

	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)

	state, err := c.AwaitApproval(context.Background(), ticket, 5*time.Millisecond)
	require.Equal(t, gateway.StateRejected, state)
	require.True(t, errors.Is(err, common.ErrApprovalRejected))
	require.Equal(t, gateway.Rejected, c.State())

	// Terminal states stick no matter how often they are polled.
	for i := 0; i < 3; i++ {
		got, err := c.Poll(context.Background(), ticket.StatusURL)
		require.NoError(t, err)
		require.Equal(t, gateway.StateRejected, got)
	}
	require.Equal(t, gateway.StateRejected, g.AppState(c.PublicKey()))
}

func TestAwaitApprovalCancelled(t *testing.T) {
	srv, _ := dev.NewGatewayServer(dev.WithApprovalScript(gateway.StatePending))
	defer srv.Close()
	c := testClient(t, srv.URL)

	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	state, err := c.AwaitApproval(ctx, ticket, 30*time.Millisecond)
	require.Equal(t, gateway.StatePending, state)
	require.True(t, errors.Is(err, common.ErrCancelled))
}

func TestTransientFailuresRetried(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithAutoApprove())
	defer srv.Close()
	c := testClient(t, srv.URL, gateway.WithRetries(2))

	_, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	g.AddHost(testDescriptor(7))

	before := g.Requests()
	g.FailNext(1)
	start := time.Now()
	hs, err := c.RefreshHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 1)
	require.Equal(t, 2, g.Requests()-before)
	// One backoff step sits between the failure and the retry.
	require.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
}

func TestRetryBudgetExhausted(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithAutoApprove())
	defer srv.Close()
	c := testClient(t, srv.URL, gateway.WithRetries(1))

	_, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)

	before := g.Requests()
	g.FailNext(10)
	_, err = c.RefreshHosts(context.Background())
	require.True(t, errors.Is(err, common.ErrGatewayUnreachable))
	require.Equal(t, 2, g.Requests()-before)
}

func TestClientErrorsArePermanent(t *testing.T) {
	srv, g := dev.NewGatewayServer()
	defer srv.Close()
	c := testClient(t, srv.URL, gateway.WithRetries(3))

	// Polling an identity the gateway never saw answers 404; the client
	// must not burn retries on it and must carry the body verbatim.
	before := g.Requests()
	_, err := c.Poll(context.Background(), srv.URL+"/v1/apps/status/"+testIdentity(9).Public().String())
	require.True(t, errors.Is(err, common.ErrGatewayRequest))
	require.Contains(t, err.Error(), "404")
	require.Contains(t, err.Error(), "unknown_app")
	require.Equal(t, 1, g.Requests()-before)
}

func TestSignedRequestsAndApprovalGate(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithSignatureChecks())
	defer srv.Close()
	c := testClient(t, srv.URL)

	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	require.Equal(t, gateway.StatePending, ticket.State)

	// The host listing is approval gated.
	_, err = c.RefreshHosts(context.Background())
	require.True(t, errors.Is(err, common.ErrApprovalPending))

	g.AddHost(testDescriptor(3))
	g.Approve(c.PublicKey())
	hs, err := c.RefreshHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 1)

	g.Reject(c.PublicKey())
	_, err = c.RefreshHosts(context.Background())
	require.True(t, errors.Is(err, common.ErrApprovalRejected))
}

func TestHostsServedFromCache(t *testing.T) {
	srv, g := dev.NewGatewayServer(dev.WithAutoApprove())
	defer srv.Close()
	c := testClient(t, srv.URL, gateway.WithHostsTTL(time.Hour))

	_, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)

	g.AddHost(testDescriptor(1))
	hs, err := c.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 1)

	// Within the TTL the snapshot is served from cache.
	g.AddHost(testDescriptor(2))
	hs, err = c.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 1)

	// An explicit refresh bypasses it.
	hs, err = c.RefreshHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 2)
}

func TestRateLimitedRequestsRetry(t *testing.T) {
	srv, _ := dev.NewGatewayServer(dev.WithAutoApprove(), dev.WithRateLimit(1))
	defer srv.Close()
	c := testClient(t, srv.URL, gateway.WithRetries(3))

	_, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)

	// The register consumed this second's token; the next request rides
	// on 429 retries until the limiter refills.
	_, err = c.RefreshHosts(context.Background())
	require.NoError(t, err)
}

func TestPollRejectsUnknownState(t *testing.T) {
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"limbo"}`)) //nolint:errcheck
	}))
	defer raw.Close()

	c := testClient(t, raw.URL)
	_, err := c.Poll(context.Background(), raw.URL+"/v1/apps/status/x")
	require.True(t, errors.Is(err, common.ErrGatewayRequest))
}

func TestApprovalDecidedAtEndpoint(t *testing.T) {
	srv, _ := dev.NewGatewayServer()
	defer srv.Close()

	c := testClient(t, srv.URL, gateway.WithPollInterval(20*time.Millisecond))
	ticket, err := c.Register(context.Background(), testMeta())
	require.NoError(t, err)
	require.Equal(t, gateway.StatePending, ticket.State)

	// The approval page shows the registration under review.
	resp, err := http.Get(ticket.ApprovalURL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The human decides while the client is polling.
	go func() {
		time.Sleep(60 * time.Millisecond)
		resp, err := http.Post(ticket.ApprovalURL, "application/json",
			strings.NewReader(`{"decision":"approve"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	state, err := c.AwaitApproval(context.Background(), ticket, 0)
	require.NoError(t, err)
	require.Equal(t, gateway.StateApproved, state)
	require.Equal(t, gateway.Connected, c.State())
}

func testDescriptor(b byte) gateway.HostDescriptor {
	var pk encryption.PublicKey
	pk[0] = b
	return gateway.HostDescriptor{
		PublicKey:  pk,
		NetAddress: "127.0.0.1:0",
		Version:    1,
	}
}
