// Package gateway implements the application side of the gateway handshake:
// registration, approval polling and the authenticated host listing. The
// gateway is the source of truth for the current host set; everything below
// it (dialer, object pipeline) works off snapshots fetched here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0chain/errors"
	"go.uber.org/zap"

	"github.com/strandnet/strand/code/go/strand.net/core/cache"
	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
)

// Gateway endpoints understood by this client.
const (
	RegisterPath = "/v1/apps/register"
	HostsPath    = "/v1/hosts"
)

// Defaults. Overridable per client through options.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 4
	DefaultHostsTTL       = time.Minute

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	hostsCacheKey = "hosts"
)

// Client talks to one gateway on behalf of one application identity. It is
// safe for concurrent use.
type Client struct {
	baseURL *url.URL
	key     encryption.PrivateKey
	httpc   *http.Client
	log     *zap.Logger

	pollInterval time.Duration
	maxRetries   int

	hostsCache *cache.TTL

	mu     sync.Mutex
	state  ConnState
	ticket *ApprovalTicket
}

// Option tweaks a Client at construction.
type Option func(*Client)

// WithLogger routes the client's logs through log instead of the global
// logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient substitutes the transport, mostly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithPollInterval sets the default delay between approval polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetries bounds how often transient gateway failures are retried per
// request.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithHostsTTL bounds how long a fetched host set is served from cache.
func WithHostsTTL(ttl time.Duration) Option {
	return func(c *Client) { c.hostsCache = cache.NewTTLCache(ttl) }
}

// New creates a client for the gateway at baseURL, authenticating every
// request with key.
func New(baseURL string, key encryption.PrivateKey, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Throw(common.ErrInvalidConfig, "malformed gateway url "+baseURL)
	}
	if len(key) == 0 {
		return nil, errors.Throw(common.ErrInvalidConfig, "application key is required")
	}

	c := &Client{
		baseURL:      u,
		key:          key,
		httpc:        &http.Client{Timeout: DefaultRequestTimeout},
		pollInterval: DefaultPollInterval,
		maxRetries:   DefaultMaxRetries,
		state:        Unregistered,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.Logger
	}
	if c.hostsCache == nil {
		c.hostsCache = cache.NewTTLCache(DefaultHostsTTL)
	}
	return c, nil
}

// PublicKey returns the application identity the client signs with.
func (c *Client) PublicKey() encryption.PublicKey {
	return c.key.Public()
}

// State returns the client's view of the handshake state machine.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ticket returns the approval ticket from the latest Register call, or nil.
func (c *Client) Ticket() *ApprovalTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return nil
	}
	t := *c.ticket
	return &t
}

// Register submits the application for approval. Registering an identity
// the gateway has already approved short-circuits: the returned ticket
// carries StateApproved and the client moves straight to Connected.
// Rejected and expired identities are re-submitted with the fresh metadata.
func (c *Client) Register(ctx context.Context, meta AppMeta) (*ApprovalTicket, error) {
	if err := meta.Validate(); err != nil {
		return nil, errors.Wrap(err, common.ErrInvalidConfig)
	}

	var ticket ApprovalTicket
	err := c.do(ctx, http.MethodPost, c.endpoint(RegisterPath), meta, &ticket)
	if err != nil {
		return nil, err
	}
	if ticket.State == "" {
		ticket.State = StatePending
	}

	c.mu.Lock()
	c.ticket = &ticket
	c.state = connState(ticket.State)
	c.mu.Unlock()

	c.log.Info("registered application with gateway",
		zap.String("app", meta.Name),
		zap.String("state", string(ticket.State)),
		zap.String("approval_url", ticket.ApprovalURL))
	return &ticket, nil
}

// Poll fetches the current state of an approval ticket. It has no side
// effects on the gateway and may be called as often as the caller likes.
func (c *Client) Poll(ctx context.Context, statusURL string) (ApprovalState, error) {
	var out struct {
		State ApprovalState `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, statusURL, nil, &out); err != nil {
		return "", err
	}
	switch out.State {
	case StatePending, StateApproved, StateRejected, StateExpired:
		return out.State, nil
	default:
		return "", errors.Throw(common.ErrGatewayRequest,
			"gateway reported unknown approval state "+string(out.State))
	}
}

// AwaitApproval polls the ticket until it reaches a terminal state or ctx
// is done. A non-positive interval falls back to the client default.
// Rejection and expiry are reported both as the returned state and as the
// matching error kind so callers can branch on either.
func (c *Client) AwaitApproval(ctx context.Context, ticket *ApprovalTicket, interval time.Duration) (ApprovalState, error) {
	if ticket == nil || ticket.StatusURL == "" {
		return "", errors.Throw(common.ErrInvalidConfig, "approval ticket without status url")
	}
	if interval <= 0 {
		interval = c.pollInterval
	}

	state := ticket.State
	for {
		if state.Terminal() {
			c.setState(connState(state))
			switch state {
			case StateRejected:
				return state, errors.Throw(common.ErrApprovalRejected, ticket.ApprovalURL)
			case StateExpired:
				return state, errors.Throw(common.ErrApprovalExpired, ticket.ApprovalURL)
			default:
				return state, nil
			}
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return StatePending, err
		}

		var err error
		state, err = c.Poll(ctx, ticket.StatusURL)
		if err != nil {
			return StatePending, err
		}
		c.log.Debug("polled approval status", zap.String("state", string(state)))
	}
}

// Hosts returns the current host set, served from cache within the TTL.
func (c *Client) Hosts(ctx context.Context) (HostSet, error) {
	if v, err := c.hostsCache.Get(hostsCacheKey); err == nil {
		if hs, ok := v.(HostSet); ok {
			return hs.Clone(), nil
		}
	}
	return c.RefreshHosts(ctx)
}

// RefreshHosts fetches the host set from the gateway, bypassing and
// repopulating the cache.
func (c *Client) RefreshHosts(ctx context.Context) (HostSet, error) {
	var descriptors []HostDescriptor
	if err := c.do(ctx, http.MethodGet, c.endpoint(HostsPath), nil, &descriptors); err != nil {
		return nil, err
	}

	hs := make(HostSet, len(descriptors))
	for _, d := range descriptors {
		if _, dup := hs[d.PublicKey]; dup {
			c.log.Warn("gateway listed host twice, keeping the last entry",
				zap.String("host", d.PublicKey.String()))
		}
		hs[d.PublicKey] = d
	}

	if err := c.hostsCache.Add(hostsCacheKey, hs); err != nil {
		c.log.Warn("failed to cache host set", zap.Error(err))
	}
	c.log.Debug("refreshed host set", zap.Int("hosts", len(hs)))
	return hs.Clone(), nil
}

// RequestDigest is the canonical digest both sides sign: the sha3-256 hex
// of "method\npath\ntimestamp\nsha3(body)". Keeping it a plain function
// lets gateway implementations verify without importing client internals.
func RequestDigest(method, path, timestamp string, body []byte) string {
	payload := strings.Join([]string{method, path, timestamp, encryption.Hash(body)}, "\n")
	return encryption.Hash([]byte(payload))
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func connState(s ApprovalState) ConnState {
	switch s {
	case StateApproved:
		return Connected
	case StateRejected:
		return Rejected
	case StateExpired:
		return Expired
	default:
		return PendingApproval
	}
}

// do sends one signed request, retrying transient failures with capped
// exponential backoff. Gateway 4xx responses are permanent and surfaced
// verbatim; network errors and 5xx are retried up to the client's budget.
func (c *Client) do(ctx context.Context, method, rawurl string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.New("encode_request", "marshal request body"))
		}
	}

	u, err := url.Parse(rawurl)
	if err != nil {
		return errors.Throw(common.ErrInvalidConfig, "malformed request url "+rawurl)
	}

	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying gateway request",
				zap.String("url", rawurl),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		retriable, err := c.roundTrip(ctx, method, u, body, out)
		if err == nil {
			return nil
		}
		if !retriable {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
	}
	return lastErr
}

// roundTrip performs a single signed exchange. The bool reports whether the
// failure is worth retrying.
func (c *Client) roundTrip(ctx context.Context, method string, u *url.URL, body []byte, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, common.ErrGatewayUnreachable)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	c.signRequest(req, body)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		return true, errors.Wrap(err, common.ErrGatewayUnreachable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return true, errors.Wrap(err, common.ErrGatewayUnreachable)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if out == nil || len(respBody) == 0 {
			return false, nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, errors.Wrap(err, errors.New("decode_response", "undecodable gateway response"))
		}
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, errors.Throw(common.ErrGatewayUnreachable,
			"gateway answered "+strconv.Itoa(resp.StatusCode))
	default:
		return false, gatewayError(resp.StatusCode, respBody)
	}
}

// signRequest attaches the identity headers. The gateway recomputes the
// digest from the request it received and verifies the signature against
// the public key recorded at registration.
func (c *Client) signRequest(req *http.Request, body []byte) {
	ts := strconv.FormatInt(int64(common.Now()), 10)
	digest := RequestDigest(req.Method, req.URL.Path, ts, body)
	sig := c.key.Sign([]byte(digest))

	req.Header.Set(common.ClientKeyHeader, c.key.Public().String())
	req.Header.Set(common.TimestampHeader, ts)
	req.Header.Set(common.RequestHashHeader, digest)
	req.Header.Set(common.ClientSignatureHeader, sig.String())
}

// gatewayError maps a 4xx envelope to an error kind. Approval states ride
// on their own codes so callers can branch without string matching; every
// other client error keeps the status and body verbatim.
func gatewayError(status int, body []byte) error {
	var envelope struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	switch envelope.Code {
	case "approval_pending":
		return errors.Throw(common.ErrApprovalPending, envelope.Error)
	case "approval_rejected":
		return errors.Throw(common.ErrApprovalRejected, envelope.Error)
	case "approval_expired":
		return errors.Throw(common.ErrApprovalExpired, envelope.Error)
	}
	return errors.Throw(common.ErrGatewayRequest,
		strconv.Itoa(status)+": "+strings.TrimSpace(string(body)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Throw(common.ErrCancelled, ctx.Err().Error())
	case <-t.C:
		return nil
	}
}
