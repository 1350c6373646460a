package dev

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/didip/tollbooth/v6/limiter"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
)

// Gateway mocks the application gateway: registration, approval polling
// and the host listing. Approval decisions are scripted or made through
// Approve/Reject/Expire, so tests drive the whole state machine without a
// human in the loop.
type Gateway struct {
	baseURL string
	log     *zap.Logger

	verify bool
	lmt    *limiter.Limiter

	mu            sync.Mutex
	apps          map[encryption.PublicKey]*appRecord
	hosts         gateway.HostSet
	script        []gateway.ApprovalState
	autoApprove   bool
	failRemaining int
	registerCount int
	requestCount  int
}

type appRecord struct {
	meta   gateway.AppMeta
	state  gateway.ApprovalState
	polls  int
	script []gateway.ApprovalState
}

// GatewayOption tweaks the mock at construction.
type GatewayOption func(*Gateway)

// WithAutoApprove approves every registration immediately.
func WithAutoApprove() GatewayOption {
	return func(g *Gateway) { g.autoApprove = true }
}

// WithApprovalScript fixes the sequence of states returned by consecutive
// status polls of newly registered applications; the last entry repeats.
// ApprovalAfterPolls is the common shorthand.
func WithApprovalScript(states ...gateway.ApprovalState) GatewayOption {
	return func(g *Gateway) { g.script = states }
}

// ApprovalAfterPolls scripts n pending polls followed by approval.
func ApprovalAfterPolls(n int) GatewayOption {
	script := make([]gateway.ApprovalState, n+1)
	for i := 0; i < n; i++ {
		script[i] = gateway.StatePending
	}
	script[n] = gateway.StateApproved
	return WithApprovalScript(script...)
}

// WithSignatureChecks verifies the identity headers of every request and
// refuses the host listing to applications that are not approved. Off by
// default so quick harnesses stay terse.
func WithSignatureChecks() GatewayOption {
	return func(g *Gateway) { g.verify = true }
}

// WithRateLimit throttles the mock with the same tollbooth limiter the
// real surface uses.
func WithRateLimit(rps float64) GatewayOption {
	return func(g *Gateway) {
		g.lmt = common.GetRateLimiter(rps, nil, true, 0)
	}
}

// WithGatewayLogger routes the mock's logs through log.
func WithGatewayLogger(log *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.log = log }
}

// NewGateway creates the mock state for a server rooted at baseURL.
// Most callers want NewGatewayServer instead.
func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: baseURL,
		log:     zap.NewNop(),
		apps:    map[encryption.PublicKey]*appRecord{},
		hosts:   gateway.HostSet{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterHandlers mounts the gateway surface on r.
func (g *Gateway) RegisterHandlers(r *mux.Router) {
	r.HandleFunc(gateway.RegisterPath,
		g.wrap(common.ToStatusCode(g.registerHandler))).Methods(http.MethodPost)
	r.HandleFunc("/v1/apps/status/{app}",
		g.wrap(common.ToStatusCode(g.statusHandler))).Methods(http.MethodGet)
	r.HandleFunc(gateway.HostsPath,
		g.wrap(common.ToStatusCode(g.hostsHandler))).Methods(http.MethodGet)
	r.HandleFunc("/approvals/{app}",
		g.wrap(common.ToStatusCode(g.approvalViewHandler))).Methods(http.MethodGet)
	r.HandleFunc("/approvals/{app}",
		g.wrap(common.ToStatusCode(g.approvalDecideHandler))).Methods(http.MethodPost)
}

// URL returns the base URL the gateway builds its ticket links from.
func (g *Gateway) URL() string { return g.baseURL }

// SetHosts replaces the advertised host set.
func (g *Gateway) SetHosts(hs gateway.HostSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hosts = hs.Clone()
}

// AddHost adds one host to the advertised set.
func (g *Gateway) AddHost(d gateway.HostDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hosts[d.PublicKey] = d
}

// RemoveHost drops one host from the advertised set.
func (g *Gateway) RemoveHost(pk encryption.PublicKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.hosts, pk)
}

// Approve marks the application approved.
func (g *Gateway) Approve(pk encryption.PublicKey) { g.setState(pk, gateway.StateApproved) }

// Reject marks the application rejected.
func (g *Gateway) Reject(pk encryption.PublicKey) { g.setState(pk, gateway.StateRejected) }

// Expire marks the registration expired.
func (g *Gateway) Expire(pk encryption.PublicKey) { g.setState(pk, gateway.StateExpired) }

func (g *Gateway) setState(pk encryption.PublicKey, s gateway.ApprovalState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.apps[pk]; ok {
		rec.state = s
		rec.script = nil
	}
}

// FailNext makes the next n requests answer 503 before any handler runs,
// for exercising client retry behavior.
func (g *Gateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRemaining = n
}

// RegisterCount reports how many registrations were accepted, including
// idempotent re-registrations of approved identities.
func (g *Gateway) RegisterCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registerCount
}

// Requests reports how many requests reached the gateway, injected
// failures included. Tests use it to prove a client did or did not retry.
func (g *Gateway) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestCount
}

// AppState reports the gateway's view of an application, or "" when the
// identity never registered.
func (g *Gateway) AppState(pk encryption.PublicKey) gateway.ApprovalState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.apps[pk]; ok {
		return rec.state
	}
	return ""
}

// wrap applies failure injection and the rate limiter around a handler.
func (g *Gateway) wrap(handler common.ReqRespHandlerf) common.ReqRespHandlerf {
	if g.lmt != nil {
		handler = common.RateLimit(handler, g.lmt)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.requestCount++
		fail := g.failRemaining > 0
		if fail {
			g.failRemaining--
		}
		g.mu.Unlock()
		if fail {
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}
		handler(w, r)
	}
}

// authenticate checks the identity headers against the request the mock
// actually received, exactly the way a production gateway would.
func (g *Gateway) authenticate(r *http.Request, body []byte) (encryption.PublicKey, int, error) {
	pk, err := encryption.ParsePublicKey(r.Header.Get(common.ClientKeyHeader))
	if err != nil {
		return encryption.PublicKey{}, http.StatusUnauthorized,
			common.NewError("missing_client_key", "request carries no usable application key")
	}
	if !g.verify {
		return pk, 0, nil
	}

	ts := r.Header.Get(common.TimestampHeader)
	digest := gateway.RequestDigest(r.Method, r.URL.Path, ts, body)
	if digest != r.Header.Get(common.RequestHashHeader) {
		return encryption.PublicKey{}, http.StatusBadRequest,
			common.NewError("digest_mismatch", "request hash does not cover this request")
	}

	var sig encryption.Signature
	if err := sig.UnmarshalText([]byte(r.Header.Get(common.ClientSignatureHeader))); err != nil {
		return encryption.PublicKey{}, http.StatusUnauthorized,
			common.NewError("missing_signature", "request carries no usable signature")
	}
	if !pk.Verify([]byte(digest), sig) {
		return encryption.PublicKey{}, http.StatusUnauthorized,
			common.NewError("bad_signature", "signature does not verify under the client key")
	}
	return pk, 0, nil
}

func (g *Gateway) registerHandler(ctx context.Context, r *http.Request) (interface{}, int, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, http.StatusBadRequest, common.NewError("bad_request", "unreadable body")
	}
	pk, status, err := g.authenticate(r, body)
	if err != nil {
		return nil, status, err
	}

	var meta gateway.AppMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, http.StatusBadRequest, common.NewError("invalid_app_meta", "undecodable registration")
	}
	if meta.Name == "" || meta.ServiceURL == "" {
		return nil, http.StatusBadRequest, common.NewError("invalid_app_meta", "name and service_url are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerCount++

	rec, ok := g.apps[pk]
	if !ok || rec.state != gateway.StateApproved {
		// Fresh, rejected and expired identities are (re)submitted;
		// approved ones keep their standing.
		rec = &appRecord{meta: meta, state: gateway.StatePending, script: g.script}
		if g.autoApprove {
			rec.state = gateway.StateApproved
			rec.script = nil
		}
		g.apps[pk] = rec
	}

	g.log.Debug("registered application",
		zap.String("app", meta.Name),
		zap.String("state", string(rec.state)))
	return gateway.ApprovalTicket{
		StatusURL:   g.baseURL + "/v1/apps/status/" + pk.String(),
		ApprovalURL: g.baseURL + "/approvals/" + pk.String(),
		State:       rec.state,
	}, http.StatusOK, nil
}

func (g *Gateway) statusHandler(ctx context.Context, r *http.Request) (interface{}, int, error) {
	if _, status, err := g.authenticate(r, nil); err != nil {
		return nil, status, err
	}
	pk, err := encryption.ParsePublicKey(mux.Vars(r)["app"])
	if err != nil {
		return nil, http.StatusBadRequest, common.NewError("bad_request", "malformed application key")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.apps[pk]
	if !ok {
		return nil, http.StatusNotFound, common.NewError("unknown_app", "application never registered")
	}
	if !rec.state.Terminal() && len(rec.script) > 0 {
		idx := rec.polls
		if idx >= len(rec.script) {
			idx = len(rec.script) - 1
		}
		rec.state = rec.script[idx]
	}
	rec.polls++

	return map[string]gateway.ApprovalState{"state": rec.state}, http.StatusOK, nil
}

// The approval surface is what the human behind the application opens in a
// browser. It is unauthenticated here; the production surface sits behind
// the gateway operator's own login, which the mock does not reproduce.
func (g *Gateway) approvalViewHandler(ctx context.Context, r *http.Request) (interface{}, int, error) {
	pk, err := encryption.ParsePublicKey(mux.Vars(r)["app"])
	if err != nil {
		return nil, http.StatusBadRequest, common.NewError("bad_request", "malformed application key")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.apps[pk]
	if !ok {
		return nil, http.StatusNotFound, common.NewError("unknown_app", "application never registered")
	}
	return map[string]interface{}{
		"app":   rec.meta,
		"state": rec.state,
	}, http.StatusOK, nil
}

func (g *Gateway) approvalDecideHandler(ctx context.Context, r *http.Request) (interface{}, int, error) {
	pk, err := encryption.ParsePublicKey(mux.Vars(r)["app"])
	if err != nil {
		return nil, http.StatusBadRequest, common.NewError("bad_request", "malformed application key")
	}
	var in struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return nil, http.StatusBadRequest, common.NewError("bad_request", "undecodable decision")
	}
	var next gateway.ApprovalState
	switch in.Decision {
	case "approve":
		next = gateway.StateApproved
	case "reject":
		next = gateway.StateRejected
	default:
		return nil, http.StatusBadRequest, common.NewError("bad_request", "decision must be approve or reject")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.apps[pk]
	if !ok {
		return nil, http.StatusNotFound, common.NewError("unknown_app", "application never registered")
	}
	rec.state = next
	rec.script = nil
	g.log.Info("approval decided",
		zap.String("app", rec.meta.Name),
		zap.String("state", string(next)))
	return map[string]gateway.ApprovalState{"state": next}, http.StatusOK, nil
}

func (g *Gateway) hostsHandler(ctx context.Context, r *http.Request) (interface{}, int, error) {
	pk, status, err := g.authenticate(r, nil)
	if err != nil {
		return nil, status, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verify {
		rec, ok := g.apps[pk]
		switch {
		case !ok:
			return nil, http.StatusUnauthorized,
				common.NewError("unknown_app", "application never registered")
		case rec.state == gateway.StatePending:
			return nil, http.StatusForbidden,
				common.NewError("approval_pending", "application approval pending")
		case rec.state == gateway.StateRejected:
			return nil, http.StatusForbidden,
				common.NewError("approval_rejected", "application approval rejected")
		case rec.state == gateway.StateExpired:
			return nil, http.StatusForbidden,
				common.NewError("approval_expired", "application approval expired")
		}
	}

	descriptors := make([]gateway.HostDescriptor, 0, len(g.hosts))
	for _, pk := range g.hosts.Keys() {
		descriptors = append(descriptors, g.hosts[pk])
	}
	return descriptors, http.StatusOK, nil
}
