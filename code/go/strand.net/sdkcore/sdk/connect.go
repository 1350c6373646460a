package sdk

import (
	"context"

	"github.com/0chain/errors"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
)

// ConnectResponse is the pending half of a Connect call. ApprovalURL is
// shown to the user; WaitForApproval blocks until they decide.
type ConnectResponse struct {
	// ApprovalURL is where a human approves or rejects the application.
	ApprovalURL string

	client *gateway.Client
	ticket *gateway.ApprovalTicket
}

// Connect registers the application identity with the gateway. The bool
// reports whether the identity is already connected: registering an
// approved identity short-circuits and no user interaction is needed.
// Otherwise the caller shows ApprovalURL to the user and calls
// WaitForApproval.
func Connect(ctx context.Context, gatewayURL string, key encryption.PrivateKey,
	meta gateway.AppMeta, opts ...gateway.Option) (*ConnectResponse, bool, error) {

	client, err := gateway.New(gatewayURL, key, opts...)
	if err != nil {
		return nil, false, err
	}

	ticket, err := client.Register(ctx, meta)
	if err != nil {
		return nil, false, err
	}

	resp := &ConnectResponse{
		ApprovalURL: ticket.ApprovalURL,
		client:      client,
		ticket:      ticket,
	}
	return resp, ticket.State == gateway.StateApproved, nil
}

// WaitForApproval polls the registration until the user decides or ctx is
// done. It returns true when the application was approved and false when
// the user rejected it or let the request expire; every other failure is
// returned as an error.
func (r *ConnectResponse) WaitForApproval(ctx context.Context) (bool, error) {
	state, err := r.client.AwaitApproval(ctx, r.ticket, 0)
	switch {
	case state == gateway.StateApproved:
		return true, nil
	case errors.Is(err, common.ErrApprovalRejected), errors.Is(err, common.ErrApprovalExpired):
		return false, nil
	case err != nil:
		return false, err
	default:
		return false, nil
	}
}

// State reports the registration's last observed state.
func (r *ConnectResponse) State() gateway.ApprovalState {
	switch r.client.State() {
	case gateway.Connected:
		return gateway.StateApproved
	case gateway.Rejected:
		return gateway.StateRejected
	case gateway.Expired:
		return gateway.StateExpired
	default:
		return gateway.StatePending
	}
}
