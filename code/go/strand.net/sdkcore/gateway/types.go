package gateway

import (
	"bytes"
	"sort"

	"github.com/0chain/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// ApprovalState is the lifecycle state of an application registration as
// reported by the gateway.
type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
	StateExpired  ApprovalState = "expired"
)

// Terminal reports whether the state can still change. Polling a terminal
// ticket always returns the same state.
func (s ApprovalState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}

// ConnState tracks where an application identity sits in the gateway
// handshake. It only ever moves forward except through an explicit
// re-registration.
type ConnState int

const (
	Unregistered ConnState = iota
	PendingApproval
	Connected
	Rejected
	Expired
)

func (s ConnState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case PendingApproval:
		return "pending_approval"
	case Connected:
		return "connected"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// AppMeta describes the application to the gateway operator. It is shown on
// the approval page, so the name and service URL should be recognizable to
// the user who has to click through.
type AppMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ServiceURL  string `json:"service_url"`
	LogoURL     string `json:"logo_url,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Validate rejects metadata the gateway would bounce anyway.
func (m AppMeta) Validate() error {
	if m.Name == "" {
		return errors.New("invalid_app_meta", "application name is required")
	}
	if m.ServiceURL == "" {
		return errors.New("invalid_app_meta", "service url is required")
	}
	return nil
}

// ApprovalTicket is handed out by the gateway at registration. ApprovalURL
// is shown to the user; StatusURL is polled until the state is terminal.
type ApprovalTicket struct {
	StatusURL   string        `json:"status_url"`
	ApprovalURL string        `json:"approval_url"`
	State       ApprovalState `json:"state"`
}

// HostDescriptor is one storage host as advertised by the gateway. Hosts
// are unique by public key; the address and capabilities may change between
// refreshes.
type HostDescriptor struct {
	PublicKey  encryption.PublicKey `json:"public_key"`
	NetAddress string               `json:"net_address"`
	Version    uint8                `json:"protocol_version"`

	// Capabilities is kept raw; gateways are free to add fields without
	// breaking older clients. Use DecodeCapabilities for the typed view.
	Capabilities map[string]interface{} `json:"capabilities,omitempty"`
}

// HostCapabilities is the typed view of the advertised capability map.
type HostCapabilities struct {
	StorageTotal     uint64   `mapstructure:"storage_total"`
	StorageRemaining uint64   `mapstructure:"storage_remaining"`
	MaxShardSize     uint64   `mapstructure:"max_shard_size"`
	Features         []string `mapstructure:"features"`

	// Raw collects capability fields this client version does not know.
	Raw map[string]interface{} `mapstructure:",remain"`
}

// DecodeCapabilities decodes the raw capability map.
func (d HostDescriptor) DecodeCapabilities() (HostCapabilities, error) {
	var caps HostCapabilities
	if err := mapstructure.Decode(d.Capabilities, &caps); err != nil {
		return HostCapabilities{}, errors.Wrap(err, errors.Newf("invalid_capabilities",
			"host %s advertised undecodable capabilities", d.PublicKey))
	}
	return caps, nil
}

// HostSet maps host public keys to their descriptors. Producers build fresh
// sets; readers treat a set as an immutable snapshot.
type HostSet map[encryption.PublicKey]HostDescriptor

// Keys returns the host public keys in a stable byte order. Every component
// that needs reproducible host iteration goes through this.
func (hs HostSet) Keys() []encryption.PublicKey {
	keys := make([]encryption.PublicKey, 0, len(hs))
	for pk := range hs {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// Clone returns a copy that the caller may hold without observing later
// refreshes.
func (hs HostSet) Clone() HostSet {
	out := make(HostSet, len(hs))
	for pk, d := range hs {
		out[pk] = d
	}
	return out
}
