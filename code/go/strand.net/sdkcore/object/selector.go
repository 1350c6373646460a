package object

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/0chain/errors"
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
)

// hostSelector spreads a transfer's shards across the host set. Hosts not
// yet used in the transfer are preferred; ties break on public-key order
// so selection is reproducible. A host that fails once is not offered
// again for the rest of the transfer.
type hostSelector struct {
	mu    sync.Mutex
	hosts *treemap.Map // encryption.PublicKey -> *hostState
}

type hostState struct {
	uses   int
	failed bool
}

func comparePublicKeys(a, b interface{}) int {
	ka := a.(encryption.PublicKey)
	kb := b.(encryption.PublicKey)
	return bytes.Compare(ka[:], kb[:])
}

func newHostSelector(hs gateway.HostSet) *hostSelector {
	m := treemap.NewWith(comparePublicKeys)
	for pk := range hs {
		m.Put(pk, &hostState{})
	}
	return &hostSelector{hosts: m}
}

// pick reserves n distinct healthy hosts outside exclude, least-used
// first. It fails with insufficient_hosts when fewer than n qualify.
func (s *hostSelector) pick(n int, exclude map[encryption.PublicKey]struct{}) ([]encryption.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		pk    encryption.PublicKey
		state *hostState
	}
	var candidates []candidate
	s.hosts.Each(func(key, value interface{}) {
		pk := key.(encryption.PublicKey)
		state := value.(*hostState)
		if state.failed {
			return
		}
		if _, skip := exclude[pk]; skip {
			return
		}
		candidates = append(candidates, candidate{pk: pk, state: state})
	})
	// Stable sort preserves the treemap's public-key order between
	// hosts with equal use counts.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].state.uses < candidates[j].state.uses
	})

	if len(candidates) < n {
		return nil, errors.Throw(common.ErrInsufficientHosts,
			fmt.Sprintf("need %d distinct hosts, %d available", n, len(candidates)))
	}
	picked := make([]encryption.PublicKey, n)
	for i := 0; i < n; i++ {
		picked[i] = candidates[i].pk
		candidates[i].state.uses++
	}
	return picked, nil
}

// replacement reserves one healthy host outside exclude.
func (s *hostSelector) replacement(exclude map[encryption.PublicKey]struct{}) (encryption.PublicKey, error) {
	picked, err := s.pick(1, exclude)
	if err != nil {
		return encryption.PublicKey{}, err
	}
	return picked[0], nil
}

// markFailed removes a host from further selection in this transfer.
func (s *hostSelector) markFailed(pk encryption.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.hosts.Get(pk); ok {
		v.(*hostState).failed = true
	}
}

// healthy reports how many hosts remain selectable.
func (s *hostSelector) healthy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	s.hosts.Each(func(_, value interface{}) {
		if !value.(*hostState).failed {
			n++
		}
	})
	return n
}
