// Package history folds an ordered sequence of gossip snapshots into
// per-address identity histories.
package history

import (
	"sort"

	"github.com/brojonat/sybilwatch/service/gossip"
)

// Entry is one compressed sighting at an address.
type Entry struct {
	Identity string `json:"pubkey"`
	IsStaked bool   `json:"is_staked"`
	Snapshot string `json:"timestamp"`
}

// AddressHistory is the compressed chronological history of one address.
// Consecutive sightings of the same identity collapse into a single entry.
type AddressHistory struct {
	Address string  `json:"ip"`
	Entries []Entry `json:"identities"`
}

// Flagged reports whether the identity at this address changed at least once.
func (h *AddressHistory) Flagged() bool {
	return len(h.Entries) >= 2
}

// StakedIdentities returns the distinct staked identities in the history, sorted.
func (h *AddressHistory) StakedIdentities() []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, e := range h.Entries {
		if !e.IsStaked {
			continue
		}
		if _, ok := seen[e.Identity]; ok {
			continue
		}
		seen[e.Identity] = struct{}{}
		out = append(out, e.Identity)
	}
	sort.Strings(out)
	return out
}

// StakeChecker reports whether an identity is staked.
type StakeChecker interface {
	IsStaked(identity string) bool
}

// Result is the output of building histories from a snapshot sequence.
type Result struct {
	Histories map[string]*AddressHistory
	// Flagged holds flagged addresses in ascending order.
	Flagged []string
	// ObservedAddresses maps each staked identity to the addresses it was seen at,
	// in first-seen order.
	ObservedAddresses map[string][]string
	Snapshots         int
	Observations      int
}

// Builder accumulates histories one snapshot at a time. Snapshots must be
// added in chronological order; the fold is order sensitive.
type Builder struct {
	staked       StakeChecker
	histories    map[string]*AddressHistory
	flagged      map[string]struct{}
	observed     map[string][]string
	observedSet  map[string]map[string]struct{}
	snapshots    int
	observations int
}

// NewBuilder creates a Builder that tags sightings using staked.
func NewBuilder(staked StakeChecker) *Builder {
	return &Builder{
		staked:      staked,
		histories:   make(map[string]*AddressHistory),
		flagged:     make(map[string]struct{}),
		observed:    make(map[string][]string),
		observedSet: make(map[string]map[string]struct{}),
	}
}

// Add folds one snapshot into the histories.
func (b *Builder) Add(snap *gossip.Snapshot) {
	b.snapshots++
	for _, obs := range snap.Observations {
		if obs.Address == "" {
			continue
		}
		b.observations++
		b.observe(obs.Address, obs.Identity, snap.Label)
	}
}

func (b *Builder) observe(address, identity, label string) {
	isStaked := b.staked.IsStaked(identity)

	h, ok := b.histories[address]
	if !ok {
		h = &AddressHistory{Address: address}
		b.histories[address] = h
	}

	if n := len(h.Entries); n == 0 || h.Entries[n-1].Identity != identity {
		h.Entries = append(h.Entries, Entry{Identity: identity, IsStaked: isStaked, Snapshot: label})
		if len(h.Entries) > 1 {
			b.flagged[address] = struct{}{}
		}
	}

	if !isStaked {
		return
	}
	set, ok := b.observedSet[identity]
	if !ok {
		set = make(map[string]struct{})
		b.observedSet[identity] = set
	}
	if _, seen := set[address]; !seen {
		set[address] = struct{}{}
		b.observed[identity] = append(b.observed[identity], address)
	}
}

// Result returns the accumulated histories. The Builder should not be used afterwards.
func (b *Builder) Result() *Result {
	flagged := make([]string, 0, len(b.flagged))
	for address := range b.flagged {
		flagged = append(flagged, address)
	}
	sort.Strings(flagged)

	return &Result{
		Histories:         b.histories,
		Flagged:           flagged,
		ObservedAddresses: b.observed,
		Snapshots:         b.snapshots,
		Observations:      b.observations,
	}
}

// Build folds snapshots, in the given order, into address histories.
func Build(snapshots []*gossip.Snapshot, staked StakeChecker) *Result {
	b := NewBuilder(staked)
	for _, snap := range snapshots {
		b.Add(snap)
	}
	return b.Result()
}

// Compress collapses consecutive entries with the same identity.
// It is idempotent: compressing a compressed sequence returns it unchanged.
func Compress(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Identity == e.Identity {
			continue
		}
		out = append(out, e)
	}
	return out
}
