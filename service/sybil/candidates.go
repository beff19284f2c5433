// Package sybil turns address histories into suspected Sybil clusters: addresses
// that hosted several staked identities, merged when they share identities.
package sybil

import (
	"fmt"
	"sort"

	"github.com/brojonat/sybilwatch/service/history"
	"github.com/brojonat/sybilwatch/service/registry"
)

// MinStakedIdentities is the number of distinct staked identities an address
// must have hosted to be reported.
const MinStakedIdentities = 2

// ValidatorLookup resolves a staked identity to its validator record.
type ValidatorLookup interface {
	Get(identity string) (*registry.Validator, bool)
}

// Sighting is a history entry tagged with the address it was observed at.
type Sighting struct {
	Address string `json:"ip"`
	history.Entry
}

// Candidate is a flagged address that hosted at least MinStakedIdentities staked identities.
type Candidate struct {
	Address          string                `json:"ip"`
	Identities       []Sighting            `json:"identities"`
	StakedIdentities []string              `json:"staked_identities"`
	Validators       []*registry.Validator `json:"validators_info"`
	TotalStake       uint64                `json:"total_stake"`
	TotalStakeUI     float64               `json:"total_stake_ui"`
}

// FilterCandidates reduces the flagged addresses of res to candidates, in
// ascending address order. Every staked identity must resolve through validators.
func FilterCandidates(res *history.Result, validators ValidatorLookup) ([]*Candidate, error) {
	candidates := make([]*Candidate, 0)

	for _, address := range res.Flagged {
		h, ok := res.Histories[address]
		if !ok {
			return nil, fmt.Errorf("flagged address %s has no history", address)
		}

		staked := h.StakedIdentities()
		if len(staked) < MinStakedIdentities {
			continue
		}

		records := make([]*registry.Validator, 0, len(staked))
		for _, identity := range staked {
			v, ok := validators.Get(identity)
			if !ok {
				return nil, fmt.Errorf("candidate %s: staked identity %s not in registry", address, identity)
			}
			records = append(records, v)
		}
		sortValidators(records)

		sightings := make([]Sighting, 0, len(h.Entries))
		for _, e := range h.Entries {
			sightings = append(sightings, Sighting{Address: address, Entry: e})
		}

		total, totalUI := sumStake(records)
		candidates = append(candidates, &Candidate{
			Address:          address,
			Identities:       sightings,
			StakedIdentities: staked,
			Validators:       records,
			TotalStake:       total,
			TotalStakeUI:     totalUI,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Address < candidates[j].Address
	})
	return candidates, nil
}

// sortValidators orders records by descending stake, then identity.
func sortValidators(records []*registry.Validator) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ActivatedStake != records[j].ActivatedStake {
			return records[i].ActivatedStake > records[j].ActivatedStake
		}
		return records[i].IdentityPubkey < records[j].IdentityPubkey
	})
}

// sumStake adds up stake in lamports and SOL. Callers pass each validator once.
func sumStake(records []*registry.Validator) (uint64, float64) {
	var total uint64
	var totalUI float64
	for _, v := range records {
		total += v.ActivatedStake
		totalUI += v.ActivatedStakeUI
	}
	return total, totalUI
}
