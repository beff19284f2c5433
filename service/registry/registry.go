package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// Registry maps staked identities to their enriched validator records.
// It is read-only once built; WithObservedAddresses returns a new Registry.
type Registry struct {
	validators map[string]*Validator
}

// BuildStats summarizes what Build kept and dropped.
type BuildStats struct {
	Total      int `json:"total"`
	Staked     int `json:"staked"`
	Unstaked   int `json:"unstaked"`
	Duplicates int `json:"duplicates"`
	JitoPool   int `json:"jito_pool"`
	SFDP       int `json:"sfdp"`
}

// Build joins the three reference datasets into a Registry.
// Entries with absent or zero activated stake are dropped. If the same identity
// appears more than once, the first staked entry wins.
func Build(active []ActiveValidator, mevPool []MEVPoolValidator, delegation []DelegationParticipant) (*Registry, BuildStats, error) {
	stats := BuildStats{Total: len(active)}

	mevByVote := make(map[string]*MEVPoolValidator, len(mevPool))
	for i := range mevPool {
		entry := &mevPool[i]
		if entry.VoteAccount == "" {
			return nil, stats, fmt.Errorf("jito validator %d: missing vote_account", i)
		}
		mevByVote[entry.VoteAccount] = entry
	}

	sfdpByIdentity := make(map[string]*DelegationParticipant, len(delegation))
	for i := range delegation {
		entry := &delegation[i]
		if entry.MainnetBetaPubkey == "" {
			return nil, stats, fmt.Errorf("sfdp participant %d: missing mainnetBetaPubkey", i)
		}
		if entry.State == "" {
			return nil, stats, fmt.Errorf("sfdp participant %d (%s): missing state", i, entry.MainnetBetaPubkey)
		}
		sfdpByIdentity[entry.MainnetBetaPubkey] = entry
	}

	validators := make(map[string]*Validator, len(active))
	for i, av := range active {
		if av.IdentityPubkey == "" {
			return nil, stats, fmt.Errorf("active validator %d: missing identityPubkey", i)
		}
		if av.VoteAccountPubkey == "" {
			return nil, stats, fmt.Errorf("active validator %d (%s): missing voteAccountPubkey", i, av.IdentityPubkey)
		}
		if av.ActivatedStake == nil || *av.ActivatedStake == 0 {
			stats.Unstaked++
			continue
		}
		if _, exists := validators[av.IdentityPubkey]; exists {
			stats.Duplicates++
			continue
		}

		v := &Validator{
			IdentityPubkey:    av.IdentityPubkey,
			VoteAccountPubkey: av.VoteAccountPubkey,
			ActivatedStake:    *av.ActivatedStake,
			ActivatedStakeUI:  LamportsToSOL(*av.ActivatedStake),
			IPs:               []string{},
			Extra:             av.Extra,
		}

		if jito, ok := mevByVote[av.VoteAccountPubkey]; ok {
			v.JitoStakePool = true
			v.JitoRunning = jito.RunningJito
			v.JitoStake = jito.JitoSOLActiveLamports
			v.JitoStakeUI = LamportsToSOL(jito.JitoSOLActiveLamports)
			stats.JitoPool++
		}

		if sfdp, ok := sfdpByIdentity[av.IdentityPubkey]; ok {
			status := sfdp.State
			v.SFDPParticipant = true
			v.SFDPStatus = &status
			stats.SFDP++
		}

		validators[av.IdentityPubkey] = v
		stats.Staked++
	}

	return &Registry{validators: validators}, stats, nil
}

// New builds a Registry directly from validator records. Intended for tests and
// for rehydrating persisted reports.
func New(validators ...*Validator) *Registry {
	m := make(map[string]*Validator, len(validators))
	for _, v := range validators {
		m[v.IdentityPubkey] = v
	}
	return &Registry{validators: m}
}

// IsStaked reports whether identity is a registry key.
func (r *Registry) IsStaked(identity string) bool {
	_, ok := r.validators[identity]
	return ok
}

// Get returns the record for identity.
func (r *Registry) Get(identity string) (*Validator, bool) {
	v, ok := r.validators[identity]
	return v, ok
}

// Len returns the number of staked identities.
func (r *Registry) Len() int {
	return len(r.validators)
}

// Identities returns every staked identity in ascending order.
func (r *Registry) Identities() []string {
	out := make([]string, 0, len(r.validators))
	for identity := range r.validators {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// WithObservedAddresses returns a copy of the registry whose records carry the
// given addresses. Identities missing from observed keep an empty address list.
// Address lists are sorted and deduplicated.
func (r *Registry) WithObservedAddresses(observed map[string][]string) *Registry {
	out := make(map[string]*Validator, len(r.validators))
	for identity, v := range r.validators {
		c := v.clone()
		c.IPs = sortedUnique(observed[identity])
		out[identity] = c
	}
	return &Registry{validators: out}
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Paths locates the three reference datasets on disk.
type Paths struct {
	ActiveValidators string
	JitoValidators   string
	SFDPParticipants string
}

// Load reads the reference datasets and builds the Registry.
// Any missing or malformed file fails the whole load.
func Load(paths Paths, logger *slog.Logger) (*Registry, error) {
	var active ActiveValidatorsFile
	if err := readJSONFile(paths.ActiveValidators, &active); err != nil {
		return nil, err
	}

	var jito MEVPoolFile
	if err := readJSONFile(paths.JitoValidators, &jito); err != nil {
		return nil, err
	}

	var sfdp []DelegationParticipant
	if err := readJSONFile(paths.SFDPParticipants, &sfdp); err != nil {
		return nil, err
	}

	reg, stats, err := Build(active.Validators, jito.Validators, sfdp)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator registry: %w", err)
	}

	logger.Info("validator registry built",
		"active_validators", stats.Total,
		"staked", stats.Staked,
		"unstaked_dropped", stats.Unstaked,
		"duplicates_dropped", stats.Duplicates,
		"jito_pool", stats.JitoPool,
		"sfdp", stats.SFDP,
	)

	return reg, nil
}

// WriteActiveValidators writes an active-validator document in the CLI's format.
func WriteActiveValidators(path string, validators []ActiveValidator) error {
	data, err := json.MarshalIndent(ActiveValidatorsFile{Validators: validators}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal active validators: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
