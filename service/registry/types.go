package registry

import (
	"encoding/json"
	"fmt"
)

// LamportsPerSOL is the number of base units in one SOL.
const LamportsPerSOL = 1e9

// ActiveValidatorsFile is the document produced by `solana validators --output json`.
type ActiveValidatorsFile struct {
	Validators []ActiveValidator `json:"validators"`
}

// ActiveValidator is one entry of the active-validator list.
// Fields we don't interpret are preserved in Extra so they survive a round trip.
type ActiveValidator struct {
	IdentityPubkey    string
	VoteAccountPubkey string
	ActivatedStake    *uint64 // nil when the field is absent
	Extra             map[string]json.RawMessage
}

var activeValidatorKnownFields = map[string]bool{
	"identityPubkey":    true,
	"voteAccountPubkey": true,
	"activatedStake":    true,
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (v *ActiveValidator) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*v = ActiveValidator{}
	if msg, ok := raw["identityPubkey"]; ok {
		if err := json.Unmarshal(msg, &v.IdentityPubkey); err != nil {
			return fmt.Errorf("identityPubkey: %w", err)
		}
	}
	if msg, ok := raw["voteAccountPubkey"]; ok {
		if err := json.Unmarshal(msg, &v.VoteAccountPubkey); err != nil {
			return fmt.Errorf("voteAccountPubkey: %w", err)
		}
	}
	if msg, ok := raw["activatedStake"]; ok && string(msg) != "null" {
		var stake uint64
		if err := json.Unmarshal(msg, &stake); err != nil {
			return fmt.Errorf("activatedStake: %w", err)
		}
		v.ActivatedStake = &stake
	}

	for key, msg := range raw {
		if activeValidatorKnownFields[key] {
			continue
		}
		if v.Extra == nil {
			v.Extra = make(map[string]json.RawMessage)
		}
		v.Extra[key] = msg
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (v ActiveValidator) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.Extra)+3)
	for key, msg := range v.Extra {
		out[key] = msg
	}
	out["identityPubkey"] = v.IdentityPubkey
	out["voteAccountPubkey"] = v.VoteAccountPubkey
	if v.ActivatedStake != nil {
		out["activatedStake"] = *v.ActivatedStake
	}
	return json.Marshal(out)
}

// MEVPoolFile is the Jito stake pool validator list.
type MEVPoolFile struct {
	Validators []MEVPoolValidator `json:"validators"`
}

// MEVPoolValidator is one entry of the Jito stake pool list, keyed by vote account.
type MEVPoolValidator struct {
	VoteAccount              string  `json:"vote_account"`
	RunningJito              bool    `json:"running_jito"`
	RunningBAM               bool    `json:"running_bam"`
	ActiveStake              uint64  `json:"active_stake"`
	JitoSOLActiveLamports    uint64  `json:"jito_sol_active_lamports"`
	MEVCommissionBps         *uint64 `json:"mev_commission_bps"`
	PriorityFeeCommissionBps uint64  `json:"priority_fee_commission_bps"`
}

// DelegationParticipant is one entry of the Solana Foundation Delegation Program list.
type DelegationParticipant struct {
	MainnetBetaPubkey string `json:"mainnetBetaPubkey"`
	State             string `json:"state"`
}

// Validator is the enriched record for one staked identity.
type Validator struct {
	IdentityPubkey    string  `json:"identity_pubkey"`
	VoteAccountPubkey string  `json:"vote_account_pubkey"`
	ActivatedStake    uint64  `json:"activated_stake"`
	ActivatedStakeUI  float64 `json:"activated_stake_ui"`

	JitoStakePool bool    `json:"jito_stakepool"`
	JitoRunning   bool    `json:"jito_running"`
	JitoStake     uint64  `json:"jito_stake"`
	JitoStakeUI   float64 `json:"jito_stake_ui"`

	SFDPParticipant bool    `json:"sfdp_participant"`
	SFDPStatus      *string `json:"sfdp_status"` // nil when not a participant

	IPs []string `json:"ips"`

	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// LamportsToSOL converts base units to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SFDPApproved reports whether the identity is an approved delegation program member.
func (v *Validator) SFDPApproved() bool {
	return v.SFDPParticipant && v.SFDPStatus != nil && *v.SFDPStatus == "Approved"
}

// clone returns a copy whose IPs slice can be replaced without touching the original.
func (v *Validator) clone() *Validator {
	out := *v
	if v.IPs != nil {
		out.IPs = append([]string(nil), v.IPs...)
	}
	return &out
}
