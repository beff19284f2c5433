package nats

import (
	"time"

	"github.com/brojonat/sybilwatch/service/sybil"
)

// ClusterEvent represents one suspected operator published to NATS.
// This is published to the subject "sybil.clusters.{lead_identity}" in JetStream.
type ClusterEvent struct {
	// Run identifiers
	RunID       int64     `json:"run_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Rank        int       `json:"rank"` // 1 is the cluster with the most stake

	// Cluster membership
	LeadIdentity     string   `json:"lead_identity"`
	Addresses        []string `json:"addresses"`
	StakedIdentities []string `json:"staked_identities"`

	// Stake
	TotalStake   uint64  `json:"total_stake"`
	TotalStakeUI float64 `json:"total_stake_ui"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *ClusterEvent) Subject() string {
	return SubjectPrefix + e.LeadIdentity
}

// MsgID identifies the event for JetStream deduplication, so republishing a
// run does not duplicate its events.
func (e *ClusterEvent) MsgID() string {
	return e.GeneratedAt.UTC().Format(time.RFC3339Nano) + "/" + e.LeadIdentity
}

// FromCluster converts a report cluster to a ClusterEvent. rank is 1-based.
func FromCluster(runID int64, generatedAt time.Time, rank int, c *sybil.Cluster) *ClusterEvent {
	return &ClusterEvent{
		RunID:            runID,
		GeneratedAt:      generatedAt,
		Rank:             rank,
		LeadIdentity:     c.LeadIdentity(),
		Addresses:        c.Addresses,
		StakedIdentities: c.StakedIdentities,
		TotalStake:       c.TotalStake,
		TotalStakeUI:     c.TotalStakeUI,
		PublishedAt:      time.Now().UTC(),
	}
}

// EventsFromReport converts every cluster of report, in report order.
func EventsFromReport(runID int64, report *sybil.Report) []*ClusterEvent {
	events := make([]*ClusterEvent, 0, len(report.Clusters))
	for i, c := range report.Clusters {
		events = append(events, FromCluster(runID, report.GeneratedAt, i+1, c))
	}
	return events
}
