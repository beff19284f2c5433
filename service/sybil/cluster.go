package sybil

import (
	"sort"

	"github.com/brojonat/sybilwatch/service/registry"
)

// Cluster is a maximal set of candidate addresses connected by shared staked
// identities: one suspected operator.
type Cluster struct {
	Addresses        []string              `json:"addresses"`
	Identities       []Sighting            `json:"identities"`
	StakedIdentities []string              `json:"staked_identities"`
	Validators       []*registry.Validator `json:"validators_info"`
	TotalStake       uint64                `json:"total_stake"`
	TotalStakeUI     float64               `json:"total_stake_ui"`
}

// LeadIdentity returns the staked identity with the most stake, which names the cluster.
func (c *Cluster) LeadIdentity() string {
	if len(c.Validators) == 0 {
		return ""
	}
	return c.Validators[0].IdentityPubkey
}

// Aggregate merges candidates into clusters. Two candidates are connected when
// their staked-identity sets intersect; clusters are the connected components.
// The result is ordered by descending total stake, then first address.
func Aggregate(candidates []*Candidate) []*Cluster {
	nodes := make([]*Candidate, len(candidates))
	copy(nodes, candidates)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Address < nodes[j].Address
	})

	// identity -> candidate indices; two candidates share an edge iff they
	// appear together in one of these lists.
	byIdentity := make(map[string][]int)
	for i, c := range nodes {
		for _, identity := range c.StakedIdentities {
			byIdentity[identity] = append(byIdentity[identity], i)
		}
	}

	visited := make([]bool, len(nodes))
	expanded := make(map[string]bool)
	clusters := make([]*Cluster, 0)

	for start := range nodes {
		if visited[start] {
			continue
		}

		visited[start] = true
		queue := []int{start}
		component := []int{}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)

			for _, identity := range nodes[cur].StakedIdentities {
				if expanded[identity] {
					continue
				}
				expanded[identity] = true
				for _, next := range byIdentity[identity] {
					if !visited[next] {
						visited[next] = true
						queue = append(queue, next)
					}
				}
			}
		}

		sort.Ints(component)
		members := make([]*Candidate, len(component))
		for i, idx := range component {
			members[i] = nodes[idx]
		}
		clusters = append(clusters, mergeCandidates(members))
	}

	sortClusters(clusters)
	return clusters
}

// mergeCandidates unions the members of one component. Validators are
// deduplicated by identity, first occurrence wins, so stake is counted once.
func mergeCandidates(members []*Candidate) *Cluster {
	cluster := &Cluster{
		Addresses:        make([]string, 0, len(members)),
		Identities:       make([]Sighting, 0),
		StakedIdentities: make([]string, 0),
		Validators:       make([]*registry.Validator, 0),
	}

	seenIdentity := make(map[string]bool)
	seenValidator := make(map[string]bool)

	for _, m := range members {
		cluster.Addresses = append(cluster.Addresses, m.Address)
		cluster.Identities = append(cluster.Identities, m.Identities...)

		for _, identity := range m.StakedIdentities {
			if !seenIdentity[identity] {
				seenIdentity[identity] = true
				cluster.StakedIdentities = append(cluster.StakedIdentities, identity)
			}
		}
		for _, v := range m.Validators {
			if !seenValidator[v.IdentityPubkey] {
				seenValidator[v.IdentityPubkey] = true
				cluster.Validators = append(cluster.Validators, v)
			}
		}
	}

	sort.Strings(cluster.Addresses)
	sort.Strings(cluster.StakedIdentities)
	sortValidators(cluster.Validators)
	cluster.TotalStake, cluster.TotalStakeUI = sumStake(cluster.Validators)
	return cluster
}

func sortClusters(clusters []*Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].TotalStake != clusters[j].TotalStake {
			return clusters[i].TotalStake > clusters[j].TotalStake
		}
		return clusters[i].Addresses[0] < clusters[j].Addresses[0]
	})
}
