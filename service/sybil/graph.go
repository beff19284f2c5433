package sybil

import (
	"fmt"
	"math"
	"sort"

	"github.com/brojonat/sybilwatch/service/registry"
)

// Node groups used by the co-occurrence graph.
const (
	GroupSFDPAndJito = "SFDPandJito"
	GroupSFDP        = "SFDP"
	GroupJito        = "JITO"
	GroupRegular     = "Regular"
)

// GraphNode is a staked identity in the co-occurrence graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Title string `json:"title"`
	Value uint64 `json:"value"`
}

// GraphEdge links two staked identities observed at the same address.
type GraphEdge struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
	Title string `json:"title"`
}

// Graph is a vis-network style document.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildCooccurrenceGraph connects every pair of staked identities that were
// ever observed at the same address, over all addresses (not just candidates).
// This is a broader signal than Aggregate and is reported separately.
// reg must carry observed addresses (see Registry.WithObservedAddresses).
func BuildCooccurrenceGraph(reg *registry.Registry) *Graph {
	byAddress := make(map[string][]string)
	for _, identity := range reg.Identities() {
		v, _ := reg.Get(identity)
		for _, ip := range v.IPs {
			byAddress[ip] = append(byAddress[ip], identity)
		}
	}

	addresses := make([]string, 0, len(byAddress))
	for ip := range byAddress {
		addresses = append(addresses, ip)
	}
	sort.Strings(addresses)

	graph := &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	linked := make(map[string]bool)

	for _, ip := range addresses {
		identities := byAddress[ip] // already sorted: built from reg.Identities()
		for i := 0; i < len(identities); i++ {
			for j := i + 1; j < len(identities); j++ {
				from, to := identities[i], identities[j]
				graph.Edges = append(graph.Edges, GraphEdge{
					ID:    fmt.Sprintf("edge:%s::%s::%s", from, to, ip),
					From:  from,
					To:    to,
					Label: ip,
					Title: "Shared IP: " + ip,
				})
				linked[from] = true
				linked[to] = true
			}
		}
	}

	for _, identity := range reg.Identities() {
		if !linked[identity] {
			continue
		}
		v, _ := reg.Get(identity)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:    identity,
			Label: shortLabel(identity),
			Group: nodeGroup(v),
			Title: nodeTitle(v),
			Value: uint64(math.Round(v.ActivatedStakeUI)),
		})
	}

	sort.Slice(graph.Edges, func(i, j int) bool {
		return graph.Edges[i].ID < graph.Edges[j].ID
	})
	return graph
}

func nodeGroup(v *registry.Validator) string {
	switch {
	case v.SFDPApproved() && v.JitoStakePool:
		return GroupSFDPAndJito
	case v.SFDPApproved():
		return GroupSFDP
	case v.JitoStakePool:
		return GroupJito
	default:
		return GroupRegular
	}
}

func nodeTitle(v *registry.Validator) string {
	jito := "no"
	if v.JitoStakePool {
		jito = "yes"
	}
	sfdp := "Not participant"
	if v.SFDPParticipant && v.SFDPStatus != nil {
		sfdp = *v.SFDPStatus
	}
	return fmt.Sprintf("Identity: %s\nVote: %s\nStake: %.3f SOL\nJito pool: %s\nJito stake: %.3f SOL\nSFDP: %s",
		v.IdentityPubkey, v.VoteAccountPubkey, v.ActivatedStakeUI, jito, v.JitoStakeUI, sfdp)
}

func shortLabel(identity string) string {
	r := []rune(identity)
	if len(r) > 8 {
		r = r[:8]
	}
	return string(r)
}

// WriteFile writes the graph to path atomically, like Report.WriteFile.
func (g *Graph) WriteFile(path string) error {
	return writeJSONAtomic(path, g)
}
