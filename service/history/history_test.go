package history

import (
	"fmt"
	"testing"

	"github.com/brojonat/sybilwatch/service/gossip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stakedSet map[string]bool

func (s stakedSet) IsStaked(identity string) bool { return s[identity] }

func snapshot(label string, obs ...string) *gossip.Snapshot {
	snap := &gossip.Snapshot{Label: label}
	for i := 0; i+1 < len(obs); i += 2 {
		snap.Observations = append(snap.Observations, gossip.Observation{Identity: obs[i], Address: obs[i+1]})
	}
	return snap
}

func identities(h *AddressHistory) []string {
	out := make([]string, 0, len(h.Entries))
	for _, e := range h.Entries {
		out = append(out, e.Identity)
	}
	return out
}

func TestBuild_CompressesAcrossSnapshots(t *testing.T) {
	var snaps []*gossip.Snapshot
	for i, id := range []string{"A", "A", "B", "B", "A"} {
		snaps = append(snaps, snapshot(fmt.Sprintf("%03d.json", i), id, "1.1.1.1"))
	}

	res := Build(snaps, stakedSet{"A": true, "B": true})

	h := res.Histories["1.1.1.1"]
	require.NotNil(t, h)
	assert.Equal(t, []string{"A", "B", "A"}, identities(h))
	assert.Equal(t, []string{"000.json", "002.json", "004.json"}, []string{h.Entries[0].Snapshot, h.Entries[1].Snapshot, h.Entries[2].Snapshot})
	assert.True(t, h.Flagged())
	assert.Equal(t, []string{"1.1.1.1"}, res.Flagged)
	assert.Equal(t, 5, res.Snapshots)
	assert.Equal(t, 5, res.Observations)
}

func TestBuild_StableAddressNotFlagged(t *testing.T) {
	res := Build([]*gossip.Snapshot{
		snapshot("1", "A", "1.1.1.1", "B", "2.2.2.2"),
		snapshot("2", "A", "1.1.1.1", "B", "2.2.2.2"),
	}, stakedSet{"A": true})

	assert.Empty(t, res.Flagged)
	assert.Len(t, res.Histories, 2)
	assert.False(t, res.Histories["1.1.1.1"].Flagged())
	assert.True(t, res.Histories["1.1.1.1"].Entries[0].IsStaked)
	assert.False(t, res.Histories["2.2.2.2"].Entries[0].IsStaked)
}

func TestBuild_OrderSensitive(t *testing.T) {
	s1 := snapshot("1", "A", "1.1.1.1")
	s2 := snapshot("2", "B", "1.1.1.1")
	s3 := snapshot("3", "A", "1.1.1.1")

	forward := Build([]*gossip.Snapshot{s1, s3, s2}, stakedSet{})
	assert.Equal(t, []string{"A", "B"}, identities(forward.Histories["1.1.1.1"]))

	interleaved := Build([]*gossip.Snapshot{s1, s2, s3}, stakedSet{})
	assert.Equal(t, []string{"A", "B", "A"}, identities(interleaved.Histories["1.1.1.1"]))
}

func TestBuild_ObservedAddresses(t *testing.T) {
	res := Build([]*gossip.Snapshot{
		snapshot("1", "A", "2.2.2.2", "U", "3.3.3.3"),
		snapshot("2", "A", "1.1.1.1", "A", "2.2.2.2"),
	}, stakedSet{"A": true})

	assert.Equal(t, map[string][]string{"A": {"2.2.2.2", "1.1.1.1"}}, res.ObservedAddresses)
}

func TestBuild_SkipsEmptyAddress(t *testing.T) {
	res := Build([]*gossip.Snapshot{snapshot("1", "A", "")}, stakedSet{"A": true})
	assert.Empty(t, res.Histories)
	assert.Zero(t, res.Observations)
}

func TestBuilder_IncrementalMatchesBatch(t *testing.T) {
	snaps := []*gossip.Snapshot{
		snapshot("1", "A", "1.1.1.1", "C", "2.2.2.2"),
		snapshot("2", "B", "1.1.1.1", "C", "2.2.2.2"),
		snapshot("3", "B", "1.1.1.1", "D", "2.2.2.2"),
	}
	staked := stakedSet{"A": true, "B": true}

	b := NewBuilder(staked)
	for _, s := range snaps {
		b.Add(s)
	}
	assert.Equal(t, Build(snaps, staked), b.Result())
}

func TestCompress(t *testing.T) {
	in := []Entry{{Identity: "A"}, {Identity: "A"}, {Identity: "B"}, {Identity: "B"}, {Identity: "A"}}
	once := Compress(in)
	assert.Equal(t, []Entry{{Identity: "A"}, {Identity: "B"}, {Identity: "A"}}, once)
	assert.Equal(t, once, Compress(once))
	assert.Empty(t, Compress(nil))
}

func TestStakedIdentities(t *testing.T) {
	h := &AddressHistory{Entries: []Entry{
		{Identity: "B", IsStaked: true},
		{Identity: "U"},
		{Identity: "A", IsStaked: true},
		{Identity: "B", IsStaked: true},
	}}
	assert.Equal(t, []string{"A", "B"}, h.StakedIdentities())
}
