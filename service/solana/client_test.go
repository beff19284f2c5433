package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brojonat/sybilwatch/service/gossip"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	nodes        []*rpc.GetClusterNodesResult
	voteAccounts *rpc.GetVoteAccountsResult
	errs         []error // returned in order, one per call, before succeeding
	calls        int
}

func (m *mockRPCClient) nextErr() error {
	m.calls++
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockRPCClient) GetClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.nodes, nil
}

func (m *mockRPCClient) GetVoteAccounts(ctx context.Context, opts *rpc.GetVoteAccountsOpts) (*rpc.GetVoteAccountsResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.voteAccounts, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(mock, "test", nil, logger)
	c.backoff = func(int, bool) time.Duration { return time.Millisecond }
	return c
}

func strPtr(s string) *string { return &s }

var (
	identityA = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	identityB = solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	voteA     = solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
)

func TestClusterNodes(t *testing.T) {
	mock := &mockRPCClient{
		nodes: []*rpc.GetClusterNodesResult{
			{
				Pubkey:     identityA,
				Gossip:     strPtr("1.2.3.4:8001"),
				TPU:        strPtr("1.2.3.4:8004"),
				RPC:        strPtr("1.2.3.4:8899"),
				Version:    strPtr("2.1.0"),
				FeatureSet: 42,
			},
			{Pubkey: identityB},
			{Pubkey: solana.PublicKey{}, Gossip: strPtr("5.6.7.8:8001")},
			nil,
		},
	}

	nodes, err := newTestClient(mock).ClusterNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	a := nodes[0]
	assert.Equal(t, identityA.String(), a.IdentityPubkey)
	require.NotNil(t, a.IPAddress)
	assert.Equal(t, "1.2.3.4", *a.IPAddress)
	assert.Equal(t, uint16(8001), *a.GossipPort)
	assert.Equal(t, uint16(8004), *a.TPUPort)
	assert.Equal(t, "1.2.3.4:8899", *a.RPCHost)
	assert.Equal(t, uint32(42), *a.FeatureSet)

	b := nodes[1]
	assert.Nil(t, b.IPAddress)
	assert.Nil(t, b.GossipPort)
	assert.Nil(t, b.FeatureSet)
}

func TestSplitAddr(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort uint16
		wantOK   bool
	}{
		{"1.2.3.4:8001", "1.2.3.4", 8001, true},
		{"[2001:db8::1]:8001", "2001:db8::1", 8001, true},
		{"1.2.3.4", "", 0, false},
		{"example.com:8001", "", 0, false},
		{"1.2.3.4:99999", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port, ok := splitAddr(tt.addr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestRecordSnapshot(t *testing.T) {
	dir := t.TempDir()
	mock := &mockRPCClient{
		nodes: []*rpc.GetClusterNodesResult{
			{Pubkey: identityA, Gossip: strPtr("1.2.3.4:8001")},
			{Pubkey: identityB, Gossip: strPtr("1.2.3.5:8001")},
		},
	}
	capturedAt := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	path, count, err := newTestClient(mock).RecordSnapshot(context.Background(), dir, capturedAt)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "20250304T050607Z.json", gossip.SnapshotFileName(capturedAt))
	assert.FileExists(t, path)

	snap, err := gossip.ReadSnapshotFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20250304T050607Z.json", snap.Label)
	assert.Equal(t, []gossip.Observation{
		{Identity: identityA.String(), Address: "1.2.3.4"},
		{Identity: identityB.String(), Address: "1.2.3.5"},
	}, snap.Observations)
}

func TestRecordSnapshot_RPCErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("connection refused")
	mock := &mockRPCClient{errs: []error{boom, boom, boom}}

	_, _, err := newTestClient(mock).RecordSnapshot(context.Background(), dir, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, maxAttempts, mock.calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	mock := &mockRPCClient{
		errs:  []error{errors.New("429 Too Many Requests")},
		nodes: []*rpc.GetClusterNodesResult{{Pubkey: identityA}},
	}

	nodes, err := newTestClient(mock).ClusterNodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Equal(t, 2, mock.calls)
}

func TestCall_ContextCanceledDuringBackoff(t *testing.T) {
	mock := &mockRPCClient{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	c := newTestClient(mock)
	c.backoff = func(int, bool) time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ClusterNodes(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.calls)
}

func TestFetchActiveValidators(t *testing.T) {
	mock := &mockRPCClient{
		voteAccounts: &rpc.GetVoteAccountsResult{
			Current: []rpc.VoteAccountsResult{
				{NodePubkey: identityA, VotePubkey: voteA, ActivatedStake: 5_000_000_000, Commission: 7, LastVote: 100, RootSlot: 68},
			},
			Delinquent: []rpc.VoteAccountsResult{
				{NodePubkey: identityB, VotePubkey: identityB, ActivatedStake: 0},
			},
		},
	}

	validators, err := newTestClient(mock).FetchActiveValidators(context.Background())
	require.NoError(t, err)
	require.Len(t, validators, 2)

	a := validators[0]
	assert.Equal(t, identityA.String(), a.IdentityPubkey)
	assert.Equal(t, voteA.String(), a.VoteAccountPubkey)
	require.NotNil(t, a.ActivatedStake)
	assert.Equal(t, uint64(5_000_000_000), *a.ActivatedStake)
	assert.JSONEq(t, "7", string(a.Extra["commission"]))
	assert.JSONEq(t, "100", string(a.Extra["lastVote"]))
	assert.JSONEq(t, "false", string(a.Extra["delinquent"]))

	assert.JSONEq(t, "true", string(validators[1].Extra["delinquent"]))

	// the written entries round trip through the registry's reader format
	data, err := json.Marshal(a)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, identityA.String(), doc["identityPubkey"])
	assert.EqualValues(t, 7, doc["commission"])
}

func TestFetchActiveValidators_EmptyResult(t *testing.T) {
	_, err := newTestClient(&mockRPCClient{}).FetchActiveValidators(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty result")
}
