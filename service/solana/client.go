// Package solana reads the live cluster: gossip membership for snapshots and
// vote accounts for the active-validator list.
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/sybilwatch/service/gossip"
	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetClusterNodes(ctx context.Context) ([]*rpc.GetClusterNodesResult, error)
	GetVoteAccounts(ctx context.Context, opts *rpc.GetVoteAccountsOpts) (*rpc.GetVoteAccountsResult, error)
}

const maxAttempts = 3

// Client wraps the RPC client with the two reads the pipeline needs.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g. rpc host)
	backoff  func(attempt int, rateLimited bool) time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		backoff:  defaultBackoff,
	}
}

// defaultBackoff: 1s, 2s, 4s; rate limits wait twice as long.
func defaultBackoff(attempt int, rateLimited bool) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if rateLimited {
		d *= 2
	}
	return d
}

// ClusterNodes returns the current gossip membership in snapshot-file form.
// Nodes with an unusable identity are skipped with a warning. Nodes without a
// gossip address are kept with a null address, matching `solana gossip`.
func (c *Client) ClusterNodes(ctx context.Context) ([]gossip.Node, error) {
	var result []*rpc.GetClusterNodesResult
	err := c.call(ctx, "GetClusterNodes", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetClusterNodes(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster nodes: %w", err)
	}

	nodes := make([]gossip.Node, 0, len(result))
	skipped := 0
	for _, rn := range result {
		if rn == nil || rn.Pubkey.IsZero() {
			skipped++
			c.logger.WarnContext(ctx, "skipping gossip node with invalid identity")
			continue
		}
		nodes = append(nodes, toGossipNode(rn))
	}

	c.logger.DebugContext(ctx, "fetched cluster nodes",
		"count", len(nodes),
		"skipped", skipped,
	)
	return nodes, nil
}

// RecordSnapshot captures the gossip membership into dir and returns the new file path.
func (c *Client) RecordSnapshot(ctx context.Context, dir string, capturedAt time.Time) (string, int, error) {
	nodes, err := c.ClusterNodes(ctx)
	if err != nil {
		return "", 0, err
	}
	path, err := gossip.WriteSnapshotFile(dir, capturedAt, nodes)
	if err != nil {
		return "", 0, err
	}
	c.logger.InfoContext(ctx, "recorded gossip snapshot", "path", path, "nodes", len(nodes))
	return path, len(nodes), nil
}

// FetchActiveValidators returns current and delinquent vote accounts as
// active-validator entries, current first.
func (c *Client) FetchActiveValidators(ctx context.Context) ([]registry.ActiveValidator, error) {
	var result *rpc.GetVoteAccountsResult
	err := c.call(ctx, "GetVoteAccounts", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetVoteAccounts(ctx, &rpc.GetVoteAccountsOpts{
			Commitment: rpc.CommitmentFinalized,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get vote accounts: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("failed to get vote accounts: empty result")
	}

	out := make([]registry.ActiveValidator, 0, len(result.Current)+len(result.Delinquent))
	for _, va := range result.Current {
		entry, err := toActiveValidator(va, false)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	for _, va := range result.Delinquent {
		entry, err := toActiveValidator(va, true)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}

	c.logger.InfoContext(ctx, "fetched vote accounts",
		"current", len(result.Current),
		"delinquent", len(result.Delinquent),
	)
	return out, nil
}

// call runs fn with retries, recording one metric sample per attempt.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		err = fn(ctx)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		}
		if err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		rateLimited := strings.Contains(err.Error(), "429")
		backoff := c.backoff(attempt, rateLimited)
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"rate_limited", rateLimited,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func toGossipNode(rn *rpc.GetClusterNodesResult) gossip.Node {
	node := gossip.Node{
		IdentityPubkey: rn.Pubkey.String(),
		RPCHost:        rn.RPC,
		Version:        rn.Version,
	}
	if rn.Gossip != nil {
		if host, port, ok := splitAddr(*rn.Gossip); ok {
			node.IPAddress = &host
			node.GossipPort = &port
		}
	}
	if rn.TPU != nil {
		if _, port, ok := splitAddr(*rn.TPU); ok {
			node.TPUPort = &port
		}
	}
	featureSet := rn.FeatureSet
	if featureSet != 0 {
		node.FeatureSet = &featureSet
	}
	return node
}

// splitAddr splits "ip:port", rejecting hosts that are not IP literals.
func splitAddr(addr string) (string, uint16, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) == nil {
		return "", 0, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, false
	}
	return host, uint16(port), true
}

func toActiveValidator(va rpc.VoteAccountsResult, delinquent bool) (registry.ActiveValidator, error) {
	stake := va.ActivatedStake
	entry := registry.ActiveValidator{
		IdentityPubkey:    va.NodePubkey.String(),
		VoteAccountPubkey: va.VotePubkey.String(),
		ActivatedStake:    &stake,
		Extra:             make(map[string]json.RawMessage),
	}

	extras := map[string]interface{}{
		"commission": va.Commission,
		"lastVote":   va.LastVote,
		"rootSlot":   va.RootSlot,
		"delinquent": delinquent,
	}
	for key, value := range extras {
		raw, err := json.Marshal(value)
		if err != nil {
			return registry.ActiveValidator{}, fmt.Errorf("vote account %s: failed to encode %s: %w", entry.VoteAccountPubkey, key, err)
		}
		entry.Extra[key] = raw
	}
	return entry, nil
}
