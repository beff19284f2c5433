package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoSnapshots is returned when a gossip directory holds no snapshot files.
	ErrNoSnapshots = errors.New("no gossip snapshot files found")

	// ErrMissingIdentity is returned for a gossip record without identityPubkey.
	ErrMissingIdentity = errors.New("gossip record is missing identityPubkey")
)

// Node is one record of `solana gossip --output json`.
type Node struct {
	IPAddress      *string `json:"ipAddress"`
	IdentityPubkey string  `json:"identityPubkey"`
	GossipPort     *uint16 `json:"gossipPort,omitempty"`
	TPUPort        *uint16 `json:"tpuPort,omitempty"`
	TPUQUICPort    *uint16 `json:"tpuQuicPort,omitempty"`
	RPCHost        *string `json:"rpcHost,omitempty"`
	Version        *string `json:"version,omitempty"`
	FeatureSet     *uint32 `json:"featureSet,omitempty"`
}

// Observation is a single (identity, address) sighting within a snapshot.
type Observation struct {
	Identity string `json:"identity"`
	Address  string `json:"address"`
}

// Snapshot is one observation round of the gossip network.
// Label is the file name and is used to annotate history entries.
type Snapshot struct {
	Label        string        `json:"label"`
	Observations []Observation `json:"observations"`
}

// snapshotTimeLayout sorts lexicographically in capture order.
const snapshotTimeLayout = "20060102T150405Z"

// SnapshotFileName returns the file name used for a snapshot captured at t.
func SnapshotFileName(t time.Time) string {
	return t.UTC().Format(snapshotTimeLayout) + ".json"
}

// ListSnapshotFiles returns the regular, non-hidden files in dir sorted by path.
// This order is treated as chronological.
func ListSnapshotFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gossip directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		// Hidden files include in-flight snapshots from WriteSnapshotFile.
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSnapshots)
	}

	sort.Strings(files)
	return files, nil
}

// ParseSnapshot decodes a gossip document into a Snapshot labeled label.
// Records without an address are kept out of the observations; records without
// an identity are an error.
func ParseSnapshot(label string, data []byte) (*Snapshot, error) {
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse gossip snapshot %s: %w", label, err)
	}

	snap := &Snapshot{
		Label:        label,
		Observations: make([]Observation, 0, len(nodes)),
	}
	for i, node := range nodes {
		if node.IdentityPubkey == "" {
			return nil, fmt.Errorf("gossip snapshot %s record %d: %w", label, i, ErrMissingIdentity)
		}
		if node.IPAddress == nil || *node.IPAddress == "" {
			continue
		}
		snap.Observations = append(snap.Observations, Observation{
			Identity: node.IdentityPubkey,
			Address:  *node.IPAddress,
		})
	}
	return snap, nil
}

// ReadSnapshotFile reads and parses one gossip snapshot file.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gossip snapshot %s: %w", path, err)
	}
	return ParseSnapshot(filepath.Base(path), data)
}

// WriteSnapshotFile writes nodes to dir using the capture-time file name.
// The file is written under a temporary name first so a partially written
// snapshot never enters the sorted sequence.
func WriteSnapshotFile(dir string, capturedAt time.Time, nodes []Node) (string, error) {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal gossip snapshot: %w", err)
	}

	path := filepath.Join(dir, SnapshotFileName(capturedAt))
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp snapshot in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move snapshot into place %s: %w", path, err)
	}
	return path, nil
}
