package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/sybil"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxIdentityLength = 64 // base58 pubkeys are 32-44 chars
	defaultRunLimit   = 20
	maxRunLimit       = 500
	defaultClusterCap = 100
	maxClusterCap     = 1000
)

// handleGetLatestReport returns a handler that serves the latest report.
// GET /api/v1/report/latest?summary=true
func handleGetLatestReport(reports ReportSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, ok := loadReport(w, r, reports, logger)
		if !ok {
			return
		}

		if r.URL.Query().Get("summary") == "true" {
			writeJSON(w, report.Summary(), http.StatusOK)
			return
		}
		writeJSON(w, report, http.StatusOK)
	})
}

// clustersResponse is the body of GET /api/v1/clusters.
type clustersResponse struct {
	GeneratedAt time.Time        `json:"generated_at"`
	MinStake    float64          `json:"min_stake"`
	Total       int              `json:"total"`
	Clusters    []*sybil.Cluster `json:"clusters"`
}

// handleListClusters returns a handler that lists clusters of the latest
// report, largest stake first.
// GET /api/v1/clusters?min_stake={sol}&limit={n}
func handleListClusters(reports ReportSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		minStake, err := parseMinStake(r.URL.Query().Get("min_stake"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"), defaultClusterCap, maxClusterCap)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, ok := loadReport(w, r, reports, logger)
		if !ok {
			return
		}

		clusters := report.ClustersAbove(minStake)
		total := len(clusters)
		if len(clusters) > int(limit) {
			clusters = clusters[:limit]
		}

		logger.Debug("clusters listed", "min_stake", minStake, "total", total, "returned", len(clusters))
		writeJSON(w, clustersResponse{
			GeneratedAt: report.GeneratedAt,
			MinStake:    minStake,
			Total:       total,
			Clusters:    clusters,
		}, http.StatusOK)
	})
}

// handleGetCluster returns a handler that serves one cluster by rank.
// GET /api/v1/clusters/{rank}
func handleGetCluster(reports ReportSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rank, err := strconv.Atoi(r.PathValue("rank"))
		if err != nil || rank < 1 {
			writeError(w, "rank must be a positive integer", http.StatusBadRequest)
			return
		}

		report, ok := loadReport(w, r, reports, logger)
		if !ok {
			return
		}

		if rank > len(report.Clusters) {
			writeError(w, fmt.Sprintf("cluster %d not found", rank), http.StatusNotFound)
			return
		}
		writeJSON(w, report.Clusters[rank-1], http.StatusOK)
	})
}

// handleListRuns returns a handler that lists saved analysis runs, newest first.
// GET /api/v1/runs?limit={n}
func handleListRuns(history HistorySource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"), defaultRunLimit, maxRunLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		runs, err := history.ListRuns(r.Context(), limit)
		if err != nil {
			logger.Error("failed to list runs", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"runs":  runs,
			"count": len(runs),
		}, http.StatusOK)
	})
}

// handleListIdentityClusters returns a handler that lists the saved clusters
// an identity appeared in, newest run first.
// GET /api/v1/identities/{identity}/clusters?limit={n}
func handleListIdentityClusters(history HistorySource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.PathValue("identity")
		if err := validateIdentity(identity); err != nil {
			logger.Debug("invalid identity", "identity", identity, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"), defaultRunLimit, maxRunLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := history.ListClustersByIdentity(r.Context(), identity, limit)
		if err != nil {
			logger.Error("failed to list identity clusters", "identity", identity, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"identity": identity,
			"clusters": records,
			"count":    len(records),
		}, http.StatusOK)
	})
}

// loadReport fetches the latest report, writing the error response on failure.
func loadReport(w http.ResponseWriter, r *http.Request, reports ReportSource, logger *slog.Logger) (*sybil.Report, bool) {
	report, err := reports.GetLatestReport(r.Context())
	if errors.Is(err, db.ErrNoReports) {
		writeError(w, "no report available", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.Error("failed to load report", "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return report, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateIdentity validates a validator identity pubkey.
func validateIdentity(identity string) error {
	if identity == "" {
		return errorf("identity is required")
	}

	if len(identity) > maxIdentityLength {
		return errorf("identity too long: maximum length is %d characters", maxIdentityLength)
	}

	for _, r := range identity {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in identity: control characters not allowed")
		}
	}

	if _, err := solanago.PublicKeyFromBase58(identity); err != nil {
		return errorf("invalid identity: must be a base58 public key")
	}

	return nil
}

// parseMinStake parses a SOL threshold. Empty means no threshold.
func parseMinStake(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errorf("min_stake must be a non-negative number")
	}
	return v, nil
}

// parseLimit parses a page size in [1, maxLimit], falling back to def when empty.
func parseLimit(raw string, def, maxLimit int32) (int32, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 1 {
		return 0, errorf("limit must be a positive integer")
	}
	if int32(v) > maxLimit {
		return 0, errorf("limit cannot exceed %d", maxLimit)
	}
	return int32(v), nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
