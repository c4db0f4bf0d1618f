package coordinator

import (
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/modules/quota"
)

// CacheInfo tells the caller where the record came from and how old it is
type CacheInfo struct {
	CachedAt         *time.Time    `json:"cached_at,omitempty"`
	Source           domain.Source `json:"source"`
	FreshnessMinutes int           `json:"freshness_minutes"`
	StalenessMinutes int           `json:"staleness_minutes,omitempty"`
	IsStale          bool          `json:"is_stale"`
}

// ErrorInfo is the structured failure returned when no source could serve the request
type ErrorInfo struct {
	Kind        domain.ErrorKind `json:"kind"`
	Message     string           `json:"message"`
	Suggestions []string         `json:"suggestions"`
}

// Result is the response envelope. The record fields are flattened into the
// envelope; on the error tier the record is nil and Error is set.
type Result struct {
	*domain.AnalysisRecord
	Quota     *quota.Usage `json:"quota,omitempty"`
	Error     *ErrorInfo   `json:"error,omitempty"`
	Symbol    string       `json:"symbol"`
	Warnings  []string     `json:"warnings"`
	CacheInfo CacheInfo    `json:"cache_info"`
}

// Record returns the analysis record, nil on the error tier
func (r *Result) Record() *domain.AnalysisRecord {
	return r.AnalysisRecord
}

// Source returns the tier that produced the result
func (r *Result) Source() domain.Source {
	return r.CacheInfo.Source
}

// IsError reports whether every source was exhausted
func (r *Result) IsError() bool {
	return r.CacheInfo.Source == domain.SourceError
}
