package domain

import "errors"

// ErrorKind classifies degraded and failed states surfaced to callers
type ErrorKind string

const (
	// ErrorKindComponentFailure - one analyzer erred or timed out, replaced by a neutral substitute
	ErrorKindComponentFailure ErrorKind = "component_failure"
	// ErrorKindTierUnavailable - a cache or persistent store call failed
	ErrorKindTierUnavailable ErrorKind = "tier_unavailable"
	// ErrorKindQuotaExceeded - live compute denied for the client today
	ErrorKindQuotaExceeded ErrorKind = "quota_exceeded"
	// ErrorKindAllSourcesExhausted - nothing to return; the only hard failure
	ErrorKindAllSourcesExhausted ErrorKind = "all_sources_exhausted"
	// ErrorKindInvalidSymbol - the request named something that cannot be a ticker
	ErrorKindInvalidSymbol ErrorKind = "invalid_symbol"
	// ErrorKindClassificationItem - one symbol failed inside a classification batch
	ErrorKindClassificationItem ErrorKind = "classification_batch_item_failure"
)

var (
	// ErrInvalidWeights is returned when configured component weights do not sum to 100
	ErrInvalidWeights = errors.New("component weights must sum to 100")

	// ErrInvalidSymbol is returned for empty or malformed symbols
	ErrInvalidSymbol = errors.New("invalid symbol")
)
