// Package analysis provides the durable tier of consensus records.
package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no record matches a lookup
var ErrNotFound = errors.New("analysis record not found")

const recordColumns = `id, symbol, computed_at, expires_at, final_score, recommendation,
	confidence_level, recommendation_strength, score_stddev, risk_level, downside_pct,
	upside_pct, risk_reward_ratio, current_price, stop_loss, take_profit, max_position_pct, components`

// Repository stores AnalysisRecords in analysis.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new analysis repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "analysis").Logger(),
	}
}

// Save inserts a record. Records are immutable, so an existing id is replaced wholesale.
func (r *Repository) Save(ctx context.Context, record *domain.AnalysisRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	components, err := json.Marshal(record.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}

	query := `INSERT OR REPLACE INTO analysis_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.Symbol,
		record.ComputedAt.UnixNano(),
		record.ExpiresAt.UnixNano(),
		record.FinalScore,
		string(record.Recommendation),
		string(record.ConfidenceLevel),
		record.RecommendationStrength,
		record.ScoreStdDev,
		string(record.Risk.RiskLevel),
		record.Risk.DownsidePct,
		record.Risk.UpsidePct,
		record.Risk.RiskRewardRatio,
		record.Risk.CurrentPrice,
		record.Risk.StopLoss,
		record.Risk.TakeProfit,
		record.Risk.MaxPositionPct,
		string(components),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis record for %s: %w", record.Symbol, err)
	}

	r.log.Debug().
		Str("symbol", record.Symbol).
		Str("id", record.ID).
		Float64("score", record.FinalScore).
		Msg("Saved analysis record")

	return nil
}

// GetLatestFresh returns the newest record for symbol computed within maxAge of now
// and not yet past its own expiry. Returns ErrNotFound otherwise.
func (r *Repository) GetLatestFresh(ctx context.Context, symbol string, maxAge time.Duration, now time.Time) (*domain.AnalysisRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM analysis_records
		WHERE symbol = ? AND computed_at >= ? AND expires_at > ?
		ORDER BY computed_at DESC
		LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, symbol, now.Add(-maxAge).UnixNano(), now.UnixNano())
	return scanRecord(row)
}

// GetLatest returns the newest record for symbol regardless of age
func (r *Repository) GetLatest(ctx context.Context, symbol string) (*domain.AnalysisRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM analysis_records
		WHERE symbol = ?
		ORDER BY computed_at DESC
		LIMIT 1`

	return scanRecord(r.db.QueryRowContext(ctx, query, symbol))
}

// History returns up to limit records for symbol, newest first
func (r *Repository) History(ctx context.Context, symbol string, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + recordColumns + ` FROM analysis_records
		WHERE symbol = ?
		ORDER BY computed_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history for %s: %w", symbol, err)
	}

	return records, nil
}

// DeleteOlderThan removes records computed before cutoff and returns the count removed
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM analysis_records WHERE computed_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old analysis records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// Count returns the number of stored records
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count analysis records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		record                  domain.AnalysisRecord
		computedAt, expiresAt   int64
		recommendation, level   string
		riskLevel, componentsJS string
	)

	err := row.Scan(
		&record.ID,
		&record.Symbol,
		&computedAt,
		&expiresAt,
		&record.FinalScore,
		&recommendation,
		&level,
		&record.RecommendationStrength,
		&record.ScoreStdDev,
		&riskLevel,
		&record.Risk.DownsidePct,
		&record.Risk.UpsidePct,
		&record.Risk.RiskRewardRatio,
		&record.Risk.CurrentPrice,
		&record.Risk.StopLoss,
		&record.Risk.TakeProfit,
		&record.Risk.MaxPositionPct,
		&componentsJS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis record: %w", err)
	}

	record.ComputedAt = time.Unix(0, computedAt).UTC()
	record.ExpiresAt = time.Unix(0, expiresAt).UTC()
	record.Recommendation = domain.Recommendation(recommendation)
	record.ConfidenceLevel = domain.ConfidenceLevel(level)
	record.Risk.RiskLevel = domain.RiskLevel(riskLevel)

	if err := json.Unmarshal([]byte(componentsJS), &record.Components); err != nil {
		return nil, fmt.Errorf("failed to unmarshal components for %s: %w", record.Symbol, err)
	}

	return &record, nil
}
