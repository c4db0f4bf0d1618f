package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// counterTTL is how long a day's counter lives after the first request
const counterTTL = 24 * time.Hour

// Usage is the client-facing quota report
type Usage struct {
	ClientID          string `json:"client_id,omitempty"`
	RequestsUsedToday int64  `json:"requests_used_today"`
	DailyLimit        int64  `json:"daily_limit"`
	RequestsRemaining int64  `json:"requests_remaining"`
}

// Service tracks live computations per client per UTC day
type Service struct {
	store Store
	limit int64
	now   func() time.Time
	log   zerolog.Logger
}

// NewService creates a quota service with the given daily cap
func NewService(store Store, dailyLimit int, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		limit: int64(dailyLimit),
		now:   time.Now,
		log:   log.With().Str("service", "quota").Logger(),
	}
}

// SetClock overrides the time source (tests)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// DailyLimit returns the configured cap
func (s *Service) DailyLimit() int64 {
	return s.limit
}

// Key returns the counter key for clientID at the current UTC day
func (s *Service) Key(clientID string) string {
	return fmt.Sprintf("quota:%s:%s", clientID, s.now().UTC().Format("2006-01-02"))
}

// Allow reports whether clientID is still below the daily cap.
// An empty clientID (internal callers) is always allowed.
func (s *Service) Allow(ctx context.Context, clientID string) (bool, error) {
	if clientID == "" {
		return true, nil
	}

	count, err := s.store.Count(ctx, s.Key(clientID))
	if err != nil {
		return false, err
	}
	return count < s.limit, nil
}

// Increment counts one live computation for clientID and returns the new count
func (s *Service) Increment(ctx context.Context, clientID string) (int64, error) {
	if clientID == "" {
		return 0, nil
	}
	return s.store.Incr(ctx, s.Key(clientID), counterTTL)
}

// TryConsume atomically takes one unit of quota. The counter is incremented
// first and compared after, so concurrent callers can never pass the cap;
// an increment that lands over the cap is rolled back.
func (s *Service) TryConsume(ctx context.Context, clientID string) (bool, Usage, error) {
	if clientID == "" {
		return true, Usage{DailyLimit: s.limit, RequestsRemaining: s.limit}, nil
	}

	key := s.Key(clientID)
	count, err := s.store.Incr(ctx, key, counterTTL)
	if err != nil {
		return false, Usage{}, err
	}

	if count > s.limit {
		if _, err := s.store.Decr(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("client_id", clientID).Msg("Failed to roll back quota increment")
		}
		s.log.Info().
			Str("client_id", clientID).
			Int64("daily_limit", s.limit).
			Msg("Daily quota exhausted")
		return false, s.usage(clientID, s.limit), nil
	}

	return true, s.usage(clientID, count), nil
}

// Usage reports today's consumption for clientID
func (s *Service) Usage(ctx context.Context, clientID string) (Usage, error) {
	if clientID == "" {
		return Usage{DailyLimit: s.limit, RequestsRemaining: s.limit}, nil
	}

	count, err := s.store.Count(ctx, s.Key(clientID))
	if err != nil {
		return Usage{}, err
	}
	return s.usage(clientID, count), nil
}

func (s *Service) usage(clientID string, used int64) Usage {
	if used > s.limit {
		used = s.limit
	}
	remaining := s.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		ClientID:          clientID,
		RequestsUsedToday: used,
		DailyLimit:        s.limit,
		RequestsRemaining: remaining,
	}
}
