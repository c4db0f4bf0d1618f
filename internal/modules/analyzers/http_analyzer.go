package analyzers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DefaultRateLimit is the default requests per second to the scoring service
const DefaultRateLimit = 5

// HTTPAnalyzer scores one component by calling a remote scoring service:
// POST {base}/score/{component} with {"symbol": ...}
type HTTPAnalyzer struct {
	client    *resty.Client
	limiter   *rate.Limiter
	component string
}

var _ domain.Analyzer = (*HTTPAnalyzer)(nil)

// HTTPOption configures an HTTPAnalyzer
type HTTPOption func(*HTTPAnalyzer)

// WithRateLimit sets requests per second
func WithRateLimit(requestsPerSecond float64) HTTPOption {
	return func(a *HTTPAnalyzer) {
		if requestsPerSecond > 0 {
			burst := int(requestsPerSecond)
			if burst < 1 {
				burst = 1
			}
			a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

// WithLimiter shares a limiter across analyzers hitting the same service
func WithLimiter(l *rate.Limiter) HTTPOption {
	return func(a *HTTPAnalyzer) {
		if l != nil {
			a.limiter = l
		}
	}
}

// NewHTTPAnalyzer creates a remote analyzer for component
func NewHTTPAnalyzer(baseURL, component string, opts ...HTTPOption) *HTTPAnalyzer {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	a := &HTTPAnalyzer{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		component: component,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type scoreRequest struct {
	Symbol string `json:"symbol"`
}

type scoreResponse struct {
	Details    map[string]float64 `json:"details"`
	Confidence string             `json:"confidence"`
	Score      float64            `json:"score"`
	Price      float64            `json:"price"`
	Support    float64            `json:"support"`
	Resistance float64            `json:"resistance"`
}

// Name implements domain.Analyzer
func (a *HTTPAnalyzer) Name() string {
	return a.component
}

// Analyze implements domain.Analyzer
func (a *HTTPAnalyzer) Analyze(ctx context.Context, symbol string) (domain.ComponentResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	var body scoreResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(scoreRequest{Symbol: symbol}).
		SetResult(&body).
		Post("/score/" + a.component)
	if err != nil {
		return domain.ComponentResult{}, fmt.Errorf("failed to score %s for %s: %w", a.component, symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.ComponentResult{}, fmt.Errorf("scoring service error %d: %s", resp.StatusCode(), resp.String())
	}

	result := domain.ComponentResult{
		Name:       a.component,
		Score:      body.Score,
		Confidence: parseConfidence(body.Confidence),
		Details:    body.Details,
	}
	if body.Price > 0 {
		result.Levels = &domain.PriceLevels{
			Price:      body.Price,
			Support:    body.Support,
			Resistance: body.Resistance,
		}
	}

	return result, nil
}

func parseConfidence(s string) domain.ConfidenceLevel {
	switch domain.ConfidenceLevel(s) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceMedium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
