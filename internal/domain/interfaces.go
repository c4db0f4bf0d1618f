package domain

import "context"

// Analyzer produces one component score for a symbol.
// Implementations wrap external services and must honour ctx cancellation.
type Analyzer interface {
	// Name is the component name used for weighting (e.g. "technical", "news")
	Name() string

	// Analyze returns the component result for symbol
	Analyze(ctx context.Context, symbol string) (ComponentResult, error)
}

// AnalyzerFunc adapts a plain function into an Analyzer
type AnalyzerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context, symbol string) (ComponentResult, error)
}

// Name implements Analyzer
func (f AnalyzerFunc) Name() string {
	return f.ComponentName
}

// Analyze implements Analyzer
func (f AnalyzerFunc) Analyze(ctx context.Context, symbol string) (ComponentResult, error) {
	return f.Fn(ctx, symbol)
}
