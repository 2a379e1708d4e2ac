package fetcher

import "context"

// Source retrieves the latest analysis snapshot for a product in a region.
type Source interface {
	FetchAnalysis(ctx context.Context, model, region string) (Analysis, error)
}
