package device

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sigstreams/document"
)

// GatherReadings reads every readable concurrently and merges the
// results, an explicit join giving the only cross-signal ordering
// guarantee the tree offers.
func GatherReadings(ctx context.Context, readables ...Readable) (map[string]document.Reading, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([]map[string]document.Reading, len(readables))
	for i, r := range readables {
		g.Go(func() error {
			out, err := r.Read(ctx)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := make(map[string]document.Reading)
	for _, out := range results {
		for name, reading := range out {
			merged[name] = reading
		}
	}
	return merged, nil
}

// GatherDataKeys describes every readable concurrently and merges the
// results.
func GatherDataKeys(ctx context.Context, readables ...Readable) (map[string]document.DataKey, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([]map[string]document.DataKey, len(readables))
	for i, r := range readables {
		g.Go(func() error {
			out, err := r.Describe(ctx)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := make(map[string]document.DataKey)
	for _, out := range results {
		for name, key := range out {
			merged[name] = key
		}
	}
	return merged, nil
}
