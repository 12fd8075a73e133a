package wechat

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is used when BatchGet is given a non-positive limit
const DefaultBatchConcurrency = 10

// BatchGet issues independent GETs concurrently, at most limit at a time.
// Results keep the order of reqs. Failures are reported per request and do
// not stop the batch. All requests share the client's single token fetch.
func (c *Client) BatchGet(ctx context.Context, reqs []GetRequest, limit int) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			payload, apiErr := c.get(ctx, req.Path, req.Params)
			results[i] = BatchResult{
				Request: req,
				Payload: payload,
				Err:     apiErr,
			}
			return nil
		})
	}

	// Individual failures are carried in results
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.logger.Debug().
		Int("requested", len(reqs)).
		Int("failed", failed).
		Msg("Completed batch of WeChat API requests")

	return results
}
