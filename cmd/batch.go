package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/s0up4200/wxapi/wechat"
)

var (
	batchKey         string
	batchConcurrency int
	batchFailedOnly  bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch PATH VALUE...",
	Short: "Call one GET endpoint for many values concurrently",
	Long: `Issue one GET to {api_entry}PATH per VALUE, with VALUE passed as the --key
parameter. All requests share a single access token fetch.

Successful responses are filtered with --filter, --preset or
filter.default_expression and printed as a JSON array. Failures are reported
on stderr and do not stop the batch.

Example:
  wxapi batch user/info O1 O2 O3 --key openid --filter 'subscribe == 1' --select nickname`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchKey, "key", "k", "openid", "query parameter that receives each value")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "maximum concurrent requests (default from config)")
	batchCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter shared by every request")
	batchCmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression")
	batchCmd.Flags().StringVar(&preset, "preset", "", "use a preset filter from config")
	batchCmd.Flags().StringVarP(&selectExpr, "select", "s", "", "expression selecting the value to print")
	batchCmd.Flags().BoolVar(&batchFailedOnly, "failed", false, "only report failed requests")
}

func runBatch(cmd *cobra.Command, args []string) error {
	path, values := args[0], args[1:]

	shared, err := parseParams(params)
	if err != nil {
		return err
	}

	match, err := resolveFilter()
	if err != nil {
		return err
	}

	limit := batchConcurrency
	if limit <= 0 {
		limit = cfg.Batch.Concurrency
	}

	reqs := buildBatchRequests(path, batchKey, values, shared)

	logger.Info().
		Str("path", path).
		Int("requests", len(reqs)).
		Int("concurrency", limit).
		Str("filter", match.Expression()).
		Msg("Running batch")

	ctx := context.Background()
	results := client.BatchGet(ctx, reqs, limit)

	var payloads []wechat.Payload
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s=%s: %v\n", batchKey, r.Request.Params.Get(batchKey), r.Err)
			continue
		}
		payloads = append(payloads, r.Payload)
	}

	if batchFailedOnly {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d of %d requests failed\n", failed, len(results))
		return nil
	}

	matches, err := filters.Evaluator().Evaluate(ctx, match, payloads)
	if err != nil {
		return fmt.Errorf("failed to filter results: %w", err)
	}

	if err := printBatch(cmd.OutOrStdout(), matches); err != nil {
		return err
	}

	logger.Info().
		Int("succeeded", len(payloads)).
		Int("failed", failed).
		Int("matched", len(matches)).
		Msg("Batch complete")

	if failed == len(results) {
		return fmt.Errorf("all %d requests failed", failed)
	}
	return nil
}

// buildBatchRequests creates one request per value. shared is copied into
// every request and is not modified.
func buildBatchRequests(path, key string, values []string, shared url.Values) []wechat.GetRequest {
	reqs := make([]wechat.GetRequest, 0, len(values))
	for _, v := range values {
		q := make(url.Values, len(shared)+1)
		for k, vs := range shared {
			q[k] = append([]string(nil), vs...)
		}
		q[key] = []string{v}
		reqs = append(reqs, wechat.GetRequest{Path: path, Params: q})
	}
	return reqs
}

func printBatch(w io.Writer, payloads []wechat.Payload) error {
	if selectExpr == "" {
		if payloads == nil {
			payloads = []wechat.Payload{}
		}
		return printJSON(w, payloads)
	}

	sel, err := filters.Compiler().CompileSelector(selectExpr)
	if err != nil {
		return fmt.Errorf("invalid select expression: %w", err)
	}

	selected := make([]any, 0, len(payloads))
	for _, p := range payloads {
		v, err := sel.Select(p)
		if err != nil {
			return err
		}
		selected = append(selected, v)
	}
	return printJSON(w, selected)
}
