package wechat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// redactedParams are never written to logs
var redactedParams = []string{"secret", "access_token"}

// transport issues one HTTP call per operation and normalizes the response.
// It is shared by the dispatcher, the token manager and the OAuth flow.
type transport struct {
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
	errorHook  ErrorHook
}

func newTransport(opts clientOptions, logger zerolog.Logger) *transport {
	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.timeout}
	}
	return &transport{
		httpClient: httpClient,
		userAgent:  opts.userAgent,
		logger:     logger,
		errorHook:  opts.errorHook,
	}
}

// get issues a GET to rawURL with params merged into its query string
func (t *transport) get(ctx context.Context, op, rawURL string, params url.Values) (Payload, *APIError) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, t.report(ctx, op, newInvalidRequestError(fmt.Errorf("failed to parse url: %w", err)))
	}
	if len(params) > 0 {
		query := u.Query()
		for k, v := range params {
			query[k] = v
		}
		// Encode sorts by key
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, t.report(ctx, op, newInvalidRequestError(fmt.Errorf("failed to create request: %w", err)))
	}
	return t.do(ctx, op, req)
}

// post issues a POST of body to rawURL, which is used as given
func (t *transport) post(ctx context.Context, op, rawURL string, body io.Reader) (Payload, *APIError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, t.report(ctx, op, newInvalidRequestError(fmt.Errorf("failed to create request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(ctx, op, req)
}

func (t *transport) do(ctx context.Context, op string, req *http.Request) (Payload, *APIError) {
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	t.logger.Debug().
		Str("op", op).
		Str("method", req.Method).
		Str("url", redactURL(req.URL)).
		Msg("Making WeChat API request")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, t.report(ctx, op, newRequestFailedError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.report(ctx, op, newRequestFailedError(fmt.Errorf("failed to read response body: %w", err)))
	}

	t.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Received WeChat API response")

	payload, apiErr := Normalize(resp.StatusCode, body)
	if apiErr != nil {
		return nil, t.report(ctx, op, apiErr)
	}
	return payload, nil
}

// report logs the error and passes it to the error hook
func (t *transport) report(ctx context.Context, op string, apiErr *APIError) *APIError {
	event := t.logger.Error().
		Str("op", op).
		Int("code", apiErr.Code)
	if apiErr.Err != nil {
		event = event.Err(apiErr.Err)
	}
	event.Msgf("wechat api error: [%d], %s", apiErr.Code, apiErr.Message)

	if t.errorHook != nil {
		t.errorHook(ctx, op, apiErr)
	}
	return apiErr
}

// redactURL hides credentials in the query string. The raw query is scanned
// for "key=" anywhere, since Post may glue access_token= onto a previous value.
func redactURL(u *url.URL) string {
	raw := u.RawQuery
	for _, key := range redactedParams {
		raw = redactParam(raw, key+"=")
	}
	if raw == u.RawQuery {
		return u.String()
	}
	clone := *u
	clone.RawQuery = raw
	return clone.String()
}

// redactParam replaces every non-empty value following marker, up to the next '&'
func redactParam(raw, marker string) string {
	var b strings.Builder
	for {
		i := strings.Index(raw, marker)
		if i < 0 {
			b.WriteString(raw)
			return b.String()
		}
		b.WriteString(raw[:i+len(marker)])
		raw = raw[i+len(marker):]

		end := strings.IndexByte(raw, '&')
		if end < 0 {
			end = len(raw)
		}
		if end > 0 {
			b.WriteString("REDACTED")
		}
		raw = raw[end:]
	}
}
