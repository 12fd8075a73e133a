package wechat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/go-querystring/query"
	"golang.org/x/sync/singleflight"
)

const tokenFlightKey = "access_token"

// credentialGrant is the query of the credential-grant request
type credentialGrant struct {
	GrantType string `url:"grant_type"`
	AppID     string `url:"appid"`
	Secret    string `url:"secret"`
}

// TokenManager owns the app-level access token. The token is fetched on first
// use and reused for the lifetime of the manager; a failed fetch caches nothing.
type TokenManager struct {
	creds    Credentials
	tokenURL string
	params   url.Values
	tr       *transport

	mu      sync.Mutex
	cached  string
	lastErr *APIError

	group singleflight.Group
}

func newTokenManager(creds Credentials, opts clientOptions, tr *transport) *TokenManager {
	tokenURL := opts.tokenURL
	if tokenURL == "" {
		tokenURL = creds.APIEntry + "token"
	}
	return &TokenManager{
		creds:    creds,
		tokenURL: tokenURL,
		params:   opts.tokenParams,
		tr:       tr,
	}
}

// AccessToken returns the cached token, fetching it on first use. The second
// result is false when the token could not be obtained.
func (m *TokenManager) AccessToken(ctx context.Context) (string, bool) {
	tok, err := m.token(ctx)
	return tok, err == nil
}

// Cached returns the cached token without fetching.
func (m *TokenManager) Cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached, m.cached != ""
}

// LastError returns the error of the most recent failed fetch, if any.
func (m *TokenManager) LastError() *APIError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// token returns the cached token or the error of the fetch this call joined.
// Concurrent callers share a single in-flight request.
func (m *TokenManager) token(ctx context.Context) (string, *APIError) {
	if tok, ok := m.Cached(); ok {
		return tok, nil
	}

	// The fetch outlives any one caller so a cancelled waiter does not fail
	// the others; each waiter still honours its own context.
	fetchCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(tokenFlightKey, func() (any, error) {
		if tok, ok := m.Cached(); ok {
			return tok, nil
		}
		tok, apiErr := m.fetch(fetchCtx)
		m.mu.Lock()
		defer m.mu.Unlock()
		if apiErr != nil {
			m.lastErr = apiErr
			return "", apiErr
		}
		m.cached = tok
		m.lastErr = nil
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var apiErr *APIError
			if errors.As(res.Err, &apiErr) {
				return "", apiErr
			}
			return "", newRequestFailedError(res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", newRequestFailedError(ctx.Err())
	}
}

func (m *TokenManager) fetch(ctx context.Context) (string, *APIError) {
	payload, apiErr := m.grant(ctx, nil)
	if apiErr != nil {
		m.tr.logger.Warn().
			Int("code", apiErr.Code).
			Str("app_id", m.creds.AppID).
			Msg("Failed to obtain access token")
		return "", apiErr
	}

	var resp AccessTokenResponse
	if err := payload.Decode(&resp); err != nil {
		return "", m.tr.report(ctx, "token", newInvalidResponseError(err))
	}
	if resp.AccessToken == "" {
		return "", m.tr.report(ctx, "token", newInvalidResponseError(errors.New("access_token missing from response")))
	}

	m.tr.logger.Debug().
		Str("app_id", m.creds.AppID).
		Int64("expires_in", resp.ExpiresIn).
		Msg("Obtained access token")
	return resp.AccessToken, nil
}

// FetchAccessToken performs the credential-grant request without touching the
// cache. extra is merged after the configured parameters.
func (m *TokenManager) FetchAccessToken(ctx context.Context, extra url.Values) (Payload, error) {
	payload, apiErr := m.grant(ctx, extra)
	if apiErr != nil {
		return nil, apiErr
	}
	return payload, nil
}

func (m *TokenManager) grant(ctx context.Context, extra url.Values) (Payload, *APIError) {
	params, err := query.Values(credentialGrant{
		GrantType: "client_credential",
		AppID:     m.creds.AppID,
		Secret:    m.creds.AppSecret,
	})
	if err != nil {
		return nil, m.tr.report(ctx, "token", newInvalidRequestError(fmt.Errorf("failed to encode grant: %w", err)))
	}
	for k, v := range m.params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	return m.tr.get(ctx, "token", m.tokenURL, params)
}
