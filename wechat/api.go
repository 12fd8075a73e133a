package wechat

import (
	"context"
	"net/url"
)

// API defines the authenticated dispatcher operations
type API interface {
	// Get issues an authenticated GET with the token merged into params
	Get(ctx context.Context, path string, params url.Values) (Payload, error)

	// Post issues an authenticated POST with the token appended to path
	Post(ctx context.Context, path string, body any, opts ...PostOption) (Payload, error)

	// BatchGet issues independent GETs concurrently
	BatchGet(ctx context.Context, reqs []GetRequest, limit int) []BatchResult
}

// TokenSource provides the app-level access token
type TokenSource interface {
	// AccessToken returns the token, or false when it could not be obtained
	AccessToken(ctx context.Context) (string, bool)
}

// Authorizer defines the user authorization-code flow
type Authorizer interface {
	// AuthorizationURL builds the consent page URL
	AuthorizationURL(req AuthorizationRequest) string

	// ExchangeCode trades an authorization code for a user token
	ExchangeCode(ctx context.Context, code string) (Payload, error)

	// UserInfo fetches the authorized user's profile
	UserInfo(ctx context.Context, userAccessToken, openID string) (Payload, error)
}

var (
	_ API         = (*Client)(nil)
	_ TokenSource = (*Client)(nil)
	_ TokenSource = (*TokenManager)(nil)
	_ Authorizer  = (*OAuth)(nil)
)
