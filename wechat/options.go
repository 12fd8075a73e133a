package wechat

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Option configures a Client.
type Option func(*clientOptions)

// ErrorHook is called with every normalized APIError.
type ErrorHook func(ctx context.Context, op string, err *APIError)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	apiEntry      string
	timeout       time.Duration
	httpClient    *http.Client
	userAgent     string
	tokenURL      string
	tokenParams   url.Values
	oauthEndpoint oauth2.Endpoint
	userInfoURL   string
	errorHook     ErrorHook
	failFastToken bool
}

func defaultOptions() clientOptions {
	return clientOptions{
		apiEntry:      DefaultAPIEntry,
		timeout:       DefaultTimeout,
		oauthEndpoint: Endpoint,
		userInfoURL:   UserInfoURL,
	}
}

// WithAPIEntry overrides the API prefix, for proxies or alternate deployments.
// The prefix is used verbatim, so it normally ends with a slash.
func WithAPIEntry(entry string) Option {
	return func(o *clientOptions) {
		if entry != "" {
			o.apiEntry = entry
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client. WithTimeout is ignored when set.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(o *clientOptions) {
		o.userAgent = userAgent
	}
}

// WithTokenURL overrides the credential-grant URL. Defaults to {apiEntry}token.
func WithTokenURL(tokenURL string) Option {
	return func(o *clientOptions) {
		o.tokenURL = tokenURL
	}
}

// WithTokenParams adds parameters to every credential-grant request. They are
// applied after the defaults and may override them.
func WithTokenParams(params url.Values) Option {
	return func(o *clientOptions) {
		if o.tokenParams == nil {
			o.tokenParams = url.Values{}
		}
		for k, v := range params {
			o.tokenParams[k] = append([]string(nil), v...)
		}
	}
}

// WithOAuthEndpoint overrides the authorize and code exchange URLs.
func WithOAuthEndpoint(endpoint oauth2.Endpoint) Option {
	return func(o *clientOptions) {
		if endpoint.AuthURL != "" {
			o.oauthEndpoint.AuthURL = endpoint.AuthURL
		}
		if endpoint.TokenURL != "" {
			o.oauthEndpoint.TokenURL = endpoint.TokenURL
		}
	}
}

// WithUserInfoURL overrides the profile URL.
func WithUserInfoURL(userInfoURL string) Option {
	return func(o *clientOptions) {
		if userInfoURL != "" {
			o.userInfoURL = userInfoURL
		}
	}
}

// WithErrorHook registers a hook invoked on every APIError.
func WithErrorHook(hook ErrorHook) Option {
	return func(o *clientOptions) {
		o.errorHook = hook
	}
}

// WithFailFastToken makes Get and Post return the credential-grant error
// instead of sending the request without a token.
func WithFailFastToken() Option {
	return func(o *clientOptions) {
		o.failFastToken = true
	}
}

// Encoding selects how Post serializes its body.
type Encoding string

const (
	// EncodingJSON serializes the body as UTF-8 JSON
	EncodingJSON Encoding = "json"
	// EncodingRaw sends []byte, string or io.Reader bodies unmodified
	EncodingRaw Encoding = "raw"
)

// PostOption configures a single Post call.
type PostOption func(*postOptions)

type postOptions struct {
	encoding Encoding
}

// WithEncoding sets the body encoding for a Post call.
func WithEncoding(enc Encoding) PostOption {
	return func(o *postOptions) {
		o.encoding = enc
	}
}
