package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultAPIEntry is the standard API prefix
	DefaultAPIEntry = "https://api.weixin.qq.com/cgi-bin/"
	// DefaultTimeout bounds every HTTP call
	DefaultTimeout = 30 * time.Second
)

// Credentials identify the application to the platform
type Credentials struct {
	AppID     string
	AppSecret string
	APIEntry  string
}

// Client represents a WeChat API client
type Client struct {
	creds         Credentials
	tr            *transport
	tokens        *TokenManager
	oauth         *OAuth
	failFastToken bool
	logger        zerolog.Logger
}

// NewClient creates a new WeChat client. No request is made until the first call.
func NewClient(appID, appSecret string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if appSecret == "" {
		return nil, ErrMissingAppSecret
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	creds := Credentials{
		AppID:     appID,
		AppSecret: appSecret,
		APIEntry:  o.apiEntry,
	}

	logger = logger.With().Str("component", "wechat").Str("app_id", appID).Logger()
	tr := newTransport(o, logger)

	return &Client{
		creds:         creds,
		tr:            tr,
		tokens:        newTokenManager(creds, o, tr),
		oauth:         newOAuth(creds, o, tr),
		failFastToken: o.failFastToken,
		logger:        logger,
	}, nil
}

// Credentials returns the credentials the client was built with
func (c *Client) Credentials() Credentials {
	return c.creds
}

// Tokens returns the client's token manager
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// OAuth returns the user authorization flow for the same application
func (c *Client) OAuth() *OAuth {
	return c.oauth
}

// AccessToken returns the app-level access token, fetching it on first use
func (c *Client) AccessToken(ctx context.Context) (string, bool) {
	return c.tokens.AccessToken(ctx)
}

// currentToken resolves the token for a call. An unavailable token yields ""
// and the request still goes out, unless fail-fast is enabled.
func (c *Client) currentToken(ctx context.Context) (string, *APIError) {
	tok, apiErr := c.tokens.token(ctx)
	if apiErr == nil {
		return tok, nil
	}
	if c.failFastToken {
		return "", apiErr
	}
	c.logger.Warn().Int("code", apiErr.Code).Msg("Sending request without access token")
	return "", nil
}

// Get issues an authenticated GET to apiEntry+path. params is not modified.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (Payload, error) {
	payload, apiErr := c.get(ctx, path, params)
	if apiErr != nil {
		return nil, apiErr
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (Payload, *APIError) {
	tok, apiErr := c.currentToken(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	merged := make(url.Values, len(params)+1)
	for k, v := range params {
		merged[k] = append([]string(nil), v...)
	}
	if tok != "" {
		merged.Set("access_token", tok)
	} else {
		merged.Del("access_token")
	}

	return c.tr.get(ctx, "get "+path, c.creds.APIEntry+path, merged)
}

// Post issues an authenticated POST to apiEntry+path. The token is appended
// to the path as a literal query suffix. The body is JSON-encoded unless
// WithEncoding(EncodingRaw) is given.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...PostOption) (Payload, error) {
	o := postOptions{encoding: EncodingJSON}
	for _, opt := range opts {
		opt(&o)
	}

	op := "post " + path
	reader, err := encodeBody(body, o.encoding)
	if err != nil {
		return nil, c.tr.report(ctx, op, newInvalidRequestError(err))
	}

	tok, apiErr := c.currentToken(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	payload, apiErr := c.tr.post(ctx, op, c.postURL(path, tok), reader)
	if apiErr != nil {
		return nil, apiErr
	}
	return payload, nil
}

// postURL appends the token to whatever the caller passed as path
func (c *Client) postURL(path, tok string) string {
	if strings.Contains(path, "?") {
		return c.creds.APIEntry + path + "access_token=" + tok
	}
	return c.creds.APIEntry + path + "?access_token=" + tok
}

func encodeBody(body any, enc Encoding) (io.Reader, error) {
	switch enc {
	case EncodingJSON, "":
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
	case EncodingRaw:
		switch b := body.(type) {
		case nil:
			return http.NoBody, nil
		case []byte:
			return bytes.NewReader(b), nil
		case string:
			return strings.NewReader(b), nil
		case io.Reader:
			return b, nil
		default:
			return nil, fmt.Errorf("raw body must be []byte, string or io.Reader, got %T", body)
		}
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}
