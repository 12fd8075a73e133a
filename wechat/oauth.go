package wechat

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// OAuth endpoints of the platform
const (
	AuthorizeURL = "https://open.weixin.qq.com/connect/oauth2/authorize"
	TokenURL     = "https://api.weixin.qq.com/sns/oauth2/access_token"
	UserInfoURL  = "https://api.weixin.qq.com/sns/userinfo"
)

// Endpoint is the platform's authorization-code endpoint
var Endpoint = oauth2.Endpoint{
	AuthURL:  AuthorizeURL,
	TokenURL: TokenURL,
}

// userInfoLang is fixed; the profile is always requested in zh_CN
const userInfoLang = "zh_CN"

type codeExchange struct {
	AppID     string `url:"appid"`
	Secret    string `url:"secret"`
	Code      string `url:"code"`
	GrantType string `url:"grant_type"`
}

type userInfoQuery struct {
	AccessToken string `url:"access_token"`
	OpenID      string `url:"openid"`
	Lang        string `url:"lang"`
}

// OAuth implements the user authorization-code flow. It works with tokens
// passed in by the caller and never uses the app-level token.
type OAuth struct {
	creds       Credentials
	endpoint    oauth2.Endpoint
	userInfoURL string
	tr          *transport
}

// NewOAuth creates a standalone authorization-code client for applications
// that only sign users in and never call the API with the app-level token.
func NewOAuth(appID, appSecret string, logger zerolog.Logger, opts ...Option) (*OAuth, error) {
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

	creds := Credentials{AppID: appID, AppSecret: appSecret, APIEntry: o.apiEntry}
	logger = logger.With().Str("component", "wechat-oauth").Str("app_id", appID).Logger()
	return newOAuth(creds, o, newTransport(o, logger)), nil
}

func newOAuth(creds Credentials, opts clientOptions, tr *transport) *OAuth {
	return &OAuth{
		creds:       creds,
		endpoint:    opts.oauthEndpoint,
		userInfoURL: opts.userInfoURL,
		tr:          tr,
	}
}

// AuthorizationURL builds the consent page URL. The redirect URI is escaped
// completely, including '/'. An empty State still yields "state=".
func (o *OAuth) AuthorizationURL(req AuthorizationRequest) string {
	scope := req.Scope
	if scope == "" {
		scope = ScopeUserInfo
	}
	return fmt.Sprintf("%s?appid=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s#wechat_redirect",
		o.endpoint.AuthURL,
		o.creds.AppID,
		escapeAll(req.RedirectURI),
		scope,
		req.State,
	)
}

// ExchangeCode trades an authorization code for a user-scoped token. The
// payload carries access_token, refresh_token and openid; see UserToken.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (Payload, error) {
	params, err := query.Values(codeExchange{
		AppID:     o.creds.AppID,
		Secret:    o.creds.AppSecret,
		Code:      code,
		GrantType: "authorization_code",
	})
	if err != nil {
		return nil, o.tr.report(ctx, "oauth exchange", newInvalidRequestError(err))
	}

	payload, apiErr := o.tr.get(ctx, "oauth exchange", o.endpoint.TokenURL, params)
	if apiErr != nil {
		return nil, apiErr
	}
	return payload, nil
}

// UserInfo fetches the profile of the user identified by openID.
func (o *OAuth) UserInfo(ctx context.Context, userAccessToken, openID string) (Payload, error) {
	params, err := query.Values(userInfoQuery{
		AccessToken: userAccessToken,
		OpenID:      openID,
		Lang:        userInfoLang,
	})
	if err != nil {
		return nil, o.tr.report(ctx, "oauth userinfo", newInvalidRequestError(err))
	}

	payload, apiErr := o.tr.get(ctx, "oauth userinfo", o.userInfoURL, params)
	if apiErr != nil {
		return nil, apiErr
	}
	return payload, nil
}

// escapeAll percent-encodes every reserved character. url.QueryEscape leaves
// only unreserved characters alone but writes spaces as '+'.
func escapeAll(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
