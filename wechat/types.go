package wechat

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/oauth2"
)

// Payload is a decoded success response. Numbers are kept as json.Number so
// large identifiers survive decoding.
type Payload map[string]any

// GetString returns the value of key as a string. Numbers are formatted.
func (p Payload) GetString(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// GetInt returns the value of key as an int64
func (p Payload) GetInt(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Decode copies the payload into out, matching fields by their json tags.
func (p Payload) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// AccessTokenResponse is the credential-grant response
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthorizationRequest describes the page a user is sent to for consent
type AuthorizationRequest struct {
	RedirectURI string
	// Scope defaults to ScopeUserInfo when empty
	Scope string
	State string
}

// OAuth scopes
const (
	ScopeBase     = "snsapi_base"
	ScopeUserInfo = "snsapi_userinfo"
)

// UserToken is the user-scoped token returned by the code exchange
type UserToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"openid"`
	Scope        string `json:"scope"`
	UnionID      string `json:"unionid,omitempty"`
}

// OAuth2Token converts the user token to an oauth2.Token. The expiry is
// relative to issued; openid, scope and unionid travel as extras.
func (t *UserToken) OAuth2Token(issued time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = issued.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]any{
		"openid":  t.OpenID,
		"scope":   t.Scope,
		"unionid": t.UnionID,
	})
}

// Sex values reported by the profile endpoint
const (
	SexUnknown = 0
	SexMale    = 1
	SexFemale  = 2
)

// UserInfo is the authenticated user's profile
type UserInfo struct {
	OpenID     string   `json:"openid"`
	Nickname   string   `json:"nickname"`
	Sex        int      `json:"sex"`
	Province   string   `json:"province"`
	City       string   `json:"city"`
	Country    string   `json:"country"`
	HeadImgURL string   `json:"headimgurl"`
	Privilege  []string `json:"privilege"`
	UnionID    string   `json:"unionid,omitempty"`
}

// GetDisplayName returns the best available display name for the user
func (u *UserInfo) GetDisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.OpenID
}

// GetRequest is one GET issued by BatchGet
type GetRequest struct {
	Path   string
	Params url.Values
}

// BatchResult holds the outcome of one GetRequest. Exactly one of Payload and
// Err is set.
type BatchResult struct {
	Request GetRequest
	Payload Payload
	Err     *APIError
}
