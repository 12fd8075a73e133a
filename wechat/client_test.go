package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID     = "wx1234567890"
	testAppSecret = "test-secret"
)

// platform is a fake API host. The credential grant is served on
// /cgi-bin/token; every other path goes to handle.
type platform struct {
	server *httptest.Server

	tokenStatus int
	tokenBody   string
	tokenGate   chan struct{}
	tokenCalls  atomic.Int32

	mu           sync.Mutex
	tokenQueries []url.Values

	handle func(w http.ResponseWriter, r *http.Request)
}

func newPlatform(t *testing.T) *platform {
	t.Helper()

	p := &platform{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"T","expires_in":7200}`,
	}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cgi-bin/token" {
			p.tokenCalls.Add(1)
			p.mu.Lock()
			p.tokenQueries = append(p.tokenQueries, r.URL.Query())
			p.mu.Unlock()
			if p.tokenGate != nil {
				<-p.tokenGate
			}
			w.WriteHeader(p.tokenStatus)
			io.WriteString(w, p.tokenBody)
			return
		}
		if p.handle == nil {
			http.NotFound(w, r)
			return
		}
		p.handle(w, r)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *platform) entry() string {
	return p.server.URL + "/cgi-bin/"
}

func (p *platform) client(t *testing.T, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithAPIEntry(p.entry())}, opts...)
	client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		appID     string
		appSecret string
		wantErr   error
	}{
		{
			name:      "valid config",
			appID:     testAppID,
			appSecret: testAppSecret,
		},
		{
			name:      "missing app id",
			appSecret: testAppSecret,
			wantErr:   ErrMissingAppID,
		},
		{
			name:    "missing app secret",
			appID:   testAppID,
			wantErr: ErrMissingAppSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.appID, tt.appSecret, zerolog.Nop())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, client)
				return
			}

			require.NoError(t, err)
			creds := client.Credentials()
			assert.Equal(t, tt.appID, creds.AppID)
			assert.Equal(t, tt.appSecret, creds.AppSecret)
			assert.Equal(t, DefaultAPIEntry, creds.APIEntry)
		})
	}
}

func TestClientOptions(t *testing.T) {
	t.Run("with timeout", func(t *testing.T) {
		client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithTimeout(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, client.tr.httpClient.Timeout)
	})

	t.Run("default timeout", func(t *testing.T) {
		client, err := NewClient(testAppID, testAppSecret, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeout, client.tr.httpClient.Timeout)
	})

	t.Run("with custom http client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithHTTPClient(customClient))
		require.NoError(t, err)
		assert.Same(t, customClient, client.tr.httpClient)
	})

	t.Run("with api entry", func(t *testing.T) {
		client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithAPIEntry("https://proxy.example.com/wx/"))
		require.NoError(t, err)
		assert.Equal(t, "https://proxy.example.com/wx/", client.Credentials().APIEntry)
		assert.Equal(t, "https://proxy.example.com/wx/token", client.Tokens().tokenURL)
	})

	t.Run("empty api entry keeps default", func(t *testing.T) {
		client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithAPIEntry(""))
		require.NoError(t, err)
		assert.Equal(t, DefaultAPIEntry, client.Credentials().APIEntry)
	})

	t.Run("with user agent", func(t *testing.T) {
		p := newPlatform(t)
		var got string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("User-Agent")
			writeJSON(w, map[string]any{"errcode": 0})
		}

		client := p.client(t, WithUserAgent("wxapi-test/1.0"))
		_, err := client.Get(context.Background(), "getcallbackip", nil)
		require.NoError(t, err)
		assert.Equal(t, "wxapi-test/1.0", got)
	})
}

func TestGet(t *testing.T) {
	t.Run("token merged into query", func(t *testing.T) {
		p := newPlatform(t)
		var gotPath, gotQuery string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			assert.Equal(t, http.MethodGet, r.Method)
			writeJSON(w, map[string]any{"openid": "O", "nickname": "Band"})
		}

		client := p.client(t)
		tok, ok := client.AccessToken(context.Background())
		require.True(t, ok)
		assert.Equal(t, "T", tok)

		payload, err := client.Get(context.Background(), "/user/info", url.Values{"openid": {"O"}})
		require.NoError(t, err)

		assert.Equal(t, "/cgi-bin//user/info", gotPath)
		// url.Values.Encode sorts keys, so the token leads; order carries no meaning
		assert.Equal(t, "access_token=T&openid=O", gotQuery)
		assert.Equal(t, "Band", payload.GetString("nickname"))
		assert.EqualValues(t, 1, p.tokenCalls.Load())
	})

	t.Run("caller access_token is overwritten and params untouched", func(t *testing.T) {
		p := newPlatform(t)
		var got url.Values
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
			writeJSON(w, map[string]any{"ok": true})
		}

		params := url.Values{"access_token": {"mine"}, "next_openid": {""}}
		client := p.client(t)
		_, err := client.Get(context.Background(), "user/get", params)
		require.NoError(t, err)

		assert.Equal(t, []string{"T"}, got["access_token"])
		assert.True(t, got.Has("next_openid"))
		assert.Equal(t, url.Values{"access_token": {"mine"}, "next_openid": {""}}, params)
	})

	t.Run("nil params", func(t *testing.T) {
		p := newPlatform(t)
		var gotQuery string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			writeJSON(w, map[string]any{"ip_list": []string{"101.226.103.0/25"}})
		}

		client := p.client(t)
		_, err := client.Get(context.Background(), "getcallbackip", nil)
		require.NoError(t, err)
		assert.Equal(t, "access_token=T", gotQuery)
	})

	t.Run("domain error on 200", func(t *testing.T) {
		p := newPlatform(t)
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"errcode":40001,"errmsg":"invalid credential"}`)
		}

		client := p.client(t)
		payload, err := client.Get(context.Background(), "user/info", url.Values{"openid": {"O"}})
		assert.Nil(t, payload)

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 40001, apiErr.Code)
		assert.Equal(t, "invalid credential", apiErr.Message)
		assert.True(t, apiErr.IsInvalidCredential())
	})

	t.Run("http error", func(t *testing.T) {
		p := newPlatform(t)
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{"errcode":0}`)
		}

		client := p.client(t)
		_, err := client.Get(context.Background(), "user/info", nil)

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadGateway, apiErr.Code)
		assert.Equal(t, "http error", apiErr.Message)
	})
}

func TestGetWithoutToken(t *testing.T) {
	p := newPlatform(t)
	p.tokenBody = `{"errcode":40013,"errmsg":"invalid appid"}`

	var hadToken []bool
	var mu sync.Mutex
	p.handle = func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hadToken = append(hadToken, r.URL.Query().Has("access_token"))
		mu.Unlock()
		io.WriteString(w, `{"errcode":41001,"errmsg":"access_token missing"}`)
	}

	client := p.client(t)
	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "user/info", url.Values{"access_token": {"stale"}, "openid": {"O"}})

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 41001, apiErr.Code)
	}

	assert.Equal(t, []bool{false, false}, hadToken)
	assert.EqualValues(t, 2, p.tokenCalls.Load(), "a failed fetch is not cached")

	last := client.Tokens().LastError()
	require.NotNil(t, last)
	assert.Equal(t, 40013, last.Code)
}

func TestFailFastToken(t *testing.T) {
	p := newPlatform(t)
	p.tokenBody = `{"errcode":40125,"errmsg":"invalid appsecret"}`

	called := false
	p.handle = func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, map[string]any{})
	}

	client := p.client(t, WithFailFastToken())

	_, err := client.Get(context.Background(), "user/info", nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 40125, apiErr.Code)

	_, err = client.Post(context.Background(), "menu/create", map[string]any{"button": []any{}})
	apiErr, ok = AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 40125, apiErr.Code)

	assert.False(t, called)
}

func TestPost(t *testing.T) {
	t.Run("json body and token suffix", func(t *testing.T) {
		p := newPlatform(t)
		var gotQuery, gotType, gotBody string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/cgi-bin/menu/create", r.URL.Path)
			gotQuery = r.URL.RawQuery
			gotType = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
		}

		client := p.client(t)
		body := map[string]any{
			"name": "菜单",
			"url":  "https://a.test/?a=1&b=<2>",
		}
		payload, err := client.Post(context.Background(), "menu/create", body)
		require.NoError(t, err)

		assert.Equal(t, "ok", payload.GetString("errmsg"))
		assert.Equal(t, "access_token=T", gotQuery)
		assert.Equal(t, "application/json", gotType)
		assert.Equal(t, `{"name":"菜单","url":"https://a.test/?a=1&b=<2>"}`, gotBody)
	})

	t.Run("path with query string", func(t *testing.T) {
		p := newPlatform(t)
		var gotQuery string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			io.WriteString(w, `{"errcode":0}`)
		}

		client := p.client(t)
		_, err := client.Post(context.Background(), "media/uploadimg?type=image&", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "type=image&access_token=T", gotQuery)
	})

	t.Run("raw body is sent unmodified", func(t *testing.T) {
		p := newPlatform(t)
		var gotBody string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			io.WriteString(w, `{"errcode":0}`)
		}

		client := p.client(t)
		_, err := client.Post(context.Background(), "message/custom/send", `{"touser":"O", "msgtype":"text"}`, WithEncoding(EncodingRaw))
		require.NoError(t, err)
		assert.Equal(t, `{"touser":"O", "msgtype":"text"}`, gotBody)
	})

	t.Run("unsupported raw body", func(t *testing.T) {
		p := newPlatform(t)
		called := false
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			called = true
		}

		client := p.client(t)
		_, err := client.Post(context.Background(), "menu/create", 42, WithEncoding(EncodingRaw))

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInvalidRequest, apiErr.Code)
		assert.False(t, called)
	})

	t.Run("unencodable json body", func(t *testing.T) {
		p := newPlatform(t)
		client := p.client(t)
		_, err := client.Post(context.Background(), "menu/create", map[string]any{"f": func() {}})

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInvalidRequest, apiErr.Code)
	})

	t.Run("absent token leaves an empty value", func(t *testing.T) {
		p := newPlatform(t)
		p.tokenStatus = http.StatusServiceUnavailable

		var gotQuery string
		p.handle = func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			io.WriteString(w, `{"errcode":41001,"errmsg":"access_token missing"}`)
		}

		client := p.client(t)
		_, err := client.Post(context.Background(), "menu/create", map[string]any{})

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 41001, apiErr.Code)
		assert.Equal(t, "access_token=", gotQuery)
	})
}

func TestPostURL(t *testing.T) {
	client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithAPIEntry("https://api.test/cgi-bin/"))
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"/path", "https://api.test/cgi-bin//path?access_token=T"},
		{"/path?foo=1", "https://api.test/cgi-bin//path?foo=1access_token=T"},
		{"/path?foo=1&", "https://api.test/cgi-bin//path?foo=1&access_token=T"},
		{"message/mass/send", "https://api.test/cgi-bin/message/mass/send?access_token=T"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := client.postURL(tt.path, "T")
			assert.Equal(t, tt.want, got)

			u, err := url.Parse(got)
			require.NoError(t, err)
			assert.Equal(t, "api.test", u.Host)
		})
	}
}

func TestRequestFailed(t *testing.T) {
	p := newPlatform(t)
	entry := p.entry()
	p.server.Close()

	client, err := NewClient(testAppID, testAppSecret, zerolog.Nop(), WithAPIEntry(entry))
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "user/info", nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, CodeRequestFailed, apiErr.Code)
	assert.Error(t, apiErr.Unwrap())

	last := client.Tokens().LastError()
	require.NotNil(t, last)
	assert.Equal(t, CodeRequestFailed, last.Code)
}

func TestErrorHook(t *testing.T) {
	p := newPlatform(t)
	p.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	type report struct {
		op   string
		code int
	}
	var reports []report
	hook := func(ctx context.Context, op string, err *APIError) {
		reports = append(reports, report{op: op, code: err.Code})
	}

	client := p.client(t, WithErrorHook(hook))
	_, err := client.Get(context.Background(), "user/info", nil)
	require.Error(t, err)

	assert.Equal(t, []report{{op: "get user/info", code: 500}}, reports)
}

func TestRedactURL(t *testing.T) {
	u, err := url.Parse("https://api.test/cgi-bin/token?appid=wx1&grant_type=client_credential&secret=s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/cgi-bin/token?appid=wx1&grant_type=client_credential&secret=REDACTED", redactURL(u))

	u, err = url.Parse("https://api.test/cgi-bin/user/info?openid=O")
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/cgi-bin/user/info?openid=O", redactURL(u))

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "post suffix",
			raw:  "https://api.test/cgi-bin/menu/create?access_token=T0KEN",
			want: "https://api.test/cgi-bin/menu/create?access_token=REDACTED",
		},
		{
			name: "suffix glued to previous value",
			raw:  "https://api.test/cgi-bin/media/upload?type=image1access_token=T0KEN",
			want: "https://api.test/cgi-bin/media/upload?type=image1access_token=REDACTED",
		},
		{
			name: "suffix after ampersand",
			raw:  "https://api.test/cgi-bin/media/upload?type=image&access_token=T0KEN",
			want: "https://api.test/cgi-bin/media/upload?type=image&access_token=REDACTED",
		},
		{
			name: "absent token stays empty",
			raw:  "https://api.test/cgi-bin/menu/create?access_token=",
			want: "https://api.test/cgi-bin/menu/create?access_token=",
		},
		{
			name: "several credentials",
			raw:  "https://api.test/sns/oauth2/access_token?appid=wx1&secret=S&code=C",
			want: "https://api.test/sns/oauth2/access_token?appid=wx1&secret=REDACTED&code=C",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			got := redactURL(u)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "T0KEN")
		})
	}
}

func TestPostLogRedactsGluedToken(t *testing.T) {
	p := newPlatform(t)
	p.tokenBody = `{"access_token":"SECRETTOKEN","expires_in":7200}`
	p.handle = func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}

	var logs bytes.Buffer
	client, err := NewClient(testAppID, testAppSecret, zerolog.New(&logs).Level(zerolog.DebugLevel),
		WithAPIEntry(p.entry()))
	require.NoError(t, err)

	_, err = client.Post(context.Background(), "media/upload?type=image", map[string]any{})
	require.NoError(t, err)

	assert.NotContains(t, logs.String(), "SECRETTOKEN")
	assert.Contains(t, logs.String(), "access_token=REDACTED")
}
