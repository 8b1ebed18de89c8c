package edge

import (
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/ipa_gateway/internal/logging"
)

const (
	iPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
	curlUA   = "curl/7.64"
)

type recorder struct {
	mu        sync.Mutex
	decisions []string
	attempts  []string
	relays    int
}

func (r *recorder) RecordEdgeDecision(d string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *recorder) RecordRelayAttempt(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, result)
}

func (r *recorder) RecordRelay(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays++
}

func quietLogger() *logging.Logger {
	return logging.NewWithOutput("test", "error", "json", io.Discard)
}

func upstreamHost(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return u.Hostname()
}

func newTestFilter(t *testing.T, upstream *httptest.Server, rec *recorder) *Filter {
	t.Helper()
	var hosts []string
	if upstream != nil {
		hosts = []string{upstreamHost(t, upstream)}
	}
	relayer := NewRelayer(RelayerConfig{
		Client:   upstreamClient(upstream),
		Timeouts: []time.Duration{time.Second, time.Second},
		Recorder: rec,
	})
	f, err := New(Config{AllowedHosts: hosts}, relayer, quietLogger(), rec)
	require.NoError(t, err)
	return f
}

func upstreamClient(server *httptest.Server) *http.Client {
	if server == nil {
		return nil
	}
	return server.Client()
}

func installRequest(target, userAgent string) *http.Request {
	q := url.Values{}
	q.Set("action", InstallAction)
	q.Set("url", target)
	req := httptest.NewRequest(http.MethodGet, "https://ipa.example.com/?"+q.Encode(), nil)
	req.Header.Set("User-Agent", userAgent)
	return req
}

var passed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
	io.WriteString(w, "origin")
})

func TestRelayForAppleAgent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/manifests/my-app.plist", r.URL.Path)
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, "<plist/>")
	}))
	defer upstream.Close()

	rec := &recorder{}
	f := newTestFilter(t, upstream, rec)

	w := httptest.NewRecorder()
	f.Handler(passed).ServeHTTP(w, installRequest(upstream.URL+"/manifests/my-app.p_list", iPhoneUA))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<plist/>", w.Body.String())
	assert.Equal(t, RelayContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=manifest.plist", w.Header().Get("Content-Disposition"))
	assert.Equal(t, []string{"relay"}, rec.decisions)
	assert.Equal(t, []string{"ok"}, rec.attempts)
	assert.Equal(t, 1, rec.relays)
}

func TestRelayDeniedForCurl(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer upstream.Close()

	f := newTestFilter(t, upstream, &recorder{})

	w := httptest.NewRecorder()
	f.Handler(passed).ServeHTTP(w, installRequest(upstream.URL+"/manifests/my-app.p_list", curlUA))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Access denied", w.Body.String())
	assert.Zero(t, hits)
}

func TestDecide(t *testing.T) {
	f, err := New(Config{AllowedHosts: []string{"cdn.example.com"}}, nil, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		target    string
		userAgent string
		kind      Kind
		reason    string
	}{
		{"relay ipad", "https://cdn.example.com/a.p_list", "Mozilla/5.0 (iPad)", Relay, ""},
		{"relay itunes", "https://CDN.example.com/a.p_list", "iTunes/12.0", Relay, ""},
		{"curl denied", "https://cdn.example.com/a.p_list", curlUA, Deny, "user agent not permitted"},
		{"foreign host", "https://evil.example.net/a.p_list", iPhoneUA, Deny, "relay host not permitted"},
		{"relative url", "/a.p_list", iPhoneUA, Deny, "relay target is not an absolute URL"},
		{"file scheme", "file:///etc/a.p_list", iPhoneUA, Deny, "relay target is not an absolute URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.Decide(installRequest(tt.target, tt.userAgent))
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.kind == Relay {
				assert.True(t, strings.HasSuffix(d.Target, "/a.plist"), "target = %s", d.Target)
			}
		})
	}
}

func TestDecideUnobfuscatedInstallPassesThrough(t *testing.T) {
	f, err := New(Config{}, nil, nil, nil)
	require.NoError(t, err)

	d := f.Decide(installRequest("https://cdn.example.com/api/manifest", iPhoneUA))
	assert.Equal(t, PassThrough, d.Kind)
}

func TestRedirects(t *testing.T) {
	f := newTestFilter(t, nil, &recorder{})

	tests := []struct {
		path   string
		target string
	}{
		{"/apps/my-app.plist", "https://ipa.example.com/apps/my-app.plist"},
		{"/plist/my-app?x=1", "https://ipa.example.com/plist/my-app?x=1"},
		{"/plistings", "https://ipa.example.com/plistings"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "https://ipa.example.com"+tt.path, nil)
			w := httptest.NewRecorder()
			f.Handler(passed).ServeHTTP(w, req)

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, "/install?url="+url.QueryEscape(tt.target), w.Header().Get("Location"))
		})
	}
}

func TestRedirectHonoursForwardedProto(t *testing.T) {
	f := newTestFilter(t, nil, &recorder{})
	req := httptest.NewRequest(http.MethodGet, "http://ipa.example.com/a.plist", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	d := f.Decide(req)
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, "/install?url="+url.QueryEscape("https://ipa.example.com/a.plist"), d.Target)
}

func TestPassThrough(t *testing.T) {
	rec := &recorder{}
	f := newTestFilter(t, nil, rec)

	for _, path := range []string{"/", "/api/plist?id=42&token=x", "/api/generate-token", "/install", "/app.ipa"} {
		w := httptest.NewRecorder()
		f.Handler(passed).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://ipa.example.com"+path, nil))
		assert.Equal(t, http.StatusTeapot, w.Code, path)
		assert.Equal(t, "origin", w.Body.String(), path)
	}
	for _, d := range rec.decisions {
		assert.Equal(t, "pass", d)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Marker: ".plist.x"},
		{UserAgentPattern: "("},
		{LandingPath: "install"},
		{LandingPath: "/plist-landing"},
	}
	for _, cfg := range cases {
		_, err := New(cfg, nil, nil, nil)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pass", PassThrough.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestDecidePassesOwnSubrequests(t *testing.T) {
	relayer := NewRelayer(RelayerConfig{Key: "relay-key"})
	f, err := New(Config{}, relayer, quietLogger(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://ipa.example.com/plist/my-app.plist", nil)
	req.Header.Set(SubrequestHeader, "relay-key")
	assert.Equal(t, PassThrough, f.Decide(req).Kind)

	req.Header.Set(SubrequestHeader, "guessed")
	assert.Equal(t, Redirect, f.Decide(req).Kind)

	other, err := New(Config{}, NewRelayer(RelayerConfig{}), quietLogger(), nil)
	require.NoError(t, err)
	req.Header.Set(SubrequestHeader, "relay-key")
	assert.Equal(t, Redirect, other.Decide(req).Kind)
}

func TestAttachmentFilenameIsMIMEEncoded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<plist/>")
	}))
	defer upstream.Close()

	relayer := NewRelayer(RelayerConfig{Client: upstream.Client()})
	f, err := New(Config{
		AttachmentFilename: "安装 清单.plist",
		AllowedHosts:       []string{upstreamHost(t, upstream)},
	}, relayer, quietLogger(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	f.Handler(passed).ServeHTTP(w, installRequest(upstream.URL+"/my-app.p_list", iPhoneUA))
	require.Equal(t, http.StatusOK, w.Code)

	disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "安装 清单.plist", params["filename"])
	assert.NotContains(t, w.Header().Get("Content-Disposition"), `\u`)
}
