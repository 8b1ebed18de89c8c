// Package edge implements the request filter that sits in front of the
// manifest gate and static hosting. It hides manifest URLs from generic
// crawlers by swapping the file extension and only decodes it for Apple
// install agents. The User-Agent check is advisory obfuscation and can be
// spoofed; it is not an access-control boundary.
package edge

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/R3E-Network/ipa_gateway/internal/errors"
	"github.com/R3E-Network/ipa_gateway/internal/httputil"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
)

const (
	// InstallAction is the query action that triggers a relay.
	InstallAction = "download-manifest"
	// ReservedPrefix paths are redirected to the landing page.
	ReservedPrefix = "/plist"
	// DefaultUserAgentPattern matches Apple install agents.
	DefaultUserAgentPattern = `iPhone|iPad|iPod|iTunes|Safari`
	// DefaultLandingPath receives redirected manifest links.
	DefaultLandingPath = "/install"
	// DefaultAttachmentFilename is sent with relayed manifests.
	DefaultAttachmentFilename = "manifest.plist"
	// RelayContentType is sent with relayed manifests.
	RelayContentType = "application/x-plist"
)

// Kind is the outcome of inspecting a request.
type Kind int

const (
	PassThrough Kind = iota
	Redirect
	Relay
	Deny
)

func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass"
	case Redirect:
		return "redirect"
	case Relay:
		return "relay"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is what the filter will do with a request. Target is the
// redirect location for Redirect and the decoded upstream URL for Relay.
type Decision struct {
	Kind   Kind
	Target string
	Reason string
}

// Recorder receives filter metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordEdgeDecision(decision string)
	RelayRecorder
}

// Config configures a Filter. Zero values take the package defaults.
type Config struct {
	Marker             string
	LandingPath        string
	AttachmentFilename string
	UserAgentPattern   string
	// AllowedHosts lists the upstream hosts a relay may fetch from. An
	// empty list denies every relay.
	AllowedHosts []string
}

// Filter inspects and rewrites inbound requests.
type Filter struct {
	codec       Codec
	landing     string
	disposition string
	agents      *regexp.Regexp
	hosts       map[string]struct{}
	relayer     *Relayer
	logger      *logging.Logger
	recorder    Recorder
}

// New builds a Filter. relayer may be nil only if relays are never expected;
// relay decisions then fail with UpstreamFailure.
func New(cfg Config, relayer *Relayer, logger *logging.Logger, recorder Recorder) (*Filter, error) {
	pattern := cfg.UserAgentPattern
	if pattern == "" {
		pattern = DefaultUserAgentPattern
	}
	agents, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("user agent pattern: %w", err)
	}

	codec := Codec{Marker: cfg.Marker}
	if strings.Contains(codec.marker(), RealExtension) || strings.Contains(RealExtension, codec.marker()) {
		return nil, fmt.Errorf("marker %q overlaps %q", codec.marker(), RealExtension)
	}

	landing := cfg.LandingPath
	if landing == "" {
		landing = DefaultLandingPath
	}
	if !strings.HasPrefix(landing, "/") || isManifestPath(landing) {
		return nil, fmt.Errorf("landing path %q must be absolute and not a manifest path", landing)
	}

	attachment := cfg.AttachmentFilename
	if attachment == "" {
		attachment = DefaultAttachmentFilename
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": attachment})
	if disposition == "" {
		return nil, fmt.Errorf("attachment filename %q cannot be encoded", attachment)
	}

	hosts := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = struct{}{}
		}
	}

	return &Filter{
		codec:       codec,
		landing:     landing,
		disposition: disposition,
		agents:      agents,
		hosts:       hosts,
		relayer:     relayer,
		logger:      logger,
		recorder:    recorder,
	}, nil
}

// Decide classifies r. It has no side effects. Fetches made by the filter's
// own relayer always pass through.
func (f *Filter) Decide(r *http.Request) Decision {
	if f.relayer != nil && f.relayer.IsSubrequest(r) {
		return Decision{Kind: PassThrough, Reason: "relay subrequest"}
	}

	query := r.URL.Query()
	if query.Get("action") == InstallAction {
		if raw := query.Get("url"); raw != "" && f.codec.Obfuscated(raw) {
			return f.decideRelay(r, f.codec.Decode(raw))
		}
	}

	if isManifestPath(r.URL.Path) {
		return Decision{Kind: Redirect, Target: f.landing + "?url=" + url.QueryEscape(absoluteURL(r))}
	}

	return Decision{Kind: PassThrough}
}

func (f *Filter) decideRelay(r *http.Request, target string) Decision {
	if !f.agents.MatchString(r.UserAgent()) {
		return Decision{Kind: Deny, Reason: "user agent not permitted"}
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return Decision{Kind: Deny, Reason: "method not permitted"}
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Decision{Kind: Deny, Reason: "relay target is not an absolute URL"}
	}
	if _, ok := f.hosts[strings.ToLower(u.Hostname())]; !ok {
		return Decision{Kind: Deny, Reason: "relay host not permitted"}
	}
	return Decision{Kind: Relay, Target: u.String()}
}

// Handler runs the filter ahead of next.
func (f *Filter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := f.Decide(r)
		if f.recorder != nil {
			f.recorder.RecordEdgeDecision(decision.Kind.String())
		}

		switch decision.Kind {
		case Redirect:
			http.Redirect(w, r, decision.Target, http.StatusFound)
		case Deny:
			if f.logger != nil {
				f.logger.LogSecurityEvent(r.Context(), "edge_relay_denied", map[string]interface{}{
					"reason":     decision.Reason,
					"user_agent": r.UserAgent(),
					"path":       r.URL.Path,
				})
			}
			httputil.WriteTextError(w, errors.AccessDenied("Access denied"))
		case Relay:
			f.relay(w, r, decision.Target)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (f *Filter) relay(w http.ResponseWriter, r *http.Request, target string) {
	if f.relayer == nil {
		httputil.WriteTextError(w, errors.UpstreamFailure("Failed to fetch manifest", nil))
		return
	}

	body, err := f.relayer.Fetch(r.Context(), target)
	if err != nil {
		if f.logger != nil {
			f.logger.WithContext(r.Context()).WithError(err).WithField("target", redact(target)).Warn("Manifest relay failed")
		}
		httputil.WriteTextError(w, err)
		return
	}

	w.Header().Set("Content-Type", RelayContentType)
	w.Header().Set("Content-Disposition", f.disposition)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

func isManifestPath(p string) bool {
	return strings.HasSuffix(p, RealExtension) || strings.HasPrefix(p, ReservedPrefix)
}

func absoluteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// redact drops the query so credentials never reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
