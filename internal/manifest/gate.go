// Package manifest implements the manifest gate: it verifies a download
// credential, resolves the app to its slug and opens <slug>.plist.
package manifest

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
	"github.com/R3E-Network/ipa_gateway/internal/errors"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
	"github.com/R3E-Network/ipa_gateway/internal/token"
)

// ContentType is sent with every served manifest.
const ContentType = "application/xml"

// Outcome labels recorded per request.
const (
	OutcomeServed      = "served"
	OutcomeBadRequest  = "bad_request"
	OutcomeDenied      = "denied"
	OutcomeNotFound    = "not_found"
	OutcomeLookupError = "error"
)

// Verifier validates a credential against the identifier it must be bound to.
// *token.Signer satisfies it.
type Verifier interface {
	Verify(tokenString, appID string) (*token.Claims, error)
}

// Recorder receives gate outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordManifest(outcome string)
}

// Request holds the query parameters of a manifest fetch.
type Request struct {
	ID    string
	Token string
}

// Result is a manifest ready to stream. The caller closes Body.
type Result struct {
	Body        *File
	ContentType string
	Slug        string
	Claims      *token.Claims
}

// Gate serves manifests to holders of a valid credential.
type Gate struct {
	verifier Verifier
	catalog  catalog.Store
	files    Files
	logger   *logging.Logger
	recorder Recorder
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for denied requests.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// NewGate wires a Gate.
func NewGate(verifier Verifier, store catalog.Store, files Files, opts ...Option) *Gate {
	g := &Gate{verifier: verifier, catalog: store, files: files}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serve runs the gate. Every failure returns an *errors.ServiceError and is
// final; nothing is retried.
func (g *Gate) Serve(ctx context.Context, req Request) (*Result, error) {
	id := strings.TrimSpace(req.ID)
	tok := strings.TrimSpace(req.Token)
	if id == "" || tok == "" {
		g.record(OutcomeBadRequest)
		return nil, errors.InvalidRequest("Missing parameters")
	}
	ctx = logging.WithAppID(ctx, id)

	claims, err := g.verifier.Verify(tok, id)
	if err != nil {
		g.record(OutcomeDenied)
		if g.logger != nil {
			g.logger.LogSecurityEvent(ctx, "manifest_credential_rejected", map[string]interface{}{
				"reason": err.Error(),
			})
		}
		if errors.GetServiceError(err) == nil {
			err = errors.InvalidOrExpiredCredential(err)
		}
		return nil, err
	}

	slug, err := g.catalog.Slug(ctx, id)
	if err != nil {
		if stderrors.Is(err, catalog.ErrNotFound) {
			g.record(OutcomeNotFound)
			return nil, errors.NotFound("App not found")
		}
		g.record(OutcomeLookupError)
		return nil, errors.Internal("catalog lookup failed", err)
	}

	file, err := g.files.Open(slug)
	if err != nil {
		if stderrors.Is(err, ErrFileNotFound) {
			g.record(OutcomeNotFound)
			return nil, errors.NotFound("Manifest not found")
		}
		g.record(OutcomeLookupError)
		return nil, errors.Internal("manifest read failed", err)
	}

	g.record(OutcomeServed)
	return &Result{Body: file, ContentType: ContentType, Slug: slug, Claims: claims}, nil
}

func (g *Gate) record(outcome string) {
	if g.recorder != nil {
		g.recorder.RecordManifest(outcome)
	}
}
