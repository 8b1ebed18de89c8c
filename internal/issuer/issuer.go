// Package issuer turns an (app id, asset name) pair into a signed,
// time-limited installer URL.
package issuer

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	"github.com/R3E-Network/ipa_gateway/internal/errors"
	"github.com/R3E-Network/ipa_gateway/internal/token"
)

const (
	// ManifestPath is the gate endpoint path embedded in manifest URLs.
	ManifestPath = "/api/plist"
	// InstallScheme prefixes every installer invocation URL.
	InstallScheme = "itms-services://?action=download-manifest&url="
)

// Minter mints credentials. *token.Signer satisfies it.
type Minter interface {
	Mint(appID, ipaName string) (string, *token.Claims, error)
}

// Request is the issuer input.
type Request struct {
	ID      string
	IPAName string
}

// Result is the issuer output.
type Result struct {
	Token       string
	ManifestURL string
	InstallURL  string
	ExpiresAt   time.Time
}

// Issuer builds install URLs on top of a public base URL.
type Issuer struct {
	minter  Minter
	baseURL *neturl.URL
}

// New creates an Issuer. publicBaseURL must be absolute.
func New(minter Minter, publicBaseURL string) (*Issuer, error) {
	if minter == nil {
		return nil, fmt.Errorf("minter is required")
	}
	base, err := neturl.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("public base URL must be absolute: %q", publicBaseURL)
	}
	return &Issuer{minter: minter, baseURL: base}, nil
}

// Issue validates req and mints a fresh credential for it.
func (i *Issuer) Issue(_ context.Context, req Request) (*Result, error) {
	id := strings.TrimSpace(req.ID)
	ipaName := strings.TrimSpace(req.IPAName)
	if id == "" || ipaName == "" {
		return nil, errors.InvalidRequest("Missing parameters")
	}

	signed, claims, err := i.minter.Mint(id, ipaName)
	if err != nil {
		return nil, errors.Internal("Failed to issue token", err)
	}

	manifestURL := i.ManifestURL(id, ipaName, signed)
	return &Result{
		Token:       signed,
		ManifestURL: manifestURL,
		InstallURL:  InstallURL(manifestURL),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// ManifestURL returns the gate URL for one credential.
func (i *Issuer) ManifestURL(id, ipaName, signed string) string {
	u := *i.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + ManifestPath
	u.RawQuery = neturl.Values{
		"id":       {id},
		"ipa_name": {ipaName},
		"token":    {signed},
	}.Encode()
	return u.String()
}

// InstallURL wraps a manifest URL in the platform installer scheme.
func InstallURL(manifestURL string) string {
	return InstallScheme + neturl.QueryEscape(manifestURL)
}
