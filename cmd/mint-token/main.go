// Command mint-token prints an install URL for one app using the gateway's
// signing configuration. It needs no catalog access.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/R3E-Network/ipa_gateway/internal/config"
	"github.com/R3E-Network/ipa_gateway/internal/issuer"
	"github.com/R3E-Network/ipa_gateway/internal/token"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var envFile, id, ipaName string
	var asJSON bool

	flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this .env file first")
	flagSet.StringVar(&id, "id", "", "app identifier")
	flagSet.StringVar(&ipaName, "ipa-name", "", "asset file name, e.g. App.ipa")
	flagSet.BoolVar(&asJSON, "json", false, "print token, manifest URL, install URL and expiry as JSON")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Decode(envFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateIssuer(); err != nil {
		return err
	}

	signer, err := token.NewSigner(token.Config{
		Secret: []byte(cfg.TokenSecret),
		TTL:    cfg.TokenTTL,
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}
	iss, err := issuer.New(signer, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	result, err := iss.Issue(context.Background(), issuer.Request{ID: id, IPAName: ipaName})
	if err != nil {
		return err
	}

	if !asJSON {
		_, err = fmt.Fprintln(out, result.InstallURL)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"token":       result.Token,
		"manifestUrl": result.ManifestURL,
		"installUrl":  result.InstallURL,
		"expiresAt":   result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
