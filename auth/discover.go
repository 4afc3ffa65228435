package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Endpoints are the IdP URLs the flow needs.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
}

// Discover resolves the authorize and token endpoints through OIDC
// discovery when the IdP publishes it. Deployments without a discovery
// document configure the URLs explicitly instead.
func Discover(ctx context.Context, issuer string) (Endpoints, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("discover sso endpoints: %w", err)
	}
	ep := provider.Endpoint()
	return Endpoints{
		AuthorizeURL: ep.AuthURL,
		TokenURL:     ep.TokenURL,
	}, nil
}
