package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hupe1980/agentdispatch/core"
)

const (
	// DefaultAuthority is the public Entra ID authority host.
	DefaultAuthority = "https://login.microsoftonline.com"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// EntraOptions configures the Entra ID confidential client.
type EntraOptions struct {
	Authority    string
	TenantID     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// TokenURL returns the v2.0 token endpoint of the tenant.
func (o EntraOptions) TokenURL() string {
	authority := o.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authority, "/"), url.PathEscape(o.TenantID))
}

// NewEntraClientFactory returns a ClientFactory producing Entra ID
// confidential clients that perform the on-behalf-of grant.
func NewEntraClientFactory(opts EntraOptions) ClientFactory {
	return ClientFactoryFunc(func(context.Context) (ConfidentialClient, error) {
		if opts.ClientID == "" || opts.ClientSecret == "" || opts.TenantID == "" {
			return nil, fmt.Errorf("%w: entra tenant, client id and secret are required", core.ErrMissingDependency)
		}
		return &entraClient{opts: opts}, nil
	})
}

type entraClient struct {
	opts EntraOptions
}

// AcquireTokenOnBehalfOf implements ConfidentialClient.
func (c *entraClient) AcquireTokenOnBehalfOf(ctx context.Context, scopes []string, assertion string) (AccessToken, error) {
	if assertion == "" {
		return AccessToken{}, fmt.Errorf("empty user assertion")
	}
	cfg := clientcredentials.Config{
		ClientID:     c.opts.ClientID,
		ClientSecret: c.opts.ClientSecret,
		TokenURL:     c.opts.TokenURL(),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type":          {jwtBearerGrant},
			"requested_token_use": {"on_behalf_of"},
			"assertion":           {assertion},
		},
	}
	if c.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	expires := tok.Expiry
	if expires.IsZero() {
		expires = tokenExpiry(tok.AccessToken)
	}
	return AccessToken{Token: tok.AccessToken, ExpiresOn: expires, Scopes: scopes}, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. The zero time is returned for opaque tokens.
func tokenExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
