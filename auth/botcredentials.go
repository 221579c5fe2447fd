package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// BotFrameworkScope is the scope of tokens accepted by the Bot
	// Framework connector and token services.
	BotFrameworkScope = "https://api.botframework.com/.default"

	defaultBotTenant = "botframework.com"
)

// BotCredentials are the app credentials of the dispatcher bot itself.
type BotCredentials struct {
	AppID     string
	AppSecret string
	// TenantID selects a single-tenant bot registration; empty means the
	// multi-tenant botframework.com tenant.
	TenantID  string
	Authority string
	Scope     string
}

// Enabled reports whether credentials are configured. Without them outbound
// calls are anonymous, which only the local emulator accepts.
func (c BotCredentials) Enabled() bool { return c.AppID != "" && c.AppSecret != "" }

// TokenSource returns a cached, auto-refreshing token source for the bot.
func (c BotCredentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.config().TokenSource(ctx)
}

// Client returns an HTTP client attaching bot tokens to every request. base
// is used for the underlying transport when non-nil.
func (c BotCredentials) Client(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if !c.Enabled() {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, c.TokenSource(ctx))
}

func (c BotCredentials) config() *clientcredentials.Config {
	tenant := c.TenantID
	if tenant == "" {
		tenant = defaultBotTenant
	}
	scope := c.Scope
	if scope == "" {
		scope = BotFrameworkScope
	}
	return &clientcredentials.Config{
		ClientID:     c.AppID,
		ClientSecret: c.AppSecret,
		TokenURL:     EntraOptions{Authority: c.Authority, TenantID: tenant}.TokenURL(),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}
