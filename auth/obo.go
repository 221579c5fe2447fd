package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

// AccessToken is a downstream-scoped token minted by an on-behalf-of exchange.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
	Scopes    []string
}

// ConfidentialClient exchanges a user assertion for a token scoped to
// another service.
type ConfidentialClient interface {
	AcquireTokenOnBehalfOf(ctx context.Context, scopes []string, assertion string) (AccessToken, error)
}

// ClientFactory constructs confidential clients for a connection.
type ClientFactory interface {
	NewConfidentialClient(ctx context.Context) (ConfidentialClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context) (ConfidentialClient, error)

// NewConfidentialClient implements ClientFactory.
func (f ClientFactoryFunc) NewConfidentialClient(ctx context.Context) (ConfidentialClient, error) {
	return f(ctx)
}

// Exchanger performs on-behalf-of exchanges, caching the constructed
// confidential client per connection key.
//
// The cache takes no lock: a lookup evicts the entry and the client is stored
// back after use, so concurrent turns may each build their own client. The
// redundant construction is harmless.
type Exchanger struct {
	factory ClientFactory
	clients sync.Map // connection key -> ConfidentialClient
	logger  logging.Logger
}

// NewExchanger creates an Exchanger building clients through factory.
func NewExchanger(factory ClientFactory, logger logging.Logger) (*Exchanger, error) {
	if factory == nil {
		return nil, core.MissingDependency("confidential client factory")
	}
	return &Exchanger{factory: factory, logger: logging.OrNoOp(logger)}, nil
}

// ExchangeOnBehalfOf mints a token for scope from the user's assertion.
func (e *Exchanger) ExchangeOnBehalfOf(ctx context.Context, connectionKey, assertion, scope string) (AccessToken, error) {
	if scope == "" {
		return AccessToken{}, fmt.Errorf("on-behalf-of exchange: empty scope")
	}
	client, err := e.client(ctx, connectionKey)
	if err != nil {
		return AccessToken{}, err
	}
	tok, err := client.AcquireTokenOnBehalfOf(ctx, []string{scope}, assertion)
	if err != nil {
		return AccessToken{}, fmt.Errorf("on-behalf-of exchange: %w", err)
	}
	return tok, nil
}

func (e *Exchanger) client(ctx context.Context, key string) (ConfidentialClient, error) {
	if v, ok := e.clients.LoadAndDelete(key); ok {
		client := v.(ConfidentialClient)
		e.clients.Store(key, client)
		return client, nil
	}
	client, err := e.factory.NewConfidentialClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating confidential client: %w", err)
	}
	if client == nil {
		return nil, core.MissingDependency("confidential client")
	}
	e.clients.Store(key, client)
	e.logger.Debug("auth.obo.client_created", "connection_key", key)
	return client, nil
}
