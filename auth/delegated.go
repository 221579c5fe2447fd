package auth

import (
	"context"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/telemetry"
)

// Delegated composes the sign-in flow with the on-behalf-of exchange: it
// obtains the user's token for the turn and trades it for one scoped to the
// target agent.
type Delegated struct {
	flow          *Flow
	exchanger     *Exchanger
	connectionKey string
}

// NewDelegated creates a Delegated token source. connectionKey identifies
// the confidential client configuration in the exchanger cache.
func NewDelegated(flow *Flow, exchanger *Exchanger, connectionKey string) (*Delegated, error) {
	if flow == nil {
		return nil, core.MissingDependency("sign-in flow")
	}
	if exchanger == nil {
		return nil, core.MissingDependency("token exchanger")
	}
	return &Delegated{flow: flow, exchanger: exchanger, connectionKey: connectionKey}, nil
}

// Flow returns the underlying sign-in flow.
func (d *Delegated) Flow() *Flow { return d.flow }

// DelegatedToken returns a token for scope, or nil when the turn ended
// waiting for the user to sign in.
func (d *Delegated) DelegatedToken(ctx context.Context, turn *core.Turn, scope string) (*AccessToken, error) {
	span := telemetry.FromContext(ctx).Start(telemetry.AreaLoginFlowHandler)
	defer span.End("Complete")

	user, err := d.flow.AcquireUserToken(ctx, turn)
	span.Mark("AcquireUserToken")
	if err != nil || user == nil {
		return nil, err
	}
	tok, err := d.exchanger.ExchangeOnBehalfOf(ctx, d.connectionKey, user.Value, scope)
	if err != nil {
		return nil, err
	}
	span.Mark("AcquireUserOBOToken")
	return &tok, nil
}
