package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

const (
	// DefaultTokenServiceURL is the public Bot Framework token service.
	DefaultTokenServiceURL = "https://token.botframework.com"

	// VerifyStateInvoke is the invoke name carrying a sign-in magic code.
	VerifyStateInvoke = "signin/verifyState"

	oauthCardContentType = "application/vnd.microsoft.card.oauth"
)

var magicCode = regexp.MustCompile(`^\d{6}$`)

// TokenServiceOptions configures a TokenService.
type TokenServiceOptions struct {
	BaseURL string
	// HTTPClient must authenticate as the bot, see BotCredentials.Client.
	HTTPClient *http.Client
	AppID      string
	CardTitle  string
	CardText   string
	Now        func() time.Time
	Logger     logging.Logger
}

// TokenService is an Identity backed by the Bot Framework user token
// service for one OAuth connection.
type TokenService struct {
	connectionName string
	opts           TokenServiceOptions
}

var _ Identity = (*TokenService)(nil)

// NewTokenService creates a TokenService for connectionName.
func NewTokenService(connectionName string, optFns ...func(o *TokenServiceOptions)) (*TokenService, error) {
	if connectionName == "" {
		return nil, core.MissingDependency("oauth connection name")
	}
	opts := TokenServiceOptions{
		BaseURL:    DefaultTokenServiceURL,
		HTTPClient: http.DefaultClient,
		CardTitle:  "Sign In",
		CardText:   "Custom SignIn Message",
		Now:        time.Now,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &TokenService{connectionName: connectionName, opts: opts}, nil
}

// BeginChallenge implements Identity.
func (s *TokenService) BeginChallenge(ctx context.Context, turn *core.Turn) (*Token, error) {
	tok, err := s.GetToken(ctx, turn.Activity, "")
	if err != nil || tok != nil {
		return tok, err
	}
	res, err := s.signInResource(ctx, turn.Activity)
	if err != nil {
		return nil, err
	}
	card, err := s.oauthCard(res)
	if err != nil {
		return nil, err
	}
	out := core.Activity{Type: core.ActivityTypeMessage, Attachments: card, InputHint: "acceptingInput"}
	if err := turn.Send(ctx, out); err != nil {
		return nil, err
	}
	s.opts.Logger.Debug("auth.tokenservice.challenge_sent", "connection", s.connectionName)
	return nil, nil
}

// ContinueChallenge implements Identity. The magic code is read from a six
// digit message or a verify-state invoke.
func (s *TokenService) ContinueChallenge(ctx context.Context, turn *core.Turn, expires time.Time) (*Token, error) {
	if s.opts.Now().After(expires) {
		return nil, core.ErrAuthTimeout
	}
	code := MagicCode(turn.Activity)
	return s.GetToken(ctx, turn.Activity, code)
}

// SignOut implements Identity.
func (s *TokenService) SignOut(ctx context.Context, turn *core.Turn) error {
	q := s.userQuery(turn.Activity)
	resp, err := s.do(ctx, http.MethodDelete, "/api/usertoken/SignOut", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return statusError("sign out", resp)
	}
	return nil
}

// GetToken returns the user's token for the connection, exchanging code
// when non-empty. nil is returned when the service holds no token.
func (s *TokenService) GetToken(ctx context.Context, a core.Activity, code string) (*Token, error) {
	q := s.userQuery(a)
	if code != "" {
		q.Set("code", code)
	}
	resp, err := s.do(ctx, http.MethodGet, "/api/usertoken/GetToken", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 300:
		return nil, statusError("get token", resp)
	}
	var wire struct {
		Token          string `json:"token"`
		ConnectionName string `json:"connectionName"`
		Expiration     string `json:"expiration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if wire.Token == "" {
		return nil, nil
	}
	tok := &Token{Value: wire.Token, ConnectionName: wire.ConnectionName}
	if exp, err := time.Parse(time.RFC3339, wire.Expiration); err == nil {
		tok.Expiration = exp
	}
	return tok, nil
}

// MagicCode extracts a sign-in magic code from a turn, or "".
func MagicCode(a core.Activity) string {
	if a.Type == core.ActivityTypeInvoke && a.Name == VerifyStateInvoke {
		var v struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(a.Value, &v); err == nil {
			return v.State
		}
		return ""
	}
	if a.IsMessage() {
		if t := strings.TrimSpace(a.Text); magicCode.MatchString(t) {
			return t
		}
	}
	return ""
}

type signInResource struct {
	SignInLink            string          `json:"signInLink"`
	TokenExchangeResource json.RawMessage `json:"tokenExchangeResource,omitempty"`
}

func (s *TokenService) signInResource(ctx context.Context, a core.Activity) (signInResource, error) {
	state, err := s.signInState(a)
	if err != nil {
		return signInResource{}, err
	}
	resp, err := s.do(ctx, http.MethodGet, "/api/botsignin/GetSignInResource", url.Values{"state": {state}})
	if err != nil {
		return signInResource{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return signInResource{}, statusError("get sign-in resource", resp)
	}
	var res signInResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return signInResource{}, fmt.Errorf("decoding sign-in resource: %w", err)
	}
	return res, nil
}

func (s *TokenService) signInState(a core.Activity) (string, error) {
	state := map[string]any{
		"ConnectionName": s.connectionName,
		"Conversation": map[string]any{
			"activityId":   a.ID,
			"user":         a.From,
			"bot":          a.Recipient,
			"conversation": a.Conversation,
			"channelId":    a.ChannelID,
			"serviceUrl":   a.ServiceURL,
		},
		"MsAppId": s.opts.AppID,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding sign-in state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *TokenService) oauthCard(res signInResource) (json.RawMessage, error) {
	content := map[string]any{
		"text":           s.opts.CardText,
		"connectionName": s.connectionName,
		"buttons": []map[string]string{
			{"type": "signin", "title": s.opts.CardTitle, "value": res.SignInLink},
		},
	}
	if len(res.TokenExchangeResource) > 0 {
		content["tokenExchangeResource"] = res.TokenExchangeResource
	}
	return json.Marshal([]map[string]any{{"contentType": oauthCardContentType, "content": content}})
}

func (s *TokenService) userQuery(a core.Activity) url.Values {
	q := url.Values{"connectionName": {s.connectionName}, "channelId": {a.ChannelID}}
	if a.From != nil {
		q.Set("userId", a.From.ID)
	}
	return q
}

func (s *TokenService) do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.opts.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building token service request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token service: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("token service %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
