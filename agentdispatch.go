// Package agentdispatch assembles a multi-agent dispatcher from configuration.
//
// An App owns every collaborator of the running system: persistence, the
// agent registry, the delegated sign-in flow, the dispatch loop, the chat
// model with its history and the HTTP server. Most applications build one
// with New, serve App.Server's handler (or drive App.Handler directly, as the
// console does) and Close it on shutdown.
package agentdispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentdispatch/agent"
	"github.com/hupe1980/agentdispatch/auth"
	"github.com/hupe1980/agentdispatch/config"
	"github.com/hupe1980/agentdispatch/connector"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/correlation"
	"github.com/hupe1980/agentdispatch/dispatch"
	"github.com/hupe1980/agentdispatch/history"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/model"
	"github.com/hupe1980/agentdispatch/model/anthropic"
	"github.com/hupe1980/agentdispatch/model/openai"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/server"
	"github.com/hupe1980/agentdispatch/storage"
	"github.com/hupe1980/agentdispatch/telemetry"
	"github.com/hupe1980/agentdispatch/tool"
	"github.com/hupe1980/agentdispatch/transport"
)

// ErrAuthNotConfigured is returned for dispatched turns when no OAuth
// connection is configured.
var ErrAuthNotConfigured = errors.New("delegated auth is not configured")

// Options overrides collaborators that New would otherwise build from the
// configuration.
type Options struct {
	Storage  core.Storage
	Model    model.Model
	Sender   core.ActivitySender
	Identity auth.Identity
	// Tokens replaces the delegated sign-in and on-behalf-of exchange.
	Tokens    dispatch.TokenSource
	Transport transport.Factory
	Sink      telemetry.Sink
	// Tools are offered to the chat model next to the dispatch tools.
	Tools []tool.Tool
	// HTTPClient is the base client for outbound calls.
	HTTPClient *http.Client
	Version    string
	Logger     logging.Logger
	// TraceOutput receives the link trace when logging.trace_links is set.
	TraceOutput io.Writer
}

// App is a fully wired dispatcher.
type App struct {
	Config     *config.Config
	Registry   *registry.Registry
	Storage    core.Storage
	Dispatcher *dispatch.Dispatcher
	Handler    *agent.Handler
	Server     *server.Server
	Logger     logging.Logger

	closers []io.Closer
}

// New wires an App from cfg.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		return nil, core.MissingDependency("config")
	}
	opts := Options{HTTPClient: http.DefaultClient, Version: "dev", TraceOutput: os.Stdout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		l, err := NewLogger(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
		opts.Logger = l
	}
	app := &App{Config: cfg, Logger: opts.Logger}
	if err := app.wire(ctx, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config
	logger := opts.Logger
	tracer := logging.NewLinkTracer(opts.TraceOutput, cfg.Logging.TraceLinks)

	reg, err := registry.New(cfg.Agents)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}
	a.Registry = reg

	a.Storage = opts.Storage
	if a.Storage == nil {
		st, closer, err := OpenStorage(cfg.Storage, logger)
		if err != nil {
			return err
		}
		a.Storage = st
		a.track(closer)
	}

	bot := auth.BotCredentials{
		AppID:     cfg.Bot.AppID,
		AppSecret: cfg.Bot.AppSecret,
		TenantID:  cfg.Bot.TenantID,
		Authority: cfg.Bot.Authority,
		Scope:     cfg.Bot.Scope,
	}
	botClient := opts.HTTPClient
	if bot.Enabled() {
		botClient = bot.Client(ctx, opts.HTTPClient)
	}

	sink := opts.Sink
	if sink == nil {
		s, closer := NewSink(cfg.Telemetry, logger)
		sink = s
		a.track(closer)
	}

	var (
		tokens dispatch.TokenSource
		signIn *auth.Flow
	)
	identity := opts.Identity
	if identity == nil && cfg.Auth.ConnectionName != "" {
		identity, err = auth.NewTokenService(cfg.Auth.ConnectionName, func(o *auth.TokenServiceOptions) {
			if cfg.Bot.TokenServiceURL != "" {
				o.BaseURL = cfg.Bot.TokenServiceURL
			}
			o.HTTPClient = botClient
			o.AppID = cfg.Bot.AppID
			o.Logger = logger
		})
		if err != nil {
			return fmt.Errorf("token service: %w", err)
		}
	}
	if identity != nil {
		signIn, err = auth.NewFlow(a.Storage, identity, func(o *auth.FlowOptions) {
			o.ChallengeTimeout = cfg.Auth.ChallengeTimeout
			o.MaxFlowLifetime = cfg.Auth.MaxFlowLifetime
			o.Logger = logger
			o.Tracer = tracer
		})
		if err != nil {
			return fmt.Errorf("sign-in flow: %w", err)
		}
		exchanger, err := auth.NewExchanger(auth.NewEntraClientFactory(auth.EntraOptions{
			Authority:    cfg.Auth.Authority,
			TenantID:     cfg.Auth.TenantID,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			HTTPClient:   opts.HTTPClient,
		}), logger)
		if err != nil {
			return err
		}
		delegated, err := auth.NewDelegated(signIn, exchanger, cfg.Auth.OBOConnectionKey)
		if err != nil {
			return err
		}
		tokens = delegated
	}
	if opts.Tokens != nil {
		tokens = opts.Tokens
	}
	if tokens == nil {
		tokens = dispatch.TokenSourceFunc(func(context.Context, *core.Turn, string) (*auth.AccessToken, error) {
			return nil, ErrAuthNotConfigured
		})
	}

	links, err := correlation.New(a.Storage, func(o *correlation.Options) {
		o.Logger = logger
		o.Tracer = tracer
	})
	if err != nil {
		return err
	}

	factory := opts.Transport
	if factory == nil {
		factory = transport.NewCopilotFactory(func(o *transport.CopilotOptions) {
			o.HTTPClient = opts.HTTPClient
			o.Logger = logger
			o.Tracer = tracer
		})
	}

	a.Dispatcher, err = dispatch.New(reg, tokens, links, factory, func(o *dispatch.Options) {
		o.Retry = cfg.Dispatch.RetryPolicy()
		o.Sink = sink
		o.Logger = logger
		o.Tracer = tracer
	})
	if err != nil {
		return err
	}

	m := opts.Model
	if m == nil {
		m, err = NewModel(cfg.Model)
		if err != nil {
			return err
		}
	}
	chats, err := history.New(a.Storage, func(o *history.Options) {
		o.Logger = logger
		o.Tracer = tracer
	})
	if err != nil {
		return err
	}
	a.Handler, err = agent.New(a.Dispatcher, chats, m, func(o *agent.Options) {
		o.Flow = signIn
		o.MaxToolIterations = cfg.Model.MaxToolIterations
		o.Tools = opts.Tools
		o.HostName = cfg.Server.HostName
		o.Environment = cfg.Server.Environment
		o.Version = opts.Version
		o.Logger = logger
		o.Tracer = tracer
	})
	if err != nil {
		return err
	}

	sender := opts.Sender
	if sender == nil {
		sender = connector.New(func(o *connector.Options) {
			o.HTTPClient = botClient
			o.Logger = logger
		})
	}
	a.Server, err = server.New(a.Handler, sender, func(o *server.Options) {
		o.MessagesPath = cfg.Server.MessagesPath
		if cfg.Server.JWTSecret != "" {
			o.Verifier = server.NewJWTVerifier([]byte(cfg.Server.JWTSecret), cfg.Server.JWTAudience)
		}
		o.Logger = logger
	})
	return err
}

func (a *App) track(c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, c)
	}
}

// Close releases storage and telemetry resources in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStorage opens the configured persistence collaborator. The closer is
// nil for in-memory storage.
func OpenStorage(cfg config.StorageConfig, logger logging.Logger) (core.Storage, io.Closer, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return storage.NewMemoryStorage(), nil, nil
	case config.StorageSQLite:
		st, err := storage.NewSQLiteStorage(cfg.Path, func(o *storage.SQLiteOptions) { o.Logger = logger })
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return st, st, nil
	case config.StorageBolt:
		st, err := storage.NewBoltStorage(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt storage: %w", err)
		}
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewModel builds the configured chat model.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderMock, "":
		return model.NewMockModel("mock"), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.RequestTimeout = cfg.RequestTimeout
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.RequestTimeout = cfg.RequestTimeout
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewSink builds the telemetry sinks: structured logs always, plus the
// console and Kafka when enabled. The closer is nil without Kafka.
func NewSink(cfg config.TelemetryConfig, logger logging.Logger) (telemetry.Sink, io.Closer) {
	sinks := telemetry.MultiSink{telemetry.LogSink{Logger: logger}}
	if cfg.Console {
		sinks = append(sinks, telemetry.NewConsoleSink(nil))
	}
	if len(cfg.KafkaBrokers) == 0 {
		return sinks, nil
	}
	kafka := telemetry.NewKafkaSink(telemetry.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), func(o *telemetry.KafkaSinkOptions) {
		o.Logger = logger
	})
	return append(sinks, kafka), kafka
}

// NewLogger builds the configured logger writing to out (stdout when nil).
func NewLogger(cfg config.LoggingConfig, out io.Writer) (*logging.DispatchLogger, error) {
	level := logging.LogLevelInfo
	if cfg.Level != "" {
		l, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	lc := logging.DefaultLoggerConfig()
	lc.Level = level
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	if out != nil {
		lc.Output = out
	}
	return logging.NewLogger(lc), nil
}
