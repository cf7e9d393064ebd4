package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/duochat/internal/auth"
	"github.com/duochat/internal/capture"
	"github.com/duochat/internal/config"
	"github.com/duochat/internal/conversation"
	"github.com/duochat/internal/credstore"
	"github.com/duochat/internal/graphql"
	"github.com/duochat/internal/logging"
	"github.com/duochat/internal/realtime"
)

// App is the wired client core for one command invocation.
type App struct {
	Config    *config.Config
	Session   *auth.Session
	GraphQL   *graphql.Client
	Transport *realtime.Transport
	Store     *conversation.Store

	logger *logging.Logger
}

// newApp loads configuration and builds the session, GraphQL client,
// realtime transport and conversation store on top of it.
func newApp(c *cli.Context) (*App, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.LogFilePath(), cfg.Log.Pretty)
	if err != nil {
		return nil, err
	}
	capture.Configure(cfg.Capture.Enabled, cfg.Capture.Dir)

	store, err := credstore.NewFileStore(cfg.Auth.CredentialsDir)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	session := auth.NewSession(store, auth.Options{
		Authorizer: &auth.PromptAuthorizer{
			Out:         os.Stdout,
			In:          os.Stdin,
			OpenBrowser: !c.Bool("no-browser"),
		},
		RedirectURI: cfg.Auth.RedirectURI,
		Scopes:      cfg.Auth.Scopes,
	})

	gql := graphql.NewClient(session, graphql.Options{
		Timeout:           cfg.GraphQL.Timeout,
		RequestsPerSecond: cfg.GraphQL.RequestsPerSecond,
		Burst:             cfg.GraphQL.Burst,
	})

	policy := cfg.ReconnectPolicy()
	transport := realtime.NewTransport(session, realtime.Options{Reconnect: &policy})

	conv := conversation.NewStore(gql, transport, session, conversation.Options{
		ResponseTimeout: cfg.Chat.ResponseTimeout,
	})

	return &App{
		Config:    cfg,
		Session:   session,
		GraphQL:   gql,
		Transport: transport,
		Store:     conv,
		logger:    logger,
	}, nil
}

// Close disconnects the socket and flushes the log file.
func (a *App) Close() {
	a.Transport.Disconnect()
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log: %v\n", err)
	}
}

// requireSession refreshes the token if needed and fails with a readable
// message when nobody is signed in.
func (a *App) requireSession(ctx context.Context) error {
	if !a.Session.IsAuthenticated() {
		return errors.New("not signed in, run `duochat auth login` first")
	}
	if err := a.Session.RefreshIfNeeded(ctx); err != nil {
		return fmt.Errorf("session refresh failed: %w", err)
	}
	return nil
}

// connectRealtime opens the cable and waits until the completion
// subscription is confirmed by the server.
func (a *App) connectRealtime(ctx context.Context, timeout time.Duration) error {
	states, cancel := a.Transport.Watch()
	defer cancel()

	if err := a.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect realtime: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("realtime subscription not confirmed within %s", timeout)
		case st, ok := <-states:
			if !ok {
				return errors.New("realtime transport closed")
			}
			if st.Rejected > 0 {
				return errors.New("realtime subscription rejected by server")
			}
			if st.Phase == realtime.PhaseReady && st.Confirmed > 0 {
				log.Debug().Int("confirmed", st.Confirmed).Msg("Realtime subscription confirmed")
				return nil
			}
		}
	}
}

// withApp runs fn with a wired App and tears it down afterwards.
func withApp(fn func(c *cli.Context, app *App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		app, err := newApp(c)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(c, app)
	}
}
