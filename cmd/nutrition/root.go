package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/config"
	"github.com/sakif/nutrition-client/internal/httpclient"
	"github.com/sakif/nutrition-client/internal/identity"
	"github.com/sakif/nutrition-client/internal/repository/sqlite"
	"github.com/sakif/nutrition-client/internal/service"
	"github.com/sakif/nutrition-client/internal/session"
)

// rootOptions are the persistent flags. Flags that were set override the
// environment and .env values.
type rootOptions struct {
	envFile   string
	apiURL    string
	authURL   string
	authKey   string
	sessionDB string
	timeout   time.Duration
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nutrition",
		Short: "nutrition tracks foods, meals and what you ate from your terminal",
		Long: "nutrition is a client for the nutrition tracker API. Log in once; the session\n" +
			"is kept in a local database and used by every other command.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default .env)")
	pf.StringVar(&opts.apiURL, "api-url", "", "Nutrition API base URL (env "+config.EnvAPIURL+")")
	pf.StringVar(&opts.authURL, "auth-url", "", "Identity backend base URL (env "+config.EnvAuthURL+")")
	pf.StringVar(&opts.authKey, "auth-key", "", "Identity backend public key (env "+config.EnvAuthKey+")")
	pf.StringVar(&opts.sessionDB, "session-db", "", "Path to the session database (env "+config.EnvSessionDB+")")
	pf.DurationVar(&opts.timeout, "timeout", 0, "HTTP timeout (env "+config.EnvTimeout+", default 15s)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log requests and session changes to stderr")

	root.AddCommand(
		newLoginCmd(opts),
		newSignUpCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newWatchCmd(opts),
		newFoodsCmd(opts),
		newMealsCmd(opts),
		newEntriesCmd(opts),
	)
	return root
}

func (o *rootOptions) config(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.APIURL = o.apiURL
	}
	if flags.Changed("auth-url") {
		cfg.AuthURL = o.authURL
	}
	if flags.Changed("auth-key") {
		cfg.AuthKey = o.authKey
	}
	if flags.Changed("session-db") {
		cfg.SessionDB = o.sessionDB
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	return cfg, cfg.Validate()
}

// app is everything a command needs, wired once per invocation:
//
//	sqlite persister → identity client → session store → restore
//	→ API client (store as token source) → resource services
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sqlite.DB
	identity *identity.Client
	store    *session.Store
	services *service.Services
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := opts.config(cmd)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	db, err := sqlite.New(cfg.SessionDB)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: cfg.Timeout}

	idc, err := identity.New(identity.Config{
		BaseURL:        cfg.AuthURL,
		APIKey:         cfg.AuthKey,
		BootstrapToken: cfg.AccessToken,
		Logger:         logger,
	}, httpclient.WithHTTPClient(hc))
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx := cmd.Context()
	store := session.New(idc, session.WithPersister(db), session.WithLogger(logger))
	if _, err := store.Restore(ctx); err != nil {
		logger.Warn("could not restore session", slog.String("error", err.Error()))
	}
	// A restored token close to expiry is renewed before the command runs.
	if ev, ok := idc.Check(ctx, store.Current()); ok {
		store.HandleEvent(ctx, ev)
	}

	api, err := httpclient.New(cfg.APIURL,
		httpclient.WithTokenSource(store),
		httpclient.WithLogger(logger),
		httpclient.WithHTTPClient(hc),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		identity: idc,
		store:    store,
		services: service.New(api),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing session database", slog.String("error", err.Error()))
	}
}

// withApp wires the app for a command that calls the API and runs fn.
// The outcome goes to the session store's unauthorized policy: a stored
// session the API rejects MaxUnauthorized times in a row, across
// invocations, is dropped.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	return runApp(cmd, opts, true, fn)
}

// withSession is withApp for commands that manage the session itself
// (login, signup, logout, watch). Their failures say nothing about the
// stored token, so they are not reported.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	return runApp(cmd, opts, false, fn)
}

func runApp(cmd *cobra.Command, opts *rootOptions, report bool, fn func(context.Context, *app) error) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	err = fn(ctx, a)
	if !report {
		return err
	}

	if a.store.HandleUnauthorized(ctx, err) {
		fmt.Fprintln(cmd.ErrOrStderr(), "The stored session was rejected repeatedly and has been cleared.")
	}
	if errors.Is(err, apperror.ErrAuth) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Not authorized; run `nutrition login` and try again.")
	}
	return err
}

func parseID(name, value string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return v, nil
}
