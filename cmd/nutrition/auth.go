package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/session"
)

type credentialFlags struct {
	email    string
	password string
}

func (c *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.password, "password", "", "Account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
}

// resolve reads the password from the first line of stdin when the flag
// was not given.
func (c *credentialFlags) resolve(cmd *cobra.Command) (string, string, error) {
	if c.password != "" {
		return c.email, c.password, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", "", errors.New("password is required (--password or stdin)")
	}
	return c.email, password, nil
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := creds.resolve(cmd)
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.store.Login(ctx, email, password)
				if err != nil && !errors.Is(err, session.ErrPersist) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", describeUser(sess))
				return err
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func newSignUpCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := creds.resolve(cmd)
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.store.SignUp(ctx, email, password)
				if err != nil && !errors.Is(err, session.ErrPersist) {
					return err
				}
				switch res.Status {
				case session.SignUpActive:
					fmt.Fprintf(cmd.OutOrStdout(), "Signed up and logged in as %s\n", res.User.Email)
				case session.SignUpPendingConfirmation:
					fmt.Fprintf(cmd.OutOrStdout(), "Signed up. Confirm %s, then run `nutrition login`.\n", res.User.Email)
				}
				return err
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, a *app) error {
				if !a.store.Current().Authenticated() {
					fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
					return nil
				}
				if err := a.store.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user as the identity backend sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sess := a.store.Current()
				if !sess.Authenticated() {
					return apperror.Auth("not logged in")
				}
				u, err := a.identity.User(ctx, sess.AccessToken())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Email:      %s\n", u.Email)
				fmt.Fprintf(out, "ID:         %s\n", u.ID)
				fmt.Fprintf(out, "Privileged: %t\n", u.IsPrivileged)
				if !sess.Token.Expiry.IsZero() {
					fmt.Fprintf(out, "Expires:    %s\n", sess.Token.Expiry.Local().Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the stored session fresh and report session changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, a *app) error {
				if !a.store.Current().Authenticated() {
					return apperror.Auth("not logged in")
				}

				out := cmd.OutOrStdout()
				unsubscribe := a.store.Subscribe(func(sess model.Session) {
					if !sess.Authenticated() {
						fmt.Fprintln(out, "Session ended")
						return
					}
					fmt.Fprintf(out, "Session refreshed, expires %s\n", sess.Token.Expiry.Local().Format("15:04:05"))
				})
				defer unsubscribe()

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				// Stop once the session is gone; there is nothing left to watch.
				stopOnLogout := a.store.Subscribe(func(sess model.Session) {
					if !sess.Authenticated() {
						cancel()
					}
				})
				defer stopOnLogout()

				a.logger.Info("watching session", slog.String("user", describeUser(a.store.Current())))
				a.store.Follow(ctx, a.identity.Watch(ctx, a.store.Current))
				return nil
			})
		},
	}
}

func describeUser(sess model.Session) string {
	if sess.User != nil && sess.User.Email != "" {
		return sess.User.Email
	}
	return "unknown user"
}
