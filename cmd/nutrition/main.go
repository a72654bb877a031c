// Command nutrition is the terminal front end of the nutrition tracker:
// account commands (login, signup, logout, whoami, watch) and CRUD
// commands for foods, meals and food entries.
//
// The session is persisted in a local SQLite file between invocations, so
// one login serves every later command until logout or expiry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/nutrition-client/internal/apperror"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", apperror.Message(err))
		stop()
		os.Exit(1)
	}
}
