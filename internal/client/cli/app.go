// Package cli is the interactive terminal front end: a small REPL over
// the session API. It owns no state of its own beyond the input reader;
// everything of consequence lives in the session.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/okulov/vaultsync/internal/client/config"
	"github.com/okulov/vaultsync/internal/client/session"
	"github.com/okulov/vaultsync/internal/logging"
)

type App struct {
	config  *config.Config
	session *session.Session
	reader  *bufio.Reader
}

func NewApp(cfg *config.Config) *App {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return &App{
		config:  cfg,
		session: session.New(cfg, logger),
		reader:  bufio.NewReader(os.Stdin),
	}
}

func (a *App) isLoggedIn() bool {
	return a.session.Unlocked()
}

// getStatus renders the prompt suffix: lock state plus connectivity.
func (a *App) getStatus() string {
	state := "locked"
	if a.session.Unlocked() {
		state = "unlocked"
	}
	conn := "offline"
	if a.session.Online() {
		conn = "online"
	}
	return fmt.Sprintf("(%s %s)", state, conn)
}

func (a *App) Run(ctx context.Context) {
	go a.session.Watch(ctx)

	fmt.Println("vaultsync CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))

	if a.session.Unlocked() {
		_ = a.session.Lock()
	}
}
