package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/okulov/vaultsync/internal/client/session"
	"github.com/okulov/vaultsync/internal/common"
)

// Input seams for tests.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
)

func (a *App) Register(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.session.Register(ctx, username, password); err != nil {
		return err
	}
	fmt.Println("Account created, vault unlocked.")
	return nil
}

// Login authenticates against the server. When the server demands a
// second factor the user is prompted and the handshake retried with the
// code; when the server is unreachable it falls back to an offline
// unlock of the local vault copy.
func (a *App) Login(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	err = a.session.Login(ctx, username, password, session.LoginOptions{RememberMe: true})
	if errors.Is(err, common.ErrTwoFactorRequired) {
		code, promptErr := getSimpleText(a.reader, "Enter one-time code (or recovery code)", os.Stdout)
		if promptErr != nil {
			return promptErr
		}
		opts := session.LoginOptions{RememberMe: true}
		if len(code) > 6 {
			opts.RecoveryCode = code
		} else {
			opts.TOTPCode = code
		}
		err = a.session.Login(ctx, username, password, opts)
	}
	if errors.Is(err, common.ErrServerUnavailable) {
		fmt.Println("Server unavailable, trying offline unlock...")
		if offErr := a.session.Unlock(ctx, password); offErr != nil {
			return offErr
		}
		fmt.Println("Vault unlocked offline. Changes sync when the server is back.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("Logged in.")
	return nil
}

// Unlock opens the local vault without any server round-trip.
func (a *App) Unlock(ctx context.Context) error {
	password, err := getPassword(os.Stdout, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.session.Unlock(ctx, password); err != nil {
		return err
	}
	fmt.Println("Vault unlocked.")
	return nil
}

func (a *App) Lock(ctx context.Context) error {
	return a.session.Lock()
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// ChangePassword rotates the password epoch. The server revokes all
// sessions afterwards, so the user is asked to log in again.
func (a *App) ChangePassword(ctx context.Context) error {
	current, err := getPassword(os.Stdout, "Current password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)

	next, err := getPassword(os.Stdout, "New password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	confirm, err := getPassword(os.Stdout, "Repeat new password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)
	if string(next) != string(confirm) {
		return errors.New("passwords do not match")
	}

	if err := a.session.ChangePassword(ctx, current, next); err != nil {
		if errors.Is(err, common.ErrVaultOutdated) {
			return fmt.Errorf("%w: run 'sync' first, then retry", err)
		}
		return err
	}
	fmt.Println("Password changed. Other devices must log in again; please 'login' to continue syncing.")
	return nil
}
