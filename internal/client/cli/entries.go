package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okulov/vaultsync/internal/client/vaultdb"
)

var errLocked = errors.New("vault is locked")

func (a *App) db() (*vaultdb.DB, error) {
	db := a.session.DB()
	if db == nil {
		return nil, errLocked
	}
	return db, nil
}

func (a *App) AddNote(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	title, err := getSimpleText(a.reader, "Title", os.Stdout)
	if err != nil {
		return err
	}
	body, err := GetMultiline(a.reader, "Note text", os.Stdout)
	if err != nil {
		return err
	}

	n := &vaultdb.Note{Title: title, Body: body}
	if err := db.SaveNote(ctx, n); err != nil {
		return err
	}
	fmt.Println("Saved:", n.ID)
	return nil
}

func (a *App) AddLogin(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	title, err := getSimpleText(a.reader, "Title", os.Stdout)
	if err != nil {
		return err
	}
	site, err := getSimpleText(a.reader, "URL / service", os.Stdout)
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Login", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Password")
	if err != nil {
		return err
	}

	c := &vaultdb.Credential{Title: title, URL: site, Username: username, Password: string(password)}
	if err := db.SaveCredential(ctx, c); err != nil {
		return err
	}
	fmt.Println("Saved:", c.ID)
	return nil
}

func (a *App) AddFile(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	path, err := getSimpleText(a.reader, "Path to file", os.Stdout)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	att := &vaultdb.Attachment{Title: filepath.Base(path), Filename: filepath.Base(path), Content: data}
	if err := db.SaveAttachment(ctx, att); err != nil {
		return err
	}
	fmt.Printf("Saved %s (%d bytes): %s\n", att.Filename, len(data), att.ID)
	return nil
}

func (a *App) List(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	creds, err := db.ListCredentials(ctx)
	if err != nil {
		return err
	}
	for _, c := range creds {
		fmt.Printf("login  %s  %s (%s)\n", c.ID, c.Title, c.URL)
	}

	notes, err := db.ListNotes(ctx)
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Printf("note   %s  %s\n", n.ID, n.Title)
	}

	atts, err := db.ListAttachments(ctx)
	if err != nil {
		return err
	}
	for _, f := range atts {
		fmt.Printf("file   %s  %s\n", f.ID, f.Filename)
	}
	return nil
}

func (a *App) Show(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	id, err := getSimpleText(a.reader, "Entry id", os.Stdout)
	if err != nil {
		return err
	}

	if c, err := db.GetCredential(ctx, id); err == nil {
		fmt.Printf("%s\nsite: %s\nlogin: %s\npassword: %s\n", c.Title, c.URL, c.Username, c.Password)
		return nil
	}
	if n, err := db.GetNote(ctx, id); err == nil {
		fmt.Printf("%s\n%s\n", n.Title, n.Body)
		return nil
	}
	if f, err := db.GetAttachment(ctx, id); err == nil {
		fmt.Printf("%s (%d bytes)\n", f.Filename, len(f.Content))
		return nil
	}
	return fmt.Errorf("no entry with id %s", id)
}

func (a *App) Delete(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	id, err := getSimpleText(a.reader, "Entry id", os.Stdout)
	if err != nil {
		return err
	}

	// Try each type; only one will hold the id.
	for _, del := range []func(context.Context, string) error{
		db.DeleteCredential, db.DeleteNote, db.DeleteAttachment, db.DeleteIdentity, db.DeleteOTPSeed,
	} {
		if err := del(ctx, id); err == nil {
			fmt.Println("Deleted:", id)
			return nil
		}
	}
	return fmt.Errorf("no entry with id %s", id)
}
