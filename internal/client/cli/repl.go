package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App
// satisfies it; tests use a stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Logout(ctx context.Context) error
	AddNote(ctx context.Context) error
	AddLogin(ctx context.Context) error
	AddFile(ctx context.Context) error
	List(ctx context.Context) error
	Show(ctx context.Context) error
	Delete(ctx context.Context) error
	Sync(ctx context.Context) error
	ChangePassword(ctx context.Context) error
}

// runREPL reads a line, takes the first token as the command, and
// dispatches to a. It exits on EOF or "exit"/"quit". Handler errors are
// printed here so the loop itself never dies.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("vs %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		var err error
		switch cmd := parts[0]; cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: (l)ist, addnote, addlogin, addfile, show, delete, sync, passwd, lock, logout, exit")
			} else {
				printlnFn("Available commands: register, login, unlock, exit")
			}
		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "unlock":
			err = a.Unlock(ctx)
		case "lock":
			err = a.Lock(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "addnote":
			err = a.AddNote(ctx)
		case "addlogin":
			err = a.AddLogin(ctx)
		case "addfile":
			err = a.AddFile(ctx)
		case "l", "list":
			err = a.List(ctx)
		case "show":
			err = a.Show(ctx)
		case "delete":
			err = a.Delete(ctx)
		case "sync":
			err = a.Sync(ctx)
		case "passwd":
			err = a.ChangePassword(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}
