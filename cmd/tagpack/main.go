// Command tagpack creates, inspects and extracts tagpack containers.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Version is the application version, set at build time with
// -ldflags "-X main.Version=...".
var Version = "dev"

// exitErr carries a specific exit code out of a command.
type exitErr struct {
	code  int
	cause error
}

func (e exitErr) Error() string { return e.cause.Error() }

func (e exitErr) Unwrap() error { return e.cause }

// exitOnErr writes err to stderr and exits with its code, 1 by default.
// Does nothing if err is nil.
func exitOnErr(err error) {
	if err == nil {
		return
	}
	var e exitErr
	if !errors.As(err, &e) {
		e.code = 1
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(e.code)
}

func main() {
	cmd := newRootCommand()
	cmd.SetOut(os.Stdout)
	exitOnErr(cmd.Execute())
}
