// Package main is the entry point for the rumba CLI application. It
// initializes all subcommands and executes the root command.
package main

import (
	"github.com/oplancelot/rumba/cmd"
	_ "github.com/oplancelot/rumba/cmd/backup"
	_ "github.com/oplancelot/rumba/cmd/encodepassword"
	_ "github.com/oplancelot/rumba/cmd/inspect"
)

// main is the entry point of the application. It executes the root
// command which handles all CLI interactions.
func main() {
	cmd.Execute()
}
