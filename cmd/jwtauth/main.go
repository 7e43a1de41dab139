// Command jwtauth is the operator CLI: directory sync, token tooling and migrations.
package main

import (
	"fmt"
	"os"

	"github.com/and161185/jwt-auth/cmd/jwtauth/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
