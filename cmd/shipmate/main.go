// Command shipmate deploys docker-compose applications to remote hosts over
// SSH, tracks what was last applied, and verifies the result.
package main

import (
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitConfigError = 2
	ExitDriftFound  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var cliErr *exitError
		if ok := asExitError(err, &cliErr); ok {
			if cliErr.message != "" {
				fmt.Fprintln(os.Stderr, cliErr.message)
			}
			return cliErr.code
		}
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}
	return ExitSuccess
}
