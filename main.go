// SPDX-License-Identifier: MIT
package main

import (
	"os"

	"appmix/cmd"
	applog "appmix/internal/log"
	"appmix/pkg/build"
)

// main initialises build metadata and hands over to the command line.
// Daemon startup, steady state and shutdown live in the serve command.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Debugf("build: %v, using development metadata", err)
	}

	if err := cmd.Execute(os.Args[1:]); err != nil {
		applog.Fatalf("appmix: %v", err)
	}
}
