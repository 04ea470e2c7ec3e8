// Package main is the single-binary entrypoint for CiviSync.
package main

import "github.com/civisync/civisync/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
