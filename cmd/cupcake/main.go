// Package main is the entry point for the cupcake binary: a short-
// lived process a harness spawns once per event, reads one JSON
// payload from, and exits after writing one JSON response.
package main

import (
	"github.com/cupcake-sh/cupcake/internal/cli"
)

func main() {
	cli.Execute()
}
