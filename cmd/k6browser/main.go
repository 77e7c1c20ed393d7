// Package main is the entry point for the k6browser CLI.
package main

import (
	"context"

	"github.com/liuxd6825/k6browser/cmd"
	"github.com/liuxd6825/k6browser/cmd/state"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}
