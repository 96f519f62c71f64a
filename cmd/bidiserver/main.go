// Command bidiserver serves the bidirectional streaming bridge over
// WebSocket.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
