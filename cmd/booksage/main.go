// Command booksage is the entry point for the BookSage textbook assistant.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// question-answering and ingestion APIs.
package main

import (
	"fmt"
	"os"

	"github.com/booksage-ai/booksage/cmd/booksage/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
