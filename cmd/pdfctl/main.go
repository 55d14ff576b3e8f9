package main

import (
	"fmt"
	"os"

	"github.com/iago/pdf-processor-back/cmd/pdfctl/commands"
	"github.com/iago/pdf-processor-back/internal/config"
)

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "failed loading .env files: %v\n", err)
	}
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
