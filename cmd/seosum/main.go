package main

import (
	"os"

	"github.com/rs/zerolog"
)

var version = "0.1.0"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
