// Package main is the entry point for the bixbrother station status server.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bixbrother/backend-go/cmd/bixserver/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}
