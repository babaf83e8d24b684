package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/app/server"
	"anchor-delivery/internal/config"
)

func main() {
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.Server.LogLevel)

	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			log.Fatal().Err(err).Msg("print config")
		}
		return
	}

	if err := server.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}
