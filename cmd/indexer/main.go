package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/config"
	"github.com/seanblong/metasearch/internal/console"
	"github.com/seanblong/metasearch/internal/indexer"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("metasearch-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	if _, err := cfg.Logger(os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	arts := artifact.New(cfg.DataDir)
	con := console.New(os.Stdin, os.Stdout)

	scans := cfg.Scans
	if len(scans) == 0 {
		labels, err := arts.ListScanLabels()
		if err != nil {
			log.Fatal().Err(err).Msg("list scans")
		}
		if len(labels) == 0 {
			con.Println("No scan files found in the scans directory.")
		} else {
			con.Println("Available scan labels:")
			for _, l := range labels {
				con.Printf(" - %s\n", l)
			}
		}
		answer, err := con.Ask("Enter the scan labels to process (separated by spaces): ")
		if err != nil {
			log.Fatal().Err(err).Msg("read scan labels")
		}
		scans = console.Fields(answer)
	}

	output := cfg.OutputLabel
	if output == "" {
		if output, err = con.Ask("Enter a label for the combined output index and mapping: "); err != nil {
			log.Fatal().Err(err).Msg("read output label")
		}
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("provider")
	}
	log.Info().Str("provider", string(clientConfig.Provider)).Str("backend", cfg.Backend).Msg("using provider")

	ix, err := indexer.New(arts, clientConfig, cfg.Backend, cfg.Database, cfg.Workers)
	if err != nil {
		log.Fatal().Err(err).Msg("create indexer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := ix.Run(ctx, scans, output)
	if err != nil {
		log.Fatal().Err(err).Strs("scans", scans).Str("label", output).Msg("indexing failed")
	}
	log.Info().Int("documents", res.Documents).Dur("dur", time.Since(start)).Msg("done")

	if p := arts.IndexPath(res.Label, cfg.Backend); p != "" {
		con.Printf("Index saved to: %s\n", p)
	} else {
		con.Printf("Index stored in %s under label %s\n", cfg.Backend, res.Label)
	}
	con.Printf("Mapping saved to: %s\n", arts.MappingPath(res.Label))
}
