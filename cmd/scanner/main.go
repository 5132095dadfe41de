package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/config"
	"github.com/seanblong/metasearch/internal/console"
	"github.com/seanblong/metasearch/internal/scanner"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("metasearch-scanner", pflag.ExitOnError)

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

	con := console.New(os.Stdin, os.Stdout)
	dir := cfg.Directory
	if dir == "" {
		if dir, err = con.Ask("Enter the full path to the directory to scan: "); err != nil {
			log.Fatal().Err(err).Msg("read directory")
		}
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		log.Fatal().Str("directory", dir).Msg("invalid directory")
	}

	label := cfg.Label
	if label == "" {
		if label, err = con.Ask("Enter a label for this scan (e.g. 'jack_docs'): "); err != nil {
			log.Fatal().Err(err).Msg("read label")
		}
	}
	if err := artifact.ValidateLabel(label); err != nil {
		log.Fatal().Err(err).Msg("invalid label")
	}

	w := scanner.NewWalker(scanner.Options{
		IgnoreDirs:        cfg.IgnoreDirs,
		IncludeExtensions: cfg.IncludeExtensions,
		ScanAll:           cfg.ScanAll,
	})

	con.Println("Scanning... please wait.")
	start := time.Now()
	tree, err := w.Scan(dir)
	if err != nil {
		log.Fatal().Err(err).Str("directory", dir).Msg("scan failed")
	}

	arts := artifact.New(cfg.DataDir)
	if err := arts.SaveScan(label, tree); err != nil {
		log.Fatal().Err(err).Str("label", label).Msg("save scan")
	}
	log.Info().Str("label", label).Str("directory", dir).Dur("dur", time.Since(start)).Msg("scan complete")
	con.Printf("\nScan complete! Metadata saved to: %s\n", arts.ScanPath(label))
}
