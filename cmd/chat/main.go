package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/ai"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/chat"
	"github.com/seanblong/metasearch/internal/config"
	"github.com/seanblong/metasearch/internal/console"
	"github.com/seanblong/metasearch/internal/search"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("metasearch-chat", pflag.ExitOnError)

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

	ctx := context.Background()
	label := cfg.IndexLabel
	if label == "" {
		label, err = chooseIndex(ctx, search.NewCatalog(arts, cfg.Database), con)
		if err != nil {
			con.Println(err)
			os.Exit(1)
		}
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("provider")
	}
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("create AI client")
	}

	loaded, err := search.Open(ctx, arts, label, cfg.Database, client)
	if err != nil {
		log.Fatal().Err(err).Str("label", label).Msg("load index")
	}
	defer func() {
		if err := loaded.Close(); err != nil {
			log.Warn().Err(err).Msg("close index")
		}
	}()
	if m := loaded.Mapping.Model; m != "" && m != client.Model() {
		log.Warn().Str("index_model", m).Str("query_model", client.Model()).Msg("index was embedded with a different model")
	}

	session := chat.NewSession(loaded, client, cfg.TopK, cfg.History)
	con.Println("Chatbot initialized. Type 'exit' to quit.")
	for {
		q, err := con.Ask("You: ")
		if errors.Is(err, io.EOF) {
			con.Println()
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("read input")
			return
		}
		if strings.EqualFold(q, "exit") {
			return
		}
		if q == "" {
			continue
		}

		answer, err := session.Ask(ctx, q)
		if err != nil {
			con.Printf("Error: %v\n", err)
			continue
		}
		con.Println("Bot:", answer)
	}
}

func chooseIndex(ctx context.Context, catalog *search.Catalog, con *console.Console) (string, error) {
	infos, err := catalog.ListIndexes(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("no index/mapping pairs found in %s", filepath.Join(catalog.Artifacts.Dir, "indexes"))
	}
	con.Println("Available index/mapping pairs:")
	for i, info := range infos {
		con.Printf("  %d. Label: %s (%s, %d documents)\n", i+1, info.Label, info.Backend, info.Documents)
	}
	choice, err := con.Ask("Enter the number or label of the scan to load: ")
	if err != nil {
		return "", err
	}
	return console.SelectIndex(infos, choice)
}
