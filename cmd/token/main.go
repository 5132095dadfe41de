package main

import (
	"fmt"
	"os"

	"github.com/seanblong/metasearch/internal/auth"
	"github.com/seanblong/metasearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("metasearch-token", pflag.ExitOnError)
	subject := fs.String("subject", "", "Subject the token is issued to")
	name := fs.String("name", "", "Optional display name")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	if cfg.Auth.JwtSecret == "" {
		fmt.Fprintln(os.Stderr, "METASEARCH_AUTH_JWT_SECRET is required")
		os.Exit(1)
	}
	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, true)

	token, err := auth.GenerateJWT(*subject, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
