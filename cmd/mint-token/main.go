package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/spec-kit/teams-ticket-relay/internal/auth"
	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/domain"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mint-token:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	subject := fs.StringP("subject", "s", "operator", "token subject, usually the operator's email")
	role := fs.StringP("role", "r", string(domain.RoleAdmin), "operator role (admin or viewer)")
	ttl := fs.IntP("ttl", "t", 0, "lifetime in minutes; defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES")
	secret := fs.String("secret", "", "signing secret; defaults to AUTH_JWT_SECRET")
	envFile := fs.String("env-file", ".env", "dotenv file to read before the environment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load(*envFile)
	cfg, err := env.ParseAs[config.AuthConfig]()
	if err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if *secret != "" {
		cfg.JWTSecret = *secret
	}
	if *ttl > 0 {
		cfg.AccessTokenTTLMinutes = *ttl
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("no signing secret: set AUTH_JWT_SECRET or pass --secret")
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
	token, expiresAt, err := tokens.GenerateToken(*subject, domain.OperatorRole(*role))
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
