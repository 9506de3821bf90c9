// Command checktoken mints the bearer token a regional checker presents to
// POST /api/v1/checks.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the vigil config file")
	regionFlag := flag.String("region", "", "region the token is valid for (e.g. ams)")
	ttl := flag.Duration("ttl", 0, "token lifetime; 0 issues a token without expiry")
	flag.Parse()

	if err := run(*configPath, *regionFlag, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "checktoken:", err)
		os.Exit(1)
	}
}

func run(configPath, regionFlag string, ttl time.Duration) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	region, err := model.ParseRegion(regionFlag)
	if err != nil {
		return err
	}

	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	secret := cfgMgr.Get().Auth.JWTSecret
	if secret == "" {
		return errors.New("auth.jwt_secret is not set (config file or VIGIL_AUTH_JWT_SECRET)")
	}

	token, err := web.IssueCheckerToken(secret, region, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
