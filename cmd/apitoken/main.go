package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stealthpay/channels/internal/auth"
	"github.com/stealthpay/channels/internal/config"
	"go.uber.org/zap"
)

// apitoken mints a bearer token for the local API, signed with JWT_SECRET.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	client := flag.String("client", "ui", "client id embedded in the token")
	flag.Parse()

	cfg := config.Load()
	cfg.Validate(log)

	token, err := auth.GenerateJWT(cfg.JWTSecret, *client, cfg.JWTExpiration)
	if err != nil {
		log.Fatal("failed to sign token", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, token)
}
