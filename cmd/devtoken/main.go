// Command devtoken mints access tokens for local testing of the REST and
// websocket endpoints. It signs with AUTH_JWT_SECRET like the server does.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spec-kit/guest-messaging/internal/auth"
	"github.com/spec-kit/guest-messaging/internal/config"
	"github.com/spec-kit/guest-messaging/internal/domain"
)

func main() {
	var (
		id    = flag.Int64("id", 1, "subject id")
		email = flag.String("email", "", "subject email")
		name  = flag.String("name", "", "display name")
		role  = flag.String("role", string(domain.RoleCustomer), "role: customer, admin or staff")
		ttl   = flag.Int("ttl", 0, "token lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *id <= 0 {
		log.Fatal("id must be positive")
	}
	minutes := cfg.Auth.AccessTokenTTLMinutes
	if *ttl > 0 {
		minutes = *ttl
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, minutes)
	token, expiresAt, err := tokens.GenerateToken(domain.Identity{
		ID:    *id,
		Email: *email,
		Name:  *name,
		Role:  domain.Role(*role),
	})
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
