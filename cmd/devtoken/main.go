// Command devtoken prints a signed access token for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"schoolattend/internal/auth"
	"schoolattend/internal/config"
)

func main() {
	cfg := config.Load()

	sub := flag.String("sub", "", "subject (user id); a random UUID when empty")
	role := flag.String("role", string(auth.RoleAdmin), "admin, teacher or student")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "token lifetime")
	flag.Parse()

	if !auth.Role(*role).Valid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	if *sub == "" {
		*sub = uuid.NewString()
	}

	token, exp, err := auth.Issue(*sub, auth.Role(*role), cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "sub=%s role=%s expires=%s\n", *sub, *role, exp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Println(token)
}
