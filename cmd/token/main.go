// Command token signs an access token for the read and admin API using the
// same JWT_* environment as the api process.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"callsense/internal/auth"
	"callsense/internal/config"
	"callsense/internal/rbac"
)

func main() {
	user := flag.String("user", "", "user id placed in the token")
	company := flag.String("company", "", "company id the token is scoped to")
	role := flag.String("role", rbac.RoleAgent, "role: agent or admin")
	flag.Parse()

	if *role != rbac.RoleAgent && *role != rbac.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.Load(config.RoleAPI)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	tok, err := m.Issue(time.Now(), *user, *company, *role)
	if err != nil {
		slog.Error("issue token failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires in %s\n", m.TTL())
}
