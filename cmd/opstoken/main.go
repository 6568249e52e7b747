// Command opstoken mints an operator token pair for the admin API.
//
//	JWT_SECRET=... opstoken -operator alice -role operator
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"sdr-backend/internal/auth"
	"sdr-backend/internal/config"
	"sdr-backend/internal/rbac"
)

func main() {
	operator := flag.String("operator", "", "operator id (required)")
	role := flag.String("role", rbac.RoleOperator, "operator or super_admin")
	flag.Parse()

	if err := run(*operator, *role); err != nil {
		fmt.Fprintln(os.Stderr, "opstoken:", err)
		os.Exit(1)
	}
}

func run(operator, role string) error {
	if operator == "" {
		return fmt.Errorf("-operator is required")
	}
	if !rbac.IsKnown(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	cfg, err := config.LoadAuth()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), operator, role)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
