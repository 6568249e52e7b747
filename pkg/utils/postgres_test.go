package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPool_Resolved(t *testing.T) {
	p := PostgresPool{}.resolved()
	if p.MaxOpen != 20 || p.MaxIdle != 10 {
		t.Fatalf("unexpected pool sizes: %+v", p)
	}
	if p.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", p.PingTimeout)
	}

	custom := PostgresPool{MaxOpen: 4, MaxIdle: 9, PingTimeout: time.Second}.resolved()
	if custom.MaxOpen != 4 || custom.PingTimeout != time.Second {
		t.Fatalf("explicit values must survive defaults: %+v", custom)
	}
	if custom.MaxIdle != 2 {
		t.Fatalf("idle connections must not exceed open ones: %+v", custom)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected wrapped 23505 to be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Fatalf("plain errors are not unique violations")
	}
}
