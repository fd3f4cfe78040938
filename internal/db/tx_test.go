package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	q := "SELECT id FROM t WHERE a=? AND b IN (?,?)"
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := "SELECT id FROM t WHERE a=$1 AND b IN ($2,$3)"
	if got := Rebind(DriverPostgres, q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(3); got != "?,?,?" {
		t.Fatalf("Placeholders(3) = %q", got)
	}
	if got := Placeholders(0); got != "" {
		t.Fatalf("Placeholders(0) = %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("pg 23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("pg foreign key violation is not unique")
	}
	if !IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: assessment_responses.session_id, assessment_responses.sequence (2067)")) {
		t.Fatal("sqlite unique message not detected")
	}
	if IsUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
}
