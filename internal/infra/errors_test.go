package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatalf("IsNoRows() = false for wrapped pgx.ErrNoRows")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("IsNoRows() = true for unrelated error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("IsUniqueViolation() = false for 23505")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatalf("IsUniqueViolation() = true for check violation")
	}
}
