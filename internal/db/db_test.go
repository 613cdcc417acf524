package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestWrapNotFound(t *testing.T) {
	if err := WrapNotFound(nil); err != nil {
		t.Fatalf("nil must stay nil, got %v", err)
	}

	err := WrapNotFound(pgx.ErrNoRows)
	if !errors.Is(err, ErrNotFound) || !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	other := errors.New("connection reset")
	err = WrapNotFound(other)
	if !errors.Is(err, other) || IsNotFound(err) {
		t.Fatalf("other errors must be wrapped as-is, got %v", err)
	}
	if IsNotFound(nil) {
		t.Fatal("nil is not a not-found error")
	}
}
