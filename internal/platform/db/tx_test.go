package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "reservations_occupying_slot_key"}
	wrapped := fmt.Errorf("insert reservation: %w", pgErr)

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"exact constraint", pgErr, "reservations_occupying_slot_key", true},
		{"wrapped", wrapped, "reservations_occupying_slot_key", true},
		{"any constraint", pgErr, "", true},
		{"other constraint", pgErr, "slot_exceptions_doctor_slot_key", false},
		{"other code", &pgconn.PgError{Code: "23503"}, "", false},
		{"plain error", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSerializationFailure(t *testing.T) {
	if !IsSerializationFailure(fmt.Errorf("commit transaction: %w", &pgconn.PgError{Code: CodeSerializationFailure})) {
		t.Error("expected 40001 to be a serialization failure")
	}
	if !IsSerializationFailure(&pgconn.PgError{Code: CodeDeadlockDetected}) {
		t.Error("expected 40P01 to be a serialization failure")
	}
	if IsSerializationFailure(&pgconn.PgError{Code: CodeUniqueViolation}) {
		t.Error("did not expect 23505 to be a serialization failure")
	}
	if IsSerializationFailure(errors.New("boom")) {
		t.Error("did not expect a plain error to be a serialization failure")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected no transaction, got %v", tx)
	}
}
