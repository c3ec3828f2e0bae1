package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeInsufficientBalance, status: http.StatusUnprocessableEntity, publicMsg: "insufficient wallet balance", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestValidationCarriesFieldDetails(t *testing.T) {
	err := Validation("cart item invalid", map[string]any{"items.0.quantity": "must be at least 1"})
	if err.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", err.Code())
	}
	fields, ok := err.Details().(map[string]any)
	if !ok || fields["items.0.quantity"] == nil {
		t.Fatalf("expected field details, got %#v", err.Details())
	}
	if Validation("bare", nil).Details() != nil {
		t.Fatalf("empty field map should leave details nil")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "load wallet")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Error() != "DEPENDENCY_ERROR: load wallet" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
	if !IsCode(fmt.Errorf("outer: %w", wrapped), CodeDependency) {
		t.Fatalf("IsCode should see through fmt wrapping")
	}
}

func TestInvariantPanicsWithSentinel(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		if !IsInvariant(r) {
			t.Fatalf("expected invariant panic, got %#v", r)
		}
	}()
	Invariant("financial event for %s outside transaction", "order.paid")
}

func TestDumpExtractsDriverDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_wallet_transactions_idempotency_key", TableName: "wallet_transactions"}
	d := Dump(Wrap(CodeDependency, fmt.Errorf("insert: %w", pgErr), "post refund"))
	if d.Driver != "pgx" || d.SQLState != "23505" || d.Constraint != "ux_wallet_transactions_idempotency_key" {
		t.Fatalf("unexpected pg dump %+v", d)
	}
	if d.Code != CodeDependency || len(d.Chain) < 2 {
		t.Fatalf("expected code and chain, got %+v", d)
	}

	liteErr := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	d = Dump(fmt.Errorf("create wallet: %w", liteErr))
	if d.Driver != "sqlite3" || d.SQLState != "19/2067" {
		t.Fatalf("unexpected sqlite dump %+v", d)
	}

	if d := Dump(nil); d.TopMessage != "" || d.Driver != "" {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}
