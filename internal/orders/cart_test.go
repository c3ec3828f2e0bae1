package orders

import (
	"encoding/json"
	"testing"

	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

func decodeCart(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	return v
}

func validationFields(t *testing.T, err error) map[string]any {
	t.Helper()
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok {
		t.Fatalf("expected field details, got %#v", pkgerrors.As(err).Details())
	}
	return fields
}

func TestParseCartPayloadAcceptsValidCart(t *testing.T) {
	lines, err := ParseCartPayload(decodeCart(t, `[
		{"product_id": 3, "quantity": 2},
		{"product_id": 4, "package_id": 9, "quantity": 1, "requirements": {"player_id": "abc"}}
	]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].PackageID != nil || lines[0].Quantity != 2 {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].PackageID == nil || *lines[1].PackageID != 9 || lines[1].Requirements["player_id"] != "abc" {
		t.Fatalf("unexpected second line %+v", lines[1])
	}
}

func TestParseCartPayloadRejectsShapes(t *testing.T) {
	cases := []struct {
		name  string
		raw   any
		field string
	}{
		{name: "not a list", raw: decodeCart(t, `{"product_id": 1}`), field: "items"},
		{name: "empty", raw: decodeCart(t, `[]`), field: "items"},
		{name: "nil", raw: nil, field: "items"},
		{name: "non object item", raw: decodeCart(t, `[5]`), field: "items.0"},
		{name: "missing product", raw: decodeCart(t, `[{"quantity": 1}]`), field: "items.0.product_id"},
		{name: "fractional quantity", raw: decodeCart(t, `[{"product_id": 1, "quantity": 1.5}]`), field: "items.0.quantity"},
		{name: "zero quantity", raw: decodeCart(t, `[{"product_id": 1, "quantity": 0}]`), field: "items.0.quantity"},
		{name: "quantity above cap", raw: decodeCart(t, `[{"product_id": 1, "quantity": 10001}]`), field: "items.0.quantity"},
		{name: "bad package", raw: decodeCart(t, `[{"product_id": 1, "quantity": 1, "package_id": "x"}]`), field: "items.0.package_id"},
		{name: "requirements not object", raw: decodeCart(t, `[{"product_id": 1, "quantity": 1, "requirements": []}]`), field: "items.0.requirements"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCartPayload(tc.raw)
			fields := validationFields(t, err)
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, fields)
			}
		})
	}
}

func TestMissingRequirementsListsBlankKeys(t *testing.T) {
	missing := MissingRequirements([]string{"zone", "player_id", "server"}, map[string]any{
		"player_id": "p1",
		"server":    "  ",
	})
	if len(missing) != 2 || missing[0] != "server" || missing[1] != "zone" {
		t.Fatalf("unexpected missing keys %v", missing)
	}
	if got := MissingRequirements(nil, nil); len(got) != 0 {
		t.Fatalf("expected no missing keys, got %v", got)
	}
}

func TestCartHashIgnoresLineOrder(t *testing.T) {
	pkg := uint64(9)
	a := []CartLine{
		{ProductID: 1, Quantity: 2},
		{ProductID: 4, PackageID: &pkg, Quantity: 1, Requirements: map[string]any{"b": "2", "a": "1"}},
	}
	b := []CartLine{
		{ProductID: 4, PackageID: &pkg, Quantity: 1, Requirements: map[string]any{"a": "1", "b": "2"}},
		{ProductID: 1, Quantity: 2},
	}
	if CartHash(a) != CartHash(b) {
		t.Fatal("expected equal hashes for reordered carts")
	}
	c := []CartLine{{ProductID: 1, Quantity: 3}, b[0]}
	if CartHash(a) == CartHash(c) {
		t.Fatal("expected different hash when quantity changes")
	}
	if len(CartHash(a)) != 64 {
		t.Fatalf("expected hex sha256, got %q", CartHash(a))
	}
}
