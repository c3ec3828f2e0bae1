package types

import (
	"testing"

	"github.com/digimarket/marketcore/pkg/enums"
)

func TestReferenceHelpers(t *testing.T) {
	ref := OrderItemRef(7)
	if ref.Kind != enums.ReferenceOrderItem || ref.ID != 7 {
		t.Fatalf("unexpected reference %+v", ref)
	}
	if ref.String() != "order_item:7" {
		t.Fatalf("unexpected string %q", ref.String())
	}
	if ref.IsZero() {
		t.Fatalf("populated reference must not be zero")
	}
	if !(Reference{}).IsZero() {
		t.Fatalf("empty reference must be zero")
	}
}

func TestActorRoles(t *testing.T) {
	if !SystemActor().Privileged() {
		t.Fatalf("system actor must be privileged")
	}
	customer := Actor{UserID: 3, Role: enums.ActorRoleCustomer}
	if customer.Privileged() {
		t.Fatalf("customers are not privileged")
	}
	if customer.LogFields()["actor_id"] != uint64(3) {
		t.Fatalf("unexpected log fields %v", customer.LogFields())
	}
}
