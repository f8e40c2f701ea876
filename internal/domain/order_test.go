package domain

import "testing"

func TestOrderStatus_Transitions(t *testing.T) {
	if !OrderStatusDraft.CanTransitionTo(OrderStatusPending) {
		t.Error("draft should be submittable")
	}
	if OrderStatusDelivering.CanTransitionTo(OrderStatusCancelled) {
		t.Error("delivering orders cannot be cancelled")
	}
	if !OrderStatusCompleted.CanTransitionTo(OrderStatusRefunded) {
		t.Error("completed orders can be refunded")
	}
	if err := CheckOrderTransition(OrderStatusCancelled, OrderStatusPending); err == nil {
		t.Error("cancelled is terminal")
	}

	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing} {
		if !s.HoldsReservation() {
			t.Errorf("%s should hold a reservation", s)
		}
	}
	if OrderStatusDraft.HoldsReservation() || OrderStatusDelivering.HoldsReservation() {
		t.Error("draft and delivering do not hold reservations")
	}
}

func TestOrder_ReservationLinesAggregates(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{ProductID: 1, VariantHash: "a", Quantity: 2},
		{ProductID: 1, VariantHash: "b", Quantity: 1},
		{ProductID: 1, VariantHash: "a", Quantity: 3},
	}}

	lines := o.ReservationLines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Quantity != 5 || lines[1].Quantity != 1 {
		t.Errorf("unexpected aggregation: %+v", lines)
	}
}

func TestOrder_RecalculateTotals(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{UnitPrice: 1000, Quantity: 2, Discount: 150},
		{UnitPrice: 500, Quantity: 1},
	}}
	o.RecalculateTotals()

	if o.Subtotal != 2500 || o.DiscountTotal != 150 || o.TotalAmount != 2350 {
		t.Errorf("unexpected totals: %d %d %d", o.Subtotal, o.DiscountTotal, o.TotalAmount)
	}
}

func TestRequestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestStatusDraft, RequestStatusPending, true},
		{RequestStatusDraft, RequestStatusCancelled, true},
		{RequestStatusPending, RequestStatusApproved, true},
		{RequestStatusPending, RequestStatusRejected, true},
		{RequestStatusApproved, RequestStatusCancelled, false},
		{RequestStatusApproved, RequestStatusProcessing, true},
		{RequestStatusProcessing, RequestStatusCompleted, true},
		{RequestStatusRejected, RequestStatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	if p != 1 || s != DefaultPageSize {
		t.Errorf("defaults: got %d/%d", p, s)
	}
	if _, s = NormalizePage(2, 500); s != MaxPageSize {
		t.Errorf("page size should be capped, got %d", s)
	}
	if Offset(3, 20) != 40 {
		t.Errorf("offset = %d", Offset(3, 20))
	}
}
