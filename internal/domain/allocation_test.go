package domain

import (
	"errors"
	"testing"
	"time"
)

func TestVariantHash_OrderIndependent(t *testing.T) {
	a := []AttributeValue{{Attribute: "Color", Option: "White"}, {Attribute: "Battery", Option: "90kWh"}}
	b := []AttributeValue{{Attribute: "battery", Option: " 90kWh "}, {Attribute: "color", Option: "white"}}

	if VariantHash(a) != VariantHash(b) {
		t.Error("hash should not depend on attribute order or case")
	}

	c := []AttributeValue{{Attribute: "Color", Option: "Black"}, {Attribute: "Battery", Option: "90kWh"}}
	if VariantHash(a) == VariantHash(c) {
		t.Error("different attribute sets must hash differently")
	}
	if len(VariantHash(a)) != 64 {
		t.Errorf("expected hex sha256, got %d chars", len(VariantHash(a)))
	}
}

func TestAllocationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to AllocationStatus
		want     bool
	}{
		{AllocationStatusPending, AllocationStatusAllocated, true},
		{AllocationStatusPending, AllocationStatusCancelled, true},
		{AllocationStatusPending, AllocationStatusShipped, false},
		{AllocationStatusPending, AllocationStatusDelivered, false},
		{AllocationStatusAllocated, AllocationStatusShipped, true},
		{AllocationStatusAllocated, AllocationStatusDelivered, true},
		{AllocationStatusShipped, AllocationStatusDelivered, true},
		{AllocationStatusDelivered, AllocationStatusCancelled, true},
		{AllocationStatusDelivered, AllocationStatusPending, false},
		{AllocationStatusCancelled, AllocationStatusPending, true},
		{AllocationStatusCancelled, AllocationStatusShipped, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPlanAllocationChange(t *testing.T) {
	tests := []struct {
		name       string
		alloc      DealerAllocation
		to         AllocationStatus
		newQty     int
		wantMfr    int
		wantDealer int
		wantErr    error
	}{
		{
			name:   "pending to allocated",
			alloc:  DealerAllocation{Status: AllocationStatusPending, Quantity: 10},
			to:     AllocationStatusAllocated,
			newQty: 10,
		},
		{
			name:    "pending to cancelled restores stock",
			alloc:   DealerAllocation{Status: AllocationStatusPending, Quantity: 10},
			to:      AllocationStatusCancelled,
			newQty:  10,
			wantMfr: 10,
		},
		{
			name:    "cancelled to pending re-debits new quantity",
			alloc:   DealerAllocation{Status: AllocationStatusCancelled, Quantity: 10},
			to:      AllocationStatusPending,
			newQty:  4,
			wantMfr: -4,
		},
		{
			name:    "quantity edit in place",
			alloc:   DealerAllocation{Status: AllocationStatusShipped, Quantity: 5},
			to:      AllocationStatusShipped,
			newQty:  8,
			wantMfr: -3,
		},
		{
			name:       "shipped to delivered credits dealer",
			alloc:      DealerAllocation{Status: AllocationStatusShipped, Quantity: 10},
			to:         AllocationStatusDelivered,
			newQty:     10,
			wantDealer: 10,
		},
		{
			name:       "delivered to cancelled reverses both counters",
			alloc:      DealerAllocation{Status: AllocationStatusDelivered, Quantity: 10, AllocatedQuantity: 10},
			to:         AllocationStatusCancelled,
			newQty:     10,
			wantMfr:    10,
			wantDealer: -10,
		},
		{
			name:       "delivered back to shipped only touches dealer",
			alloc:      DealerAllocation{Status: AllocationStatusDelivered, Quantity: 3},
			to:         AllocationStatusShipped,
			newQty:     3,
			wantDealer: -3,
		},
		{
			name:    "illegal edge",
			alloc:   DealerAllocation{Status: AllocationStatusPending, Quantity: 1},
			to:      AllocationStatusDelivered,
			newQty:  1,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "quantity change after VINs",
			alloc:   DealerAllocation{Status: AllocationStatusAllocated, Quantity: 1, VINs: []AllocationVIN{{VIN: "X"}}},
			to:      AllocationStatusAllocated,
			newQty:  2,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "non-positive quantity",
			alloc:   DealerAllocation{Status: AllocationStatusPending, Quantity: 1},
			to:      AllocationStatusPending,
			newQty:  0,
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := PlanAllocationChange(&tt.alloc, tt.to, tt.newQty)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if effect.ManufacturerDelta != tt.wantMfr {
				t.Errorf("manufacturer delta = %d, want %d", effect.ManufacturerDelta, tt.wantMfr)
			}
			if effect.DealerDelta != tt.wantDealer {
				t.Errorf("dealer delta = %d, want %d", effect.DealerDelta, tt.wantDealer)
			}
		})
	}
}

func TestStampStatusTime_Once(t *testing.T) {
	a := &DealerAllocation{}
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.StampStatusTime(AllocationStatusShipped, first)
	a.StampStatusTime(AllocationStatusShipped, first.Add(time.Hour))

	if a.ShippedAt == nil || !a.ShippedAt.Equal(first) {
		t.Errorf("shippedAt should keep the first timestamp, got %v", a.ShippedAt)
	}
	if a.AllocatedAt != nil || a.DeliveredAt != nil {
		t.Error("other timestamps must stay unset")
	}
}

func TestNormalizeVINBatch(t *testing.T) {
	got, err := NormalizeVINBatch([]string{" 5yj3e1ea7kf000001", "5YJ3E1EA7KF000002 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != "5YJ3E1EA7KF000001" || got[1] != "5YJ3E1EA7KF000002" {
		t.Errorf("unexpected normalization: %v", got)
	}

	if _, err := NormalizeVINBatch(nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty batch should be a validation error, got %v", err)
	}
	if _, err := NormalizeVINBatch([]string{"abc", "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank vin should be a validation error, got %v", err)
	}
	if _, err := NormalizeVINBatch([]string{"abc", "ABC "}); !errors.Is(err, ErrDuplicateVin) {
		t.Errorf("in-batch duplicate should be rejected, got %v", err)
	}
}
