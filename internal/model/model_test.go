package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{name: "receive parcel", from: OrderStatusInTransit, to: OrderStatusReceived, want: true},
		{name: "send offer", from: OrderStatusReceived, to: OrderStatusOfferSent, want: true},
		{name: "accept offer", from: OrderStatusOfferSent, to: OrderStatusAccepted, want: true},
		{name: "reject offer", from: OrderStatusOfferSent, to: OrderStatusRejected, want: true},
		{name: "renegotiate after reject", from: OrderStatusRejected, to: OrderStatusOfferSent, want: true},
		{name: "cancel after reject", from: OrderStatusRejected, to: OrderStatusCancelled, want: true},
		{name: "start payment", from: OrderStatusAccepted, to: OrderStatusPaymentProcessing, want: true},
		{name: "cancel after accept", from: OrderStatusAccepted, to: OrderStatusCancelled, want: true},
		{name: "complete payment", from: OrderStatusPaymentProcessing, to: OrderStatusCompleted, want: true},
		{name: "cancel during payment", from: OrderStatusPaymentProcessing, to: OrderStatusCancelled, want: true},
		{name: "reopen cancelled", from: OrderStatusCancelled, to: OrderStatusReceived, want: true},

		{name: "skip receive", from: OrderStatusInTransit, to: OrderStatusOfferSent, want: false},
		{name: "accept without offer", from: OrderStatusReceived, to: OrderStatusAccepted, want: false},
		{name: "cancel in transit", from: OrderStatusInTransit, to: OrderStatusCancelled, want: false},
		{name: "completed is terminal", from: OrderStatusCompleted, to: OrderStatusCancelled, want: false},
		{name: "no backwards from accepted", from: OrderStatusAccepted, to: OrderStatusOfferSent, want: false},
		{name: "reopen to offer", from: OrderStatusCancelled, to: OrderStatusOfferSent, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestLockedQuotes(t *testing.T) {
	spot := int64(200000)
	pct := 0.95

	order := &PurchaseOrder{
		Metals: []OrderMetal{
			{Metal: MetalGold, BidSpotCents: &spot, ScrapPercentage: &pct},
			{Metal: MetalSilver},
		},
	}

	quotes := order.LockedQuotes()
	if len(quotes) != 1 {
		t.Fatalf("quotes = %d, want 1", len(quotes))
	}
	if quotes[0].Metal != MetalGold || quotes[0].BidSpotCents != 200000 || quotes[0].ScrapPercentage != 0.95 {
		t.Fatalf("unexpected quote: %+v", quotes[0])
	}
}
