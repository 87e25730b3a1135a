package pricing

import (
	"errors"
	"testing"

	"github.com/kmorozov/buyback-system/internal/model"
)

func ptrInt64(v int64) *int64       { return &v }
func ptrFloat64(v float64) *float64 { return &v }

func testQuotes() []model.SpotQuote {
	return []model.SpotQuote{
		{Metal: model.MetalGold, BidSpotCents: 200000, ScrapPercentage: 0.95},
		{Metal: model.MetalSilver, BidSpotCents: 2500, ScrapPercentage: 0.90},
		{Metal: model.MetalPlatinum, BidSpotCents: 95000, ScrapPercentage: 0.85},
		{Metal: model.MetalPalladium, BidSpotCents: 100000, ScrapPercentage: 0.85},
	}
}

func goldEagle() *model.Product {
	return &model.Product{
		ID:                1,
		Name:              "Gold Eagle 1 oz",
		Metal:             model.MetalGold,
		Content:           1,
		DefaultBidPremium: 0.98,
	}
}

func TestItemPrice_Product(t *testing.T) {
	item := model.OrderItem{
		ID:       1,
		Kind:     model.ItemKindProduct,
		Product:  goldEagle(),
		Quantity: 2,
	}

	got, err := ItemPrice(item, testQuotes())
	if err != nil {
		t.Fatalf("ItemPrice error: %v", err)
	}

	// 1 oz * 200000 * 0.98 * 2 шт
	if got != 392000 {
		t.Fatalf("product line price = %d, want 392000", got)
	}
}

func TestItemPrice_ProductPremiumOverride(t *testing.T) {
	item := model.OrderItem{
		ID:       1,
		Kind:     model.ItemKindProduct,
		Product:  goldEagle(),
		Quantity: 1,
		Premium:  ptrFloat64(1.02),
	}

	got, err := ItemPrice(item, testQuotes())
	if err != nil {
		t.Fatalf("ItemPrice error: %v", err)
	}
	if got != 204000 {
		t.Fatalf("line price with premium override = %d, want 204000", got)
	}
}

func TestItemPrice_Scrap(t *testing.T) {
	item := model.OrderItem{
		ID:       2,
		Kind:     model.ItemKindScrap,
		Quantity: 1,
		Scrap: &model.Scrap{
			Metal:   model.MetalSilver,
			Content: 10,
		},
	}

	got, err := ItemPrice(item, testQuotes())
	if err != nil {
		t.Fatalf("ItemPrice error: %v", err)
	}

	// 10 oz * 2500 * 0.90
	if got != 22500 {
		t.Fatalf("scrap line price = %d, want 22500", got)
	}
}

func TestItemPrice_FrozenPriceWins(t *testing.T) {
	item := model.OrderItem{
		ID:         3,
		Kind:       model.ItemKindProduct,
		Product:    goldEagle(),
		Quantity:   3,
		PriceCents: ptrInt64(100000),
	}

	got, err := ItemPrice(item, testQuotes())
	if err != nil {
		t.Fatalf("ItemPrice error: %v", err)
	}
	if got != 300000 {
		t.Fatalf("frozen line price = %d, want 300000", got)
	}
}

func TestItemPrice_MissingQuote(t *testing.T) {
	item := model.OrderItem{
		ID:       4,
		Kind:     model.ItemKindScrap,
		Quantity: 1,
		Scrap: &model.Scrap{
			Metal:   model.MetalPalladium,
			Content: 1,
		},
	}

	quotes := testQuotes()[:2]

	_, err := ItemPrice(item, quotes)
	if !errors.Is(err, ErrMissingQuote) {
		t.Fatalf("expected ErrMissingQuote, got %v", err)
	}
}

func TestOrderTotal_Decomposition(t *testing.T) {
	quotes := testQuotes()

	productItem := model.OrderItem{
		ID:       1,
		Kind:     model.ItemKindProduct,
		Product:  goldEagle(),
		Quantity: 1,
	}
	scrapItem := model.OrderItem{
		ID:       2,
		Kind:     model.ItemKindScrap,
		Quantity: 1,
		Scrap:    &model.Scrap{Metal: model.MetalSilver, Content: 4},
	}

	shipment := model.Shipment{Kind: model.ShipmentKindOutbound, NetChargeCents: 1500}
	payout := &model.Payout{Method: model.PayoutMethodWire, CostCents: 2500}

	tests := []struct {
		name  string
		items []model.OrderItem
	}{
		{name: "product only", items: []model.OrderItem{productItem}},
		{name: "scrap only", items: []model.OrderItem{scrapItem}},
		{name: "mixed", items: []model.OrderItem{productItem, scrapItem}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &model.PurchaseOrder{
				Status:    model.OrderStatusOfferSent,
				Items:     tt.items,
				Shipments: []model.Shipment{shipment},
				Payout:    payout,
			}

			total, err := OrderTotal(order, quotes)
			if err != nil {
				t.Fatalf("OrderTotal error: %v", err)
			}

			var sum int64
			for _, item := range tt.items {
				line, err := ItemPrice(item, quotes)
				if err != nil {
					t.Fatalf("ItemPrice error: %v", err)
				}
				sum += line
			}
			want := sum - shipment.NetChargeCents - payout.CostCents

			if total != want {
				t.Fatalf("OrderTotal = %d, want %d", total, want)
			}
		})
	}
}

func TestOrderTotal_ReturnShipmentOnlyWhenCancelled(t *testing.T) {
	order := &model.PurchaseOrder{
		Status: model.OrderStatusAccepted,
		Items: []model.OrderItem{
			{ID: 1, Kind: model.ItemKindProduct, Product: goldEagle(), Quantity: 1},
		},
		Shipments: []model.Shipment{
			{Kind: model.ShipmentKindOutbound, NetChargeCents: 1000},
			{Kind: model.ShipmentKindReturn, NetChargeCents: 2000},
		},
	}

	total, err := OrderTotal(order, testQuotes())
	if err != nil {
		t.Fatalf("OrderTotal error: %v", err)
	}
	if total != 196000-1000 {
		t.Fatalf("accepted order total = %d, want %d", total, 196000-1000)
	}

	order.Status = model.OrderStatusCancelled
	total, err = OrderTotal(order, testQuotes())
	if err != nil {
		t.Fatalf("OrderTotal error: %v", err)
	}
	if total != 196000-1000-2000 {
		t.Fatalf("cancelled order total = %d, want %d", total, 196000-1000-2000)
	}
}

func TestOrderTotal_Deterministic(t *testing.T) {
	order := &model.PurchaseOrder{
		Status: model.OrderStatusOfferSent,
		Items: []model.OrderItem{
			{ID: 1, Kind: model.ItemKindProduct, Product: goldEagle(), Quantity: 2},
			{ID: 2, Kind: model.ItemKindScrap, Quantity: 1, Scrap: &model.Scrap{Metal: model.MetalGold, Content: 0.755}},
		},
		Payout: &model.Payout{CostCents: 2500},
	}

	first, err := OrderTotal(order, testQuotes())
	if err != nil {
		t.Fatalf("OrderTotal error: %v", err)
	}
	second, err := OrderTotal(order, testQuotes())
	if err != nil {
		t.Fatalf("OrderTotal error: %v", err)
	}
	if first != second {
		t.Fatalf("OrderTotal not deterministic: %d then %d", first, second)
	}
}
