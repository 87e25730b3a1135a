// Package pricing реализует движок ценообразования заказа на выкуп.
// Все функции чистые: расчёт не изменяет переданные структуры и при одинаковых
// котировках и замороженных ценах даёт одинаковый результат.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kmorozov/buyback-system/internal/model"
)

// ErrMissingQuote возвращается, если для металла из заказа нет котировки.
var (
	ErrMissingQuote = errors.New("missing quote for metal")
	// ErrUnknownItemKind возвращается для позиции с неизвестным вариантом.
	ErrUnknownItemKind = errors.New("unknown order item kind")
	// ErrProductNotLoaded возвращается, если у товарной позиции не загружено изделие.
	ErrProductNotLoaded = errors.New("product not loaded for item")
)

func quoteFor(metal model.Metal, quotes []model.SpotQuote) (model.SpotQuote, error) {
	for _, q := range quotes {
		if q.Metal == metal {
			return q, nil
		}
	}
	return model.SpotQuote{}, fmt.Errorf("%w: %s", ErrMissingQuote, metal)
}

// ItemPrice возвращает стоимость строки заказа в центах: замороженная цена
// позиции, если она есть, иначе расчёт от котировки, умноженный на количество.
func ItemPrice(item model.OrderItem, quotes []model.SpotQuote) (int64, error) {
	unit, err := unitPriceCents(item, quotes)
	if err != nil {
		return 0, err
	}
	return unit.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(0).IntPart(), nil
}

// UnitPrice возвращает цену одной единицы позиции в центах без учёта количества.
// Именно это значение замораживается на позиции при принятии предложения.
func UnitPrice(item model.OrderItem, quotes []model.SpotQuote) (int64, error) {
	unit, err := unitPriceCents(item, quotes)
	if err != nil {
		return 0, err
	}
	return unit.Round(0).IntPart(), nil
}

func unitPriceCents(item model.OrderItem, quotes []model.SpotQuote) (decimal.Decimal, error) {
	if item.PriceCents != nil {
		return decimal.NewFromInt(*item.PriceCents), nil
	}

	switch item.Kind {
	case model.ItemKindProduct:
		if item.Product == nil {
			return decimal.Zero, fmt.Errorf("%w: item %d", ErrProductNotLoaded, item.ID)
		}
		q, err := quoteFor(item.Product.Metal, quotes)
		if err != nil {
			return decimal.Zero, err
		}
		premium := item.Product.DefaultBidPremium
		if item.Premium != nil {
			premium = *item.Premium
		}
		return decimal.NewFromFloat(item.Product.Content).
			Mul(decimal.NewFromInt(q.BidSpotCents)).
			Mul(decimal.NewFromFloat(premium)), nil

	case model.ItemKindScrap:
		if item.Scrap == nil {
			return decimal.Zero, fmt.Errorf("%w: item %d", ErrUnknownItemKind, item.ID)
		}
		q, err := quoteFor(item.Scrap.Metal, quotes)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromFloat(item.Scrap.Content).
			Mul(decimal.NewFromInt(q.BidSpotCents)).
			Mul(decimal.NewFromFloat(q.ScrapPercentage)), nil
	}

	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownItemKind, item.Kind)
}

// OrderTotal возвращает итоговую сумму заказа в центах: сумма строк минус
// стоимость входящей доставки и выплаты. Стоимость возвратных отправлений
// вычитается только для отменённого заказа.
func OrderTotal(order *model.PurchaseOrder, quotes []model.SpotQuote) (int64, error) {
	total := decimal.Zero

	for _, item := range order.Items {
		line, err := ItemPrice(item, quotes)
		if err != nil {
			return 0, err
		}
		total = total.Add(decimal.NewFromInt(line))
	}

	for _, s := range order.Shipments {
		switch s.Kind {
		case model.ShipmentKindOutbound:
			total = total.Sub(decimal.NewFromInt(s.NetChargeCents))
		case model.ShipmentKindReturn:
			if order.Status == model.OrderStatusCancelled {
				total = total.Sub(decimal.NewFromInt(s.NetChargeCents))
			}
		}
	}

	if order.Payout != nil {
		total = total.Sub(decimal.NewFromInt(order.Payout.CostCents))
	}

	return total.Round(0).IntPart(), nil
}
