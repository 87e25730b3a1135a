// Package model содержит доменные сущности сервиса скупки драгоценных металлов.
package model

import "time"

// User представляет зарегистрированного пользователя сервиса.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}

// OrderStatus описывает статус обработки заказа на выкуп.
type OrderStatus string

const (
	OrderStatusInTransit         OrderStatus = "IN_TRANSIT"
	OrderStatusReceived          OrderStatus = "RECEIVED"
	OrderStatusOfferSent         OrderStatus = "OFFER_SENT"
	OrderStatusAccepted          OrderStatus = "ACCEPTED"
	OrderStatusRejected          OrderStatus = "REJECTED"
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
)

// orderTransitions задаёт допустимые переходы статусов заказа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusInTransit:         {OrderStatusReceived},
	OrderStatusReceived:          {OrderStatusOfferSent},
	OrderStatusOfferSent:         {OrderStatusAccepted, OrderStatusRejected},
	OrderStatusAccepted:          {OrderStatusPaymentProcessing, OrderStatusCancelled},
	OrderStatusRejected:          {OrderStatusOfferSent, OrderStatusCancelled},
	OrderStatusPaymentProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:         {},
	OrderStatusCancelled:         {OrderStatusReceived},
}

// CanTransition сообщает, разрешён ли переход заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OfferStatus описывает подстатус переговоров по предложению цены.
type OfferStatus string

const (
	OfferStatusNone     OfferStatus = ""
	OfferStatusSent     OfferStatus = "SENT"
	OfferStatusAccepted OfferStatus = "ACCEPTED"
	OfferStatusRejected OfferStatus = "REJECTED"
	OfferStatusResent   OfferStatus = "RESENT"
)

// Metal описывает вид драгоценного металла.
type Metal string

const (
	MetalGold      Metal = "GOLD"
	MetalSilver    Metal = "SILVER"
	MetalPlatinum  Metal = "PLATINUM"
	MetalPalladium Metal = "PALLADIUM"
)

// Metals возвращает все поддерживаемые металлы в фиксированном порядке.
func Metals() []Metal {
	return []Metal{MetalGold, MetalSilver, MetalPlatinum, MetalPalladium}
}

// IsValidMetal проверяет, что значение является поддерживаемым металлом.
func IsValidMetal(m Metal) bool {
	switch m {
	case MetalGold, MetalSilver, MetalPlatinum, MetalPalladium:
		return true
	}
	return false
}

// WeightUnit описывает единицу измерения веса лома.
type WeightUnit string

const (
	UnitTroyOunce   WeightUnit = "t_oz"
	UnitGram        WeightUnit = "g"
	UnitPennyweight WeightUnit = "dwt"
	UnitPound       WeightUnit = "lb"
)

// ItemKind описывает вариант позиции заказа: лом или каталожное изделие.
type ItemKind string

const (
	ItemKindScrap   ItemKind = "SCRAP"
	ItemKindProduct ItemKind = "PRODUCT"
)

// Product описывает каталожное изделие (монету или слиток).
type Product struct {
	ID                int64
	Name              string
	Metal             Metal
	Content           float64
	DefaultBidPremium float64
	CreatedAt         time.Time
}

// Scrap описывает лом, принадлежащий одной позиции заказа. Content хранится в
// тройских унциях и пересчитывается при каждом изменении веса, единицы или пробы.
type Scrap struct {
	ItemID   int64
	PreMelt  float64
	PostMelt *float64
	Unit     WeightUnit
	Purity   float64
	Content  float64
	Metal    Metal
}

// OrderItem описывает позицию заказа. Ровно одно из полей Scrap или Product
// заполнено в соответствии с Kind. PriceCents равно nil, пока цена не заморожена.
type OrderItem struct {
	ID         int64
	OrderID    int64
	Kind       ItemKind
	ProductID  *int64
	Product    *Product
	Scrap      *Scrap
	Quantity   int
	PriceCents *int64
	Premium    *float64
	Confirmed  bool
}

// OrderMetal хранит зафиксированную для заказа спот-котировку по одному металлу.
// BidSpotCents и ScrapPercentage равны nil, пока споты не зафиксированы.
type OrderMetal struct {
	OrderID         int64
	Metal           Metal
	BidSpotCents    *int64
	ScrapPercentage *float64
}

// PayoutMethod описывает способ выплаты.
type PayoutMethod string

const (
	PayoutMethodWire  PayoutMethod = "WIRE"
	PayoutMethodACH   PayoutMethod = "ACH"
	PayoutMethodCheck PayoutMethod = "CHECK"
)

// Payout описывает реквизиты и стоимость выплаты по заказу.
type Payout struct {
	OrderID   int64
	Method    PayoutMethod
	Details   string
	CostCents int64
}

// ShipmentKind различает входящую посылку и возвратную отправку.
type ShipmentKind string

const (
	ShipmentKindOutbound ShipmentKind = "OUTBOUND"
	ShipmentKindReturn   ShipmentKind = "RETURN"
)

// Shipment описывает отправление, связанное с заказом.
type Shipment struct {
	ID             int64
	OrderID        int64
	Kind           ShipmentKind
	TrackingNumber string
	NetChargeCents int64
	Status         string
	CreatedAt      time.Time
}

// SpotQuote описывает текущую рыночную котировку по одному металлу.
type SpotQuote struct {
	Metal           Metal
	BidSpotCents    int64
	ScrapPercentage float64
}

// PurchaseOrder представляет заказ на выкуп вместе с загруженным агрегатом:
// позициями, котировками по металлам, выплатой и отправлениями.
type PurchaseOrder struct {
	ID              int64
	UserID          int64
	AddressID       *int64
	Status          OrderStatus
	OfferStatus     OfferStatus
	OfferSentAt     *time.Time
	OfferExpiresAt  *time.Time
	SpotsLocked     bool
	TotalPriceCents *int64
	NumRejections   int
	OfferNotes      string
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Items     []OrderItem
	Metals    []OrderMetal
	Payout    *Payout
	Shipments []Shipment
}

// LockedQuotes собирает зафиксированные котировки заказа в вид, пригодный для
// движка ценообразования. Возвращаются только металлы с заполненным спотом.
func (o *PurchaseOrder) LockedQuotes() []SpotQuote {
	quotes := make([]SpotQuote, 0, len(o.Metals))
	for _, m := range o.Metals {
		if m.BidSpotCents == nil {
			continue
		}
		q := SpotQuote{Metal: m.Metal, BidSpotCents: *m.BidSpotCents}
		if m.ScrapPercentage != nil {
			q.ScrapPercentage = *m.ScrapPercentage
		}
		quotes = append(quotes, q)
	}
	return quotes
}
