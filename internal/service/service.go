// Package service реализует бизнес-логику сервиса скупки драгоценных металлов.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kmorozov/buyback-system/internal/model"
	"github.com/kmorozov/buyback-system/internal/pricing"
	"github.com/kmorozov/buyback-system/internal/repository"
	"github.com/kmorozov/buyback-system/internal/units"
	"github.com/kmorozov/buyback-system/internal/validation"
)

// systemActor подставляется в updated_by для действий фоновой обработки.
const systemActor = "system"

// ErrNoItems возвращается при попытке создать заказ без позиций.
var (
	ErrNoItems = errors.New("order must contain at least one item")
	// ErrItemsNotConfirmed возвращается при отправке предложения с неподтверждёнными позициями.
	ErrItemsNotConfirmed = errors.New("all items must be confirmed before sending an offer")
	// ErrInvalidItem возвращается для некорректной позиции заказа.
	ErrInvalidItem = errors.New("invalid order item")
	// ErrInvalidPayout возвращается для некорректных реквизитов выплаты.
	ErrInvalidPayout = errors.New("invalid payout")
	// ErrCollaborator возвращается при сбое обязательного внешнего сервиса.
	ErrCollaborator = errors.New("collaborator failure")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	CreateOrder(ctx context.Context, order *model.PurchaseOrder) (int64, error)
	GetOrder(ctx context.Context, id int64) (*model.PurchaseOrder, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.PurchaseOrder, error)
	AttachShipment(ctx context.Context, s *model.Shipment) error

	AddItem(ctx context.Context, orderID int64, item *model.OrderItem) (int64, error)
	UpdateItem(ctx context.Context, orderID int64, item *model.OrderItem) error
	DeleteItem(ctx context.Context, orderID, itemID int64) error
	ConfirmItem(ctx context.Context, orderID, itemID int64, confirmed bool) error

	MarkReceived(ctx context.Context, orderID int64, actor string) error
	SendOffer(ctx context.Context, orderID int64, now time.Time, actor string) error
	ResendOffer(ctx context.Context, orderID int64, now time.Time, actor string) error
	LockSpots(ctx context.Context, orderID int64, quotes []model.SpotQuote) error
	UnlockSpots(ctx context.Context, orderID int64) error
	GetOrderMetals(ctx context.Context, orderID int64) ([]model.OrderMetal, error)
	AcceptOffer(ctx context.Context, orderID int64, quotes []model.SpotQuote, actor string) error
	AcceptExpiredOffer(ctx context.Context, orderID int64, quotes []model.SpotQuote, now time.Time, actor string) error
	RejectOffer(ctx context.Context, orderID int64, notes, actor string) error
	CancelOrder(ctx context.Context, orderID int64, returnShipment *model.Shipment, actor string) error
	ReopenOrder(ctx context.Context, orderID int64, actor string) error
	StartPayment(ctx context.Context, orderID int64, actor string) error
	CompleteOrder(ctx context.Context, orderID int64, actor string) error

	GetExpiredOffers(ctx context.Context, now time.Time, limit int) ([]repository.ExpiredOffer, error)
	ExtendExpiredOffer(ctx context.Context, orderID int64, now time.Time) error
}

// SpotFeed описывает источник живых рыночных котировок.
type SpotFeed interface {
	GetCurrentQuotes(ctx context.Context) ([]model.SpotQuote, error)
}

// Shipping описывает коллаборатора доставки.
type Shipping interface {
	CreateLabel(ctx context.Context, orderID int64) (*model.Shipment, error)
	CreateReturnLabel(ctx context.Context, orderID int64) (*model.Shipment, error)
}

// Service содержит бизнес-логику сервиса скупки.
type Service struct {
	repo     Repository
	feed     SpotFeed
	shipping Shipping
	logger   *zap.Logger

	sweepInterval time.Duration
	now           func() time.Time
}

// NewService создаёт сервис с указанными репозиторием и коллабораторами.
func NewService(repo Repository, feed SpotFeed, shipping Shipping, logger *zap.Logger, sweepInterval time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		feed:          feed,
		shipping:      shipping,
		logger:        logger,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, false)
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, errors.New("invalid credentials")
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateProduct добавляет изделие в каталог.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	if p.Name == "" {
		return 0, fmt.Errorf("%w: product name is empty", ErrInvalidItem)
	}
	if !model.IsValidMetal(p.Metal) {
		return 0, fmt.Errorf("%w: unknown metal %q", ErrInvalidItem, p.Metal)
	}
	if p.Content <= 0 {
		return 0, fmt.Errorf("%w: content must be positive", ErrInvalidItem)
	}
	if p.DefaultBidPremium <= 0 {
		return 0, fmt.Errorf("%w: premium must be positive", ErrInvalidItem)
	}
	return s.repo.CreateProduct(ctx, p)
}

// ListProducts возвращает каталог изделий.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// NewScrap описывает вводимые пользователем данные лома.
type NewScrap struct {
	PreMelt  float64
	PostMelt *float64
	Unit     model.WeightUnit
	Purity   float64
	Metal    model.Metal
}

// NewItem описывает вводимую пользователем позицию заказа.
type NewItem struct {
	Kind      model.ItemKind
	ProductID *int64
	Quantity  int
	Premium   *float64
	Scrap     *NewScrap
}

// payoutCosts задаёт комиссию каждого способа выплаты в центах.
var payoutCosts = map[model.PayoutMethod]int64{
	model.PayoutMethodWire:  2500,
	model.PayoutMethodACH:   0,
	model.PayoutMethodCheck: 150,
}

// buildPayout проверяет реквизиты выплаты. Для WIRE и ACH реквизиты имеют
// вид "routing:account", routing-номер проверяется контрольной суммой ABA.
func buildPayout(method model.PayoutMethod, details string) (*model.Payout, error) {
	cost, ok := payoutCosts[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidPayout, method)
	}

	switch method {
	case model.PayoutMethodWire, model.PayoutMethodACH:
		routing, account, found := strings.Cut(details, ":")
		if !found || account == "" {
			return nil, fmt.Errorf("%w: details must be routing:account", ErrInvalidPayout)
		}
		if !validation.IsValidRoutingNumber(routing) {
			return nil, fmt.Errorf("%w: bad routing number", ErrInvalidPayout)
		}
	}

	return &model.Payout{
		Method:    method,
		Details:   details,
		CostCents: cost,
	}, nil
}

func (s *Service) buildItem(ctx context.Context, in NewItem) (*model.OrderItem, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidItem)
	}

	item := &model.OrderItem{
		Kind:     in.Kind,
		Quantity: in.Quantity,
		Premium:  in.Premium,
	}

	switch in.Kind {
	case model.ItemKindProduct:
		if in.ProductID == nil {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidItem)
		}
		if _, err := s.repo.GetProduct(ctx, *in.ProductID); err != nil {
			return nil, err
		}
		item.ProductID = in.ProductID

	case model.ItemKindScrap:
		if in.Scrap == nil {
			return nil, fmt.Errorf("%w: scrap data is required", ErrInvalidItem)
		}
		if !model.IsValidMetal(in.Scrap.Metal) {
			return nil, fmt.Errorf("%w: unknown metal %q", ErrInvalidItem, in.Scrap.Metal)
		}
		if in.Scrap.Purity < 0 || in.Scrap.Purity > 1 {
			return nil, fmt.Errorf("%w: purity must be within [0, 1]", ErrInvalidItem)
		}
		if in.Scrap.PreMelt <= 0 {
			return nil, fmt.Errorf("%w: pre-melt weight must be positive", ErrInvalidItem)
		}

		content := units.ScrapContent(in.Scrap.PreMelt, in.Scrap.PostMelt, in.Scrap.Unit, in.Scrap.Purity)
		if content == 0 && in.Scrap.Purity > 0 {
			// Нулевое содержание при ненулевой пробе почти наверняка означает
			// неизвестную единицу веса. Поведение сохраняем, но оставляем след.
			s.logger.Warn("scrap content computed as zero",
				zap.Float64("preMelt", in.Scrap.PreMelt),
				zap.String("unit", string(in.Scrap.Unit)),
			)
		}

		item.Scrap = &model.Scrap{
			PreMelt:  in.Scrap.PreMelt,
			PostMelt: in.Scrap.PostMelt,
			Unit:     in.Scrap.Unit,
			Purity:   in.Scrap.Purity,
			Content:  content,
			Metal:    in.Scrap.Metal,
		}

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, in.Kind)
	}

	return item, nil
}

// CreateOrder создаёт заказ с позициями и выплатой. Транспортная этикетка
// запрашивается после фиксации заказа: сбой сервиса доставки не должен
// терять отправку клиента.
func (s *Service) CreateOrder(ctx context.Context, userID int64, addressID *int64, items []NewItem, method model.PayoutMethod, payoutDetails string) (int64, error) {
	if len(items) == 0 {
		return 0, ErrNoItems
	}

	payout, err := buildPayout(method, payoutDetails)
	if err != nil {
		return 0, err
	}

	order := &model.PurchaseOrder{
		UserID:    userID,
		AddressID: addressID,
		UpdatedBy: fmt.Sprintf("user:%d", userID),
		Payout:    payout,
	}

	for _, in := range items {
		item, err := s.buildItem(ctx, in)
		if err != nil {
			return 0, err
		}
		order.Items = append(order.Items, *item)
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return 0, err
	}

	if s.shipping != nil {
		label, err := s.shipping.CreateLabel(ctx, id)
		if err != nil {
			s.logger.Error("shipping label creation failed, order kept",
				zap.Int64("orderID", id), zap.Error(err))
			return id, nil
		}
		if err := s.repo.AttachShipment(ctx, label); err != nil {
			s.logger.Error("attach shipment failed", zap.Int64("orderID", id), zap.Error(err))
		}
	}

	return id, nil
}

// GetOrder возвращает заказ с полным агрегатом.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*model.PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ListOrdersByUser возвращает заказы пользователя.
func (s *Service) ListOrdersByUser(ctx context.Context, userID int64) ([]model.PurchaseOrder, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

// AddItem добавляет позицию в заказ.
func (s *Service) AddItem(ctx context.Context, orderID int64, in NewItem) (int64, error) {
	item, err := s.buildItem(ctx, in)
	if err != nil {
		return 0, err
	}
	return s.repo.AddItem(ctx, orderID, item)
}

// UpdateItem изменяет позицию заказа, пересчитывая содержание металла лома.
func (s *Service) UpdateItem(ctx context.Context, orderID, itemID int64, in NewItem) error {
	item, err := s.buildItem(ctx, in)
	if err != nil {
		return err
	}
	item.ID = itemID
	return s.repo.UpdateItem(ctx, orderID, item)
}

// DeleteItem удаляет позицию заказа.
func (s *Service) DeleteItem(ctx context.Context, orderID, itemID int64) error {
	return s.repo.DeleteItem(ctx, orderID, itemID)
}

// ConfirmItem отмечает позицию подтверждённой либо снимает подтверждение.
func (s *Service) ConfirmItem(ctx context.Context, orderID, itemID int64, confirmed bool) error {
	return s.repo.ConfirmItem(ctx, orderID, itemID, confirmed)
}

// PreviewTotal возвращает предварительный итог заказа: по снимку для
// зафиксированных спотов, по живым котировкам для остальных.
func (s *Service) PreviewTotal(ctx context.Context, orderID int64) (int64, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}

	var quotes []model.SpotQuote
	if order.SpotsLocked {
		quotes = order.LockedQuotes()
	} else {
		quotes, err = s.feed.GetCurrentQuotes(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: spot feed: %s", ErrCollaborator, err)
		}
	}

	return pricing.OrderTotal(order, quotes)
}

// MarkReceived фиксирует приёмку посылки заказа.
func (s *Service) MarkReceived(ctx context.Context, orderID int64, actor string) error {
	return s.repo.MarkReceived(ctx, orderID, actor)
}

// SendOffer отправляет предложение по заказу. Все позиции обязаны быть
// подтверждены до вызова.
func (s *Service) SendOffer(ctx context.Context, orderID int64, actor string) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range order.Items {
		if !item.Confirmed {
			return fmt.Errorf("%w: item %d", ErrItemsNotConfirmed, item.ID)
		}
	}

	return s.repo.SendOffer(ctx, orderID, s.now(), actor)
}

// ResendOffer запускает пересогласование после отказа.
func (s *Service) ResendOffer(ctx context.Context, orderID int64, actor string) error {
	return s.repo.ResendOffer(ctx, orderID, s.now(), actor)
}

// LockSpots фиксирует текущие котировки на заказе.
func (s *Service) LockSpots(ctx context.Context, orderID int64) error {
	quotes, err := s.feed.GetCurrentQuotes(ctx)
	if err != nil {
		return fmt.Errorf("%w: spot feed: %s", ErrCollaborator, err)
	}
	return s.repo.LockSpots(ctx, orderID, quotes)
}

// UnlockSpots возвращает заказ к живому ценообразованию.
func (s *Service) UnlockSpots(ctx context.Context, orderID int64) error {
	return s.repo.UnlockSpots(ctx, orderID)
}

// GetOrderMetals возвращает снимок котировок заказа по всем металлам.
func (s *Service) GetOrderMetals(ctx context.Context, orderID int64) ([]model.OrderMetal, error) {
	return s.repo.GetOrderMetals(ctx, orderID)
}

// AcceptOffer принимает предложение от имени клиента. Для незафиксированного
// заказа котировки запрашиваются до открытия транзакции.
func (s *Service) AcceptOffer(ctx context.Context, orderID int64, actor string) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var quotes []model.SpotQuote
	if !order.SpotsLocked {
		quotes, err = s.feed.GetCurrentQuotes(ctx)
		if err != nil {
			return fmt.Errorf("%w: spot feed: %s", ErrCollaborator, err)
		}
	}

	return s.repo.AcceptOffer(ctx, orderID, quotes, actor)
}

// RejectOffer отклоняет предложение с комментарием клиента.
func (s *Service) RejectOffer(ctx context.Context, orderID int64, notes, actor string) error {
	return s.repo.RejectOffer(ctx, orderID, notes, actor)
}

// CancelOrder отменяет заказ. Для заказов после принятия обязательна
// возвратная отправка: её сбой прерывает отмену.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, withReturn bool, actor string) error {
	var returnShipment *model.Shipment
	if withReturn {
		if s.shipping == nil {
			return fmt.Errorf("%w: shipping is not configured", ErrCollaborator)
		}
		label, err := s.shipping.CreateReturnLabel(ctx, orderID)
		if err != nil {
			return fmt.Errorf("%w: return label: %s", ErrCollaborator, err)
		}
		returnShipment = label
	}

	return s.repo.CancelOrder(ctx, orderID, returnShipment, actor)
}

// ReopenOrder возвращает отменённый заказ в работу.
func (s *Service) ReopenOrder(ctx context.Context, orderID int64, actor string) error {
	return s.repo.ReopenOrder(ctx, orderID, actor)
}

// StartPayment переводит принятый заказ в обработку выплаты.
func (s *Service) StartPayment(ctx context.Context, orderID int64, actor string) error {
	return s.repo.StartPayment(ctx, orderID, actor)
}

// CompleteOrder завершает заказ после выплаты.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64, actor string) error {
	return s.repo.CompleteOrder(ctx, orderID, actor)
}
