package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kmorozov/buyback-system/internal/model"
	"github.com/kmorozov/buyback-system/internal/pricing"
)

// Окна действия предложения. Предложение с зафиксированными спотами живёт
// меньше: замороженная цена рискованнее для продавца.
const (
	offerTTLLocked = 24 * time.Hour
	offerTTLLive   = 7 * 24 * time.Hour
)

// offerTTL возвращает окно действия предложения для заказа.
func offerTTL(spotsLocked bool) time.Duration {
	if spotsLocked {
		return offerTTLLocked
	}
	return offerTTLLive
}

// ensureOfferPending проверяет, что по заказу есть непогашенное предложение:
// только его допустимо принять или отклонить.
func ensureOfferPending(status model.OrderStatus, offerStatus model.OfferStatus) error {
	if status != model.OrderStatusOfferSent || offerStatus != model.OfferStatusSent {
		return fmt.Errorf("%w: offer is not pending (status %s, offer %s)",
			ErrPreconditionFailed, status, offerStatus)
	}
	return nil
}

// ensureOfferLapsed проверяет, что окно предложения истекло к моменту now.
// Заказ, пересогласованный параллельно, получает свежее окно и остаётся нетронутым.
func ensureOfferLapsed(expiresAt *time.Time, now time.Time) error {
	if expiresAt == nil || !expiresAt.Before(now) {
		return fmt.Errorf("%w: offer window has not lapsed", ErrPreconditionFailed)
	}
	return nil
}

// validateQuoteSet проверяет, что набор котировок покрывает все поддерживаемые
// металлы. Фиксация неполного набора запрещена целиком.
func validateQuoteSet(quotes []model.SpotQuote) error {
	seen := make(map[model.Metal]bool, len(quotes))
	for _, quote := range quotes {
		if !model.IsValidMetal(quote.Metal) {
			return fmt.Errorf("unknown metal %q", quote.Metal)
		}
		seen[quote.Metal] = true
	}
	for _, metal := range model.Metals() {
		if !seen[metal] {
			return fmt.Errorf("no quote for metal %s", metal)
		}
	}
	return nil
}

// MarkReceived переводит заказ из IN_TRANSIT в RECEIVED после приёмки посылки.
func (r *PostgresRepository) MarkReceived(ctx context.Context, orderID int64, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.Status != model.OrderStatusInTransit {
			return fmt.Errorf("%w: cannot receive order in status %s", ErrPreconditionFailed, st.Status)
		}

		if err := updateOrderStatus(ctx, tx, orderID, model.OrderStatusReceived, actor); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// SendOffer отправляет предложение по заказу: сбрасывает замороженные цены,
// ставит окно действия и переводит заказ в OFFER_SENT. Подтверждённость всех
// позиций проверяет вызывающая сторона.
func (r *PostgresRepository) SendOffer(ctx context.Context, orderID int64, now time.Time, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.Status != model.OrderStatusReceived {
			return fmt.Errorf("%w: cannot send offer in status %s", ErrPreconditionFailed, st.Status)
		}

		if err := sendOfferTx(ctx, tx, orderID, st.SpotsLocked, now, actor); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// sendOfferTx применяет побочные эффекты отправки предложения. Следующее
// принятие обязано пересчитать цены заново, поэтому старые заморозки стираются.
func sendOfferTx(ctx context.Context, q querier, orderID int64, spotsLocked bool, now time.Time, actor string) error {
	_, err := q.Exec(ctx,
		`UPDATE purchase_order_items SET price = NULL WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("clear item prices: %w", err)
	}

	_, err = q.Exec(ctx,
		`UPDATE purchase_orders
		 SET status = $2, offer_status = $3, total_price = NULL,
		     offer_sent_at = $4, offer_expires_at = $5, updated_by = $6, updated_at = now()
		 WHERE id = $1`,
		orderID, string(model.OrderStatusOfferSent), string(model.OfferStatusSent),
		now, now.Add(offerTTL(spotsLocked)), actor,
	)
	if err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	return nil
}

// ResendOffer моделирует пересогласование после отказа без создания нового
// заказа. Первый вызов помечает предложение как RESENT, повторный запускает
// свежий цикл отправки.
func (r *PostgresRepository) ResendOffer(ctx context.Context, orderID int64, now time.Time, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.Status != model.OrderStatusRejected {
			return fmt.Errorf("%w: cannot resend offer in status %s", ErrPreconditionFailed, st.Status)
		}

		switch st.OfferStatus {
		case model.OfferStatusRejected:
			_, err = tx.Exec(ctx,
				`UPDATE purchase_orders SET offer_status = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
				orderID, string(model.OfferStatusResent), actor,
			)
			if err != nil {
				return fmt.Errorf("mark offer resent: %w", err)
			}
		case model.OfferStatusResent:
			if err := sendOfferTx(ctx, tx, orderID, st.SpotsLocked, now, actor); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: offer status %s", ErrPreconditionFailed, st.OfferStatus)
		}

		return tx.Commit(ctx)
	})
}

// LockSpots фиксирует переданные котировки на всех четырёх строках металлов
// заказа. Фиксация атомарна: либо записаны все строки, либо ни одной.
func (r *PostgresRepository) LockSpots(ctx context.Context, orderID int64, quotes []model.SpotQuote) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockOrderState(ctx, tx, orderID); err != nil {
			return err
		}

		if err := lockSpotsTx(ctx, tx, orderID, quotes); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

func lockSpotsTx(ctx context.Context, q querier, orderID int64, quotes []model.SpotQuote) error {
	if err := validateQuoteSet(quotes); err != nil {
		return fmt.Errorf("lock spots: %w", err)
	}

	for _, quote := range quotes {
		tag, err := q.Exec(ctx,
			`UPDATE order_metals SET bid_spot = $3, scrap_percentage = $4
			 WHERE order_id = $1 AND metal = $2`,
			orderID, string(quote.Metal), quote.BidSpotCents, quote.ScrapPercentage,
		)
		if err != nil {
			return fmt.Errorf("lock spot %s: %w", quote.Metal, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("lock spot %s: order metal row missing", quote.Metal)
		}
	}

	_, err := q.Exec(ctx,
		`UPDATE purchase_orders SET spots_locked = TRUE, updated_at = now() WHERE id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("set spots locked: %w", err)
	}

	return nil
}

// UnlockSpots возвращает заказ к живому ценообразованию, обнуляя снимок котировок.
func (r *PostgresRepository) UnlockSpots(ctx context.Context, orderID int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockOrderState(ctx, tx, orderID); err != nil {
			return err
		}

		if err := unlockSpotsTx(ctx, tx, orderID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

func unlockSpotsTx(ctx context.Context, q querier, orderID int64) error {
	_, err := q.Exec(ctx,
		`UPDATE order_metals SET bid_spot = NULL, scrap_percentage = NULL WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("clear order metals: %w", err)
	}

	_, err = q.Exec(ctx,
		`UPDATE purchase_orders SET spots_locked = FALSE, updated_at = now() WHERE id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("clear spots locked: %w", err)
	}

	return nil
}

// GetOrderMetals возвращает четыре строки котировок заказа.
func (r *PostgresRepository) GetOrderMetals(ctx context.Context, orderID int64) ([]model.OrderMetal, error) {
	o := &model.PurchaseOrder{ID: orderID}
	if err := loadMetals(ctx, r.pool, o); err != nil {
		return nil, err
	}
	return o.Metals, nil
}

// AcceptOffer принимает предложение: при необходимости фиксирует споты из
// переданных живых котировок, замораживает цены всех позиций и итог заказа.
func (r *PostgresRepository) AcceptOffer(ctx context.Context, orderID int64, quotes []model.SpotQuote, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.acceptOfferTx(ctx, orderID, quotes, actor, nil)
	})
}

// AcceptExpiredOffer принимает просроченное незафиксированное предложение от
// имени системы. Дополнительно проверяет, что окно действительно истекло к
// моменту now: заказ, пересогласованный параллельно, остаётся нетронутым.
func (r *PostgresRepository) AcceptExpiredOffer(ctx context.Context, orderID int64, quotes []model.SpotQuote, now time.Time, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.acceptOfferTx(ctx, orderID, quotes, actor, &now)
	})
}

func (r *PostgresRepository) acceptOfferTx(ctx context.Context, orderID int64, quotes []model.SpotQuote, actor string, expiredBy *time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := loadOrder(ctx, tx, orderID, true)
	if err != nil {
		return err
	}

	if err := ensureOfferPending(order.Status, order.OfferStatus); err != nil {
		return err
	}

	if expiredBy != nil {
		if err := ensureOfferLapsed(order.OfferExpiresAt, *expiredBy); err != nil {
			return err
		}
	}

	effective := quotes
	if order.SpotsLocked {
		effective = order.LockedQuotes()
	} else {
		if err := lockSpotsTx(ctx, tx, orderID, quotes); err != nil {
			return err
		}
	}

	for i := range order.Items {
		unit, err := pricing.UnitPrice(order.Items[i], effective)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE purchase_order_items SET price = $2 WHERE id = $1`,
			order.Items[i].ID, unit,
		)
		if err != nil {
			return fmt.Errorf("freeze item price: %w", err)
		}
		order.Items[i].PriceCents = &unit
	}

	total, err := pricing.OrderTotal(order, effective)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE purchase_orders
		 SET status = $2, offer_status = $3, total_price = $4, updated_by = $5, updated_at = now()
		 WHERE id = $1`,
		orderID, string(model.OrderStatusAccepted), string(model.OfferStatusAccepted), total, actor,
	)
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}

	return tx.Commit(ctx)
}

// RejectOffer отклоняет предложение и увеличивает счётчик отказов.
func (r *PostgresRepository) RejectOffer(ctx context.Context, orderID int64, notes, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := ensureOfferPending(st.Status, st.OfferStatus); err != nil {
			return err
		}

		if err := rejectOfferTx(ctx, tx, orderID, notes, actor); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// rejectOfferTx применяет отказ: счётчик отказов растёт на единицу за каждый
// отказ и никогда не сбрасывается.
func rejectOfferTx(ctx context.Context, q querier, orderID int64, notes, actor string) error {
	_, err := q.Exec(ctx,
		`UPDATE purchase_orders
		 SET status = $2, offer_status = $3, offer_notes = $4,
		     num_rejections = num_rejections + 1, updated_by = $5, updated_at = now()
		 WHERE id = $1`,
		orderID, string(model.OrderStatusRejected), string(model.OfferStatusRejected), notes, actor,
	)
	if err != nil {
		return fmt.Errorf("reject offer: %w", err)
	}
	return nil
}

// CancelOrder отменяет заказ: снимает фиксацию спотов, обнуляет снимок и при
// наличии возвратной отправки учитывает её стоимость в итоге.
func (r *PostgresRepository) CancelOrder(ctx context.Context, orderID int64, returnShipment *model.Shipment, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		order, err := loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}

		if !model.CanTransition(order.Status, model.OrderStatusCancelled) {
			return fmt.Errorf("%w: cannot cancel order in status %s", ErrPreconditionFailed, order.Status)
		}

		if returnShipment != nil {
			if err := insertShipment(ctx, tx, orderID, returnShipment); err != nil {
				return err
			}
			order.Shipments = append(order.Shipments, *returnShipment)
		}

		order.Status = model.OrderStatusCancelled

		var total *int64
		if order.TotalPriceCents != nil {
			// Позиции принятого заказа уже заморожены, котировки не нужны.
			recomputed, err := pricing.OrderTotal(order, nil)
			if err != nil {
				return err
			}
			total = &recomputed
		}

		if err := unlockSpotsTx(ctx, tx, orderID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE purchase_orders
			 SET status = $2, total_price = $3, updated_by = $4, updated_at = now()
			 WHERE id = $1`,
			orderID, string(model.OrderStatusCancelled), total, actor,
		)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// ReopenOrder возвращает отменённый заказ администратором в RECEIVED для
// нового цикла согласования.
func (r *PostgresRepository) ReopenOrder(ctx context.Context, orderID int64, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.Status != model.OrderStatusCancelled {
			return fmt.Errorf("%w: cannot reopen order in status %s", ErrPreconditionFailed, st.Status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE purchase_order_items SET price = NULL WHERE order_id = $1`,
			orderID,
		)
		if err != nil {
			return fmt.Errorf("clear item prices: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE purchase_orders
			 SET status = $2, offer_status = $3, offer_sent_at = NULL, offer_expires_at = NULL,
			     total_price = NULL, offer_notes = '', updated_by = $4, updated_at = now()
			 WHERE id = $1`,
			orderID, string(model.OrderStatusReceived), string(model.OfferStatusNone), actor,
		)
		if err != nil {
			return fmt.Errorf("reopen order: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// StartPayment переводит принятый заказ в обработку выплаты.
func (r *PostgresRepository) StartPayment(ctx context.Context, orderID int64, actor string) error {
	return r.transitionStatus(ctx, orderID, model.OrderStatusAccepted, model.OrderStatusPaymentProcessing, actor)
}

// CompleteOrder завершает заказ после успешной выплаты.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID int64, actor string) error {
	return r.transitionStatus(ctx, orderID, model.OrderStatusPaymentProcessing, model.OrderStatusCompleted, actor)
}

func (r *PostgresRepository) transitionStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, actor string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.Status != from || !model.CanTransition(st.Status, to) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrPreconditionFailed, st.Status, to)
		}

		if err := updateOrderStatus(ctx, tx, orderID, to, actor); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

func updateOrderStatus(ctx context.Context, q querier, orderID int64, status model.OrderStatus, actor string) error {
	_, err := q.Exec(ctx,
		`UPDATE purchase_orders SET status = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		orderID, string(status), actor,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// ExpiredOffer описывает заказ с истёкшим окном предложения.
type ExpiredOffer struct {
	ID          int64
	SpotsLocked bool
}

// GetExpiredOffers возвращает заказы, у которых окно предложения истекло к моменту now.
func (r *PostgresRepository) GetExpiredOffers(ctx context.Context, now time.Time, limit int) ([]ExpiredOffer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, spots_locked
		 FROM purchase_orders
		 WHERE offer_status = $1 AND offer_expires_at < $2
		 ORDER BY offer_expires_at
		 LIMIT $3`,
		string(model.OfferStatusSent), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired offers: %w", err)
	}
	defer rows.Close()

	var res []ExpiredOffer
	for rows.Next() {
		var e ExpiredOffer
		if err := rows.Scan(&e.ID, &e.SpotsLocked); err != nil {
			return nil, fmt.Errorf("scan expired offer: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExtendExpiredOffer продлевает просроченное зафиксированное предложение:
// снимает фиксацию, обнуляет снимок и открывает новое семидневное окно с
// живым ценообразованием. Подстатус SENT сохраняется.
func (r *PostgresRepository) ExtendExpiredOffer(ctx context.Context, orderID int64, now time.Time) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if st.OfferStatus != model.OfferStatusSent || !st.SpotsLocked {
			return fmt.Errorf("%w: offer is not a locked pending offer", ErrPreconditionFailed)
		}
		if err := ensureOfferLapsed(st.OfferExpiresAt, now); err != nil {
			return err
		}

		if err := unlockSpotsTx(ctx, tx, orderID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE purchase_orders
			 SET offer_sent_at = $2, offer_expires_at = $3, updated_by = $4, updated_at = now()
			 WHERE id = $1`,
			orderID, now, now.Add(offerTTLLive), "system",
		)
		if err != nil {
			return fmt.Errorf("extend expired offer: %w", err)
		}

		return tx.Commit(ctx)
	})
}
