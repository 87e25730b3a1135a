package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kmorozov/buyback-system/internal/model"
)

// orderState содержит поля заказа, проверяемые перед переходом. Чтение всегда
// выполняется с блокировкой строки, чтобы интерактивный путь и фоновая
// обработка не применяли переход к устаревшему состоянию.
type orderState struct {
	Status         model.OrderStatus
	OfferStatus    model.OfferStatus
	SpotsLocked    bool
	OfferExpiresAt *time.Time
}

func lockOrderState(ctx context.Context, q querier, orderID int64) (*orderState, error) {
	var (
		st          orderState
		status      string
		offerStatus string
	)
	err := q.QueryRow(ctx,
		`SELECT status, offer_status, spots_locked, offer_expires_at
		 FROM purchase_orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&status, &offerStatus, &st.SpotsLocked, &st.OfferExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	st.Status = model.OrderStatus(status)
	st.OfferStatus = model.OfferStatus(offerStatus)

	return &st, nil
}

func itemsEditable(status model.OrderStatus) bool {
	return status == model.OrderStatusInTransit || status == model.OrderStatusReceived
}

// AddItem добавляет позицию в заказ, пока он находится в статусах приёмки.
func (r *PostgresRepository) AddItem(ctx context.Context, orderID int64, item *model.OrderItem) (int64, error) {
	var itemID int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !itemsEditable(st.Status) {
			return fmt.Errorf("%w: status %s", ErrOrderImmutable, st.Status)
		}

		itemID, err = insertItem(ctx, tx, orderID, item)
		if err != nil {
			return err
		}

		if err := touchOrder(ctx, tx, orderID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return itemID, nil
}

// UpdateItem изменяет позицию заказа. Для лома вызывающая сторона обязана
// передать уже пересчитанное содержание металла.
func (r *PostgresRepository) UpdateItem(ctx context.Context, orderID int64, item *model.OrderItem) error {
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
		if !itemsEditable(st.Status) {
			return fmt.Errorf("%w: status %s", ErrOrderImmutable, st.Status)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE purchase_order_items
			 SET quantity = $3, premium = $4, confirmed = $5
			 WHERE id = $1 AND order_id = $2`,
			item.ID, orderID, item.Quantity, item.Premium, item.Confirmed,
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %d", ErrItemNotFound, item.ID)
		}

		if item.Scrap != nil {
			_, err = tx.Exec(ctx,
				`UPDATE scraps
				 SET pre_melt = $2, post_melt = $3, unit = $4, purity = $5, content = $6, metal = $7
				 WHERE item_id = $1`,
				item.ID, item.Scrap.PreMelt, item.Scrap.PostMelt, string(item.Scrap.Unit),
				item.Scrap.Purity, item.Scrap.Content, string(item.Scrap.Metal),
			)
			if err != nil {
				return fmt.Errorf("update scrap: %w", err)
			}
		}

		if err := touchOrder(ctx, tx, orderID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// DeleteItem удаляет позицию заказа, пока он находится в статусах приёмки.
func (r *PostgresRepository) DeleteItem(ctx context.Context, orderID, itemID int64) error {
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
		if !itemsEditable(st.Status) {
			return fmt.Errorf("%w: status %s", ErrOrderImmutable, st.Status)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM purchase_order_items WHERE id = $1 AND order_id = $2`,
			itemID, orderID,
		)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
		}

		if err := touchOrder(ctx, tx, orderID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// ConfirmItem отмечает позицию подтверждённой. Подтверждение всех позиций
// открывает заказу путь к отправке предложения.
func (r *PostgresRepository) ConfirmItem(ctx context.Context, orderID, itemID int64, confirmed bool) error {
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
		if !itemsEditable(st.Status) {
			return fmt.Errorf("%w: status %s", ErrOrderImmutable, st.Status)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE purchase_order_items SET confirmed = $3 WHERE id = $1 AND order_id = $2`,
			itemID, orderID, confirmed,
		)
		if err != nil {
			return fmt.Errorf("confirm item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
		}

		if err := touchOrder(ctx, tx, orderID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

func touchOrder(ctx context.Context, q querier, orderID int64) error {
	_, err := q.Exec(ctx,
		`UPDATE purchase_orders SET updated_at = now() WHERE id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("touch order: %w", err)
	}
	return nil
}
