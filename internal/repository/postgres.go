// Package repository содержит реализацию доступа к данным в PostgreSQL.
// Каждый переход жизненного цикла заказа выполняется отдельным методом,
// который сам владеет границей транзакции.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/kmorozov/buyback-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если позиция заказа не найдена.
	ErrItemNotFound = errors.New("order item not found")
	// ErrProductNotFound возвращается, если изделие каталога не найдено.
	ErrProductNotFound = errors.New("product not found")
	// ErrPreconditionFailed возвращается при недопустимом переходе статуса или
	// устаревшем предсостоянии при конкурентном изменении заказа.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrOrderImmutable возвращается при попытке изменить позиции заказа после
	// выхода из статусов приёмки.
	ErrOrderImmutable = errors.New("order items are no longer editable")
)

// querier объединяет pgxpool.Pool и pgx.Tx для методов загрузки агрегата.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сбоях сериализации и дедлоках: переход,
// проигравший гонку за блокировку строки, безопасно выполнить заново.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_admin, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateProduct добавляет изделие в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, metal, content, default_bid_premium)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Name, string(p.Metal), p.Content, p.DefaultBidPremium,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// GetProduct возвращает изделие каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, metal, content, default_bid_premium, created_at
		 FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	var metal string
	err := row.Scan(&p.ID, &p.Name, &metal, &p.Content, &p.DefaultBidPremium, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	p.Metal = model.Metal(metal)

	return &p, nil
}

// ListProducts возвращает каталог изделий.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, metal, content, default_bid_premium, created_at
		 FROM products ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		var metal string
		if err := rows.Scan(&p.ID, &p.Name, &metal, &p.Content, &p.DefaultBidPremium, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Metal = model.Metal(metal)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder создаёт заказ вместе с позициями, четырьмя строками котировок,
// выплатой и отправлениями одной транзакцией.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.PurchaseOrder) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO purchase_orders (user_id, address_id, status, offer_status, updated_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		order.UserID, order.AddressID,
		string(model.OrderStatusInTransit), string(model.OfferStatusNone),
		order.UpdatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, metal := range model.Metals() {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_metals (order_id, metal) VALUES ($1, $2)`,
			id, string(metal),
		)
		if err != nil {
			return 0, fmt.Errorf("insert order metal %s: %w", metal, err)
		}
	}

	if order.Payout != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO payouts (order_id, method, details, cost) VALUES ($1, $2, $3, $4)`,
			id, string(order.Payout.Method), order.Payout.Details, order.Payout.CostCents,
		)
		if err != nil {
			return 0, fmt.Errorf("insert payout: %w", err)
		}
	}

	for i := range order.Items {
		if _, err := insertItem(ctx, tx, id, &order.Items[i]); err != nil {
			return 0, err
		}
	}

	for _, s := range order.Shipments {
		if err := insertShipment(ctx, tx, id, &s); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

func insertItem(ctx context.Context, q querier, orderID int64, item *model.OrderItem) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO purchase_order_items (order_id, kind, product_id, quantity, premium, confirmed)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		orderID, string(item.Kind), item.ProductID, item.Quantity, item.Premium, item.Confirmed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}

	if item.Kind == model.ItemKindScrap && item.Scrap != nil {
		_, err = q.Exec(ctx,
			`INSERT INTO scraps (item_id, pre_melt, post_melt, unit, purity, content, metal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, item.Scrap.PreMelt, item.Scrap.PostMelt, string(item.Scrap.Unit),
			item.Scrap.Purity, item.Scrap.Content, string(item.Scrap.Metal),
		)
		if err != nil {
			return 0, fmt.Errorf("insert scrap: %w", err)
		}
	}

	return id, nil
}

func insertShipment(ctx context.Context, q querier, orderID int64, s *model.Shipment) error {
	_, err := q.Exec(ctx,
		`INSERT INTO shipments (order_id, kind, tracking_number, net_charge, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		orderID, string(s.Kind), s.TrackingNumber, s.NetChargeCents, s.Status,
	)
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

// AttachShipment сохраняет отправление, созданное коллаборатором доставки уже
// после фиксации заказа: сбой сервиса этикеток не должен терять заказ клиента.
func (r *PostgresRepository) AttachShipment(ctx context.Context, s *model.Shipment) error {
	return insertShipment(ctx, r.pool, s.OrderID, s)
}

// GetOrder загружает заказ вместе с позициями, котировками, выплатой и отправлениями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.PurchaseOrder, error) {
	return loadOrder(ctx, r.pool, id, false)
}

// ListOrdersByUser возвращает заказы пользователя без вложенных агрегатов.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, address_id, status, offer_status, offer_sent_at, offer_expires_at,
		        spots_locked, total_price, num_rejections, offer_notes, updated_by, created_at, updated_at
		 FROM purchase_orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.PurchaseOrder
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(row rowScanner) (*model.PurchaseOrder, error) {
	var (
		o           model.PurchaseOrder
		status      string
		offerStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.AddressID, &status, &offerStatus,
		&o.OfferSentAt, &o.OfferExpiresAt, &o.SpotsLocked, &o.TotalPriceCents,
		&o.NumRejections, &o.OfferNotes, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.OfferStatus = model.OfferStatus(offerStatus)
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, id int64, forUpdate bool) (*model.PurchaseOrder, error) {
	query := `SELECT id, user_id, address_id, status, offer_status, offer_sent_at, offer_expires_at,
	                 spots_locked, total_price, num_rejections, offer_notes, updated_by, created_at, updated_at
	          FROM purchase_orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrderRow(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := loadItems(ctx, q, o); err != nil {
		return nil, err
	}
	if err := loadMetals(ctx, q, o); err != nil {
		return nil, err
	}
	if err := loadPayout(ctx, q, o); err != nil {
		return nil, err
	}
	if err := loadShipments(ctx, q, o); err != nil {
		return nil, err
	}

	return o, nil
}

func loadItems(ctx context.Context, q querier, o *model.PurchaseOrder) error {
	rows, err := q.Query(ctx,
		`SELECT i.id, i.kind, i.product_id, i.quantity, i.price, i.premium, i.confirmed,
		        p.name, p.metal, p.content, p.default_bid_premium,
		        s.pre_melt, s.post_melt, s.unit, s.purity, s.content, s.metal
		 FROM purchase_order_items i
		 LEFT JOIN products p ON p.id = i.product_id
		 LEFT JOIN scraps s ON s.item_id = i.id
		 WHERE i.order_id = $1
		 ORDER BY i.id`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var (
			item model.OrderItem
			kind string

			pName    *string
			pMetal   *string
			pContent *float64
			pPremium *float64

			sPreMelt  *float64
			sPostMelt *float64
			sUnit     *string
			sPurity   *float64
			sContent  *float64
			sMetal    *string
		)

		err := rows.Scan(
			&item.ID, &kind, &item.ProductID, &item.Quantity, &item.PriceCents, &item.Premium, &item.Confirmed,
			&pName, &pMetal, &pContent, &pPremium,
			&sPreMelt, &sPostMelt, &sUnit, &sPurity, &sContent, &sMetal,
		)
		if err != nil {
			return fmt.Errorf("scan item: %w", err)
		}

		item.OrderID = o.ID
		item.Kind = model.ItemKind(kind)

		if item.ProductID != nil && pName != nil {
			item.Product = &model.Product{
				ID:                *item.ProductID,
				Name:              *pName,
				Metal:             model.Metal(*pMetal),
				Content:           *pContent,
				DefaultBidPremium: *pPremium,
			}
		}

		if sPreMelt != nil {
			item.Scrap = &model.Scrap{
				ItemID:   item.ID,
				PreMelt:  *sPreMelt,
				PostMelt: sPostMelt,
				Unit:     model.WeightUnit(*sUnit),
				Purity:   *sPurity,
				Content:  *sContent,
				Metal:    model.Metal(*sMetal),
			}
		}

		o.Items = append(o.Items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

func loadMetals(ctx context.Context, q querier, o *model.PurchaseOrder) error {
	rows, err := q.Query(ctx,
		`SELECT metal, bid_spot, scrap_percentage FROM order_metals WHERE order_id = $1 ORDER BY metal`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("select order metals: %w", err)
	}
	defer rows.Close()

	o.Metals = nil
	for rows.Next() {
		var (
			m     model.OrderMetal
			metal string
		)
		if err := rows.Scan(&metal, &m.BidSpotCents, &m.ScrapPercentage); err != nil {
			return fmt.Errorf("scan order metal: %w", err)
		}
		m.OrderID = o.ID
		m.Metal = model.Metal(metal)
		o.Metals = append(o.Metals, m)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

func loadPayout(ctx context.Context, q querier, o *model.PurchaseOrder) error {
	var (
		p      model.Payout
		method string
	)
	err := q.QueryRow(ctx,
		`SELECT method, details, cost FROM payouts WHERE order_id = $1`,
		o.ID,
	).Scan(&method, &p.Details, &p.CostCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			o.Payout = nil
			return nil
		}
		return fmt.Errorf("select payout: %w", err)
	}

	p.OrderID = o.ID
	p.Method = model.PayoutMethod(method)
	o.Payout = &p

	return nil
}

func loadShipments(ctx context.Context, q querier, o *model.PurchaseOrder) error {
	rows, err := q.Query(ctx,
		`SELECT id, kind, tracking_number, net_charge, status, created_at
		 FROM shipments WHERE order_id = $1 ORDER BY id`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("select shipments: %w", err)
	}
	defer rows.Close()

	o.Shipments = nil
	for rows.Next() {
		var (
			s    model.Shipment
			kind string
		)
		if err := rows.Scan(&s.ID, &kind, &s.TrackingNumber, &s.NetChargeCents, &s.Status, &s.CreatedAt); err != nil {
			return fmt.Errorf("scan shipment: %w", err)
		}
		s.OrderID = o.ID
		s.Kind = model.ShipmentKind(kind)
		o.Shipments = append(o.Shipments, s)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}
