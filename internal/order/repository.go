package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
)

var (
	ErrOrderNotFound           = apperr.New(apperr.ErrNotFound, "order not found")
	ErrStatusChanged           = apperr.New(apperr.ErrConflict, "order status changed concurrently")
	ErrDuplicateSessionID      = apperr.New(apperr.ErrConflict, "payment session is already attached to another order")
	ErrDuplicateIdempotencyKey = apperr.New(apperr.ErrConflict, "checkout attempt already recorded")
)

// ListQuery is a normalized filter plus its resolved window and paging.
type ListQuery struct {
	Filter    ListFilter
	Window    Window
	Offset    int
	Limit     int
	WithItems bool
}

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	SetStripeSessionID(ctx context.Context, id uuid.UUID, sessionID string) error
	MarkPaidByID(ctx context.Context, id uuid.UUID, upd PaymentUpdate) error
	MarkPaidBySessionID(ctx context.Context, sessionID string, upd PaymentUpdate) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	CountOrders(ctx context.Context, q ListQuery) (int, error)
	ListOrders(ctx context.Context, q ListQuery) ([]Order, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, amount, currency, status, customer_name, customer_email, COALESCE(address, ''),
	card_type, nfc_link, COALESCE(nfc_name_on_card, ''), COALESCE(logo_url, ''), logo_scale,
	COALESCE(logo_color, ''), COALESCE(secondary_text, ''), support, quantity,
	COALESCE(stripe_session_id, ''), COALESCE(idempotency_key, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.Amount,
		&o.Currency,
		&o.Status,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.Address,
		&o.CardType,
		&o.NFCLink,
		&o.NFCNameOnCard,
		&o.LogoURL,
		&o.LogoScale,
		&o.LogoColor,
		&o.SecondaryText,
		&o.Support,
		&o.Quantity,
		&o.StripeSessionID,
		&o.IdempotencyKey,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) CreateOrder(ctx context.Context, orderInput *Order) (orderID uuid.UUID, err error) {
	if orderInput.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		orderInput.ID = genID
	}
	finalOrderID := orderInput.ID

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id_attempted", finalOrderID).Msg("Panic recovered during CreateOrder, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id_attempted", finalOrderID).Msg("Transaction for CreateOrder failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", finalOrderID).Msg("Failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()

	queryOrder := `
		INSERT INTO orders (
			id, amount, currency, status, customer_name, customer_email, address,
			card_type, nfc_link, nfc_name_on_card, logo_url, logo_scale, logo_color,
			secondary_text, support, quantity, idempotency_key, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, NULLIF($7::text, ''),
			$8, $9, NULLIF($10::text, ''), NULLIF($11::text, ''), $12, NULLIF($13::text, ''),
			NULLIF($14::text, ''), $15, $16, NULLIF($17::text, ''), $18, $18
		)
	`
	_, err = tx.Exec(ctx, queryOrder,
		finalOrderID,
		orderInput.Amount,
		orderInput.Currency,
		string(orderInput.Status),
		orderInput.CustomerName,
		orderInput.CustomerEmail,
		orderInput.Address,
		orderInput.CardType,
		orderInput.NFCLink,
		orderInput.NFCNameOnCard,
		orderInput.LogoURL,
		orderInput.LogoScale,
		orderInput.LogoColor,
		orderInput.SecondaryText,
		orderInput.Support,
		orderInput.Quantity,
		orderInput.IdempotencyKey,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_idempotency_key_key") {
			err = ErrDuplicateIdempotencyKey
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("repository: failed to insert order: %w", err)
	}
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, card_type, unit_amount, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range orderInput.Items {
		item := &orderInput.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			err = fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			return uuid.Nil, err
		}
		item.ID = itemID
		item.OrderID = finalOrderID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.CardType,
			item.UnitAmount,
			item.Quantity,
			item.CreatedAt,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to insert order item for order %s: %w", finalOrderID, err)
		}
	}

	return finalOrderID, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func (r *postgresRepository) getOne(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = make([]OrderItem, 0)
	}

	return o, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *postgresRepository) GetOrderBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	return r.getOne(ctx, "stripe_session_id = $1", sessionID)
}

func (r *postgresRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return r.getOne(ctx, "idempotency_key = $1", key)
}

func (r *postgresRepository) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	out := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, order_id, product_id, card_type, unit_amount, quantity, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.CardType,
			&item.UnitAmount,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return out, nil
}

func (r *postgresRepository) SetStripeSessionID(ctx context.Context, id uuid.UUID, sessionID string) error {
	query := `
		UPDATE orders
		SET stripe_session_id = $1, updated_at = $2
		WHERE id = $3
	`
	cmdTag, err := r.db.Exec(ctx, query, sessionID, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err, "orders_stripe_session_id_key") {
			return ErrDuplicateSessionID
		}
		return fmt.Errorf("repository: failed to set session id on order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// markPaidSet never moves a SHIPPED order back to PAID.
const markPaidSet = `
	SET status = CASE WHEN status = 'SHIPPED' THEN status ELSE 'PAID' END,
		stripe_session_id = COALESCE(NULLIF($2::text, ''), stripe_session_id),
		customer_email = COALESCE(NULLIF($3::text, ''), customer_email),
		customer_name = COALESCE(NULLIF($4::text, ''), customer_name),
		nfc_link = COALESCE(NULLIF($5::text, ''), nfc_link),
		amount = COALESCE($6::numeric, amount),
		updated_at = $7
`

func (r *postgresRepository) markPaid(ctx context.Context, where string, key any, upd PaymentUpdate) error {
	query := `UPDATE orders ` + markPaidSet + ` WHERE ` + where
	cmdTag, err := r.db.Exec(ctx, query,
		key,
		upd.SessionID,
		upd.CustomerEmail,
		upd.CustomerName,
		upd.NFCLink,
		upd.Amount,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "orders_stripe_session_id_key") {
			return ErrDuplicateSessionID
		}
		log.Error().Err(err).Interface("key", key).Msg("repository: failed to mark order paid")
		return fmt.Errorf("repository: failed to mark order paid: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) MarkPaidByID(ctx context.Context, id uuid.UUID, upd PaymentUpdate) error {
	return r.markPaid(ctx, "id = $1", id, upd)
}

func (r *postgresRepository) MarkPaidBySessionID(ctx context.Context, sessionID string, upd PaymentUpdate) error {
	return r.markPaid(ctx, "stripe_session_id = $1", sessionID, upd)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	cmdTag, err := r.db.Exec(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", to).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", id).Stringer("expected_status", from).Msg("repository: order status changed before update")
		return ErrStatusChanged
	}
	return nil
}

var sortColumns = map[string]string{
	SortCreatedAt: "created_at",
	SortAmount:    "amount",
	SortStatus:    "status",
}

func buildWhere(q ListQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.Filter.Status != "" {
		add("status = $%d", string(q.Filter.Status))
	}
	if q.Filter.CardType != "" {
		add("card_type = $%d", q.Filter.CardType)
	}
	if q.Window.From != nil {
		add("created_at >= $%d", *q.Window.From)
	}
	if q.Window.To != nil {
		add("created_at <= $%d", *q.Window.To)
	}
	if q.Filter.Query != "" {
		add(`(id::text ILIKE $%[1]d OR customer_name ILIKE $%[1]d OR customer_email ILIKE $%[1]d
			OR nfc_link ILIKE $%[1]d OR card_type ILIKE $%[1]d)`, "%"+escapeLike(q.Filter.Query)+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *postgresRepository) CountOrders(ctx context.Context, q ListQuery) (int, error) {
	where, args := buildWhere(q)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}
	return total, nil
}

func (r *postgresRepository) ListOrders(ctx context.Context, q ListQuery) ([]Order, error) {
	where, args := buildWhere(q)

	column, ok := sortColumns[q.Filter.Sort]
	if !ok {
		column = "created_at"
	}
	dir := "DESC"
	if q.Filter.Dir == "asc" {
		dir = "ASC"
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		fmt.Sprintf(" ORDER BY %s %s, id %s", column, dir, dir)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if !q.WithItems {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// Stats counts an order as revenue once it reached PAID, so SHIPPED orders
// are included.
func (r *postgresRepository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	st := &Stats{
		CountByStatus: map[Status]int{StatusPending: 0, StatusPaid: 0, StatusShipped: 0},
		PaidRevenue:   decimal.Zero,
		TopCardTypes:  make([]CardTypeCount, 0),
	}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to count orders by status: %w", err)
	}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: failed to scan status count: %w", err)
		}
		st.CountByStatus[status] = n
		st.TotalOrders += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating status counts: %w", err)
	}

	paid := `status IN ('PAID', 'SHIPPED')`
	err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM orders WHERE `+paid).Scan(&st.PaidRevenue)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to sum revenue: %w", err)
	}

	last30 := now.Add(-30 * 24 * time.Hour)
	prev30 := last30.Add(-30 * 24 * time.Hour)
	periodQuery := `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM orders WHERE ` + paid + ` AND created_at >= $1 AND created_at < $2`
	if err := r.db.QueryRow(ctx, periodQuery, last30, now).Scan(&st.Last30Days.Orders, &st.Last30Days.Revenue); err != nil {
		return nil, fmt.Errorf("repository: failed to compute last 30 days: %w", err)
	}
	if err := r.db.QueryRow(ctx, periodQuery, prev30, last30).Scan(&st.Previous30.Orders, &st.Previous30.Revenue); err != nil {
		return nil, fmt.Errorf("repository: failed to compute previous 30 days: %w", err)
	}

	topQuery := `
		SELECT oi.card_type, SUM(oi.quantity)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.status IN ('PAID', 'SHIPPED') AND o.created_at >= $1
		GROUP BY oi.card_type
		ORDER BY 2 DESC, 1
		LIMIT 5
	`
	topRows, err := r.db.Query(ctx, topQuery, last30)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query top card types: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var c CardTypeCount
		if err := topRows.Scan(&c.CardType, &c.Quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan top card type: %w", err)
		}
		st.TopCardTypes = append(st.TopCardTypes, c)
	}
	if err := topRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating top card types: %w", err)
	}

	return st, nil
}
