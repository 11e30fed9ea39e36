package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/figures/internal/codec"
	"github.com/vladislavdragonenkov/figures/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Заказ и его позиции пишутся одной транзакцией.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (total decimal.Decimal, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	total = order.Total()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, persistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, total, created_at)
		VALUES ($1, $2, $3)
	`, order.ID(), total.String(), order.CreatedAt()); err != nil {
		if isUniqueViolation(err) {
			return decimal.Zero, fmt.Errorf("%w: order %s already exists", domain.ErrPersistence, order.ID())
		}
		return decimal.Zero, persistenceError("insert order", err)
	}

	for i, figure := range order.Positions() {
		tag, params, encErr := codec.EncodeFigure(figure)
		if encErr != nil {
			err = encErr
			return decimal.Zero, persistenceError("encode position", encErr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_positions (order_id, position, figure_type, figure_tag, params, area)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID(), i, string(figure.Type()), tag, string(params), figure.Area()); err != nil {
			return decimal.Zero, persistenceError("insert order position", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return decimal.Zero, persistenceError("commit", err)
	}
	return total, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.OrderRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		totalRaw  string
		createdAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT total::text, created_at FROM orders WHERE id = $1
	`, id).Scan(&totalRaw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderRecord{}, persistenceError("select order", err)
	}

	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		return domain.OrderRecord{}, persistenceError("parse total", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT figure_tag, params::text
		FROM order_positions
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return domain.OrderRecord{}, persistenceError("select order positions", err)
	}
	defer rows.Close()

	var figures []domain.Figure
	for rows.Next() {
		var tag, params string
		if err := rows.Scan(&tag, &params); err != nil {
			return domain.OrderRecord{}, persistenceError("scan order position", err)
		}
		figure, err := codec.DecodeFigure(tag, []byte(params))
		if err != nil {
			return domain.OrderRecord{}, persistenceError("decode order position", err)
		}
		if figure == nil {
			return domain.OrderRecord{}, fmt.Errorf("%w: unknown figure tag %q in order %s", domain.ErrPersistence, tag, id)
		}
		figures = append(figures, figure)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderRecord{}, persistenceError("iterate order positions", err)
	}

	order, err := domain.RestoreOrder(id, figures, createdAt.UTC())
	if err != nil {
		return domain.OrderRecord{}, persistenceError("restore order", err)
	}
	return domain.OrderRecord{Order: order, Total: total}, nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isInvalidUUID распознаёт запрос по идентификатору, который не является UUID.
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
