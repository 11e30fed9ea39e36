// Package sqlite реализует встраиваемое хранилище заказов на modernc.org/sqlite
// для одиночного инстанса без внешней БД.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vladislavdragonenkov/figures/internal/codec"
	"github.com/vladislavdragonenkov/figures/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id         TEXT PRIMARY KEY,
    total      TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS order_positions (
    order_id    TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    figure_type TEXT NOT NULL,
    figure_tag  TEXT NOT NULL,
    params      TEXT NOT NULL,
    area        REAL NOT NULL,
    PRIMARY KEY (order_id, position)
);`

// Store держит подключение к файлу SQLite со схемой заказов.
type Store struct {
	db *sql.DB
}

// Open открывает (или создаёт) базу по пути path и применяет схему.
// Путь ":memory:" даёт временную базу в памяти.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", domain.ErrPersistence, err)
	}
	// SQLite допускает одного писателя; для ":memory:" каждое новое
	// соединение видело бы свою пустую базу.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: apply sqlite schema: %w", domain.ErrPersistence, err)
	}
	return &Store{db: db}, nil
}

// Ping проверяет доступность базы.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт SQLite-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.db}
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (total decimal.Decimal, err error) {
	total = order.Total()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, wrap("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, total, created_at) VALUES (?, ?, ?)`,
		order.ID(), total.String(), order.CreatedAt().Format(time.RFC3339Nano),
	); err != nil {
		return decimal.Zero, wrap("insert order", err)
	}

	for i, figure := range order.Positions() {
		tag, params, encErr := codec.EncodeFigure(figure)
		if encErr != nil {
			err = encErr
			return decimal.Zero, wrap("encode position", encErr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO order_positions (order_id, position, figure_type, figure_tag, params, area) VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID(), i, string(figure.Type()), tag, string(params), figure.Area(),
		); err != nil {
			return decimal.Zero, wrap("insert order position", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return decimal.Zero, wrap("commit", err)
	}
	return total, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.OrderRecord, error) {
	var totalRaw, createdRaw string
	err := r.db.QueryRowContext(ctx, `SELECT total, created_at FROM orders WHERE id = ?`, id).Scan(&totalRaw, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderRecord{}, wrap("select order", err)
	}

	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		return domain.OrderRecord{}, wrap("parse total", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.OrderRecord{}, wrap("parse created_at", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT figure_tag, params FROM order_positions WHERE order_id = ? ORDER BY position`, id)
	if err != nil {
		return domain.OrderRecord{}, wrap("select order positions", err)
	}
	defer rows.Close()

	var figures []domain.Figure
	for rows.Next() {
		var tag, params string
		if err := rows.Scan(&tag, &params); err != nil {
			return domain.OrderRecord{}, wrap("scan order position", err)
		}
		figure, err := codec.DecodeFigure(tag, []byte(params))
		if err != nil {
			return domain.OrderRecord{}, wrap("decode order position", err)
		}
		if figure == nil {
			return domain.OrderRecord{}, fmt.Errorf("%w: unknown figure tag %q in order %s", domain.ErrPersistence, tag, id)
		}
		figures = append(figures, figure)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderRecord{}, wrap("iterate order positions", err)
	}

	order, err := domain.RestoreOrder(id, figures, createdAt)
	if err != nil {
		return domain.OrderRecord{}, wrap("restore order", err)
	}
	return domain.OrderRecord{Order: order, Total: total}, nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
