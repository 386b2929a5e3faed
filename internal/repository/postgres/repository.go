package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
)

// Store реализует repository.Store используя PostgreSQL
// Блокировки строк - SELECT ... FOR UPDATE внутри pgx транзакции,
// conditional update статуса - UPDATE ... WHERE status = $from
type Store struct {
	pool *pgxpool.Pool
}

// NewStore создаёт новый PostgreSQL store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// WithinTx выполняет fn внутри одной транзакции PostgreSQL
// Commit только если fn вернула nil; иначе rollback (all-or-nothing)
func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	// Гарантируем откат транзакции в случае ошибки
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetProduct возвращает товар по ID без блокировки
func (s *Store) GetProduct(ctx context.Context, productID string) (repository.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, available_stock, reserved_stock
		 FROM products
		 WHERE id = $1`,
		productID))
}

// ListProducts возвращает все товары, отсортированные по имени
func (s *Store) ListProducts(ctx context.Context) ([]repository.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, price_cents, available_stock, reserved_stock
		 FROM products
		 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]repository.Product, 0)
	for rows.Next() {
		var p repository.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.AvailableStock, &p.ReservedStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetReservation возвращает резервацию по ID без блокировки
func (s *Store) GetReservation(ctx context.Context, reservationID string) (repository.Reservation, error) {
	return scanReservation(s.pool.QueryRow(ctx,
		`SELECT id, product_id, quantity, status, created_at, expires_at, completed_at
		 FROM reservations
		 WHERE id = $1`,
		reservationID))
}

// ListReservations возвращает резервации, опционально фильтруя по статусу
func (s *Store) ListReservations(ctx context.Context, status *repository.ReservationStatus) ([]repository.Reservation, error) {
	query := `SELECT id, product_id, quantity, status, created_at, expires_at, completed_at
	          FROM reservations`
	args := make([]any, 0, 1)
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListActiveByProduct возвращает активные резервации товара
func (s *Store) ListActiveByProduct(ctx context.Context, productID string) ([]repository.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, quantity, status, created_at, expires_at, completed_at
		 FROM reservations
		 WHERE product_id = $1 AND status = $2
		 ORDER BY created_at`,
		productID, string(repository.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

// pgTx реализует repository.Tx поверх pgx.Tx
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, productID string) (repository.Product, error) {
	// FOR UPDATE без join: блокируем ровно одну строку products
	return scanProduct(t.tx.QueryRow(ctx,
		`SELECT id, name, price_cents, available_stock, reserved_stock
		 FROM products
		 WHERE id = $1
		 FOR UPDATE`,
		productID))
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string, qty int) error {
	// Условие available_stock >= qty в WHERE - вторая линия защиты
	// поверх проверки в engine; при нехватке строка не обновляется
	ct, err := t.tx.Exec(ctx,
		`UPDATE products
		 SET available_stock = available_stock - $2,
		     reserved_stock  = reserved_stock + $2
		 WHERE id = $1 AND available_stock >= $2`,
		productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Строка уже заблокирована через GetProductForUpdate, значит существует -
		// обновление не прошло именно из-за нехватки stock
		return repository.ErrInsufficientStock
	}
	return nil
}

func (t *pgTx) ReleaseStock(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE products
		 SET available_stock = available_stock + $2,
		     reserved_stock  = reserved_stock - $2
		 WHERE id = $1`,
		productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) ConsumeStock(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE products
		 SET reserved_stock = reserved_stock - $2
		 WHERE id = $1`,
		productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r repository.Reservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservations (id, product_id, quantity, status, created_at, expires_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ProductID, r.Quantity, string(r.Status), r.CreatedAt, r.ExpiresAt, r.CompletedAt)
	return err
}

func (t *pgTx) GetReservationForUpdate(ctx context.Context, reservationID string) (repository.Reservation, error) {
	return scanReservation(t.tx.QueryRow(ctx,
		`SELECT id, product_id, quantity, status, created_at, expires_at, completed_at
		 FROM reservations
		 WHERE id = $1
		 FOR UPDATE`,
		reservationID))
}

func (t *pgTx) TransitionReservation(ctx context.Context, reservationID string, from, to repository.ReservationStatus, completedAt *time.Time) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE reservations
		 SET status = $3,
		     completed_at = COALESCE($4, completed_at)
		 WHERE id = $1 AND status = $2`,
		reservationID, string(from), string(to), completedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrStaleStatus
	}
	return nil
}

// scanProduct собирает Product из одной строки
func scanProduct(row pgx.Row) (repository.Product, error) {
	var p repository.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.AvailableStock, &p.ReservedStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Product{}, repository.ErrProductNotFound
		}
		return repository.Product{}, err
	}
	return p, nil
}

// scanReservation собирает Reservation из одной строки
func scanReservation(row pgx.Row) (repository.Reservation, error) {
	var r repository.Reservation
	var status string
	err := row.Scan(&r.ID, &r.ProductID, &r.Quantity, &status, &r.CreatedAt, &r.ExpiresAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Reservation{}, repository.ErrReservationNotFound
		}
		return repository.Reservation{}, err
	}
	r.Status = repository.ReservationStatus(status)
	return r, nil
}

// collectReservations собирает список резерваций из rows
func collectReservations(rows pgx.Rows) ([]repository.Reservation, error) {
	reservations := make([]repository.Reservation, 0)
	for rows.Next() {
		var r repository.Reservation
		var status string
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Quantity, &status, &r.CreatedAt, &r.ExpiresAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.Status = repository.ReservationStatus(status)
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}
