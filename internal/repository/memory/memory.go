package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
)

// Store реализует repository.Store используя in-memory map
// Используется для разработки и тестирования
// В production будет заменён на реализацию с PostgreSQL
//
// Блокировки строк эмулируют SELECT ... FOR UPDATE: на каждую строку
// заводится отдельный mutex в таблице блокировок, транзакция держит его
// до commit/rollback. Мутации накапливаются в staged-копиях и применяются
// к хранилищу только при commit (all-or-nothing).
type Store struct {
	mu               sync.Mutex // защищает карты данных и таблицы блокировок
	products         map[string]repository.Product
	reservations     map[string]repository.Reservation
	productLocks     map[string]*sync.Mutex
	reservationLocks map[string]*sync.Mutex
}

// NewStore создаёт новый in-memory store
func NewStore() *Store {
	return &Store{
		products:         make(map[string]repository.Product),
		reservations:     make(map[string]repository.Reservation),
		productLocks:     make(map[string]*sync.Mutex),
		reservationLocks: make(map[string]*sync.Mutex),
	}
}

// SeedProducts загружает товары в хранилище (каталог при старте, фикстуры в тестах)
func (s *Store) SeedProducts(products ...repository.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
}

// rowLock возвращает mutex строки из таблицы блокировок, создавая его при первом обращении
func (s *Store) rowLock(table map[string]*sync.Mutex, id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := table[id]
	if !ok {
		m = &sync.Mutex{}
		table[id] = m
	}
	return m
}

// WithinTx выполняет fn внутри транзакции
// При ошибке fn все staged-изменения отбрасываются, блокировки строк освобождаются
func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	tx := &memTx{
		store:        s,
		heldSet:      make(map[*sync.Mutex]struct{}),
		products:     make(map[string]repository.Product),
		reservations: make(map[string]repository.Reservation),
	}

	if err := fn(ctx, tx); err != nil {
		tx.release()
		return err
	}

	tx.commit()
	return nil
}

// GetProduct возвращает товар по ID без блокировки
func (s *Store) GetProduct(ctx context.Context, productID string) (repository.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return repository.Product{}, repository.ErrProductNotFound
	}
	return p, nil
}

// ListProducts возвращает все товары, отсортированные по имени
func (s *Store) ListProducts(ctx context.Context) ([]repository.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]repository.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// GetReservation возвращает резервацию по ID без блокировки
func (s *Store) GetReservation(ctx context.Context, reservationID string) (repository.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return repository.Reservation{}, repository.ErrReservationNotFound
	}
	return r, nil
}

// ListReservations возвращает резервации, опционально фильтруя по статусу
func (s *Store) ListReservations(ctx context.Context, status *repository.ReservationStatus) ([]repository.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]repository.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		if status != nil && r.Status != *status {
			continue
		}
		reservations = append(reservations, r)
	}
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt.Before(reservations[j].CreatedAt)
	})
	return reservations, nil
}

// ListActiveByProduct возвращает активные резервации товара
func (s *Store) ListActiveByProduct(ctx context.Context, productID string) ([]repository.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]repository.Reservation, 0)
	for _, r := range s.reservations {
		if r.ProductID == productID && r.Status == repository.StatusActive {
			reservations = append(reservations, r)
		}
	}
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt.Before(reservations[j].CreatedAt)
	})
	return reservations, nil
}

// memTx реализует repository.Tx поверх staged-копий
type memTx struct {
	store        *Store
	held         []*sync.Mutex // блокировки строк в порядке захвата
	heldSet      map[*sync.Mutex]struct{}
	products     map[string]repository.Product
	reservations map[string]repository.Reservation
}

// acquire берёт блокировку строки, если она ещё не захвачена этой транзакцией
func (tx *memTx) acquire(m *sync.Mutex) {
	if _, ok := tx.heldSet[m]; ok {
		return
	}
	m.Lock()
	tx.held = append(tx.held, m)
	tx.heldSet[m] = struct{}{}
}

// commit применяет staged-изменения к хранилищу и освобождает блокировки
func (tx *memTx) commit() {
	tx.store.mu.Lock()
	for id, p := range tx.products {
		tx.store.products[id] = p
	}
	for id, r := range tx.reservations {
		tx.store.reservations[id] = r
	}
	tx.store.mu.Unlock()

	tx.release()
}

// release освобождает блокировки строк в обратном порядке захвата
func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
	tx.heldSet = nil
}

func (tx *memTx) GetProductForUpdate(ctx context.Context, productID string) (repository.Product, error) {
	// Повторное чтение внутри транзакции видит staged-мутации
	if p, ok := tx.products[productID]; ok {
		return p, nil
	}

	tx.acquire(tx.store.rowLock(tx.store.productLocks, productID))

	tx.store.mu.Lock()
	p, ok := tx.store.products[productID]
	tx.store.mu.Unlock()
	if !ok {
		return repository.Product{}, repository.ErrProductNotFound
	}

	tx.products[productID] = p
	return p, nil
}

func (tx *memTx) ReserveStock(ctx context.Context, productID string, qty int) error {
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	if p.AvailableStock < qty {
		return repository.ErrInsufficientStock
	}
	p.AvailableStock -= qty
	p.ReservedStock += qty
	tx.products[productID] = p
	return nil
}

func (tx *memTx) ReleaseStock(ctx context.Context, productID string, qty int) error {
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	if p.ReservedStock < qty {
		return fmt.Errorf("reserved stock underflow for product %s", productID)
	}
	p.AvailableStock += qty
	p.ReservedStock -= qty
	tx.products[productID] = p
	return nil
}

func (tx *memTx) ConsumeStock(ctx context.Context, productID string, qty int) error {
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	if p.ReservedStock < qty {
		return fmt.Errorf("reserved stock underflow for product %s", productID)
	}
	p.ReservedStock -= qty
	tx.products[productID] = p
	return nil
}

func (tx *memTx) InsertReservation(ctx context.Context, r repository.Reservation) error {
	tx.reservations[r.ID] = r
	return nil
}

func (tx *memTx) GetReservationForUpdate(ctx context.Context, reservationID string) (repository.Reservation, error) {
	if r, ok := tx.reservations[reservationID]; ok {
		return r, nil
	}

	tx.acquire(tx.store.rowLock(tx.store.reservationLocks, reservationID))

	tx.store.mu.Lock()
	r, ok := tx.store.reservations[reservationID]
	tx.store.mu.Unlock()
	if !ok {
		return repository.Reservation{}, repository.ErrReservationNotFound
	}

	tx.reservations[reservationID] = r
	return r, nil
}

func (tx *memTx) TransitionReservation(ctx context.Context, reservationID string, from, to repository.ReservationStatus, completedAt *time.Time) error {
	r, err := tx.GetReservationForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != from {
		return repository.ErrStaleStatus
	}
	r.Status = to
	if completedAt != nil {
		r.CompletedAt = completedAt
	}
	tx.reservations[reservationID] = r
	return nil
}
