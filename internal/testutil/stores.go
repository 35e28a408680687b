package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// ExchangeStore is an in-memory domain.ExchangeStore with compare-and-set
// locking.
type ExchangeStore struct {
	mu        sync.Mutex
	exchanges map[domain.ExchangeID]domain.Exchange

	Acquires int
	Releases int
}

// NewExchangeStore seeds the store with exchanges.
func NewExchangeStore(exs ...domain.Exchange) *ExchangeStore {
	s := &ExchangeStore{exchanges: make(map[domain.ExchangeID]domain.Exchange)}
	for _, ex := range exs {
		s.exchanges[ex.ID] = ex
	}
	return s
}

func (s *ExchangeStore) GetByID(_ context.Context, id domain.ExchangeID) (domain.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.exchanges[id]
	if !ok {
		return domain.Exchange{}, domain.ErrNotFound
	}
	return ex, nil
}

func (s *ExchangeStore) ListActive(context.Context) ([]domain.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Exchange
	for _, ex := range s.exchanges {
		if ex.Active {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ExchangeStore) Upsert(_ context.Context, ex domain.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges[ex.ID] = ex
	return nil
}

func (s *ExchangeStore) AcquireLock(_ context.Context, id domain.ExchangeID, lock domain.ExchangeLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Acquires++
	ex, ok := s.exchanges[id]
	if !ok || ex.Lock != domain.ExchangeUnlocked {
		return domain.ErrExchangeLocked
	}
	ex.Lock = lock
	s.exchanges[id] = ex
	return nil
}

func (s *ExchangeStore) ReleaseLock(_ context.Context, id domain.ExchangeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Releases++
	ex, ok := s.exchanges[id]
	if !ok || ex.Lock == domain.ExchangeUnlocked {
		return domain.ErrNotFound
	}
	ex.Lock = domain.ExchangeUnlocked
	s.exchanges[id] = ex
	return nil
}

// Lock returns the current lock of id.
func (s *ExchangeStore) Lock(id domain.ExchangeID) domain.ExchangeLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges[id].Lock
}

// ProductStore is an in-memory domain.ProductStore.
type ProductStore struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	nextID   int64
}

// NewProductStore seeds the store, assigning ids where missing.
func NewProductStore(ps ...domain.Product) *ProductStore {
	s := &ProductStore{products: make(map[int64]domain.Product)}
	for _, p := range ps {
		_, _ = s.Upsert(context.Background(), p)
	}
	return s
}

func (s *ProductStore) Upsert(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.products {
		if cur.ExchangeID == p.ExchangeID && cur.Pair() == p.Pair() {
			p.ID = id
			p.InsufficientFills = cur.InsufficientFills
			s.products[id] = p
			return p, nil
		}
	}
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *ProductStore) GetByPair(_ context.Context, id domain.ExchangeID, pair string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ExchangeID == id && p.Pair() == pair {
			return p, nil
		}
	}
	return domain.Product{}, domain.ErrNotFound
}

func (s *ProductStore) ListByExchange(_ context.Context, id domain.ExchangeID) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Product
	for _, p := range s.products {
		if p.ExchangeID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProductStore) update(id int64, fn func(*domain.Product)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&p)
	s.products[id] = p
	return nil
}

func (s *ProductStore) SetStatus(_ context.Context, id int64, status domain.ProductStatus) error {
	return s.update(id, func(p *domain.Product) { p.Status = status })
}

func (s *ProductStore) UpdateStableVolume(_ context.Context, id int64, v float64) error {
	return s.update(id, func(p *domain.Product) { p.Volume24hStable = v })
}

func (s *ProductStore) IncrementInsufficientFills(_ context.Context, id int64) error {
	return s.update(id, func(p *domain.Product) { p.InsufficientFills++ })
}

// OrderStore is an in-memory domain.OrderStore with compare-and-set locking.
type OrderStore struct {
	mu     sync.Mutex
	orders map[int64]domain.Order
	nextID int64

	// LockHistory records every successful Lock call.
	LockHistory []domain.OrderLock
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[int64]domain.Order)}
}

func (s *OrderStore) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = o
	return o, nil
}

func (s *OrderStore) GetByID(_ context.Context, id int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *OrderStore) Update(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return domain.ErrNotFound
	}
	// the lock column is owned by Lock and Unlock
	o.Lock = cur.Lock
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = o
	return nil
}

func (s *OrderStore) Lock(_ context.Context, id int64, lock domain.OrderLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Lock != domain.OrderUnlocked {
		return domain.ErrOrderLocked
	}
	o.Lock = lock
	s.orders[id] = o
	s.LockHistory = append(s.LockHistory, lock)
	return nil
}

func (s *OrderStore) Unlock(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Lock = domain.OrderUnlocked
	s.orders[id] = o
	return nil
}

func (s *OrderStore) ListBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// All returns every order sorted by id.
func (s *OrderStore) All() []domain.Order {
	out, _ := s.ListBefore(context.Background(), time.Now().Add(time.Hour))
	return out
}

// TarbitStore is an in-memory domain.TarbitStore.
type TarbitStore struct {
	mu     sync.Mutex
	arbits map[int64]domain.TriangleArbit
	nextID int64
}

// NewTarbitStore creates an empty store.
func NewTarbitStore() *TarbitStore {
	return &TarbitStore{arbits: make(map[int64]domain.TriangleArbit)}
}

func (s *TarbitStore) Create(_ context.Context, a domain.TriangleArbit) (domain.TriangleArbit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.arbits[a.ID] = a
	return a, nil
}

func (s *TarbitStore) GetByID(_ context.Context, id int64) (domain.TriangleArbit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arbits[id]
	if !ok {
		return domain.TriangleArbit{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *TarbitStore) update(id int64, fn func(*domain.TriangleArbit)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arbits[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = time.Now()
	s.arbits[id] = a
	return nil
}

func (s *TarbitStore) UpdateStatus(_ context.Context, id int64, status domain.ArbitStatus) error {
	return s.update(id, func(a *domain.TriangleArbit) { a.Status = status })
}

func (s *TarbitStore) SetOrderID(_ context.Context, id int64, leg int, orderID int64) error {
	return s.update(id, func(a *domain.TriangleArbit) {
		switch leg {
		case 1:
			a.OrderID1 = orderID
		case 2:
			a.OrderID2 = orderID
		case 3:
			a.OrderID3 = orderID
		}
	})
}

func (s *TarbitStore) SetNet(_ context.Context, id int64, net float64) error {
	return s.update(id, func(a *domain.TriangleArbit) { a.Net = net })
}

func (s *TarbitStore) ListRecent(_ context.Context, id domain.ExchangeID, limit int) ([]domain.TriangleArbit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TriangleArbit
	for _, a := range s.arbits {
		if id == 0 || a.ExchangeID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TarbitStore) ListFinishedBefore(_ context.Context, before time.Time) ([]domain.TriangleArbit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TriangleArbit
	for _, a := range s.arbits {
		done := a.Status == domain.ArbitCompleted || a.Status == domain.ArbitFailed
		if done && a.UpdatedAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *TarbitStore) CountByStatus(_ context.Context, id domain.ExchangeID) (map[domain.ArbitStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ArbitStatus]int64)
	for _, a := range s.arbits {
		if id == 0 || a.ExchangeID == id {
			out[a.Status]++
		}
	}
	return out, nil
}

// All returns every record sorted by id.
func (s *TarbitStore) All() []domain.TriangleArbit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TriangleArbit, 0, len(s.arbits))
	for _, a := range s.arbits {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConvertStore is an in-memory domain.ConvertStore.
type ConvertStore struct {
	mu       sync.Mutex
	converts []domain.CurrencyConvert
}

// NewConvertStore seeds the store.
func NewConvertStore(cs ...domain.CurrencyConvert) *ConvertStore {
	return &ConvertStore{converts: cs}
}

func (s *ConvertStore) Upsert(_ context.Context, c domain.CurrencyConvert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.converts {
		if cur.BaseCurrency == c.BaseCurrency && cur.QuoteCurrency == c.QuoteCurrency {
			s.converts[i] = c
			return nil
		}
	}
	s.converts = append(s.converts, c)
	return nil
}

func (s *ConvertStore) FindByBase(_ context.Context, bases []string) ([]domain.CurrencyConvert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CurrencyConvert
	for _, c := range s.converts {
		for _, b := range bases {
			if strings.EqualFold(c.BaseCurrency, b) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

var (
	_ domain.ExchangeStore = (*ExchangeStore)(nil)
	_ domain.ProductStore  = (*ProductStore)(nil)
	_ domain.OrderStore    = (*OrderStore)(nil)
	_ domain.TarbitStore   = (*TarbitStore)(nil)
	_ domain.ConvertStore  = (*ConvertStore)(nil)
)
