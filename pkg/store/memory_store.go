package store

import (
	"sort"
	"sync"
	"time"

	"librarytracker/pkg/domain"
)

// MemoryStore keeps books in-process. Used by tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	books  map[int64]domain.Book
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		books:  make(map[int64]domain.Book),
	}
}

// SaveBook stores a book, assigning an id when it has none.
func (m *MemoryStore) SaveBook(b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.nextID
		m.nextID++
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = b
	return b, nil
}

// GetBook retrieves a book by id.
func (m *MemoryStore) GetBook(id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns all books in id order.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(domain.Book) bool { return true }), nil
}

// ListBooksByOwner returns books belonging to ownerEmail in id order.
func (m *MemoryStore) ListBooksByOwner(ownerEmail string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(b domain.Book) bool { return b.OwnerEmail == ownerEmail }), nil
}

// ListBooksByIDs returns the books matching ids in id order.
func (m *MemoryStore) ListBooksByIDs(ids []int64) ([]domain.Book, error) {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(b domain.Book) bool {
		_, ok := wanted[b.ID]
		return ok
	}), nil
}

// DeleteBook removes a book by id.
func (m *MemoryStore) DeleteBook(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	return nil
}

func (m *MemoryStore) collect(keep func(domain.Book) bool) []domain.Book {
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if keep(b) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
