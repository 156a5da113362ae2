package store

import "librarytracker/pkg/domain"

// Store defines persistence operations for catalog books.
type Store interface {
	// SaveBook inserts or updates a book and returns it with its assigned id.
	SaveBook(domain.Book) (domain.Book, error)
	GetBook(id int64) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	ListBooksByOwner(ownerEmail string) ([]domain.Book, error)
	// ListBooksByIDs returns the books matching ids, in primary-key order.
	// Unknown ids are skipped.
	ListBooksByIDs(ids []int64) ([]domain.Book, error)
	DeleteBook(id int64) error
}
