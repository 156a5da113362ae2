package app

import "errors"

var (
	// ErrNoQuery indicates a search request with neither audio nor text.
	ErrNoQuery = errors.New("no audio or text query provided")
	// ErrBookNotFound indicates an unknown book id.
	ErrBookNotFound = errors.New("book not found")
	// ErrModelOutput indicates the model reply could not be parsed as books.
	ErrModelOutput = errors.New("model output is not valid book JSON")
	// ErrGeneration wraps any failure during AI book-detail generation.
	ErrGeneration = errors.New("book detail generation failed")
	// ErrCoverMissing indicates the book has no stored cover image.
	ErrCoverMissing = errors.New("cover image not set")
)
