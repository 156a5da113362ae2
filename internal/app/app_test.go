package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"librarytracker/pkg/domain"
	"librarytracker/pkg/store"
	"librarytracker/pkg/vector"
)

type fakeIndex struct {
	docs    []vector.Document
	matches []vector.Match
	deleted []int64

	addErr    error
	searchErr error
}

func (f *fakeIndex) Add(_ context.Context, docs []vector.Document) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeIndex) SimilaritySearch(_ context.Context, _ string, topK int, _ float32) ([]vector.Match, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	matches := f.matches
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (f *fakeIndex) DeleteByBook(_ context.Context, bookID int64) error {
	f.deleted = append(f.deleted, bookID)
	return nil
}

type fakeGenerator struct {
	replies []string
	prompts []string
	err     error
}

func (f *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, userPrompt)
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	f.got = audio
	return f.text, f.err
}

type fakeImages struct {
	data []byte
	err  error
}

func (f *fakeImages) GenerateImage(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeCovers struct {
	objects map[string][]byte
	deleted []string
}

func newFakeCovers() *fakeCovers {
	return &fakeCovers{objects: make(map[string][]byte)}
}

func (f *fakeCovers) Put(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeCovers) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("no object %q", key)
	}
	return "https://covers.test/" + key, nil
}

func (f *fakeCovers) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func writePromptDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	templates := map[string]string{
		searchPromptName:  "Query: {userQuery}\nContext:\n{context}",
		chatbotPromptName: "Question: {userQuery}\nLibrary:\n{context}",
	}
	for name, text := range templates {
		if err := os.WriteFile(filepath.Join(dir, name+".st"), []byte(text), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
	return dir
}

type fixture struct {
	app    *App
	store  *store.MemoryStore
	index  *fakeIndex
	gen    *fakeGenerator
	voice  *fakeTranscriber
	images *fakeImages
	covers *fakeCovers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemoryStore(),
		index:  &fakeIndex{},
		gen:    &fakeGenerator{},
		voice:  &fakeTranscriber{},
		images: &fakeImages{data: []byte("png-bytes")},
		covers: newFakeCovers(),
	}
	core, err := New(Config{
		Store:      f.store,
		Index:      f.index,
		Generator:  f.gen,
		Transcribe: f.voice,
		Images:     f.images,
		Covers:     f.covers,
		PromptDir:  writePromptDir(t),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = core
	return f
}

func matchFor(b domain.Book, score float32) vector.Match {
	return vector.Match{
		Document: vector.Document{
			ID:      "doc-" + strconv.FormatInt(b.ID, 10),
			Content: embedContent(b),
			Metadata: map[string]string{
				vector.MetaBookID: strconv.FormatInt(b.ID, 10),
				vector.MetaEmail:  b.OwnerEmail,
			},
		},
		Score: score,
	}
}

func TestAddBookIndexesTextProjection(t *testing.T) {
	f := newFixture(t)
	saved, err := f.app.AddBook(context.Background(), domain.Book{
		Title:      "Dune",
		Author:     "Frank Herbert",
		Genre:      "Science Fiction",
		PageCount:  412,
		Read:       true,
		OwnerEmail: "paul@arrakis.example",
	}, nil)
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	if saved.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if len(f.index.docs) != 1 {
		t.Fatalf("indexed docs = %d, want 1", len(f.index.docs))
	}
	doc := f.index.docs[0]
	if doc.Metadata[vector.MetaBookID] != strconv.FormatInt(saved.ID, 10) {
		t.Fatalf("bookId metadata = %q", doc.Metadata[vector.MetaBookID])
	}
	if doc.Metadata[vector.MetaEmail] != "paul@arrakis.example" {
		t.Fatalf("email metadata = %q", doc.Metadata[vector.MetaEmail])
	}
	want := "Title: Dune\nAuthor: Frank Herbert\nDescription: \nGenre: Science Fiction\nPages: 412\nRead: Yes\n"
	if doc.Content != want {
		t.Fatalf("doc content = %q, want %q", doc.Content, want)
	}
}

func TestAddBookStoresCover(t *testing.T) {
	f := newFixture(t)
	saved, err := f.app.AddBook(context.Background(), domain.Book{
		Title:      "Hyperion",
		OwnerEmail: "sol@web.example",
	}, &CoverUpload{Name: "hyperion cover.png", ContentType: "image/png", Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	if saved.ImageKey == "" {
		t.Fatalf("expected image key on saved book")
	}
	if _, ok := f.covers.objects[saved.ImageKey]; !ok {
		t.Fatalf("cover object %q not stored", saved.ImageKey)
	}
	if saved.ImageName != "hyperion cover.png" {
		t.Fatalf("imageName = %q", saved.ImageName)
	}
}

func TestSearchBooksRequiresQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.SearchBooks(context.Background(), nil, "", "   ", "reader@example.com")
	if !errors.Is(err, ErrNoQuery) {
		t.Fatalf("err = %v, want ErrNoQuery", err)
	}
}

func TestSearchBooksTranscribesAudio(t *testing.T) {
	f := newFixture(t)
	f.voice.text = "books about deserts"
	f.gen.replies = []string{"[]"}
	books, err := f.app.SearchBooks(context.Background(), []byte("audio"), "query.webm", "", "reader@example.com")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 0 {
		t.Fatalf("books = %d, want 0", len(books))
	}
	if string(f.voice.got) != "audio" {
		t.Fatalf("transcriber did not receive audio bytes")
	}
	if len(f.gen.prompts) != 1 || !strings.Contains(f.gen.prompts[0], "books about deserts") {
		t.Fatalf("prompt missing transcribed query: %q", f.gen.prompts)
	}
}

func TestSearchBooksKeepsModelRanking(t *testing.T) {
	f := newFixture(t)
	owner := "reader@example.com"
	var ids []int64
	for _, title := range []string{"Dune", "Foundation", "Neuromancer"} {
		b, err := f.store.SaveBook(domain.Book{Title: title, OwnerEmail: owner})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, b.ID)
		f.index.matches = append(f.index.matches, matchFor(b, 0.9))
	}
	// Model ranks Neuromancer first, then Dune; the store returns rows in
	// primary-key order.
	f.gen.replies = []string{fmt.Sprintf(`[{"id": %d}, {"id": %d}]`, ids[2], ids[0])}

	books, err := f.app.SearchBooks(context.Background(), nil, "", "classic sci-fi", owner)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("books = %d, want 2", len(books))
	}
	if books[0].Title != "Neuromancer" || books[1].Title != "Dune" {
		t.Fatalf("ranking = [%s, %s], want [Neuromancer, Dune]", books[0].Title, books[1].Title)
	}
}

func TestSearchBooksDiscardsInvalidIDs(t *testing.T) {
	f := newFixture(t)
	owner := "reader@example.com"
	b, err := f.store.SaveBook(domain.Book{Title: "Dune", OwnerEmail: owner})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.index.matches = []vector.Match{matchFor(b, 0.9)}
	f.gen.replies = []string{fmt.Sprintf(`[{"id": -1}, {"id": 0}, {"id": %d}]`, b.ID)}

	books, err := f.app.SearchBooks(context.Background(), nil, "", "desert planet", owner)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 1 || books[0].ID != b.ID {
		t.Fatalf("books = %+v, want only id %d", books, b.ID)
	}
}

func TestSearchBooksFiltersOtherOwners(t *testing.T) {
	f := newFixture(t)
	mine, err := f.store.SaveBook(domain.Book{Title: "Dune", OwnerEmail: "me@example.com"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	theirs, err := f.store.SaveBook(domain.Book{Title: "Dune Messiah", OwnerEmail: "other@example.com"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.index.matches = []vector.Match{matchFor(mine, 0.95), matchFor(theirs, 0.9)}
	// The model hallucinates the other user's id into its answer.
	f.gen.replies = []string{fmt.Sprintf(`[{"id": %d}, {"id": %d}]`, theirs.ID, mine.ID)}

	books, err := f.app.SearchBooks(context.Background(), nil, "", "dune", "me@example.com")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 1 || books[0].ID != mine.ID {
		t.Fatalf("books = %+v, want only own book %d", books, mine.ID)
	}
	// The other user's book must not reach the prompt context either.
	if strings.Contains(f.gen.prompts[0], "Dune Messiah") {
		t.Fatalf("prompt leaked another user's book: %q", f.gen.prompts[0])
	}
}

func TestSearchBooksRejectsNonJSONReply(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"I could not find anything, sorry!"}
	_, err := f.app.SearchBooks(context.Background(), nil, "", "anything", "reader@example.com")
	if !errors.Is(err, ErrModelOutput) {
		t.Fatalf("err = %v, want ErrModelOutput", err)
	}
}

func TestSearchBooksStripsCodeFence(t *testing.T) {
	f := newFixture(t)
	owner := "reader@example.com"
	b, err := f.store.SaveBook(domain.Book{Title: "Dune", OwnerEmail: owner})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.index.matches = []vector.Match{matchFor(b, 0.9)}
	f.gen.replies = []string{fmt.Sprintf("```json\n[{\"id\": %d}]\n```", b.ID)}
	books, err := f.app.SearchBooks(context.Background(), nil, "", "dune", owner)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("books = %d, want 1", len(books))
	}
}

func TestGenerateBookDetails(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{`{"title": "Dune", "author": "Frank Herbert", "genre": "Science Fiction", "description": "Desert planet epic.", "pageCount": 412}`}
	book, err := f.app.GenerateBookDetails(context.Background(), "Dune")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if book.Author != "Frank Herbert" || book.PageCount != 412 {
		t.Fatalf("book = %+v", book)
	}
	if len(book.CoverImage) == 0 {
		t.Fatalf("expected generated cover bytes")
	}
	if book.ImageName != "dune.png" {
		t.Fatalf("imageName = %q, want dune.png", book.ImageName)
	}
}

func TestGenerateBookDetailsUnknownFallback(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{`{"title": "A Book That Never Was", "author": "Unknown", "genre": "Unknown", "description": "No official description available.", "pageCount": 0}`}
	book, err := f.app.GenerateBookDetails(context.Background(), "A Book That Never Was")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if book.Author != "Unknown" || book.PageCount != 0 {
		t.Fatalf("book = %+v, want Unknown fallback", book)
	}
}

func TestGenerateBookDetailsSurvivesImageFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{`{"title": "Dune", "author": "Frank Herbert", "pageCount": 412}`}
	f.images.err = errors.New("image backend down")
	book, err := f.app.GenerateBookDetails(context.Background(), "Dune")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(book.CoverImage) != 0 {
		t.Fatalf("expected no cover bytes on image failure")
	}
	if book.Title != "Dune" {
		t.Fatalf("title = %q", book.Title)
	}
}

func TestGenerateBookDetailsWrapsModelFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("model unavailable")
	_, err := f.app.GenerateBookDetails(context.Background(), "Dune")
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestUpdateBookNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.UpdateBook(context.Background(), domain.Book{ID: 99, Title: "Ghost"}, nil)
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestUpdateBookOverwritesFields(t *testing.T) {
	f := newFixture(t)
	saved, err := f.app.AddBook(context.Background(), domain.Book{
		Title:      "Dune",
		OwnerEmail: "reader@example.com",
	}, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	indexedBefore := len(f.index.docs)

	updated, err := f.app.UpdateBook(context.Background(), domain.Book{
		ID:         saved.ID,
		Title:      "Dune Messiah",
		Author:     "Frank Herbert",
		Read:       true,
		OwnerEmail: "reader@example.com",
	}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Dune Messiah" || !updated.Read {
		t.Fatalf("updated = %+v", updated)
	}
	// Updates do not rewrite the semantic index.
	if len(f.index.docs) != indexedBefore {
		t.Fatalf("indexed docs = %d, want %d", len(f.index.docs), indexedBefore)
	}
}

func TestDeleteBookCleansCoverAndIndex(t *testing.T) {
	f := newFixture(t)
	saved, err := f.app.AddBook(context.Background(), domain.Book{
		Title:      "Dune",
		OwnerEmail: "reader@example.com",
	}, &CoverUpload{Name: "dune.png", ContentType: "image/png", Data: []byte{1}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.app.DeleteBook(context.Background(), saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := f.store.GetBook(saved.ID); ok {
		t.Fatalf("book row still present")
	}
	if len(f.covers.deleted) != 1 {
		t.Fatalf("cover objects deleted = %d, want 1", len(f.covers.deleted))
	}
	if len(f.index.deleted) != 1 || f.index.deleted[0] != saved.ID {
		t.Fatalf("index deletions = %v, want [%d]", f.index.deleted, saved.ID)
	}
}

func TestDeleteBookUnknownIDIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.app.DeleteBook(context.Background(), 404); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	if len(f.index.deleted) != 0 {
		t.Fatalf("unexpected index deletion for unknown id")
	}
}

func TestCoverURL(t *testing.T) {
	f := newFixture(t)
	saved, err := f.app.AddBook(context.Background(), domain.Book{
		Title:      "Dune",
		OwnerEmail: "reader@example.com",
	}, &CoverUpload{Name: "dune.png", ContentType: "image/png", Data: []byte{1}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	url, filename, err := f.app.CoverURL(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("cover url: %v", err)
	}
	if url == "" || filename != "dune.png" {
		t.Fatalf("url = %q filename = %q", url, filename)
	}

	bare, err := f.store.SaveBook(domain.Book{Title: "No Cover", OwnerEmail: "reader@example.com"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := f.app.CoverURL(context.Background(), bare.ID); !errors.Is(err, ErrCoverMissing) {
		t.Fatalf("err = %v, want ErrCoverMissing", err)
	}
	if _, _, err := f.app.CoverURL(context.Background(), 404); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestAskUsesUnfilteredContext(t *testing.T) {
	f := newFixture(t)
	a := domain.Book{ID: 1, Title: "Dune", OwnerEmail: "a@example.com"}
	b := domain.Book{ID: 2, Title: "Emma", OwnerEmail: "b@example.com"}
	f.index.matches = []vector.Match{matchFor(a, 0.9), matchFor(b, 0.8)}
	f.gen.replies = []string{"You have two books."}

	reply, err := f.app.Ask(context.Background(), "what books are there?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply != "You have two books." {
		t.Fatalf("reply = %q", reply)
	}
	prompt := f.gen.prompts[len(f.gen.prompts)-1]
	if !strings.Contains(prompt, "Dune") || !strings.Contains(prompt, "Emma") {
		t.Fatalf("chat context missing books: %q", prompt)
	}
}

func TestAskMissingTemplateDegradesToErrorReply(t *testing.T) {
	f := newFixture(t)
	missing, err := New(Config{
		Store:     f.store,
		Index:     f.index,
		Generator: f.gen,
		PromptDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	reply, err := missing.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(reply, "Error:") {
		t.Fatalf("reply = %q, want Error: prefix", reply)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"dune.png", "dune.png"},
		{"my cover.png", "my_cover.png"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"  ", ""},
		{"überbuch.png", "berbuch.png"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`[]`, `[]`},
		{"```json\n[]\n```", `[]`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  []  ", `[]`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

