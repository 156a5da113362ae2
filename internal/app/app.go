package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarytracker/internal/util"
	"librarytracker/pkg/ai"
	"librarytracker/pkg/domain"
	"librarytracker/pkg/prompt"
	"librarytracker/pkg/storage"
	"librarytracker/pkg/store"
	"librarytracker/pkg/vector"
)

const (
	searchTopK     = 5
	searchMinScore = 0.7

	searchPromptName  = "book-search-prompt"
	chatbotPromptName = "chatbot-rag-prompt"
)

// Config wires the pipeline's collaborators. All of them are interfaces so
// tests can substitute in-memory fakes.
type Config struct {
	Store      store.Store
	Index      vector.Index
	Generator  ai.TextGenerator
	Transcribe ai.Transcriber
	Images     ai.ImageGenerator
	Covers     storage.ObjectStore
	PromptDir  string
}

// App is the retrieval-augmented query pipeline over the catalog store, the
// semantic index, and the model gateway.
type App struct {
	store         store.Store
	index         vector.Index
	generator     ai.TextGenerator
	transcribe    ai.Transcriber
	images        ai.ImageGenerator
	covers        storage.ObjectStore
	prompts       *prompt.Loader
	presignExpiry time.Duration
}

// New constructs the pipeline with explicit collaborator references.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("semantic index required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	if cfg.PromptDir == "" {
		cfg.PromptDir = "prompts"
	}
	return &App{
		store:         cfg.Store,
		index:         cfg.Index,
		generator:     cfg.Generator,
		transcribe:    cfg.Transcribe,
		images:        cfg.Images,
		covers:        cfg.Covers,
		prompts:       prompt.NewLoader(cfg.PromptDir),
		presignExpiry: 15 * time.Minute,
	}, nil
}

// CoverUpload carries raw cover-image bytes with the declared name and type.
type CoverUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// AddBook persists the book and pushes a text projection of it into the
// semantic index. An index failure is returned but the book row stays:
// cross-store consistency is eventual and not transactional.
func (a *App) AddBook(ctx context.Context, book domain.Book, image *CoverUpload) (domain.Book, error) {
	book.ID = 0
	book.CreatedAt = time.Now().UTC()
	book.UpdatedAt = book.CreatedAt
	saved, err := a.store.SaveBook(book)
	if err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}

	if image != nil && len(image.Data) > 0 {
		saved, err = a.attachCover(ctx, saved, image)
		if err != nil {
			return domain.Book{}, err
		}
	}

	doc := vector.Document{
		ID:      uuid.NewString(),
		Content: embedContent(saved),
		Metadata: map[string]string{
			vector.MetaBookID: strconv.FormatInt(saved.ID, 10),
			vector.MetaEmail:  saved.OwnerEmail,
		},
	}
	if err := a.index.Add(ctx, []vector.Document{doc}); err != nil {
		return domain.Book{}, fmt.Errorf("index book: %w", err)
	}
	return saved, nil
}

func (a *App) attachCover(ctx context.Context, book domain.Book, image *CoverUpload) (domain.Book, error) {
	if a.covers == nil {
		return domain.Book{}, fmt.Errorf("cover storage not configured")
	}
	contentType := strings.TrimSpace(image.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := coverKey(book.ID, image.Name)
	if err := a.covers.Put(ctx, key, image.Data, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("store cover: %w", err)
	}
	book.ImageName = image.Name
	book.ImageType = contentType
	book.ImageKey = key
	book.UpdatedAt = time.Now().UTC()
	saved, err := a.store.SaveBook(book)
	if err != nil {
		return domain.Book{}, fmt.Errorf("save cover metadata: %w", err)
	}
	return saved, nil
}

// SearchBooks resolves a voice-or-text query, retrieves similar library
// entries, asks the model to pick the matches, and resolves the model's ids
// back to catalog rows. Results keep the model's ranking order.
func (a *App) SearchBooks(ctx context.Context, audio []byte, audioName, query, ownerEmail string) ([]domain.Book, error) {
	resolved, err := a.resolveQuery(ctx, audio, audioName, query)
	if err != nil {
		return nil, err
	}
	logger := util.LoggerFromContext(ctx)
	logger.Debug("search query resolved", "query", resolved)

	contextText, err := a.fetchSemanticContext(ctx, resolved, ownerEmail)
	if err != nil {
		return nil, err
	}

	tmpl, err := a.prompts.Load(searchPromptName)
	if err != nil {
		return nil, err
	}
	rendered := tmpl.Render(map[string]string{
		"userQuery": resolved,
		"context":   contextText,
	})

	reply, err := a.generator.GenerateText(ctx, "", rendered)
	if err != nil {
		return nil, fmt.Errorf("generate search reply: %w", err)
	}

	var picks []domain.Book
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &picks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelOutput, err)
	}

	// Only strictly-positive ids link back to ground truth; everything else
	// the model produced is discarded.
	ranked := make([]int64, 0, len(picks))
	for _, pick := range picks {
		if pick.ID > 0 {
			ranked = append(ranked, pick.ID)
		}
	}
	if len(ranked) == 0 {
		return []domain.Book{}, nil
	}

	books, err := a.store.ListBooksByIDs(ranked)
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}

	// Tenancy is enforced again on the final rows: a hallucinated id must
	// not leak another user's book.
	owned := books[:0]
	for _, b := range books {
		if b.OwnerEmail == ownerEmail {
			owned = append(owned, b)
		}
	}

	// Re-sort the store's primary-key order back into the model's ranking.
	rank := make(map[int64]int, len(ranked))
	for i, id := range ranked {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return rank[owned[i].ID] < rank[owned[j].ID]
	})
	return owned, nil
}

func (a *App) resolveQuery(ctx context.Context, audio []byte, audioName, query string) (string, error) {
	if len(audio) > 0 {
		if a.transcribe == nil {
			return "", fmt.Errorf("transcription not configured")
		}
		text, err := a.transcribe.Transcribe(ctx, audio, audioName)
		if err != nil {
			return "", fmt.Errorf("transcribe audio: %w", err)
		}
		return text, nil
	}
	if strings.TrimSpace(query) != "" {
		return query, nil
	}
	return "", ErrNoQuery
}

// fetchSemanticContext runs the similarity search and concatenates the
// formatted content of the surviving matches in index order. An empty
// ownerEmail skips the tenancy filter (chatbot path).
func (a *App) fetchSemanticContext(ctx context.Context, query, ownerEmail string) (string, error) {
	matches, err := a.index.SimilaritySearch(ctx, query, searchTopK, searchMinScore)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}
	var sb strings.Builder
	for _, match := range matches {
		if ownerEmail != "" && match.Metadata[vector.MetaEmail] != ownerEmail {
			continue
		}
		sb.WriteString(match.FormattedContent())
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// GenerateBookDetails asks the model for verified metadata of a titled book
// and renders a cover for it. The result is not persisted; callers decide
// whether to save it via AddBook.
func (a *App) GenerateBookDetails(ctx context.Context, title string) (domain.Book, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Book{}, fmt.Errorf("%w: title required", ErrGeneration)
	}
	reply, err := a.generator.GenerateText(ctx, "", bookDetailsPrompt(title))
	if err != nil {
		return domain.Book{}, fmt.Errorf("%w for %q: %v", ErrGeneration, title, err)
	}
	var book domain.Book
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &book); err != nil {
		return domain.Book{}, fmt.Errorf("%w for %q: %v", ErrGeneration, title, err)
	}

	// Cover generation failures degrade to "no cover" rather than failing
	// the whole request.
	if a.images != nil {
		imageBytes, err := a.images.GenerateImage(ctx, coverImagePrompt(book))
		if err != nil {
			util.LoggerFromContext(ctx).Warn("cover generation failed", "title", title, "err", err)
			return book, nil
		}
		book.CoverImage = imageBytes
		book.ImageType = "image/png"
		book.ImageName = strings.ToLower(strings.ReplaceAll(title, " ", "_")) + ".png"
	}
	return book, nil
}

// UpdateBook overwrites the descriptive fields and read flag of an existing
// book, replacing the stored cover when new bytes are supplied. The semantic
// index is deliberately left untouched: the write path is append-only, so
// the previously indexed text goes stale until the book is re-added.
func (a *App) UpdateBook(ctx context.Context, book domain.Book, image *CoverUpload) (domain.Book, error) {
	existing, ok, err := a.store.GetBook(book.ID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return domain.Book{}, fmt.Errorf("%w: id %d", ErrBookNotFound, book.ID)
	}

	existing.Title = book.Title
	existing.Author = book.Author
	existing.Description = book.Description
	existing.Genre = book.Genre
	existing.PageCount = book.PageCount
	existing.Read = book.Read
	existing.OwnerEmail = book.OwnerEmail
	existing.UpdatedAt = time.Now().UTC()

	if image != nil && len(image.Data) > 0 {
		return a.attachCover(ctx, existing, image)
	}
	saved, err := a.store.SaveBook(existing)
	if err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return saved, nil
}

// DeleteBook removes the catalog row, its stored cover, and its indexed
// documents so deleted books cannot resurface as retrieval context.
func (a *App) DeleteBook(ctx context.Context, id int64) error {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return nil
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if book.ImageKey != "" && a.covers != nil {
		if err := a.covers.Delete(ctx, book.ImageKey); err != nil {
			return fmt.Errorf("delete cover: %w", err)
		}
	}
	if err := a.index.DeleteByBook(ctx, id); err != nil {
		return fmt.Errorf("delete indexed documents: %w", err)
	}
	return nil
}

// GetBook retrieves a book by id.
func (a *App) GetBook(id int64) (domain.Book, bool, error) {
	return a.store.GetBook(id)
}

// ListBooks returns the owner's books.
func (a *App) ListBooks(ownerEmail string) ([]domain.Book, error) {
	return a.store.ListBooksByOwner(ownerEmail)
}

// ListAllBooks returns every book in the catalog.
func (a *App) ListAllBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// CoverURL returns a pre-signed download URL for the book's cover image.
func (a *App) CoverURL(ctx context.Context, id int64) (string, string, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("%w: id %d", ErrBookNotFound, id)
	}
	if strings.TrimSpace(book.ImageKey) == "" {
		return "", "", ErrCoverMissing
	}
	if a.covers == nil {
		return "", "", fmt.Errorf("cover storage not configured")
	}
	url, err := a.covers.PresignGet(ctx, book.ImageKey, a.presignExpiry)
	if err != nil {
		return "", "", err
	}
	return url, book.ImageName, nil
}

// embedContent synthesizes the text blob pushed to the semantic index.
func embedContent(b domain.Book) string {
	read := "No"
	if b.Read {
		read = "Yes"
	}
	return fmt.Sprintf("Title: %s\nAuthor: %s\nDescription: %s\nGenre: %s\nPages: %d\nRead: %s\n",
		b.Title, b.Author, b.Description, b.Genre, b.PageCount, read)
}

func coverKey(bookID int64, filename string) string {
	name := sanitizeFilename(filename)
	if name == "" {
		name = "cover"
	}
	return fmt.Sprintf("covers/%d/%s", bookID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// stripCodeFence removes a surrounding markdown code fence from model output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func bookDetailsPrompt(title string) string {
	return fmt.Sprintf(`You are a professional AI book assistant trained on public data including Amazon, Goodreads, Wikipedia, and major book retailers.

Task:
Given the book title: %q, perform the following:

1. Search your public knowledge base as if you were searching Google, Goodreads, Amazon, or Wikipedia.
2. Identify the exact book if available.
3. Extract accurate metadata from known sources, especially:
   - title
   - author
   - genre (or category)
   - pageCount (must match what's shown online)
   - a short description (max 200 characters)

Only if the book is real and publicly available, return this JSON:
{
  "title": "<Exact Title>",
  "author": "<Verified Author>",
  "genre": "<Genre>",
  "description": "<Max 200 character summary>",
  "pageCount": <Exact page count>
}

If the book does not exist or cannot be verified, return this:
{
  "title": %q,
  "author": "Unknown",
  "genre": "Unknown",
  "description": "No official description available.",
  "pageCount": 0
}

Important Notes:
- Do not fabricate details.
- Do not guess page count or author.
- Search intelligently and verify the result internally.
- Return only the valid JSON structure. No explanation or text outside the JSON.
`, title, title)
}

func coverImagePrompt(b domain.Book) string {
	return fmt.Sprintf(`You are an AI image designer creating a book cover.

Book Title: %s
Genre: %s
Description: %s

Design Instructions:
- Realistic and modern
- No people
- Genre-appropriate illustration
- Clean background and centered title
`, b.Title, b.Genre, b.Description)
}
