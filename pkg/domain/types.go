package domain

import "time"

// Book is a catalog entry in a user's personal library. OwnerEmail is the
// tenancy boundary: every read and search path is scoped to it.
type Book struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	PageCount   int    `json:"pageCount"`
	Read        bool   `json:"read"`
	OwnerEmail  string `json:"ownerEmail"`

	// Cover image metadata. ImageKey locates the stored object; CoverImage
	// carries raw bytes only on AI-generated, not-yet-persisted books.
	ImageName  string `json:"imageName,omitempty"`
	ImageType  string `json:"imageType,omitempty"`
	ImageKey   string `json:"-"`
	CoverImage []byte `json:"coverImage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BotReply wraps a chatbot answer.
type BotReply struct {
	Reply string `json:"reply"`
}
