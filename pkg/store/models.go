package store

import "time"

// BookModel is the GORM persistence model for catalog books.
type BookModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Title       string `gorm:"not null"`
	Author      string
	Description string `gorm:"type:text"`
	Genre       string
	PageCount   int    `gorm:"not null;default:0"`
	Read        bool   `gorm:"not null;default:false"`
	OwnerEmail  string `gorm:"not null;index"`
	ImageName   string
	ImageType   string
	ImageKey    string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
