package entities

import "time"

type BookStatus string

const (
	BookStatusPending  BookStatus = "pending"
	BookStatusApproved BookStatus = "approved"
	BookStatusRejected BookStatus = "rejected"
)

// FileFormat tags a downloadable rendition of a book.
type FileFormat string

const (
	FileFormatPDF FileFormat = "pdf"
	FileFormatDOC FileFormat = "doc"
	FileFormatTXT FileFormat = "txt"
)

func (f FileFormat) Valid() bool {
	switch f {
	case FileFormatPDF, FileFormatDOC, FileFormatTXT:
		return true
	}
	return false
}

const DefaultBookLanguage = "English"

type Book struct {
	ID              uint                  `gorm:"primaryKey" json:"id"`
	Title           string                `gorm:"index;size:512" json:"title"`
	Description     string                `gorm:"type:text" json:"description"`
	Category        string                `gorm:"index;size:100" json:"category"`
	Author          string                `gorm:"index;size:256" json:"author"`
	Publisher       string                `gorm:"size:256" json:"publisher"`
	Price           int64                 `json:"price"` // Minor units
	Currency        string                `gorm:"size:3" json:"currency"`
	CoverImages     []string              `gorm:"serializer:json" json:"cover_images"` // Ordered storage keys
	Files           map[FileFormat]string `gorm:"serializer:json" json:"-"`            // Format to storage key
	UploaderID      uint                  `gorm:"index;not null" json:"uploader_id"`
	Status          BookStatus            `gorm:"index;size:20;default:'pending'" json:"status"`
	ApprovedByID    *uint                 `json:"approved_by,omitempty"` // Set with the decision, approve or reject
	DecidedAt       *time.Time            `json:"decided_at,omitempty"`
	Downloads       int64                 `gorm:"default:0" json:"downloads"`
	Views           int64                 `gorm:"default:0" json:"views"`
	Sales           int64                 `gorm:"default:0" json:"sales"`
	Tags            []string              `gorm:"serializer:json" json:"tags"`
	Language        string                `gorm:"size:50;default:'English'" json:"language"`
	PublicationYear int                   `json:"publication_year,omitempty"`
	Pages           int                   `json:"pages,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func (Book) TableName() string {
	return "books"
}

// Formats lists the file formats available for download.
func (b *Book) Formats() []FileFormat {
	formats := make([]FileFormat, 0, len(b.Files))
	for _, f := range []FileFormat{FileFormatPDF, FileFormatDOC, FileFormatTXT} {
		if _, ok := b.Files[f]; ok {
			formats = append(formats, f)
		}
	}
	return formats
}

func (b *Book) IsPurchasable() bool {
	return b.Status == BookStatusApproved
}
