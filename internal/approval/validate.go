package approval

import (
	"strings"
	"time"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// NewBook is the uploader's submission.
type NewBook struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Category        string            `json:"category"`
	Author          string            `json:"author"`
	Publisher       string            `json:"publisher"`
	Price           int64             `json:"price"`
	Currency        string            `json:"currency"`
	CoverImages     []string          `json:"cover_images"`
	Files           map[string]string `json:"files"`
	Tags            []string          `json:"tags"`
	Language        string            `json:"language"`
	PublicationYear int               `json:"publication_year"`
	Pages           int               `json:"pages"`
}

// Validate reports every invalid field of nb at once.
func Validate(nb NewBook) error {
	verr := &apperrors.ValidationError{}

	required := []struct{ field, value string }{
		{"title", nb.Title},
		{"description", nb.Description},
		{"category", nb.Category},
		{"author", nb.Author},
		{"publisher", nb.Publisher},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.Add(r.field, "is required")
		}
	}

	if nb.Price < 0 {
		verr.Add("price", "must not be negative")
	}
	if nb.Currency != "" && len(strings.TrimSpace(nb.Currency)) != 3 {
		verr.Add("currency", "must be a three letter ISO 4217 code")
	}

	if len(nb.CoverImages) == 0 {
		verr.Add("cover_images", "at least one cover image is required")
	}
	for _, key := range nb.CoverImages {
		if strings.TrimSpace(key) == "" {
			verr.Add("cover_images", "cover image keys must not be empty")
			break
		}
	}

	for format, key := range nb.Files {
		if !entities.FileFormat(strings.ToLower(format)).Valid() {
			verr.Add("files", "unsupported format "+format+" (pdf, doc, txt)")
			continue
		}
		if strings.TrimSpace(key) == "" {
			verr.Add("files", "file key for "+format+" must not be empty")
		}
	}

	if nb.Pages < 0 {
		verr.Add("pages", "must not be negative")
	}
	if nb.PublicationYear < 0 || nb.PublicationYear > time.Now().Year()+1 {
		verr.Add("publication_year", "is out of range")
	}

	return verr.OrNil()
}

// toEntity builds the pending record for a validated submission.
func toEntity(nb NewBook, uploaderID uint, defaultCurrency string) *entities.Book {
	files := make(map[entities.FileFormat]string, len(nb.Files))
	for format, key := range nb.Files {
		files[entities.FileFormat(strings.ToLower(format))] = strings.TrimSpace(key)
	}

	currency := strings.ToUpper(strings.TrimSpace(nb.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	language := strings.TrimSpace(nb.Language)
	if language == "" {
		language = entities.DefaultBookLanguage
	}

	covers := make([]string, len(nb.CoverImages))
	for i, key := range nb.CoverImages {
		covers[i] = strings.TrimSpace(key)
	}

	return &entities.Book{
		Title:           strings.TrimSpace(nb.Title),
		Description:     strings.TrimSpace(nb.Description),
		Category:        strings.TrimSpace(nb.Category),
		Author:          strings.TrimSpace(nb.Author),
		Publisher:       strings.TrimSpace(nb.Publisher),
		Price:           nb.Price,
		Currency:        currency,
		CoverImages:     covers,
		Files:           files,
		UploaderID:      uploaderID,
		Status:          entities.BookStatusPending,
		Tags:            normalizeTags(nb.Tags),
		Language:        language,
		PublicationYear: nb.PublicationYear,
		Pages:           nb.Pages,
	}
}

// normalizeTags lowercases, trims and deduplicates tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
