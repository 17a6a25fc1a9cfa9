package store

import "time"

type User struct {
	ID            string
	Username      string
	DisplayName   string
	PasswordHash  string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Autosave is the single server-held draft of a user's compose form.
type Autosave struct {
	UserID  string
	Fields  map[string]string
	SavedAt time.Time
}

type Issue struct {
	ID           string
	NewsletterID string
	Title        string
	CreatedAt    time.Time
}

type Section struct {
	ID       string
	IssueID  string
	Title    string
	Position int
}

const (
	MessageQueued    = "queued"
	MessageRejected  = "rejected"
	MessagePublished = "published"
	MessageDeleted   = "deleted"
)

type Message struct {
	ID        string
	SectionID string
	AuthorID  string
	Title     string
	Body      string
	Position  int
	Status    string
	UpdatedAt time.Time
}

// SortEntry places a message at a position within a section.
type SortEntry struct {
	SectionID string
	MessageID string
	Position  int
}

type Contributor struct {
	UserID string
	Name   string
	Ready  bool
}

const (
	ArticleVisible   = "visible"
	ArticleHidden    = "hidden"
	ArticleDeleted   = "deleted"
	ArticlePublished = "published"
)

type Article struct {
	ID         string
	AuthorID   string
	Title      string
	State      string
	PriorState string
	UpdatedAt  time.Time
}

// RecipientCount is how many people a notification method reaches in a year.
type RecipientCount struct {
	MethodID string
	Name     string
	Count    int
}
