package models

import (
	"errors"
	"strings"
	"time"
)

// Entity types, also used as DynamoDB key prefixes.
const (
	EntityLibrary = "LIBRARY"
	EntityGenre   = "GENRE"
	EntityBook    = "BOOK"
	EntityMember  = "MEMBER"
	EntityLoan    = "LOAN"
)

// LoanDateLayout is the wire and storage format of Loan.LoanDate.
const LoanDateLayout = "2006-01-02"

// Record is implemented by every entity kept in the record store.
type Record interface {
	EntityType() string
	GetID() string
	SetID(id string)
	Touch(now time.Time)
	Created() time.Time
	Validate() error
	CSVHeader() []string
	CSVRow() []string
}

// RecordPtr constrains P to be *T implementing Record.
type RecordPtr[T any] interface {
	*T
	Record
}

// Timestamps is embedded by every record.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (t *Timestamps) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

func (t *Timestamps) Created() time.Time {
	return t.CreatedAt
}

type Library struct {
	ID      string `json:"id" dynamodbav:"id"`
	Name    string `json:"name" dynamodbav:"name"`
	Address string `json:"address" dynamodbav:"address"`
	Timestamps
}

func (l *Library) EntityType() string { return EntityLibrary }
func (l *Library) GetID() string      { return l.ID }
func (l *Library) SetID(id string)    { l.ID = id }

func (l *Library) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(l.Address) == "" {
		return errors.New("address is required")
	}
	return nil
}

func (l *Library) CSVHeader() []string { return []string{"id", "name", "address"} }
func (l *Library) CSVRow() []string    { return []string{l.ID, l.Name, l.Address} }

type Genre struct {
	ID   string `json:"id" dynamodbav:"id"`
	Name string `json:"name" dynamodbav:"name"`
	Timestamps
}

func (g *Genre) EntityType() string { return EntityGenre }
func (g *Genre) GetID() string      { return g.ID }
func (g *Genre) SetID(id string)    { g.ID = id }

func (g *Genre) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

func (g *Genre) CSVHeader() []string { return []string{"id", "name"} }
func (g *Genre) CSVRow() []string    { return []string{g.ID, g.Name} }

type Book struct {
	ID        string `json:"id" dynamodbav:"id"`
	Title     string `json:"title" dynamodbav:"title"`
	GenreID   string `json:"genre" dynamodbav:"genre_id"`
	LibraryID string `json:"library" dynamodbav:"library_id"`
	Timestamps
}

func (b *Book) EntityType() string { return EntityBook }
func (b *Book) GetID() string      { return b.ID }
func (b *Book) SetID(id string)    { b.ID = id }

func (b *Book) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return errors.New("title is required")
	}
	if b.GenreID == "" || b.LibraryID == "" {
		return errors.New("genre and library are required")
	}
	return nil
}

func (b *Book) CSVHeader() []string { return []string{"id", "title", "genre", "library"} }
func (b *Book) CSVRow() []string    { return []string{b.ID, b.Title, b.GenreID, b.LibraryID} }

// Member is a library reader. UserID links the reader to a login account and may be empty.
type Member struct {
	ID        string `json:"id" dynamodbav:"id"`
	FirstName string `json:"first_name" dynamodbav:"first_name"`
	LastName  string `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	UserID    string `json:"user,omitempty" dynamodbav:"user_id,omitempty"`
	LibraryID string `json:"library" dynamodbav:"library_id"`
	Timestamps
}

func (m *Member) EntityType() string { return EntityMember }
func (m *Member) GetID() string      { return m.ID }
func (m *Member) SetID(id string)    { m.ID = id }

func (m *Member) Validate() error {
	if strings.TrimSpace(m.FirstName) == "" {
		return errors.New("first_name is required")
	}
	if m.LibraryID == "" {
		return errors.New("library is required")
	}
	return nil
}

func (m *Member) CSVHeader() []string {
	return []string{"id", "first_name", "last_name", "user", "library"}
}

func (m *Member) CSVRow() []string {
	return []string{m.ID, m.FirstName, m.LastName, m.UserID, m.LibraryID}
}

type Loan struct {
	ID       string `json:"id" dynamodbav:"id"`
	BookID   string `json:"book" dynamodbav:"book_id"`
	MemberID string `json:"member" dynamodbav:"member_id"`
	LoanDate string `json:"loan_date" dynamodbav:"loan_date"`
	Timestamps
}

func (l *Loan) EntityType() string { return EntityLoan }
func (l *Loan) GetID() string      { return l.ID }
func (l *Loan) SetID(id string)    { l.ID = id }

func (l *Loan) Validate() error {
	if l.BookID == "" || l.MemberID == "" {
		return errors.New("book and member are required")
	}
	if _, err := time.Parse(LoanDateLayout, l.LoanDate); err != nil {
		return errors.New("loan_date must be formatted as YYYY-MM-DD")
	}
	return nil
}

func (l *Loan) CSVHeader() []string { return []string{"id", "book", "member", "loan_date"} }
func (l *Loan) CSVRow() []string    { return []string{l.ID, l.BookID, l.MemberID, l.LoanDate} }
