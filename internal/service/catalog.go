package service

import (
	"context"
	"fmt"

	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

// Attribute names used to follow references between records.
const (
	AttrLibraryID = "library_id"
	AttrGenreID   = "genre_id"
	AttrBookID    = "book_id"
	AttrMemberID  = "member_id"
	AttrUserID    = "user_id"
)

type (
	LibraryService = RecordService[models.Library, *models.Library]
	GenreService   = RecordService[models.Genre, *models.Genre]
	BookService    = RecordService[models.Book, *models.Book]
	MemberService  = RecordService[models.Member, *models.Member]
	LoanService    = RecordService[models.Loan, *models.Loan]
)

// Catalog groups the record services of the library schema and wires the
// references between them. Creating or updating a record fails with
// ErrInvalidRecord when a referenced record does not exist. Deleting a
// library removes its books and members; deleting a genre removes its books;
// deleting a book or a member removes their loans.
type Catalog struct {
	Libraries *LibraryService
	Genres    *GenreService
	Books     *BookService
	Members   *MemberService
	Loans     *LoanService
}

func NewCatalog(
	libraries RecordStore[*models.Library],
	genres RecordStore[*models.Genre],
	books RecordStore[*models.Book],
	members RecordStore[*models.Member],
	loans RecordStore[*models.Loan],
	logger *logrus.Logger,
) *Catalog {
	c := &Catalog{
		Libraries: NewRecordService[models.Library](libraries, logger),
		Genres:    NewRecordService[models.Genre](genres, logger),
		Books:     NewRecordService[models.Book](books, logger),
		Members:   NewRecordService[models.Member](members, logger),
		Loans:     NewRecordService[models.Loan](loans, logger),
	}

	c.Books.checkRefs = func(ctx context.Context, b *models.Book) error {
		if err := requireRef(ctx, c.Genres.Exists, "genre", b.GenreID); err != nil {
			return err
		}
		return requireRef(ctx, c.Libraries.Exists, "library", b.LibraryID)
	}
	c.Members.checkRefs = func(ctx context.Context, m *models.Member) error {
		return requireRef(ctx, c.Libraries.Exists, "library", m.LibraryID)
	}
	c.Loans.checkRefs = func(ctx context.Context, l *models.Loan) error {
		if err := requireRef(ctx, c.Books.Exists, "book", l.BookID); err != nil {
			return err
		}
		return requireRef(ctx, c.Members.Exists, "member", l.MemberID)
	}

	c.Libraries.onDelete = func(ctx context.Context, id string) error {
		if err := c.Books.deleteWhere(ctx, AttrLibraryID, id); err != nil {
			return err
		}
		return c.Members.deleteWhere(ctx, AttrLibraryID, id)
	}
	c.Genres.onDelete = func(ctx context.Context, id string) error {
		return c.Books.deleteWhere(ctx, AttrGenreID, id)
	}
	c.Books.onDelete = func(ctx context.Context, id string) error {
		return c.Loans.deleteWhere(ctx, AttrBookID, id)
	}
	c.Members.onDelete = func(ctx context.Context, id string) error {
		return c.Loans.deleteWhere(ctx, AttrMemberID, id)
	}

	return c
}

func requireRef(ctx context.Context, exists func(context.Context, string) (bool, error), name, id string) error {
	ok, err := exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %q does not exist", ErrInvalidRecord, name, id)
	}
	return nil
}

// LibraryMembers lists the members registered at library id.
func (c *Catalog) LibraryMembers(ctx context.Context, id string) ([]*models.Member, error) {
	if _, err := c.Libraries.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.Members.ListBy(ctx, AttrLibraryID, id)
}

// LibraryBooks lists the books held by library id.
func (c *Catalog) LibraryBooks(ctx context.Context, id string) ([]*models.Book, error) {
	if _, err := c.Libraries.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.Books.ListBy(ctx, AttrLibraryID, id)
}

// MemberForUser returns the member profile linked to userID, or nil.
func (c *Catalog) MemberForUser(ctx context.Context, userID string) (*models.Member, error) {
	members, err := c.Members.ListBy(ctx, AttrUserID, userID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members[0], nil
}
