package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

var seedGenres = map[string][]string{
	"Русская классика": {
		"Преступление и наказание",
		"Мастер и Маргарита",
		"Война и мир",
		"Анна Каренина",
		"Идиот",
		"Обломов",
		"Отцы и дети",
		"Евгений Онегин",
		"Герой нашего времени",
		"Доктор Живаго",
		"Белая гвардия",
		"Собачье сердце",
		"Мёртвые души",
	},
	"Фантастика": {
		"Пикник на обочине",
		"Трудно быть богом",
		"Мы",
		"1984",
		"Человек-амфибия",
	},
	"Приключения": {
		"Три мушкетёра",
		"Граф Монте-Кристо",
		"Золотой телёнок",
		"Двенадцать стульев",
	},
}

var seedLibraries = []models.Library{
	{Name: "ИОГУНБ им. Молчанова-Сибирского", Address: "ул. Лермонтова, 253"},
	{Name: "ЦГБ им. Потаниной", Address: "ул. Урицкого, 32"},
	{Name: "Детская библиотека им. Маршака", Address: "ул. Ленина, 23"},
	{Name: "Библиотека им. Чехова", Address: "ул. Рабочего Штаба, 10"},
	{Name: "Библиотека №4 им. Некрасова", Address: "ул. Красногвардейская, 18"},
}

var (
	seedFirstNames = []string{"Анна", "Иван", "Мария", "Дмитрий", "Елена", "Сергей", "Ольга", "Алексей", "Татьяна", "Николай"}
	seedLastNames  = []string{"Иванова", "Петров", "Смирнова", "Кузнецов", "Попова", "Соколов", "Лебедева", "Козлов", "Новикова", "Морозов"}
)

// SeedOptions bounds how much demo data Seed generates. Each target is a
// floor: nothing is generated for an entity that already has that many.
type SeedOptions struct {
	MinBooksPerShelf int
	MaxBooksPerShelf int
	Members          int
	Loans            int
	// LoanWindow is how far back loan dates are spread.
	LoanWindow time.Duration
	Rand       *rand.Rand
}

func DefaultSeedOptions() SeedOptions {
	return SeedOptions{
		MinBooksPerShelf: 10,
		MaxBooksPerShelf: 25,
		Members:          200,
		Loans:            1000,
		LoanWindow:       2 * 365 * 24 * time.Hour,
		Rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type SeedResult struct {
	Libraries int
	Genres    int
	Books     int
	Members   int
	Loans     int
}

// Seeder fills the catalog with demo data for the Irkutsk library network.
type Seeder struct {
	catalog *Catalog
	logger  *logrus.Logger
}

func NewSeeder(catalog *Catalog, logger *logrus.Logger) *Seeder {
	return &Seeder{catalog: catalog, logger: logger}
}

// Seed creates the fixed genres and libraries when missing, then tops up
// books, members and loans. Running it twice does not duplicate libraries or genres.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (*SeedResult, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	res := &SeedResult{}

	genres, err := s.ensureGenres(ctx, res)
	if err != nil {
		return nil, err
	}
	libraries, err := s.ensureLibraries(ctx, res)
	if err != nil {
		return nil, err
	}

	books, err := s.catalog.Books.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		for _, genre := range genres {
			titles := seedGenres[genre.Name]
			for _, lib := range libraries {
				n := opts.MinBooksPerShelf
				if spread := opts.MaxBooksPerShelf - opts.MinBooksPerShelf; spread > 0 {
					n += opts.Rand.Intn(spread + 1)
				}
				for i := 0; i < n; i++ {
					book := &models.Book{Title: titles[opts.Rand.Intn(len(titles))], GenreID: genre.ID, LibraryID: lib.ID}
					if err := s.catalog.Books.Create(ctx, book); err != nil {
						return nil, fmt.Errorf("failed to seed book: %w", err)
					}
					books = append(books, book)
					res.Books++
				}
			}
		}
	}

	members, err := s.catalog.Members.List(ctx)
	if err != nil {
		return nil, err
	}
	for len(members) < opts.Members {
		m := &models.Member{
			FirstName: seedFirstNames[opts.Rand.Intn(len(seedFirstNames))],
			LastName:  seedLastNames[opts.Rand.Intn(len(seedLastNames))],
			LibraryID: libraries[opts.Rand.Intn(len(libraries))].ID,
		}
		if err := s.catalog.Members.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to seed member: %w", err)
		}
		members = append(members, m)
		res.Members++
	}

	existing, err := s.catalog.Loans.Count(ctx)
	if err != nil {
		return nil, err
	}
	booksAt := groupBy(books, func(b *models.Book) string { return b.LibraryID })
	membersAt := groupBy(members, func(m *models.Member) string { return m.LibraryID })
	now := time.Now().UTC()
	for attempt := 0; existing+res.Loans < opts.Loans && attempt < opts.Loans*2; attempt++ {
		lib := libraries[opts.Rand.Intn(len(libraries))]
		libBooks, libMembers := booksAt[lib.ID], membersAt[lib.ID]
		if len(libBooks) == 0 || len(libMembers) == 0 {
			continue
		}
		var back time.Duration
		if opts.LoanWindow > 0 {
			back = time.Duration(opts.Rand.Int63n(int64(opts.LoanWindow)))
		}
		loan := &models.Loan{
			BookID:   libBooks[opts.Rand.Intn(len(libBooks))].ID,
			MemberID: libMembers[opts.Rand.Intn(len(libMembers))].ID,
			LoanDate: now.Add(-back).Format(models.LoanDateLayout),
		}
		if err := s.catalog.Loans.Create(ctx, loan); err != nil {
			return nil, fmt.Errorf("failed to seed loan: %w", err)
		}
		res.Loans++
	}

	s.logger.WithFields(logrus.Fields{
		"libraries": res.Libraries,
		"genres":    res.Genres,
		"books":     res.Books,
		"members":   res.Members,
		"loans":     res.Loans,
	}).Info("Seed data generated")

	return res, nil
}

func (s *Seeder) ensureGenres(ctx context.Context, res *SeedResult) ([]*models.Genre, error) {
	existing, err := s.catalog.Genres.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.Genre, len(existing))
	for _, g := range existing {
		byName[g.Name] = g
	}

	out := make([]*models.Genre, 0, len(seedGenres))
	for _, name := range sortedKeys(seedGenres) {
		g, ok := byName[name]
		if !ok {
			g = &models.Genre{Name: name}
			if err := s.catalog.Genres.Create(ctx, g); err != nil {
				return nil, fmt.Errorf("failed to seed genre: %w", err)
			}
			res.Genres++
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Seeder) ensureLibraries(ctx context.Context, res *SeedResult) ([]*models.Library, error) {
	existing, err := s.catalog.Libraries.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.Library, len(existing))
	for _, l := range existing {
		byName[l.Name] = l
	}

	out := make([]*models.Library, 0, len(seedLibraries))
	for _, tpl := range seedLibraries {
		l, ok := byName[tpl.Name]
		if !ok {
			l = &models.Library{Name: tpl.Name, Address: tpl.Address}
			if err := s.catalog.Libraries.Create(ctx, l); err != nil {
				return nil, fmt.Errorf("failed to seed library: %w", err)
			}
			res.Libraries++
		}
		out = append(out, l)
	}
	return out, nil
}

func groupBy[P any](items []P, key func(P) string) map[string][]P {
	out := make(map[string][]P)
	for _, it := range items {
		k := key(it)
		out[k] = append(out[k], it)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
