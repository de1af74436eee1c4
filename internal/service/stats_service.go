package service

import (
	"context"
	"sort"
)

// Stats summarises the contents of the catalog.
type Stats struct {
	Libraries          int          `json:"libraries"`
	Genres             int          `json:"genres"`
	Books              int          `json:"books"`
	Members            int          `json:"members"`
	Loans              int          `json:"loans"`
	AvgBooksPerLibrary float64      `json:"avg_books_per_library"`
	AvgLoansPerMember  float64      `json:"avg_loans_per_member"`
	BooksPerGenre      []GenreCount `json:"books_per_genre"`
}

type GenreCount struct {
	GenreID string `json:"genre"`
	Name    string `json:"name"`
	Books   int    `json:"books"`
}

type StatsService struct {
	catalog *Catalog
}

func NewStatsService(catalog *Catalog) *StatsService {
	return &StatsService{catalog: catalog}
}

func (s *StatsService) Compute(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error

	if st.Libraries, err = s.catalog.Libraries.Count(ctx); err != nil {
		return nil, err
	}
	if st.Members, err = s.catalog.Members.Count(ctx); err != nil {
		return nil, err
	}
	if st.Loans, err = s.catalog.Loans.Count(ctx); err != nil {
		return nil, err
	}

	genres, err := s.catalog.Genres.List(ctx)
	if err != nil {
		return nil, err
	}
	books, err := s.catalog.Books.List(ctx)
	if err != nil {
		return nil, err
	}
	st.Genres = len(genres)
	st.Books = len(books)

	st.AvgBooksPerLibrary = ratio(st.Books, st.Libraries)
	st.AvgLoansPerMember = ratio(st.Loans, st.Members)

	perGenre := make(map[string]int, len(genres))
	for _, b := range books {
		perGenre[b.GenreID]++
	}
	st.BooksPerGenre = make([]GenreCount, 0, len(genres))
	for _, g := range genres {
		st.BooksPerGenre = append(st.BooksPerGenre, GenreCount{GenreID: g.ID, Name: g.Name, Books: perGenre[g.ID]})
	}
	sort.Slice(st.BooksPerGenre, func(i, j int) bool {
		if st.BooksPerGenre[i].Books != st.BooksPerGenre[j].Books {
			return st.BooksPerGenre[i].Books > st.BooksPerGenre[j].Books
		}
		return st.BooksPerGenre[i].Name < st.BooksPerGenre[j].Name
	})

	return &st, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
