package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/libris/libris/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepository[models.Library](newFakeDynamoDB(), "test", quietLogger())

	lib := &models.Library{Name: "Central", Address: "Lenina 10"}
	require.NoError(t, repo.Create(ctx, lib))
	require.NotEmpty(t, lib.ID)

	got, err := repo.Get(ctx, lib.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Central", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	got.Name = "Central City"
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.Get(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "Central City", again.Name)

	require.NoError(t, repo.Delete(ctx, lib.ID))
	gone, err := repo.Get(ctx, lib.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.ErrorIs(t, repo.Delete(ctx, lib.ID), ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &models.Library{ID: "nope", Name: "x", Address: "y"}), ErrNotFound)
}

func TestRecordRepository_ListSeparatesEntities(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamoDB()
	db.pageSize = 2
	libraries := NewRecordRepository[models.Library](db, "test", quietLogger())
	books := NewRecordRepository[models.Book](db, "test", quietLogger())

	for _, name := range []string{"A", "B"} {
		require.NoError(t, libraries.Create(ctx, &models.Library{Name: name, Address: "addr"}))
	}
	require.NoError(t, books.Create(ctx, &models.Book{Title: "We", GenreID: "g1", LibraryID: "l1"}))
	require.NoError(t, books.Create(ctx, &models.Book{Title: "1984", GenreID: "g1", LibraryID: "l2"}))
	require.NoError(t, books.Create(ctx, &models.Book{Title: "Oblomov", GenreID: "g2", LibraryID: "l1"}))

	libs, err := libraries.List(ctx)
	require.NoError(t, err)
	assert.Len(t, libs, 2)

	n, err := books.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	inL1, err := books.ListBy(ctx, "library_id", "l1")
	require.NoError(t, err)
	titles := []string{}
	for _, b := range inL1 {
		titles = append(titles, b.Title)
	}
	assert.ElementsMatch(t, []string{"We", "Oblomov"}, titles)
}

func TestRecordRepository_ScanError(t *testing.T) {
	db := newFakeDynamoDB()
	db.scanErr = errors.New("throttled")
	repo := NewRecordRepository[models.Genre](db, "test", quietLogger())

	_, err := repo.List(context.Background())
	assert.Error(t, err)
	_, err = repo.Count(context.Background())
	assert.Error(t, err)
}
