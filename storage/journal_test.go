package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalReadsOwnWrites(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("base"), []byte("0")))

	j := NewJournal(db)
	require.NoError(t, j.Put([]byte("new"), []byte("1")))
	require.NoError(t, j.Delete([]byte("base")))

	got, err := j.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	_, err = j.Get([]byte("base"))
	require.True(t, errors.Is(err, ErrNotFound))

	// The underlying database is untouched until commit.
	ok, err := db.Has([]byte("new"))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = db.Has([]byte("base"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestJournalCommitAppliesAllWrites(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("base"), []byte("0")))

	j := NewJournal(db)
	require.NoError(t, j.Put([]byte("a"), []byte("1")))
	require.NoError(t, j.Put([]byte("a"), []byte("2")))
	require.NoError(t, j.Delete([]byte("base")))
	require.Equal(t, 2, j.Pending())
	require.NoError(t, j.Commit())

	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	ok, err := db.Has([]byte("base"))
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, j.Put([]byte("late"), []byte("x")))
	require.Error(t, j.Commit())
}

func TestJournalDiscardLeavesDatabaseUntouched(t *testing.T) {
	db := NewMemDB()
	j := NewJournal(db)
	require.NoError(t, j.Put([]byte("a"), []byte("1")))
	j.Discard()

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Error(t, j.Commit())
}

func TestJournalDeleteThenPut(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("old")))

	j := NewJournal(db)
	require.NoError(t, j.Delete([]byte("k")))
	require.NoError(t, j.Put([]byte("k"), []byte("new")))
	require.Equal(t, 1, j.Pending())
	require.NoError(t, j.Commit())

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
}
