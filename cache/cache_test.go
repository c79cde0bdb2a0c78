package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tidaldl/cache"
	"github.com/xeptore/tidaldl/tidal/types"
)

func TestAlbumsFetch(t *testing.T) {
	t.Parallel()

	c := cache.New()
	calls := 0
	fetch := func() (*types.Album, error) {
		calls++
		return &types.Album{ID: "1", Title: "Blue"}, nil
	}

	a, err := c.Albums.Fetch("1", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Blue", a.Title)

	a, err = c.Albums.Fetch("1", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Blue", a.Title)
	assert.Equal(t, 1, calls)
}

func TestLyricsFetchError(t *testing.T) {
	t.Parallel()

	c := cache.New()
	errFetch := errors.New("boom")

	_, err := c.Lyrics.Fetch("1", time.Minute, func() (string, error) { return "", errFetch })
	require.ErrorIs(t, err, errFetch)

	l, err := c.Lyrics.Fetch("1", time.Minute, func() (string, error) { return "la la", nil })
	require.NoError(t, err)
	assert.Equal(t, "la la", l)
}
