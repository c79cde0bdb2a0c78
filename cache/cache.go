package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/xeptore/tidaldl/tidal/types"
)

var (
	DefaultAlbumTTL  = 1 * time.Hour
	DefaultLyricsTTL = 1 * time.Hour
)

// Cache keeps API responses shared by the items of a collection, such as the
// album every track of an album download points to.
type Cache struct {
	Albums AlbumsCache
	Lyrics LyricsCache
}

func New() *Cache {
	albumsCache := ccache.New(
		ccache.Configure[*types.Album]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	lyricsCache := ccache.New(
		ccache.Configure[string]().
			MaxSize(10_000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		Albums: AlbumsCache{
			c:   albumsCache,
			mux: sync.Mutex{},
		},
		Lyrics: LyricsCache{
			c:   lyricsCache,
			mux: sync.Mutex{},
		},
	}
}

type AlbumsCache struct {
	c   *ccache.Cache[*types.Album]
	mux sync.Mutex
}

// Fetch returns the cached album k, calling fetch on a miss. Concurrent
// misses of the same key call fetch once.
func (c *AlbumsCache) Fetch(k string, ttl time.Duration, fetch func() (*types.Album, error)) (*types.Album, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, fmt.Errorf("failed to fetch album: %w", err)
	}

	return v.Value(), nil
}

type LyricsCache struct {
	c   *ccache.Cache[string]
	mux sync.Mutex
}

func (c *LyricsCache) Fetch(k string, ttl time.Duration, fetch func() (string, error)) (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return "", fmt.Errorf("failed to fetch lyrics: %w", err)
	}

	return v.Value(), nil
}
