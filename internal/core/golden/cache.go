package golden

import (
	"fmt"
	"os"
	"path/filepath"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"

	"github.com/dgraph-io/ristretto"
)

// Cache memoizes parsed registries by file identity (path, size, mtime);
// several dataset tags often share one golden file
type Cache struct {
	c *ristretto.Cache
}

// NewCache builds a cache holding up to maxEntries registries
func NewCache(maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 16
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "golden cache")
	}
	return &Cache{c: c}, nil
}

// Load returns the cached registry for path, parsing it on a miss
// a nil Cache always parses
func (gc *Cache) Load(path string) (*Registry, error) {
	if gc == nil {
		return Load(path)
	}
	key, err := identity(path)
	if err != nil {
		return nil, err
	}
	if v, ok := gc.c.Get(key); ok {
		if reg, ok := v.(*Registry); ok {
			logger.Named("golden").Debug().Str("path", path).Msg("registry cache hit")
			return reg, nil
		}
	}

	reg, err := Load(path)
	if err != nil {
		return nil, err
	}
	gc.c.Set(key, reg, 1)
	gc.c.Wait()
	logger.Named("golden").Info().Str("path", path).Int("runs", reg.Runs()).Msg("registry loaded")
	return reg, nil
}

// Close releases the cache's background goroutines
func (gc *Cache) Close() {
	if gc != nil {
		gc.c.Close()
	}
}

func identity(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeConfig, "stat golden registry %s", path)
	}
	return fmt.Sprintf("%s|%d|%d", abs, st.Size(), st.ModTime().UnixNano()), nil
}
