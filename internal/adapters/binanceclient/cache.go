package binanceclient

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// diskCache persists slow-moving venue data (symbol filters, klines) across
// restarts so a reboot does not hammer the API. Entries carry their own
// timestamp; readers enforce the TTL.
type diskCache struct {
	dir string
}

func newDiskCache(dir string) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &diskCache{dir: dir}, nil
}

type cachedFilters struct {
	FetchedAt time.Time                       `json:"fetched_at"`
	Filters   map[string]*ports.SymbolFilters `json:"filters"`
}

type cachedKlines struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Klines    []*domain.Kline `json:"klines"`
}

func (d *diskCache) path(name string) string {
	return filepath.Join(d.dir, name)
}

func (d *diskCache) load(name string, out interface{}) bool {
	raw, err := os.ReadFile(d.path(name))
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (d *diskCache) store(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := d.path(name + ".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path(name))
}

// loadFilters returns the cached filter map if fresh enough, nil otherwise.
func (d *diskCache) loadFilters(ttl time.Duration) map[string]*ports.SymbolFilters {
	var c cachedFilters
	if !d.load("exchange_info.json", &c) {
		return nil
	}
	if time.Since(c.FetchedAt) > ttl {
		return nil
	}
	return c.Filters
}

func (d *diskCache) storeFilters(filters map[string]*ports.SymbolFilters) error {
	return d.store("exchange_info.json", cachedFilters{FetchedAt: time.Now(), Filters: filters})
}

func klineCacheKey(symbol, interval string, limit int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", symbol, interval, limit)
	return fmt.Sprintf("klines_%x.json", h.Sum64())
}

func (d *diskCache) loadKlines(symbol, interval string, limit int, ttl time.Duration) []*domain.Kline {
	var c cachedKlines
	if !d.load(klineCacheKey(symbol, interval, limit), &c) {
		return nil
	}
	if time.Since(c.FetchedAt) > ttl {
		return nil
	}
	return c.Klines
}

func (d *diskCache) storeKlines(symbol, interval string, limit int, klines []*domain.Kline) error {
	return d.store(klineCacheKey(symbol, interval, limit), cachedKlines{FetchedAt: time.Now(), Klines: klines})
}
