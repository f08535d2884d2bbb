package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/crypto"
)

const diskTierName = "disk"

// DiskTier persists entries as one JSON file per key under dir. It survives
// restarts, which makes it the persisted local tier between memory and Redis.
type DiskTier struct {
	fs  afero.Fs
	dir string
}

type diskRecord struct {
	Key   string            `json:"key"`
	Entry domain.CacheEntry `json:"entry"`
}

// NewDiskTier creates dir on fs if needed.
func NewDiskTier(fsys afero.Fs, dir string) (*DiskTier, error) {
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create disk cache dir %s: %w", dir, err)
	}
	return &DiskTier{fs: fsys, dir: dir}, nil
}

func (d *DiskTier) Name() string { return diskTierName }

func (d *DiskTier) path(key string) string {
	return filepath.Join(d.dir, crypto.Sha256Hex(key)+".json")
}

func (d *DiskTier) Get(_ context.Context, key string) (*domain.CacheEntry, error) {
	raw, err := afero.ReadFile(d.fs, d.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read disk cache entry: %w", err)
	}
	var rec diskRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Key != key {
		_ = d.fs.Remove(d.path(key))
		return nil, domain.ErrCacheMiss
	}
	return &rec.Entry, nil
}

func (d *DiskTier) Set(_ context.Context, key string, entry domain.CacheEntry) error {
	raw, err := json.Marshal(diskRecord{Key: key, Entry: entry})
	if err != nil {
		return fmt.Errorf("failed to marshal disk cache entry: %w", err)
	}
	// Each writer gets its own temp file so concurrent sets of one key never
	// rename each other's data.
	tmp, err := afero.TempFile(d.fs, d.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create disk cache temp file: %w", err)
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = d.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write disk cache entry: %w", err)
	}
	if err := d.fs.Rename(tmp.Name(), d.path(key)); err != nil {
		_ = d.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to commit disk cache entry: %w", err)
	}
	return nil
}

func (d *DiskTier) Delete(_ context.Context, key string) error {
	if err := d.fs.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete disk cache entry: %w", err)
	}
	return nil
}

func (d *DiskTier) Clear(_ context.Context) error {
	if err := d.fs.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to clear disk cache: %w", err)
	}
	if err := d.fs.MkdirAll(d.dir, 0o700); err != nil {
		return fmt.Errorf("failed to recreate disk cache dir: %w", err)
	}
	return nil
}

// InvalidateByTags walks the cache directory and removes entries carrying any of tags.
func (d *DiskTier) InvalidateByTags(_ context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list disk cache dir: %w", err)
	}
	removed := 0
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) != ".json" {
			continue
		}
		p := filepath.Join(d.dir, info.Name())
		raw, err := afero.ReadFile(d.fs, p)
		if err != nil {
			continue
		}
		var rec diskRecord
		if json.Unmarshal(raw, &rec) != nil || rec.Entry.HasAnyTag(tags) {
			if err := d.fs.Remove(p); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
