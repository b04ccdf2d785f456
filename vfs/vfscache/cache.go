// Package vfscache materializes archive entries into a scratch
// directory and keeps the total on disk within a byte budget.
//
// The cache is a read-through LRU: a missing entry is extracted on
// first use, admission evicts least recently used records first, and
// concurrent requests for the same entry share a single extraction.
package vfscache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/archivemount/archivemount/fs"
	"github.com/archivemount/archivemount/sevenzip"
	"github.com/archivemount/archivemount/vfs/vfscommon"
)

// ErrExtractFailed means the extractor reported failure and left no
// file behind.  The next read of the same entry retries from scratch.
var ErrExtractFailed = errors.New("extraction failed")

// Extractor materializes one entry tree of an archive below outDir.
// *sevenzip.SevenZip implements it; tests substitute fixtures.
type Extractor interface {
	Extract(ctx context.Context, archive, password, entryPath, outDir string) (ok bool, err error)
}

// record is one materialized entry.
type record struct {
	entry     sevenzip.Entry
	localPath string
}

// The LRU index never evicts by count - eviction is driven by the
// byte budget below.
const lruMaxEntries = 1<<31 - 1

// Cache maps archive entries to materialized files below the scratch
// directory, subject to a soft byte budget.
type Cache struct {
	archive  string // absolute path of the archive
	password string
	root     string // scratch directory, owns everything below it
	budget   int64  // soft limit in bytes, <= 0 means unlimited
	ex       Extractor

	mu     sync.Mutex // guards lru, used, pins - never held across extraction
	lru    *lru.LRU[string, *record]
	used   int64          // sum of entry sizes of present records
	pins   map[string]int // open handle counts per key
	builds singleflight.Group
}

// New creates a Cache storing extractions below root.
func New(ex Extractor, archive, password, root string, budget int64) *Cache {
	cacheLRU, err := lru.NewLRU[string, *record](lruMaxEntries, nil)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return &Cache{
		archive:  archive,
		password: password,
		root:     root,
		budget:   budget,
		ex:       ex,
		lru:      cacheLRU,
		pins:     make(map[string]int),
	}
}

// String for logging.
func (c *Cache) String() string {
	return fmt.Sprintf("cache %q", c.root)
}

// key identifies an entry case-insensitively.
func key(entry sevenzip.Entry) string {
	return strings.ToLower(entry.Path)
}

// LocalPath returns where the entry lives (or would live) on disk.
func (c *Cache) LocalPath(entry sevenzip.Entry) string {
	return filepath.Join(c.root, vfscommon.OSPath(entry.Path))
}

// Root returns the scratch directory.
func (c *Cache) Root() string {
	return c.root
}

// Used returns the total bytes of present records.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Budget returns the configured byte budget.
func (c *Cache) Budget() int64 {
	return c.budget
}

// Items returns the number of present records.
func (c *Cache) Items() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Pin marks the entry as held by an open handle.  Pinned records are
// never evicted.  Every Pin must be paired with an Unpin.
func (c *Cache) Pin(entry sevenzip.Entry) {
	k := key(entry)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[k]++
	// Touch the LRU position so a freshly opened entry isn't the
	// first eviction candidate once unpinned.
	_, _ = c.lru.Get(k)
}

// Unpin releases a Pin.
func (c *Cache) Unpin(entry sevenzip.Entry) {
	k := key(entry)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pins[k] <= 1 {
		delete(c.pins, k)
	} else {
		c.pins[k]--
	}
}

// evict removes unpinned records, oldest first, until size more bytes
// would fit in the budget or nothing evictable remains.  Delete
// failures are logged and the record is dropped anyway - the file is
// swept up with the scratch directory at unmount.
func (c *Cache) evict(size int64) {
	if c.budget <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.used+size > c.budget {
		evicted := false
		for _, k := range c.lru.Keys() { // oldest first
			if c.pins[k] > 0 {
				continue
			}
			rec, _ := c.lru.Peek(k)
			c.lru.Remove(k)
			c.used -= rec.entry.Size
			if err := os.Remove(rec.localPath); err != nil && !os.IsNotExist(err) {
				fs.Logf(c, "failed to delete evicted %q: %v", rec.localPath, err)
			} else {
				fs.Debugf(c, "evicted %q (%s)", rec.entry.Path, humanize.IBytes(uint64(rec.entry.Size)))
			}
			evicted = true
			break
		}
		if !evicted {
			// Everything left is pinned or the cache is empty.  The
			// budget is advisory - admit anyway.
			break
		}
	}
}

// Acquire returns the local path of a materialized copy of the entry,
// extracting it first if necessary.  Concurrent calls for the same
// entry perform at most one extraction.
func (c *Cache) Acquire(ctx context.Context, entry sevenzip.Entry) (string, error) {
	if entry.IsDir {
		return "", fmt.Errorf("acquire %q: is a directory", entry.Path)
	}
	k := key(entry)

	c.mu.Lock()
	if rec, ok := c.lru.Get(k); ok { // Get promotes to MRU
		c.mu.Unlock()
		return rec.localPath, nil
	}
	c.mu.Unlock()

	localPath, err, _ := c.builds.Do(k, func() (interface{}, error) {
		// A racing caller may have admitted it while we waited for
		// the build slot.
		c.mu.Lock()
		if rec, ok := c.lru.Get(k); ok {
			c.mu.Unlock()
			return rec.localPath, nil
		}
		c.mu.Unlock()

		c.evict(entry.Size)

		localPath := c.LocalPath(entry)
		fs.Debugf(c, "extracting %q from %q", entry.Path, c.archive)
		ok, err := c.ex.Extract(ctx, c.archive, c.password, entry.Path, c.root)
		if err != nil {
			return nil, fmt.Errorf("acquire %q: %w", entry.Path, err)
		}
		if !ok {
			// The extractor can report failure for an entry it did in
			// fact produce (eg warnings elsewhere in the archive) -
			// trust the file if it is there.
			if _, statErr := os.Stat(localPath); statErr != nil {
				return nil, fmt.Errorf("acquire %q: %w", entry.Path, ErrExtractFailed)
			}
		}
		if entry.Size == 0 {
			// Some formats don't emit empty files - admit a real one
			// so reads behave the same either way.
			if err := ensureEmptyFile(localPath); err != nil {
				return nil, fmt.Errorf("acquire %q: %w", entry.Path, err)
			}
		}

		c.mu.Lock()
		c.lru.Add(k, &record{entry: entry, localPath: localPath})
		c.used += entry.Size
		c.mu.Unlock()
		return localPath, nil
	})
	if err != nil {
		return "", err
	}
	return localPath.(string), nil
}

// ReadAt reads into p from the entry at offset off, materializing the
// entry first if necessary.  Short reads at EOF return the bytes that
// exist with no error.
func (c *Cache) ReadAt(ctx context.Context, entry sevenzip.Entry, p []byte, off int64) (int, error) {
	localPath, err := c.Acquire(ctx, entry)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", entry.Path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fs.Debugf(c, "failed to close %q: %v", localPath, closeErr)
		}
	}()
	n, err := f.ReadAt(p, off)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("read %q: %w", entry.Path, err)
	}
	return n, nil
}

// Contains reports whether the entry is currently materialized, without
// changing its LRU position.
func (c *Cache) Contains(entry sevenzip.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key(entry))
}

// EvictAll drops every record and best-effort deletes the files.
// Called at unmount, just before the scratch directory is removed.
func (c *Cache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		rec, _ := c.lru.Peek(k)
		c.lru.Remove(k)
		if err := os.Remove(rec.localPath); err != nil && !os.IsNotExist(err) {
			fs.Debugf(c, "failed to delete %q: %v", rec.localPath, err)
		}
	}
	c.used = 0
}

// ensureEmptyFile creates path as an empty file if it doesn't exist.
func ensureEmptyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	return f.Close()
}
