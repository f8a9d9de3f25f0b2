//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache persists decided verification outcomes between runs. Entries are keyed by the
// stable function id and the fingerprint of the query, so editing a contract or a body changes
// the fingerprint and the stale entry is simply never hit again. Only Proved and Disproved
// outcomes are cached; Unknown outcomes depend on time limits and installed solvers.
//
// On disk the cache is an s2-compressed gob stream: a header carrying the semantic version of the
// format, followed by the ordered entries.
package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/s2"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/util/orderedmap"
	"go.uber.org/contractaway/util/pathhelper"
	"go.uber.org/zap"
)

// formatName identifies cache files.
const formatName = "contractaway-vc-cache"

// ErrIncompatible is returned by Decode for caches written by an incompatible format version.
var ErrIncompatible = errors.New("incompatible cache format")

// Key identifies one cached outcome.
type Key struct {
	FunctionID  string
	Fingerprint string
}

type header struct {
	Format  string
	Version string
}

// Cache is a concurrency-safe outcome cache, optionally backed by a file.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries *orderedmap.OrderedMap[Key, solver.Outcome]
	dirty   bool
	hits    int
	misses  int
	logger  *zap.Logger
}

// New returns an empty in-memory cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{entries: orderedmap.New[Key, solver.Outcome](), logger: logger}
}

// Open loads the cache stored at path. A missing file yields an empty cache; an unreadable or
// incompatible one is discarded with a warning, since the cache can always be rebuilt.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	c := New(logger)
	c.path = path

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	if err := c.Decode(f); err != nil {
		c.logger.Warn("discarding verification cache", pathhelper.Field("path", path), zap.Error(err))
		c.entries = orderedmap.New[Key, solver.Outcome]()
		c.dirty = true
	}
	return c, nil
}

// Lookup returns the cached outcome for k.
func (c *Cache) Lookup(k Key) (solver.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries.Load(k)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return o, ok
}

// Store records a decided outcome; Unknown outcomes are ignored.
func (c *Cache) Store(k Key, o solver.Outcome) {
	if o.Verdict != solver.Proved && o.Verdict != solver.Disproved {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Store(k, o)
	c.dirty = true
}

// Invalidate drops every entry of the given function.
func (c *Cache) Invalidate(functionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.entries.Keys() {
		if k.FunctionID == functionID {
			c.entries.Delete(k)
			c.dirty = true
		}
	}
}

// Retain drops every entry whose key is not in live, so the file does not accumulate outcomes of
// queries that no longer exist.
func (c *Cache) Retain(live map[Key]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.entries.Keys() {
		if !live[k] {
			c.entries.Delete(k)
			c.dirty = true
		}
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns the number of lookups that hit and missed.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Save writes the cache back to its file when it changed. In-memory caches are not saved.
func (c *Cache) Save() error {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if c.path == "" || !dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Encode writes the header and all entries to w.
func (c *Cache) Encode(w io.Writer) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := s2.NewWriter(w)
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	enc := gob.NewEncoder(writer)
	if err := enc.Encode(header{Format: formatName, Version: config.CacheFormatVersion}); err != nil {
		return fmt.Errorf("encode cache header: %w", err)
	}
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("encode cache entries: %w", err)
	}
	return nil
}

// Decode replaces the entries with the ones read from r. It returns ErrIncompatible, leaving the
// cache untouched, when r was written by an incompatible format version.
func (c *Cache) Decode(r io.Reader) error {
	data, err := io.ReadAll(s2.NewReader(r))
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	dec := gob.NewDecoder(bytes.NewReader(data))

	var h header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("decode cache header: %w", err)
	}
	if err := compatible(h); err != nil {
		return err
	}

	entries := orderedmap.New[Key, solver.Outcome]()
	if err := dec.Decode(&entries); err != nil {
		return fmt.Errorf("decode cache entries: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}

// compatible accepts headers of the same major version that are not newer than ours.
func compatible(h header) error {
	if h.Format != formatName {
		return fmt.Errorf("%w: format %q", ErrIncompatible, h.Format)
	}
	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return fmt.Errorf("%w: version %q: %w", ErrIncompatible, h.Version, err)
	}
	current := semver.MustParse(config.CacheFormatVersion)
	constraint, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0, <= %s", current.Major(), current))
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: version %s, want %s", ErrIncompatible, v, constraint)
	}
	return nil
}
