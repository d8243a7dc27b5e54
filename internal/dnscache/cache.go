// Package dnscache persists domain resolutions across runs. Entries carry a
// "used" flag: loaded entries start unused, any get-hit or insert marks them
// used, and save writes back only used entries. A domain that is never
// referenced during a run therefore ages out of the file on its own.
package dnscache

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type StoreError struct {
	AppError model.AppError
	Cause    error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

type entry struct {
	addr netip.Addr
	used bool
}

// Cache is safe for concurrent use; a single mutex serializes every
// operation. Contention is dominated by network I/O around it, not by the
// map work.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]entry
}

func New(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]entry),
	}
}

// Load reads the persisted cache file. A missing file is not an error; a
// present but unreadable file is. Lines that do not parse as
// "domain<space>address" are skipped.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StoreError{
			AppError: model.AppError{
				Code:    "DNS_CACHE_READ_ERROR",
				Message: "failed to read DNS cache file",
				Stage:   "dns_cache",
				Snippet: c.path,
			},
			Cause: err,
		}
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			continue
		}
		c.entries[fields[0]] = entry{addr: addr, used: false}
	}
	return nil
}

// Get looks up a domain by exact (already lower-cased) key and marks the
// entry used on a hit.
func (c *Cache) Get(domain string) (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[domain]
	if !ok {
		return netip.Addr{}, false
	}
	e.used = true
	c.entries[domain] = e
	return e.addr, true
}

// Insert stores a fresh resolution, always marked used, and returns the
// previously stored address if there was one.
func (c *Cache) Insert(domain string, addr netip.Addr) (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.entries[domain]
	c.entries[domain] = entry{addr: addr, used: true}
	return prev.addr, had
}

// Save rewrites the cache file with used entries only.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]string, 0, len(c.entries))
	for domain, e := range c.entries {
		if !e.used {
			continue
		}
		lines = append(lines, domain+" "+e.addr.String())
	}

	if err := os.WriteFile(c.path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return &StoreError{
			AppError: model.AppError{
				Code:    "DNS_CACHE_WRITE_ERROR",
				Message: "failed to save DNS cache file",
				Stage:   "dns_cache",
				Snippet: c.path,
			},
			Cause: err,
		}
	}
	return nil
}

// Len reports the number of entries currently held, used or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
