package segment

import (
	"fmt"
	"os"
	"sync"

	"github.com/downfa11-org/raftlog/util"
)

// cleanBits is a per-segment bitset of length entryCount recording which
// relative offsets have been marked clean. It is persisted to a
// "<segment>.clean" sidecar file, one byte per 8 entries.
type cleanBits struct {
	mu   sync.Mutex
	path string
	bits []byte
	n    uint32 // number of relative offsets tracked
}

func newCleanBits(path string) *cleanBits {
	return &cleanBits{path: path}
}

func (c *cleanBits) grow(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.growLocked(n)
}

func (c *cleanBits) growLocked(n uint32) {
	need := (n + 7) / 8
	for uint32(len(c.bits)) < need {
		c.bits = append(c.bits, 0)
	}
	if n > c.n {
		c.n = n
	}
}

// set marks rel as clean. Idempotent.
func (c *cleanBits) set(rel uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.growLocked(rel + 1)
	c.bits[rel/8] |= 1 << (rel % 8)
}

func (c *cleanBits) isClean(rel uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rel/8 >= uint32(len(c.bits)) {
		return false
	}
	return c.bits[rel/8]&(1<<(rel%8)) != 0
}

func (c *cleanBits) cleanCount() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var count uint32
	for i := uint32(0); i < c.n; i++ {
		if c.bits[i/8]&(1<<(i%8)) != 0 {
			count++
		}
	}
	return count
}

func (c *cleanBits) load() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load clean bitset %s: %w", c.path, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits = data
	c.n = uint32(len(data)) * 8
	return nil
}

func (c *cleanBits) save() error {
	c.mu.Lock()
	data := append([]byte(nil), c.bits...)
	c.mu.Unlock()

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write clean bitset %s: %w", tmp, err)
	}
	if err := util.AtomicReplace(tmp, c.path); err != nil {
		return fmt.Errorf("install clean bitset %s: %w", c.path, err)
	}
	return nil
}
