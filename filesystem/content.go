package filesystem

import (
	"fmt"

	"github.com/brettbedarf/vylfs"
)

// ContentStore holds the byte buffers of regular files.
// Directories never have a buffer.
//
// NOTE: ContentStore is not thread-safe; the owning FileSystem serializes access.
type ContentStore struct {
	bufs  map[uint64][]byte
	total uint64
	limit uint64 // largest buffer length accepted
}

// NewContentStore returns a store whose buffers never grow past limit bytes
func NewContentStore(limit uint64) *ContentStore {
	return &ContentStore{bufs: make(map[uint64][]byte), limit: limit}
}

// InsertEmpty registers an empty buffer for id
func (c *ContentStore) InsertEmpty(id uint64) {
	c.total -= uint64(len(c.bufs[id]))
	c.bufs[id] = []byte{}
}

func (c *ContentStore) Has(id uint64) bool {
	_, ok := c.bufs[id]
	return ok
}

// Read returns a copy of up to length bytes from offset. Out-of-range offsets
// return an empty slice.
func (c *ContentStore) Read(id uint64, offset uint64, length uint32) ([]byte, error) {
	buf, err := c.get(id)
	if err != nil {
		return nil, err
	}
	size := uint64(len(buf))
	if offset >= size {
		return []byte{}, nil
	}
	end := min(offset+uint64(length), size)
	out := make([]byte, end-offset)
	copy(out, buf[offset:end])
	return out, nil
}

// Write overwrites [offset, offset+len(data)), growing the buffer with zero
// bytes first when needed. Returns len(data).
func (c *ContentStore) Write(id uint64, offset uint64, data []byte) (int, error) {
	buf, err := c.get(id)
	if err != nil {
		return 0, err
	}
	if err := c.checkRange(id, offset, uint64(len(data))); err != nil {
		return 0, err
	}
	end := offset + uint64(len(data))
	if end > uint64(len(buf)) {
		buf = grow(buf, end)
	}
	copy(buf[offset:end], data)
	c.store(id, buf)
	return len(data), nil
}

// Truncate resizes the buffer to size, zero-filling on extension
func (c *ContentStore) Truncate(id uint64, size uint64) error {
	buf, err := c.get(id)
	if err != nil {
		return err
	}
	if err := c.checkRange(id, size, 0); err != nil {
		return err
	}
	if size <= uint64(len(buf)) {
		buf = buf[:size]
	} else {
		buf = grow(buf, size)
	}
	c.store(id, buf)
	return nil
}

// Len returns the buffer length of id
func (c *ContentStore) Len(id uint64) (uint64, error) {
	buf, err := c.get(id)
	if err != nil {
		return 0, err
	}
	return uint64(len(buf)), nil
}

func (c *ContentStore) Remove(id uint64) {
	c.total -= uint64(len(c.bufs[id]))
	delete(c.bufs, id)
}

// TotalBytes returns the sum of all buffer lengths
func (c *ContentStore) TotalBytes() uint64 {
	return c.total
}

func (c *ContentStore) get(id uint64) ([]byte, error) {
	buf, ok := c.bufs[id]
	if !ok {
		return nil, fmt.Errorf("content %d: %w", id, vylfs.ErrNotFound)
	}
	return buf, nil
}

// checkRange fails when [offset, offset+n) would end past the limit.
// Written so that offset+n cannot overflow.
func (c *ContentStore) checkRange(id uint64, offset uint64, n uint64) error {
	if offset > c.limit || n > c.limit-offset {
		return fmt.Errorf("content %d: %d bytes at %d: %w", id, n, offset, vylfs.ErrTooLarge)
	}
	return nil
}

func (c *ContentStore) store(id uint64, buf []byte) {
	c.total = c.total - uint64(len(c.bufs[id])) + uint64(len(buf))
	c.bufs[id] = buf
}

// grow extends buf to size; the new tail is zeroed
func grow(buf []byte, size uint64) []byte {
	if size <= uint64(cap(buf)) {
		n := len(buf)
		buf = buf[:size]
		clear(buf[n:])
		return buf
	}
	out := make([]byte, size, max(size, 2*uint64(cap(buf))))
	copy(out, buf)
	return out
}
