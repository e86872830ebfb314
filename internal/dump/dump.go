// Package dump wraps the opaque physical-memory image as a random-access
// byte source. Platform-specific Map implementations memory-map the dump
// file read-only the way the teacher's internal/mmfile maps hive files;
// everything above this layer only ever sees a []byte plus a cleanup func.
package dump

import (
	"encoding/binary"
	"fmt"
)

// Dump is a seekable, little-endian byte source over a raw physical-memory
// image (§6 "Dump"). Host and supported kernel architectures are both
// little-endian, so decoding never needs to branch on target endianness.
type Dump struct {
	data    []byte
	cleanup func() error
	path    string
}

// Open memory-maps the file at path read-only. The caller must call Close
// when done; the mapping (or, on platforms without mmap, the buffered copy)
// is released then.
func Open(path string) (*Dump, error) {
	data, cleanup, err := Map(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}
	return &Dump{data: data, cleanup: cleanup, path: path}, nil
}

// Close releases the backing mapping. Safe to call more than once.
func (d *Dump) Close() error {
	if d == nil || d.cleanup == nil {
		return nil
	}
	err := d.cleanup()
	d.cleanup = nil
	return err
}

// Size returns the dump's size in bytes.
func (d *Dump) Size() int64 { return int64(len(d.data)) }

// Path returns the path the dump was opened from, for diagnostics.
func (d *Dump) Path() string { return d.path }

// ReadAt reads len(p) bytes starting at physical offset off. A short read
// copies the bytes that are available into p and returns their count
// together with an error, matching the "minimum capability: random read"
// contract in §6.
func (d *Dump) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d.data)) {
		return 0, fmt.Errorf("dump: offset %#x beyond %s (size %d)", off, d.path, len(d.data))
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("dump: short read at %#x: wanted %d, got %d", off, len(p), n)
	}
	return n, nil
}

// SafeReadAt is ReadAt without an error return; it reports whether the full
// read succeeded. Used by the scorer and the builder's well-formedness
// check, where an unreadable target should lower a probability rather than
// abort a traversal (§4.2 "Safe read").
func (d *Dump) SafeReadAt(p []byte, off int64) bool {
	_, err := d.ReadAt(p, off)
	return err == nil
}

func (d *Dump) U8(off int64) (uint8, error) {
	var b [1]byte
	if _, err := d.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dump) U16(off int64) (uint16, error) {
	var b [2]byte
	if _, err := d.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *Dump) U32(off int64) (uint32, error) {
	var b [4]byte
	if _, err := d.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (d *Dump) U64(off int64) (uint64, error) {
	var b [8]byte
	if _, err := d.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Bytes returns a direct slice of the backing buffer for [off, off+n). The
// returned slice aliases the mapping; callers must treat it read-only and
// must not retain it past Close.
func (d *Dump) Bytes(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(d.data)) {
		return nil, fmt.Errorf("dump: range [%#x,%#x) out of bounds (size %d)", off, off+int64(n), len(d.data))
	}
	return d.data[off : off+int64(n)], nil
}
