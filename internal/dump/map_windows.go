//go:build windows

package dump

import "os"

// Map reads the whole dump into memory on platforms without the unix mmap
// family. Physical-memory images are analysed offline in practice, so the
// extra copy is acceptable where mmap is unavailable.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return data, func() error { return nil }, nil
}
