// Package pipecache persists pipeline cache blobs between runs.
package pipecache

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

// HeaderSize is the size of a version one pipeline cache header.
const HeaderSize = 32

const headerVersionOne = 1

// Header is the prefix every pipeline cache blob starts with.
type Header struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

// ParseHeader decodes the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, errors.Newf("pipecache: %d bytes is too short for a cache header", len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return h, errors.Wrap(err, "read cache header")
	}
	return h, nil
}

// Check reports why a header does not match the device identity, nil if it
// does.
func (h Header) Check(id driver.CacheIdentity) error {
	switch {
	case h.Length < HeaderSize:
		return errors.Newf("pipecache: bad header length %#x", h.Length)
	case h.Version != headerVersionOne:
		return errors.Newf("pipecache: unsupported cache header version %#x", h.Version)
	case h.VendorID != id.VendorID:
		return errors.Newf("pipecache: vendor ID mismatch, cache contains %#x, driver expects %#x", h.VendorID, id.VendorID)
	case h.DeviceID != id.DeviceID:
		return errors.Newf("pipecache: device ID mismatch, cache contains %#x, driver expects %#x", h.DeviceID, id.DeviceID)
	case h.UUID != id.UUID:
		return errors.Newf("pipecache: UUID mismatch, cache contains %s, driver expects %s", h.UUID, id.UUID)
	}
	return nil
}

// Load returns the cache blob stored at path if it was written for the
// device. A missing, unreadable or foreign cache yields nil: the device then
// starts with an empty cache. A foreign cache file is removed so the next
// Save repopulates it.
func Load(path string, id driver.CacheIdentity) []byte {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Logger().Info("pipeline cache miss", "path", path)
		return nil
	}
	if err != nil {
		logger.Logger().Warn("pipeline cache unreadable", "path", path, "err", err)
		return nil
	}

	h, err := ParseHeader(data)
	if err == nil {
		err = h.Check(id)
	}
	if err != nil {
		logger.Logger().Warn("discarding pipeline cache", "path", path, "err", err)
		_ = os.Remove(path)
		return nil
	}
	logger.Logger().Info("pipeline cache loaded", "path", path, "size", len(data))
	return data
}

// Save writes blob to path. The file is replaced atomically so a crash never
// leaves a truncated cache behind.
func Save(path string, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create pipeline cache file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write pipeline cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write pipeline cache")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace pipeline cache")
	}
	logger.Logger().Info("pipeline cache saved", "path", path, "size", len(blob))
	return nil
}

// Blob builds a cache blob for the device identity with the given payload.
// It is what a driver would produce for an empty or trivial cache.
func Blob(id driver.CacheIdentity, payload []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, Header{
		Length:   HeaderSize,
		Version:  headerVersionOne,
		VendorID: id.VendorID,
		DeviceID: id.DeviceID,
		UUID:     id.UUID,
	})
	b.Write(payload)
	return b.Bytes()
}
