package projection

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/c360/embedatlas/errors"
)

// Binary entry layout, all little-endian after the magic:
//
//	magic   [4]byte "EAPJ"
//	version uint32
//	n       uint32  row count
//	k       uint32  neighbors per row
//	points     n*2 float32
//	indices    n*k int32
//	distances  n*k float32
const (
	entryMagic   = "EAPJ"
	entryVersion = 1
)

// FSCache is a content-addressed projection cache on the local
// filesystem. Keys are hex digests produced by pkg/hashkey; since the key
// covers every computation input, entries are shared across datasets.
type FSCache struct {
	dir string
}

// NewFSCache creates the cache directory if needed.
func NewFSCache(dir string) (*FSCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "FSCache", "New", "create cache directory")
	}
	return &FSCache{dir: dir}, nil
}

func (c *FSCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".proj")
}

// Exists reports whether an entry for key is present.
func (c *FSCache) Exists(key string) bool {
	info, err := os.Stat(c.entryPath(key))
	return err == nil && !info.IsDir()
}

// Load reads and decodes the entry for key. Missing entries return
// errors.ErrNotFound; truncated or malformed entries return
// errors.ErrCorruptEntry.
func (c *FSCache) Load(key string) (*Projection, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "FSCache", "Load", "read cache entry")
	}
	return decodeEntry(data)
}

// Save atomically writes the entry for key: encode to a temp file in the
// cache directory, then rename over the final path. Concurrent savers of
// the same key both succeed; the entry content is identical either way.
func (c *FSCache) Save(key string, p *Projection) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := encodeEntry(p)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return errors.WrapTransient(err, "FSCache", "Save", "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FSCache", "Save", "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FSCache", "Save", "close temp file")
	}

	if err := os.Rename(tmpName, c.entryPath(key)); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FSCache", "Save", "rename temp file")
	}
	return nil
}

func encodeEntry(p *Projection) ([]byte, error) {
	n := len(p.Points)
	k := p.neighborCount()

	var buf bytes.Buffer
	buf.Grow(16 + n*8 + n*k*8)
	buf.WriteString(entryMagic)

	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], entryVersion)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(n))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(k))
	buf.Write(hdr[:])

	var scratch [4]byte
	putF32 := func(v float32) {
		binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
		buf.Write(scratch[:])
	}
	for _, pt := range p.Points {
		putF32(pt[0])
		putF32(pt[1])
	}
	for _, row := range p.KNNIndices {
		for _, idx := range row {
			binary.LittleEndian.PutUint32(scratch[:], uint32(idx))
			buf.Write(scratch[:])
		}
	}
	for _, row := range p.KNNDistances {
		for _, d := range row {
			putF32(d)
		}
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Projection, error) {
	corrupt := func(detail string) error {
		return errors.WrapInvalid(errors.ErrCorruptEntry, "FSCache", "Load", detail)
	}

	if len(data) < 16 || string(data[0:4]) != entryMagic {
		return nil, corrupt("bad magic")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != entryVersion {
		return nil, corrupt(fmt.Sprintf("unsupported entry version %d", version))
	}

	n := int(binary.LittleEndian.Uint32(data[8:12]))
	k := int(binary.LittleEndian.Uint32(data[12:16]))

	want := 16 + n*8 + n*k*8
	if len(data) != want {
		return nil, corrupt(fmt.Sprintf("size %d, expected %d", len(data), want))
	}

	p := &Projection{
		Points:       make([][2]float32, n),
		KNNIndices:   make([][]int32, n),
		KNNDistances: make([][]float32, n),
	}

	off := 16
	readF32 := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		return v
	}
	for i := 0; i < n; i++ {
		p.Points[i][0] = readF32()
		p.Points[i][1] = readF32()
	}
	for i := 0; i < n; i++ {
		row := make([]int32, k)
		for j := 0; j < k; j++ {
			row[j] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		p.KNNIndices[i] = row
	}
	for i := 0; i < n; i++ {
		row := make([]float32, k)
		for j := 0; j < k; j++ {
			row[j] = readF32()
		}
		p.KNNDistances[i] = row
	}
	return p, nil
}
