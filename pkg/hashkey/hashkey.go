// Package hashkey computes deterministic fingerprints of structured values
// for use as cache addresses.
//
// The digest is a SHA-256 over a canonical byte serialization: sequences
// are order-sensitive, mapping keys are sorted before hashing so insertion
// order never matters, and floating-point values contribute their exact
// IEEE-754 bits. Two byte-identical canonical inputs always produce the
// same key; any semantic change to the input changes it.
package hashkey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"sort"

	"github.com/c360/embedatlas/errors"
)

// Type tags keep the serialization unambiguous: without them, e.g. the
// string "1" and the integer 1 could collide.
const (
	tagNil    = 'z'
	tagBool   = 'b'
	tagInt    = 'i'
	tagUint   = 'u'
	tagFloat  = 'f'
	tagString = 's'
	tagBytes  = 'y'
	tagSeq    = 'l'
	tagMap    = 'm'
)

// Digest computes the canonical SHA-256 hex digest of value.
//
// Supported forms: nil, bool, all integer kinds, float32/float64, string,
// []byte, []T and [N]T of supported forms, and map[string]T of supported
// forms. Anything else fails with errors.ErrUnhashable — there is no
// fallback to identity or formatting, since those would not be stable
// across processes.
func Digest(value any) (string, error) {
	h := sha256.New()
	if err := writeCanonical(h, value); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeCanonical(h hash.Hash, value any) error {
	switch v := value.(type) {
	case nil:
		h.Write([]byte{tagNil})
	case bool:
		if v {
			h.Write([]byte{tagBool, 1})
		} else {
			h.Write([]byte{tagBool, 0})
		}
	case int:
		writeInt(h, int64(v))
	case int8:
		writeInt(h, int64(v))
	case int16:
		writeInt(h, int64(v))
	case int32:
		writeInt(h, int64(v))
	case int64:
		writeInt(h, v)
	case uint:
		writeUint(h, uint64(v))
	case uint8:
		writeUint(h, uint64(v))
	case uint16:
		writeUint(h, uint64(v))
	case uint32:
		writeUint(h, uint64(v))
	case uint64:
		writeUint(h, v)
	case float32:
		// Exact bit pattern, widened; no decimal rounding
		writeFloat(h, float64(v))
	case float64:
		writeFloat(h, v)
	case string:
		h.Write([]byte{tagString})
		writeLen(h, len(v))
		h.Write([]byte(v))
	case []byte:
		h.Write([]byte{tagBytes})
		writeLen(h, len(v))
		h.Write(v)
	default:
		return writeComposite(h, value)
	}
	return nil
}

func writeComposite(h hash.Hash, value any) error {
	switch v := value.(type) {
	case []string:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			if err := writeCanonical(h, e); err != nil {
				return err
			}
		}
	case []float32:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			writeFloat(h, float64(e))
		}
	case []float64:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			writeFloat(h, e)
		}
	case [][]float32:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			if err := writeComposite(h, e); err != nil {
				return err
			}
		}
	case [][]byte:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			if err := writeCanonical(h, e); err != nil {
				return err
			}
		}
	case []int:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			writeInt(h, int64(e))
		}
	case []any:
		h.Write([]byte{tagSeq})
		writeLen(h, len(v))
		for _, e := range v {
			if err := writeCanonical(h, e); err != nil {
				return err
			}
		}
	case map[string]any:
		h.Write([]byte{tagMap})
		writeLen(h, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeCanonical(h, k); err != nil {
				return err
			}
			if err := writeCanonical(h, v[k]); err != nil {
				return err
			}
		}
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = e
		}
		return writeComposite(h, m)
	case map[string]float64:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = e
		}
		return writeComposite(h, m)
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %T", errors.ErrUnhashable, value),
			"hashkey", "Digest", "canonicalize value")
	}
	return nil
}

func writeInt(h hash.Hash, v int64) {
	var buf [9]byte
	buf[0] = tagInt
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	h.Write(buf[:])
}

func writeUint(h hash.Hash, v uint64) {
	var buf [9]byte
	buf[0] = tagUint
	binary.BigEndian.PutUint64(buf[1:], v)
	h.Write(buf[:])
}

func writeFloat(h hash.Hash, v float64) {
	var buf [9]byte
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	h.Write(buf[:])
}

func writeLen(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
