package arena

import "encoding/binary"

// EntryFlags is a small bitset of entry lifecycle flags, generalized from
// original_source's EntryFlags(u8) bitset (hkv-common/src/types.rs) rather
// than the two ad-hoc booleans spec.md sketches, so new lifecycle states
// (e.g. tombstone-pending) don't require a struct shape change.
type EntryFlags uint8

const (
	FlagStale EntryFlags = 1 << iota
	FlagEvicting
	FlagTombstone
)

func (f EntryFlags) Has(bit EntryFlags) bool { return f&bit != 0 }

// headerSize is the fixed-width prefix written into every cell ahead of
// the key/value bytes: fingerprint(8) + version(8) + tenant(4) + exp(8) +
// created(8) + accessed(8) + accessCount(4) + flags(1) + keyLen(2) + valLen(2).
const headerSize = 53

// EncodeEntry serializes an entry's header and payload into dst, which
// must be at least EncodedSize(len(key), len(value)) bytes.
func EncodeEntry(dst []byte, fingerprint uint64, version uint64, tenant uint32, expiry int64, created, accessed int64, accessCount uint32, flags EntryFlags, key, value []byte) int {
	binary.LittleEndian.PutUint64(dst[0:8], fingerprint)
	binary.LittleEndian.PutUint64(dst[8:16], version)
	binary.LittleEndian.PutUint32(dst[16:20], tenant)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(expiry))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(created))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(accessed))
	binary.LittleEndian.PutUint32(dst[44:48], accessCount)
	dst[48] = byte(flags)
	binary.LittleEndian.PutUint16(dst[49:51], uint16(len(key)))
	binary.LittleEndian.PutUint16(dst[51:53], uint16(len(value)))
	n := headerSize
	n += copy(dst[n:], key)
	n += copy(dst[n:], value)
	return n
}

// EncodedSize returns the number of bytes EncodeEntry needs for the given
// key/value lengths, used by callers to size the arena.Allocate request.
func EncodedSize(keyLen, valueLen int) int { return headerSize + keyLen + valueLen }

// View decodes the fixed header fields and returns slices into buf for
// the key and value portions. buf must have been produced by EncodeEntry
// (it may be longer, e.g. a size-class cell — only the header-declared
// lengths are read).
type View struct {
	Fingerprint uint64
	Version     uint64
	Tenant      uint32
	Expiry      int64
	Created     int64
	Accessed    int64
	AccessCount uint32
	Flags       EntryFlags
	Key         []byte
	Value       []byte
}

// Decode reads the header and key/value views out of buf.
func Decode(buf []byte) View {
	keyLen := int(binary.LittleEndian.Uint16(buf[49:51]))
	valLen := int(binary.LittleEndian.Uint16(buf[51:53]))
	return View{
		Fingerprint: binary.LittleEndian.Uint64(buf[0:8]),
		Version:     binary.LittleEndian.Uint64(buf[8:16]),
		Tenant:      binary.LittleEndian.Uint32(buf[16:20]),
		Expiry:      int64(binary.LittleEndian.Uint64(buf[20:28])),
		Created:     int64(binary.LittleEndian.Uint64(buf[28:36])),
		Accessed:    int64(binary.LittleEndian.Uint64(buf[36:44])),
		AccessCount: binary.LittleEndian.Uint32(buf[44:48]),
		Flags:       EntryFlags(buf[48]),
		Key:         buf[headerSize : headerSize+keyLen],
		Value:       buf[headerSize+keyLen : headerSize+keyLen+valLen],
	}
}

// SetAccessed rewrites only the accessed-timestamp and access-count
// fields in place, used by the read path's last-access bump so hot reads
// never re-encode the whole entry.
func SetAccessed(buf []byte, accessed int64, accessCount uint32) {
	binary.LittleEndian.PutUint64(buf[36:44], uint64(accessed))
	binary.LittleEndian.PutUint32(buf[44:48], accessCount)
}

// SetFlags rewrites the flags byte in place (e.g. marking an entry stale
// or evicting without a full re-encode).
func SetFlags(buf []byte, flags EntryFlags) { buf[48] = byte(flags) }
