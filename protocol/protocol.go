// Package protocol implements the hot-key cache's wire framing for the
// command transport and event channel (spec.md §6). It carries no
// business logic: Encode/Decode pairs round-trip each request,
// response, and event shape exactly as specified, leaving validation
// and dispatch to cache/config.
package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/hybridkv/hotcache/events"
	"github.com/hybridkv/hotcache/policy"
)

// ErrShortBuffer is returned when a Decode call is handed fewer bytes
// than its declared length requires.
var ErrShortBuffer = errors.New("protocol: buffer too short")

// ErrMalformed is returned when a payload's internal structure (a
// count or length field) doesn't fit within the bytes supplied.
var ErrMalformed = errors.New("protocol: malformed payload")

// Opcode identifies a command-transport request (spec.md §6).
type Opcode uint16

const (
	OpRead         Opcode = 0x01
	OpInvalidate   Opcode = 0x02
	OpBatchPromote Opcode = 0x03
	OpPurge        Opcode = 0x04
	OpStats        Opcode = 0x05
	OpConfigure    Opcode = 0x06
)

func (o Opcode) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpInvalidate:
		return "INVALIDATE"
	case OpBatchPromote:
		return "BATCH_PROMOTE"
	case OpPurge:
		return "PURGE"
	case OpStats:
		return "STATS"
	case OpConfigure:
		return "CONFIGURE"
	default:
		return "UNKNOWN"
	}
}

// Status is a response frame's outcome byte.
type Status byte

const (
	StatusOK       Status = 0
	StatusMiss     Status = 1
	StatusStale    Status = 2
	StatusRejected Status = 3
	StatusInvalid  Status = 4
	StatusTimeout  Status = 5
	StatusPressure Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMiss:
		return "MISS"
	case StatusStale:
		return "STALE"
	case StatusRejected:
		return "REJECTED"
	case StatusInvalid:
		return "INVALID"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusPressure:
		return "PRESSURE"
	default:
		return "UNKNOWN"
	}
}

// Scope selects PURGE/STATS' target (spec.md §6).
type Scope byte

const (
	ScopeTenant Scope = 0
	ScopeGlobal Scope = 1
)

// requestHeaderSize: opcode(2) + flags(2) + tenant(4) + deadline(8) + length(4).
const requestHeaderSize = 2 + 2 + 4 + 8 + 4

// RequestHeader is the fixed-size prefix of every command frame.
type RequestHeader struct {
	Opcode   Opcode
	Flags    uint16
	Tenant   uint32
	Deadline uint64 // monotonic nanoseconds
}

// Request is a fully framed command: header plus opcode-specific payload.
type Request struct {
	RequestHeader
	Payload []byte
}

// EncodeRequest serializes r into a single frame.
func EncodeRequest(r Request) []byte {
	buf := make([]byte, requestHeaderSize+len(r.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(r.Opcode))
	binary.BigEndian.PutUint16(buf[2:4], r.Flags)
	binary.BigEndian.PutUint32(buf[4:8], r.Tenant)
	binary.BigEndian.PutUint64(buf[8:16], r.Deadline)
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(r.Payload)))
	copy(buf[20:], r.Payload)
	return buf
}

// DecodeRequest parses a single frame out of b. It does not require b
// to contain exactly one frame's worth of bytes and trailing bytes
// beyond the declared payload length are ignored.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) < requestHeaderSize {
		return Request{}, ErrShortBuffer
	}
	length := binary.BigEndian.Uint32(b[16:20])
	end := requestHeaderSize + int(length)
	if len(b) < end {
		return Request{}, ErrShortBuffer
	}
	return Request{
		RequestHeader: RequestHeader{
			Opcode:   Opcode(binary.BigEndian.Uint16(b[0:2])),
			Flags:    binary.BigEndian.Uint16(b[2:4]),
			Tenant:   binary.BigEndian.Uint32(b[4:8]),
			Deadline: binary.BigEndian.Uint64(b[8:16]),
		},
		Payload: append([]byte(nil), b[requestHeaderSize:end]...),
	}, nil
}

// responseHeaderSize: status(1) + tenant(4) + deadline(8) + length(4).
const responseHeaderSize = 1 + 4 + 8 + 4

// ResponseHeader mirrors RequestHeader's tenant/deadline framing with a
// status byte in place of the opcode (spec.md §6: "response frames
// mirror request framing with a status byte").
type ResponseHeader struct {
	Status   Status
	Tenant   uint32
	Deadline uint64
}

// Response is a fully framed command reply.
type Response struct {
	ResponseHeader
	Payload []byte
}

// EncodeResponse serializes r into a single frame.
func EncodeResponse(r Response) []byte {
	buf := make([]byte, responseHeaderSize+len(r.Payload))
	buf[0] = byte(r.Status)
	binary.BigEndian.PutUint32(buf[1:5], r.Tenant)
	binary.BigEndian.PutUint64(buf[5:13], r.Deadline)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(r.Payload)))
	copy(buf[17:], r.Payload)
	return buf
}

// DecodeResponse parses a single response frame out of b.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) < responseHeaderSize {
		return Response{}, ErrShortBuffer
	}
	length := binary.BigEndian.Uint32(b[13:17])
	end := responseHeaderSize + int(length)
	if len(b) < end {
		return Response{}, ErrShortBuffer
	}
	return Response{
		ResponseHeader: ResponseHeader{
			Status:   Status(b[0]),
			Tenant:   binary.BigEndian.Uint32(b[1:5]),
			Deadline: binary.BigEndian.Uint64(b[5:13]),
		},
		Payload: append([]byte(nil), b[responseHeaderSize:end]...),
	}, nil
}

// ---- READ payload: key_len (u16), key ----

func EncodeReadPayload(key []byte) []byte {
	buf := make([]byte, 2+len(key))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(key)))
	copy(buf[2:], key)
	return buf
}

func DecodeReadPayload(b []byte) (key []byte, err error) {
	if len(b) < 2 {
		return nil, ErrMalformed
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	if len(b) < 2+n {
		return nil, ErrMalformed
	}
	return append([]byte(nil), b[2:2+n]...), nil
}

// ---- INVALIDATE payload: key_len, key, version (u64) ----

func EncodeInvalidatePayload(key []byte, version uint64) []byte {
	buf := make([]byte, 2+len(key)+8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(key)))
	copy(buf[2:2+len(key)], key)
	binary.BigEndian.PutUint64(buf[2+len(key):], version)
	return buf
}

func DecodeInvalidatePayload(b []byte) (key []byte, version uint64, err error) {
	if len(b) < 2 {
		return nil, 0, ErrMalformed
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	if len(b) < 2+n+8 {
		return nil, 0, ErrMalformed
	}
	key = append([]byte(nil), b[2:2+n]...)
	version = binary.BigEndian.Uint64(b[2+n : 2+n+8])
	return key, version, nil
}

// ---- BATCH_PROMOTE payload ----
// count (u16), then count x {key_len, key, ver(u64), ttl_ms(u32), val_len(u32), val}

// BatchPromoteItem is one entry of a BATCH_PROMOTE wire payload.
type BatchPromoteItem struct {
	Key       []byte
	Version   uint64
	TTLMillis uint32
	Value     []byte
}

func EncodeBatchPromotePayload(items []BatchPromoteItem) []byte {
	size := 2
	for _, it := range items {
		size += 2 + len(it.Key) + 8 + 4 + 4 + len(it.Value)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(items)))
	off := 2
	for _, it := range items {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(it.Key)))
		off += 2
		copy(buf[off:off+len(it.Key)], it.Key)
		off += len(it.Key)
		binary.BigEndian.PutUint64(buf[off:off+8], it.Version)
		off += 8
		binary.BigEndian.PutUint32(buf[off:off+4], it.TTLMillis)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(it.Value)))
		off += 4
		copy(buf[off:off+len(it.Value)], it.Value)
		off += len(it.Value)
	}
	return buf
}

func DecodeBatchPromotePayload(b []byte) ([]BatchPromoteItem, error) {
	if len(b) < 2 {
		return nil, ErrMalformed
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	off := 2
	items := make([]BatchPromoteItem, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < off+2 {
			return nil, ErrMalformed
		}
		keyLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if len(b) < off+keyLen+8+4+4 {
			return nil, ErrMalformed
		}
		key := append([]byte(nil), b[off:off+keyLen]...)
		off += keyLen
		version := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		ttl := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		valLen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+valLen {
			return nil, ErrMalformed
		}
		val := append([]byte(nil), b[off:off+valLen]...)
		off += valLen
		items = append(items, BatchPromoteItem{Key: key, Version: version, TTLMillis: ttl, Value: val})
	}
	return items, nil
}

// ---- PURGE / STATS payload: scope (u8) ----

func EncodeScopePayload(scope Scope) []byte { return []byte{byte(scope)} }

func DecodeScopePayload(b []byte) (Scope, error) {
	if len(b) < 1 {
		return 0, ErrMalformed
	}
	return Scope(b[0]), nil
}

// ---- Event channel frame: kind (u8), tenant (u32), length (u32), body ----

// EventKind is the event channel's wire-level kind byte (spec.md §6),
// numbered 1-5 (distinct from events.Kind, which is zero-based for Go
// iota convenience).
type EventKind uint8

const (
	EventEvicted      EventKind = 1
	EventPressure     EventKind = 2
	EventRefreshHint  EventKind = 3
	EventPolicy       EventKind = 4
	EventDroppedCount EventKind = 5
)

// WireKind maps an in-process events.Kind to its wire-level byte.
func WireKind(k events.Kind) EventKind {
	switch k {
	case events.Evicted:
		return EventEvicted
	case events.Pressure:
		return EventPressure
	case events.RefreshHint:
		return EventRefreshHint
	case events.Policy:
		return EventPolicy
	case events.DroppedCount:
		return EventDroppedCount
	default:
		return 0
	}
}

const eventFrameHeaderSize = 1 + 4 + 4 // kind + tenant + length

// EventFrame is a single one-way event-channel frame.
type EventFrame struct {
	Kind   EventKind
	Tenant uint32
	Body   []byte
}

func EncodeEventFrame(f EventFrame) []byte {
	buf := make([]byte, eventFrameHeaderSize+len(f.Body))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:5], f.Tenant)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(f.Body)))
	copy(buf[9:], f.Body)
	return buf
}

func DecodeEventFrame(b []byte) (EventFrame, error) {
	if len(b) < eventFrameHeaderSize {
		return EventFrame{}, ErrShortBuffer
	}
	length := binary.BigEndian.Uint32(b[5:9])
	end := eventFrameHeaderSize + int(length)
	if len(b) < end {
		return EventFrame{}, ErrShortBuffer
	}
	return EventFrame{
		Kind:   EventKind(b[0]),
		Tenant: binary.BigEndian.Uint32(b[1:5]),
		Body:   append([]byte(nil), b[eventFrameHeaderSize:end]...),
	}, nil
}

// EvictedEntry is one (fingerprint, reason) pair inside an EVICTED body.
type EvictedEntry struct {
	Fingerprint uint64
	Reason      policy.EvictReason
}

// EncodeEvictedBody packs count(u32) then count x (fingerprint u64, reason u8).
func EncodeEvictedBody(entries []EvictedEntry) []byte {
	buf := make([]byte, 4+len(entries)*9)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(entries)))
	off := 4
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[off:off+8], e.Fingerprint)
		buf[off+8] = byte(e.Reason)
		off += 9
	}
	return buf
}

func DecodeEvictedBody(b []byte) ([]EvictedEntry, error) {
	if len(b) < 4 {
		return nil, ErrMalformed
	}
	count := int(binary.BigEndian.Uint32(b[0:4]))
	off := 4
	entries := make([]EvictedEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < off+9 {
			return nil, ErrMalformed
		}
		fp := binary.BigEndian.Uint64(b[off : off+8])
		reason := policy.EvictReason(b[off+8])
		off += 9
		entries = append(entries, EvictedEntry{Fingerprint: fp, Reason: reason})
	}
	return entries, nil
}

// EncodePressureBody packs a single pressure level byte (0..2).
func EncodePressureBody(level uint8) []byte { return []byte{level} }

func DecodePressureBody(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, ErrMalformed
	}
	return b[0], nil
}

// EncodeRefreshHintBody packs key_len(u16), key — the same shape as a
// READ payload.
func EncodeRefreshHintBody(key []byte) []byte { return EncodeReadPayload(key) }

func DecodeRefreshHintBody(b []byte) ([]byte, error) { return DecodeReadPayload(b) }

// EncodeDroppedCountBody packs a single u32 drop count.
func EncodeDroppedCountBody(count uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, count)
	return buf
}

func DecodeDroppedCountBody(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrMalformed
	}
	return binary.BigEndian.Uint32(b[0:4]), nil
}

// ---- CONFIGURE payload: generic TLV entries ----

// TLVEntry is one CONFIGURE option: a dotted key (e.g. "cache.total_bytes"
// or "tenant.3.hard_cap_bytes") and its raw value bytes; package config
// interprets the key/value pairs into typed CacheConfig/TenantConfig
// fields.
type TLVEntry struct {
	Key   string
	Value []byte
}

// EncodeTLV packs key_len(u16), key, val_len(u32), val, repeated.
func EncodeTLV(entries []TLVEntry) []byte {
	size := 0
	for _, e := range entries {
		size += 2 + len(e.Key) + 4 + len(e.Value)
	}
	buf := make([]byte, size)
	off := 0
	for _, e := range entries {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(e.Key)))
		off += 2
		copy(buf[off:off+len(e.Key)], e.Key)
		off += len(e.Key)
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(e.Value)))
		off += 4
		copy(buf[off:off+len(e.Value)], e.Value)
		off += len(e.Value)
	}
	return buf
}

func DecodeTLV(b []byte) ([]TLVEntry, error) {
	var entries []TLVEntry
	off := 0
	for off < len(b) {
		if len(b) < off+2 {
			return nil, ErrMalformed
		}
		keyLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if len(b) < off+keyLen+4 {
			return nil, ErrMalformed
		}
		key := string(b[off : off+keyLen])
		off += keyLen
		valLen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+valLen {
			return nil, ErrMalformed
		}
		val := append([]byte(nil), b[off:off+valLen]...)
		off += valLen
		entries = append(entries, TLVEntry{Key: key, Value: val})
	}
	return entries, nil
}
