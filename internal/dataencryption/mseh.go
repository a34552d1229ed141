// Package dataencryption provides the MSEH envelope format and the array-encryption
// service that sits in front of the pluggable encrypt.Provider implementations.
//
// Wire format:
//
//	[4 bytes: 0x4D 0x53 0x45 0x48]  "MSEH" magic
//	[varint32: header byte length]
//	[header bytes: uint32 version | varint32 len + provider-id bytes | varint32 len + nonce bytes]
//	[ciphertext bytes]
package dataencryption

import (
	"encoding/binary"
	"fmt"
	"io"
)

var magic = [4]byte{0x4D, 0x53, 0x45, 0x48} // "MSEH"

// Header is the decoded MSEH envelope header.
type Header struct {
	Version    uint32
	ProviderID string
	Nonce      []byte
}

// HasMagic reports whether b starts with the MSEH magic bytes.
func HasMagic(b []byte) bool {
	return len(b) >= 4 &&
		b[0] == magic[0] && b[1] == magic[1] && b[2] == magic[2] && b[3] == magic[3]
}

// WriteHeader encodes h as an MSEH envelope prefix and writes it to w.
func WriteHeader(w io.Writer, h Header) error {
	body := encodeHeaderBody(h)
	buf := make([]byte, 4+varintLen(uint32(len(body)))+len(body))
	copy(buf[:4], magic[:])
	n := putVarint32(buf[4:], uint32(len(body)))
	copy(buf[4+n:], body)
	_, err := w.Write(buf)
	return err
}

func encodeHeaderBody(h Header) []byte {
	providerID := []byte(h.ProviderID)
	size := 4 + varintLen(uint32(len(providerID))) + len(providerID) +
		varintLen(uint32(len(h.Nonce))) + len(h.Nonce)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[:4], h.Version)
	off := 4
	off += putVarint32(buf[off:], uint32(len(providerID)))
	off += copy(buf[off:], providerID)
	off += putVarint32(buf[off:], uint32(len(h.Nonce)))
	copy(buf[off:], h.Nonce)
	return buf
}

// ReadHeader reads the MSEH magic, length, and header body from r.
// Returns (header, true, nil) on success, (nil, false, nil) if magic is absent,
// or (nil, true, err) on a read error after the magic has been confirmed present.
func ReadHeader(r io.Reader) (*Header, bool, error) {
	var mgc [4]byte
	if _, err := io.ReadFull(r, mgc[:]); err != nil {
		return nil, false, nil // not enough bytes — treat as no magic
	}
	if mgc != magic {
		return nil, false, nil
	}
	bodyLen, err := readVarint32(r)
	if err != nil {
		return nil, true, fmt.Errorf("mseh: reading header length: %w", err)
	}
	// Guard against a crafted header advertising a huge length.
	// Current providers write: version uint32 + provider-ID string + 12-byte AES-GCM IV,
	// which is well under 64 bytes. 4 KiB is orders of magnitude above any legitimate value.
	const maxBodyLen = 4096
	if bodyLen > maxBodyLen {
		return nil, true, fmt.Errorf("mseh: header length %d exceeds maximum %d", bodyLen, maxBodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, true, fmt.Errorf("mseh: reading header bytes: %w", err)
	}
	h, err := decodeHeaderBody(body)
	if err != nil {
		return nil, true, err
	}
	return h, true, nil
}

func decodeHeaderBody(body []byte) (*Header, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("mseh: header body too short")
	}
	version := binary.BigEndian.Uint32(body[:4])
	rest := body[4:]

	providerID, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("mseh: reading provider id: %w", err)
	}
	nonce, _, err := readLenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("mseh: reading nonce: %w", err)
	}
	return &Header{Version: version, ProviderID: string(providerID), Nonce: nonce}, nil
}

func readLenPrefixed(b []byte) (value []byte, rest []byte, err error) {
	n, shift, off := uint32(0), uint(0), 0
	for {
		if off >= len(b) {
			return nil, nil, fmt.Errorf("truncated length")
		}
		c := b[off]
		off++
		n |= uint32(c&0x7F) << shift
		if c&0x80 == 0 {
			break
		}
		shift += 7
	}
	if off+int(n) > len(b) {
		return nil, nil, fmt.Errorf("truncated value")
	}
	return b[off : off+int(n)], b[off+int(n):], nil
}

// ── varint32 helpers (outer MSEH framing) ──

func putVarint32(b []byte, v uint32) int {
	n := 0
	for v >= 0x80 {
		b[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	b[n] = byte(v)
	return n + 1
}

func varintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func readVarint32(r io.Reader) (uint32, error) {
	var v uint32
	var buf [1]byte
	for i := range 5 {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v |= uint32(buf[0]&0x7F) << (7 * uint(i))
		if buf[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("mseh: varint32 overflow")
}
