// Package codec serializes and deserializes a complete teleological array
// to/from a single versioned blob per SPEC_FULL.md §4.1.
//
// Wire format:
//
//	[1 byte: format version]
//	[13-slot manifest: for each slot, space tag (1 byte) | kind (1 byte) | payload length (varint)]
//	[concatenated slot payloads, in slot order]
//
// Dense payloads are little-endian float32 (plus a 1-byte causal direction
// tag for the Causal space). Sparse payloads are a varint term count followed
// by varint-delta-encoded indices interleaved with little-endian float32
// weights. Token-bag payloads are a varint token count and width followed by
// concatenated little-endian float32 token vectors. HDC payloads are a varint
// bit count followed by the packed words.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chirino/memory-service/internal/model"
)

// CurrentVersion is the only format version this codec writes or accepts.
// A version byte different from this is a hard CodecError::VersionMismatch —
// there is no silent upgrade path.
const CurrentVersion byte = 1

// Encode serializes a complete, validated array to a single blob.
func Encode(a *model.TeleologicalArray) ([]byte, error) {
	if err := a.Validate(nil); err != nil {
		return nil, err
	}

	slots := make([]slotBlob, model.NumSpaces)
	for i := 0; i < model.NumSpaces; i++ {
		out := a.Embeddings[i]
		payload, err := encodeSlot(out)
		if err != nil {
			return nil, err
		}
		slots[i] = slotBlob{space: out.Space, kind: model.Attributes[out.Space].Kind, payload: payload}
	}

	buf := make([]byte, 0, 1+model.NumSpaces*12+totalLen(slots))
	buf = append(buf, CurrentVersion)
	for _, s := range slots {
		buf = append(buf, byte(s.space), byte(s.kind))
		buf = appendVarint(buf, uint64(len(s.payload)))
	}
	for _, s := range slots {
		buf = append(buf, s.payload...)
	}
	return buf, nil
}

type slotBlob struct {
	space   model.Space
	kind    model.VectorKind
	payload []byte
}

func totalLen(slots []slotBlob) int {
	n := 0
	for _, s := range slots {
		n += len(s.payload)
	}
	return n
}

func encodeSlot(o model.Output) ([]byte, error) {
	switch model.Attributes[o.Space].Kind {
	case model.KindDense:
		buf := make([]byte, 1+4*len(o.Dense))
		buf[0] = byte(int8(o.CausalTag))
		for i, v := range o.Dense {
			binary.LittleEndian.PutUint32(buf[1+4*i:], math.Float32bits(v))
		}
		return buf, nil
	case model.KindSparseLexical:
		buf := appendVarint(nil, uint64(len(o.Sparse)))
		var prev uint32
		for _, term := range o.Sparse {
			buf = appendVarint(buf, uint64(term.Index-prev))
			prev = term.Index
			wbuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(wbuf, math.Float32bits(term.Weight))
			buf = append(buf, wbuf...)
		}
		return buf, nil
	case model.KindTokenBag:
		width := len(o.Tokens[0])
		buf := appendVarint(nil, uint64(len(o.Tokens)))
		buf = appendVarint(buf, uint64(width))
		for _, tok := range o.Tokens {
			for _, v := range tok {
				wbuf := make([]byte, 4)
				binary.LittleEndian.PutUint32(wbuf, math.Float32bits(v))
				buf = append(buf, wbuf...)
			}
		}
		return buf, nil
	case model.KindBinaryHDC:
		buf := appendVarint(nil, uint64(o.HDCBits))
		for _, w := range o.HDC {
			wbuf := make([]byte, 8)
			binary.LittleEndian.PutUint64(wbuf, w)
			buf = append(buf, wbuf...)
		}
		return buf, nil
	default:
		return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: unknown kind", o.Space)}
	}
}

// Decode deserializes a blob produced by Encode. Any structural
// inconsistency — a wrong version byte, a slot whose manifest tag disagrees
// with its position, or a truncated payload — is a fatal CodecError; the
// array is never partially returned.
func Decode(blob []byte) (*model.TeleologicalArray, error) {
	if len(blob) < 1 {
		return nil, &model.CodecError{Kind: model.CodecVersionMismatch, Detail: "empty blob"}
	}
	if blob[0] != CurrentVersion {
		return nil, &model.CodecError{Kind: model.CodecVersionMismatch, Detail: fmt.Sprintf("got %d, want %d", blob[0], CurrentVersion)}
	}
	off := 1

	type manifestEntry struct {
		space  model.Space
		kind   model.VectorKind
		length uint64
	}
	manifest := make([]manifestEntry, model.NumSpaces)
	for i := 0; i < model.NumSpaces; i++ {
		if off+2 > len(blob) {
			return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: "truncated manifest"}
		}
		space := model.Space(blob[off])
		kind := model.VectorKind(blob[off+1])
		off += 2
		length, n, err := readVarint(blob[off:])
		if err != nil {
			return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: "truncated manifest length: " + err.Error()}
		}
		off += n
		if int(space) != i {
			return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("slot %d carries space tag %s", i, space)}
		}
		if kind != model.Attributes[space].Kind {
			return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("slot %d carries kind %d, want %d", i, kind, model.Attributes[space].Kind)}
		}
		manifest[i] = manifestEntry{space: space, kind: kind, length: length}
	}

	var a model.TeleologicalArray
	for i, m := range manifest {
		if uint64(off)+m.length > uint64(len(blob)) {
			return nil, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("slot %d payload truncated", i)}
		}
		payload := blob[off : off+int(m.length)]
		off += int(m.length)
		out, err := decodeSlot(m.space, m.kind, payload)
		if err != nil {
			return nil, err
		}
		a.Embeddings[i] = out
	}
	return &a, nil
}

func decodeSlot(space model.Space, kind model.VectorKind, payload []byte) (model.Output, error) {
	out := model.Output{Space: space}
	switch kind {
	case model.KindDense:
		if len(payload) < 1 || (len(payload)-1)%4 != 0 {
			return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: malformed dense payload", space)}
		}
		out.CausalTag = model.CausalDirection(int8(payload[0]))
		n := (len(payload) - 1) / 4
		out.Dense = make([]float32, n)
		for i := 0; i < n; i++ {
			out.Dense[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[1+4*i:]))
		}
	case model.KindSparseLexical:
		count, n, err := readVarint(payload)
		if err != nil {
			return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: %s", space, err)}
		}
		off := n
		out.Sparse = make([]model.SparseTerm, 0, count)
		var idx uint32
		for i := uint64(0); i < count; i++ {
			delta, dn, err := readVarint(payload[off:])
			if err != nil {
				return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: %s", space, err)}
			}
			off += dn
			if off+4 > len(payload) {
				return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: truncated sparse weight", space)}
			}
			idx += uint32(delta)
			weight := math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
			out.Sparse = append(out.Sparse, model.SparseTerm{Index: idx, Weight: weight})
		}
	case model.KindTokenBag:
		count, n, err := readVarint(payload)
		if err != nil {
			return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: %s", space, err)}
		}
		off := n
		width, wn, err := readVarint(payload[off:])
		if err != nil {
			return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: %s", space, err)}
		}
		off += wn
		out.Tokens = make([][]float32, count)
		for i := uint64(0); i < count; i++ {
			tok := make([]float32, width)
			for j := uint64(0); j < width; j++ {
				if off+4 > len(payload) {
					return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: truncated token vector", space)}
				}
				tok[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
				off += 4
			}
			out.Tokens[i] = tok
		}
	case model.KindBinaryHDC:
		bits, n, err := readVarint(payload)
		if err != nil {
			return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: %s", space, err)}
		}
		off := n
		words := (len(payload) - off) / 8
		out.HDCBits = int(bits)
		out.HDC = make([]uint64, words)
		for i := 0; i < words; i++ {
			out.HDC[i] = binary.LittleEndian.Uint64(payload[off+8*i:])
		}
	default:
		return out, &model.CodecError{Kind: model.CodecSlotMismatch, Detail: fmt.Sprintf("%s: unknown kind", space)}
	}
	return out, nil
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, fmt.Errorf("malformed varint")
	}
	return v, n, nil
}
