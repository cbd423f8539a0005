// Package runestone encodes and decodes the OP_RETURN payload that carries
// rune transfer instructions on a Bitcoin transaction output.
package runestone

import "fmt"

const (
	opReturn = 0x6a
	op13     = 0x5d
	edictTag = 0
)

// RuneId identifies a rune by the block height and transaction index of its
// etching.
type RuneId struct {
	Block uint64
	Tx    uint32
}

// Edict transfers amount of a rune to the given transaction output index.
type Edict struct {
	Id     RuneId
	Amount uint64
	Output uint32
}

// Runestone is the decoded form of an OP_RETURN rune-transfer script.
type Runestone struct {
	Edicts []Edict
}

// putUvarint appends the unsigned LEB128 encoding of v to buf: 7 bits per
// byte, continuation bit 0x80 set on every byte but the last.
func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// takeUvarint reads one LEB128 varint from buf, returning the value and the
// number of bytes consumed. ok is false on truncated input.
func takeUvarint(buf []byte) (v uint64, n int, ok bool) {
	var shift uint
	for n < len(buf) {
		b := buf[n]
		n++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n, true
		}
		shift += 7
		if shift >= 64 {
			return 0, n, false
		}
	}
	return 0, n, false
}

// Encode serializes the edicts into the framed OP_RETURN script:
// OP_RETURN || OP_13 || len-byte || payload. tx is delta-encoded from the
// previous edict's tx, never reset at block boundaries — this mirrors the
// reference mint's own encoder and must be preserved byte-for-byte for
// compatibility with the chain's decoder.
func Encode(edicts []Edict) ([]byte, error) {
	if len(edicts) == 0 {
		return []byte{opReturn, op13, 0x00}, nil
	}

	payload := putUvarint(nil, edictTag)

	var prevBlock uint64
	var prevTx uint64
	for _, e := range edicts {
		if e.Id.Block < prevBlock || (e.Id.Block == prevBlock && uint64(e.Id.Tx) < prevTx) {
			return nil, fmt.Errorf("runestone: edicts must be sorted by (block, tx)")
		}
		payload = putUvarint(payload, e.Id.Block-prevBlock)
		payload = putUvarint(payload, uint64(e.Id.Tx)-prevTx)
		payload = putUvarint(payload, e.Amount)
		payload = putUvarint(payload, uint64(e.Output))
		prevBlock = e.Id.Block
		prevTx = uint64(e.Id.Tx)
	}

	if len(payload) > 0xff {
		return nil, fmt.Errorf("runestone: payload too large (%d bytes)", len(payload))
	}

	script := make([]byte, 0, 3+len(payload))
	script = append(script, opReturn, op13, byte(len(payload)))
	script = append(script, payload...)
	return script, nil
}

// ParseRuneId parses the "block:tx" asset-id form used throughout the mint's
// configuration and storage layer into a RuneId.
func ParseRuneId(assetId string) (RuneId, error) {
	i := 0
	for i < len(assetId) && assetId[i] != ':' {
		i++
	}
	if i == 0 || i == len(assetId) {
		return RuneId{}, fmt.Errorf("runestone: malformed asset id %q", assetId)
	}

	block, err := parseUint64(assetId[:i])
	if err != nil {
		return RuneId{}, fmt.Errorf("runestone: malformed asset id %q: %w", assetId, err)
	}
	tx, err := parseUint64(assetId[i+1:])
	if err != nil {
		return RuneId{}, fmt.Errorf("runestone: malformed asset id %q: %w", assetId, err)
	}

	return RuneId{Block: block, Tx: uint32(tx)}, nil
}

func parseUint64(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty")
	}
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit %q", c)
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

// Decode parses a runestone OP_RETURN script. It never errors on malformed
// or truncated input — callers get nil (not a runestone) or an empty-edicts
// Runestone instead, matching the reference mint's decoder.
func Decode(script []byte) (*Runestone, error) {
	if len(script) < 2 || script[0] != opReturn || script[1] != op13 {
		return nil, nil
	}
	if len(script) < 3 {
		return &Runestone{}, nil
	}

	length := int(script[2])
	payload := script[3:]
	if length > len(payload) {
		length = len(payload)
	}
	payload = payload[:length]

	tag, n, ok := takeUvarint(payload)
	if !ok {
		return &Runestone{}, nil
	}
	if tag != edictTag {
		return &Runestone{}, nil
	}
	payload = payload[n:]

	var edicts []Edict
	var block, tx uint64
	for len(payload) > 0 {
		dBlock, n1, ok1 := takeUvarint(payload)
		if !ok1 {
			break
		}
		payload = payload[n1:]

		dTx, n2, ok2 := takeUvarint(payload)
		if !ok2 {
			break
		}
		payload = payload[n2:]

		amount, n3, ok3 := takeUvarint(payload)
		if !ok3 {
			break
		}
		payload = payload[n3:]

		output, n4, ok4 := takeUvarint(payload)
		if !ok4 {
			break
		}
		payload = payload[n4:]

		block += dBlock
		tx += dTx
		edicts = append(edicts, Edict{
			Id:     RuneId{Block: block, Tx: uint32(tx)},
			Amount: amount,
			Output: uint32(output),
		})
	}

	return &Runestone{Edicts: edicts}, nil
}
