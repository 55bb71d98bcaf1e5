package messages

import (
	"bytes"
	"encoding/binary"
	"io"

	"dbft-federation/pkg/consensus/types"
)

// Low-level wire primitives shared by all message codecs. All integers are
// little-endian; variable-length counts use unsigned varints.

func putU8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func readU8(r *bytes.Reader, field string) (uint8, error) {
	v, err := r.ReadByte()
	if err != nil {
		return 0, truncated(field, err)
	}
	return v, nil
}

func readU32(r *bytes.Reader, field string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, truncated(field, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader, field string) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, truncated(field, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readUvarint(r *bytes.Reader, field string) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, truncated(field, err)
	}
	return v, nil
}

func readHash32(r *bytes.Reader, field string) ([32]byte, error) {
	var h [32]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, truncated(field, err)
	}
	return h, nil
}

// readVarBytes reads a varint-prefixed byte slice, refusing counts that
// exceed the remaining input so adversarial lengths cannot force huge
// allocations.
func readVarBytes(r *bytes.Reader, field string) ([]byte, error) {
	n, err := readUvarint(r, field)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"%s length %d exceeds remaining data", field, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, truncated(field, err)
	}
	return b, nil
}

func truncated(field string, cause error) error {
	return types.NewConsensusErrorWithCause(types.ErrorTypeInvalidMessage,
		"truncated "+field, cause)
}
