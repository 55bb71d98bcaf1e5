package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
)

// Block is a candidate block as seen by consensus: the header fields agreed
// on by the committee plus the ordered transaction hash list. Transaction
// bodies live in the mempool and ledger collaborators.
type Block struct {
	// Index is the height of this block.
	Index BlockIndex
	// PrevHash is the hash of the previous block.
	PrevHash BlockHash
	// Timestamp is the proposal time in milliseconds since the Unix epoch.
	Timestamp uint64
	// Nonce is the proposer-chosen random value for this block.
	Nonce uint64
	// TxHashes is the ordered list of transaction hashes included in the block.
	TxHashes []TxHash
}

// NewBlock creates a block with the given header fields and transactions.
func NewBlock(index BlockIndex, prevHash BlockHash, timestamp, nonce uint64, txHashes []TxHash) *Block {
	return &Block{
		Index:     index,
		PrevHash:  prevHash,
		Timestamp: timestamp,
		Nonce:     nonce,
		TxHashes:  txHashes,
	}
}

// Hash returns the SHA-256 hash of the serialized block. The serialization
// is deterministic, so the hash is stable across round trips.
func (b *Block) Hash() BlockHash {
	return BlockHash(sha256.Sum256(b.Serialize()))
}

// Serialize encodes the block into its fixed little-endian binary layout:
// prev_hash(32) || index(u32) || timestamp(u64) || nonce(u64) ||
// varint tx_count || tx_hash(32) x count.
func (b *Block) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 52+len(b.TxHashes)*32+binary.MaxVarintLen64))
	buf.Write(b.PrevHash[:])
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(b.Index))
	buf.Write(u32[:])
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], b.Timestamp)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], b.Nonce)
	buf.Write(u64[:])
	var varint [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varint[:], uint64(len(b.TxHashes)))
	buf.Write(varint[:n])
	for _, h := range b.TxHashes {
		buf.Write(h[:])
	}
	return buf.Bytes()
}

// DeserializeBlock decodes a block from its binary layout. Truncated or
// malformed input yields an InvalidMessage error, never a panic.
func DeserializeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	b := &Block{}
	if _, err := io.ReadFull(r, b.PrevHash[:]); err != nil {
		return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block prev hash", err)
	}
	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block index", err)
	}
	b.Index = BlockIndex(binary.LittleEndian.Uint32(u32[:]))
	var u64 [8]byte
	if _, err := io.ReadFull(r, u64[:]); err != nil {
		return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block timestamp", err)
	}
	b.Timestamp = binary.LittleEndian.Uint64(u64[:])
	if _, err := io.ReadFull(r, u64[:]); err != nil {
		return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block nonce", err)
	}
	b.Nonce = binary.LittleEndian.Uint64(u64[:])
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block tx count", err)
	}
	if count > uint64(r.Len())/32 {
		return nil, NewConsensusErrorf(ErrorTypeInvalidMessage,
			"block tx count %d exceeds remaining data", count)
	}
	b.TxHashes = make([]TxHash, count)
	for i := range b.TxHashes {
		if _, err := io.ReadFull(r, b.TxHashes[i][:]); err != nil {
			return nil, NewConsensusErrorWithCause(ErrorTypeInvalidMessage, "truncated block tx hash", err)
		}
	}
	return b, nil
}
