// Package storage implements file-based block persistence with atomic
// operations. The ledger file is a YAML document holding every committed
// block with its quorum signatures; writes go through a temp file rename
// so a crash never leaves a half-written chain.
package storage

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/types"
)

const (
	// DefaultLedgerFile is the default filename for block storage
	DefaultLedgerFile = "ledger.yaml"
	// TempFileSuffix is the suffix for temporary files during atomic operations
	TempFileSuffix = ".tmp"
	// BackupFileSuffix is the suffix for backup files
	BackupFileSuffix = ".backup"
	// FilePermissions defines the file permissions for ledger files
	FilePermissions = 0644
)

// blockRecord is the YAML representation of one committed block.
type blockRecord struct {
	Index      uint32            `yaml:"index"`
	PrevHash   string            `yaml:"prev_hash"`
	Timestamp  uint64            `yaml:"timestamp"`
	Nonce      uint64            `yaml:"nonce"`
	TxHashes   []string          `yaml:"tx_hashes"`
	Signatures map[uint8]string  `yaml:"signatures,omitempty"`
}

// ledgerFile is the YAML document root.
type ledgerFile struct {
	Blocks []blockRecord `yaml:"blocks"`
}

// FileLedger implements LedgerInterface with YAML file-backed storage.
type FileLedger struct {
	mu       sync.RWMutex
	filePath string
	backup   bool
	blocks   []*ledger.CommittedBlock
}

// NewFileLedger opens the ledger file, bootstrapping it with the given
// genesis block when it does not exist. The loaded chain is validated:
// indices must be contiguous and every block must reference its
// predecessor's hash.
func NewFileLedger(filePath string, backup bool, genesis *types.Block) (*FileLedger, error) {
	if filePath == "" {
		filePath = DefaultLedgerFile
	}
	if genesis == nil {
		return nil, ledger.NewLedgerError(ledger.ErrorTypeStorage, "genesis block is required")
	}

	fl := &FileLedger{
		filePath: filePath,
		backup:   backup,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		fl.blocks = []*ledger.CommittedBlock{{Block: genesis}}
		if err := fl.persistUnsafe(); err != nil {
			return nil, err
		}
		return fl, nil
	}

	if err := fl.load(); err != nil {
		return nil, err
	}
	if len(fl.blocks) == 0 {
		fl.blocks = []*ledger.CommittedBlock{{Block: genesis}}
		if err := fl.persistUnsafe(); err != nil {
			return nil, err
		}
	}
	return fl, nil
}

// CurrentHeight returns the height of the latest persisted block.
func (fl *FileLedger) CurrentHeight() (types.BlockIndex, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.blocks[len(fl.blocks)-1].Block.Index, nil
}

// Tip returns the latest persisted block.
func (fl *FileLedger) Tip() (*types.Block, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.blocks[len(fl.blocks)-1].Block, nil
}

// CommitBlock appends a finalized block and persists the chain. A block
// at or below the current tip is a conflict; a gap above it is rejected
// because the chain must stay contiguous.
func (fl *FileLedger) CommitBlock(committed *ledger.CommittedBlock) error {
	if committed == nil || committed.Block == nil {
		return ledger.NewLedgerError(ledger.ErrorTypeStorage, "nil block")
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	tip := fl.blocks[len(fl.blocks)-1].Block
	if committed.Block.Index <= tip.Index {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict,
			fmt.Sprintf("height %d already persisted, tip is %d", committed.Block.Index, tip.Index))
	}
	if committed.Block.Index != tip.Index+1 {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict,
			fmt.Sprintf("height %d does not extend tip %d", committed.Block.Index, tip.Index))
	}
	if committed.Block.PrevHash != tip.Hash() {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict, "previous hash does not match tip")
	}

	fl.blocks = append(fl.blocks, committed)
	if err := fl.persistUnsafe(); err != nil {
		fl.blocks = fl.blocks[:len(fl.blocks)-1]
		return err
	}
	return nil
}

// BlockAt returns the committed block at the given height.
func (fl *FileLedger) BlockAt(height types.BlockIndex) (*ledger.CommittedBlock, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	first := fl.blocks[0].Block.Index
	offset := int(height) - int(first)
	if offset < 0 || offset >= len(fl.blocks) {
		return nil, ledger.NewLedgerError(ledger.ErrorTypeNotFound,
			fmt.Sprintf("no block at height %d", height))
	}
	return fl.blocks[offset], nil
}

// Length returns the number of persisted blocks.
func (fl *FileLedger) Length() int {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return len(fl.blocks)
}

// Close releases the in-memory chain.
func (fl *FileLedger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.blocks = nil
	return nil
}

// load reads and validates the chain from disk. A corrupted file is backed
// up before the error is returned so the operator can inspect it.
func (fl *FileLedger) load() error {
	data, err := os.ReadFile(fl.filePath)
	if err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to read ledger file", err)
	}

	var doc ledgerFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if backupErr := fl.createBackup(); backupErr != nil {
			return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage,
				"failed to parse ledger file and backup failed", err)
		}
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage,
			"failed to parse ledger file (backup created)", err)
	}

	blocks := make([]*ledger.CommittedBlock, 0, len(doc.Blocks))
	for i, record := range doc.Blocks {
		committed, err := recordToBlock(&record)
		if err != nil {
			return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage,
				fmt.Sprintf("invalid block record %d", i), err)
		}
		if i > 0 {
			prev := blocks[i-1].Block
			if committed.Block.Index != prev.Index+1 {
				return ledger.NewLedgerError(ledger.ErrorTypeStorage,
					fmt.Sprintf("chain gap between heights %d and %d", prev.Index, committed.Block.Index))
			}
			if committed.Block.PrevHash != prev.Hash() {
				return ledger.NewLedgerError(ledger.ErrorTypeStorage,
					fmt.Sprintf("hash chain broken at height %d", committed.Block.Index))
			}
		}
		blocks = append(blocks, committed)
	}

	fl.blocks = blocks
	return nil
}

// persistUnsafe writes the chain atomically. Callers hold the lock.
func (fl *FileLedger) persistUnsafe() error {
	doc := ledgerFile{Blocks: make([]blockRecord, 0, len(fl.blocks))}
	for _, committed := range fl.blocks {
		doc.Blocks = append(doc.Blocks, blockToRecord(committed))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to marshal ledger", err)
	}

	if fl.backup {
		if err := fl.createBackup(); err != nil {
			return err
		}
	}
	if err := fl.writeFileAtomic(data); err != nil {
		return err
	}
	return nil
}

// writeFileAtomic writes data to file atomically using temp file + rename
func (fl *FileLedger) writeFileAtomic(data []byte) error {
	dir := filepath.Dir(fl.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to create directory", err)
	}

	tempFile := fl.filePath + TempFileSuffix
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to create temp file", err)
	}

	// Ensure temp file is cleaned up on error
	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to write temp file", err)
	}
	if err := file.Sync(); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to sync temp file", err)
	}
	if err := file.Close(); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to close temp file", err)
	}
	file = nil // Mark as closed

	if err := os.Rename(tempFile, fl.filePath); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to rename temp file", err)
	}
	return nil
}

// createBackup copies the current ledger file next to itself.
func (fl *FileLedger) createBackup() error {
	if _, err := os.Stat(fl.filePath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	source, err := os.Open(fl.filePath)
	if err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to open ledger for backup", err)
	}
	defer source.Close()

	dest, err := os.Create(fl.filePath + BackupFileSuffix)
	if err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to create backup file", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return ledger.NewLedgerErrorWithCause(ledger.ErrorTypeStorage, "failed to copy backup", err)
	}
	return dest.Sync()
}

func blockToRecord(committed *ledger.CommittedBlock) blockRecord {
	block := committed.Block
	record := blockRecord{
		Index:     uint32(block.Index),
		PrevHash:  hex.EncodeToString(block.PrevHash[:]),
		Timestamp: block.Timestamp,
		Nonce:     block.Nonce,
	}
	for _, tx := range block.TxHashes {
		record.TxHashes = append(record.TxHashes, hex.EncodeToString(tx[:]))
	}
	if len(committed.Signatures) > 0 {
		record.Signatures = make(map[uint8]string, len(committed.Signatures))
		for idx, sig := range committed.Signatures {
			record.Signatures[uint8(idx)] = hex.EncodeToString(sig)
		}
	}
	return record
}

func recordToBlock(record *blockRecord) (*ledger.CommittedBlock, error) {
	prevHash, err := decodeHash(record.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("prev_hash: %w", err)
	}

	txHashes := make([]types.TxHash, 0, len(record.TxHashes))
	for i, txHex := range record.TxHashes {
		h, err := decodeHash(txHex)
		if err != nil {
			return nil, fmt.Errorf("tx_hashes[%d]: %w", i, err)
		}
		txHashes = append(txHashes, types.TxHash(h))
	}

	block := types.NewBlock(types.BlockIndex(record.Index), types.BlockHash(prevHash),
		record.Timestamp, record.Nonce, txHashes)

	committed := &ledger.CommittedBlock{Block: block}
	if len(record.Signatures) > 0 {
		committed.Signatures = make(map[types.ValidatorIndex][]byte, len(record.Signatures))
		for idx, sigHex := range record.Signatures {
			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				return nil, fmt.Errorf("signature for validator %d: %w", idx, err)
			}
			committed.Signatures[types.ValidatorIndex(idx)] = sig
		}
	}
	return committed, nil
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
