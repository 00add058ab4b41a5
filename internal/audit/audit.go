package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BlockType classifies a ledger entry.
type BlockType string

const (
	BlockSensorReading    BlockType = "sensor_reading"
	BlockComplianceReport BlockType = "compliance_report"
	BlockAlert            BlockType = "alert"
	BlockActionTaken      BlockType = "action_taken"
)

// StatusConfirmed is the only status a persisted block can have.
const StatusConfirmed = "confirmed"

// GenesisHash is the previous hash of block 1.
var GenesisHash = strings.Repeat("0", 64)

// Block is one link of the audit hash chain.
type Block struct {
	ID          string          `json:"id"`
	Number      int64           `json:"blockNumber"`
	Type        BlockType       `json:"type"`
	Data        json.RawMessage `json:"data"`
	DataHash    string          `json:"dataHash"`
	PrevHash    string          `json:"prevHash"`
	Hash        string          `json:"hash"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"timestamp"`
}

// DigestJSON computes a SHA256 hex digest for block payloads.
func DigestJSON(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeHash links a block to its predecessor.
func ComputeHash(number int64, blockType BlockType, dataHash, prevHash string, createdAt time.Time) string {
	material := fmt.Sprintf("%d|%s|%s|%s|%s", number, blockType, dataHash, prevHash, createdAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// NextBlock builds the block following tip, which is nil for an empty chain.
// createdAt is truncated to microseconds so it survives a database round trip.
func NextBlock(tip *Block, id string, blockType BlockType, description string, data []byte, createdAt time.Time) Block {
	number := int64(1)
	prevHash := GenesisHash
	if tip != nil {
		number = tip.Number + 1
		prevHash = tip.Hash
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	dataHash := DigestJSON(data)
	return Block{
		ID:          id,
		Number:      number,
		Type:        blockType,
		Data:        json.RawMessage(data),
		DataHash:    dataHash,
		PrevHash:    prevHash,
		Hash:        ComputeHash(number, blockType, dataHash, prevHash, createdAt),
		Status:      StatusConfirmed,
		Description: description,
		CreatedAt:   createdAt,
	}
}

// VerifyResult reports the state of the chain.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Blocks   int    `json:"blocks"`
	BrokenAt *int64 `json:"brokenAt,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyChain checks blocks in ascending order and stops at the first bad link.
func VerifyChain(blocks []Block) VerifyResult {
	result := VerifyResult{Valid: true, Blocks: len(blocks)}
	prevHash := GenesisHash
	expected := int64(1)
	for _, block := range blocks {
		reason := ""
		switch {
		case block.Number != expected:
			reason = fmt.Sprintf("expected block %d", expected)
		case block.PrevHash != prevHash:
			reason = "previous hash mismatch"
		case DigestJSON(block.Data) != block.DataHash:
			reason = "data hash mismatch"
		case ComputeHash(block.Number, block.Type, block.DataHash, block.PrevHash, block.CreatedAt) != block.Hash:
			reason = "block hash mismatch"
		}
		if reason != "" {
			number := block.Number
			result.Valid = false
			result.BrokenAt = &number
			result.Reason = reason
			return result
		}
		prevHash = block.Hash
		expected++
	}
	return result
}
