package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type blockRow struct {
	BlockNumber int64  `gorm:"primaryKey;autoIncrement:false"`
	ID          string `gorm:"uniqueIndex;not null"`
	BlockType   string `gorm:"not null"`
	Data        string `gorm:"not null"`
	DataHash    string `gorm:"not null"`
	PrevHash    string `gorm:"not null"`
	Hash        string `gorm:"uniqueIndex;not null"`
	Status      string `gorm:"not null"`
	Description string
	CreatedAt   time.Time
}

func (blockRow) TableName() string { return "audit_blocks" }

func (r blockRow) toBlock() Block {
	return Block{
		ID:          r.ID,
		Number:      r.BlockNumber,
		Type:        BlockType(r.BlockType),
		Data:        []byte(r.Data),
		DataHash:    r.DataHash,
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
		Status:      r.Status,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// SQLiteStore is the embedded ledger store used for local development.
type SQLiteStore struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewSQLiteStore migrates the blocks table and returns a store.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("audit sqlite: nil db")
	}
	if err := db.AutoMigrate(&blockRow{}); err != nil {
		return nil, errors.Wrap(err, "audit sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

// Append reads the tip and inserts the next block in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, build func(tip *Block) (Block, error)) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appended Block
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tips []blockRow
		if err := tx.Order("block_number desc").Limit(1).Find(&tips).Error; err != nil {
			return errors.Wrap(err, "read tip")
		}
		var tip *Block
		if len(tips) == 1 {
			current := tips[0].toBlock()
			tip = &current
		}
		block, err := build(tip)
		if err != nil {
			return err
		}
		row := blockRow{
			BlockNumber: block.Number,
			ID:          block.ID,
			BlockType:   string(block.Type),
			Data:        string(block.Data),
			DataHash:    block.DataHash,
			PrevHash:    block.PrevHash,
			Hash:        block.Hash,
			Status:      block.Status,
			Description: block.Description,
			CreatedAt:   block.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "insert")
		}
		appended = block
		return nil
	})
	if err != nil {
		return Block{}, errors.Wrap(err, "audit sqlite: append")
	}
	return appended, nil
}

// Recent returns up to limit blocks, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Block, error) {
	var rows []blockRow
	if err := s.db.WithContext(ctx).Order("block_number desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "audit sqlite: recent")
	}
	return toBlocks(rows), nil
}

// Chain returns every block in ascending order.
func (s *SQLiteStore) Chain(ctx context.Context) ([]Block, error) {
	var rows []blockRow
	if err := s.db.WithContext(ctx).Order("block_number asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "audit sqlite: chain")
	}
	return toBlocks(rows), nil
}

func toBlocks(rows []blockRow) []Block {
	out := make([]Block, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toBlock())
	}
	return out
}
