package audit

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// appendLockKey serialises ledger writers across processes.
const appendLockKey int64 = 0x67746c6564676572

// Repository is the Postgres ledger store.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Append reads the tip and inserts the next block under a transaction-scoped
// advisory lock.
func (r *Repository) Append(ctx context.Context, build func(tip *Block) (Block, error)) (Block, error) {
	if r == nil || r.db == nil {
		return Block{}, errors.New("audit repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Block{}, errors.Wrap(err, "audit repo: begin")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return Block{}, errors.Wrap(err, "audit repo: lock")
	}

	tip, err := scanBlock(tx.QueryRowContext(ctx, selectBlocks+`
ORDER BY block_number DESC
LIMIT 1`))
	var tipPtr *Block
	switch {
	case err == nil:
		tipPtr = &tip
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Block{}, errors.Wrap(err, "audit repo: read tip")
	}

	block, err := build(tipPtr)
	if err != nil {
		return Block{}, err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_blocks (
	block_number, id, block_type, data, data_hash, prev_hash, hash, status, description, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, block.Number, block.ID, string(block.Type), string(block.Data), block.DataHash, block.PrevHash,
		block.Hash, block.Status, block.Description, block.CreatedAt)
	if err != nil {
		return Block{}, errors.Wrap(err, "audit repo: insert")
	}
	if err := tx.Commit(); err != nil {
		return Block{}, errors.Wrap(err, "audit repo: commit")
	}
	return block, nil
}

// Recent returns up to limit blocks, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Block, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectBlocks+`
ORDER BY block_number DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "audit repo: recent")
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// Chain returns every block in ascending order.
func (r *Repository) Chain(ctx context.Context) ([]Block, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectBlocks+`
ORDER BY block_number ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "audit repo: chain")
	}
	defer rows.Close()
	return scanBlocks(rows)
}

const selectBlocks = `
SELECT block_number, id, block_type, data, data_hash, prev_hash, hash, status, description, created_at
FROM audit_blocks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (Block, error) {
	var block Block
	var blockType, data string
	if err := row.Scan(
		&block.Number,
		&block.ID,
		&blockType,
		&data,
		&block.DataHash,
		&block.PrevHash,
		&block.Hash,
		&block.Status,
		&block.Description,
		&block.CreatedAt,
	); err != nil {
		return Block{}, err
	}
	block.Type = BlockType(blockType)
	block.Data = []byte(data)
	block.CreatedAt = block.CreatedAt.UTC()
	return block, nil
}

func scanBlocks(rows *sql.Rows) ([]Block, error) {
	var result []Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, errors.Wrap(err, "audit repo: scan")
		}
		result = append(result, block)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "audit repo: rows")
	}
	return result, nil
}
