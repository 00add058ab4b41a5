package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"greenthread/internal/observability/metrics"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// Store persists the chain. Append must serialise writers so that build
// always sees the current tip.
type Store interface {
	Append(ctx context.Context, build func(tip *Block) (Block, error)) (Block, error)
	Recent(ctx context.Context, limit int) ([]Block, error)
	Chain(ctx context.Context) ([]Block, error)
}

// Ledger appends typed blocks and verifies the chain.
type Ledger struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger constructs a ledger.
func NewLedger(store Store, logger *log.Logger, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("audit ledger: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	l := &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append records payload as a new block.
func (l *Ledger) Append(ctx context.Context, blockType BlockType, description string, payload any) (Block, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Block{}, errors.Wrap(err, "audit ledger: encode payload")
	}
	block, err := l.store.Append(ctx, func(tip *Block) (Block, error) {
		return NextBlock(tip, l.newID(), blockType, description, data, l.now()), nil
	})
	if err != nil {
		return Block{}, errors.Wrapf(err, "audit ledger: append %s", blockType)
	}
	metrics.IncAuditBlock(string(blockType))
	return block, nil
}

// Recent returns the newest blocks first. limit is clamped to 1..100, 0 means 20.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Block, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	blocks, err := l.store.Recent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "audit ledger: recent")
	}
	return blocks, nil
}

// Verify walks the whole chain.
func (l *Ledger) Verify(ctx context.Context) (VerifyResult, error) {
	blocks, err := l.store.Chain(ctx)
	if err != nil {
		return VerifyResult{}, errors.Wrap(err, "audit ledger: load chain")
	}
	result := VerifyChain(blocks)
	if !result.Valid {
		l.logger.Printf("audit ledger: chain broken at block %d: %s", *result.BrokenAt, result.Reason)
	}
	return result, nil
}
