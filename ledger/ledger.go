// Package ledger persists the authorization state machine: one record per
// issued nonce, with atomic conditional status transitions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Sentinel errors. Callers map these onto their wire-level error codes.
var (
	ErrDuplicateNonce  = errors.New("nonce already exists")
	ErrNotFound        = errors.New("authorization record not found")
	ErrConsumed        = errors.New("authorization record already finalized")
	ErrExpired         = errors.New("authorization record expired")
	ErrRewardsMismatch = errors.New("presented rewards are not covered by the authorization")
	ErrRewardsNotReady = errors.New("referenced rewards are not claimable")
	ErrMinerMismatch   = errors.New("miner id does not match the authorization")
)

// Ledger owns the authorization records. Operations are safe under concurrent
// invocation for different nonces; transitions for one nonce are linearized
// by the database's conditional update.
type Ledger struct {
	db     *gorm.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func New(db *gorm.DB, ttl time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, ttl: ttl, now: time.Now, logger: logger}
}

// CreateParams describes a new authorization record.
type CreateParams struct {
	Nonce                int64
	WalletAddress        string
	Action               string
	ExpectedHash         string
	LinkedRewardIDs      []uint64
	MinerID              string
	ClaimerType          uint8
	LastValidBlockHeight uint64
}

// Create inserts the record in the requesting state. A nonce collision fails
// closed with ErrDuplicateNonce; the row is never overwritten and no retry is
// attempted here.
func (l *Ledger) Create(ctx context.Context, p CreateParams) error {
	record := AuthorizationRecord{
		ID:                   p.Nonce,
		WalletAddress:        p.WalletAddress,
		Action:               p.Action,
		Status:               StatusRequesting,
		ExpectedHash:         p.ExpectedHash,
		LinkedRewardIDs:      EncodeRewardIDs(p.LinkedRewardIDs),
		MinerID:              p.MinerID,
		ClaimerType:          p.ClaimerType,
		LastValidBlockHeight: p.LastValidBlockHeight,
		CreatedAt:            l.now(),
		UpdatedAt:            l.now(),
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("nonce %d: %w", p.Nonce, ErrDuplicateNonce)
		}
		return fmt.Errorf("insert authorization record: %w", err)
	}
	return nil
}

// Get returns the record for nonce.
func (l *Ledger) Get(ctx context.Context, nonce int64) (*AuthorizationRecord, error) {
	var record AuthorizationRecord
	err := l.db.WithContext(ctx).First(&record, "id = ?", nonce).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("nonce %d: %w", nonce, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load authorization record: %w", err)
	}
	return &record, nil
}

// Verify checks that the record for nonce is still in the requesting state,
// not expired, covers the presented reward ids and miner id, and that every
// referenced reward row is still claimable. Expiry observed here transitions
// the record to its terminal expired state.
func (l *Ledger) Verify(ctx context.Context, nonce int64, rewardIDs []uint64, minerID string, claimerType uint8) (*AuthorizationRecord, error) {
	record, err := l.Get(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusRequesting {
		return nil, fmt.Errorf("nonce %d in state %s: %w", nonce, record.Status, ErrConsumed)
	}
	if l.now().Sub(record.CreatedAt) > l.ttl {
		if terr := l.Transition(ctx, nonce, StatusExpired); terr != nil {
			l.logger.Warn("failed to expire authorization record", "nonce", nonce, "err", terr)
		}
		return nil, fmt.Errorf("nonce %d issued at %s: %w", nonce, record.CreatedAt.Format(time.RFC3339), ErrExpired)
	}

	linked := make(map[uint64]bool)
	for _, id := range DecodeRewardIDs(record.LinkedRewardIDs) {
		linked[id] = true
	}
	for _, id := range rewardIDs {
		if !linked[id] {
			return nil, fmt.Errorf("reward %d: %w", id, ErrRewardsMismatch)
		}
	}
	if record.MinerID != "" && minerID != record.MinerID {
		return nil, fmt.Errorf("miner %q: %w", minerID, ErrMinerMismatch)
	}
	if record.ClaimerType != claimerType {
		return nil, fmt.Errorf("claimer type %d: %w", claimerType, ErrRewardsMismatch)
	}

	if len(rewardIDs) > 0 {
		ready, err := l.countClaimable(ctx, record.WalletAddress, rewardIDs)
		if err != nil {
			return nil, err
		}
		if ready != int64(len(rewardIDs)) {
			return nil, fmt.Errorf("%d of %d rewards claimable: %w", ready, len(rewardIDs), ErrRewardsNotReady)
		}
	}
	return record, nil
}

// Transition atomically moves the record from the requesting state to
// newStatus. Re-applying a transition the record already took is a no-op;
// moving a record out of a different terminal state is refused.
func (l *Ledger) Transition(ctx context.Context, nonce int64, newStatus string) error {
	res := l.db.WithContext(ctx).
		Model(&AuthorizationRecord{}).
		Where("id = ? AND status = ?", nonce, StatusRequesting).
		Updates(map[string]any{"status": newStatus, "updated_at": l.now()})
	if res.Error != nil {
		return fmt.Errorf("transition nonce %d: %w", nonce, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	record, err := l.Get(ctx, nonce)
	if err != nil {
		return err
	}
	if record.Status == newStatus {
		return nil
	}
	return fmt.Errorf("nonce %d already in state %s: %w", nonce, record.Status, ErrConsumed)
}

// ListByWallet returns the wallet's most recent authorization records.
func (l *Ledger) ListByWallet(ctx context.Context, wallet string, limit int) ([]AuthorizationRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var records []AuthorizationRecord
	err := l.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list authorization records: %w", err)
	}
	return records, nil
}

func (l *Ledger) countClaimable(ctx context.Context, wallet string, rewardIDs []uint64) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&Reward{}).
		Where("id IN ? AND wallet_address = ? AND status = ? AND payment_status = ?",
			rewardIDs, wallet, RewardStatusReady, RewardPaymentPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("check reward readiness: %w", err)
	}
	return n, nil
}

// SetNow overrides the clock. Test hook.
func (l *Ledger) SetNow(now func() time.Time) { l.now = now }
