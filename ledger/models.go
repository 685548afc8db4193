package ledger

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Authorization record statuses. A record starts in the requesting state and
// moves exactly once into one of the three terminal states.
const (
	StatusRequesting   = "requesting_admin_authorization"
	StatusAuthorized   = "request_authorized_by_admin"
	StatusUnauthorized = "request_unauthorized_by_admin"
	StatusExpired      = "request_expired"
)

// Reward readiness values checked by the verification predicate.
const (
	RewardStatusReady    = "ready_for_claim"
	RewardPaymentPending = "pending"
)

// AuthorizationRecord is one row per issued nonce. The nonce doubles as the
// primary key; it is supplied by the caller, never generated by the database.
type AuthorizationRecord struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement:false"`
	WalletAddress        string `gorm:"size:64;index"`
	Action               string `gorm:"size:40"`
	Status               string `gorm:"size:48;index"`
	ExpectedHash         string `gorm:"size:64"`
	LinkedRewardIDs      string `gorm:"size:2048"`
	MinerID              string `gorm:"size:128"`
	ClaimerType          uint8
	LastValidBlockHeight uint64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Reward is an off-chain reward-epoch row. A reward is claimable while it is
// ready for claim and its payment is still pending.
type Reward struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	WalletAddress string `gorm:"size:64;index"`
	MinerID       string `gorm:"size:128"`
	Amount        uint64
	Status        string `gorm:"size:32"`
	PaymentStatus string `gorm:"size:32"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AutoMigrate creates or updates the ledger schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuthorizationRecord{}, &Reward{})
}

// EncodeRewardIDs serializes reward ids for storage.
func EncodeRewardIDs(ids []uint64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

// DecodeRewardIDs parses a stored reward id list.
func DecodeRewardIDs(s string) []uint64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
