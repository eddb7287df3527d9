package db

import (
	"time"
)

// User table. Only identity and admission status matter to this core;
// profile data lives with the discovery service.
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"uniqueIndex;size:64;not null"`
	Email        string    `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string    `gorm:"size:255;not null"`
	Approved     bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Match is an unordered user pair stored in canonical order
// (UserAID < UserBID) so pair lookups hit a single unique index.
//
// Created once by the discovery collaborator; immutable afterwards except
// for the per-side seen markers and deletion.
type Match struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserAID   uint64 `gorm:"not null;uniqueIndex:idx_match_pair,priority:1"`
	UserBID   uint64 `gorm:"not null;uniqueIndex:idx_match_pair,priority:2;index"`
	SeenAtA   *time.Time
	SeenAtB   *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// HasParticipant reports whether userID is one of the two matched users.
func (m *Match) HasParticipant(userID uint64) bool {
	return m.UserAID == userID || m.UserBID == userID
}

// OtherParticipant returns the participant that is not userID.
// Callers must check HasParticipant first.
func (m *Match) OtherParticipant(userID uint64) uint64 {
	if m.UserAID == userID {
		return m.UserBID
	}
	return m.UserAID
}

// CanonicalPair orders two user ids the way Match stores them.
func CanonicalPair(a, b uint64) (uint64, uint64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Conversation terminal states.
const (
	TerminalArchived = "ARCHIVED"
	TerminalClosed   = "CLOSED"
)

// Conversation holds the commitment-gate state for one match.
//
// Invariant: ActiveAt and TerminalState are never both set. Terminal
// writes clear ActiveAt, and activation is conditional on the row not
// being terminal.
//
// Fields:
//   - ActiveAt: set when the conversation is committed/unlocked.
//   - TerminalState: ARCHIVED or CLOSED; TerminalReason carries the
//     unmatch/expiry reason code.
//   - DecisionExpiresAt: receiver's decision-window deadline; armed when
//     the sender first opens the pre-chat conversation.
//   - SenderUserID: which participant opened first (pre-chat "sender"
//     role); the other participant is the receiver.
//   - LegacyUnlocked / DepositCents: legacy commitment signals folded
//     into Committed alongside ActiveAt.
type Conversation struct {
	MatchID           uint64 `gorm:"primaryKey"`
	ActiveAt          *time.Time
	TerminalState     *string `gorm:"size:32"`
	TerminalReason    string  `gorm:"size:64"`
	DecisionExpiresAt *time.Time
	SenderUserID      *uint64
	LegacyUnlocked    bool      `gorm:"not null;default:false"`
	DepositCents      int64     `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// Committed reports whether the conversation counts as committed. Three
// signals are live: an explicit activation, the legacy unlocked flag, and
// a deposit at or above the configured threshold. A threshold of zero
// disables the deposit signal.
func (c *Conversation) Committed(depositThreshold int64) bool {
	if c.ActiveAt != nil || c.LegacyUnlocked {
		return true
	}
	return depositThreshold > 0 && c.DepositCents >= depositThreshold
}

// Terminal reports whether the conversation reached ARCHIVED/CLOSED.
func (c *Conversation) Terminal() bool {
	return c.TerminalState != nil
}

// Wallet is the materialized balance per user, maintained strictly as a
// fold over that user's ledger entries. Created lazily on first credit.
type Wallet struct {
	UserID       uint64    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Ledger actions.
const (
	LedgerPurchase   = "PURCHASE"
	LedgerAdminGrant = "ADMIN_GRANT"
	LedgerDevGrant   = "DEV_GRANT"
	LedgerSpend      = "SPEND"
	LedgerReward     = "REWARD"
)

// LedgerEntry is append-only; rows are never updated or deleted. The
// provider/client transaction ids are the idempotency keys for
// externally-sourced PURCHASE rows (the same purchase can be reported
// through two ingestion paths).
type LedgerEntry struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement"`
	UserID                uint64    `gorm:"not null;index:idx_ledger_user_created,priority:1"`
	MatchID               *uint64   `gorm:"index"`
	Action                string    `gorm:"size:16;not null"`
	AmountCents           int64     `gorm:"not null"`
	ProviderEventID       *string   `gorm:"size:128;index"`
	ProviderTransactionID *string   `gorm:"size:128;index"`
	ClientTransactionID   *string   `gorm:"size:128;index"`
	Note                  string    `gorm:"size:255"`
	CreatedAt             time.Time `gorm:"autoCreateTime;index:idx_ledger_user_created,priority:2,sort:desc"`
}

// Date plan stored statuses. "ready" is a view-time derivation of
// "locked" and is never persisted.
const (
	DateStatusNone     = "none"
	DateStatusProposed = "proposed"
	DateStatusLocked   = "locked"
	DateStatusUnlocked = "unlocked"
	DateStatusExpired  = "expired"
)

// DatePlan is one row per match; DateStatus is the state-machine cursor.
// Cycle increments whenever a proposal starts a fresh date cycle, which
// scopes the one-shot expiry/decline events to the cycle they belong to.
type DatePlan struct {
	MatchID          uint64 `gorm:"primaryKey"`
	DateStatus       string `gorm:"size:16;not null;default:none"`
	Cycle            int    `gorm:"not null;default:0"`
	DateStart        *time.Time
	DateEnd          *time.Time
	ProposedByUserID *uint64
	ActivityLabel    string    `gorm:"size:128"`
	PlaceLabel       string    `gorm:"size:128"`
	PlaceID          string    `gorm:"size:128"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// Drink perk states.
const (
	PerkLocked   = "LOCKED"
	PerkArmed    = "ARMED"
	PerkReady    = "READY"
	PerkRedeemed = "REDEEMED"
)

// DrinkPerk tracks the one-time co-location reward per match.
// TogetherSince is the start of the current continuous-proximity streak;
// it resets to null whenever a ping places the pair apart.
type DrinkPerk struct {
	MatchID       uint64 `gorm:"primaryKey"`
	State         string `gorm:"size:16;not null;default:LOCKED"`
	TogetherSince *time.Time
	ReadyAt       *time.Time
	RedeemedAt    *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// HandshakeSession is the ephemeral two-party confirmation. At most one
// open (not completed, not expired) session exists per match, enforced
// by query filtering, so writers re-check inside their transaction.
type HandshakeSession struct {
	ID                   uint64    `gorm:"primaryKey;autoIncrement"`
	MatchID              uint64    `gorm:"not null;index"`
	InitiatorUserID      uint64    `gorm:"not null"`
	InitiatorConfirmedAt time.Time `gorm:"not null"`
	ResponderUserID      *uint64
	ResponderConfirmedAt *time.Time
	Code                 string    `gorm:"size:8;not null"`
	ExpiresAt            time.Time `gorm:"not null"`
	CompletedAt          *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
}

// Credit is the single-use redemption token minted when a handshake
// completes. Consumers must check UnlockedAt/ExpiresAt before honoring.
type Credit struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	MatchID    uint64    `gorm:"not null;index"`
	Token      string    `gorm:"uniqueIndex;size:64;not null"`
	UnlockedAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
}

// UserLocationLatest keeps only the most recent ping per user,
// overwritten on every report.
type UserLocationLatest struct {
	UserID     uint64    `gorm:"primaryKey"`
	Lat        float64   `gorm:"not null"`
	Lng        float64   `gorm:"not null"`
	AccuracyM  float64   `gorm:"not null"`
	CapturedAt time.Time `gorm:"not null"`
}

// Match date event types.
const (
	EventDateCompleted = "DATE_COMPLETED"
	EventDateExpired   = "DATE_EXPIRED"
	EventDateCanceled  = "DATE_CANCELED"
	EventDateDeclined  = "DATE_DECLINED"
)

// MatchDateEvent is the append-only audit/analytics trail consumed by
// the insights collaborator. Cycle ties one-shot events (DATE_EXPIRED)
// to the plan cycle they fired for.
type MatchDateEvent struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID     uint64 `gorm:"not null;index:idx_event_match_type,priority:1"`
	ActorUserID *uint64
	EventType   string    `gorm:"size:24;not null;index:idx_event_match_type,priority:2"`
	Cycle       int       `gorm:"not null;default:0"`
	OccurredAt  time.Time `gorm:"not null"`
	Meta        string    `gorm:"size:512"`
}
