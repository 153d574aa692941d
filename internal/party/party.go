package party

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/selector"
)

var (
	ErrPartyNotFound  = errors.New("party not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrPartyClosed    = errors.New("party is closed")
	ErrNotHost        = errors.New("only the host can do that")
	ErrEmptyMessage   = errors.New("chat message is empty")
)

// Status represents the lifecycle state of a party.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Party is a shared room members join to spin together.
type Party struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	HostMemberID string    `json:"host_member_id"`
	Status       Status    `json:"status"`
	SpinCounter  int64     `json:"spin_counter"`
	CreatedAt    time.Time `json:"created_at"`
}

// Member is one participant of a party.
type Member struct {
	ID       string    `json:"id"`
	PartyID  string    `json:"party_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// SpinRequest carries the per-spin inputs a member chooses.
type SpinRequest struct {
	Locks    []selector.Lock   `json:"locks,omitempty" validate:"max=8,dive"`
	PowerUps selector.PowerUps `json:"powerups"`
}

// SoloSpinRequest is a spin outside any party. An empty seed picks a fresh one.
type SoloSpinRequest struct {
	Preference preference.MemberPreference `json:"preference"`
	Locks      []selector.Lock             `json:"locks,omitempty" validate:"max=8,dive"`
	PowerUps   selector.PowerUps           `json:"powerups"`
	Seed       string                      `json:"seed,omitempty" validate:"max=128"`
}

// ReelResult is the outcome of one reel.
type ReelResult struct {
	Reel        string        `json:"reel"`
	Category    dish.Category `json:"category"`
	Dish        dish.Dish     `json:"dish"`
	Placeholder bool          `json:"placeholder"`
	Candidates  int           `json:"candidates"`
}

// SpinRecord is a persisted spin. Seed, request and catalog reproduce it.
type SpinRecord struct {
	ID          string            `json:"id"`
	PartyCode   string            `json:"party_code,omitempty"`
	Counter     int64             `json:"counter,omitempty"`
	Seed        string            `json:"seed"`
	Request     SpinRequest       `json:"request"`
	Constraints preference.Result `json:"constraints"`
	Results     []ReelResult      `json:"results"`
	RevealAt    time.Time         `json:"reveal_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ChatMessage is broadcast to the room as-is.
type ChatMessage struct {
	MemberID string    `json:"member_id"`
	Nickname string    `json:"nickname"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

var alphabetSize = big.NewInt(int64(len(codeAlphabet)))

func newRoomCode() (string, error) {
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
