package party

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"dinner-roulette/internal/preference"
)

// Repository persists parties, members, preferences and spins.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// CreateParty stores a party together with its host member.
func (r *Repository) CreateParty(ctx context.Context, p Party, host Member) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO parties (id, code, host_member_id, status, spin_counter, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.HostMemberID, string(p.Status), p.SpinCounter, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert party: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO members (id, party_id, nickname, joined_at) VALUES (?, ?, ?, ?)`,
		host.ID, host.PartyID, host.Nickname, host.JoinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert host member: %w", err)
	}
	return tx.Commit()
}

// CodeExists reports whether a room code is taken.
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parties WHERE code = ?`, code).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check room code: %w", err)
	}
	return n > 0, nil
}

// GetPartyByCode retrieves a party by room code. A missing party returns nil, nil.
func (r *Repository) GetPartyByCode(ctx context.Context, code string) (*Party, error) {
	var (
		p         Party
		status    string
		createdAt dbTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, host_member_id, status, spin_counter, created_at FROM parties WHERE code = ?`, code,
	).Scan(&p.ID, &p.Code, &p.HostMemberID, &status, &p.SpinCounter, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get party %s: %w", code, err)
	}
	p.Status = Status(status)
	p.CreatedAt = createdAt.Time
	return &p, nil
}

// CloseParty marks a party closed and drops its preference records.
func (r *Repository) CloseParty(ctx context.Context, partyID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeParty(ctx, tx, partyID); err != nil {
		return err
	}
	return tx.Commit()
}

func closeParty(ctx context.Context, tx *sql.Tx, partyID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE parties SET status = ? WHERE id = ?`, string(StatusClosed), partyID); err != nil {
		return fmt.Errorf("failed to update party status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE party_id = ?`, partyID); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}

// NextSpinCounter atomically increments and returns the party spin counter.
func (r *Repository) NextSpinCounter(ctx context.Context, partyID string) (int64, error) {
	var counter int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE parties SET spin_counter = spin_counter + 1 WHERE id = ? RETURNING spin_counter`, partyID,
	).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to increment spin counter: %w", err)
	}
	return counter, nil
}

// AddMember stores a new member.
func (r *Repository) AddMember(ctx context.Context, m Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, party_id, nickname, joined_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.PartyID, m.Nickname, m.JoinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// GetMember retrieves a member of a party. A missing member returns nil, nil.
func (r *Repository) GetMember(ctx context.Context, partyID, memberID string) (*Member, error) {
	var (
		m        Member
		joinedAt dbTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, party_id, nickname, joined_at FROM members WHERE id = ? AND party_id = ?`, memberID, partyID,
	).Scan(&m.ID, &m.PartyID, &m.Nickname, &joinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.JoinedAt = joinedAt.Time
	return &m, nil
}

// ListMembers returns the members of a party in join order.
func (r *Repository) ListMembers(ctx context.Context, partyID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, party_id, nickname, joined_at FROM members WHERE party_id = ? ORDER BY joined_at, id`, partyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var (
			m        Member
			joinedAt dbTime
		)
		if err := rows.Scan(&m.ID, &m.PartyID, &m.Nickname, &joinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.JoinedAt = joinedAt.Time
		members = append(members, m)
	}
	return members, rows.Err()
}

// Departure describes what a member leaving did to the party.
type Departure struct {
	NewHostID string
	Closed    bool
}

// RemoveMember deletes a member and, through the cascade, their preference.
// A departing host hands the role to the longest-standing member; a party left
// without members is closed.
func (r *Repository) RemoveMember(ctx context.Context, partyID, memberID string) (Departure, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Departure{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = ? AND party_id = ?`, memberID, partyID); err != nil {
		return Departure{}, fmt.Errorf("failed to remove member: %w", err)
	}

	var hostID string
	if err := tx.QueryRowContext(ctx, `SELECT host_member_id FROM parties WHERE id = ?`, partyID).Scan(&hostID); err != nil {
		return Departure{}, fmt.Errorf("failed to read party host: %w", err)
	}
	if hostID != memberID {
		return Departure{}, tx.Commit()
	}

	var dep Departure
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM members WHERE party_id = ? ORDER BY joined_at, id LIMIT 1`, partyID,
	).Scan(&dep.NewHostID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := closeParty(ctx, tx, partyID); err != nil {
			return Departure{}, err
		}
		dep.Closed = true
	case err != nil:
		return Departure{}, fmt.Errorf("failed to pick new host: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE parties SET host_member_id = ? WHERE id = ?`, dep.NewHostID, partyID); err != nil {
			return Departure{}, fmt.Errorf("failed to transfer host: %w", err)
		}
	}
	return dep, tx.Commit()
}

// SavePreference overwrites the member's preference record.
func (r *Repository) SavePreference(ctx context.Context, partyID, memberID string, p preference.MemberPreference) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO preferences (member_id, party_id, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (member_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		memberID, partyID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// ListPreferences returns the preference records of current members in join order.
func (r *Repository) ListPreferences(ctx context.Context, partyID string) ([]preference.MemberPreference, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT p.data FROM preferences p
JOIN members m ON m.id = p.member_id
WHERE p.party_id = ?
ORDER BY m.joined_at, m.id`, partyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []preference.MemberPreference
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		var p preference.MemberPreference
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SaveSpin stores a spin record. partyID is empty for solo spins.
func (r *Repository) SaveSpin(ctx context.Context, partyID string, rec SpinRecord) error {
	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal spin request: %w", err)
	}
	result, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal spin record: %w", err)
	}

	var party sql.NullString
	if partyID != "" {
		party = sql.NullString{String: partyID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO spins (id, party_id, counter, seed, request, result, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, party, rec.Counter, rec.Seed, string(request), string(result), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spin: %w", err)
	}
	return nil
}

// ListSpins returns the most recent spins of a party, newest first.
func (r *Repository) ListSpins(ctx context.Context, partyID string, limit int) ([]SpinRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT result FROM spins WHERE party_id = ? ORDER BY counter DESC LIMIT ?`, partyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list spins: %w", err)
	}
	defer rows.Close()

	spins := []SpinRecord{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan spin: %w", err)
		}
		var rec SpinRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal spin: %w", err)
		}
		spins = append(spins, rec)
	}
	return spins, rows.Err()
}

// dbTime scans DATETIME columns whether the driver hands back time.Time or text.
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}
