package party

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/realtime"
	"dinner-roulette/internal/selector"
	"dinner-roulette/internal/validation"
)

const (
	MaxChatLength       = 500
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	maxCodeAttempts     = 5
)

// Publisher fans events out to everyone in a room.
type Publisher interface {
	Publish(room, eventType string, data any)
}

// Catalog supplies the dishes a spin draws from.
type Catalog interface {
	List(ctx context.Context) ([]dish.Dish, error)
}

// MetricsRecorder persists execution metrics.
type MetricsRecorder interface {
	Record(ctx context.Context, m metrics.ExecutionMetric) error
}

// Service runs the party lifecycle and spins.
type Service struct {
	repo      *Repository
	catalog   Catalog
	publisher Publisher
	recorder  MetricsRecorder
	countdown time.Duration
	layout    []dish.ReelSpec
	now       func() time.Time
}

// NewService creates a new Service. A nil recorder disables metric rows.
func NewService(repo *Repository, catalog Catalog, publisher Publisher, recorder MetricsRecorder, countdown time.Duration) *Service {
	return &Service{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		recorder:  recorder,
		countdown: countdown,
		layout:    dish.DefaultReels,
		now:       time.Now,
	}
}

// CreateParty opens a new party hosted by the given nickname.
func (s *Service) CreateParty(ctx context.Context, hostNickname string) (Party, Member, error) {
	nickname, err := cleanNickname(hostNickname)
	if err != nil {
		return Party{}, Member{}, err
	}

	code, err := s.freeCode(ctx)
	if err != nil {
		return Party{}, Member{}, err
	}

	now := s.now().UTC()
	p := Party{
		ID:        uuid.NewString(),
		Code:      code,
		Status:    StatusOpen,
		CreatedAt: now,
	}
	host := Member{
		ID:       uuid.NewString(),
		PartyID:  p.ID,
		Nickname: nickname,
		JoinedAt: now,
	}
	p.HostMemberID = host.ID

	if err := s.repo.CreateParty(ctx, p, host); err != nil {
		return Party{}, Member{}, fmt.Errorf("failed to create party: %w", err)
	}

	logging.Info().Str("room", code).Str("member_id", host.ID).Msg("Party created")
	return p, host, nil
}

func (s *Service) freeCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code, err := newRoomCode()
		if err != nil {
			return "", err
		}
		taken, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a room code after %d attempts", maxCodeAttempts)
}

// JoinParty adds a member to an open party.
func (s *Service) JoinParty(ctx context.Context, code, nickname string) (Party, Member, error) {
	nickname, err := cleanNickname(nickname)
	if err != nil {
		return Party{}, Member{}, err
	}

	p, err := s.openParty(ctx, code)
	if err != nil {
		return Party{}, Member{}, err
	}

	m := Member{
		ID:       uuid.NewString(),
		PartyID:  p.ID,
		Nickname: nickname,
		JoinedAt: s.now().UTC(),
	}
	if err := s.repo.AddMember(ctx, m); err != nil {
		return Party{}, Member{}, fmt.Errorf("failed to join party: %w", err)
	}

	s.publisher.Publish(p.Code, realtime.EventMemberJoined, m)
	return *p, m, nil
}

// LeaveParty removes a member together with their preference record. A leaving
// host passes the role to the longest-standing member; the last member out closes the party.
func (s *Service) LeaveParty(ctx context.Context, code, memberID string) error {
	p, m, err := s.member(ctx, code, memberID)
	if err != nil {
		return err
	}
	dep, err := s.repo.RemoveMember(ctx, p.ID, m.ID)
	if err != nil {
		return err
	}

	s.publisher.Publish(p.Code, realtime.EventMemberLeft, m)
	switch {
	case dep.Closed:
		if p.Status == StatusOpen {
			s.publisher.Publish(p.Code, realtime.EventPartyClosed, map[string]string{"closed_by": m.ID})
			logging.Info().Str("room", p.Code).Msg("Party closed after last member left")
		}
		return nil
	case dep.NewHostID != "":
		p.HostMemberID = dep.NewHostID
		s.publisher.Publish(p.Code, realtime.EventHostChanged, map[string]string{"host_member_id": dep.NewHostID})
		logging.Info().Str("room", p.Code).Str("member_id", dep.NewHostID).Msg("Host role transferred")
	}
	if err := s.publishConstraints(ctx, p); err != nil {
		logging.Warn().Err(err).Str("room", p.Code).Msg("Failed to publish constraints after leave")
	}
	return nil
}

// CloseParty stops a party from accepting joins and spins and discards its
// preference records. Only the host may close it.
func (s *Service) CloseParty(ctx context.Context, code, memberID string) error {
	p, m, err := s.member(ctx, code, memberID)
	if err != nil {
		return err
	}
	if m.ID != p.HostMemberID {
		return ErrNotHost
	}
	if p.Status == StatusClosed {
		return nil
	}
	if err := s.repo.CloseParty(ctx, p.ID); err != nil {
		return err
	}

	s.publisher.Publish(p.Code, realtime.EventPartyClosed, map[string]string{"closed_by": m.ID})
	logging.Info().Str("room", p.Code).Msg("Party closed")
	return nil
}

// SubmitPreferences stores the member's preference, replacing any earlier one,
// and returns the recomputed merge.
func (s *Service) SubmitPreferences(ctx context.Context, code, memberID string, pref preference.MemberPreference) (preference.Result, error) {
	if err := preference.Validate(pref); err != nil {
		return preference.Result{}, err
	}

	p, m, err := s.member(ctx, code, memberID)
	if err != nil {
		return preference.Result{}, err
	}
	if p.Status == StatusClosed {
		return preference.Result{}, ErrPartyClosed
	}
	pref = pref.Normalized()
	if pref.Nickname == "" {
		pref.Nickname = m.Nickname
	}

	if err := s.repo.SavePreference(ctx, p.ID, m.ID, pref); err != nil {
		return preference.Result{}, err
	}

	result, err := s.merge(ctx, p)
	if err != nil {
		return preference.Result{}, err
	}
	s.publisher.Publish(p.Code, realtime.EventConstraintsUpdated, result)
	return result, nil
}

// MergedConstraints recomputes the merge from the current preference records.
func (s *Service) MergedConstraints(ctx context.Context, code string) (preference.Result, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return preference.Result{}, err
	}
	return s.merge(ctx, p)
}

func (s *Service) merge(ctx context.Context, p *Party) (preference.Result, error) {
	prefs, err := s.repo.ListPreferences(ctx, p.ID)
	if err != nil {
		return preference.Result{}, err
	}
	result := preference.Merge(prefs)
	if result.Conflict {
		metrics.MergeConflictsTotal.Inc()
	}
	return result, nil
}

func (s *Service) publishConstraints(ctx context.Context, p *Party) error {
	result, err := s.merge(ctx, p)
	if err != nil {
		return err
	}
	s.publisher.Publish(p.Code, realtime.EventConstraintsUpdated, result)
	return nil
}

// Spin draws one dish per reel for the party and announces it to the room.
// The seed is derived from the room code and the party's spin counter.
func (s *Service) Spin(ctx context.Context, code, memberID string, req SpinRequest) (SpinRecord, error) {
	if err := validation.Struct(req); err != nil {
		return SpinRecord{}, err
	}

	p, _, err := s.member(ctx, code, memberID)
	if err != nil {
		return SpinRecord{}, err
	}
	if p.Status == StatusClosed {
		return SpinRecord{}, ErrPartyClosed
	}

	start := s.now()
	counter, err := s.repo.NextSpinCounter(ctx, p.ID)
	if err != nil {
		return SpinRecord{}, err
	}

	constraints, err := s.merge(ctx, p)
	if err != nil {
		return SpinRecord{}, err
	}

	seed := selector.DeriveSeed(p.Code, counter)
	rec, err := s.spin(ctx, seed, constraints, req)
	if err != nil {
		return SpinRecord{}, err
	}
	rec.PartyCode = p.Code
	rec.Counter = counter

	if err := s.repo.SaveSpin(ctx, p.ID, rec); err != nil {
		return SpinRecord{}, err
	}

	s.record(ctx, metrics.OperationPartySpin, start)
	metrics.SpinsTotal.WithLabelValues("party").Inc()
	s.publisher.Publish(p.Code, realtime.EventSpinStarted, rec)

	logging.Info().
		Str("room", p.Code).
		Int64("counter", counter).
		Str("seed", seed).
		Msg("Party spin completed")
	return rec, nil
}

// SoloSpin spins for a single preference outside any party. The returned record
// carries the seed so the spin can be replayed.
func (s *Service) SoloSpin(ctx context.Context, req SoloSpinRequest) (SpinRecord, error) {
	if err := validation.Struct(req); err != nil {
		return SpinRecord{}, err
	}

	seed := req.Seed
	if seed == "" {
		seed = uuid.NewString()
	}

	start := s.now()
	req.Preference = req.Preference.Normalized()
	constraints := preference.Merge([]preference.MemberPreference{req.Preference})
	rec, err := s.spin(ctx, seed, constraints, SpinRequest{Locks: req.Locks, PowerUps: req.PowerUps})
	if err != nil {
		return SpinRecord{}, err
	}

	if err := s.repo.SaveSpin(ctx, "", rec); err != nil {
		return SpinRecord{}, err
	}

	s.record(ctx, metrics.OperationSoloSpin, start)
	metrics.SpinsTotal.WithLabelValues("solo").Inc()
	return rec, nil
}

func (s *Service) spin(ctx context.Context, seed string, constraints preference.Result, req SpinRequest) (SpinRecord, error) {
	catalog, err := s.catalog.List(ctx)
	if err != nil {
		return SpinRecord{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	reels := dish.BuildReels(catalog, constraints.Merged, s.layout)
	picks := selector.Select(dish.Candidates(reels), req.Locks, req.PowerUps, selector.NewSource(seed))

	results := make([]ReelResult, len(reels))
	for i, reel := range reels {
		placeholder := selector.IsPlaceholder(picks[i])
		if placeholder {
			metrics.PlaceholdersTotal.Inc()
		}
		results[i] = ReelResult{
			Reel:        reel.Name,
			Category:    reel.Category,
			Dish:        picks[i],
			Placeholder: placeholder,
			Candidates:  len(reel.Candidates),
		}
	}

	now := s.now().UTC()
	return SpinRecord{
		ID:          uuid.NewString(),
		Seed:        seed,
		Request:     req,
		Constraints: constraints,
		Results:     results,
		RevealAt:    now.Add(s.countdown),
		CreatedAt:   now,
	}, nil
}

func (s *Service) record(ctx context.Context, operation string, start time.Time) {
	if s.recorder == nil {
		return
	}
	m := metrics.ExecutionMetric{
		Operation: operation,
		Model:     "weighted",
		LatencyMS: s.now().Sub(start).Milliseconds(),
		Timestamp: s.now(),
	}
	if err := s.recorder.Record(ctx, m); err != nil {
		logging.Warn().Err(err).Str("operation", operation).Msg("Failed to record execution metric")
	}
}

// PostChat broadcasts a chat line from a member to the room.
func (s *Service) PostChat(ctx context.Context, code, memberID, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return ChatMessage{}, &validation.Error{Fields: []validation.FieldError{{
			Field:   "text",
			Tag:     "max",
			Message: fmt.Sprintf("text must be at most %d characters", MaxChatLength),
		}}}
	}

	p, m, err := s.member(ctx, code, memberID)
	if err != nil {
		return ChatMessage{}, err
	}
	if p.Status == StatusClosed {
		return ChatMessage{}, ErrPartyClosed
	}

	msg := ChatMessage{
		MemberID: m.ID,
		Nickname: m.Nickname,
		Text:     text,
		SentAt:   s.now().UTC(),
	}
	s.publisher.Publish(p.Code, realtime.EventChat, msg)
	return msg, nil
}

// History returns the most recent spins of a party, newest first.
func (s *Service) History(ctx context.Context, code string, limit int) ([]SpinRecord, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	return s.repo.ListSpins(ctx, p.ID, limit)
}

// Members lists the members of a party in join order.
func (s *Service) Members(ctx context.Context, code string) ([]Member, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, p.ID)
}

// Member returns a current member of the party.
func (s *Service) Member(ctx context.Context, code, memberID string) (Member, error) {
	_, m, err := s.member(ctx, code, memberID)
	if err != nil {
		return Member{}, err
	}
	return *m, nil
}

// Party returns the party for a room code.
func (s *Service) Party(ctx context.Context, code string) (Party, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return Party{}, err
	}
	return *p, nil
}

func (s *Service) party(ctx context.Context, code string) (*Party, error) {
	p, err := s.repo.GetPartyByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPartyNotFound
	}
	return p, nil
}

func (s *Service) openParty(ctx context.Context, code string) (*Party, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusClosed {
		return nil, ErrPartyClosed
	}
	return p, nil
}

func (s *Service) member(ctx context.Context, code, memberID string) (*Party, *Member, error) {
	p, err := s.party(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.repo.GetMember(ctx, p.ID, memberID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, ErrMemberNotFound
	}
	return p, m, nil
}

// NormalizeCode upper-cases and trims a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const maxNicknameLength = 32

func cleanNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLength {
		return "", &validation.Error{Fields: []validation.FieldError{{
			Field:   "nickname",
			Tag:     "required",
			Message: fmt.Sprintf("nickname must be 1 to %d characters", maxNicknameLength),
		}}}
	}
	return nickname, nil
}
