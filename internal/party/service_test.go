package party

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"dinner-roulette/internal/database"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/realtime"
	"dinner-roulette/internal/selector"
	"dinner-roulette/internal/validation"
)

type published struct {
	room      string
	eventType string
	data      any
}

type mockPublisher struct {
	mu     sync.Mutex
	events []published
}

func (m *mockPublisher) Publish(room, eventType string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{room, eventType, data})
}

func (m *mockPublisher) last() published {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return published{}
	}
	return m.events[len(m.events)-1]
}

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.eventType
	}
	return out
}

type staticCatalog []dish.Dish

func (c staticCatalog) List(ctx context.Context) ([]dish.Dish, error) {
	return c, nil
}

type failingCatalog struct{}

func (failingCatalog) List(ctx context.Context) ([]dish.Dish, error) {
	return nil, errors.New("catalog offline")
}

type mockRecorder struct {
	records []metrics.ExecutionMetric
}

func (m *mockRecorder) Record(ctx context.Context, em metrics.ExecutionMetric) error {
	m.records = append(m.records, em)
	return nil
}

func testDishes() []dish.Dish {
	return []dish.Dish{
		{ID: "tofu", Name: "Tofu Bowl", Category: dish.CategoryMain, Tags: []string{"vegan"}, Allergens: []string{"soy"}, CostBand: 1, TimeBand: 1, IsHealthy: true},
		{ID: "pasta", Name: "Pasta", Category: dish.CategoryMain, Tags: []string{"vegetarian"}, Allergens: []string{"gluten"}, CostBand: 2, TimeBand: 2},
		{ID: "steak", Name: "Steak", Category: dish.CategoryMain, Tags: []string{}, Allergens: []string{}, CostBand: 3, TimeBand: 2},
		{ID: "salad", Name: "Green Salad", Category: dish.CategorySide, Tags: []string{"vegan"}, Allergens: []string{}, CostBand: 1, TimeBand: 1, IsHealthy: true},
		{ID: "tea", Name: "Iced Tea", Category: dish.CategoryDrink, Tags: []string{"vegan"}, Allergens: []string{}, CostBand: 1, TimeBand: 1},
	}
}

type fixture struct {
	svc      *Service
	repo     *Repository
	pub      *mockPublisher
	recorder *mockRecorder
}

func newFixture(t *testing.T, catalog Catalog) fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "party.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.SQL)
	pub := &mockPublisher{}
	rec := &mockRecorder{}
	svc := NewService(repo, catalog, pub, rec, 3*time.Second)

	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	var tick int64
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return fixture{svc: svc, repo: repo, pub: pub, recorder: rec}
}

func TestCreateAndJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, err := f.svc.CreateParty(ctx, "  Ana ")
	if err != nil {
		t.Fatalf("CreateParty failed: %v", err)
	}
	if len(p.Code) != codeLength {
		t.Errorf("Expected code of length %d, got %q", codeLength, p.Code)
	}
	for _, r := range p.Code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("Unexpected character %q in code %s", r, p.Code)
		}
	}
	if p.HostMemberID != host.ID || host.Nickname != "Ana" {
		t.Errorf("Unexpected host %+v for party %+v", host, p)
	}

	joined, guest, err := f.svc.JoinParty(ctx, strings.ToLower(p.Code), "Ben")
	if err != nil {
		t.Fatalf("JoinParty failed: %v", err)
	}
	if joined.ID != p.ID {
		t.Errorf("Expected party %s, got %s", p.ID, joined.ID)
	}
	if ev := f.pub.last(); ev.eventType != realtime.EventMemberJoined || ev.room != p.Code {
		t.Errorf("Expected member_joined in %s, got %+v", p.Code, ev)
	}

	members, err := f.svc.Members(ctx, p.Code)
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 || members[0].ID != host.ID || members[1].ID != guest.ID {
		t.Errorf("Expected host then guest, got %+v", members)
	}

	t.Run("UnknownCode", func(t *testing.T) {
		_, _, err := f.svc.JoinParty(ctx, "NOPE99", "Cy")
		if !errors.Is(err, ErrPartyNotFound) {
			t.Errorf("Expected ErrPartyNotFound, got %v", err)
		}
	})

	t.Run("BlankNickname", func(t *testing.T) {
		_, _, err := f.svc.JoinParty(ctx, p.Code, "   ")
		var verr *validation.Error
		if !errors.As(err, &verr) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestCloseParty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	_, guest, _ := f.svc.JoinParty(ctx, p.Code, "Ben")

	if err := f.svc.CloseParty(ctx, p.Code, guest.ID); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
	if err := f.svc.CloseParty(ctx, p.Code, host.ID); err != nil {
		t.Fatalf("CloseParty failed: %v", err)
	}
	if ev := f.pub.last(); ev.eventType != realtime.EventPartyClosed {
		t.Errorf("Expected party_closed, got %s", ev.eventType)
	}

	if _, _, err := f.svc.JoinParty(ctx, p.Code, "Cy"); !errors.Is(err, ErrPartyClosed) {
		t.Errorf("Expected ErrPartyClosed on join, got %v", err)
	}
	if _, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{}); !errors.Is(err, ErrPartyClosed) {
		t.Errorf("Expected ErrPartyClosed on spin, got %v", err)
	}
	if _, err := f.svc.PostChat(ctx, p.Code, host.ID, "hi"); !errors.Is(err, ErrPartyClosed) {
		t.Errorf("Expected ErrPartyClosed on chat, got %v", err)
	}
}

func TestClosePartyDropsPreferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	_, guest, _ := f.svc.JoinParty(ctx, p.Code, "Ben")
	for _, id := range []string{host.ID, guest.ID} {
		if _, err := f.svc.SubmitPreferences(ctx, p.Code, id, preference.MemberPreference{
			Diet:      preference.DietVegan,
			Allergens: []string{"soy"},
		}); err != nil {
			t.Fatalf("SubmitPreferences failed: %v", err)
		}
	}

	if err := f.svc.CloseParty(ctx, p.Code, host.ID); err != nil {
		t.Fatalf("CloseParty failed: %v", err)
	}

	prefs, err := f.repo.ListPreferences(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListPreferences failed: %v", err)
	}
	if len(prefs) != 0 {
		t.Errorf("Expected preferences to be deleted, got %d", len(prefs))
	}
	merged, err := f.svc.MergedConstraints(ctx, p.Code)
	if err != nil {
		t.Fatalf("MergedConstraints failed: %v", err)
	}
	if merged.Merged.Diet != nil || len(merged.Merged.Allergens) != 0 {
		t.Errorf("Expected empty constraints after close, got %+v", merged.Merged)
	}
}

func TestLeavePartyHost(t *testing.T) {
	ctx := context.Background()

	t.Run("LongestStandingMemberTakesOver", func(t *testing.T) {
		f := newFixture(t, staticCatalog(testDishes()))
		p, host, _ := f.svc.CreateParty(ctx, "Ana")
		_, ben, _ := f.svc.JoinParty(ctx, p.Code, "Ben")
		_, cleo, _ := f.svc.JoinParty(ctx, p.Code, "Cleo")

		if err := f.svc.LeaveParty(ctx, p.Code, host.ID); err != nil {
			t.Fatalf("LeaveParty failed: %v", err)
		}

		got, err := f.svc.Party(ctx, p.Code)
		if err != nil {
			t.Fatalf("Party failed: %v", err)
		}
		if got.HostMemberID != ben.ID {
			t.Errorf("Expected host %s, got %s", ben.ID, got.HostMemberID)
		}
		if got.Status != StatusOpen {
			t.Errorf("Expected party to stay open, got %s", got.Status)
		}
		types := f.pub.types()
		if !slices.Contains(types, realtime.EventHostChanged) {
			t.Errorf("Expected host_changed event, got %v", types)
		}

		if err := f.svc.CloseParty(ctx, p.Code, cleo.ID); !errors.Is(err, ErrNotHost) {
			t.Errorf("Expected ErrNotHost for cleo, got %v", err)
		}
		if err := f.svc.CloseParty(ctx, p.Code, ben.ID); err != nil {
			t.Errorf("Expected new host to close the party, got %v", err)
		}
	})

	t.Run("GuestLeavingKeepsHost", func(t *testing.T) {
		f := newFixture(t, staticCatalog(testDishes()))
		p, host, _ := f.svc.CreateParty(ctx, "Ana")
		_, ben, _ := f.svc.JoinParty(ctx, p.Code, "Ben")

		if err := f.svc.LeaveParty(ctx, p.Code, ben.ID); err != nil {
			t.Fatalf("LeaveParty failed: %v", err)
		}
		got, _ := f.svc.Party(ctx, p.Code)
		if got.HostMemberID != host.ID {
			t.Errorf("Expected host %s, got %s", host.ID, got.HostMemberID)
		}
		if slices.Contains(f.pub.types(), realtime.EventHostChanged) {
			t.Error("Expected no host_changed event")
		}
	})

	t.Run("LastMemberClosesParty", func(t *testing.T) {
		f := newFixture(t, staticCatalog(testDishes()))
		p, host, _ := f.svc.CreateParty(ctx, "Ana")

		if err := f.svc.LeaveParty(ctx, p.Code, host.ID); err != nil {
			t.Fatalf("LeaveParty failed: %v", err)
		}
		got, _ := f.svc.Party(ctx, p.Code)
		if got.Status != StatusClosed {
			t.Errorf("Expected closed party, got %s", got.Status)
		}
		if ev := f.pub.last(); ev.eventType != realtime.EventPartyClosed {
			t.Errorf("Expected party_closed, got %s", ev.eventType)
		}
	})
}

func TestSubmitPreferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	_, guest, _ := f.svc.JoinParty(ctx, p.Code, "Ben")

	_, err := f.svc.SubmitPreferences(ctx, p.Code, host.ID, preference.MemberPreference{
		Diet:       preference.DietVegetarian,
		Allergens:  []string{"gluten"},
		BudgetBand: preference.Band(3),
	})
	if err != nil {
		t.Fatalf("SubmitPreferences failed: %v", err)
	}
	result, err := f.svc.SubmitPreferences(ctx, p.Code, guest.ID, preference.MemberPreference{
		Diet:       preference.DietOmnivore,
		BudgetBand: preference.Band(2),
	})
	if err != nil {
		t.Fatalf("SubmitPreferences failed: %v", err)
	}

	if len(result.Merged.Diet) != 1 || result.Merged.Diet[0] != preference.DietVegetarian {
		t.Errorf("Expected vegetarian, got %v", result.Merged.Diet)
	}
	if result.Merged.BudgetBand == nil || *result.Merged.BudgetBand != 2 {
		t.Errorf("Expected budget band 2, got %v", result.Merged.BudgetBand)
	}
	if ev := f.pub.last(); ev.eventType != realtime.EventConstraintsUpdated {
		t.Errorf("Expected constraints_updated, got %s", ev.eventType)
	}

	t.Run("LastWriteWins", func(t *testing.T) {
		_, err := f.svc.SubmitPreferences(ctx, p.Code, host.ID, preference.MemberPreference{Diet: preference.DietOmnivore})
		if err != nil {
			t.Fatalf("SubmitPreferences failed: %v", err)
		}
		merged, err := f.svc.MergedConstraints(ctx, p.Code)
		if err != nil {
			t.Fatalf("MergedConstraints failed: %v", err)
		}
		if merged.Merged.Diet != nil {
			t.Errorf("Expected no diet restriction after overwrite, got %v", merged.Merged.Diet)
		}
		if len(merged.Merged.Allergens) != 0 {
			t.Errorf("Expected old allergens gone, got %v", merged.Merged.Allergens)
		}
	})

	t.Run("LeaveDropsPreference", func(t *testing.T) {
		if err := f.svc.LeaveParty(ctx, p.Code, guest.ID); err != nil {
			t.Fatalf("LeaveParty failed: %v", err)
		}
		merged, _ := f.svc.MergedConstraints(ctx, p.Code)
		if merged.Merged.BudgetBand != nil {
			t.Errorf("Expected no budget band after guest left, got %d", *merged.Merged.BudgetBand)
		}
		types := f.pub.types()
		if types[len(types)-2] != realtime.EventMemberLeft {
			t.Errorf("Expected member_left before constraints_updated, got %v", types)
		}
		if err := f.svc.LeaveParty(ctx, p.Code, guest.ID); !errors.Is(err, ErrMemberNotFound) {
			t.Errorf("Expected ErrMemberNotFound on second leave, got %v", err)
		}
	})

	t.Run("AllergensStoredNormalized", func(t *testing.T) {
		_, err := f.svc.SubmitPreferences(ctx, p.Code, host.ID, preference.MemberPreference{
			Allergens: []string{" Soy", "soy", "GLUTEN"},
		})
		if err != nil {
			t.Fatalf("SubmitPreferences failed: %v", err)
		}
		prefs, err := f.repo.ListPreferences(ctx, p.ID)
		if err != nil {
			t.Fatalf("ListPreferences failed: %v", err)
		}
		if len(prefs) != 1 || strings.Join(prefs[0].Allergens, ",") != "soy,gluten" {
			t.Errorf("Expected stored allergens soy,gluten, got %+v", prefs)
		}
	})

	t.Run("InvalidPreference", func(t *testing.T) {
		_, err := f.svc.SubmitPreferences(ctx, p.Code, host.ID, preference.MemberPreference{BudgetBand: preference.Band(9)})
		var verr *validation.Error
		if !errors.As(err, &verr) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestSpin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	_, _ = f.svc.SubmitPreferences(ctx, p.Code, host.ID, preference.MemberPreference{Diet: preference.DietVegan})

	first, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{PowerUps: selector.PowerUps{Healthy: true}})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	second, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}

	if first.Counter != 1 || second.Counter != 2 {
		t.Errorf("Expected counters 1 and 2, got %d and %d", first.Counter, second.Counter)
	}
	if first.Seed != selector.DeriveSeed(p.Code, 1) {
		t.Errorf("Expected seed %s, got %s", selector.DeriveSeed(p.Code, 1), first.Seed)
	}
	if len(first.Results) != len(dish.DefaultReels) {
		t.Fatalf("Expected %d reels, got %d", len(dish.DefaultReels), len(first.Results))
	}

	wantIDs := []string{"tofu", "salad", "tea"}
	for i, id := range wantIDs {
		if first.Results[i].Dish.ID != id {
			t.Errorf("Reel %d: expected %s, got %s", i, id, first.Results[i].Dish.ID)
		}
	}
	dessert := first.Results[3]
	if !dessert.Placeholder || dessert.Dish.ID != "placeholder_3" || dessert.Candidates != 0 {
		t.Errorf("Expected placeholder dessert reel, got %+v", dessert)
	}

	if !first.RevealAt.Equal(first.CreatedAt.Add(3 * time.Second)) {
		t.Errorf("Expected reveal 3s after creation, got %v vs %v", first.RevealAt, first.CreatedAt)
	}
	if ev := f.pub.last(); ev.eventType != realtime.EventSpinStarted {
		t.Errorf("Expected spin_started, got %s", ev.eventType)
	}
	if len(f.recorder.records) != 2 || f.recorder.records[0].Operation != metrics.OperationPartySpin {
		t.Errorf("Expected two spin.party metrics, got %+v", f.recorder.records)
	}

	t.Run("Replay", func(t *testing.T) {
		reels := dish.BuildReels(testDishes(), first.Constraints.Merged, dish.DefaultReels)
		picks := selector.Select(dish.Candidates(reels), first.Request.Locks, first.Request.PowerUps, selector.NewSource(first.Seed))
		for i, d := range picks {
			if d.ID != first.Results[i].Dish.ID {
				t.Errorf("Reel %d: replay gave %s, record has %s", i, d.ID, first.Results[i].Dish.ID)
			}
		}
	})

	t.Run("History", func(t *testing.T) {
		history, err := f.svc.History(ctx, p.Code, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 2 || history[0].Counter != 2 || history[1].Counter != 1 {
			t.Errorf("Expected newest first, got %+v", history)
		}
		if history[1].Seed != first.Seed || history[1].Results[0].Dish.ID != "tofu" {
			t.Errorf("Expected stored record to match, got %+v", history[1])
		}

		limited, _ := f.svc.History(ctx, p.Code, 1)
		if len(limited) != 1 {
			t.Errorf("Expected 1 record, got %d", len(limited))
		}
	})

	t.Run("InvalidLock", func(t *testing.T) {
		_, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{Locks: []selector.Lock{{Index: 0}}})
		var verr *validation.Error
		if !errors.As(err, &verr) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("UnknownMember", func(t *testing.T) {
		_, err := f.svc.Spin(ctx, p.Code, "ghost", SpinRequest{})
		if !errors.Is(err, ErrMemberNotFound) {
			t.Errorf("Expected ErrMemberNotFound, got %v", err)
		}
	})
}

func TestSpinLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	for range 5 {
		rec, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{Locks: []selector.Lock{{Index: 0, DishID: "steak"}}})
		if err != nil {
			t.Fatalf("Spin failed: %v", err)
		}
		if rec.Results[0].Dish.ID != "steak" {
			t.Errorf("Expected locked steak, got %s", rec.Results[0].Dish.ID)
		}
	}
}

func TestSpinCatalogError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingCatalog{})

	p, host, _ := f.svc.CreateParty(ctx, "Ana")
	if _, err := f.svc.Spin(ctx, p.Code, host.ID, SpinRequest{}); err == nil {
		t.Fatal("Expected error from failing catalog, got nil")
	}
}

func TestSoloSpin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	req := SoloSpinRequest{
		Preference: preference.MemberPreference{Allergens: []string{"soy", "gluten"}},
		Seed:       "friday",
	}
	a, err := f.svc.SoloSpin(ctx, req)
	if err != nil {
		t.Fatalf("SoloSpin failed: %v", err)
	}
	b, err := f.svc.SoloSpin(ctx, req)
	if err != nil {
		t.Fatalf("SoloSpin failed: %v", err)
	}

	if a.Seed != "friday" || a.PartyCode != "" {
		t.Errorf("Unexpected solo record %+v", a)
	}
	if a.Results[0].Dish.ID != "steak" {
		t.Errorf("Expected steak as only allergen-free main, got %s", a.Results[0].Dish.ID)
	}
	for i := range a.Results {
		if a.Results[i].Dish.ID != b.Results[i].Dish.ID {
			t.Errorf("Reel %d: same seed gave %s and %s", i, a.Results[i].Dish.ID, b.Results[i].Dish.ID)
		}
	}
	if len(f.recorder.records) != 2 || f.recorder.records[0].Operation != metrics.OperationSoloSpin {
		t.Errorf("Expected two spin.solo metrics, got %+v", f.recorder.records)
	}

	t.Run("FreshSeed", func(t *testing.T) {
		rec, err := f.svc.SoloSpin(ctx, SoloSpinRequest{})
		if err != nil {
			t.Fatalf("SoloSpin failed: %v", err)
		}
		if rec.Seed == "" {
			t.Error("Expected a generated seed, got empty")
		}
	})
}

func TestPostChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticCatalog(testDishes()))

	p, host, _ := f.svc.CreateParty(ctx, "Ana")

	msg, err := f.svc.PostChat(ctx, p.Code, host.ID, "  tacos?  ")
	if err != nil {
		t.Fatalf("PostChat failed: %v", err)
	}
	if msg.Text != "tacos?" || msg.Nickname != "Ana" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if ev := f.pub.last(); ev.eventType != realtime.EventChat {
		t.Errorf("Expected chat event, got %s", ev.eventType)
	}

	if _, err := f.svc.PostChat(ctx, p.Code, host.ID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}

	_, err = f.svc.PostChat(ctx, p.Code, host.ID, strings.Repeat("a", MaxChatLength+1))
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Errorf("Expected validation error for long message, got %v", err)
	}

	if _, err := f.svc.PostChat(ctx, p.Code, host.ID, strings.Repeat("a", MaxChatLength)); err != nil {
		t.Errorf("Expected message at the limit to pass, got %v", err)
	}
}

func TestNewRoomCode(t *testing.T) {
	seen := make(map[rune]int)
	for range 2000 {
		code, err := newRoomCode()
		if err != nil {
			t.Fatalf("newRoomCode failed: %v", err)
		}
		if len(code) != codeLength {
			t.Fatalf("Expected length %d, got %q", codeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("Unexpected character %q in %s", r, code)
			}
			seen[r]++
		}
	}
	if len(seen) != len(codeAlphabet) {
		t.Errorf("Expected every alphabet character to appear, got %d of %d", len(seen), len(codeAlphabet))
	}
}
