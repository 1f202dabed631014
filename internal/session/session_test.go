package session

import (
	"context"
	"encoding/json"
	"errors"
	mrand "math/rand"
	"regexp"
	"testing"
	"time"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/puzzle/sudoku"
	"puzzlerace/internal/storage"
)

func setupTest(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })
	reg := puzzle.NewRegistry()
	reg.Register(sudoku.Sudoku{})
	mgr := NewManager(store, reg, powerup.Default(), mrand.New(mrand.NewSource(1)))
	mgr.Now = func() time.Time { return time.UnixMilli(1_000_000) }
	return mgr, store
}

func waitingSession(players ...string) *Session {
	s := New("abc123")
	s.Config = Config{AdminID: "p1", PuzzleType: "sudoku", Difficulty: "easy"}
	s.Phase = Phase{Status: StatusWaiting}
	for _, pid := range players {
		s.Roster = append(s.Roster, pid)
		s.Players[pid] = &Player{Profile: Profile{Name: pid, Status: PlayerPlaying}}
	}
	return s
}

func playingSession(players ...string) *Session {
	s := waitingSession(players...)
	started := int64(5_000)
	s.Phase = Phase{Status: StatusPlaying, StartedAt: &started}
	return s
}

// --- predicate tests ---

func TestCanJoin(t *testing.T) {
	s := waitingSession("p1")
	if err := s.CanJoin("p2"); err != nil {
		t.Fatalf("join waiting session: %v", err)
	}
	if err := s.CanJoin("p1"); !errors.Is(err, ErrDuplicatePlayer) {
		t.Fatalf("expected ErrDuplicatePlayer, got %v", err)
	}

	full := waitingSession("p1", "p2", "p3", "p4")
	if err := full.CanJoin("p5"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}

	started := playingSession("p1", "p2")
	if err := started.CanJoin("p3"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}

	done := waitingSession("p1")
	done.Phase.Status = StatusFinished
	if err := done.CanJoin("p2"); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
}

func TestCanStart(t *testing.T) {
	s := waitingSession("p1", "p2")
	if err := s.CanStart("p1"); err != nil {
		t.Fatalf("admin start with 2 players: %v", err)
	}
	if err := s.CanStart("p2"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}

	solo := waitingSession("p1")
	if err := solo.CanStart("p1"); !errors.Is(err, ErrTooFewPlayers) {
		t.Fatalf("expected ErrTooFewPlayers, got %v", err)
	}

	started := playingSession("p1", "p2")
	if err := started.CanStart("p1"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}
}

func TestCanMove(t *testing.T) {
	s := playingSession("p1", "p2")
	if err := s.CanMove("p1"); err != nil {
		t.Fatalf("move while playing: %v", err)
	}
	if err := s.CanMove("ghost"); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}

	waiting := waitingSession("p1", "p2")
	if err := waiting.CanMove("p1"); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}

	s.Phase.Status = StatusFinished
	if err := s.CanMove("p1"); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
}

func TestCanActivateFromPool(t *testing.T) {
	cat := powerup.Default()
	s := playingSession("p1", "p2")
	s.Config.Powerup = powerup.Config{Enabled: true, Mode: powerup.ModeFixedShared}
	s.Config.Powerup.ApplyDefaults()
	s.Pool = map[string]int{"hint": 1, "fog": 0}

	if err := s.CanActivate("p1", "hint", cat, 10_000); err != nil {
		t.Fatalf("activate from pool: %v", err)
	}
	if err := s.CanActivate("p1", "fog", cat, 10_000); !errors.Is(err, powerup.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for drained type, got %v", err)
	}
	if err := s.CanActivate("p1", "warp", cat, 10_000); !errors.Is(err, powerup.ErrUnknownAbility) {
		t.Fatalf("expected ErrUnknownAbility, got %v", err)
	}
}

func TestCanActivateFromInventory(t *testing.T) {
	cat := powerup.Default()
	s := playingSession("p1", "p2")
	s.Config.Powerup = powerup.Config{Enabled: true, Mode: powerup.ModeRandomPerPlayer}
	s.Config.Powerup.ApplyDefaults()
	s.Players["p1"].Inventory = map[string]int{"peep": 1}

	if err := s.CanActivate("p1", "peep", cat, 10_000); err != nil {
		t.Fatalf("activate from inventory: %v", err)
	}
	if err := s.CanActivate("p2", "peep", cat, 10_000); !errors.Is(err, powerup.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for empty inventory, got %v", err)
	}
}

func TestCanActivateBlockedByActive(t *testing.T) {
	cat := powerup.Default()
	s := playingSession("p1", "p2")
	s.Config.Powerup = powerup.Config{Enabled: true, Mode: powerup.ModeFixedShared}
	s.Config.Powerup.ApplyDefaults()
	s.Pool = map[string]int{"peep": 2}
	s.Players["p1"].Active = &powerup.Active{AbilityID: "peep", ActivatedAt: 9_000, DurationMs: 10_000}

	if err := s.CanActivate("p1", "peep", cat, 10_000); !errors.Is(err, powerup.ErrAbilityActive) {
		t.Fatalf("expected ErrAbilityActive, got %v", err)
	}
	// Once the running ability lapses the slot frees up again.
	if err := s.CanActivate("p1", "peep", cat, 19_000); err != nil {
		t.Fatalf("activate after expiry: %v", err)
	}
}

func TestCanActivateDisabled(t *testing.T) {
	s := playingSession("p1", "p2")
	if err := s.CanActivate("p1", "hint", powerup.Default(), 10_000); !errors.Is(err, powerup.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when powerups are off, got %v", err)
	}
}

func TestCanTerminate(t *testing.T) {
	s := playingSession("p1", "p2")
	if err := s.CanTerminate("p1"); err != nil {
		t.Fatalf("admin terminate: %v", err)
	}
	if err := s.CanTerminate("p2"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	s.Phase.Status = StatusFinished
	if err := s.CanTerminate("p1"); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
}

func TestDeadline(t *testing.T) {
	s := playingSession("p1", "p2")
	if _, ok := s.Deadline(); ok {
		t.Fatal("expected no deadline without a time limit")
	}
	s.Config.TimeLimitMinutes = 2
	deadline, ok := s.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if deadline != 5_000+2*60_000 {
		t.Fatalf("expected deadline 125000, got %d", deadline)
	}

	waiting := waitingSession("p1", "p2")
	waiting.Config.TimeLimitMinutes = 2
	if _, ok := waiting.Deadline(); ok {
		t.Fatal("expected no deadline before start")
	}
}

func TestCompletionLeader(t *testing.T) {
	s := playingSession("p1", "p2", "p3")
	s.Players["p1"].Completion = 40
	s.Players["p2"].Completion = 75
	s.Players["p3"].Completion = 10

	leader, ok := s.CompletionLeader()
	if !ok || leader != "p2" {
		t.Fatalf("expected p2 to lead, got %q ok=%v", leader, ok)
	}

	s.Players["p1"].Completion = 75
	if _, ok := s.CompletionLeader(); ok {
		t.Fatal("expected no leader on a tie")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := playingSession("p1", "p2")
	s.Pool = map[string]int{"hint": 2}
	s.Players["p1"].Inventory = map[string]int{"fog": 1}
	s.Players["p1"].Active = &powerup.Active{AbilityID: "fog", ActivatedAt: 7_000}

	c := s.Clone()
	c.Pool["hint"] = 0
	c.Players["p1"].Inventory["fog"] = 9
	c.Players["p1"].Active.ActivatedAt = 1
	c.Roster[0] = "other"
	*c.Phase.StartedAt = 99

	if s.Pool["hint"] != 2 {
		t.Fatal("pool leaked through clone")
	}
	if s.Players["p1"].Inventory["fog"] != 1 {
		t.Fatal("inventory leaked through clone")
	}
	if s.Players["p1"].Active.ActivatedAt != 7_000 {
		t.Fatal("active leaked through clone")
	}
	if s.Roster[0] != "p1" {
		t.Fatal("roster leaked through clone")
	}
	if *s.Phase.StartedAt != 5_000 {
		t.Fatal("phase leaked through clone")
	}
}

// --- event codec tests ---

func TestApplyPlayerDocuments(t *testing.T) {
	s := New("abc123")
	events := []storage.Event{
		{Path: "sessions/abc123/phase", Value: []byte(`{"status":"playing","winnerId":null,"startedAt":1000}`)},
		{Path: "sessions/abc123/roster", Value: []byte(`["p1"]`)},
		{Path: "sessions/abc123/players/p1/profile", Value: []byte(`{"name":"Ada","status":"playing","finalScore":null}`)},
		{Path: "sessions/abc123/players/p1/completion", Value: []byte(`42`)},
		{Path: "sessions/abc123/players/p1/active", Value: []byte(`{"abilityId":"fog","activatedAt":1500,"durationMs":10000}`)},
		{Path: "sessions/other/players/p9/completion", Value: []byte(`99`)},
	}
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			t.Fatalf("apply %s: %v", ev.Path, err)
		}
	}

	if s.Phase.Status != StatusPlaying || *s.Phase.StartedAt != 1000 {
		t.Fatalf("unexpected phase: %+v", s.Phase)
	}
	p := s.Players["p1"]
	if p == nil || p.Profile.Name != "Ada" || p.Completion != 42 {
		t.Fatalf("unexpected player: %+v", p)
	}
	if p.Active == nil || p.Active.AbilityID != "fog" {
		t.Fatalf("unexpected active: %+v", p.Active)
	}
	if _, ok := s.Players["p9"]; ok {
		t.Fatal("event for another session was applied")
	}
}

func TestApplyDeleteClearsActive(t *testing.T) {
	s := New("abc123")
	put := storage.Event{Path: "sessions/abc123/players/p1/active", Value: []byte(`{"abilityId":"fog","activatedAt":1}`)}
	if err := s.Apply(put); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply(storage.Event{Path: put.Path, Value: nil}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if s.Players["p1"].Active != nil {
		t.Fatal("expected active to be cleared")
	}
}

func TestApplyBadDocument(t *testing.T) {
	s := New("abc123")
	ev := storage.Event{Path: "sessions/abc123/roster", Value: []byte(`{not json`)}
	if err := s.Apply(ev); err == nil {
		t.Fatal("expected decode error")
	}
}

// --- manager tests ---

func TestCreateWritesDocuments(t *testing.T) {
	mgr, store := setupTest(t)

	id, err := mgr.Create(context.Background(), CreateParams{
		AdminID:    "admin-1",
		PuzzleType: "sudoku",
		Difficulty: "easy",
		Powerup:    powerup.Config{Enabled: true, Mode: powerup.ModeFixedShared, FixedList: []string{"hint", "fog"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	s, err := Load(context.Background(), store, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Phase.Status != StatusWaiting {
		t.Fatalf("expected waiting, got %s", s.Phase.Status)
	}
	if s.Config.AdminID != "admin-1" || s.Config.PuzzleType != "sudoku" {
		t.Fatalf("unexpected config: %+v", s.Config)
	}
	if s.Config.Powerup.MaxPerEntity != powerup.DefaultMaxPerEntity {
		t.Fatal("expected powerup defaults to be applied")
	}
	if len(s.Roster) != 0 {
		t.Fatalf("expected empty roster, got %v", s.Roster)
	}
	if s.Pool["hint"] != 1 || s.Pool["fog"] != 1 {
		t.Fatalf("unexpected pool: %v", s.Pool)
	}
	if len(s.Puzzle.Initial) == 0 || len(s.Puzzle.Solution) == 0 {
		t.Fatal("expected puzzle states to be persisted")
	}
	var board sudoku.Board
	if err := json.Unmarshal(s.Puzzle.Initial, &board); err != nil {
		t.Fatalf("initial state is not a sudoku board: %v", err)
	}
}

func TestCreateUnknownPuzzleType(t *testing.T) {
	mgr, _ := setupTest(t)
	_, err := mgr.Create(context.Background(), CreateParams{AdminID: "a", PuzzleType: "nonexistent"})
	if !errors.Is(err, puzzle.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCreateRejectsBadPowerupConfig(t *testing.T) {
	mgr, _ := setupTest(t)
	_, err := mgr.Create(context.Background(), CreateParams{
		AdminID:    "a",
		PuzzleType: "sudoku",
		Powerup:    powerup.Config{Enabled: true, Mode: powerup.ModeFixedShared, FixedList: []string{"hint", "hint", "hint"}},
	})
	if err == nil {
		t.Fatal("expected error for loadout above the per-type cap")
	}
}

func TestCreateRetriesTakenCodes(t *testing.T) {
	mgr, _ := setupTest(t)

	first, err := mgr.Create(context.Background(), CreateParams{AdminID: "a", PuzzleType: "sudoku"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	codes := []string{first, first, "fresh1"}
	mgr.CodeFn = func() string {
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code
	}
	second, err := mgr.Create(context.Background(), CreateParams{AdminID: "a", PuzzleType: "sudoku"})
	if err != nil {
		t.Fatalf("create with collisions: %v", err)
	}
	if second != "fresh1" {
		t.Fatalf("expected retry to land on fresh1, got %s", second)
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	mgr, _ := setupTest(t)
	ctx := context.Background()

	now := int64(1_000_000)
	mgr.Now = func() time.Time { return time.UnixMilli(now) }
	a, _ := mgr.Create(ctx, CreateParams{AdminID: "x", PuzzleType: "sudoku"})
	now += 60_000
	b, _ := mgr.Create(ctx, CreateParams{AdminID: "x", PuzzleType: "sudoku"})

	summaries, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(summaries))
	}
	if summaries[0].ID != b || summaries[1].ID != a {
		t.Fatalf("expected [%s %s], got [%s %s]", b, a, summaries[0].ID, summaries[1].ID)
	}
	if summaries[0].Status != StatusWaiting || summaries[0].PuzzleType != "sudoku" {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
}

func TestManagerRemoveAdminOnly(t *testing.T) {
	mgr, _ := setupTest(t)
	ctx := context.Background()

	id, _ := mgr.Create(ctx, CreateParams{AdminID: "admin-1", PuzzleType: "sudoku"})

	if err := mgr.Remove(ctx, id, "intruder"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := mgr.Remove(ctx, id, "admin-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := mgr.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := mgr.Remove(ctx, id, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestManagerCleanupFinished(t *testing.T) {
	mgr, store := setupTest(t)
	ctx := context.Background()

	id, _ := mgr.Create(ctx, CreateParams{AdminID: "a", PuzzleType: "sudoku"})
	phase, _ := json.Marshal(Phase{Status: StatusFinished, EndReason: EndTerminated})
	if err := store.Put(ctx, PhasePath(id), phase); err != nil {
		t.Fatalf("put phase: %v", err)
	}

	mgr.cleanup(ctx, time.Hour)

	if _, err := mgr.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected finished session to be cleaned up, got %v", err)
	}
}

func TestManagerCleanupStale(t *testing.T) {
	mgr, _ := setupTest(t)
	ctx := context.Background()

	id, _ := mgr.Create(ctx, CreateParams{AdminID: "a", PuzzleType: "sudoku"})

	// Two hours pass; the waiting session is now older than maxAge.
	mgr.Now = func() time.Time { return time.UnixMilli(1_000_000).Add(2 * time.Hour) }
	mgr.cleanup(ctx, time.Hour)

	if _, err := mgr.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale session to be cleaned up, got %v", err)
	}
}

func TestManagerCleanupKeepsActive(t *testing.T) {
	mgr, _ := setupTest(t)
	ctx := context.Background()

	id, _ := mgr.Create(ctx, CreateParams{AdminID: "a", PuzzleType: "sudoku"})
	mgr.cleanup(ctx, time.Hour)

	if _, err := mgr.Get(ctx, id); err != nil {
		t.Fatalf("expected young waiting session to survive cleanup, got %v", err)
	}
}

func TestGenerateCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{6}$`)
	for i := 0; i < 20; i++ {
		code := generateCode()
		if !re.MatchString(code) {
			t.Fatalf("expected 6 hex chars, got %q", code)
		}
	}
}
