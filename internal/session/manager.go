package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	mrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/storage"
)

const createAttempts = 5

// Manager creates sessions, lists them, and garbage-collects stale ones. It
// owns the session-level documents; per-player documents are written by the
// clients themselves.
type Manager struct {
	store    storage.Store
	registry *puzzle.Registry
	catalog  *powerup.Catalog

	rngMu sync.Mutex
	rng   *mrand.Rand

	// Now and CodeFn are swappable for tests.
	Now    func() time.Time
	CodeFn func() string
}

// NewManager wires a manager to its store, puzzle registry, and ability
// catalog. A nil rng gets a time-seeded one.
func NewManager(st storage.Store, reg *puzzle.Registry, cat *powerup.Catalog, rng *mrand.Rand) *Manager {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{
		store:    st,
		registry: reg,
		catalog:  cat,
		rng:      rng,
		Now:      time.Now,
		CodeFn:   generateCode,
	}
}

// CreateParams selects what kind of session to create.
type CreateParams struct {
	AdminID          string
	PuzzleType       string
	Difficulty       string
	TimeLimitMinutes int
	RankOnTimeout    bool
	Powerup          powerup.Config
}

// Create generates a puzzle instance, allocates the shared powerup pool if
// one is configured, and writes the session documents. The phase document is
// written last so a session never becomes visible half-built.
func (m *Manager) Create(ctx context.Context, params CreateParams) (string, error) {
	plugin, ok := m.registry.Get(params.PuzzleType)
	if !ok {
		return "", fmt.Errorf("%w: %s", puzzle.ErrUnknownType, params.PuzzleType)
	}
	if params.Difficulty == "" {
		params.Difficulty = "easy"
	}

	cfg := params.Powerup
	cfg.ApplyDefaults()
	if cfg.Enabled {
		if err := cfg.Validate(m.catalog); err != nil {
			return "", err
		}
	}

	inst, err := plugin.Create(params.Difficulty)
	if err != nil {
		return "", fmt.Errorf("create %s puzzle: %w", params.PuzzleType, err)
	}
	initial, err := plugin.MarshalState(inst.Initial)
	if err != nil {
		return "", err
	}
	solution, err := plugin.MarshalState(inst.Solution)
	if err != nil {
		return "", err
	}

	id, err := m.claimCode(ctx)
	if err != nil {
		return "", err
	}

	type doc struct {
		path  string
		value any
	}
	docs := []doc{
		{ConfigPath(id), Config{
			AdminID:          params.AdminID,
			PuzzleType:       params.PuzzleType,
			Difficulty:       params.Difficulty,
			TimeLimitMinutes: params.TimeLimitMinutes,
			RankOnTimeout:    params.RankOnTimeout,
			CreatedAt:        m.Now().UnixMilli(),
			Powerup:          cfg,
		}},
		{PuzzlePath(id), PuzzleDoc{
			Type:       params.PuzzleType,
			Difficulty: params.Difficulty,
			Initial:    initial,
			Solution:   solution,
			Meta:       inst.Meta,
		}},
		{RosterPath(id), []string{}},
	}
	if cfg.Enabled && cfg.Shared() {
		pool, err := powerup.Allocate(cfg, m.catalog, m.drawRng())
		if err != nil {
			return "", err
		}
		docs = append(docs, doc{PoolPath(id), powerup.CountByType(pool)})
	}
	docs = append(docs, doc{PhasePath(id), Phase{Status: StatusWaiting}})

	for _, d := range docs {
		data, err := json.Marshal(d.value)
		if err != nil {
			return "", err
		}
		if err := m.store.Put(ctx, d.path, data); err != nil {
			return "", fmt.Errorf("write %s: %w", d.path, err)
		}
	}
	log.Printf("created session %s (%s/%s)", id, params.PuzzleType, params.Difficulty)
	return id, nil
}

// AllocateInventory draws one player's personal loadout for per-player
// allocation modes.
func (m *Manager) AllocateInventory(cfg powerup.Config) ([]string, error) {
	return powerup.Allocate(cfg, m.catalog, m.drawRng())
}

// drawRng derives an independent generator per draw so concurrent creates
// never share a rand.Rand.
func (m *Manager) drawRng() *mrand.Rand {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return mrand.New(mrand.NewSource(m.rng.Int63()))
}

func (m *Manager) claimCode(ctx context.Context) (string, error) {
	for i := 0; i < createAttempts; i++ {
		id := m.CodeFn()
		_, err := m.store.Get(ctx, PhasePath(id))
		if errors.Is(err, storage.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("could not find a free session code")
}

// Get loads one session snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return Load(ctx, m.store, id)
}

// Summary is the listing shape for one session.
type Summary struct {
	ID         string `json:"id"`
	PuzzleType string `json:"puzzleType"`
	Difficulty string `json:"difficulty"`
	Status     Status `json:"status"`
	Players    int    `json:"players"`
	CreatedAt  int64  `json:"createdAt"`
}

// List summarizes every session in the store, newest first.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	entries, err := m.store.List(ctx, Root)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Session)
	for path, value := range entries {
		id, ok := sessionID(path)
		if !ok {
			continue
		}
		s := byID[id]
		if s == nil {
			s = New(id)
			byID[id] = s
		}
		if err := s.Apply(storage.Event{Path: path, Value: value}); err != nil {
			log.Printf("skipping undecodable document %s: %v", path, err)
		}
	}
	summaries := make([]Summary, 0, len(byID))
	for id, s := range byID {
		if s.Phase.Status == "" {
			continue
		}
		summaries = append(summaries, Summary{
			ID:         id,
			PuzzleType: s.Config.PuzzleType,
			Difficulty: s.Config.Difficulty,
			Status:     s.Phase.Status,
			Players:    len(s.Roster),
			CreatedAt:  s.Config.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt != summaries[j].CreatedAt {
			return summaries[i].CreatedAt > summaries[j].CreatedAt
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// Remove deletes a session subtree. Only the admin may do this.
func (m *Manager) Remove(ctx context.Context, id, callerID string) error {
	s, err := Load(ctx, m.store, id)
	if err != nil {
		return err
	}
	if callerID != s.Config.AdminID {
		return ErrNotAdmin
	}
	return m.store.Delete(ctx, Prefix(id))
}

// CleanupLoop deletes finished and abandoned sessions every interval until
// the context is cancelled. Any instance of the service can run it; deleting
// an already-deleted subtree is a no-op.
func (m *Manager) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(ctx, maxAge)
		}
	}
}

func (m *Manager) cleanup(ctx context.Context, maxAge time.Duration) {
	summaries, err := m.List(ctx)
	if err != nil {
		log.Printf("cleanup list failed: %v", err)
		return
	}
	cutoff := m.Now().Add(-maxAge)
	for _, s := range summaries {
		created := time.UnixMilli(s.CreatedAt)
		if s.Status != StatusFinished && !created.Before(cutoff) {
			continue
		}
		log.Printf("cleaning up session %s (%s, created %s)", s.ID, s.Status, humanize.Time(created))
		if err := m.store.Delete(ctx, Prefix(s.ID)); err != nil {
			log.Printf("cleanup of session %s failed: %v", s.ID, err)
		}
	}
}

// sessionID extracts the session code from a document path.
func sessionID(path string) (string, bool) {
	rel, ok := strings.CutPrefix(path, Root+"/")
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rel, "/")
	return id, id != ""
}

func generateCode() string {
	b := make([]byte, 3) // 6 hex chars
	rand.Read(b)
	return hex.EncodeToString(b)
}
