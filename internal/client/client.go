// Package client implements the per-player reactive process: a local session
// snapshot kept current by store watch events, the move pipeline, powerup
// activation, and the expiry resolver. Clients coordinate only through the
// store; any number of them can run against the same session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	mrand "math/rand"
	"sync"
	"time"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

// ErrInvalidMove reports a move that failed plugin validation. Nothing is
// written to the store in that case.
var ErrInvalidMove = errors.New("invalid move")

const defaultSweepInterval = 200 * time.Millisecond

// Options configures a client. Store, Registry, Catalog, and SessionID are
// required; PlayerID and Name identify the participant (observers leave them
// empty). Rng, Now, and SweepInterval have working defaults.
type Options struct {
	Store     storage.Store
	Registry  *puzzle.Registry
	Catalog   *powerup.Catalog
	SessionID string
	PlayerID  string
	Name      string

	Rng           *mrand.Rand
	Now           func() time.Time
	SweepInterval time.Duration
}

// Client is one participant's (or observer's) connection to a session.
type Client struct {
	store    storage.Store
	registry *puzzle.Registry
	catalog  *powerup.Catalog
	plugin   puzzle.Puzzle
	initial  puzzle.State
	solution puzzle.State

	sessionID string
	playerID  string
	now       func() time.Time
	rng       *mrand.Rand
	sweep     time.Duration

	mu   sync.RWMutex
	sess *session.Session

	updates   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Join adds a new player to a waiting session and returns their client. The
// roster append is a compare-and-swap, so capacity and uniqueness hold even
// when joins race.
func Join(ctx context.Context, opts Options) (*Client, error) {
	c, err := connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := c.join(ctx, opts); err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

// Resume reattaches to a session the player already joined. It writes
// nothing.
func Resume(ctx context.Context, opts Options) (*Client, error) {
	c, err := connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !c.sess.HasPlayer(opts.PlayerID) {
		return nil, session.ErrUnknownPlayer
	}
	c.start()
	return c, nil
}

// Observe attaches a read-only, non-competing view. Observers see every
// board and never write, but still run the expiry resolver.
func Observe(ctx context.Context, opts Options) (*Client, error) {
	opts.PlayerID = ""
	c, err := connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

// connect loads the snapshot and resolves the puzzle plugin, but starts no
// goroutines yet.
func connect(ctx context.Context, opts Options) (*Client, error) {
	s, err := session.Load(ctx, opts.Store, opts.SessionID)
	if err != nil {
		return nil, err
	}
	plugin, ok := opts.Registry.Get(s.Puzzle.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", puzzle.ErrUnknownType, s.Puzzle.Type)
	}
	initial, err := plugin.UnmarshalState(s.Puzzle.Initial)
	if err != nil {
		return nil, fmt.Errorf("decode initial state: %w", err)
	}
	solution, err := plugin.UnmarshalState(s.Puzzle.Solution)
	if err != nil {
		return nil, fmt.Errorf("decode solution state: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		store:     opts.Store,
		registry:  opts.Registry,
		catalog:   opts.Catalog,
		plugin:    plugin,
		initial:   initial,
		solution:  solution,
		sessionID: opts.SessionID,
		playerID:  opts.PlayerID,
		now:       now,
		sess:      s,
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		sweep:     opts.SweepInterval,
		rng:       opts.Rng,
	}, nil
}

// join performs the player's store writes: roster append, then the player
// documents, then the personal inventory when the mode calls for one.
func (c *Client) join(ctx context.Context, opts Options) error {
	if err := c.sess.CanJoin(c.playerID); err != nil {
		return err
	}
	err := c.store.Swap(ctx, session.RosterPath(c.sessionID), func(old []byte) ([]byte, error) {
		var roster []string
		if old != nil {
			if err := json.Unmarshal(old, &roster); err != nil {
				return nil, fmt.Errorf("decode roster: %w", err)
			}
		}
		if len(roster) >= session.MaxPlayers {
			return nil, session.ErrSessionFull
		}
		for _, id := range roster {
			if id == c.playerID {
				return nil, session.ErrDuplicatePlayer
			}
		}
		return json.Marshal(append(roster, c.playerID))
	})
	if err != nil {
		return err
	}

	profile := session.Profile{Name: opts.Name, Status: session.PlayerPlaying}
	if err := c.putJSON(ctx, session.ProfilePath(c.sessionID, c.playerID), profile); err != nil {
		return err
	}
	state := puzzle.Envelope{Type: c.sess.Puzzle.Type, Data: c.sess.Puzzle.Initial}
	if err := c.putJSON(ctx, session.StatePath(c.sessionID, c.playerID), state); err != nil {
		return err
	}
	if err := c.putJSON(ctx, session.CompletionPath(c.sessionID, c.playerID), 0); err != nil {
		return err
	}

	var inventory map[string]int
	cfg := c.sess.Config.Powerup
	if cfg.Enabled && cfg.PerPlayer() {
		rng := c.rng
		if rng == nil {
			rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
		}
		loadout, err := powerup.Allocate(cfg, c.catalog, rng)
		if err != nil {
			return err
		}
		inventory = powerup.CountByType(loadout)
		if err := c.putJSON(ctx, session.InventoryPath(c.sessionID, c.playerID), inventory); err != nil {
			return err
		}
	}

	// Seed the local snapshot with our own documents; the watch echo
	// re-applies them.
	c.mu.Lock()
	c.sess.Roster = append(c.sess.Roster, c.playerID)
	c.sess.Players[c.playerID] = &session.Player{
		Profile:   profile,
		State:     state,
		Inventory: inventory,
	}
	c.mu.Unlock()
	return nil
}

// start spins up the watch loop and the resolver ticker.
func (c *Client) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	events, cancelWatch, err := c.store.Watch(ctx, session.Prefix(c.sessionID))
	if err != nil {
		log.Printf("session %s: watch failed: %v", c.sessionID, err)
		return
	}
	defer cancelWatch()

	interval := c.sweep
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.mu.Lock()
			if err := c.sess.Apply(ev); err != nil {
				log.Printf("session %s: %v", c.sessionID, err)
			}
			c.mu.Unlock()
			c.notify()
		case <-ticker.C:
			c.resolve(ctx)
		}
	}
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Updates signals after snapshot changes. Signals coalesce; read Snapshot for
// the current state.
func (c *Client) Updates() <-chan struct{} { return c.updates }

// Snapshot returns a deep copy of the client's current session view.
func (c *Client) Snapshot() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.Clone()
}

// PlayerID returns the identity this client acts as; empty for observers.
func (c *Client) PlayerID() string { return c.playerID }

// Close stops the watch loop and resolver. It never touches the store.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
}

func (c *Client) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (c *Client) nowMs() int64 { return c.now().UnixMilli() }

// decodeState unwraps a state envelope, refusing bytes tagged for a different
// puzzle type. An empty envelope means the player is still on the initial
// state.
func (c *Client) decodeState(env puzzle.Envelope) (puzzle.State, error) {
	if env.Type == "" {
		return c.initial, nil
	}
	if env.Type != c.plugin.Info().ID {
		return nil, fmt.Errorf("%w: state tagged %q, session puzzle is %q",
			puzzle.ErrStateMismatch, env.Type, c.plugin.Info().ID)
	}
	return c.plugin.UnmarshalState(env.Data)
}
