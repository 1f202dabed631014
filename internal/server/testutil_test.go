package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"puzzlerace/internal/client"
	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/puzzle/sudoku"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	store storage.Store
	mgr   *session.Manager
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })

	reg := puzzle.NewRegistry()
	reg.Register(sudoku.Sudoku{})
	cat := powerup.Default()
	mgr := session.NewManager(store, reg, cat, nil)

	srv := New(store, reg, cat, mgr)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, mgr: mgr}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// createSessionViaAPI posts the given create body and decodes the 201
// response.
func createSessionViaAPI(t *testing.T, ts *httptest.Server, body string) createSessionResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var result createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return result
}

const plainCreateBody = `{"adminName":"Alice","puzzleType":"sudoku"}`

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, id, endpoint string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/sessions/" + id + "/" + endpoint
}

func wsDial(ctx context.Context, t *testing.T, ts *httptest.Server, id, endpoint string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, id, endpoint), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// sendWS marshals and sends a typed WebSocket message.
func sendWS(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", msgType, err)
	}
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: p})
	if err != nil {
		t.Fatalf("marshal ws message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// readWS reads and unmarshals a single WebSocket message.
func readWS(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readError reads one message and expects it to be an error frame.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) errorPayload {
	t.Helper()
	msg := readWS(ctx, t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q: %s", msg.Type, string(msg.Payload))
	}
	var ep errorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return ep
}

// waitError reads frames until an error frame arrives, skipping state pushes
// that may be interleaved with it.
func waitError(ctx context.Context, t *testing.T, conn *websocket.Conn) errorPayload {
	t.Helper()
	for {
		msg := readWS(ctx, t, conn)
		switch msg.Type {
		case "error":
			var ep errorPayload
			if err := json.Unmarshal(msg.Payload, &ep); err != nil {
				t.Fatalf("unmarshal error payload: %v", err)
			}
			return ep
		case "state":
		default:
			t.Fatalf("unexpected message type %q", msg.Type)
		}
	}
}

// waitState reads frames until one satisfies pred. State frames are
// watch-driven and coalesce, so tests can never count on an exact frame
// sequence; they wait for the condition they care about instead.
func waitState(ctx context.Context, t *testing.T, conn *websocket.Conn, desc string, pred func(statePayload) bool) statePayload {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", desc, err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal ws message: %v", err)
		}
		switch msg.Type {
		case "state":
			var sp statePayload
			if err := json.Unmarshal(msg.Payload, &sp); err != nil {
				t.Fatalf("unmarshal state payload: %v", err)
			}
			if pred(sp) {
				return sp
			}
		case "error":
			t.Fatalf("waiting for %s: got error frame: %s", desc, string(msg.Payload))
		default:
			t.Fatalf("unexpected message type %q", msg.Type)
		}
	}
}

// anyState accepts the first state frame.
func anyState(statePayload) bool { return true }

// joinSocket dials the player socket, joins as name, and returns the
// connection with the first state frame.
func joinSocket(ctx context.Context, t *testing.T, ts *httptest.Server, sessionID, name, playerID string) (*websocket.Conn, statePayload) {
	t.Helper()
	conn := wsDial(ctx, t, ts, sessionID, "ws")
	sendWS(ctx, t, conn, "join", joinPayload{Name: name, PlayerID: playerID})
	sp := waitState(ctx, t, conn, "join of "+name, anyState)
	return conn, sp
}

// resumeSocket dials the player socket and reattaches a seated player.
func resumeSocket(ctx context.Context, t *testing.T, ts *httptest.Server, sessionID, playerID string) (*websocket.Conn, statePayload) {
	t.Helper()
	conn := wsDial(ctx, t, ts, sessionID, "ws")
	sendWS(ctx, t, conn, "resume", joinPayload{PlayerID: playerID})
	sp := waitState(ctx, t, conn, "resume of "+playerID, anyState)
	return conn, sp
}

// startSession has the admin resume, seats one more player, and starts the
// session. Returns both connections and the second player's id.
func startSession(ctx context.Context, t *testing.T, env *testEnv, created createSessionResponse) (admin, other *websocket.Conn, otherID string) {
	t.Helper()
	admin, _ = resumeSocket(ctx, t, env.ts, created.ID, created.AdminID)
	other, first := joinSocket(ctx, t, env.ts, created.ID, "Bob", "")
	otherID = first.PlayerID

	sendWS(ctx, t, admin, "start", nil)
	playing := func(sp statePayload) bool { return sp.View.Status == session.StatusPlaying }
	waitState(ctx, t, admin, "session playing", playing)
	waitState(ctx, t, other, "session playing", playing)
	return admin, other, otherID
}

// playerByID finds one player's row in a view.
func playerByID(view client.View, id string) (client.PlayerView, bool) {
	for _, p := range view.Players {
		if p.ID == id {
			return p, true
		}
	}
	return client.PlayerView{}, false
}

// --- Puzzle helpers ---

// boards loads the stored puzzle documents for direct inspection. Tests use
// the solution to craft correct moves; the gateway itself never sends it.
func boards(ctx context.Context, t *testing.T, env *testEnv, sessionID string) (initial, solution sudoku.Board) {
	t.Helper()
	sess, err := session.Load(ctx, env.store, sessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if err := json.Unmarshal(sess.Puzzle.Initial, &initial); err != nil {
		t.Fatalf("decode initial board: %v", err)
	}
	if err := json.Unmarshal(sess.Puzzle.Solution, &solution); err != nil {
		t.Fatalf("decode solution board: %v", err)
	}
	return initial, solution
}

func moveJSON(t *testing.T, row, col, value int) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(sudoku.Move{Row: row, Col: col, Value: value})
	if err != nil {
		t.Fatalf("marshal move: %v", err)
	}
	return data
}

// firstMove returns the move payload for the first open cell, filled with
// its solution value.
func firstMove(ctx context.Context, t *testing.T, env *testEnv, sessionID string) json.RawMessage {
	t.Helper()
	initial, solution := boards(ctx, t, env, sessionID)
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			if !initial.Given[r][c] {
				return moveJSON(t, r, c, solution.Cells[r][c])
			}
		}
	}
	t.Fatal("no open cell on the board")
	return nil
}

// solveMoves returns correct moves for every open cell, in board order.
func solveMoves(ctx context.Context, t *testing.T, env *testEnv, sessionID string) []json.RawMessage {
	t.Helper()
	initial, solution := boards(ctx, t, env, sessionID)
	var moves []json.RawMessage
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			if !initial.Given[r][c] {
				moves = append(moves, moveJSON(t, r, c, solution.Cells[r][c]))
			}
		}
	}
	return moves
}
