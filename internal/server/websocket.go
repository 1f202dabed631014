package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"puzzlerace/internal/client"
	"puzzlerace/internal/session"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Name     string `json:"name"`
	PlayerID string `json:"playerId"`
}

type activatePayload struct {
	AbilityID string `json:"abilityId"`
}

// statePayload carries the viewer's projection plus the identity the socket
// acts as, so a freshly minted player ID reaches the browser.
type statePayload struct {
	PlayerID string      `json:"playerId,omitempty"`
	View     client.View `json:"view"`
}

type errorPayload struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

func (s *Server) handlePlayerSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.manager.Get(r.Context(), id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	// First message must be a join or a resume
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil || (msg.Type != "join" && msg.Type != "resume") {
		sendWSError(ctx, conn, "first message must be a join or resume")
		return
	}
	var jp joinPayload
	if err := json.Unmarshal(msg.Payload, &jp); err != nil {
		sendWSError(ctx, conn, "invalid join payload")
		return
	}

	cl, err := s.attach(ctx, id, msg.Type, jp)
	if err != nil {
		sendWSError(ctx, conn, err.Error())
		return
	}
	defer cl.Close()

	s.serveClient(ctx, conn, cl, true)
	log.Printf("player %s disconnected from session %s", cl.PlayerID(), id)
}

// attach turns the first socket frame into a store client. A join with a
// known playerId falls back to resuming, so a browser that lost its socket
// can reconnect with the same message it joined with.
func (s *Server) attach(ctx context.Context, sessionID, kind string, jp joinPayload) (*client.Client, error) {
	switch kind {
	case "resume":
		if jp.PlayerID == "" {
			return nil, errors.New("resume requires a playerId")
		}
		return client.Resume(ctx, s.clientOptions(sessionID, jp.PlayerID, jp.Name))
	default:
		if jp.Name == "" {
			return nil, errors.New("join requires a name")
		}
		playerID := jp.PlayerID
		if playerID == "" {
			playerID = uuid.NewString()
		}
		cl, err := client.Join(ctx, s.clientOptions(sessionID, playerID, jp.Name))
		if errors.Is(err, session.ErrDuplicatePlayer) && jp.PlayerID != "" {
			return client.Resume(ctx, s.clientOptions(sessionID, playerID, jp.Name))
		}
		return cl, err
	}
}

func (s *Server) handleObserverSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.manager.Get(r.Context(), id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	cl, err := client.Observe(ctx, s.clientOptions(id, "", ""))
	if err != nil {
		sendWSError(ctx, conn, err.Error())
		return
	}
	defer cl.Close()

	s.serveClient(ctx, conn, cl, false)
}

// serveClient pumps state frames to the socket and, when ops is set, routes
// op frames coming back. One writer goroutine owns all socket writes; the
// reader loop and the update pump both enqueue through the send channel.
// Returns when the socket closes or the context ends.
func (s *Server) serveClient(ctx context.Context, conn *websocket.Conn, cl *client.Client, ops bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan []byte, 64)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-send:
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// State pump: one snapshot immediately, then one frame per coalesced
	// store change.
	go func() {
		sendState(send, cl)
		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.Updates():
				sendState(send, cl)
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !ops {
			continue // observers only listen
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendWSMsg(send, "error", errorPayload{Message: "invalid message"})
			continue
		}
		s.handleMessage(ctx, cl, send, msg)
	}
}

// handleMessage applies one op frame. Rejected ops answer with an error frame
// naming the op; accepted ones answer with nothing, because the resulting
// store writes come back through the watch and the state pump.
func (s *Server) handleMessage(ctx context.Context, cl *client.Client, send chan []byte, msg WSMessage) {
	var err error
	switch msg.Type {
	case "start":
		err = cl.Start(ctx)
	case "move":
		err = cl.SubmitMove(ctx, msg.Payload)
	case "activate":
		var ap activatePayload
		if jsonErr := json.Unmarshal(msg.Payload, &ap); jsonErr != nil || ap.AbilityID == "" {
			sendWSMsg(send, "error", errorPayload{Op: msg.Type, Message: "invalid activate payload"})
			return
		}
		err = cl.Activate(ctx, ap.AbilityID)
	case "terminate":
		err = cl.Terminate(ctx)
	default:
		sendWSMsg(send, "error", errorPayload{Message: "unknown message type: " + msg.Type})
		return
	}
	if err != nil {
		sendWSMsg(send, "error", errorPayload{Op: msg.Type, Message: err.Error()})
	}
}

func sendState(send chan []byte, cl *client.Client) {
	sendWSMsg(send, "state", statePayload{PlayerID: cl.PlayerID(), View: cl.View()})
}

func sendWSMsg(send chan []byte, msgType string, payload any) {
	p, _ := json.Marshal(payload)
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: p})
	select {
	case send <- msg:
	default:
	}
}

func sendWSError(ctx context.Context, conn *websocket.Conn, message string) {
	p, _ := json.Marshal(errorPayload{Message: message})
	msg, _ := json.Marshal(WSMessage{Type: "error", Payload: p})
	conn.Write(ctx, websocket.MessageText, msg)
}
