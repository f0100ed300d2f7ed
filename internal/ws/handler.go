package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/xfrllc/frank/internal/agent"
	"github.com/xfrllc/frank/internal/auth"
	"github.com/xfrllc/frank/internal/event"
	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/internal/protocol"
)

// NewAgentGenerator adapts the backend agent to the machine's Generator.
func NewAgentGenerator(a *agent.Agent) Generator {
	return agentGenerator{agent: a}
}

// Handler upgrades authenticated requests to WebSocket sessions and runs the
// per-connection event loop.
type Handler struct {
	auth       *auth.Service
	store      ChatStore
	gen        Generator
	catalog    *agent.Catalog
	titles     TitleDispatcher
	bus        *event.Bus
	maxHistory int
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(authSvc *auth.Service, st ChatStore, gen Generator, catalog *agent.Catalog, titles TitleDispatcher, bus *event.Bus, maxHistory int) *Handler {
	return &Handler{
		auth:       authSvc,
		store:      st,
		gen:        gen,
		catalog:    catalog,
		titles:     titles,
		bus:        bus,
		maxHistory: maxHistory,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logging.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer wsConn.Close(websocket.StatusInternalError, "")

	log := logging.With().
		Str("connId", ulid.Make().String()).
		Str("userId", userID).
		Logger()

	conn := newConn(wsConn, log)
	machine := NewMachine(userID, h.store, h.gen, h.catalog, h.titles, h.bus, conn, h.maxHistory, log)

	if h.bus != nil {
		unsub := h.bus.Subscribe(event.TitleUpdated, func(ev event.Event) {
			data, ok := ev.Data.(event.TitleUpdatedData)
			if !ok {
				return
			}
			machine.NoteTitle(data.ChatID, data.Title)
			if machine.ChatID() != data.ChatID {
				return
			}
			if err := conn.Send(&protocol.ChatTitle{ChatID: data.ChatID, Title: data.Title}); err != nil {
				log.Debug().Err(err).Msg("title push failed")
			}
		})
		defer unsub()
	}

	log.Debug().Msg("websocket connected")
	h.eventLoop(r.Context(), wsConn, conn, machine, log)
}

// eventLoop reads client frames and drives the machine until the peer goes
// away or the session is denied.
func (h *Handler) eventLoop(ctx context.Context, wsConn *websocket.Conn, conn *Conn, machine *Machine, log zerolog.Logger) {
	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			if isBenignClose(err) {
				log.Debug().Msg("websocket closed")
			} else {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			detail := "invalid frame"
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				detail = de.Detail
			}
			if serr := conn.Send(&protocol.ErrorEvent{Code: protocol.CodeValidationError, Detail: detail}); serr != nil {
				log.Debug().Err(serr).Msg("error event write failed")
				return
			}
			continue
		}

		var herr error
		switch e := ev.(type) {
		case *protocol.Initialize:
			herr = machine.HandleInitialize(ctx, e)
		case *protocol.NewChat:
			herr = machine.HandleNewChat(ctx, e)
		case *protocol.Send:
			herr = machine.HandleSend(ctx, e)
		}
		if herr != nil {
			if errors.Is(herr, ErrDenied) {
				wsConn.Close(websocket.StatusPolicyViolation, "access denied")
				return
			}
			if isBenignClose(herr) {
				log.Debug().Msg("websocket closed mid-event")
			} else {
				log.Warn().Err(herr).Msg("event handling failed")
			}
			return
		}
	}
}

// isBenignClose reports whether the error is an ordinary disconnect rather
// than something worth a warning.
func isBenignClose(err error) bool {
	if err == nil {
		return false
	}
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
