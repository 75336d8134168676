package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	// The CLI and the relay run on the same host in dev; tighten per
	// deployment when a browser frontend is served from elsewhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter wires the REST endpoints and the three websocket routes.
func NewRouter(hub *Hub, store *Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/register/", handleRegister(store))
	r.Post("/api/login/", handleLogin(store))
	r.Get("/api/users/", requireAuth(store, handleUsers(store)))
	r.Get("/api/chat/{roomID}/messages/", requireAuth(store, handleMessages(store)))
	r.Post("/api/chat/{roomID}/messages/", requireAuth(store, handleAppendMessage(store)))

	r.Get("/ws/video_call/{roomID}", serveCallWS(hub))
	r.Get("/ws/chat/{roomID}", serveChatWS(hub, store))
	r.Get("/ws/notify/{userID}", serveNotifyWS(hub))

	return r
}

// ---------------------------------------------------------------------------
// REST
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requireAuth(store *Store, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, ok := store.Authenticate(token); !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func handleRegister(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}
		user, err := store.Register(req.Username, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, ErrUserExists) {
				writeError(w, http.StatusConflict, "username already taken")
				return
			}
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}
}

func handleLogin(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request")
			return
		}
		user, access, refresh, err := store.Login(req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access":   access,
			"refresh":  refresh,
			"id":       user.ID,
			"username": user.Username,
		})
	}
}

func handleUsers(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.Users())
	}
}

func handleMessages(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.Messages(chi.URLParam(r, "roomID")))
	}
}

func handleAppendMessage(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, _ := store.Authenticate(token)

		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}
		msg := store.AppendMessage(chi.URLParam(r, "roomID"), user.ID, req.Content)
		writeJSON(w, http.StatusCreated, msg)
	}
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

func attach(hub *Hub, w http.ResponseWriter, r *http.Request, c *client) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c.hub = hub
	c.conn = conn
	c.send = make(chan []byte, 64)

	select {
	case hub.register <- c:
	case <-hub.quit:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func serveCallWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attach(hub, w, r, &client{kind: kindCall, roomID: chi.URLParam(r, "roomID")})
	}
}

func serveChatWS(hub *Hub, store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if _, ok := store.Authenticate(token); !ok {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		attach(hub, w, r, &client{kind: kindChat, roomID: chi.URLParam(r, "roomID")})
	}
}

func serveNotifyWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attach(hub, w, r, &client{kind: kindNotify, userID: chi.URLParam(r, "userID")})
	}
}
