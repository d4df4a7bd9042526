// Package handlers exposes the room control plane and the websocket
// endpoint over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/game/room"
	"github.com/cory-johannsen/rooms/internal/game/session"
	"github.com/cory-johannsen/rooms/internal/gameserver"
)

const (
	defaultMatchLimit = 20
	maxMatchLimit     = 100
)

// RoomService is the slice of the room registry the control plane uses.
type RoomService interface {
	Create() string
	Get(roomID string) (room.View, error)
}

// SessionServer upgrades a request into a room session and serves it.
type SessionServer interface {
	Serve(w http.ResponseWriter, r *http.Request, req session.JoinRequest)
}

// MatchLister returns recently finished matches, newest first.
type MatchLister interface {
	ListRecent(ctx context.Context, limit int) ([]gameserver.MatchResult, error)
}

// Router serves the control plane.
type Router struct {
	rooms    RoomService
	sessions SessionServer
	matches  MatchLister
	origins  []string
	logger   *zap.Logger
	mux      *httprouter.Router
}

// NewRouter builds the HTTP routes.
//
// Precondition: rooms, sessions and logger must be non-nil. matches may be
// nil, in which case /matches is not routed.
// Postcondition: Returns a Router ready to be used as an http.Handler.
func NewRouter(rooms RoomService, sessions SessionServer, matches MatchLister, allowedOrigins []string, logger *zap.Logger) *Router {
	rt := &Router{
		rooms:    rooms,
		sessions: sessions,
		matches:  matches,
		origins:  allowedOrigins,
		logger:   logger,
		mux:      httprouter.New(),
	}
	rt.mux.POST("/create_room", rt.createRoom)
	rt.mux.GET("/rooms/:room_id", rt.getRoom)
	rt.mux.GET("/ws/:room_id/:player_id", rt.serveSession)
	rt.mux.GET("/ping", rt.ping)
	if matches != nil {
		rt.mux.GET("/matches", rt.listMatches)
	}
	rt.mux.GlobalOPTIONS = http.HandlerFunc(rt.preflight)
	rt.mux.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, detail{Detail: "Not Found"})
	})
	rt.mux.PanicHandler = rt.recoverPanic
	return rt
}

// ServeHTTP applies CORS headers and dispatches to the routes.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.setCORS(w, r)
	rt.mux.ServeHTTP(w, r)
}

type detail struct {
	Detail string `json:"detail"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
	Status string `json:"status"`
}

type pingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (rt *Router) createRoom(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	id := rt.rooms.Create()
	rt.logger.Info("room created", zap.String("room_id", id))
	writeJSON(w, http.StatusOK, createRoomResponse{RoomID: id, Status: "created"})
}

func (rt *Router) getRoom(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	v, err := rt.rooms.Get(ps.ByName("room_id"))
	if errors.Is(err, room.ErrRoomNotFound) {
		writeJSON(w, http.StatusNotFound, detail{Detail: "Room not found"})
		return
	}
	if err != nil {
		rt.logger.Error("reading room", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, detail{Detail: "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (rt *Router) serveSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rt.sessions.Serve(w, r, session.JoinRequest{
		RoomID:   ps.ByName("room_id"),
		PlayerID: ps.ByName("player_id"),
		Name:     strings.TrimSpace(r.URL.Query().Get("name")),
	})
}

func (rt *Router) ping(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, pingResponse{
		Message:   "Server is running",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (rt *Router) listMatches(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := defaultMatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, detail{Detail: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMatchLimit)
	}

	results, err := rt.matches.ListRecent(r.Context(), limit)
	if err != nil {
		rt.logger.Error("listing matches", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, detail{Detail: "Internal Server Error"})
		return
	}
	if results == nil {
		results = []gameserver.MatchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (rt *Router) preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allow := ""
	for _, o := range rt.origins {
		if o == "*" {
			allow = "*"
			break
		}
		if origin != "" && strings.EqualFold(o, origin) {
			allow = origin
		}
	}
	if allow == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allow)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if allow != "*" {
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func (rt *Router) recoverPanic(w http.ResponseWriter, r *http.Request, v any) {
	rt.logger.Error("handler panic",
		zap.String("path", r.URL.Path),
		zap.Any("panic", v),
	)
	writeJSON(w, http.StatusInternalServerError, detail{Detail: "Internal Server Error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
