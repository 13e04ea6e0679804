package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"whatyousayin/internal/auth"
	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

// PresenceTracker is the presence surface the API needs: just the
// online snapshot.
type PresenceTracker interface {
	OnlineUsers() []string
}

// ConnectionStats decouples the health endpoint from the registry
// implementation.
type ConnectionStats interface {
	Stats() map[string]int
}

// Server is the REST surface: account lifecycle, room catalog, message
// history, presence snapshot, health. No realtime logic lives here.
type Server struct {
	store    interfaces.Store
	tokens   *auth.TokenManager
	presence PresenceTracker
	stats    ConnectionStats
	router   *http.ServeMux
	validate *validator.Validate
	log      *slog.Logger
}

func NewServer(store interfaces.Store, tokens *auth.TokenManager, presence PresenceTracker, stats ConnectionStats, log *slog.Logger) *Server {
	s := &Server{
		store:    store,
		tokens:   tokens,
		presence: presence,
		stats:    stats,
		router:   http.NewServeMux(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.handle("POST /api/auth/register", s.register)
	s.handle("POST /api/auth/login", s.login)
	s.handle("GET /api/users/me", s.currentUser)
	s.handle("GET /api/users/online", s.onlineUsers)
	s.handle("GET /api/rooms", s.listRooms)
	s.handle("POST /api/rooms", s.createRoom)
	s.handle("GET /api/rooms/{room_id}", s.getRoom)
	s.handle("GET /api/rooms/{room_id}/messages", s.listMessages)
	s.handle("GET /health", s.healthCheck)
	s.router.Handle("OPTIONS /api/", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(h)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        *types.User `json:"user"`
}

type CreateRoomRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=64"`
	Description string `json:"description" validate:"max=256"`
	IsPublic    *bool  `json:"is_public"`
}

type ListRoomsResponse struct {
	Rooms []*types.Room `json:"rooms"`
}

type ListMessagesResponse struct {
	Messages []*types.ChatMessage `json:"messages"`
}

type OnlineUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("password hashing failed", "error", err)
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, req.Email, hashed)
	switch {
	case errors.Is(err, interfaces.ErrUsernameTaken):
		s.sendError(w, "Username already registered", http.StatusConflict)
		return
	case errors.Is(err, interfaces.ErrEmailTaken):
		s.sendError(w, "Email already registered", http.StatusConflict)
		return
	case err != nil:
		s.log.Error("user creation failed", "username", req.Username, "error", err)
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	s.issueToken(w, user, http.StatusCreated)
}

// POST /api/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		s.sendError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.log.Error("user lookup failed", "username", req.Username, "error", err)
		s.sendError(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	match, err := auth.ComparePassword(req.Password, user.HashedPassword)
	if err != nil || !match {
		s.sendError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	s.issueToken(w, user, http.StatusOK)
}

func (s *Server) issueToken(w http.ResponseWriter, user *types.User, status int) {
	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		s.log.Error("token signing failed", "username", user.Username, "error", err)
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

// GET /api/users/me
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	username, ok := s.authorize(w, r)
	if !ok {
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), username)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		s.sendError(w, "Account no longer exists", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.log.Error("user lookup failed", "username", username, "error", err)
		s.sendError(w, "Failed to load account", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(user)
}

// GET /api/users/online
func (s *Server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	users := s.presence.OnlineUsers()
	json.NewEncoder(w).Encode(OnlineUsersResponse{Users: users, Count: len(users)})
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 100)

	rooms, err := s.store.ListPublicRooms(r.Context(), skip, limit)
	if err != nil {
		s.log.Error("room listing failed", "error", err)
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ListRoomsResponse{Rooms: rooms})
}

// POST /api/rooms
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	username, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	userID, err := s.store.ResolveUser(r.Context(), username)
	if err != nil {
		s.sendError(w, "Account no longer exists", http.StatusUnauthorized)
		return
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	room, err := s.store.CreateRoom(r.Context(), strings.TrimSpace(req.Name), req.Description, isPublic, userID)
	if errors.Is(err, interfaces.ErrRoomNameTaken) {
		s.sendError(w, "Room name already in use", http.StatusConflict)
		return
	}
	if err != nil {
		s.log.Error("room creation failed", "name", req.Name, "error", err)
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(room)
}

// GET /api/rooms/{room_id}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}

	room, err := s.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, interfaces.ErrRoomNotFound) {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("room lookup failed", "room_id", roomID, "error", err)
		s.sendError(w, "Failed to load room", http.StatusInternalServerError)
		return
	}
	if !room.IsPublic {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(room)
}

// GET /api/rooms/{room_id}/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}

	exists, isPublic, _, err := s.store.RoomExists(r.Context(), roomID)
	if err != nil {
		s.log.Error("room lookup failed", "room_id", roomID, "error", err)
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if !exists || !isPublic {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	skip, limit := pagination(r, 50)

	messages, err := s.store.ListRoomMessages(r.Context(), roomID, skip, limit)
	if err != nil {
		s.log.Error("message listing failed", "room_id", roomID, "error", err)
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ListMessagesResponse{Messages: messages})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.stats.Stats(),
	})
}

// authorize extracts and verifies the bearer token, writing a 401 on
// failure.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
		return "", false
	}

	username, err := s.tokens.Verify(token)
	if err != nil {
		s.sendError(w, "Invalid or expired token", http.StatusUnauthorized)
		return "", false
	}
	return username, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.sendError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, "Invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// validationMessage flattens the first field error into a hint the
// client can show.
func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "email":
			return "Invalid email address"
		case "min":
			return fe.Field() + " is too short"
		case "max":
			return fe.Field() + " is too long"
		case "alphanum":
			return fe.Field() + " must be alphanumeric"
		}
		return "Invalid " + fe.Field()
	}
	return "Invalid request"
}

func pagination(r *http.Request, defaultLimit int) (skip, limit int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v >= 0 {
		skip = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	return skip, limit
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
