package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// apiStore is what the HTTP layer needs from persistence: message
// history plus account management.
type apiStore interface {
	MessageStore
	CreateUser(username, passwordHash string) (User, error)
	FindUser(username string) (User, string, error)
	ListUsers() ([]User, error)
}

// api serves the HTTP side of the system: identity issuance, history
// retrieval and attachment downloads. The websocket relay consumes the
// same token authority, so a cookie minted here opens a connection.
type api struct {
	store apiStore
	auth  *TokenAuthority
	reg   *Registry
	log   *slog.Logger
}

func newAPI(store apiStore, auth *TokenAuthority, reg *Registry, log *slog.Logger) *api {
	return &api{store: store, auth: auth, reg: reg, log: log}
}

func (a *api) routes(mux *http.ServeMux, uploadDir string) {
	mux.HandleFunc("POST /register", a.register)
	mux.HandleFunc("POST /login", a.login)
	mux.HandleFunc("POST /logout", a.logout)
	mux.HandleFunc("GET /profile", a.profile)
	mux.HandleFunc("GET /people", a.people)
	mux.HandleFunc("GET /messages/{userId}", a.messages)
	mux.HandleFunc("GET /health", a.health)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir))))
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := hashPassword(creds.Password)
	if err != nil {
		a.log.Error("hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}

	user, err := a.store.CreateUser(creds.Username, hash)
	if errors.Is(err, ErrUsernameTaken) {
		writeJSON(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		a.log.Error("create user", "error", err)
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}

	if err := a.setTokenCookie(w, Identity{UserID: user.ID, Username: user.Username}); err != nil {
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, hash, err := a.store.FindUser(creds.Username)
	if errors.Is(err, ErrUserNotFound) {
		writeJSON(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		a.log.Error("find user", "error", err)
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}

	if !checkPassword(hash, creds.Password) {
		writeJSON(w, http.StatusUnauthorized, "wrong password")
		return
	}

	if err := a.setTokenCookie(w, Identity{UserID: user.ID, Username: user.Username}); err != nil {
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": user.ID})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	writeJSON(w, http.StatusOK, "ok")
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	identity, err := a.identityFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, "no token")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *api) people(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers()
	if err != nil {
		a.log.Error("list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}
	if users == nil {
		users = []User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// messages returns the conversation between the authenticated user and
// the user in the path, oldest first.
func (a *api) messages(w http.ResponseWriter, r *http.Request) {
	identity, err := a.identityFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, "no token")
		return
	}

	other := r.PathValue("userId")
	msgs, err := a.store.ListBetween(identity.UserID, other)
	if err != nil {
		a.log.Error("list messages", "error", err)
		writeJSON(w, http.StatusInternalServerError, "error")
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": a.reg.Count(),
	})
}

func (a *api) identityFromRequest(r *http.Request) (Identity, error) {
	cookie, err := r.Cookie("token")
	if err != nil {
		return Identity{}, err
	}
	return a.auth.Verify(cookie.Value)
}

func (a *api) setTokenCookie(w http.ResponseWriter, identity Identity) error {
	token, err := a.auth.Sign(identity)
	if err != nil {
		a.log.Error("sign token", "error", err)
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// withCORS restricts cross-origin access to the configured client and
// allows credentialed requests so the token cookie travels.
func withCORS(clientURL string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", clientURL)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
