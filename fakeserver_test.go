package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fakeSigningKey = []byte("fake-server-signing-key")

type fakeUser struct {
	id          int64
	userName    string
	displayName string
	password    string
}

type fakeFile struct {
	id      int64
	owner   int64
	name    string
	typ     string
	data    []byte
	created time.Time
}

// fakeServer is an in-memory filebox server: accounts, rotating tokens, and
// per-user file storage.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]*fakeUser
	access   map[string]int64 // live access token -> user id
	refresh  map[string]int64 // live refresh token -> user id
	files    map[int64]*fakeFile
	nextUser int64
	nextFile int64
	issued   int
	refreshN int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		users:   make(map[string]*fakeUser),
		access:  make(map[string]int64),
		refresh: make(map[string]int64),
		files:   make(map[int64]*fakeFile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", fs.handleRegister)
	mux.HandleFunc("POST /api/auth/login", fs.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", fs.handleRefresh)
	mux.HandleFunc("GET /api/files/", fs.authed(fs.handleList))
	mux.HandleFunc("POST /api/files/upload", fs.authed(fs.handleUpload))
	mux.HandleFunc("GET /api/files/{id}/download", fs.authed(fs.handleDownload))
	mux.HandleFunc("DELETE /api/files/{id}", fs.authed(fs.handleDelete))

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)

	return fs
}

// expireAccessTokens invalidates every issued access token, forcing the
// next authenticated request through a refresh.
func (fs *fakeServer) expireAccessTokens() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	clear(fs.access)
}

// revokeRefreshTokens invalidates every refresh token.
func (fs *fakeServer) revokeRefreshTokens() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	clear(fs.refresh)
}

func (fs *fakeServer) refreshCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.refreshN
}

func (fs *fakeServer) fileCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return len(fs.files)
}

// issueTokens mints a token pair for uid. Caller holds fs.mu.
func (fs *fakeServer) issueTokens(uid int64) map[string]any {
	fs.issued++

	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(uid, 10),
		"type": "access",
		"exp":  time.Now().Add(30 * time.Minute).Unix(),
		"jti":  strconv.Itoa(fs.issued),
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(fakeSigningKey)
	if err != nil {
		panic(err)
	}

	refresh := fmt.Sprintf("refresh-%d-%d", uid, fs.issued)

	fs.access[access] = uid
	fs.refresh[refresh] = uid

	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    1800,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (fs *fakeServer) authed(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		fs.mu.Lock()
		uid, live := fs.access[token]
		fs.mu.Unlock()

		if !live {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		next(w, r, uid)
	}
}

func (fs *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DisplayName string `json:"displayName"`
		UserName    string `json:"userName"`
		Password    string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, taken := fs.users[in.UserName]; taken {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}

	fs.nextUser++
	u := &fakeUser{id: fs.nextUser, userName: in.UserName, displayName: in.DisplayName, password: in.Password}
	fs.users[in.UserName] = u

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          u.id,
		"displayName": u.displayName,
		"userName":    u.userName,
	})
}

func (fs *fakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	u, ok := fs.users[in.UserName]
	if !ok || u.password != in.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	writeJSON(w, http.StatusOK, fs.issueTokens(u.id))
}

func (fs *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.refreshN++

	uid, ok := fs.refresh[in.RefreshToken]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	delete(fs.refresh, in.RefreshToken)
	writeJSON(w, http.StatusOK, fs.issueTokens(uid))
}

func (fs *fakeServer) handleList(w http.ResponseWriter, r *http.Request, uid int64) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var owned []*fakeFile

	for _, f := range fs.files {
		if f.owner == uid {
			owned = append(owned, f)
		}
	}

	sort.Slice(owned, func(i, j int) bool { return owned[i].id < owned[j].id })

	entries := make([]map[string]any, 0, size)

	for i := (page - 1) * size; i < len(owned) && i < page*size; i++ {
		f := owned[i]
		entries = append(entries, map[string]any{
			"id":       f.id,
			"fileName": f.name,
			"fileType": f.typ,
			"fileSize": len(f.data),
			"created":  f.created.UTC().Format("2006-01-02T15:04:05"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files":     entries,
		"total":     len(owned),
		"page":      page,
		"page_size": size,
	})
}

func (fs *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request, uid int64) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "reading file")
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.nextFile++
	f := &fakeFile{
		id:      fs.nextFile,
		owner:   uid,
		name:    header.Filename,
		typ:     header.Header.Get("Content-Type"),
		data:    data,
		created: time.Now(),
	}
	fs.files[f.id] = f

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       f.id,
		"fileName": f.name,
		"fileType": f.typ,
		"fileSize": len(f.data),
		"filePath": fmt.Sprintf("uploads/%d/%s", uid, f.name),
		"message":  "File uploaded successfully",
	})
}

// lookup returns the caller's file named by the {id} path value.
func (fs *fakeServer) lookup(r *http.Request, uid int64) (*fakeFile, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return nil, false
	}

	f, ok := fs.files[id]
	if !ok || f.owner != uid {
		return nil, false
	}

	return f, true
}

func (fs *fakeServer) handleDownload(w http.ResponseWriter, r *http.Request, uid int64) {
	fs.mu.Lock()
	f, ok := fs.lookup(r, uid)
	fs.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", f.typ)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.name))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
	_, _ = w.Write(f.data)
}

func (fs *fakeServer) handleDelete(w http.ResponseWriter, r *http.Request, uid int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.lookup(r, uid)
	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}

	delete(fs.files, f.id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}
