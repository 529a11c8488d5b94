package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/vaultsync/internal/client/config"
	"github.com/okulov/vaultsync/internal/client/vaultdb"
	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/srpx"
)

// fakeServer speaks just enough of the HTTP contract for session tests:
// SRP handshake, token checks, and the CAS vault store, all in memory.
type fakeServer struct {
	mu sync.Mutex

	salt        []byte
	verifier    []byte
	kdfType     string
	kdfSettings json.RawMessage
	username    string

	vaults  [][]byte // index 0 is revision 1
	pending map[string]*srpx.ServerSession
	tokens  map[string]bool

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		pending: make(map[string]*srpx.ServerSession),
		tokens:  make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", f.handleRegister)
	mux.HandleFunc("POST /auth/login/initiate", f.handleInitiate)
	mux.HandleFunc("POST /auth/change-password/initiate", f.handleInitiate)
	mux.HandleFunc("POST /auth/login/finish", f.handleFinish)
	mux.HandleFunc("POST /auth/change-password", f.handleChangePassword)
	mux.HandleFunc("POST /auth/revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /status", f.auth(f.handleStatus))
	mux.HandleFunc("GET /vault", f.auth(f.handleGetVault))
	mux.HandleFunc("POST /vault", f.auth(f.handleUploadVault))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) fail(w http.ResponseWriter, status int, code string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "code": code})
}

func (f *fakeServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		ok := f.tokens[token]
		f.mu.Unlock()
		if !ok {
			f.fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (f *fakeServer) issueToken() string {
	tok := uuid.NewString()
	f.tokens[tok] = true
	return tok
}

func (f *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string          `json:"username"`
		Salt        []byte          `json:"salt"`
		Verifier    []byte          `json:"verifier"`
		KDFType     string          `json:"kdfType"`
		KDFSettings json.RawMessage `json:"kdfSettings"`
		VaultBlob   []byte          `json:"vaultBlob"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.username != "" {
		f.fail(w, http.StatusConflict, "username_taken")
		return
	}
	f.username = req.Username
	f.salt = req.Salt
	f.verifier = req.Verifier
	f.kdfType = req.KDFType
	f.kdfSettings = req.KDFSettings
	f.vaults = [][]byte{req.VaultBlob}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	srp := srpx.NewServerSession(f.verifier)
	id := uuid.NewString()
	f.pending[id] = srp

	_ = json.NewEncoder(w).Encode(map[string]any{
		"loginId":         id,
		"salt":            f.salt,
		"serverEphemeral": srp.PublicEphemeral(),
		"kdfType":         f.kdfType,
		"kdfSettings":     f.kdfSettings,
	})
}

func (f *fakeServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoginID         string `json:"loginId"`
		ClientEphemeral []byte `json:"clientEphemeral"`
		Proof           []byte `json:"sessionProof"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()

	srp, ok := f.pending[req.LoginID]
	if !ok {
		f.fail(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	delete(f.pending, req.LoginID)

	m2, err := srp.VerifyClientProof(req.ClientEphemeral, req.Proof)
	if err != nil {
		f.fail(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"serverProof":  m2,
		"accessToken":  f.issueToken(),
		"refreshToken": uuid.NewString(),
	})
}

func (f *fakeServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoginID               string          `json:"loginId"`
		ClientEphemeral       []byte          `json:"clientEphemeral"`
		Proof                 []byte          `json:"sessionProof"`
		NewSalt               []byte          `json:"newSalt"`
		NewVerifier           []byte          `json:"newVerifier"`
		NewKDFType            string          `json:"newKdfType"`
		NewKDFSettings        json.RawMessage `json:"newKdfSettings"`
		StatedCurrentRevision int64           `json:"statedCurrentRevision"`
		VaultBlob             []byte          `json:"vaultBlob"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()

	srp, ok := f.pending[req.LoginID]
	if !ok {
		f.fail(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	delete(f.pending, req.LoginID)

	m2, err := srp.VerifyClientProof(req.ClientEphemeral, req.Proof)
	if err != nil {
		f.fail(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if req.StatedCurrentRevision != int64(len(f.vaults)) {
		f.fail(w, http.StatusConflict, "vault_outdated")
		return
	}

	f.salt = req.NewSalt
	f.verifier = req.NewVerifier
	f.kdfType = req.NewKDFType
	f.kdfSettings = req.NewKDFSettings
	f.vaults = append(f.vaults, req.VaultBlob)
	f.tokens = make(map[string]bool)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"serverProof": m2,
		"newRevision": int64(len(f.vaults)),
	})
}

func (f *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"vaultRevision":          int64(len(f.vaults)),
		"serverVersion":          "test",
		"clientVersionSupported": true,
		"srpSalt":                f.salt,
	})
}

func (f *fakeServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"blob":           f.vaults[len(f.vaults)-1],
		"revisionNumber": int64(len(f.vaults)),
		"encryptionType": "aes256gcm",
	})
}

func (f *fakeServer) handleUploadVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StatedCurrentRevision int64  `json:"statedCurrentRevision"`
		Blob                  []byte `json:"blob"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if req.StatedCurrentRevision != int64(len(f.vaults)) {
		f.fail(w, http.StatusConflict, "vault_outdated")
		return
	}
	f.vaults = append(f.vaults, req.Blob)
	_ = json.NewEncoder(w).Encode(map[string]any{"revisionNumber": int64(len(f.vaults))})
}

func (f *fakeServer) revision() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.vaults))
}

func newTestSession(t *testing.T, f *fakeServer, name string) *Session {
	cfg := &config.Config{
		ServerURL:           f.srv.URL,
		DatabasePath:        filepath.Join(t.TempDir(), name+".db"),
		OnlineCheckInterval: 50 * time.Millisecond,
	}
	s := New(cfg, nil)
	t.Cleanup(func() { _ = s.Lock() })
	return s
}

func addNote(t *testing.T, s *Session, title, body string) {
	t.Helper()
	require.NoError(t, s.DB().SaveNote(context.Background(), &vaultdb.Note{Title: title, Body: body}))
}

func noteTitles(t *testing.T, s *Session) []string {
	t.Helper()
	notes, err := s.DB().ListNotes(context.Background())
	require.NoError(t, err)
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestRegisterUnlocksAndUploadsInitialRevision(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")

	require.NoError(t, s.Register(ctx, "Alice ", []byte("correct horse")))
	assert.True(t, s.Unlocked())
	assert.Equal(t, int64(1), f.revision())
	assert.Equal(t, "alice", f.username)
}

func TestOfflineUnlockAfterLock(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")
	require.NoError(t, s.Register(ctx, "alice", []byte("correct horse")))
	addNote(t, s, "wifi", "hunter2")
	require.NoError(t, s.Lock())
	assert.False(t, s.Unlocked())

	// server gone: unlock must still work from local state alone
	f.srv.Close()

	err := s.Unlock(ctx, []byte("wrong password"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.False(t, s.Unlocked())

	require.NoError(t, s.Unlock(ctx, []byte("correct horse")))
	assert.Equal(t, []string{"wifi"}, noteTitles(t, s))
}

func TestSyncUploadsLocalChanges(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")
	require.NoError(t, s.Register(ctx, "alice", []byte("pw")))

	addNote(t, s, "note-1", "body")
	res, err := s.SyncWait(ctx)
	require.NoError(t, err)
	assert.False(t, res.HasNewVault)
	assert.Equal(t, int64(2), res.Revision)
	assert.Equal(t, int64(2), f.revision())
}

func TestSyncEmitsProgressThenTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")
	require.NoError(t, s.Register(ctx, "alice", []byte("pw")))

	var stages []SyncStage
	var terminal SyncResult
	for ev := range s.Sync(ctx) {
		switch e := ev.(type) {
		case SyncProgress:
			stages = append(stages, e.Stage)
		default:
			terminal = ev
		}
	}
	require.IsType(t, SyncSuccess{}, terminal)
	assert.Equal(t, []SyncStage{StageCheckingStatus, StageUploading}, stages)
}

func TestSyncFetchesAndMergesRemoteChanges(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)

	a := newTestSession(t, f, "a")
	require.NoError(t, a.Register(ctx, "alice", []byte("pw")))
	addNote(t, a, "from-a", "x")
	_, err := a.SyncWait(ctx)
	require.NoError(t, err)

	// second device: fresh local db, same account
	b := newTestSession(t, f, "b")
	require.NoError(t, b.Login(ctx, "alice", []byte("pw"), LoginOptions{}))
	res, err := b.SyncWait(ctx)
	require.NoError(t, err)
	assert.True(t, res.HasNewVault)
	assert.Contains(t, noteTitles(t, b), "from-a")
}

func TestStaleDeviceMergesBeforeUpload(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)

	a := newTestSession(t, f, "a")
	require.NoError(t, a.Register(ctx, "alice", []byte("pw")))
	_, err := a.SyncWait(ctx)
	require.NoError(t, err)

	b := newTestSession(t, f, "b")
	require.NoError(t, b.Login(ctx, "alice", []byte("pw"), LoginOptions{}))
	_, err = b.SyncWait(ctx)
	require.NoError(t, err)

	// both devices write, a syncs first, b's stated revision is stale
	addNote(t, a, "from-a", "x")
	addNote(t, b, "from-b", "y")
	_, err = a.SyncWait(ctx)
	require.NoError(t, err)

	res, err := b.SyncWait(ctx)
	require.NoError(t, err)
	assert.True(t, res.HasNewVault)

	titles := noteTitles(t, b)
	assert.Contains(t, titles, "from-a")
	assert.Contains(t, titles, "from-b")

	// and a picks up b's merged copy
	_, err = a.SyncWait(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, titles, noteTitles(t, a))
}

func TestSyncOfflineMarksSessionOffline(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")
	require.NoError(t, s.Register(ctx, "alice", []byte("pw")))
	assert.True(t, s.Online())

	f.srv.Close()

	_, err := s.SyncWait(ctx)
	require.ErrorIs(t, err, common.ErrServerUnavailable)
	assert.False(t, s.Online())
}

func TestChangePasswordRotatesEpoch(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")
	require.NoError(t, s.Register(ctx, "alice", []byte("old pw")))
	addNote(t, s, "keep-me", "body")

	require.NoError(t, s.ChangePassword(ctx, []byte("old pw"), []byte("new pw")))
	assert.Equal(t, int64(2), f.revision())

	// the change revoked every session; log in with each password
	err := s.Login(ctx, "alice", []byte("old pw"), LoginOptions{})
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	require.NoError(t, s.Login(ctx, "alice", []byte("new pw"), LoginOptions{}))
	assert.Equal(t, []string{"keep-me"}, noteTitles(t, s))

	// offline unlock follows the new epoch too
	require.NoError(t, s.Lock())
	require.NoError(t, s.Unlock(ctx, []byte("new pw")))
}

func TestSyncWhileLockedFails(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")

	_, err := s.SyncWait(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestWatchFlipsOnlineFlag(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(t, f, "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx)

	require.Eventually(t, s.Online, time.Second, 10*time.Millisecond)

	f.srv.Close()
	require.Eventually(t, func() bool { return !s.Online() }, time.Second, 10*time.Millisecond)
}
