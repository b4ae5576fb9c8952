package fakes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// FakeVaultServer is an httptest server speaking the subset of the Vault
// HTTP API used by the vault backend: token lookup, userpass, ldap and
// kubernetes logins, and KV v1/v2 reads.
type FakeVaultServer struct {
	*httptest.Server

	mu        sync.RWMutex
	mount     string
	kvVersion int
	tokens    map[string]bool
	passwords map[string]string // "method/username" -> password
	roles     map[string]string // kubernetes role -> jwt
	secrets   map[string]vaultEntry

	// Namespace is the last X-Vault-Namespace header received
	Namespace atomic.Value
	// Logins counts successful logins
	Logins atomic.Int64
	// Reads counts KV read requests
	Reads atomic.Int64
}

type vaultEntry struct {
	data    map[string]interface{}
	version int
}

// NewFakeVaultServer starts a server with a KV engine at mount
func NewFakeVaultServer(mount string, kvVersion int) *FakeVaultServer {
	f := newFakeVaultServer(mount, kvVersion)
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// NewFakeVaultTLSServer is NewFakeVaultServer over TLS with a self-signed
// certificate, available as Certificate()
func NewFakeVaultTLSServer(mount string, kvVersion int) *FakeVaultServer {
	f := newFakeVaultServer(mount, kvVersion)
	f.Server = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	return f
}

func newFakeVaultServer(mount string, kvVersion int) *FakeVaultServer {
	f := &FakeVaultServer{
		mount:     mount,
		kvVersion: kvVersion,
		tokens:    make(map[string]bool),
		passwords: make(map[string]string),
		roles:     make(map[string]string),
		secrets:   make(map[string]vaultEntry),
	}
	f.Namespace.Store("")
	return f
}

// AddToken makes token valid
func (f *FakeVaultServer) AddToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = true
}

// RevokeTokens invalidates every token, as if all leases expired
func (f *FakeVaultServer) RevokeTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = make(map[string]bool)
}

// AddUser registers a userpass or ldap user
func (f *FakeVaultServer) AddUser(method, username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[method+"/"+username] = password
}

// AddKubernetesRole accepts jwt for role
func (f *FakeVaultServer) AddKubernetesRole(role, jwt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[role] = jwt
}

// PutSecret stores data at path, bumping the version
func (f *FakeVaultServer) PutSecret(path string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.secrets[path]
	f.secrets[path] = vaultEntry{data: data, version: entry.version + 1}
}

// DeleteSecret soft-deletes path; KV v2 keeps its metadata
func (f *FakeVaultServer) DeleteSecret(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.secrets[path]
	entry.data = nil
	f.secrets[path] = entry
}

func (f *FakeVaultServer) handle(w http.ResponseWriter, r *http.Request) {
	if ns := r.Header.Get("X-Vault-Namespace"); ns != "" {
		f.Namespace.Store(ns)
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(path, "auth/"):
		f.login(w, r, strings.TrimPrefix(path, "auth/"))
	case r.Method == http.MethodGet && path == "auth/token/lookup-self":
		if !f.authorized(r) {
			vaultError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"policies": []string{"default"}}})
	case r.Method == http.MethodGet:
		f.read(w, r, path)
	default:
		vaultError(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

func (f *FakeVaultServer) authorized(r *http.Request) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tokens[r.Header.Get("X-Vault-Token")]
}

func (f *FakeVaultServer) login(w http.ResponseWriter, r *http.Request, path string) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		vaultError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f.mu.RLock()
	ok := false
	switch {
	case path == "kubernetes/login":
		jwt, exists := f.roles[body["role"]]
		ok = exists && jwt == body["jwt"]
	case strings.HasPrefix(path, "userpass/login/"), strings.HasPrefix(path, "ldap/login/"):
		method, username, _ := strings.Cut(path, "/login/")
		password, exists := f.passwords[method+"/"+username]
		ok = exists && password == body["password"]
	}
	f.mu.RUnlock()

	if !ok {
		vaultError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	token := fmt.Sprintf("hvs.fake-%d", f.Logins.Add(1))
	f.AddToken(token)
	writeJSON(w, map[string]interface{}{"auth": map[string]interface{}{"client_token": token}})
}

func (f *FakeVaultServer) read(w http.ResponseWriter, r *http.Request, path string) {
	f.Reads.Add(1)
	if !f.authorized(r) {
		vaultError(w, http.StatusForbidden, "permission denied")
		return
	}

	prefix := f.mount + "/"
	if f.kvVersion == 2 {
		prefix += "data/"
	}
	if !strings.HasPrefix(path, prefix) {
		vaultError(w, http.StatusNotFound, "no handler for route")
		return
	}

	f.mu.RLock()
	entry, exists := f.secrets[strings.TrimPrefix(path, prefix)]
	f.mu.RUnlock()

	if !exists {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"errors": []string{}})
		return
	}

	if f.kvVersion == 1 {
		if entry.data == nil {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"errors": []string{}})
			return
		}
		writeJSON(w, map[string]interface{}{"data": entry.data})
		return
	}

	// KV v2 answers 404 for a deleted version but still sends metadata
	if entry.data == nil {
		w.WriteHeader(http.StatusNotFound)
	}
	writeJSON(w, map[string]interface{}{
		"data": map[string]interface{}{
			"data":     entry.data,
			"metadata": map[string]interface{}{"version": entry.version},
		},
	})
}

func vaultError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]interface{}{"errors": []string{msg}})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	_ = json.NewEncoder(w).Encode(v)
}
