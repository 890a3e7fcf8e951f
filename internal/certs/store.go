package certs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// StoreName selects a logical store inside a scope.
type StoreName string

const (
	// StoreMy holds identities with private keys (the personal store).
	StoreMy StoreName = "my"
	// StoreRoot holds trusted root certificates.
	StoreRoot StoreName = "root"
)

// Scope is the owner of a certificate store.
type Scope string

const (
	ScopeMachine Scope = "machine"
	ScopeUser    Scope = "user"
)

// CertStore is a platform certificate store. Find with an empty common
// name lists every identity in the store.
type CertStore interface {
	Scope() Scope
	Find(store StoreName, commonName string) ([]*Identity, error)
	Add(store StoreName, id *Identity) error
	Remove(store StoreName, thumbprint string) error
}

// FileStore keeps one PEM certificate per thumbprint under dir/<store>/,
// with the PKCS#8 key alongside when the identity carries one.
type FileStore struct {
	scope Scope
	dir   string
	mu    sync.Mutex
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(scope Scope, dir string) *FileStore {
	return &FileStore{scope: scope, dir: dir}
}

// DefaultStoreDirs returns the machine and user directories used when the
// configuration leaves them empty.
func DefaultStoreDirs(userConfigDir string) (machine, user string) {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		machine = filepath.Join(programData, "webhost", "certs")
	default:
		machine = "/var/lib/webhost/certs"
	}
	return machine, filepath.Join(userConfigDir, "certs")
}

// Scope implements CertStore.
func (s *FileStore) Scope() Scope { return s.scope }

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) storeDir(store StoreName) string {
	return filepath.Join(s.dir, string(store))
}

// Find implements CertStore.
func (s *FileStore) Find(store StoreName, commonName string) ([]*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.storeDir(store)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &CertificateError{Operation: "read_store", Scope: s.scope, Path: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".crt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Identity
	for _, name := range names {
		certPath := filepath.Join(dir, name)
		certPEM, err := os.ReadFile(certPath)
		if err != nil {
			return nil, &CertificateError{Operation: "read_store", Scope: s.scope, Path: certPath, Err: err}
		}
		keyPEM, err := os.ReadFile(strings.TrimSuffix(certPath, ".crt") + ".key")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &CertificateError{Operation: "read_store", Scope: s.scope, Path: certPath, Err: err}
		}
		id, err := ParseIdentity(certPEM, keyPEM)
		if err != nil {
			// Unreadable files are skipped so one bad file cannot block startup.
			continue
		}
		if commonName == "" || id.CommonName() == commonName {
			out = append(out, id)
		}
	}
	return out, nil
}

// Add implements CertStore.
func (s *FileStore) Add(store StoreName, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.storeDir(store)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &CertificateError{Operation: "write_store", Scope: s.scope, Path: dir, Err: err}
	}

	base := filepath.Join(dir, id.Thumbprint())
	if id.HasPrivateKey() && store == StoreMy {
		keyPEM, err := id.KeyPEM()
		if err != nil {
			return &CertificateError{Operation: "write_store", Scope: s.scope, Err: err}
		}
		if err := writeFileAtomic(base+".key", keyPEM, 0600); err != nil {
			return &CertificateError{Operation: "write_store", Scope: s.scope, Path: base + ".key", Err: err}
		}
	}
	if err := writeFileAtomic(base+".crt", id.CertPEM(), 0644); err != nil {
		return &CertificateError{Operation: "write_store", Scope: s.scope, Path: base + ".crt", Err: err}
	}
	return nil
}

// Remove implements CertStore. Removing an absent thumbprint is not an error.
func (s *FileStore) Remove(store StoreName, thumbprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := filepath.Join(s.storeDir(store), strings.ToUpper(thumbprint))
	for _, p := range []string{base + ".crt", base + ".key"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &CertificateError{Operation: "remove", Scope: s.scope, Path: p, Err: err}
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryStore is an in-process CertStore. ReadErr and WriteErr, when set,
// are returned from every read or write to simulate an inaccessible store.
type MemoryStore struct {
	scope Scope

	mu       sync.Mutex
	stores   map[StoreName]map[string]*Identity
	ReadErr  error
	WriteErr error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(scope Scope) *MemoryStore {
	return &MemoryStore{
		scope:  scope,
		stores: make(map[StoreName]map[string]*Identity),
	}
}

// Scope implements CertStore.
func (m *MemoryStore) Scope() Scope { return m.scope }

// Find implements CertStore.
func (m *MemoryStore) Find(store StoreName, commonName string) ([]*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadErr != nil {
		return nil, &CertificateError{Operation: "read_store", Scope: m.scope, Err: m.ReadErr}
	}

	thumbs := make([]string, 0, len(m.stores[store]))
	for t := range m.stores[store] {
		thumbs = append(thumbs, t)
	}
	sort.Strings(thumbs)

	var out []*Identity
	for _, t := range thumbs {
		id := m.stores[store][t]
		if commonName == "" || id.CommonName() == commonName {
			out = append(out, id)
		}
	}
	return out, nil
}

// Add implements CertStore.
func (m *MemoryStore) Add(store StoreName, id *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return &CertificateError{Operation: "write_store", Scope: m.scope, Err: m.WriteErr}
	}
	if m.stores[store] == nil {
		m.stores[store] = make(map[string]*Identity)
	}
	stored := id
	if store == StoreRoot {
		stored = &Identity{Cert: id.Cert}
	}
	m.stores[store][id.Thumbprint()] = stored
	return nil
}

// Remove implements CertStore.
func (m *MemoryStore) Remove(store StoreName, thumbprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return &CertificateError{Operation: "remove", Scope: m.scope, Err: m.WriteErr}
	}
	delete(m.stores[store], strings.ToUpper(thumbprint))
	return nil
}

// Len returns the number of identities in store.
func (m *MemoryStore) Len(store StoreName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores[store])
}

// SystemTrust copies the CA certificate into an OS anchor directory such
// as /usr/local/share/ca-certificates. Refreshing the OS bundle is left to
// the operator (update-ca-certificates).
type SystemTrust struct {
	Dir string
}

// AnchorName is the file name written into the anchor directory.
const AnchorName = "webhost-local-ca.crt"

// Install writes ca into the anchor directory, replacing an older copy.
func (t *SystemTrust) Install(ca *Identity) error {
	if t == nil || t.Dir == "" {
		return nil
	}
	path := filepath.Join(t.Dir, AnchorName)
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == string(ca.CertPEM()) {
			return nil
		}
	}
	if err := writeFileAtomic(path, ca.CertPEM(), 0644); err != nil {
		return &CertificateError{Operation: "install_anchor", Path: path, Err: fmt.Errorf("write anchor: %w", err)}
	}
	return nil
}
