// Package session persists the Recreation.gov session (cookies and auth
// token) between runs so the bot can skip a fresh login during the critical
// window. State is written to disk encrypted and authenticated.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/scrypt"
)

// DefaultMaxAge is how long a captured session is trusted before a fresh
// login is forced.
const DefaultMaxAge = time.Hour

// State is the captured remote session.
type State struct {
	Cookies     map[string]string `json:"cookies"`
	AuthToken   string            `json:"auth_token"`
	LoggedIn    bool              `json:"logged_in"`
	LastRefresh time.Time         `json:"last_refresh"`
}

// CookieHeader renders the cookies as a single Cookie header value.
func (s *State) CookieHeader() string {
	if len(s.Cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+s.Cookies[k])
	}
	return strings.Join(parts, "; ")
}

// IsExpired reports whether the session is stale and needs a refresh.
func (s *State) IsExpired(maxAge time.Duration) bool {
	if !s.LoggedIn || s.LastRefresh.IsZero() {
		return true
	}
	return time.Since(s.LastRefresh) > maxAge
}

// Store reads and writes encrypted session state. The encryption keys are
// derived from an operator passphrase with scrypt; the random salt lives in
// the file next to the payload.
type Store struct {
	path       string
	passphrase string
}

// NewStore returns a Store persisting to path, keyed by passphrase.
func NewStore(path, passphrase string) *Store {
	return &Store{path: path, passphrase: passphrase}
}

// ErrNoSession is returned by Load when no session file exists yet.
var ErrNoSession = errors.New("session: no saved session")

const saltSize = 16

// scrypt cost parameters. N=2^15 keeps startup under ~100ms on commodity
// hardware while staying expensive enough for an at-rest credential file.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func deriveKeys(passphrase string, salt []byte) (*securecookie.SecureCookie, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 64)
	if err != nil {
		return nil, fmt.Errorf("derive session keys: %w", err)
	}
	sc := securecookie.New(key[:32], key[32:])
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(0)
	return sc, nil
}

// Save encrypts and writes the state. A fresh salt is generated every write.
func (st *Store) Save(s *State) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	sc, err := deriveKeys(st.passphrase, salt)
	if err != nil {
		return err
	}
	encoded, err := sc.Encode("session", s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	payload := fmt.Sprintf("%x\n%s\n", salt, encoded)
	return os.WriteFile(st.path, []byte(payload), 0o600)
}

// Load reads and decrypts the state. Returns ErrNoSession when the file does
// not exist.
func (st *Store) Load() (*State, error) {
	raw, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	if len(lines) != 2 {
		return nil, fmt.Errorf("session: malformed session file %s", st.path)
	}
	salt, err := hex.DecodeString(strings.TrimSpace(lines[0]))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("session: malformed salt in %s", st.path)
	}
	sc, err := deriveKeys(st.passphrase, salt)
	if err != nil {
		return nil, err
	}
	var s State
	if err := sc.Decode("session", strings.TrimSpace(lines[1]), &s); err != nil {
		return nil, fmt.Errorf("decode session (wrong passphrase?): %w", err)
	}
	return &s, nil
}
