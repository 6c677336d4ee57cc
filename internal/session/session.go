package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionName        = "icarus-session"
	userIDKey          = "user_id"
	userRequestsKey    = "user_requests"
	generatedImagesKey = "generated_images"
	generatedStyleKey  = "generated_style"
)

// State is the per-browser session carried through one interaction.
type State struct {
	ID string

	// UserRequests mirrors the stored per-session counter.
	UserRequests int

	// GeneratedImages holds the URLs of the last successful generation.
	GeneratedImages []string
	GeneratedStyle  string

	session *sessions.Session
	created bool
}

// IsNew reports whether the identifier was created by this request.
func (s *State) IsNew() bool {
	return s.created
}

func (s *State) HasResult() bool {
	return len(s.GeneratedImages) > 0
}

func (s *State) SetResult(urls []string, style string) {
	s.GeneratedImages = append([]string(nil), urls...)
	s.GeneratedStyle = style
}

type Manager struct {
	store sessions.Store
}

// NewManager derives the cookie signing and encryption keys from secret.
func NewManager(secret string, secure bool) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}

	hashKey, blockKey, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   0, // browser session
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{store: store}, nil
}

func deriveKeys(secret string) ([]byte, []byte, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("icarus session cookie"))

	hashKey := make([]byte, 64)
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive session hash key: %w", err)
	}
	blockKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, blockKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive session block key: %w", err)
	}
	return hashKey, blockKey, nil
}

// Load reads the session for r, assigning a new identifier if it has none.
// A cookie that no longer decodes is replaced by a fresh session.
func (m *Manager) Load(r *http.Request) (*State, error) {
	sess, err := m.store.Get(r, sessionName)
	if sess == nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	st := &State{session: sess}

	id, ok := sess.Values[userIDKey].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		sess.Values[userIDKey] = id
		st.created = true
	}
	st.ID = id

	if n, ok := sess.Values[userRequestsKey].(int); ok {
		st.UserRequests = n
	}
	if urls, ok := sess.Values[generatedImagesKey].([]string); ok {
		st.GeneratedImages = urls
	}
	if style, ok := sess.Values[generatedStyleKey].(string); ok {
		st.GeneratedStyle = style
	}

	return st, nil
}

// Save writes st back to the session cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, st *State) error {
	sess := st.session
	if sess == nil {
		return errors.New("session state was not loaded")
	}

	sess.Values[userIDKey] = st.ID
	sess.Values[userRequestsKey] = st.UserRequests
	if st.HasResult() {
		sess.Values[generatedImagesKey] = st.GeneratedImages
		sess.Values[generatedStyleKey] = st.GeneratedStyle
	} else {
		delete(sess.Values, generatedImagesKey)
		delete(sess.Values, generatedStyleKey)
	}

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	st.created = false
	return nil
}

// GetOrCreateSessionID returns the session identifier for r, creating and
// persisting one on first use.
func (m *Manager) GetOrCreateSessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	st, err := m.Load(r)
	if err != nil {
		return "", err
	}
	if st.IsNew() {
		if err := m.Save(w, r, st); err != nil {
			return "", err
		}
	}
	return st.ID, nil
}
