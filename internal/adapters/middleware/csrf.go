package middleware

import (
	"sync"

	"gitlab.com/timkado/api/storefront-edge/pkg/crypto"
)

const (
	CSRFHeader         = "X-CSRF-Token"
	DefaultCSRFMaxSize = 1000
	csrfTokenBytes     = 32
)

// CSRFStore remembers the most recently issued tokens. When full, the oldest
// token is forgotten first.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]struct{}
	order  []string
	limit  int
}

func NewCSRFStore(limit int) *CSRFStore {
	if limit <= 0 {
		limit = DefaultCSRFMaxSize
	}
	return &CSRFStore{tokens: make(map[string]struct{}, limit), limit: limit}
}

// Generate issues and remembers a new random token.
func (s *CSRFStore) Generate() (string, error) {
	token, err := crypto.RandomHex(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = struct{}{}
	s.order = append(s.order, token)
	for len(s.order) > s.limit {
		delete(s.tokens, s.order[0])
		s.order = s.order[1:]
	}
	return token, nil
}

// Valid reports whether token is one of the remembered tokens.
func (s *CSRFStore) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

func (s *CSRFStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
