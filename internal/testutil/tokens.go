package testutil

import (
	"fmt"
	"sync"
)

// StubTokenSource returns queued tokens first, then sequential ones of the
// form "token00001" padded or truncated to the requested length.
type StubTokenSource struct {
	mu      sync.Mutex
	queued  []string
	counter int
}

func NewStubTokenSource(tokens ...string) *StubTokenSource {
	return &StubTokenSource{queued: tokens}
}

func (s *StubTokenSource) Token(length int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queued) > 0 {
		tok := s.queued[0]
		s.queued = s.queued[1:]
		return tok
	}

	s.counter++
	tok := fmt.Sprintf("token%05d", s.counter)
	for len(tok) < length {
		tok += "x"
	}
	return tok[:length]
}
