package pipeline

import "github.com/hibiki-ai/hibiki/pkg/types"

// Session is the conversation context carried across turns. Only the
// orchestrator goroutine touches it.
type Session struct {
	maxTurns int
	history  []types.Message
}

// newSession creates a session keeping at most maxTurns past exchanges.
func newSession(maxTurns int) *Session {
	return &Session{maxTurns: maxTurns}
}

// History returns the conversation so far, oldest first.
func (s *Session) History() []types.Message {
	return s.history
}

// Append records one completed exchange. Cancelled turns still contribute
// whatever reply text was generated before the cut, so the model knows what
// the user actually heard.
func (s *Session) Append(userText, assistantText string) {
	s.history = append(s.history,
		types.Message{Role: types.RoleUser, Content: userText},
		types.Message{Role: types.RoleAssistant, Content: assistantText},
	)
	if s.maxTurns > 0 && len(s.history) > 2*s.maxTurns {
		s.history = s.history[len(s.history)-2*s.maxTurns:]
	}
}
