// Package session holds the per-browser UI state: translation direction, theme, the
// last submitted input and its outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/loader"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
	"github.com/23skdu/longbow-kurdish/internal/translator"
)

// EmptyInputWarning is shown when the user submits blank text.
const EmptyInputWarning = "Please enter some text to translate."

var (
	ErrBusy     = errors.New("a translation is already running for this session")
	ErrNotFound = errors.New("session not found")
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Translator is the part of translator.Service a session needs.
type Translator interface {
	Translate(ctx context.Context, req translator.Request) (translator.Result, error)
}

// State is a snapshot of a session. It is safe to hand to templates and encoders.
type State struct {
	ID         string       `json:"id"`
	Theme      Theme        `json:"theme"`
	Source     language.Tag `json:"source"`
	Target     language.Tag `json:"target"`
	Input      string       `json:"input"`
	LastOutput string       `json:"last_output"`
	Status     Status       `json:"status"`
	Message    string       `json:"message,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (s State) Direction() language.Direction {
	return language.Direction{Source: s.Source, Target: s.Target}
}

type Session struct {
	langs *language.Table

	mu       sync.Mutex
	state    State
	busy     bool
	lastSeen time.Time
}

// New returns a session translating English to Kurdish in the light theme.
func New(id string, langs *language.Table) *Session {
	if langs == nil {
		langs = language.Default()
	}
	now := time.Now()
	return &Session{
		langs: langs,
		state: State{
			ID:        id,
			Theme:     ThemeLight,
			Source:    language.English,
			Target:    language.Kurdish,
			Status:    StatusIdle,
			UpdatedAt: now,
		},
		lastSeen: now,
	}
}

func (s *Session) ID() string {
	return s.state.ID
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// expired reports whether the session has been idle since before cutoff.
func (s *Session) expired(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && s.lastSeen.Before(cutoff)
}

// mutate applies fn under the lock unless a submit is in flight.
func (s *Session) mutate(fn func(st *State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return s.state, ErrBusy
	}
	if err := fn(&s.state); err != nil {
		return s.state, err
	}
	now := time.Now()
	s.state.UpdatedAt = now
	s.lastSeen = now
	return s.state, nil
}

// SwapLanguages exchanges source and target. Input and output are kept.
func (s *Session) SwapLanguages() (State, error) {
	return s.mutate(func(st *State) error {
		st.Source, st.Target = st.Target, st.Source
		return nil
	})
}

func (s *Session) ToggleTheme() (State, error) {
	return s.mutate(func(st *State) error {
		if st.Theme == ThemeDark {
			st.Theme = ThemeLight
		} else {
			st.Theme = ThemeDark
		}
		return nil
	})
}

// SetDirection selects a supported source/target pair.
func (s *Session) SetDirection(source, target language.Tag) (State, error) {
	return s.mutate(func(st *State) error {
		if !s.langs.Supports(source) {
			return fmt.Errorf("%w: source %q", translator.ErrUnsupportedLanguage, source)
		}
		if !s.langs.Supports(target) {
			return fmt.Errorf("%w: target %q", translator.ErrUnsupportedLanguage, target)
		}
		if source == target {
			return fmt.Errorf("%w: %s", translator.ErrSameLanguage, source)
		}
		st.Source, st.Target = source, target
		return nil
	})
}

// Submit translates text in the session's current direction. Blank input sets a
// warning and never reaches tr. On failure the previous output is cleared, the
// status is error, and the error is returned alongside the new state.
func (s *Session) Submit(ctx context.Context, text string, tr Translator) (State, error) {
	s.mu.Lock()
	if s.busy {
		st := s.state
		s.mu.Unlock()
		return st, ErrBusy
	}
	s.lastSeen = time.Now()
	s.state.Input = text
	s.state.UpdatedAt = s.lastSeen
	if strings.TrimSpace(text) == "" {
		s.state.Status = StatusWarning
		s.state.Message = EmptyInputWarning
		s.state.LastOutput = ""
		metrics.RecordValidationWarning()
		st := s.state
		s.mu.Unlock()
		return st, nil
	}
	s.busy = true
	s.state.Status = StatusLoading
	s.state.Message = ""
	req := translator.Request{Text: text, Source: s.state.Source, Target: s.state.Target}
	s.mu.Unlock()

	res, err := tr.Translate(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastSeen = time.Now()
	s.state.UpdatedAt = s.lastSeen
	if err != nil {
		s.state.Status = StatusError
		s.state.LastOutput = ""
		s.state.Message = ErrorMessage(err)
		return s.state, err
	}
	s.state.Status = StatusSuccess
	s.state.LastOutput = res.Text
	s.state.Message = ""
	return s.state, nil
}

// ErrorMessage renders err for the error banner.
func ErrorMessage(err error) string {
	var loadErr *loader.ModelLoadError
	var terr *translator.TranslationError
	switch {
	case errors.As(err, &loadErr):
		return "The translation model could not be loaded: " + loadErr.Err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Translation was cancelled."
	case errors.As(err, &terr):
		return "Translation failed: " + terr.Err.Error()
	default:
		return "Translation failed: " + err.Error()
	}
}
