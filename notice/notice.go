package notice

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/metrics"
)

// Category is the kind of user-visible notice. Wording is up to the presentation layer.
type Category string

const (
	LoginSucceeded       Category = "login_succeeded"
	LoginFailed          Category = "login_failed"
	SignupSucceeded      Category = "signup_succeeded"
	SignupFailed         Category = "signup_failed"
	LoggedOut            Category = "logged_out"
	SessionExpired       Category = "session_expired"
	ProfileNotFound      Category = "profile_not_found"
	ProfileUpdated       Category = "profile_updated"
	ProfileUpdateFailed  Category = "profile_update_failed"
	PasswordUpdateFailed Category = "password_update_failed"
	CreditsUpdated       Category = "credits_updated"
	CreditsUpdateFailed  Category = "credits_update_failed"
	AddressAdded         Category = "address_added"
	AddressUpdated       Category = "address_updated"
	AddressDeleted       Category = "address_deleted"
	AddressFailed        Category = "address_failed"
	FetchFailed          Category = "fetch_failed"
)

// Notice is a toast-equivalent message for the user.
type Notice struct {
	Category   Category    `json:"category"`
	Kind       errors.Kind `json:"kind,omitempty"`
	Message    string      `json:"message"`
	IdentityID string      `json:"identity_id,omitempty"`
	At         time.Time   `json:"at"`
}

// IsFailure reports whether the notice reports a failed operation.
func (n Notice) IsFailure() bool {
	return n.Kind != ""
}

// Sink receives notices. Implementations must not block for long; Notify is called
// from the reconciler's event loop.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// Multi fans a notice out to every sink in order and records the notice metric once.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(n Notice) {
		metrics.RecordNotice(string(n.Category))
		for _, s := range sinks {
			if s != nil {
				s.Notify(n)
			}
		}
	})
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of the category were recorded.
func (r *Recorder) Count(c Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.notices {
		if rec.Category == c {
			n++
		}
	}
	return n
}

// LogSink writes notices to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(n Notice) {
	ev := s.Logger.Info()
	if n.IsFailure() {
		ev = s.Logger.Warn().Str("kind", string(n.Kind))
	}
	ev.Str("category", string(n.Category)).
		Str("identity_id", n.IdentityID).
		Msg(n.Message)
}

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notices as JSON to <prefix>.notice.<category>.
type NATSSink struct {
	Conn   Publisher
	Prefix string
	Logger zerolog.Logger
}

// Subject returns the subject a notice of category c is published on.
func (s NATSSink) Subject(c Category) string {
	return fmt.Sprintf("%s.notice.%s", s.Prefix, c)
}

func (s NATSSink) Notify(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to marshal notice")
		return
	}
	if err := s.Conn.Publish(s.Subject(n.Category), data); err != nil {
		s.Logger.Warn().Err(err).Str("category", string(n.Category)).Msg("failed to publish notice")
	}
}
