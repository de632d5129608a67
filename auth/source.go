package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// State is the observable identity. Resolved=false is the initial "unknown" state;
// Resolved with a nil Identity means there is no session.
type State struct {
	Resolved bool
	Identity *models.Identity
}

// IdentityID returns the identity id, or "" when there is none.
func (s State) IdentityID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

// LogoutOptions controls the side effects of Logout.
type LogoutOptions struct {
	ShowToast bool
}

type subscriber struct {
	id int
	fn func(State)
}

// Source wraps a Provider and owns the current identity. Every successful login, signup
// and logout emits exactly one State to subscribers, in registration order.
type Source struct {
	provider Provider
	cache    SessionCache
	logger   zerolog.Logger

	// emitMu orders state changes together with their delivery.
	emitMu sync.Mutex

	mu      sync.Mutex
	state   State
	session *Session
	subs    []subscriber
	nextID  int
}

func NewSource(provider Provider, cache SessionCache, logger zerolog.Logger) *Source {
	if cache == nil {
		cache = &MemorySessionCache{}
	}
	return &Source{
		provider: provider,
		cache:    cache,
		logger:   logger,
	}
}

// Current returns the current state.
func (s *Source) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the bearer token of the current session, or "".
func (s *Source) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// Subscribe registers fn for identity-change events. fn is called synchronously on the
// goroutine that caused the change and must not block.
func (s *Source) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// set replaces the session and emits the new state. Callers must hold emitMu.
func (s *Source) set(session *Session) {
	s.mu.Lock()
	s.session = session
	s.state = State{Resolved: true}
	if session != nil {
		identity := session.Identity
		s.state.Identity = &identity
	}
	state := s.state
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(state)
	}
}

func (s *Source) establish(ctx context.Context, session Session) {
	if err := s.cache.Save(ctx, session); err != nil {
		s.logger.Warn().Err(err).Str("identity_id", session.Identity.ID).Msg("failed to persist session")
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.set(&session)
}

// Login authenticates with email and password.
func (s *Source) Login(ctx context.Context, email, password string) (models.Identity, error) {
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, errors.KindSessionExpired) {
			s.Expire(ctx)
		}
		s.logger.Info().Str("kind", string(errors.Classify(err))).Msg("login failed")
		return models.Identity{}, err
	}
	s.establish(ctx, session)
	s.logger.Info().Str("identity_id", session.Identity.ID).Msg("logged in")
	return session.Identity, nil
}

// Signup creates an account and logs into it.
func (s *Source) Signup(ctx context.Context, email, password string, attrs map[string]string) (models.Identity, error) {
	session, err := s.provider.SignUp(ctx, email, password, attrs)
	if err != nil {
		s.logger.Info().Str("kind", string(errors.Classify(err))).Msg("signup failed")
		return models.Identity{}, err
	}
	s.establish(ctx, session)
	s.logger.Info().Str("identity_id", session.Identity.ID).Msg("signed up")
	return session.Identity, nil
}

// Logout clears the local session and then ends it at the provider. Provider and cache
// failures are logged; the local session is gone either way.
func (s *Source) Logout(ctx context.Context, opts LogoutOptions) {
	s.emitMu.Lock()
	s.mu.Lock()
	prev := s.session
	s.mu.Unlock()
	s.set(nil)
	s.emitMu.Unlock()

	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear cached session")
	}
	if prev == nil {
		return
	}
	if err := s.provider.SignOut(ctx, *prev); err != nil {
		s.logger.Warn().Err(err).Str("identity_id", prev.Identity.ID).Msg("provider sign-out failed")
	}
	s.logger.Info().Str("identity_id", prev.Identity.ID).Bool("show_toast", opts.ShowToast).Msg("logged out")
}

// Expire drops a session the provider reported as expired. No provider call is made.
// It emits only when there was something to drop or the source was still unresolved.
func (s *Source) Expire(ctx context.Context) {
	s.emitMu.Lock()
	s.mu.Lock()
	emit := s.session != nil || !s.state.Resolved
	s.mu.Unlock()
	if emit {
		s.set(nil)
	}
	s.emitMu.Unlock()

	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear cached session")
	}
}

// Resolve leaves the unknown state by restoring the cached session, if any. It is a
// no-op once the source is resolved. A session that can not be restored resolves to
// no identity; the error is returned for logging.
func (s *Source) Resolve(ctx context.Context) error {
	if s.Current().Resolved {
		return nil
	}
	cached, err := s.cache.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load cached session")
		cached = nil
	}
	if cached == nil {
		s.resolveAnonymous()
		return err
	}

	restored, err := s.provider.Restore(ctx, *cached)
	if err != nil {
		if errors.Is(err, errors.KindSessionExpired) {
			s.logger.Info().Str("identity_id", cached.Identity.ID).Msg("cached session expired")
			s.Expire(ctx)
			return err
		}
		s.logger.Warn().Err(err).Msg("failed to restore cached session")
		s.resolveAnonymous()
		return err
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.Current().Resolved {
		// A login won the race; keep it.
		return nil
	}
	s.set(&restored)
	s.logger.Info().Str("identity_id", restored.Identity.ID).Msg("session restored")
	return nil
}

func (s *Source) resolveAnonymous() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.Current().Resolved {
		s.set(nil)
	}
}
