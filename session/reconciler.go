package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/metrics"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/notice"
	"github.com/hkinc45/dev-kitchen-session/resource_types"
	"github.com/hkinc45/dev-kitchen-session/store"
)

const (
	DefaultGracePeriod  = time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// ErrNoSession is returned by mutations issued while no identity is signed in.
var ErrNoSession = errors.New(errors.KindSessionExpired, "no active session")

// IdentitySource is the identity boundary the reconciler follows. *auth.Source implements it.
type IdentitySource interface {
	Current() auth.State
	Subscribe(fn func(auth.State)) (unsubscribe func())
	Login(ctx context.Context, email, password string) (models.Identity, error)
	Signup(ctx context.Context, email, password string, attrs map[string]string) (models.Identity, error)
	Logout(ctx context.Context, opts auth.LogoutOptions)
	Expire(ctx context.Context)
	Resolve(ctx context.Context) error
}

// Options configures a Reconciler.
type Options struct {
	Source  IdentitySource
	Backend store.Backend
	// Notices receives user-visible notices. Defaults to a log sink.
	Notices      notice.Sink
	Clock        clockwork.Clock
	GracePeriod  time.Duration
	FetchTimeout time.Duration
	Logger       zerolog.Logger
}

// Reconciler keeps the profile and addresses in step with the signed-in identity and
// publishes the combined result as a View.
//
// All session state is owned by one event-loop goroutine. Backend calls never run on it:
// consumer methods do their I/O on the caller's goroutine and background fetches run on
// their own, and both hand their results back to the loop.
type Reconciler struct {
	source       IdentitySource
	notices      notice.Sink
	clock        clockwork.Clock
	grace        time.Duration
	fetchTimeout time.Duration
	logger       zerolog.Logger

	loop      *loop
	profiles  *store.ProfileStore
	addresses *store.AddressStore
	view      atomic.Pointer[View]

	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	unsubscribe func()

	// Loop-owned from here on.
	resolved           bool
	identity           *models.Identity
	authenticating     int
	epoch              uint64
	pendingProfile     int
	pendingAddresses   int
	addressesRequested bool
	graceTimer         clockwork.Timer
	graceSeq           uint64
	lastErr            error
	version            uint64
	watchers           map[int]chan *View
	nextWatcher        int
}

func NewReconciler(opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Notices == nil {
		opts.Notices = notice.Multi(notice.LogSink{Logger: opts.Logger})
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		source:       opts.Source,
		notices:      opts.Notices,
		clock:        opts.Clock,
		grace:        opts.GracePeriod,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		loop:         newLoop(),
		ctx:          ctx,
		cancel:       cancel,
		watchers:     make(map[int]chan *View),
	}
	storeOpts := store.Options{
		Loop:      r.loop,
		Logger:    opts.Logger,
		IsCurrent: func(id string) bool { return id == r.currentID() },
		OnChange:  r.refresh,
	}
	r.profiles = store.NewProfileStore(opts.Backend, storeOpts)
	r.addresses = store.NewAddressStore(opts.Backend, storeOpts)
	r.loop.Do(r.publish)
	return r
}

// Start follows the identity source and resolves a persisted session. A resolve failure
// leaves the session anonymous and is returned for logging.
func (r *Reconciler) Start(ctx context.Context) error {
	r.unsubscribe = r.source.Subscribe(func(st auth.State) {
		r.loop.Post(func() { r.onIdentity(st) })
	})
	r.loop.Do(func() { r.onIdentity(r.source.Current()) })

	if err := r.source.Resolve(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("failed to resolve persisted session")
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	return nil
}

// Close stops the reconciler. Watch channels are closed; in-flight calls complete but
// their results are discarded.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		r.loop.Do(func() {
			r.stopGrace()
			for id, ch := range r.watchers {
				close(ch)
				delete(r.watchers, id)
			}
		})
		r.cancel()
		r.loop.Close()
	})
}

// View returns the latest snapshot. It is safe to call from any goroutine.
func (r *Reconciler) View() *View {
	return r.view.Load()
}

// Watch returns a channel that holds the latest View. Intermediate views may be skipped
// by a slow reader. The channel receives the current view immediately.
func (r *Reconciler) Watch() (<-chan *View, func()) {
	ch := make(chan *View, 1)
	var id int
	if !r.loop.Do(func() {
		r.nextWatcher++
		id = r.nextWatcher
		r.watchers[id] = ch
		ch <- r.view.Load()
	}) {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		r.loop.Do(func() {
			if _, ok := r.watchers[id]; ok {
				delete(r.watchers, id)
				close(ch)
			}
		})
	}
}

func (r *Reconciler) Login(ctx context.Context, email, password string) (models.Identity, error) {
	return r.authenticate(notice.LoginSucceeded, notice.LoginFailed, func() (models.Identity, error) {
		return r.source.Login(ctx, email, password)
	})
}

func (r *Reconciler) Signup(ctx context.Context, email, password string, attrs map[string]string) (models.Identity, error) {
	return r.authenticate(notice.SignupSucceeded, notice.SignupFailed, func() (models.Identity, error) {
		return r.source.Signup(ctx, email, password, attrs)
	})
}

func (r *Reconciler) authenticate(ok, fail notice.Category, call func() (models.Identity, error)) (models.Identity, error) {
	r.loop.Do(func() {
		r.authenticating++
		r.refresh()
	})
	identity, err := call()
	r.loop.Do(func() {
		r.authenticating--
		if err != nil {
			r.notify(fail, errors.Classify(err), "", err.Error())
		} else {
			r.notify(ok, "", identity.ID, "signed in as "+identity.Email)
		}
		r.refresh()
	})
	return identity, err
}

// Logout ends the session. The stores are cleared in the same step that publishes the
// missing identity.
func (r *Reconciler) Logout(ctx context.Context) {
	id := r.CurrentIdentityID()
	r.source.Logout(ctx, auth.LogoutOptions{ShowToast: true})
	r.loop.Do(func() {
		if id != "" {
			r.notify(notice.LoggedOut, "", id, "logged out")
		}
		r.refresh()
	})
}

// CurrentIdentityID returns the id of the identity the reconciler is following, or "".
func (r *Reconciler) CurrentIdentityID() string {
	var id string
	r.loop.Do(func() { id = r.currentID() })
	return id
}

func (r *Reconciler) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.Profile, error) {
	id, err := r.requireIdentity(notice.ProfileUpdateFailed)
	if err != nil {
		return models.Profile{}, err
	}
	p, err := r.profiles.Update(ctx, id, patch)
	fail := notice.ProfileUpdateFailed
	if errors.Is(err, errors.KindPasswordUpdateFailed) {
		fail = notice.PasswordUpdateFailed
	}
	r.settle(id, err, notice.ProfileUpdated, fail, "profile updated")
	return p, err
}

func (r *Reconciler) UpdateCredits(ctx context.Context, credits int) (int, error) {
	id, err := r.requireIdentity(notice.CreditsUpdateFailed)
	if err != nil {
		return 0, err
	}
	stored, err := r.profiles.UpdateCredits(ctx, id, credits)
	r.settle(id, err, notice.CreditsUpdated, notice.CreditsUpdateFailed, fmt.Sprintf("credits set to %d", stored))
	return stored, err
}

func (r *Reconciler) AddAddress(ctx context.Context, in models.AddressInput) (models.Address, error) {
	id, err := r.requireIdentity(notice.AddressFailed)
	if err != nil {
		return models.Address{}, err
	}
	a, err := r.addresses.Add(ctx, id, in)
	r.settle(id, err, notice.AddressAdded, notice.AddressFailed, "address added")
	return a, err
}

func (r *Reconciler) UpdateAddress(ctx context.Context, addressID string, in models.AddressInput) (models.Address, error) {
	id, err := r.requireIdentity(notice.AddressFailed)
	if err != nil {
		return models.Address{}, err
	}
	a, err := r.addresses.Update(ctx, id, addressID, in)
	r.settle(id, err, notice.AddressUpdated, notice.AddressFailed, "address updated")
	return a, err
}

func (r *Reconciler) DeleteAddress(ctx context.Context, addressID string) (bool, error) {
	id, err := r.requireIdentity(notice.AddressFailed)
	if err != nil {
		return false, err
	}
	deleted, err := r.addresses.Delete(ctx, id, addressID)
	r.settle(id, err, notice.AddressDeleted, notice.AddressFailed, "address deleted")
	return deleted, err
}

// RefetchProfile reloads the profile of the current identity.
func (r *Reconciler) RefetchProfile(ctx context.Context) (*models.Profile, error) {
	id := r.CurrentIdentityID()
	if id == "" {
		return nil, ErrNoSession
	}
	p, err := r.profiles.Fetch(ctx, id)
	r.loop.Do(func() {
		r.fetched(id, resource_types.Profile, err)
		r.refresh()
	})
	return p, err
}

// RefetchAddresses reloads the address list of the current identity.
func (r *Reconciler) RefetchAddresses(ctx context.Context) ([]models.Address, error) {
	id := r.CurrentIdentityID()
	if id == "" {
		return nil, ErrNoSession
	}
	list, err := r.addresses.Fetch(ctx, id)
	r.loop.Do(func() {
		r.fetched(id, resource_types.Address, err)
		r.refresh()
	})
	return list, err
}

// HandleProvisioned reacts to a profile having been created for identityID. When it is
// the current identity and no profile is held yet, the profile is fetched again. It
// reports whether a fetch was started.
func (r *Reconciler) HandleProvisioned(identityID string) bool {
	started := false
	r.loop.Do(func() {
		if identityID == "" || identityID != r.currentID() || r.hasProfile() || r.profileLoading() {
			return
		}
		r.logger.Info().Str("identity_id", identityID).Msg("profile provisioned, refetching")
		r.fetchProfile(identityID)
		r.refresh()
		started = true
	})
	return started
}

func (r *Reconciler) requireIdentity(fail notice.Category) (string, error) {
	var id string
	r.loop.Do(func() {
		id = r.currentID()
		if id == "" {
			r.notify(fail, errors.KindSessionExpired, "", ErrNoSession.Message)
		}
	})
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

// settle emits the single notice of a user-initiated mutation. SessionExpired tears the
// session down instead. Results that arrived for a superseded identity are dropped.
func (r *Reconciler) settle(id string, err error, ok, fail notice.Category, msg string) {
	r.loop.Do(func() {
		switch {
		case err == nil:
			r.notify(ok, "", id, msg)
		case stderrors.Is(err, store.ErrStale):
			r.logger.Debug().Str("identity_id", id).Str("category", string(ok)).Msg("mutation finished for a previous identity")
		case errors.Is(err, errors.KindSessionExpired):
			if id == r.currentID() {
				r.expire(id)
			}
		default:
			r.notify(fail, errors.Classify(err), id, err.Error())
		}
		r.refresh()
	})
}

// onIdentity applies an identity change from the source.
func (r *Reconciler) onIdentity(st auth.State) {
	r.resolved = st.Resolved
	next := st.IdentityID()
	switch {
	case next != r.currentID():
		r.resetStores()
		r.identity = nil
		if st.Identity != nil {
			identity := *st.Identity
			r.identity = &identity
			r.logger.Info().Str("identity_id", next).Msg("identity changed, loading profile")
			r.fetchProfile(next)
		}
	case st.Identity != nil:
		identity := *st.Identity
		r.identity = &identity
	}
	r.refresh()
}

// fetchProfile loads the profile off the loop. The pending counter covers the gap until
// the store marks the call in flight, so loading never reads false in between.
func (r *Reconciler) fetchProfile(id string) {
	epoch := r.epoch
	r.pendingProfile++
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
		defer cancel()
		_, err := r.profiles.Fetch(ctx, id)
		r.loop.Post(func() {
			if epoch == r.epoch {
				r.pendingProfile--
			}
			r.fetched(id, resource_types.Profile, err)
			r.refresh()
		})
	}()
}

func (r *Reconciler) fetchAddresses(id string) {
	epoch := r.epoch
	r.pendingAddresses++
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
		defer cancel()
		_, err := r.addresses.Fetch(ctx, id)
		r.loop.Post(func() {
			if epoch == r.epoch {
				r.pendingAddresses--
			}
			r.fetched(id, resource_types.Address, err)
			r.refresh()
		})
	}()
}

// fetched records the outcome of a fetch. Failures never log the user out, except an
// expired session.
func (r *Reconciler) fetched(id, resource string, err error) {
	if id != r.currentID() || stderrors.Is(err, store.ErrStale) {
		return
	}
	switch {
	case err == nil:
		r.lastErr = nil
	case errors.Is(err, errors.KindSessionExpired):
		r.expire(id)
	default:
		r.lastErr = err
		r.logger.Warn().Err(err).Str("identity_id", id).Str("resource", resource).Msg("background fetch failed")
		r.notify(notice.FetchFailed, errors.Classify(err), id, fmt.Sprintf("could not load %s", resource))
	}
}

// refresh re-derives everything that depends on sub-state and publishes a new View.
func (r *Reconciler) refresh() {
	if r.identity != nil && !r.addressesRequested && r.hasProfile() {
		r.addressesRequested = true
		r.fetchAddresses(r.identity.ID)
	}
	r.checkProfileMissing()
	r.publish()
}

// profileMissing is the anomaly condition: a settled identity whose profile fetch
// completed without a profile.
func (r *Reconciler) profileMissing() bool {
	return r.identity != nil &&
		r.authenticating == 0 &&
		!r.profileLoading() &&
		r.profiles.Settled() &&
		!r.hasProfile()
}

func (r *Reconciler) checkProfileMissing() {
	missing := r.profileMissing()
	switch {
	case missing && r.graceTimer == nil:
		id := r.identity.ID
		r.graceSeq++
		seq := r.graceSeq
		r.graceTimer = r.clock.AfterFunc(r.grace, func() {
			r.loop.Post(func() { r.graceExpired(id, seq) })
		})
		r.logger.Info().Str("identity_id", id).Dur("grace", r.grace).Msg("profile missing, waiting before logout")
	case !missing && r.graceTimer != nil:
		r.stopGrace()
	}
}

// graceExpired re-checks the anomaly against current state; it only acts when the
// same identity is still missing its profile.
func (r *Reconciler) graceExpired(id string, seq uint64) {
	if r.graceTimer == nil || seq != r.graceSeq {
		return
	}
	r.graceTimer = nil
	if id != r.currentID() || !r.profileMissing() {
		r.refresh()
		return
	}
	r.logger.Warn().Str("identity_id", id).Msg("profile not found after grace period, logging out")
	metrics.RecordForcedLogout("profile_not_found")
	r.dropIdentity()
	r.notify(notice.ProfileNotFound, errors.KindNotFound, id, "profile not found")
	r.publish()
	r.endSession(id, func(ctx context.Context) {
		r.source.Logout(ctx, auth.LogoutOptions{})
	})
}

// expire tears the session down after the provider or backend reported it expired.
func (r *Reconciler) expire(id string) {
	r.logger.Info().Str("identity_id", id).Msg("session expired")
	metrics.RecordForcedLogout("session_expired")
	r.dropIdentity()
	r.notify(notice.SessionExpired, errors.KindSessionExpired, id, "session expired, please sign in again")
	r.endSession(id, r.source.Expire)
}

// endSession tells the source to drop id, unless another identity signed in meanwhile.
func (r *Reconciler) endSession(id string, end func(ctx context.Context)) {
	go func() {
		if r.source.Current().IdentityID() != id {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
		defer cancel()
		end(ctx)
	}()
}

func (r *Reconciler) dropIdentity() {
	r.resetStores()
	r.identity = nil
}

func (r *Reconciler) resetStores() {
	r.profiles.Reset()
	r.addresses.Reset()
	r.epoch++
	r.pendingProfile = 0
	r.pendingAddresses = 0
	r.addressesRequested = false
	r.lastErr = nil
	r.stopGrace()
}

func (r *Reconciler) stopGrace() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Reconciler) currentID() string {
	if r.identity == nil {
		return ""
	}
	return r.identity.ID
}

func (r *Reconciler) hasProfile() bool { return r.profiles.HasProfile() }

func (r *Reconciler) profileLoading() bool { return r.profiles.Loading() || r.pendingProfile > 0 }

func (r *Reconciler) addressesLoading() bool {
	return r.addresses.Loading() || r.pendingAddresses > 0
}

func (r *Reconciler) inputs() loadingInputs {
	return loadingInputs{
		Unresolved:       !r.resolved,
		Authenticating:   r.authenticating > 0,
		HasIdentity:      r.identity != nil,
		HasProfile:       r.hasProfile(),
		ProfileLoading:   r.profileLoading(),
		AddressesLoading: r.addressesLoading(),
	}
}

func (r *Reconciler) publish() {
	in := r.inputs()
	r.version++
	v := &View{
		Version:          r.version,
		Phase:            derivePhase(in, r.graceTimer != nil),
		Profile:          r.profiles.Profile(),
		Credits:          r.profiles.Credits(),
		Addresses:        r.addresses.Addresses(),
		IdentityResolved: r.resolved,
		OverallLoading:   overallLoading(in),
		IdentityLoading:  identityLoading(in),
		ProfileLoading:   in.ProfileLoading,
		AddressesLoading: in.AddressesLoading,
	}
	if r.identity != nil {
		identity := *r.identity
		v.Identity = &identity
	}
	if r.lastErr != nil {
		v.LastError = r.lastErr.Error()
		v.LastErrorKind = errors.Classify(r.lastErr)
	}
	r.view.Store(v)

	for _, ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (r *Reconciler) notify(c notice.Category, kind errors.Kind, identityID, msg string) {
	r.notices.Notify(notice.Notice{
		Category:   c,
		Kind:       kind,
		Message:    msg,
		IdentityID: identityID,
		At:         r.clock.Now(),
	})
}
