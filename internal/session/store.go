// Package session holds per-browser-session authentication state and its lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	obserrors "github.com/seda/bdportal/internal/observability/errors"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/ports"
	"github.com/seda/bdportal/internal/service"
)

// Default lifecycle timings.
const (
	DefaultBootstrapTimeout = 6 * time.Second
	DefaultSignOutWait      = 2 * time.Second
)

// bootstrapRetryInterval spaces out bootstrap retries after a transient failure.
const bootstrapRetryInterval = 5 * time.Second

// commitKind says where a state change came from and whether it reaches durable state.
type commitKind int

const (
	commitEvent commitKind = iota
	// commitBootstrap settles loading; a late result still applies if no event came first.
	commitBootstrap
	// commitDegraded settles loading with no session in memory and leaves durable state alone.
	commitDegraded
)

var (
	// ErrNoSession is returned by operations that need an authenticated session.
	ErrNoSession = errors.New("no active session")
	// ErrClosed is returned by mutators after Teardown.
	ErrClosed = errors.New("session store closed")
)

// Resolver is the credential and role resolution the store delegates to.
type Resolver interface {
	Populate(ctx context.Context, bs domainauth.BackendSession) *domainauth.Session
	FetchRoles(ctx context.Context, userID, email string) domainauth.RoleSet
	SignIn(ctx context.Context, email, password string) (*service.SignInResult, error)
	SignUp(ctx context.Context, req service.SignUpRequest) (*service.EnhancedUser, error)
	UpdateProfile(ctx context.Context, userID string, patch domainauth.ProfilePatch) (*domainauth.Profile, error)
	Resume(ctx context.Context, pair domainauth.TokenPair) (domainauth.BackendSession, error)
	Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Deps are the collaborators shared by every store.
type Deps struct {
	Resolver Resolver
	Bus      ports.AuthEventBus
	Records  ports.SessionRecordStore // Optional: resumable records for bootstrap
	Local    ports.LocalStorage       // Optional: durable client summary
}

// Config holds lifecycle timings.
type Config struct {
	BootstrapTimeout time.Duration
	SignOutWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if c.SignOutWait <= 0 {
		c.SignOutWait = DefaultSignOutWait
	}
	return c
}

// StoreOptions groups parameters for NewStore.
type StoreOptions struct {
	ID      string
	Deps    Deps
	Config  Config
	Metrics *metrics.Auth
	Logger  *slog.Logger
}

// Store is the authentication state of one browser session.
//
// State is either loading, empty or a fully populated session. Auth events delivered by the
// bus are authoritative: each received event takes a sequence number and only the result for
// the latest sequence is committed, so a slow initializer or a slow role lookup can never
// overwrite a newer state.
type Store struct {
	id      string
	deps    Deps
	cfg     Config
	metrics *metrics.Auth
	logger  *slog.Logger

	mu          sync.Mutex
	session     *domainauth.Session
	index       map[domainauth.Role]struct{}
	loading     bool
	started     bool
	closed      bool
	degraded    bool
	bootAttempt time.Time
	seq         uint64
	ready       chan struct{}
	changed     chan struct{}
	lastUsed    time.Time
	unsubscribe func()
	bootTimer   *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc

	persistGen uint64

	// refreshMu lets one request at a time exchange the refresh token.
	refreshMu sync.Mutex

	// persistMu serialises durable writes; persisted is the newest generation written.
	persistMu sync.Mutex
	persisted uint64
}

// NewStore builds an uninitialised store. Call Init to subscribe and bootstrap.
func NewStore(opts StoreOptions) *Store {
	if opts.Deps.Resolver == nil || opts.Deps.Bus == nil {
		panic("session.Store: Resolver and Bus are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		id:       opts.ID,
		deps:     opts.Deps,
		cfg:      opts.Config.withDefaults(),
		metrics:  opts.Metrics,
		logger:   logger.With("component", "session_store", "session_id", opts.ID),
		ready:    make(chan struct{}),
		changed:  make(chan struct{}),
		lastUsed: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the browser session id.
func (s *Store) ID() string { return s.id }

// Init subscribes to the auth event bus and starts the time-boxed bootstrap.
// It returns immediately; Ready is closed once loading ends. Calling Init twice is a no-op.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.loading = true
	s.bootAttempt = time.Now()
	bootSeq := s.seq
	s.unsubscribe = s.deps.Bus.Subscribe(s.handleEvent)
	s.bootTimer = time.AfterFunc(s.cfg.BootstrapTimeout, s.bootstrapTimedOut)
	s.mu.Unlock()

	go s.bootstrap(context.WithoutCancel(ctx), bootSeq)
}

// retryBootstrap runs the bootstrap again after a transient failure left the store empty
// while the durable record survived. Attempts are spaced by bootstrapRetryInterval.
func (s *Store) retryBootstrap(ctx context.Context) {
	s.mu.Lock()
	if s.closed || !s.degraded || s.loading || s.session != nil ||
		time.Since(s.bootAttempt) < bootstrapRetryInterval {
		s.mu.Unlock()
		return
	}
	s.degraded = false
	s.bootAttempt = time.Now()
	seq := s.seq
	s.mu.Unlock()

	go s.bootstrap(context.WithoutCancel(ctx), seq)
}

// Teardown detaches the subscription, stops the bootstrap timer and makes any in-flight
// commit a no-op. It does not clear durable state.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.bootTimer != nil {
		s.bootTimer.Stop()
	}
	s.cancel()
	s.endLoadingLocked()
	s.broadcastLocked()
}

// Ready is closed when the store leaves the loading state.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// Touch records activity for idle sweeping.
func (s *Store) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// LastUsed returns the time of the most recent Touch.
func (s *Store) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Store) bootstrap(ctx context.Context, seq uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "session bootstrap panicked", "panic", r)
			s.commit(seq, nil, commitDegraded)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sess, err := s.restore(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "session bootstrap failed, keeping the stored session for a retry",
			"error_class", obserrors.Classify(err), "error", err)
		s.commit(seq, nil, commitDegraded)
		return
	}
	s.commit(seq, sess, commitBootstrap)
}

// restore resumes the persisted session. A record the backend has rejected yields no session
// and is cleared by the bootstrap commit; any other failure is returned.
func (s *Store) restore(ctx context.Context) (*domainauth.Session, error) {
	if s.deps.Records == nil || s.id == "" {
		return nil, nil
	}
	rec, err := s.deps.Records.Get(ctx, s.id)
	if errors.Is(err, ports.ErrSessionRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	bs, err := s.deps.Resolver.Resume(ctx, rec.Tokens)
	if errors.Is(err, service.ErrSessionExpired) {
		s.logger.InfoContext(ctx, "persisted session rejected by the identity backend",
			"user_id", rec.UserID, "error_class", obserrors.Classify(err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	return s.deps.Resolver.Populate(ctx, bs), nil
}

func (s *Store) bootstrapTimedOut() {
	s.mu.Lock()
	if s.closed || !s.loading {
		s.mu.Unlock()
		return
	}
	s.endLoadingLocked()
	s.broadcastLocked()
	s.mu.Unlock()

	s.metrics.IncBootstrapTimeout()
	s.logger.Warn("session bootstrap exceeded time box, treating as signed out",
		"timeout", s.cfg.BootstrapTimeout)
}

func (s *Store) targets(ev domainauth.Event) bool {
	if ev.SessionID != "" {
		return ev.SessionID == s.id
	}
	if ev.UserID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.UserID == ev.UserID
}

// handleEvent is the bus subscription. It runs role population for the event and commits
// the result unless a newer event has been received in the meantime.
func (s *Store) handleEvent(ev domainauth.Event) {
	if !knownKind(ev.Kind) || !s.targets(ev) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	cur := s.session.Clone()
	s.mu.Unlock()

	var next *domainauth.Session
	switch ev.Kind {
	case domainauth.EventSignedOut:
		next = nil
	case domainauth.EventSignedIn, domainauth.EventTokenRefreshed:
		switch {
		case ev.Resolved != nil:
			next = ev.Resolved.Clone()
		case ev.Backend != nil:
			next = s.deps.Resolver.Populate(s.ctx, *ev.Backend)
		default:
			next = s.repopulate(cur)
		}
	case domainauth.EventUserUpdated:
		if ev.Backend != nil {
			next = s.deps.Resolver.Populate(s.ctx, *ev.Backend)
		} else {
			next = s.repopulate(cur)
		}
	}

	s.commit(seq, next, commitEvent)
}

func knownKind(k domainauth.EventKind) bool {
	switch k {
	case domainauth.EventSignedIn, domainauth.EventTokenRefreshed,
		domainauth.EventUserUpdated, domainauth.EventSignedOut:
		return true
	}
	return false
}

// repopulate refreshes the role set of the current session in place of a full sign-in.
func (s *Store) repopulate(cur *domainauth.Session) *domainauth.Session {
	if cur == nil || cur.IsDev {
		return cur
	}
	cur.Roles = s.deps.Resolver.FetchRoles(s.ctx, cur.UserID, cur.Email)
	return cur
}

// commit installs next if seq is still the latest received event and persists it.
// Bootstrap commits are accepted after the time box as a late correction, but never
// over an applied event.
func (s *Store) commit(seq uint64, next *domainauth.Session, kind commitKind) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		if kind != commitEvent && !s.closed {
			s.endLoadingLocked()
		}
		s.mu.Unlock()
		return
	}
	s.session = next
	s.index = buildIndex(next)
	s.degraded = kind == commitDegraded
	s.endLoadingLocked()
	s.broadcastLocked()
	if kind == commitDegraded {
		s.mu.Unlock()
		return
	}
	s.persistGen++
	gen := s.persistGen
	persisted := next.Clone()
	s.mu.Unlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if gen < s.persisted {
		return
	}
	s.persisted = gen
	s.persist(persisted)
}

func (s *Store) endLoadingLocked() {
	if s.bootTimer != nil {
		s.bootTimer.Stop()
	}
	s.loading = false
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Store) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func buildIndex(sess *domainauth.Session) map[domainauth.Role]struct{} {
	if sess == nil {
		return nil
	}
	idx := make(map[domainauth.Role]struct{}, len(sess.Roles))
	for _, r := range sess.Roles {
		idx[r] = struct{}{}
	}
	return idx
}

// persist writes or clears the durable summary and the resumable record. Failures are logged;
// the in-memory state stays authoritative.
func (s *Store) persist(sess *domainauth.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sess == nil {
		var errs []error
		if s.deps.Local != nil {
			errs = append(errs, s.deps.Local.Clear(ctx, s.id))
		}
		if s.deps.Records != nil {
			errs = append(errs, s.deps.Records.Delete(ctx, s.id))
		}
		if err := errors.Join(errs...); err != nil {
			s.logger.WarnContext(ctx, "clearing durable session state failed",
				"error_class", obserrors.Classify(err), "error", err)
		}
		return
	}

	if s.deps.Local != nil {
		if err := s.deps.Local.SaveSummary(ctx, s.id, domainauth.SummaryOf(sess)); err != nil {
			s.logger.WarnContext(ctx, "saving session summary failed",
				"user_id", sess.UserID, "error_class", obserrors.Classify(err), "error", err)
		}
	}
	if s.deps.Records == nil || sess.IsDev {
		return
	}
	rec := ports.SessionRecord{ID: s.id, UserID: sess.UserID, Email: sess.Email, Tokens: sess.Tokens}
	if err := s.deps.Records.Save(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "saving session record failed",
			"user_id", sess.UserID, "error_class", obserrors.Classify(err), "error", err)
	}
}

// Snapshot returns an immutable view of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{loading: s.loading, session: s.session.Clone()}
}

// IsAuthenticated reports whether a session is present.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// HasRole reports whether r is in the current role set.
func (s *Store) HasRole(r domainauth.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[r]
	return ok
}

// HasAnyRole reports whether any of rs is in the current role set.
func (s *Store) HasAnyRole(rs ...domainauth.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		if _, ok := s.index[r]; ok {
			return true
		}
	}
	return false
}

func (s *Store) current() (*domainauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.session.Clone(), nil
}

// SignIn exchanges credentials and publishes SIGNED_IN for this session. The returned
// result carries the coarse type even when the exchange fails.
func (s *Store) SignIn(ctx context.Context, email, password string) (*service.SignInResult, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	res, err := s.deps.Resolver.SignIn(ctx, email, password)
	if err != nil {
		return res, err
	}
	s.deps.Bus.Publish(ctx, domainauth.Event{
		Kind:      domainauth.EventSignedIn,
		SessionID: s.id,
		UserID:    res.Session.UserID,
		Resolved:  res.Session,
	})
	return res, nil
}

// SignUp registers an account. The backend confirms addresses by email, so no session is
// established here.
func (s *Store) SignUp(ctx context.Context, req service.SignUpRequest) (*service.EnhancedUser, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	return s.deps.Resolver.SignUp(ctx, req)
}

// SetDevUser commits a forged development session exactly like a sign-in.
// Gating on the build flag and email suffix is the caller's responsibility.
func (s *Store) SetDevUser(ctx context.Context, sess *domainauth.Session) error {
	if _, err := s.current(); err != nil {
		return err
	}
	if sess == nil || !sess.IsDev {
		return errors.New("SetDevUser requires a development session")
	}
	s.deps.Bus.Publish(ctx, domainauth.Event{
		Kind:      domainauth.EventSignedIn,
		SessionID: s.id,
		UserID:    sess.UserID,
		Resolved:  sess,
	})
	return nil
}

// UpdateProfile updates the signed-in user's profile and publishes USER_UPDATED so every
// session of the user repopulates its roles.
func (s *Store) UpdateProfile(ctx context.Context, patch domainauth.ProfilePatch) (*domainauth.Profile, error) {
	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoSession
	}
	p, err := s.deps.Resolver.UpdateProfile(ctx, cur.UserID, patch)
	if err != nil {
		return nil, err
	}
	if !cur.IsDev {
		s.deps.Bus.Publish(ctx, domainauth.Event{Kind: domainauth.EventUserUpdated, UserID: cur.UserID})
	}
	return p, nil
}

// SignOut ends the session. A development session is cleared locally; a real one is
// invalidated at the backend and cleared by the resulting SIGNED_OUT event, forcing the
// clear if the event does not arrive within the sign-out wait. Signing out without a
// session is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	cur, err := s.current()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	if cur == nil {
		return nil
	}

	if !cur.IsDev {
		if err := s.deps.Resolver.SignOut(ctx, cur.Tokens.AccessToken); err != nil {
			s.logger.WarnContext(ctx, "backend sign-out failed, clearing locally",
				"user_id", cur.UserID, "error_class", obserrors.Classify(err), "error", err)
		}
		s.deps.Bus.Publish(ctx, domainauth.Event{
			Kind:      domainauth.EventSignedOut,
			SessionID: s.id,
			UserID:    cur.UserID,
		})
		if s.waitFor(ctx, s.cfg.SignOutWait, func() bool { return s.session == nil }) {
			return nil
		}
		s.logger.WarnContext(ctx, "sign-out event not applied in time, forcing clear", "user_id", cur.UserID)
	}

	s.forceClear()
	return nil
}

// Forget clears this session's in-memory and durable state without contacting the backend.
// It is used when the browser moves to a new session id.
func (s *Store) Forget() { s.forceClear() }

func (s *Store) forceClear() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.commit(seq, nil, commitEvent)
}

// waitFor blocks until cond holds (evaluated under mu), the wait elapses or ctx ends.
func (s *Store) waitFor(ctx context.Context, wait time.Duration, cond func() bool) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return true
		}
		if s.closed {
			s.mu.Unlock()
			return false
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Token returns a token source for backend calls on behalf of this session. Expired tokens
// are refreshed through the backend and announced with TOKEN_REFRESHED.
func (s *Store) Token(ctx context.Context) (oauth2.TokenSource, error) {
	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoSession
	}
	return oauth2.ReuseTokenSource(cur.Tokens.OAuth2(), &refreshingSource{ctx: ctx, store: s}), nil
}

type refreshingSource struct {
	ctx   context.Context
	store *Store
}

func (r *refreshingSource) Token() (*oauth2.Token, error) {
	s := r.store
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoSession
	}
	if tok := cur.Tokens.OAuth2(); tok.Valid() {
		return tok, nil
	}
	if cur.IsDev {
		return nil, service.ErrSessionExpired
	}

	bs, err := s.deps.Resolver.Refresh(r.ctx, cur.Tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	s.deps.Bus.Publish(r.ctx, domainauth.Event{
		Kind:      domainauth.EventTokenRefreshed,
		SessionID: s.id,
		UserID:    bs.Account.ID,
		Backend:   &bs,
	})
	return bs.Tokens.OAuth2(), nil
}

// KeepAlive refreshes an expired access token ahead of use. A definitive rejection by the
// backend signs this session out; other failures leave it for the next attempt.
func (s *Store) KeepAlive(ctx context.Context) error {
	src, err := s.Token(ctx)
	if errors.Is(err, ErrNoSession) || errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := src.Token(); err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			s.logger.InfoContext(ctx, "session rejected on refresh, signing out",
				"error_class", obserrors.Classify(err))
			s.deps.Bus.Publish(ctx, domainauth.Event{Kind: domainauth.EventSignedOut, SessionID: s.id})
		}
		return err
	}
	return nil
}

// CachedSummary reads the durable summary written by the last committed session. It lets a
// client render its last known type and roles while the store is still loading.
func (s *Store) CachedSummary(ctx context.Context) (domainauth.Summary, bool) {
	if s.deps.Local == nil {
		return domainauth.Summary{}, false
	}
	sum, ok, err := s.deps.Local.LoadSummary(ctx, s.id)
	if err != nil {
		s.logger.WarnContext(ctx, "loading session summary failed",
			"error_class", obserrors.Classify(err), "error", err)
		return domainauth.Summary{}, false
	}
	return sum, ok
}
