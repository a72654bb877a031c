// Package session is the single source of truth for whether the client is
// authenticated, and as whom.
//
// A Store owns the current model.Session. Every mutating operation
// (Login, SignUp, Logout, Restore, external events) builds a full
// replacement value and publishes it atomically with respect to
// subscriber notification.
//
// ORDERING:
// Each mutating call takes a ticket from a monotonically increasing
// counter before it does any network I/O. Its result is applied only if no
// call with a later ticket has been applied already; otherwise the result
// is dropped and the call returns ErrSuperseded. The final state therefore
// reflects the call issued last, not the response that arrived last.
// Logout applies at issue time, so it supersedes every login still in
// flight.
//
// Only caller-issued calls take tickets. Identity events and the
// unauthorized policy act on a specific access token and apply only while
// that token is current, so they never discard a login in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/identity"
	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/repository"
)

// MaxUnauthorized is how many consecutive authorization failures reported
// through HandleUnauthorized clear the session.
const MaxUnauthorized = 3

var (
	// ErrSuperseded: a later session operation was issued while this one was
	// in flight, and this one's result was discarded.
	ErrSuperseded = errors.New("session: superseded by a later operation")

	// ErrNoSession is returned by Token when logged out.
	ErrNoSession = errors.New("session: not logged in")

	// ErrPersist wraps failures of the persistence hook. The in-memory
	// session was still updated and subscribers were notified.
	ErrPersist = errors.New("session: could not persist session")
)

// IdentityBackend is the part of the identity service the Store uses.
// *identity.Client implements it.
type IdentityBackend interface {
	SignIn(ctx context.Context, email, password string) (model.Session, error)
	SignUp(ctx context.Context, email, password string) (identity.SignUpOutcome, error)
	SignOut(ctx context.Context, accessToken string) error
	CurrentSession(ctx context.Context) (*model.Session, error)
}

// Store holds the current session. The zero value is not usable; call New.
type Store struct {
	backend IdentityBackend
	persist repository.SessionRepository
	logger  *slog.Logger

	tickets atomic.Uint64

	// deliverMu serialises apply, persist and notify, so subscribers see
	// transitions in ticket order. Always taken before mu.
	deliverMu sync.Mutex

	mu           sync.RWMutex
	current      model.Session
	applied      uint64
	subs         map[uint64]*subscriber
	nextSubID    uint64
	unauthorized int
}

type subscriber struct {
	fn     func(model.Session)
	active atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables persistence: every applied transition is saved and
// Restore reads from it first.
func WithPersister(p repository.SessionRepository) Option {
	return func(s *Store) { s.persist = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a logged-out Store.
func New(backend IdentityBackend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.New(slog.DiscardHandler),
		subs:    make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a snapshot of the session.
func (s *Store) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token implements oauth2.TokenSource, which makes the Store the token
// provider of httpclient.Client. It returns ErrNoSession when logged out.
func (s *Store) Token() (*oauth2.Token, error) {
	cur := s.Current()
	if !cur.Authenticated() {
		return nil, ErrNoSession
	}
	tok := *cur.Token
	return &tok, nil
}

// AccessToken returns the bearer token, or "" when logged out.
func (s *Store) AccessToken() string {
	return s.Current().AccessToken()
}

// Subscribe registers fn to be called with the new session after every
// transition (login, sign-up, logout, restore, refresh, invalidation).
//
// Calls are made one at a time in transition order, from the goroutine
// that applied the transition. fn must not call Login, SignUp, Logout or
// Restore synchronously. Once unsubscribe returns, fn is not called again
// (a call already running on another goroutine finishes). unsubscribe may
// be called more than once.
func (s *Store) Subscribe(fn func(model.Session)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Login exchanges credentials for a session and makes it current.
// Every failure matches apperror.ErrAuth; an unreachable backend also
// matches apperror.ErrTransport. Nothing is retried.
func (s *Store) Login(ctx context.Context, email, password string) (model.Session, error) {
	ticket := s.tickets.Add(1)

	sess, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", slog.Uint64("ticket", ticket), slog.String("error", err.Error()))
		return model.Session{}, loginError(err)
	}

	if _, err := s.apply(ctx, transition{op: "login", ticket: ticket, fn: replaceWith(sess)}); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return model.Session{}, err
		}
		return sess, err
	}
	return sess, nil
}

// loginError reports an unreachable identity backend as a failed login.
// The transport cause stays reachable through errors.Is.
func loginError(err error) error {
	if !errors.Is(err, apperror.ErrTransport) || errors.Is(err, apperror.ErrAuth) {
		return err
	}
	return &apperror.AppError{
		Err:     apperror.ErrAuth,
		Code:    "login_unreachable",
		Message: apperror.Message(err),
		Cause:   err,
	}
}

// SignUpStatus distinguishes the two valid outcomes of SignUp.
type SignUpStatus int

const (
	// SignUpActive: the backend issued a session, which is now current.
	SignUpActive SignUpStatus = iota + 1
	// SignUpPendingConfirmation: the account awaits confirmation; no
	// session was issued or stored.
	SignUpPendingConfirmation
)

func (st SignUpStatus) String() string {
	switch st {
	case SignUpActive:
		return "active"
	case SignUpPendingConfirmation:
		return "pending_confirmation"
	default:
		return "unknown"
	}
}

// SignUpResult is the outcome of SignUp. Session is set only when Status
// is SignUpActive.
type SignUpResult struct {
	Status  SignUpStatus
	Session *model.Session
	User    model.UserProfile
}

// SignUp registers a new identity.
func (s *Store) SignUp(ctx context.Context, email, password string) (SignUpResult, error) {
	ticket := s.tickets.Add(1)

	out, err := s.backend.SignUp(ctx, email, password)
	if err != nil {
		return SignUpResult{}, err
	}

	if out.Pending || out.Session == nil {
		s.logger.Info("sign-up pending confirmation", slog.String("userID", out.User.ID))
		return SignUpResult{Status: SignUpPendingConfirmation, User: out.User}, nil
	}

	sess := *out.Session
	res := SignUpResult{Status: SignUpActive, Session: &sess, User: out.User}
	if _, err := s.apply(ctx, transition{op: "sign-up", ticket: ticket, fn: replaceWith(sess)}); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return SignUpResult{}, err
		}
		return res, err
	}
	return res, nil
}

// Logout clears the session, its persisted copy, and notifies subscribers,
// then signs out at the backend. The local clear happens before any
// network I/O and supersedes every operation still in flight; the backend
// sign-out is best effort. Logging out while logged out does nothing.
func (s *Store) Logout(ctx context.Context) error {
	ticket := s.tickets.Add(1)

	prev, err := s.apply(ctx, transition{
		op:     "logout",
		ticket: ticket,
		claim:  true,
		fn: func(cur model.Session) (model.Session, bool) {
			return model.Session{}, cur.Authenticated()
		},
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}

	if tok := prev.AccessToken(); tok != "" {
		if signOutErr := s.backend.SignOut(ctx, tok); signOutErr != nil {
			s.logger.Warn("backend sign-out failed", slog.String("error", signOutErr.Error()))
		}
	}
	return err
}

// Restore populates the store at process start: from the persister if it
// holds a usable session, otherwise from the backend's current session.
// It returns (nil, nil) when there is no prior session.
//
// A persisted token that has expired and carries no refresh token is
// dropped, along with its persisted copy. An expired token that can be
// refreshed is restored; following the identity change stream renews it.
func (s *Store) Restore(ctx context.Context) (*model.Session, error) {
	ticket := s.tickets.Add(1)

	var (
		sess     model.Session
		failures int
	)
	if s.persist != nil {
		stored, err := s.persist.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: loading persisted session: %w", err)
		}
		if stored.Authenticated() && !stored.Token.Valid() && stored.Token.RefreshToken == "" {
			s.logger.Info("dropping expired persisted session")
			if err := s.persist.Clear(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrPersist, err)
			}
			stored = model.Session{}
		}
		sess = stored
		if sess.Authenticated() {
			if failures, err = s.persist.AuthFailures(ctx); err != nil {
				s.logger.Warn("loading authorization failure count", slog.String("error", err.Error()))
			}
		}
	}

	fromStore := sess.Authenticated()
	if !fromStore {
		cur, err := s.backend.CurrentSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: asking backend for current session: %w", err)
		}
		if cur == nil || !cur.Authenticated() {
			return nil, nil
		}
		sess = *cur
	}

	_, err := s.apply(ctx, transition{op: "restore", ticket: ticket, fn: replaceWith(sess), stored: fromStore})
	if errors.Is(err, ErrSuperseded) {
		return nil, err
	}
	if fromStore && failures > 0 {
		s.mu.Lock()
		if s.current.AccessToken() == sess.AccessToken() {
			s.unauthorized = failures
		}
		s.mu.Unlock()
	}
	return &sess, err
}

// Follow applies session changes from the identity backend until ctx ends
// or events is closed. An event applies only while the store still holds
// the token the event was computed from; anything else is stale.
func (s *Store) Follow(ctx context.Context, events <-chan identity.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one identity event, under the same rule as Follow.
func (s *Store) HandleEvent(ctx context.Context, ev identity.Event) {
	_, err := s.apply(ctx, transition{op: ev.Kind.String(), fn: func(cur model.Session) (model.Session, bool) {
		if !cur.Authenticated() || cur.AccessToken() != ev.Previous {
			return cur, false
		}
		switch ev.Kind {
		case identity.TokenRefreshed:
			next := ev.Session
			if next.User == nil {
				next = model.NewSession(next.Token, cur.User)
			}
			return next, next.Authenticated()
		case identity.SessionInvalidated:
			return model.Session{}, true
		default:
			return cur, false
		}
	}})
	if err != nil {
		s.logger.Warn("applying identity event", slog.String("kind", ev.Kind.String()), slog.String("error", err.Error()))
	}
}

// HandleUnauthorized is the caller-side policy for authorization failures:
// report the outcome of each API call, and after MaxUnauthorized
// consecutive apperror.ErrAuth results against the same access token the
// session is cleared locally. Any other outcome, or a new session, resets
// the count. With a persister the count is stored next to the session, so
// it carries across processes. It reports whether it cleared the session.
// The HTTP client never calls this on its own.
func (s *Store) HandleUnauthorized(ctx context.Context, err error) bool {
	s.deliverMu.Lock()
	s.mu.Lock()
	token := s.current.AccessToken()
	prev := s.unauthorized
	switch {
	case token == "":
		// Nothing to count against.
	case errors.Is(err, apperror.ErrAuth):
		s.unauthorized++
	default:
		s.unauthorized = 0
	}
	count := s.unauthorized
	s.mu.Unlock()

	if s.persist != nil && count != prev {
		if saveErr := s.persist.SetAuthFailures(context.WithoutCancel(ctx), count); saveErr != nil {
			s.logger.Warn("persisting authorization failure count", slog.String("error", saveErr.Error()))
		}
	}
	s.deliverMu.Unlock()

	if token == "" || count < MaxUnauthorized {
		return false
	}

	s.logger.Warn("clearing session after repeated authorization failures", slog.Int("failures", count))
	before, applyErr := s.apply(ctx, transition{op: "unauthorized", fn: func(cur model.Session) (model.Session, bool) {
		return model.Session{}, cur.AccessToken() == token
	}})
	if applyErr != nil {
		s.logger.Warn("clearing session", slog.String("error", applyErr.Error()))
	}
	return before.AccessToken() == token
}

// change computes the next session from the current one. ok=false means
// nothing changes and nobody is notified.
type change func(cur model.Session) (next model.Session, ok bool)

func replaceWith(sess model.Session) change {
	return func(model.Session) (model.Session, bool) { return sess, true }
}

// transition is one session change handed to apply.
type transition struct {
	op string
	fn change
	// ticket orders caller-issued calls; 0 means the change is not ordered
	// by tickets and guards itself on the token it was computed from.
	ticket uint64
	// claim makes the ticket supersede older calls even when fn changes
	// nothing (Logout while logged out).
	claim bool
	// stored: the persister already holds the result.
	stored bool
}

// apply runs t.fn under ticket ordering and, when it changes the session,
// publishes, persists and notifies. A ticket counts as applied only once
// its call changed the session, or claimed the order. It returns the
// session that was current before.
func (s *Store) apply(ctx context.Context, t transition) (model.Session, error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if t.ticket != 0 && t.ticket <= s.applied {
		applied := s.applied
		s.mu.Unlock()
		s.logger.Debug("discarding superseded result",
			slog.String("op", t.op), slog.Uint64("ticket", t.ticket), slog.Uint64("applied", applied))
		return model.Session{}, ErrSuperseded
	}

	prev := s.current
	next, ok := t.fn(prev)
	if t.ticket != 0 && (ok || t.claim) {
		s.applied = t.ticket
	}
	if !ok {
		s.mu.Unlock()
		return prev, nil
	}
	s.current = next
	s.unauthorized = 0

	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Info("session changed",
		slog.String("op", t.op),
		slog.Uint64("ticket", t.ticket),
		slog.Bool("authenticated", next.Authenticated()))

	var persistErr error
	if s.persist != nil && !t.stored {
		// The transition already happened; a cancelled caller must not
		// leave a stale copy on disk.
		if err := s.persist.Save(context.WithoutCancel(ctx), next); err != nil {
			s.logger.Error("persisting session", slog.String("error", err.Error()))
			persistErr = fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(next)
		}
	}

	return prev, persistErr
}
