package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"

	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

// DefaultCallbackAddr is the loopback address the callback listener binds.
// The redirect URI registered with the provider must match it.
const DefaultCallbackAddr = "localhost:3000"

const shutdownTimeout = 5 * time.Second

var (
	// ErrMissingCredentials is returned by Start when no client credentials
	// are configured.
	ErrMissingCredentials = errors.New("client id and client secret are required to authorize")
	// ErrMissingCode is recorded when the callback carries no code.
	ErrMissingCode = errors.New("callback carried no authorization code")
	// ErrFlowClosed is recorded when the receiver is closed mid-flow.
	ErrFlowClosed = errors.New("authorization flow closed before a callback arrived")
)

// State is a step of the local authorization flow.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateAwaitingCallback
	StateCompleting
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateCompleting:
		return "completing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CodeExchanger is the part of the Exchanger the receiver drives.
type CodeExchanger interface {
	HasCredentials() bool
	AuthCodeURL(redirectURI, verifier string) string
	ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*core.TokenRecord, error)
}

// TokenAdopter takes ownership of a freshly issued token record.
type TokenAdopter interface {
	Adopt(ctx context.Context, record *core.TokenRecord) error
}

// Receiver runs at most one local authorization flow at a time. Each flow
// binds a loopback listener serving /auth and /callback and tears it down
// once the callback has been handled.
type Receiver struct {
	addr        string
	exchanger   CodeExchanger
	adopter     TokenAdopter
	logger      *slog.Logger
	openBrowser func(url string) error

	mu   sync.Mutex
	flow *Flow
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithBrowser replaces the function used to open the /auth page. Nil
// disables opening a browser.
func WithBrowser(open func(url string) error) ReceiverOption {
	return func(r *Receiver) {
		r.openBrowser = open
	}
}

// WithReceiverLogger sets the logger used for flow events.
func WithReceiverLogger(l *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = l
	}
}

// NewReceiver creates a Receiver listening on addr once started.
func NewReceiver(addr string, exchanger CodeExchanger, adopter TokenAdopter, opts ...ReceiverOption) *Receiver {
	if addr == "" {
		addr = DefaultCallbackAddr
	}
	r := &Receiver{
		addr:        addr,
		exchanger:   exchanger,
		adopter:     adopter,
		logger:      slog.Default(),
		openBrowser: OpenBrowser,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins an authorization flow. If one is already running it is
// returned with started set to false and nothing new is bound. A flow that
// has ended but not yet released its listener is waited for first.
func (r *Receiver) Start(ctx context.Context) (flow *Flow, started bool, err error) {
	if err := r.lockSettled(ctx); err != nil {
		return nil, false, err
	}
	defer r.mu.Unlock()

	if r.flow != nil {
		return r.flow, false, nil
	}
	if !r.exchanger.HasCredentials() {
		return nil, false, ErrMissingCredentials
	}

	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to bind callback listener on %s: %w", r.addr, err)
	}
	base, err := baseURL(r.addr, ln.Addr())
	if err != nil {
		_ = ln.Close()
		return nil, false, err
	}

	log := r.logger
	if reqID := core.RequestIDFromCtx(ctx); reqID != "" {
		log = log.With("request_id", reqID)
	}

	f := &Flow{
		receiver:    r,
		logger:      log,
		listener:    ln,
		authURL:     base + "/auth",
		redirectURI: base + "/callback",
		verifier:    oauth2.GenerateVerifier(),
		done:        make(chan struct{}),
	}
	f.state.Store(int32(StateListening))

	router := gin.New()
	router.Use(gin.Recovery(), sloggin.SetLogger(
		sloggin.WithLogger(func(*gin.Context, *slog.Logger) *slog.Logger { return log }),
		// The callback query carries the authorization code.
		sloggin.WithSkipPath([]string{"/callback"}),
	))
	router.GET("/auth", f.handleAuth)
	router.GET("/callback", f.handleCallback)
	f.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.flow = f
	go f.serve()

	log.Info("authorization flow started",
		"auth_url", f.authURL,
		"redirect_uri", f.redirectURI,
	)

	if r.openBrowser != nil {
		go func() {
			if err := r.openBrowser(f.authURL); err != nil {
				log.Warn("failed to open browser, open the URL manually", "url", f.authURL, "error", err)
			}
		}()
	}

	return f, true, nil
}

// lockSettled acquires r.mu once no ended flow still holds the listener.
// A flow that reached Closed or Error is waited out, not returned.
func (r *Receiver) lockSettled(ctx context.Context) error {
	for {
		r.mu.Lock()
		f := r.flow
		if f == nil || !f.ended() {
			return nil
		}
		r.mu.Unlock()

		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Current returns the active flow, or nil.
func (r *Receiver) Current() *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow
}

// Active reports whether a flow currently holds the listener.
func (r *Receiver) Active() bool {
	return r.Current() != nil
}

// State returns the active flow's state, or StateIdle.
func (r *Receiver) State() State {
	if f := r.Current(); f != nil {
		return f.State()
	}
	return StateIdle
}

// Close tears down an active flow and waits for its listener to be released.
func (r *Receiver) Close(ctx context.Context) error {
	f := r.Current()
	if f == nil {
		return nil
	}
	if f.claim(StateClosed) {
		f.setErr(ErrFlowClosed)
	}
	f.teardown(ctx)
	return nil
}

func (r *Receiver) release(f *Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flow == f {
		r.flow = nil
	}
}

// baseURL derives the public base of the listener from the configured
// address, taking the port from the bound socket when none was fixed.
func baseURL(configured string, bound net.Addr) (string, error) {
	host, port, err := net.SplitHostPort(configured)
	if err != nil {
		return "", fmt.Errorf("invalid callback address %q: %w", configured, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	if port == "" || port == "0" {
		tcp, ok := bound.(*net.TCPAddr)
		if !ok {
			return "", fmt.Errorf("unexpected listener address %v", bound)
		}
		port = strconv.Itoa(tcp.Port)
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// Flow is one run of the authorization code dance.
type Flow struct {
	receiver    *Receiver
	logger      *slog.Logger
	listener    net.Listener
	server      *http.Server
	authURL     string
	redirectURI string
	verifier    string

	state atomic.Int32

	mu  sync.Mutex
	err error

	done chan struct{}
	once sync.Once
}

// AuthURL is the local page that redirects the browser to the provider.
func (f *Flow) AuthURL() string {
	return f.authURL
}

// RedirectURI is the callback URL sent to the provider.
func (f *Flow) RedirectURI() string {
	return f.redirectURI
}

// State returns the flow's current step.
func (f *Flow) State() State {
	return State(f.state.Load())
}

// Done is closed once the listener has been released.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Err returns why the flow failed, or nil.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) ended() bool {
	switch f.State() {
	case StateClosed, StateError:
		return true
	default:
		return false
	}
}

func (f *Flow) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// claim moves a waiting flow to the given state. It fails once a callback
// has already been taken.
func (f *Flow) claim(to State) bool {
	for {
		cur := State(f.state.Load())
		if cur != StateListening && cur != StateAwaitingCallback {
			return false
		}
		if f.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

func (f *Flow) serve() {
	err := f.server.Serve(f.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		f.logger.Error("callback server stopped", "error", err)
		if f.claim(StateError) {
			f.finish(StateError, err)
		}
	}
}

// finish records the outcome and releases the listener in the background,
// after the in-flight response has been written.
func (f *Flow) finish(state State, err error) {
	if err != nil {
		f.setErr(err)
	}
	f.state.Store(int32(state))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		f.teardown(ctx)
	}()
}

func (f *Flow) teardown(ctx context.Context) {
	f.once.Do(func() {
		if err := f.server.Shutdown(ctx); err != nil {
			_ = f.server.Close()
		}
		f.receiver.release(f)
		close(f.done)
		f.logger.Debug("authorization flow finished", "state", f.State().String())
	})
}

func (f *Flow) handleAuth(c *gin.Context) {
	f.state.CompareAndSwap(int32(StateListening), int32(StateAwaitingCallback))
	c.Redirect(http.StatusFound, f.receiver.exchanger.AuthCodeURL(f.redirectURI, f.verifier))
}

func (f *Flow) handleCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		if !f.claim(StateError) {
			c.String(http.StatusConflict, "Authorization has already been handled.")
			return
		}
		err := ErrMissingCode
		if reason := c.Query("error"); reason != "" {
			err = fmt.Errorf("provider returned %s: %s", reason, c.Query("error_description"))
		}
		f.logger.Warn("authorization callback rejected", "error", err)
		c.String(http.StatusBadRequest, "Authorization failed: no authorization code was received. Start the authorization again.")
		f.finish(StateError, err)
		return
	}

	if !f.claim(StateCompleting) {
		c.String(http.StatusConflict, "Authorization has already been handled.")
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	record, err := f.receiver.exchanger.ExchangeCode(ctx, code, f.redirectURI, f.verifier)
	if err == nil {
		err = f.receiver.adopter.Adopt(ctx, record)
	}
	if err != nil {
		f.logger.Error("authorization code exchange failed", "error", err)
		c.String(http.StatusInternalServerError, "Authorization failed while exchanging the code for a token. Check the server logs and try again.")
		f.finish(StateError, err)
		return
	}

	f.logger.Info("authorization completed",
		"expires_at", record.ExpiresAt,
		"scope", record.ScopeString(),
	)
	c.String(http.StatusOK, "Authorization successful! You can close this window and return to your assistant.")
	f.finish(StateClosed, nil)
}
