package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/events"
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"

	// DefaultTimeout bounds login and registration calls.
	DefaultTimeout = 8 * time.Second
)

// IdentityWriter is the slice of the identity resolver the auth flows write through.
type IdentityWriter interface {
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	ResetSession(ctx context.Context) (string, error)
}

// Credentials are the login form fields.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration are the sign-up form fields.
type Registration struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// User is the account returned by login and registration.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authResponse struct {
	fetch.Envelope
	Data struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	} `json:"data"`
}

// Service runs the flows that change who the shopper is. Each successful flow
// raises identity changed on the bus; stores react by refetching.
type Service struct {
	client   fetch.Doer
	identity IdentityWriter
	bus      events.Publisher
	logg     *logger.Logger
	timeout  time.Duration
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Client   fetch.Doer
	Identity IdentityWriter
	Bus      events.Publisher
	Logger   *logger.Logger
	// Timeout bounds login and registration; DefaultTimeout when zero.
	Timeout time.Duration
}

// NewService constructs the auth flows with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("fetch client is required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if params.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		client:   params.Client,
		identity: params.Identity,
		bus:      params.Bus,
		logg:     params.Logger,
		timeout:  timeout,
	}, nil
}

// Login authenticates and sends the guest session so the server can merge
// guest-owned state into the account.
func (s *Service) Login(ctx context.Context, in Credentials) (User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		return User{}, err
	}
	return s.authenticate(ctx, loginPath, in, events.ReasonLogin)
}

// Register creates an account with the same merge contract as Login.
func (s *Service) Register(ctx context.Context, in Registration) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		return User{}, err
	}
	return s.authenticate(ctx, registerPath, in, events.ReasonRegister)
}

func (s *Service) authenticate(ctx context.Context, path string, body any, reason events.Reason) (User, error) {
	ctx = s.logg.WithOperation(ctx, "auth."+string(reason))

	var resp authResponse
	err := s.client.Do(ctx, fetch.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    body,
		Mode:    identity.ModeMigration,
		Timeout: s.timeout,
	}, &resp)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error_code": string(pkgerrors.CodeOf(err)),
			"error":      err.Error(),
		}), "auth.failed")
		return User{}, err
	}
	if strings.TrimSpace(resp.Data.Token) == "" {
		return User{}, pkgerrors.New(pkgerrors.CodeInvalidResponse, "response carried no token")
	}
	if err := s.identity.SetToken(ctx, resp.Data.Token); err != nil {
		return User{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist auth token")
	}

	s.logg.Info(s.logg.WithField(ctx, "user_id", resp.Data.User.ID), "auth.succeeded")
	s.bus.Publish(ctx, events.Event{Topic: events.TopicIdentityChanged, Reason: reason})
	return resp.Data.User, nil
}

// Logout drops the credential and starts a fresh guest session so the next
// reads see an anonymous, empty profile.
func (s *Service) Logout(ctx context.Context) error {
	ctx = s.logg.WithOperation(ctx, "auth.logout")
	if err := s.identity.ClearToken(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear auth token")
	}
	if _, err := s.identity.ResetSession(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "auth.logout.session_reset_failed")
	}
	s.logg.Info(ctx, "auth.logged_out")
	s.bus.Publish(ctx, events.Event{Topic: events.TopicIdentityChanged, Reason: events.ReasonLogout})
	return nil
}
