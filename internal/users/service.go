package users

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

const (
	MaxFailedLogins = 5
	LockDuration    = 15 * time.Minute
)

var errInvalidCredentials = apperr.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)

// Service keeps identities in memory, indexed by id and lower-cased email.
type Service struct {
	mu      sync.RWMutex
	byID    map[string]CoreIdentity
	byEmail map[string]string
	cost    int
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(logger *zap.Logger) *Service {
	return &Service{
		byID:    make(map[string]CoreIdentity),
		byEmail: make(map[string]string),
		cost:    bcrypt.DefaultCost,
		logger:  logging.OrNop(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Timezone  string `json:"timezone" validate:"omitempty,tzname"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(_ context.Context, req RegisterRequest) (CoreIdentity, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validate.Struct(req); err != nil {
		return CoreIdentity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return CoreIdentity{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	id := util.NewID("usr")
	identity := CoreIdentity{
		ID:            id,
		PII:           PII{UserID: id, FirstName: req.FirstName, LastName: req.LastName},
		Contact:       ContactInfo{Email: req.Email},
		Location:      LocationInfo{Timezone: req.Timezone},
		Security:      SecuritySettings{PasswordUpdatedAt: &now},
		Notifications: DefaultNotificationSettings(),
		Onboarding:    OnboardingStatus{Done: []string{}},
		PasswordHash:  string(hash),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[req.Email]; taken {
		return CoreIdentity{}, apperr.Conflict("EMAIL_TAKEN", "Email already registered")
	}
	s.byID[id] = identity
	s.byEmail[req.Email] = id
	s.logger.Info("user registered", zap.String("user_id", id))
	return identity.clone(), nil
}

func (s *Service) Get(_ context.Context, userID string) (CoreIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[userID]
	if !ok {
		return CoreIdentity{}, apperr.NotFound("User")
	}
	return identity.clone(), nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (CoreIdentity, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return CoreIdentity{}, apperr.NotFound("User")
	}
	return s.Get(ctx, id)
}

// VerifyPassword checks credentials. A failure bumps the failed-attempt
// counter and the fifth consecutive failure locks the account for
// LockDuration; a success resets the counter and records the login.
func (s *Service) VerifyPassword(_ context.Context, email, password string) (CoreIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return CoreIdentity{}, errInvalidCredentials
	}
	identity := s.byID[id]
	now := s.now()
	if identity.Security.lockedAt(now) {
		return CoreIdentity{}, apperr.New(http.StatusLocked, "ACCOUNT_LOCKED", "Too many failed login attempts", map[string]any{
			"locked_until": identity.Security.LockedUntil,
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return CoreIdentity{}, fmt.Errorf("compare password: %w", err)
		}
		identity.Security.FailedLoginAttempts++
		if identity.Security.FailedLoginAttempts >= MaxFailedLogins {
			until := now.Add(LockDuration)
			identity.Security.LockedUntil = &until
			identity.Security.FailedLoginAttempts = 0
			s.logger.Warn("user locked out", zap.String("user_id", id))
		}
		identity.UpdatedAt = now
		s.byID[id] = identity
		return CoreIdentity{}, errInvalidCredentials
	}

	identity.Security.FailedLoginAttempts = 0
	identity.Security.LockedUntil = nil
	identity.Security.LastLogin = &now
	identity.UpdatedAt = now
	s.byID[id] = identity
	return identity.clone(), nil
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

func (s *Service) ChangePassword(_ context.Context, userID string, req ChangePasswordRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if req.CurrentPassword == req.NewPassword {
		return apperr.Invalid("New password must differ from the current one", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return errInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	identity.PasswordHash = string(hash)
	identity.Security.PasswordUpdatedAt = &now
	identity.UpdatedAt = now
	s.byID[userID] = identity
	return nil
}

// CompleteOnboardingStep marks step done. Repeating a step only moves
// LastStep.
func (s *Service) CompleteOnboardingStep(_ context.Context, userID, step string) (OnboardingStatus, error) {
	if !slices.Contains(OnboardingSteps, step) {
		return OnboardingStatus{}, apperr.Invalid("Unknown onboarding step", map[string]any{"step": step, "allowed": OnboardingSteps})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[userID]
	if !ok {
		return OnboardingStatus{}, apperr.NotFound("User")
	}
	identity = identity.clone()
	ob := &identity.Onboarding
	if !slices.Contains(ob.Done, step) {
		ob.Done = append(ob.Done, step)
	}
	ob.StepsCompleted = len(ob.Done)
	ob.LastStep = step
	ob.Completed = ob.StepsCompleted == len(OnboardingSteps)
	identity.UpdatedAt = s.now()
	s.byID[userID] = identity
	return identity.clone().Onboarding, nil
}

func (s *Service) UpdateNotificationSettings(_ context.Context, userID string, settings NotificationSettings) (CoreIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[userID]
	if !ok {
		return CoreIdentity{}, apperr.NotFound("User")
	}
	identity.Notifications = settings
	identity.UpdatedAt = s.now()
	s.byID[userID] = identity
	return identity.clone(), nil
}

// UpdateProfileRequest leaves nil sections unchanged.
type UpdateProfileRequest struct {
	FirstName *string       `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string       `json:"last_name" validate:"omitempty,max=100"`
	Location  *LocationInfo `json:"location"`
	Company   *CompanyInfo  `json:"company"`
}

// UpdateProfile replaces the editable profile sections. Email and security
// state are not touched here.
func (s *Service) UpdateProfile(_ context.Context, userID string, req UpdateProfileRequest) (CoreIdentity, error) {
	if err := validate.Struct(req); err != nil {
		return CoreIdentity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[userID]
	if !ok {
		return CoreIdentity{}, apperr.NotFound("User")
	}
	identity = identity.clone()
	if req.FirstName != nil {
		identity.PII.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		identity.PII.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Location != nil {
		identity.Location = *req.Location
	}
	if req.Company != nil {
		company := *req.Company
		identity.Company = &company
	}
	identity.UpdatedAt = s.now()
	s.byID[userID] = identity
	return identity.clone(), nil
}
