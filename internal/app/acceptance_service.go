package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/jwt"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/tracing"
)

// Authentication methods accepted when joining a tenant.
const (
	AuthMethodPassword = "password"
	AuthMethodGoogle   = "google"
)

const acceptedMessage = "Invitation accepted successfully"

// GoogleProfile is the verified identity returned by Google.
type GoogleProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// IdentityProvider exchanges an OAuth authorization code for a verified profile.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*GoogleProfile, error)
}

// OAuthStateStore keeps single-use OAuth state values.
type OAuthStateStore interface {
	Save(ctx context.Context, state, value string) error
	Consume(ctx context.Context, state string) (string, error)
}

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	GenerateSessionToken(sub jwt.SessionSubject) (*jwt.IssuedToken, error)
}

// PasswordHasher checks the password policy and hashes passwords.
type PasswordHasher interface {
	Validate(password string) error
	Hash(password string) (string, error)
}

// AttemptLimiter caps repeated attempts per key within a window.
type AttemptLimiter interface {
	Attempt(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// AcceptInput represents the input for accepting an invitation.
type AcceptInput struct {
	Method    string `validate:"required,auth_method"`
	Password  string
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
	Code      string
	State     string
}

// AcceptanceResult is returned after an invitation was accepted.
type AcceptanceResult struct {
	Message              string
	User                 *user.User
	Tenant               *tenant.Tenant
	Roles                []*role.Role
	AccessToken          string
	ExpiresAt            time.Time
	VerificationRequired bool
}

// GoogleAuthURLResult is the Google consent URL for an invitation.
type GoogleAuthURLResult struct {
	AuthURL string
	State   string
}

// AcceptanceService turns a valid invitation into a user account.
type AcceptanceService struct {
	validator     *TokenValidator
	invitations   *InvitationService
	userRepo      user.Repository
	roleRepo      role.Repository
	tenantRepo    tenant.Repository
	hasher        PasswordHasher
	sessions      SessionIssuer
	identity      IdentityProvider
	states        OAuthStateStore
	codes         *VerificationCodes
	attempts      AttemptLimiter
	emailEnqueuer EmailJobEnqueuer
	audit         *AuditService
	now           func() time.Time
	logger        *logger.Logger
}

// NewAcceptanceService creates a new AcceptanceService. Google sign-in is
// disabled until SetGoogleProvider is called.
func NewAcceptanceService(
	validator *TokenValidator,
	invitations *InvitationService,
	userRepo user.Repository,
	roleRepo role.Repository,
	tenantRepo tenant.Repository,
	hasher PasswordHasher,
	sessions SessionIssuer,
	codes *VerificationCodes,
	auditService *AuditService,
	log *logger.Logger,
) *AcceptanceService {
	return &AcceptanceService{
		validator:   validator,
		invitations: invitations,
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		tenantRepo:  tenantRepo,
		hasher:      hasher,
		sessions:    sessions,
		codes:       codes,
		audit:       auditService,
		now:         time.Now,
		logger:      log.With("service", "acceptance"),
	}
}

// SetGoogleProvider enables Google sign-in.
func (s *AcceptanceService) SetGoogleProvider(identity IdentityProvider, states OAuthStateStore) {
	s.identity = identity
	s.states = states
}

// SetEmailJobEnqueuer sets the email job enqueuer.
func (s *AcceptanceService) SetEmailJobEnqueuer(e EmailJobEnqueuer) {
	s.emailEnqueuer = e
}

// SetVerificationAttemptLimiter caps verification code attempts per user.
// Without it attempts are unlimited.
func (s *AcceptanceService) SetVerificationAttemptLimiter(l AttemptLimiter) {
	s.attempts = l
}

// Accept creates the invited user, assigns roles, marks the invitation
// accepted and issues a session token. Every check runs before the first
// write.
func (s *AcceptanceService) Accept(ctx context.Context, token string, input AcceptInput, actx AuditContext) (*AcceptanceResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "invitation.accept")
	defer span.End()
	span.SetAttributes(attribute.String("invitation.auth_method", input.Method))

	result, err := s.accept(ctx, token, input, actx)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.AcceptancesTotal.WithLabelValues(input.Method, metrics.StatusFailed).Inc()
		return nil, err
	}
	metrics.AcceptancesTotal.WithLabelValues(input.Method, metrics.StatusSuccess).Inc()
	return result, nil
}

func (s *AcceptanceService) accept(ctx context.Context, token string, input AcceptInput, actx AuditContext) (*AcceptanceResult, error) {
	log := s.logger.WithContext(ctx).With("token_prefix", invitation.TruncateToken(token))

	validation, err := s.validator.ValidateCryptographically(ctx, token, actx)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, reasonError(validation)
	}
	inv := validation.Details.Invitation

	exists, err := s.userRepo.ExistsByEmail(ctx, inv.TenantID(), inv.Email())
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, user.ErrEmailTaken
	}

	var u *user.User
	switch input.Method {
	case AuthMethodPassword:
		u, err = s.passwordUser(inv, input)
	case AuthMethodGoogle:
		u, err = s.googleUser(ctx, token, validation.Details, input)
	default:
		err = fmt.Errorf("%w: Invalid authentication method", shared.ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	roleIDs, err := s.rolesToGrant(ctx, inv)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.CreateWithRoles(ctx, u, roleIDs); err != nil {
		return nil, err
	}
	log.Info("user created from invitation",
		"user_id", u.ID().String(),
		"invitation_id", inv.ID().String(),
		"auth_method", input.Method,
	)

	actx.ActorID = u.ID()
	if _, err := s.invitations.AcceptInvitation(ctx, inv.Token(), actx); err != nil {
		log.Error("user created but invitation could not be marked accepted",
			"user_id", u.ID().String(),
			"invitation_id", inv.ID().String(),
			"error", err,
		)
		return nil, err
	}

	t, err := s.tenantRepo.GetByID(ctx, inv.TenantID())
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	roles, err := s.roleRepo.ListForUser(ctx, inv.TenantID(), u.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}

	issued, err := s.sessions.GenerateSessionToken(jwt.SessionSubject{
		UserID:   u.ID().String(),
		TenantID: t.ID().String(),
		Email:    u.Email(),
		RoleIDs:  shared.IDStrings(role.IDs(roles)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	verificationRequired := !u.EmailVerified()
	if verificationRequired {
		bestEffort(ctx, s.logger, "send_verification_code", func() error {
			return s.sendVerificationCode(ctx, u)
		})
	}

	return &AcceptanceResult{
		Message:              acceptedMessage,
		User:                 u,
		Tenant:               t,
		Roles:                roles,
		AccessToken:          issued.Token,
		ExpiresAt:            issued.ExpiresAt,
		VerificationRequired: verificationRequired,
	}, nil
}

func (s *AcceptanceService) passwordUser(inv *invitation.Invitation, input AcceptInput) (*user.User, error) {
	if input.Password == "" {
		return nil, fmt.Errorf("%w: Password is required", shared.ErrValidation)
	}
	if err := s.hasher.Validate(input.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error())
	}
	firstName, lastName := strings.TrimSpace(input.FirstName), strings.TrimSpace(input.LastName)
	if firstName == "" {
		return nil, fmt.Errorf("%w: First name is required", shared.ErrValidation)
	}
	if lastName == "" {
		return nil, fmt.Errorf("%w: Last name is required", shared.ErrValidation)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return user.NewLocalUser(inv.TenantID(), inv.Email(), firstName, lastName, hash)
}

func (s *AcceptanceService) googleUser(ctx context.Context, token string, details *InvitationDetails, input AcceptInput) (*user.User, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, fmt.Errorf("%w: Authorization code is required", shared.ErrValidation)
	}
	if s.identity == nil {
		return nil, fmt.Errorf("%w: Google sign-in is not configured", shared.ErrValidation)
	}

	if input.State != "" {
		if err := s.consumeState(ctx, token, input.State); err != nil {
			return nil, err
		}
	}

	profile, err := s.identity.Exchange(ctx, input.Code)
	if err != nil {
		s.logger.WithContext(ctx).Warn("google code exchange rejected", "error", err)
		return nil, fmt.Errorf("%w: Failed to authenticate with Google", shared.ErrUnauthorized)
	}
	if !profile.EmailVerified {
		return nil, fmt.Errorf("%w: Google account email is not verified", shared.ErrUnauthorized)
	}

	inv := details.Invitation
	if invitation.NormalizeEmail(profile.Email) != inv.Email() {
		s.logger.WithContext(ctx).Warn("security event: google email mismatch",
			"invitation_id", inv.ID().String(),
		)
		return nil, fmt.Errorf("%w: Google account email must match the invitation email", shared.ErrValidation)
	}
	if !details.Tenant.GoogleSSOEnabled() {
		return nil, fmt.Errorf("%w: Google SSO is not enabled for this tenant", shared.ErrValidation)
	}

	firstName, lastName := profile.FirstName, profile.LastName
	if firstName == "" {
		firstName = input.FirstName
	}
	if lastName == "" {
		lastName = input.LastName
	}
	return user.NewGoogleUser(inv.TenantID(), inv.Email(), firstName, lastName, profile.Subject)
}

func (s *AcceptanceService) consumeState(ctx context.Context, token, state string) error {
	if s.states == nil {
		return fmt.Errorf("%w: Invalid or expired OAuth state", shared.ErrValidation)
	}
	stored, err := s.states.Consume(ctx, state)
	if err != nil || stored != invitation.NormalizeToken(token) {
		if err != nil {
			s.logger.WithContext(ctx).Warn("oauth state rejected", "error", err)
		}
		return fmt.Errorf("%w: Invalid or expired OAuth state", shared.ErrValidation)
	}
	return nil
}

// rolesToGrant returns the invitation's role snapshot, or the tenant's
// default member role when the snapshot is empty. A tenant without that
// role gets no roles.
func (s *AcceptanceService) rolesToGrant(ctx context.Context, inv *invitation.Invitation) ([]shared.ID, error) {
	if len(inv.RoleIDs()) > 0 {
		return inv.RoleIDs(), nil
	}

	member, err := s.roleRepo.GetByName(ctx, inv.TenantID(), role.DefaultMemberRoleName)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load default role: %w", err)
	}
	return []shared.ID{member.ID()}, nil
}

// GoogleAuthURL validates the token and returns the Google consent URL. The
// returned state maps back to the token for ten minutes and is single use.
func (s *AcceptanceService) GoogleAuthURL(ctx context.Context, token string, vctx ValidationContext) (*GoogleAuthURLResult, error) {
	validation, err := s.validator.Validate(ctx, token, vctx)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, reasonError(validation)
	}
	if !validation.Details.Tenant.GoogleSSOEnabled() {
		return nil, fmt.Errorf("%w: Google SSO is not enabled for this tenant", shared.ErrValidation)
	}
	if s.identity == nil || s.states == nil {
		return nil, fmt.Errorf("%w: Google sign-in is not configured", shared.ErrValidation)
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}
	if err := s.states.Save(ctx, state, validation.Details.Invitation.Token()); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	return &GoogleAuthURLResult{
		AuthURL: s.identity.AuthCodeURL(state),
		State:   state,
	}, nil
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sendVerificationCode stores a new verification secret on the user and
// queues an email with the current code.
func (s *AcceptanceService) sendVerificationCode(ctx context.Context, u *user.User) error {
	if s.codes == nil {
		return errors.New("verification codes not configured")
	}

	secret, err := s.codes.NewSecret(u.Email())
	if err != nil {
		return err
	}
	u.SetVerificationSecret(secret)
	if err := s.userRepo.Update(ctx, u); err != nil {
		return fmt.Errorf("failed to store verification secret: %w", err)
	}

	code, err := s.codes.Code(secret, s.now())
	if err != nil {
		return err
	}
	if s.emailEnqueuer == nil {
		return errors.New("email enqueuer not configured")
	}
	return s.emailEnqueuer.EnqueueVerificationEmail(ctx, VerificationEmailJob{
		UserID:    u.ID().String(),
		UserEmail: u.Email(),
		UserName:  u.Name(),
		Code:      code,
		ExpiresIn: s.codes.Period(),
	})
}

// VerifyEmail checks a verification code and marks the user's email verified.
// Verifying an already verified user succeeds without changes.
func (s *AcceptanceService) VerifyEmail(ctx context.Context, tenantID, userID shared.ID, code string, actx AuditContext) (*user.User, error) {
	u, err := s.userRepo.GetByID(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if u.EmailVerified() {
		return u, nil
	}
	if u.VerificationSecret() == "" || s.codes == nil {
		return nil, fmt.Errorf("%w: No email verification is pending", shared.ErrValidation)
	}
	if err := s.checkVerificationAttempt(ctx, u, tenantID, actx); err != nil {
		return nil, err
	}
	if !s.codes.Check(strings.TrimSpace(code), u.VerificationSecret(), s.now()) {
		return nil, fmt.Errorf("%w: Invalid or expired verification code", shared.ErrValidation)
	}

	u.MarkEmailVerified()
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if s.attempts != nil {
		bestEffort(ctx, s.logger, "reset verification attempts", func() error {
			return s.attempts.Reset(ctx, u.ID().String())
		})
	}

	s.logger.WithContext(ctx).Info("email verified", "user_id", u.ID().String())
	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionEmailVerified, tenantID, shared.ID{}).WithActor(u.ID()))
	return u, nil
}

// checkVerificationAttempt consumes one attempt for u. A limiter outage lets
// the attempt through.
func (s *AcceptanceService) checkVerificationAttempt(ctx context.Context, u *user.User, tenantID shared.ID, actx AuditContext) error {
	if s.attempts == nil {
		return nil
	}
	allowed, err := s.attempts.Attempt(ctx, u.ID().String())
	if err != nil {
		s.logger.WithContext(ctx).Warn("verification attempt limiter unavailable", "error", err)
		return nil
	}
	if allowed {
		return nil
	}

	s.logger.WithContext(ctx).Warn("security: verification attempts exhausted", "user_id", u.ID().String())
	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionRateLimitExceeded, tenantID, shared.ID{}).
		WithActor(u.ID()).
		WithMetadata("operation", "verify_email"))
	return fmt.Errorf("%w: Too many verification attempts, please try again later", shared.ErrRateLimited)
}
