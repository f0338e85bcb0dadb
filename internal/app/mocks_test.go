package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/jwt"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/pagination"
	"github.com/openctemio/invitations/pkg/password"
)

// MockInvitationRepository implements invitation.Repository in memory. It
// stores copies so the conditional update sees the persisted status.
type MockInvitationRepository struct {
	mu          sync.Mutex
	invitations map[shared.ID]*invitation.Invitation
	updateErr   error
}

func NewMockInvitationRepository() *MockInvitationRepository {
	return &MockInvitationRepository{invitations: make(map[shared.ID]*invitation.Invitation)}
}

func cloneInvitation(i *invitation.Invitation) *invitation.Invitation {
	return invitation.Reconstitute(
		i.ID(), i.TenantID(), i.Email(), i.Token(), i.InvitedBy(), i.RoleIDs(),
		i.Message(), i.ExpiresAt(), i.Status(), i.CreatedAt(), i.UpdatedAt(),
	)
}

func (m *MockInvitationRepository) Create(ctx context.Context, inv *invitation.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invitations {
		if existing.TenantID() == inv.TenantID() && existing.Email() == inv.Email() && existing.IsPending() {
			return invitation.ErrPendingExists
		}
	}
	m.invitations[inv.ID()] = cloneInvitation(inv)
	return nil
}

// Put stores an invitation without any checks.
func (m *MockInvitationRepository) Put(inv *invitation.Invitation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitations[inv.ID()] = cloneInvitation(inv)
}

func (m *MockInvitationRepository) GetByID(ctx context.Context, tenantID, id shared.ID) (*invitation.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok || inv.TenantID() != tenantID {
		return nil, shared.ErrNotFound
	}
	return cloneInvitation(inv), nil
}

func (m *MockInvitationRepository) GetByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Token() == token {
			return cloneInvitation(inv), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MockInvitationRepository) HasPending(ctx context.Context, tenantID shared.ID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.TenantID() == tenantID && inv.Email() == email && inv.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockInvitationRepository) Update(ctx context.Context, inv *invitation.Invitation, expected invitation.StatusKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.invitations[inv.ID()]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.StatusKind() != expected {
		return invitation.ErrStatusChanged
	}
	m.invitations[inv.ID()] = cloneInvitation(inv)
	return nil
}

func (m *MockInvitationRepository) List(ctx context.Context, tenantID shared.ID, filter invitation.Filter, opts invitation.ListOptions, page pagination.Pagination) (pagination.Result[*invitation.Invitation], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*invitation.Invitation
	for _, inv := range m.invitations {
		if inv.TenantID() != tenantID {
			continue
		}
		if filter.Email != "" && !strings.Contains(inv.Email(), strings.ToLower(filter.Email)) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, inv.StatusKind()) {
			continue
		}
		result = append(result, cloneInvitation(inv))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt().After(result[j].CreatedAt()) })
	return pagination.NewResult(result, int64(len(result)), page), nil
}

func containsStatus(statuses []invitation.StatusKind, k invitation.StatusKind) bool {
	for _, s := range statuses {
		if s == k {
			return true
		}
	}
	return false
}

func (m *MockInvitationRepository) ExpirePending(ctx context.Context, now time.Time, limit int) ([]*invitation.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*invitation.Invitation
	for id, inv := range m.invitations {
		if len(expired) >= limit {
			break
		}
		if inv.ReconcileExpiry(now) {
			m.invitations[id] = inv
			expired = append(expired, cloneInvitation(inv))
		}
	}
	return expired, nil
}

func (m *MockInvitationRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*invitation.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*invitation.Invitation
	for _, inv := range m.invitations {
		if len(out) >= limit {
			break
		}
		if inv.StatusKind().IsTerminal() && inv.UpdatedAt().Before(cutoff) {
			out = append(out, cloneInvitation(inv))
		}
	}
	return out, nil
}

func (m *MockInvitationRepository) DeleteByIDs(ctx context.Context, ids []shared.ID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.invitations[id]; ok {
			delete(m.invitations, id)
			n++
		}
	}
	return n, nil
}

func (m *MockInvitationRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invitations)
}

// MockAuditRepository implements audit.Repository in memory.
type MockAuditRepository struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *MockAuditRepository) Create(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAuditRepository) ListByInvitation(ctx context.Context, tenantID, invitationID shared.ID, page pagination.Pagination) (pagination.Result[*audit.Entry], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.InvitationID() != nil && *e.InvitationID() == invitationID && e.TenantID() != nil && *e.TenantID() == tenantID {
			out = append(out, e)
		}
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (m *MockAuditRepository) CountByAction(ctx context.Context, tenantID *shared.ID, action audit.Action, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.Action() != action || e.CreatedAt().Before(since) {
			continue
		}
		if tenantID != nil && (e.TenantID() == nil || *e.TenantID() != *tenantID) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt().Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

// Actions returns the recorded actions in order.
func (m *MockAuditRepository) Actions() []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Action, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action()
	}
	return out
}

// Find returns the recorded entries for action.
func (m *MockAuditRepository) Find(action audit.Action) []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.Action() == action {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockAuditRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// MockUserRepository implements user.Repository in memory.
type MockUserRepository struct {
	mu        sync.Mutex
	users     map[shared.ID]*user.User
	roles     map[shared.ID][]shared.ID
	createErr error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users: make(map[shared.ID]*user.User),
		roles: make(map[shared.ID][]shared.ID),
	}
}

func (m *MockUserRepository) GetByID(ctx context.Context, tenantID, id shared.ID) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.TenantID() != tenantID {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, tenantID shared.ID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID() == tenantID && u.Email() == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockUserRepository) CreateWithRoles(ctx context.Context, u *user.User, roleIDs []shared.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.users {
		if existing.TenantID() == u.TenantID() && existing.Email() == u.Email() {
			return user.ErrEmailTaken
		}
	}
	m.users[u.ID()] = u
	m.roles[u.ID()] = roleIDs
	return nil
}

func (m *MockUserRepository) Update(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID()]; !ok {
		return shared.ErrNotFound
	}
	m.users[u.ID()] = u
	return nil
}

// Put stores a user without any checks.
func (m *MockUserRepository) Put(u *user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID()] = u
}

func (m *MockUserRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *MockUserRepository) RolesOf(id shared.ID) []shared.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[id]
}

// MockRoleRepository implements role.Repository in memory. Role assignments
// are read from the user repository.
type MockRoleRepository struct {
	roles map[shared.ID]*role.Role
	users *MockUserRepository
}

func NewMockRoleRepository(users *MockUserRepository) *MockRoleRepository {
	return &MockRoleRepository{roles: make(map[shared.ID]*role.Role), users: users}
}

func (m *MockRoleRepository) Add(tenantID shared.ID, name string) *role.Role {
	r := role.Reconstitute(shared.NewID(), tenantID, name, "", time.Now())
	m.roles[r.ID()] = r
	return r
}

func (m *MockRoleRepository) FindByIDs(ctx context.Context, tenantID shared.ID, ids []shared.ID) ([]*role.Role, error) {
	var out []*role.Role
	for _, id := range ids {
		if r, ok := m.roles[id]; ok && r.TenantID() == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRoleRepository) GetByName(ctx context.Context, tenantID shared.ID, name string) (*role.Role, error) {
	for _, r := range m.roles {
		if r.TenantID() == tenantID && r.Name() == name {
			return r, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MockRoleRepository) ListForUser(ctx context.Context, tenantID, userID shared.ID) ([]*role.Role, error) {
	return m.FindByIDs(ctx, tenantID, m.users.RolesOf(userID))
}

// MockTenantRepository implements tenant.Repository in memory.
type MockTenantRepository struct {
	tenants map[shared.ID]*tenant.Tenant
}

func (m *MockTenantRepository) GetByID(ctx context.Context, id shared.ID) (*tenant.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

// MockEmailJobEnqueuer records queued jobs.
type MockEmailJobEnqueuer struct {
	mu           sync.Mutex
	invitations  []InvitationEmailJob
	verification []VerificationEmailJob
	notices      []AcceptedNoticeJob
	err          error
}

func (m *MockEmailJobEnqueuer) EnqueueInvitationEmail(ctx context.Context, job InvitationEmailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.invitations = append(m.invitations, job)
	return nil
}

func (m *MockEmailJobEnqueuer) EnqueueVerificationEmail(ctx context.Context, job VerificationEmailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verification = append(m.verification, job)
	return nil
}

func (m *MockEmailJobEnqueuer) EnqueueAcceptedNotice(ctx context.Context, job AcceptedNoticeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notices = append(m.notices, job)
	return nil
}

// MockIdentityProvider returns a fixed Google profile.
type MockIdentityProvider struct {
	profile *GoogleProfile
	err     error
}

func (m *MockIdentityProvider) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.profile, nil
}

// MockStateStore implements OAuthStateStore in memory.
type MockStateStore struct {
	mu     sync.Mutex
	states map[string]string
}

func (m *MockStateStore) Save(ctx context.Context, state, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]string)
	}
	m.states[state] = value
	return nil
}

func (m *MockStateStore) Consume(ctx context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.states[state]
	if !ok {
		return "", shared.ErrNotFound
	}
	delete(m.states, state)
	return v, nil
}

// testEnv wires every service against the in-memory repositories.
type testEnv struct {
	tenant      *tenant.Tenant
	inviter     *user.User
	adminRole   *role.Role
	memberRole  *role.Role
	invitations *MockInvitationRepository
	audits      *MockAuditRepository
	users       *MockUserRepository
	roles       *MockRoleRepository
	tenants     *MockTenantRepository
	emails      *MockEmailJobEnqueuer
	identity    *MockIdentityProvider
	states      *MockStateStore

	auditSvc      *AuditService
	invitationSvc *InvitationService
	validator     *TokenValidator
	acceptance    *AcceptanceService
	bulk          *InvitationBulkService
	codes         *VerificationCodes
}

type envOption func(*tenant.Settings)

func withGoogleSSO() envOption {
	return func(s *tenant.Settings) { s.Security.GoogleSSOEnabled = true }
}

func withAllowedDomains(domains ...string) envOption {
	return func(s *tenant.Settings) { s.Security.AllowedDomains = domains }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	log := logger.NewNop()

	settings := tenant.DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	tn := tenant.Reconstitute(shared.NewID(), "Acme", "acme", settings, time.Now(), time.Now())

	env := &testEnv{
		tenant:      tn,
		invitations: NewMockInvitationRepository(),
		audits:      &MockAuditRepository{},
		users:       NewMockUserRepository(),
		tenants:     &MockTenantRepository{tenants: map[shared.ID]*tenant.Tenant{tn.ID(): tn}},
		emails:      &MockEmailJobEnqueuer{},
		identity:    &MockIdentityProvider{},
		states:      &MockStateStore{},
	}
	env.roles = NewMockRoleRepository(env.users)
	env.adminRole = env.roles.Add(tn.ID(), "Admin")
	env.memberRole = env.roles.Add(tn.ID(), role.DefaultMemberRoleName)

	inviter, err := user.NewLocalUser(tn.ID(), "owner@acme.com", "Olive", "Owner", "hash")
	if err != nil {
		t.Fatalf("failed to create inviter: %v", err)
	}
	env.users.Put(inviter)
	env.inviter = inviter

	env.auditSvc = NewAuditService(env.audits, log)
	env.invitationSvc = NewInvitationService(env.invitations, env.tenants, env.users, env.roles, env.auditSvc, invitation.DefaultExpiry, log)
	env.validator = NewTokenValidator(env.invitations, env.tenants, env.users, env.roles, env.invitationSvc, env.auditSvc, log)
	env.invitationSvc.SetTokenValidator(env.validator)
	env.invitationSvc.SetEmailJobEnqueuer(env.emails)

	env.codes = NewVerificationCodes("Acme", 15*time.Minute)
	sessions := jwt.NewGenerator(jwt.TokenConfig{Secret: "test-secret-test-secret-test-secret", Issuer: "test", AccessTokenDuration: time.Hour})
	env.acceptance = NewAcceptanceService(
		env.validator, env.invitationSvc, env.users, env.roles, env.tenants,
		password.New(password.WithCost(4)), sessions, env.codes, env.auditSvc, log,
	)
	env.acceptance.SetGoogleProvider(env.identity, env.states)
	env.acceptance.SetEmailJobEnqueuer(env.emails)

	env.bulk = NewInvitationBulkService(env.invitationSvc, env.invitations, env.auditSvc, DefaultBulkLimits(), log)
	return env
}

// invite creates a pending invitation for email through the service.
func (e *testEnv) invite(t *testing.T, email string, roleIDs ...shared.ID) *invitation.Invitation {
	t.Helper()
	details, err := e.invitationSvc.CreateInvitation(context.Background(), e.tenant.ID(), e.inviter.ID(), CreateInvitationInput{
		Email:   email,
		RoleIDs: shared.IDStrings(roleIDs),
	}, AuditContext{ActorID: e.inviter.ID()})
	if err != nil {
		t.Fatalf("failed to create invitation: %v", err)
	}
	return details.Invitation
}

// seed stores an invitation in an arbitrary state.
func (e *testEnv) seed(email string, status invitation.Status, expiresAt time.Time) *invitation.Invitation {
	token, _ := invitation.GenerateToken()
	now := time.Now().UTC()
	inv := invitation.Reconstitute(
		shared.NewID(), e.tenant.ID(), email, token, e.inviter.ID(), []shared.ID{},
		"", expiresAt, status, now.Add(-8*24*time.Hour), now.Add(-8*24*time.Hour),
	)
	e.invitations.Put(inv)
	return inv
}
