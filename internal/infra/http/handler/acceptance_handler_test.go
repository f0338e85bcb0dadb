package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/validator"
)

type fakeTokens struct {
	result *app.ValidationResult
	err    error
}

func (f fakeTokens) Validate(context.Context, string, app.ValidationContext) (*app.ValidationResult, error) {
	return f.result, f.err
}

type fakeAcceptor struct {
	input  app.AcceptInput
	result *app.AcceptanceResult
	err    error
}

func (f *fakeAcceptor) Accept(_ context.Context, _ string, input app.AcceptInput, _ app.AuditContext) (*app.AcceptanceResult, error) {
	f.input = input
	return f.result, f.err
}

func (f *fakeAcceptor) GoogleAuthURL(context.Context, string, app.ValidationContext) (*app.GoogleAuthURLResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.GoogleAuthURLResult{AuthURL: "https://accounts.google.com/o/oauth2/auth?state=s1", State: "s1"}, nil
}

var testToken = strings.Repeat("0f", 32)

func TestAcceptanceHandler_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		inv := testInvitation(invitation.Pending{})
		h := NewAcceptanceHandler(fakeTokens{result: &app.ValidationResult{
			Valid: true, Status: invitation.StatusPending, Details: testDetails(inv),
		}}, &fakeAcceptor{}, validator.New(), logger.NewNop())

		rec := httptest.NewRecorder()
		h.Validate(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", testToken))

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[ValidationResponse](t, rec)
		assert.True(t, resp.IsValid)
		assert.Equal(t, "PENDING", resp.Status)
		require.NotNil(t, resp.Invitation)
		assert.Equal(t, "Acme", resp.Invitation.Tenant.Name)
		assert.Equal(t, "welcome aboard", resp.Invitation.Message)
		assert.Empty(t, resp.Error)
	})

	t.Run("expired", func(t *testing.T) {
		inv := testInvitation(invitation.Expired{})
		h := NewAcceptanceHandler(fakeTokens{result: &app.ValidationResult{
			Status: invitation.StatusExpired, Reason: invitation.ReasonExpired, Details: testDetails(inv),
		}}, &fakeAcceptor{}, validator.New(), logger.NewNop())

		rec := httptest.NewRecorder()
		h.Validate(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", testToken))

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[ValidationResponse](t, rec)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "EXPIRED", resp.Status)
		assert.Equal(t, invitation.ReasonExpired, resp.Error)
		assert.Nil(t, resp.Invitation)
	})

	t.Run("lookup failure", func(t *testing.T) {
		h := NewAcceptanceHandler(fakeTokens{err: app.ErrTokenValidationFailed}, &fakeAcceptor{}, validator.New(), logger.NewNop())
		rec := httptest.NewRecorder()
		h.Validate(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", testToken))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAcceptanceHandler_GoogleAuth(t *testing.T) {
	h := NewAcceptanceHandler(fakeTokens{}, &fakeAcceptor{}, validator.New(), logger.NewNop())
	rec := httptest.NewRecorder()
	h.GoogleAuth(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", testToken))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[GoogleAuthResponse](t, rec)
	assert.Equal(t, "s1", resp.State)
	assert.Contains(t, resp.AuthURL, "accounts.google.com")

	t.Run("sso disabled", func(t *testing.T) {
		acceptor := &fakeAcceptor{err: fmt.Errorf("%w: Google SSO is not enabled for this tenant", shared.ErrValidation)}
		h := NewAcceptanceHandler(fakeTokens{}, acceptor, validator.New(), logger.NewNop())
		rec := httptest.NewRecorder()
		h.GoogleAuth(rec, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", testToken))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAcceptanceHandler_Accept(t *testing.T) {
	u := user.Reconstitute(shared.NewID(), testTenantID, "new.member@example.com", "New", "Member", "hash",
		user.AuthProviderLocal, "", false, "secret", testNow, testNow)
	details := testDetails(testInvitation(invitation.Pending{}))

	t.Run("password", func(t *testing.T) {
		acceptor := &fakeAcceptor{result: &app.AcceptanceResult{
			Message:              "Invitation accepted",
			User:                 u,
			Tenant:               details.Tenant,
			Roles:                details.Roles,
			AccessToken:          "jwt-token",
			ExpiresAt:            testNow.Add(time.Hour),
			VerificationRequired: true,
		}}
		h := NewAcceptanceHandler(fakeTokens{}, acceptor, validator.New(), logger.NewNop())

		rec := httptest.NewRecorder()
		req := newJSONRequest(http.MethodPost, "/", `{"method":"password","password":"correct horse battery","first_name":"New"}`)
		h.Accept(rec, withURLParams(req, "token", testToken))

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[AcceptResponse](t, rec)
		assert.Equal(t, "jwt-token", resp.AccessToken)
		assert.True(t, resp.VerificationRequired)
		assert.Equal(t, "new.member@example.com", resp.User.Email)
		assert.NotContains(t, rec.Body.String(), "hash")
		assert.Equal(t, "password", acceptor.input.Method)
	})

	t.Run("unknown method", func(t *testing.T) {
		h := NewAcceptanceHandler(fakeTokens{}, &fakeAcceptor{}, validator.New(), logger.NewNop())
		rec := httptest.NewRecorder()
		h.Accept(rec, withURLParams(newJSONRequest(http.MethodPost, "/", `{"method":"saml"}`), "token", testToken))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("failure taxonomy", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: Password does not meet requirements", shared.ErrValidation), http.StatusBadRequest},
			{fmt.Errorf("%w: invitation", shared.ErrNotFound), http.StatusNotFound},
			{fmt.Errorf("%w: User already exists", shared.ErrAlreadyExists), http.StatusConflict},
			{fmt.Errorf("%w: Google account email does not match the invitation", shared.ErrUnauthorized), http.StatusUnauthorized},
			{errors.New("smtp: broken pipe"), http.StatusBadRequest},
		}
		for _, tt := range tests {
			h := NewAcceptanceHandler(fakeTokens{}, &fakeAcceptor{err: tt.err}, validator.New(), logger.NewNop())
			rec := httptest.NewRecorder()
			h.Accept(rec, withURLParams(newJSONRequest(http.MethodPost, "/", `{"method":"password","password":"x"}`), "token", testToken))
			assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		}
	})
}

type fakeVerifier struct {
	code string
	err  error
}

func (f *fakeVerifier) VerifyEmail(_ context.Context, tenantID, userID shared.ID, code string, _ app.AuditContext) (*user.User, error) {
	f.code = code
	if f.err != nil {
		return nil, f.err
	}
	return user.Reconstitute(userID, tenantID, "new.member@example.com", "", "", "",
		user.AuthProviderLocal, "", true, "", testNow, testNow), nil
}

func TestVerificationHandler_VerifyEmail(t *testing.T) {
	verifier := &fakeVerifier{}
	h := NewVerificationHandler(verifier, validator.New(), logger.NewNop())

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, authed(newJSONRequest(http.MethodPost, "/", `{"code":"123456"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[UserResponse](t, rec).EmailVerified)
	assert.Equal(t, "123456", verifier.code)

	rec = httptest.NewRecorder()
	h.VerifyEmail(rec, authed(newJSONRequest(http.MethodPost, "/", `{"code":"12ab"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	verifier.err = fmt.Errorf("%w: Invalid or expired verification code", shared.ErrValidation)
	rec = httptest.NewRecorder()
	h.VerifyEmail(rec, authed(newJSONRequest(http.MethodPost, "/", `{"code":"654321"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired verification code", decodeBody[errorBody](t, rec).Message)

	verifier.err = fmt.Errorf("%w: Too many verification attempts, please try again later", shared.ErrRateLimited)
	rec = httptest.NewRecorder()
	h.VerifyEmail(rec, authed(newJSONRequest(http.MethodPost, "/", `{"code":"654321"}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many verification attempts, please try again later", decodeBody[errorBody](t, rec).Message)
}
