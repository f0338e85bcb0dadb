package routes

import (
	"github.com/openctemio/invitations/internal/infra/http/handler"
)

// registerInvitationRoutes registers the authenticated management and
// reporting endpoints. The tenant always comes from the session token.
func registerInvitationRoutes(
	router Router,
	h *handler.InvitationHandler,
	reports *handler.InvitationReportHandler,
	authMiddleware Middleware,
	decompress Middleware,
) {
	router.Group("/invitations", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Create)

		r.POST("/bulk", h.BulkCreate, decompress)
		r.POST("/bulk/cancel", h.BulkCancel, decompress)
		r.POST("/bulk/resend", h.BulkResend, decompress)

		r.GET("/statistics", reports.Statistics)
		r.GET("/activity-summary", reports.ActivitySummary)
		r.GET("/report", reports.Report)
		r.GET("/export/csv", reports.ExportCSV)

		r.GET("/{id}", h.Get)
		r.DELETE("/{id}", h.Cancel)
		r.POST("/{id}/resend", h.Resend)
		r.GET("/{id}/audit-logs", h.AuditTrail)
	}, authMiddleware)
}

// registerAcceptanceRoutes registers the public endpoints an invitee uses.
// They are rate limited per client IP.
func registerAcceptanceRoutes(router Router, h *handler.AcceptanceHandler, rateLimit Middleware) {
	router.Group("/invitation-acceptance/{token}", func(r Router) {
		r.GET("/", h.Validate)
		r.GET("/google-auth", h.GoogleAuth)
		r.POST("/accept", h.Accept)
	}, optional(rateLimit)...)
}

// registerVerificationRoutes registers email verification. It shares the
// public limiter so codes cannot be guessed at request speed.
func registerVerificationRoutes(router Router, h *handler.VerificationHandler, authMiddleware, rateLimit Middleware) {
	router.POST("/auth/verify-email", h.VerifyEmail, append(optional(rateLimit), authMiddleware)...)
}
