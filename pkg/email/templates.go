package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template identifies a predefined email.
type Template string

const (
	// TemplateInvitation invites an address to join a tenant.
	TemplateInvitation Template = "invitation"
	// TemplateVerificationCode carries the email verification code.
	TemplateVerificationCode Template = "verification_code"
	// TemplateInvitationAccepted tells the inviter their invitation was used.
	TemplateInvitationAccepted Template = "invitation_accepted"
)

// InvitationData holds data for the invitation template.
type InvitationData struct {
	InviterName   string
	TenantName    string
	InvitationURL string
	ExpiresIn     string
	Message       string
	AppName       string
}

// VerificationCodeData holds data for the verification code template.
type VerificationCodeData struct {
	UserName  string
	Code      string
	ExpiresIn string
	AppName   string
}

// InvitationAcceptedData holds data for the acceptance notice.
type InvitationAcceptedData struct {
	InviterName string
	MemberEmail string
	TenantName  string
	AppName     string
}

// TemplateEngine renders the predefined templates.
type TemplateEngine struct {
	templates map[Template]*templateDef
}

type templateDef struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplateEngine creates a template engine with all predefined templates.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[Template]*templateDef{
			TemplateInvitation: {
				subject: template.Must(template.New("invitation_subject").Parse("You've been invited to join {{.TenantName}}")),
				body:    template.Must(template.New("invitation").Parse(layout(invitationBody))),
			},
			TemplateVerificationCode: {
				subject: template.Must(template.New("verification_subject").Parse("Your {{.AppName}} verification code")),
				body:    template.Must(template.New("verification").Parse(layout(verificationBody))),
			},
			TemplateInvitationAccepted: {
				subject: template.Must(template.New("accepted_subject").Parse("{{.MemberEmail}} joined {{.TenantName}}")),
				body:    template.Must(template.New("accepted").Parse(layout(acceptedBody))),
			},
		},
	}
}

// Render renders a template with the given data.
func (e *TemplateEngine) Render(tmpl Template, data any) (subject string, body string, err error) {
	def, ok := e.templates[tmpl]
	if !ok {
		return "", "", fmt.Errorf("template %s not found", tmpl)
	}

	var subjectBuf, bodyBuf bytes.Buffer
	if err := def.subject.Execute(&subjectBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	if err := def.body.Execute(&bodyBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute body template: %w", err)
	}

	return subjectBuf.String(), bodyBuf.String(), nil
}

func layout(content string) string {
	return `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .container { background: #ffffff; border-radius: 8px; padding: 40px; border: 1px solid #e0e0e0; }
        .logo { font-size: 24px; font-weight: bold; color: #2563eb; text-align: center; margin-bottom: 30px; }
        .button { display: inline-block; background: #2563eb; color: #ffffff; padding: 14px 28px; text-decoration: none; border-radius: 6px; font-weight: 600; margin: 20px 0; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; margin: 20px 0; }
        .note { background: #fef3c7; border: 1px solid #f59e0b; border-radius: 4px; padding: 12px; margin: 20px 0; font-size: 14px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #e0e0e0; font-size: 12px; color: #666; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="logo">{{.AppName}}</div>
` + content + `
        <div class="footer"><p>&copy; {{.AppName}}. All rights reserved.</p></div>
    </div>
</body>
</html>`
}

const invitationBody = `
        <h2>You've been invited to join {{.TenantName}}</h2>
        <p><strong>{{.InviterName}}</strong> has invited you to join <strong>{{.TenantName}}</strong> on {{.AppName}}.</p>
        {{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}
        <div style="text-align: center;"><a href="{{.InvitationURL}}" class="button">Accept Invitation</a></div>
        <div class="note">This invitation will expire in <strong>{{.ExpiresIn}}</strong>.</div>
        <p>If you were not expecting this invitation, you can ignore this email.</p>
        <p style="word-break: break-all; font-size: 12px; color: #666;">{{.InvitationURL}}</p>`

const verificationBody = `
        <h2>Verify your email address</h2>
        <p>Hi {{.UserName}}, enter this code to verify your email address:</p>
        <div class="code">{{.Code}}</div>
        <div class="note">The code expires in <strong>{{.ExpiresIn}}</strong>.</div>`

const acceptedBody = `
        <h2>Invitation accepted</h2>
        <p>Hi {{.InviterName}}, <strong>{{.MemberEmail}}</strong> accepted your invitation and is now a member of {{.TenantName}}.</p>`
