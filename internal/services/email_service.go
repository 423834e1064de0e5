package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// SESAPI is the subset of the SES client used for delivery
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// emailContent is a rendered message
type emailContent struct {
	Subject string
	HTML    string
	Text    string
}

// renderNotification builds the message body for a template id
func renderNotification(n models.Notification) (emailContent, error) {
	switch n.TemplateID {
	case models.TemplateEmailVerification:
		return emailContent{
			Subject: "Your verification code",
			HTML: fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h1>Confirm your email address</h1>
    <p>Enter this code to finish creating your account:</p>
    <p style="font-size: 28px; letter-spacing: 6px;"><strong>%s</strong></p>
    <p>The code expires in 15 minutes. If you did not sign up, ignore this email.</p>
</body>
</html>
`, n.Code),
			Text: fmt.Sprintf("Confirm your email address\n\nYour verification code is %s\n\nThe code expires in 15 minutes. If you did not sign up, ignore this email.\n", n.Code),
		}, nil

	case models.TemplatePasswordReset:
		return emailContent{
			Subject: "Reset your password",
			HTML: fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h1>Password reset</h1>
    <p>Use this code to choose a new password:</p>
    <p><code>%s</code></p>
    <p>The code expires in 15 minutes and works once. If you did not ask for a reset, ignore this email.</p>
</body>
</html>
`, n.Code),
			Text: fmt.Sprintf("Password reset\n\nUse this code to choose a new password:\n%s\n\nThe code expires in 15 minutes and works once. If you did not ask for a reset, ignore this email.\n", n.Code),
		}, nil

	case models.TemplateUserInvite:
		return emailContent{
			Subject: "You're invited",
			HTML: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h1>No account yet</h1>
    <p>Someone asked to reset the password for this address, but there is no account for it. Sign up to get started.</p>
</body>
</html>
`,
			Text: "No account yet\n\nSomeone asked to reset the password for this address, but there is no account for it. Sign up to get started.\n",
		}, nil
	}

	return emailContent{}, fmt.Errorf("unknown template %q", n.TemplateID)
}

// SESSender delivers notifications through AWS SES
type SESSender struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESSender loads the default AWS config for region and creates an SES sender
func NewSESSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESSenderWithClient wraps an existing SES client
func NewSESSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESSender {
	return &SESSender{client: client, fromAddress: fromAddress, logger: logger}
}

// Send renders and delivers one notification
func (s *SESSender) Send(ctx context.Context, n models.Notification) error {
	content, err := renderNotification(n)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.ContactAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(content.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(content.HTML)},
				Text: &types.Content{Data: aws.String(content.Text)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(n.ContactAddress)),
		slog.String("template", n.TemplateID),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogSender writes notifications to the log instead of sending them.
// Codes are only visible outside production.
type LogSender struct {
	env    string
	logger *slog.Logger
}

func NewLogSender(env string, logger *slog.Logger) *LogSender {
	return &LogSender{env: env, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n models.Notification) error {
	if _, err := renderNotification(n); err != nil {
		return err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification delivered to log",
		slog.String("email", pkglogger.SanitizedEmail(n.ContactAddress)),
		slog.String("template", n.TemplateID),
		pkglogger.RevealIf("code", n.Code, s.env != "production"))
	return nil
}
