package models

// Template identifiers understood by the notification senders
const (
	TemplateEmailVerification = "email_verification"
	TemplatePasswordReset     = "password_reset_code"
	TemplateUserInvite        = "user_invite"
)

// Notification is a one-way message handed to the notifier
type Notification struct {
	ContactAddress string
	Code           string
	TemplateID     string
}
