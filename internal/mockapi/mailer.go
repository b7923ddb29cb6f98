package mockapi

import "log/slog"

// Mailer delivers the emails the backend sends
type Mailer interface {
	SendPasswordResetEmail(to string, resetLink string) error
}

// LogMailer writes emails to a logger instead of sending them
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendPasswordResetEmail(to string, resetLink string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email: password reset", "to", to, "subject", "Reset your password", "link", resetLink)
	return nil
}
