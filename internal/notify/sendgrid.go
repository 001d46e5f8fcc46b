// Package notify sends transactional email through the SendGrid v3 API.
// Delivery is best-effort everywhere it is used: a failed send is logged and
// never fails the request that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/registration"
	"go.uber.org/zap"
)

const sendgridSendURL = "https://api.sendgrid.com/v3/mail/send"

// Mailer sends a registration confirmation. The registration handler depends
// on this interface so tests can drop in a recorder.
type Mailer interface {
	SendRegistrationConfirmation(ctx context.Context, info registration.TicketInfo) error
}

type SendGridMailer struct {
	cfg        config.SendGridConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewSendGridMailer(cfg config.SendGridConfig, log *zap.Logger) *SendGridMailer {
	if log == nil {
		log = zap.L()
	}
	return &SendGridMailer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMessage struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From    sgAddress   `json:"from"`
	Subject string      `json:"subject"`
	Content []sgContent `json:"content"`
}

// SendRegistrationConfirmation emails the attendee their ticket code and the
// event details. With no API key configured it is a logged no-op.
func (m *SendGridMailer) SendRegistrationConfirmation(ctx context.Context, info registration.TicketInfo) error {
	if m.cfg.APIKey == "" {
		m.log.Debug("sendgrid disabled, skipping confirmation email",
			zap.String("to", info.UserEmail))
		return nil
	}

	location := info.EventLocation
	if location == "" {
		location = "Online"
	}

	body := fmt.Sprintf(
		"Hi %s,\n\nThank you for registering for %s. Your registration has been confirmed.\n\n"+
			"Event Details:\nDate: %s\nLocation: %s\n\nYour ticket code is: %s\n\n"+
			"Please keep this email as your confirmation. You can also view your tickets in your account.\n\n"+
			"Regards,\nEvents Platform Team",
		info.UserName, info.EventTitle, info.EventDate, location, info.TicketCode,
	)

	msg := sgMessage{
		From:    sgAddress{Email: m.cfg.FromEmail},
		Subject: fmt.Sprintf("Your registration is confirmed: %s", info.EventTitle),
		Content: []sgContent{{Type: "text/plain", Value: body}},
	}
	msg.Personalizations = []struct {
		To []sgAddress `json:"to"`
	}{{To: []sgAddress{{Email: info.UserEmail, Name: info.UserName}}}}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendgridSendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
