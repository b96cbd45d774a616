package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmailClient sends transactional notification emails through the Resend
// API. Sends are best-effort: callers log failures and never roll back
// the state transition the email was reporting on.
type EmailClient struct {
	client *resty.Client
	from   string
}

// NewEmailClient creates an email client. apiKey is the Resend API key;
// from is the sender address.
func NewEmailClient(apiKey, from string) *EmailClient {
	client := resty.New().
		SetBaseURL("https://api.resend.com").
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second)

	return &EmailClient{client: client, from: from}
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (e *EmailClient) send(ctx context.Context, to, subject, html string) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(resendPayload{
			From:    e.from,
			To:      []string{to},
			Subject: subject,
			HTML:    html,
		}).
		SetResult(&resendResponse{}).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("email send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// MarketResolvedEmail reports a market resolution to the follower.
type MarketResolvedEmail struct {
	Question string
	Outcome  string // resolved winning outcome
	HeldSide string // outcome the follower held
	Won      bool
	Size     float64
}

// SendMarketResolved notifies the follower that a market they hold
// resolved, and whether their side won.
func (e *EmailClient) SendMarketResolved(ctx context.Context, to string, p MarketResolvedEmail) error {
	verdict := "did not win"
	if p.Won {
		verdict = "won"
	}
	subject := fmt.Sprintf("Market resolved: %s", p.Question)
	html := fmt.Sprintf(
		`<p>The market <strong>%s</strong> has resolved to <strong>%s</strong>.</p>`+
			`<p>Your position of %.2f shares on <strong>%s</strong> %s.</p>`,
		p.Question, p.Outcome, p.Size, p.HeldSide, verdict)
	return e.send(ctx, to, subject, html)
}

// TraderExitEmail reports that the copied trader left the market before
// resolution.
type TraderExitEmail struct {
	Question     string
	TraderWallet string
	Outcome      string
}

// SendTraderExit notifies the follower that the trader they copied has
// fully exited the position while the market is still open.
func (e *EmailClient) SendTraderExit(ctx context.Context, to string, p TraderExitEmail) error {
	subject := fmt.Sprintf("Trader exited: %s", p.Question)
	html := fmt.Sprintf(
		`<p>The trader you copied (%s) no longer holds a position on <strong>%s</strong> (%s).</p>`+
			`<p>The market has not resolved yet. Review your position to decide whether to follow.</p>`,
		p.TraderWallet, p.Question, p.Outcome)
	return e.send(ctx, to, subject, html)
}

// AutoCloseSuccessEmail reports a completed auto-close.
type AutoCloseSuccessEmail struct {
	Question   string
	Outcome    string
	FilledSize float64
	Price      float64
	Proceeds   float64
}

// SendAutoCloseSuccess notifies the follower of a successful auto-close.
func (e *EmailClient) SendAutoCloseSuccess(ctx context.Context, to string, p AutoCloseSuccessEmail) error {
	subject := fmt.Sprintf("Position auto-closed: %s", p.Question)
	html := fmt.Sprintf(
		`<p>Your copied position on <strong>%s</strong> (%s) was automatically reduced.</p>`+
			`<p>Closed %.2f shares at %.3f for $%.2f.</p>`,
		p.Question, p.Outcome, p.FilledSize, p.Price, p.Proceeds)
	return e.send(ctx, to, subject, html)
}

// AutoCloseFailureEmail reports a failed auto-close attempt.
type AutoCloseFailureEmail struct {
	Question   string
	Outcome    string
	Reason     string
	RetryCount int
	Final      bool // retry ceiling reached, no further automated attempts
}

// SendAutoCloseFailure notifies the follower that auto-close keeps
// failing. Sent only at escalation thresholds, not on every retry.
func (e *EmailClient) SendAutoCloseFailure(ctx context.Context, to string, p AutoCloseFailureEmail) error {
	subject := fmt.Sprintf("Auto-close failing: %s", p.Question)
	action := "We will keep retrying automatically."
	if p.Final {
		action = "Automated retries have stopped. Please close this position manually."
	}
	html := fmt.Sprintf(
		`<p>Auto-close for your position on <strong>%s</strong> (%s) has failed %d times.</p>`+
			`<p>Last error: %s</p><p>%s</p>`,
		p.Question, p.Outcome, p.RetryCount, p.Reason, action)
	return e.send(ctx, to, subject, html)
}
