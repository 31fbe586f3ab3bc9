// Package notify delivers operator alerts over the Resend email API.
// Delivery is best effort: reconciliation and payouts never fail because
// an email could not be sent.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotConfigured = errors.New("email service not configured")
	ErrSendFailed    = errors.New("failed to send email")
)

// ResendClient sends transactional email through Resend.
type ResendClient struct {
	apiKey string
	from   string
	to     string
	client *http.Client
}

func NewResendClient(apiKey, from, to string) *ResendClient {
	return &ResendClient{
		apiKey: apiKey,
		from:   from,
		to:     to,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ResendClient) IsConfigured() bool {
	return c.apiKey != "" && c.from != "" && c.to != ""
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (c *ResendClient) send(subject, htmlContent string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	reqBody := sendEmailRequest{
		From:    c.from,
		To:      []string{c.to},
		Subject: subject,
		HTML:    htmlContent,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

// ReconcileAlert notifies operators about money movement the reconciler
// could not attribute to any ledger row.
func (c *ResendClient) ReconcileAlert(alertID, eventType, externalID, detail string) error {
	subject := fmt.Sprintf("Reconcile alert: unattributable %s", eventType)
	htmlContent := fmt.Sprintf(`
<h2>Unattributable payment event</h2>
<p>A provider event reported money movement with no matching ledger record. No ledger
entry was created; this needs manual reconciliation.</p>
<table border="0" cellpadding="4">
	<tr><td><b>Alert ID</b></td><td>%s</td></tr>
	<tr><td><b>Event type</b></td><td>%s</td></tr>
	<tr><td><b>External ID</b></td><td>%s</td></tr>
	<tr><td><b>Detail</b></td><td>%s</td></tr>
</table>`, alertID, eventType, externalID, detail)
	return c.send(subject, htmlContent)
}

// PayoutFailure notifies operators that a transfer was rejected by the
// payment provider after the payout had been reserved.
func (c *ResendClient) PayoutFailure(payoutID, creatorID, amountCents int64, reason string) error {
	subject := fmt.Sprintf("Payout %d failed", payoutID)
	htmlContent := fmt.Sprintf(`
<h2>Payout transfer failed</h2>
<p>The reserved amount has been released back to the creator's available balance.</p>
<table border="0" cellpadding="4">
	<tr><td><b>Payout ID</b></td><td>%d</td></tr>
	<tr><td><b>Creator ID</b></td><td>%d</td></tr>
	<tr><td><b>Amount</b></td><td>%d.%02d</td></tr>
	<tr><td><b>Reason</b></td><td>%s</td></tr>
</table>`, payoutID, creatorID, amountCents/100, amountCents%100, reason)
	return c.send(subject, htmlContent)
}
