package email

import (
	"fmt"
	"html"
	"strings"
)

const defaultAppName = "CareBook"

// StatusEmailData feeds the appointment status update email.
type StatusEmailData struct {
	Name          string
	Email         string
	AppointmentID string
	Status        string
	Reason        string
	AppName       string
	BaseURL       string
}

// RefundEmailData feeds the balance refund email.
type RefundEmailData struct {
	Name          string
	Email         string
	AppointmentID string
	Amount        float64
	Currency      string
	AppName       string
	BaseURL       string
}

// PayoutEmailData feeds the therapist payout email.
type PayoutEmailData struct {
	Name         string
	Email        string
	PaymentID    string
	Amount       float64
	Currency     string
	Appointments int
	AppName      string
	BaseURL      string
}

var statusLabels = map[string]string{
	"unpaid":             "awaiting payment",
	"pending_match":      "waiting for a therapist match",
	"matched":            "matched with a therapist",
	"pending_scheduling": "waiting to be scheduled",
	"confirmed":          "confirmed",
	"completed":          "completed",
	"cancelled":          "cancelled",
	"no-show":            "marked as a no-show",
	"rescheduled":        "rescheduled",
}

// StatusLabel renders a status for humans.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return strings.ReplaceAll(status, "_", " ")
}

func BuildStatusChangedEmail(data StatusEmailData) Message {
	appName := orDefault(data.AppName, defaultAppName)
	name := orDefault(data.Name, "there")
	label := StatusLabel(data.Status)
	link := fmt.Sprintf("%s/appointments/%s", data.BaseURL, data.AppointmentID)

	subject := fmt.Sprintf("Your %s appointment is %s", appName, label)

	reasonText := ""
	reasonHTML := ""
	if r := strings.TrimSpace(data.Reason); r != "" {
		reasonText = fmt.Sprintf("\nNote: %s\n", r)
		reasonHTML = fmt.Sprintf(`<p style="background-color: #f3f4f6; padding: 10px 15px; border-radius: 4px;">%s</p>`, html.EscapeString(r))
	}

	textBody := fmt.Sprintf(`Hi %s,

Your appointment is now %s.
%s
View it here: %s

Thanks,
The %s Team`,
		name, label, reasonText, link, appName)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #2563eb;">Hi %s,</h2>
    <p>Your appointment is now <strong>%s</strong>.</p>
    %s
    <p style="text-align: center; margin: 30px 0;">
        <a href="%s" style="background-color: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">View appointment</a>
    </p>
    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thanks,<br>The %s Team</p>
</body>
</html>`,
		html.EscapeString(name), label, reasonHTML, link, appName)

	return Message{
		To:       []string{data.Email},
		Subject:  subject,
		TextBody: textBody,
		HTMLBody: htmlBody,
		Tag:      TagAppointmentStatus,
		RefID:    data.AppointmentID,
	}
}

func BuildRefundEmail(data RefundEmailData) Message {
	appName := orDefault(data.AppName, defaultAppName)
	name := orDefault(data.Name, "there")
	amount := money(data.Amount, data.Currency)

	subject := fmt.Sprintf("%s was added to your %s balance", amount, appName)

	textBody := fmt.Sprintf(`Hi %s,

Your appointment %s was cancelled and %s has been credited to your session balance.
You can use it for your next booking: %s/balance

Thanks,
The %s Team`,
		name, data.AppointmentID, amount, data.BaseURL, appName)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #2563eb;">Hi %s,</h2>
    <p>Your appointment was cancelled and <strong>%s</strong> has been credited to your session balance.</p>
    <p><a href="%s/balance">See your balance</a></p>
    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thanks,<br>The %s Team</p>
</body>
</html>`,
		html.EscapeString(name), amount, data.BaseURL, appName)

	return Message{
		To:       []string{data.Email},
		Subject:  subject,
		TextBody: textBody,
		HTMLBody: htmlBody,
		Tag:      TagBalanceRefund,
		RefID:    data.AppointmentID,
	}
}

func BuildPayoutEmail(data PayoutEmailData) Message {
	appName := orDefault(data.AppName, defaultAppName)
	name := orDefault(data.Name, "there")
	amount := money(data.Amount, data.Currency)

	subject := fmt.Sprintf("Your %s payout of %s is on its way", appName, amount)

	textBody := fmt.Sprintf(`Hi %s,

We settled %s for %d appointment(s). Reference: %s

Thanks,
The %s Team`,
		name, amount, data.Appointments, data.PaymentID, appName)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #16a34a;">Hi %s,</h2>
    <p>We settled <strong>%s</strong> for %d appointment(s).</p>
    <p style="font-family: monospace;">Reference: %s</p>
    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thanks,<br>The %s Team</p>
</body>
</html>`,
		html.EscapeString(name), amount, data.Appointments, data.PaymentID, appName)

	return Message{
		To:       []string{data.Email},
		Subject:  subject,
		TextBody: textBody,
		HTMLBody: htmlBody,
		Tag:      TagPayout,
		RefID:    data.PaymentID,
	}
}

func money(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(orDefault(currency, "usd")))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
