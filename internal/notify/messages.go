package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const appName = "Lead Ignite"

type InvitationData struct {
	AppName     string
	TeamName    string
	InviterName string
	Role        string
	AcceptURL   string
	ExpiresAt   string
}

// SendTeamInvitation emails an invitation link to join a team.
func (s *Sender) SendTeamInvitation(ctx context.Context, to, teamName, inviterName, role, acceptURL string, expiresAt time.Time) error {
	html, err := render(invitationTemplate, InvitationData{
		AppName:     appName,
		TeamName:    teamName,
		InviterName: inviterName,
		Role:        role,
		AcceptURL:   acceptURL,
		ExpiresAt:   expiresAt.UTC().Format("January 2, 2006"),
	})
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	return s.SendHTML(ctx, []string{to}, fmt.Sprintf("You're invited to join %s on %s", teamName, appName), html)
}

type affiliateData struct {
	AppName  string
	Handle   string
	Amount   string
	Currency string
	Tier     string
	Rate     string
}

func (s *Sender) SendAffiliateWelcome(ctx context.Context, to, handle string) error {
	html, err := render(affiliateWelcomeTemplate, affiliateData{AppName: appName, Handle: handle})
	if err != nil {
		return fmt.Errorf("render welcome template: %w", err)
	}
	return s.SendHTML(ctx, []string{to}, "Welcome to the "+appName+" affiliate program", html)
}

func (s *Sender) SendPayoutProcessed(ctx context.Context, to string, amount decimal.Decimal, currency string) error {
	html, err := render(payoutTemplate, affiliateData{
		AppName:  appName,
		Amount:   amount.StringFixed(2),
		Currency: currency,
	})
	if err != nil {
		return fmt.Errorf("render payout template: %w", err)
	}
	return s.SendHTML(ctx, []string{to}, "Your affiliate payout has been sent", html)
}

func (s *Sender) SendTierUpgraded(ctx context.Context, to string, tier string, rate decimal.Decimal) error {
	html, err := render(tierTemplate, affiliateData{
		AppName: appName,
		Tier:    title(tier),
		Rate:    rate.Shift(2).StringFixed(0) + "%",
	})
	if err != nil {
		return fmt.Errorf("render tier template: %w", err)
	}
	return s.SendHTML(ctx, []string{to}, "You've reached a new affiliate tier", html)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutStyle = `<style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #ff5a1f; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #ff5a1f; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #ff5a1f; }
    </style>`

var invitationTemplate = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.TeamName}} on {{.AppName}}</title>
    ` + layoutStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>You're invited!</h2>
    <p>{{.InviterName}} invited you to join <strong>{{.TeamName}}</strong> as {{.Role}}.</p>
    <p><a href="{{.AcceptURL}}" class="button">Accept Invitation</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.AcceptURL}}</p>
    <p>This invitation expires on {{.ExpiresAt}}.</p>
    <div class="footer"><p>If you weren't expecting this invitation, you can safely ignore this email.</p></div>
</body>
</html>`))

var affiliateWelcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to the {{.AppName}} affiliate program</title>
    ` + layoutStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Welcome aboard, {{.Handle}}!</h2>
    <p>Your affiliate application has been approved. Share your promo code to start earning commission on every referral.</p>
    <div class="footer"><p>Questions? Reply to this email and our partner team will help.</p></div>
</body>
</html>`))

var payoutTemplate = template.Must(template.New("payout").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payout sent</title>
    ` + layoutStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Your payout is on its way</h2>
    <p>We sent <strong>{{.Amount}} {{.Currency}}</strong> to your payout account.</p>
    <div class="footer"><p>Funds usually arrive within 3 to 5 business days.</p></div>
</body>
</html>`))

var tierTemplate = template.Must(template.New("tier").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New affiliate tier</title>
    ` + layoutStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Congratulations, you reached {{.Tier}}!</h2>
    <p>Your commission rate is now <strong>{{.Rate}}</strong>.</p>
</body>
</html>`))
