package newsletter

import "fmt"

// RenderedEmail is a subject + HTML body pair ready to enqueue. Bodies are
// rendered at enqueue time so the dispatch worker only transports bytes.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// EmailComposer renders the transactional messages of the opt-in flow and
// personalizes campaign content per recipient.
type EmailComposer struct {
	engine      *TemplateEngine
	links       *LinkBuilder
	companyName string
	fromEmail   string
}

// NewEmailComposer creates a composer with the injected sender identity.
func NewEmailComposer(engine *TemplateEngine, links *LinkBuilder, companyName, fromEmail string) *EmailComposer {
	return &EmailComposer{
		engine:      engine,
		links:       links,
		companyName: companyName,
		fromEmail:   fromEmail,
	}
}

const confirmationTemplate = `<html>
<body>
  <h2>Confirm your subscription</h2>
  <p>Hi {{ name | default: "there" }},</p>
  <p>Thanks for signing up for the {{ company_name }} newsletter. Please
  confirm your subscription so we know this address is yours:</p>
  <p><a href="{{ confirm_url }}">Confirm my subscription</a></p>
  <p>If you did not request this, you can ignore this email and the
  subscription will expire on its own.</p>
  <p>&mdash; {{ company_name }} ({{ company_email }})</p>
</body>
</html>`

const welcomeTemplate = `<html>
<body>
  <h2>Welcome aboard!</h2>
  <p>Hi {{ name | default: "there" }},</p>
  <p>Your subscription to the {{ company_name }} newsletter is confirmed.
  Expect travel ideas, new tours, and occasional offers.</p>
  <p>Start exploring: <a href="{{ tours_url }}">our tours</a> or visit
  <a href="{{ website_url }}">{{ company_name }}</a>.</p>
  <p style="font-size:12px;color:#888;">Don't want these emails?
  <a href="{{ unsubscribe_url }}">Unsubscribe</a>.</p>
</body>
</html>`

const unsubscribeAckTemplate = `<html>
<body>
  <h2>You've been unsubscribed</h2>
  <p>Hi {{ name | default: "there" }},</p>
  <p>You will no longer receive the {{ company_name }} newsletter.</p>
  <p>Changed your mind? You can
  <a href="{{ resubscribe_url }}">subscribe again</a> any time.</p>
</body>
</html>`

// Confirmation renders the double opt-in confirmation email.
func (c *EmailComposer) Confirmation(sub *Subscriber) (*RenderedEmail, error) {
	html, err := c.engine.Render(confirmationTemplate, map[string]interface{}{
		"name":          sub.Name,
		"email":         sub.Email,
		"confirm_url":   c.links.ConfirmURL(sub.ConfirmationToken),
		"company_name":  c.companyName,
		"company_email": c.fromEmail,
	})
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: fmt.Sprintf("Confirm Your Subscription - %s", c.companyName),
		HTML:    html,
	}, nil
}

// Welcome renders the post-confirmation welcome email.
func (c *EmailComposer) Welcome(sub *Subscriber) (*RenderedEmail, error) {
	html, err := c.engine.Render(welcomeTemplate, map[string]interface{}{
		"name":            sub.Name,
		"email":           sub.Email,
		"unsubscribe_url": c.links.UnsubscribeURL(sub.UnsubscribeToken),
		"website_url":     c.links.WebsiteURL(),
		"tours_url":       c.links.ToursURL(),
		"company_name":    c.companyName,
	})
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: fmt.Sprintf("Welcome to the %s Newsletter!", c.companyName),
		HTML:    html,
	}, nil
}

// UnsubscribeAck renders the unsubscribe acknowledgement.
func (c *EmailComposer) UnsubscribeAck(sub *Subscriber) (*RenderedEmail, error) {
	html, err := c.engine.Render(unsubscribeAckTemplate, map[string]interface{}{
		"name":            sub.Name,
		"email":           sub.Email,
		"resubscribe_url": c.links.ResubscribeURL(),
		"company_name":    c.companyName,
	})
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: fmt.Sprintf("You've been unsubscribed - %s", c.companyName),
		HTML:    html,
	}, nil
}

// CampaignRecipient personalizes campaign content for one recipient: the
// {{unsubscribe_url}} placeholder resolves to the recipient's own token
// link, and the preview text is injected as a hidden preheader.
func (c *EmailComposer) CampaignRecipient(campaign *Campaign, sub *Subscriber) (*RenderedEmail, error) {
	html, err := c.engine.Render(campaign.Content, map[string]interface{}{
		"name":            sub.Name,
		"email":           sub.Email,
		"interests":       sub.Interests,
		"unsubscribe_url": c.links.UnsubscribeURL(sub.UnsubscribeToken),
		"website_url":     c.links.WebsiteURL(),
		"company_name":    c.companyName,
	})
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: campaign.Subject,
		HTML:    InjectPreviewText(html, campaign.PreviewText),
	}, nil
}
