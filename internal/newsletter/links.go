package newsletter

import "strings"

// LinkBuilder constructs the subscriber-facing URLs embedded in outbound
// mail. The frontend base URL is injected at construction; nothing here
// reads ambient globals.
type LinkBuilder struct {
	baseURL string
}

// NewLinkBuilder creates a link builder for the given frontend base URL.
func NewLinkBuilder(frontendURL string) *LinkBuilder {
	return &LinkBuilder{baseURL: strings.TrimRight(frontendURL, "/")}
}

// ConfirmURL returns the double opt-in confirmation link for a token.
func (b *LinkBuilder) ConfirmURL(token string) string {
	return b.baseURL + "/newsletter/confirm/" + token
}

// UnsubscribeURL returns the one-click unsubscribe link for a token.
func (b *LinkBuilder) UnsubscribeURL(token string) string {
	return b.baseURL + "/newsletter/unsubscribe/" + token
}

// WebsiteURL returns the site root.
func (b *LinkBuilder) WebsiteURL() string {
	return b.baseURL
}

// ToursURL returns the tour catalog page linked from the welcome email.
func (b *LinkBuilder) ToursURL() string {
	return b.baseURL + "/tours"
}

// ResubscribeURL returns the newsletter signup page linked from the
// unsubscribe acknowledgement.
func (b *LinkBuilder) ResubscribeURL() string {
	return b.baseURL + "/newsletter"
}
