package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/pkg/httputil"
)

// SubscriptionService is the lifecycle surface the public endpoints call.
type SubscriptionService interface {
	Subscribe(ctx context.Context, req newsletter.SubscribeRequest, callerKey string) (string, error)
	Confirm(ctx context.Context, token string) (string, error)
	Unsubscribe(ctx context.Context, token string) (string, error)
	UnsubscribeByEmail(ctx context.Context, email string) (string, error)
	Status(ctx context.Context, email string) (*newsletter.StatusSnapshot, error)
}

// CampaignService is the campaign management surface.
type CampaignService interface {
	CreateCampaign(ctx context.Context, c *newsletter.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*newsletter.Campaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]*newsletter.Campaign, error)
}

// CampaignDispatcher fans a campaign out to the notification queue.
type CampaignDispatcher interface {
	Send(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	subs      SubscriptionService
	campaigns CampaignService
	sender    CampaignDispatcher
	startedAt time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(subs SubscriptionService, campaigns CampaignService, sender CampaignDispatcher) *Handlers {
	return &Handlers{
		subs:      subs,
		campaigns: campaigns,
		sender:    sender,
		startedAt: time.Now().UTC(),
	}
}

// Health reports liveness and uptime.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Subscribe handles POST /api/newsletter/subscribe.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req newsletter.SubscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	outcome, err := h.subs.Subscribe(r.Context(), req, clientIP(r))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	body := map[string]string{
		"status":  outcome,
		"message": outcomeMessage(outcome),
	}
	// A fresh signup creates a record; replays and reactivations do not.
	if outcome == newsletter.OutcomePendingConfirmation {
		httputil.Created(w, body)
		return
	}
	httputil.OK(w, body)
}

// Confirm handles GET /api/newsletter/confirm/{token}.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.subs.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"status":  outcome,
		"message": outcomeMessage(outcome),
	})
}

// Unsubscribe handles GET /api/newsletter/unsubscribe/{token}.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.subs.Unsubscribe(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"status":  outcome,
		"message": outcomeMessage(outcome),
	})
}

// UnsubscribeByEmail handles POST /api/newsletter/unsubscribe, the legacy
// path for clients that hold an address instead of a token.
func (h *Handlers) UnsubscribeByEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	outcome, err := h.subs.UnsubscribeByEmail(r.Context(), req.Email)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"status":  outcome,
		"message": outcomeMessage(outcome),
	})
}

// Status handles GET /api/newsletter/status?email=...
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httputil.BadRequest(w, "email query parameter is required")
		return
	}

	snap, err := h.subs.Status(r.Context(), email)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	httputil.OK(w, snap)
}

type createCampaignRequest struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	PreviewText string `json:"preview_text"`
	Content     string `json:"content"`
	CreatedBy   string `json:"created_by"`
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Title == "" || req.Subject == "" || req.Content == "" {
		httputil.BadRequest(w, "title, subject and content are required")
		return
	}

	campaign := &newsletter.Campaign{
		Title:       req.Title,
		Subject:     req.Subject,
		PreviewText: req.PreviewText,
		Content:     req.Content,
		CreatedBy:   req.CreatedBy,
	}
	if err := h.campaigns.CreateCampaign(r.Context(), campaign); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, campaign)
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if campaign == nil {
		httputil.NotFound(w, "campaign not found", "campaign_not_found")
		return
	}
	httputil.OK(w, campaign)
}

// ListCampaigns handles GET /api/campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	campaigns, err := h.campaigns.ListCampaigns(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []*newsletter.Campaign{}
	}
	httputil.OK(w, map[string]any{"campaigns": campaigns, "count": len(campaigns)})
}

// SendCampaign handles POST /api/campaigns/{id}/send. The fan-out runs
// synchronously (enqueue only); delivery itself is the dispatcher's job,
// so 202 is the honest status.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	enqueued, err := h.sender.Send(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, newsletter.ErrNotFound):
			httputil.NotFound(w, "campaign not found", "campaign_not_found")
		case errors.Is(err, newsletter.ErrAlreadyDispatched):
			httputil.Conflict(w, "campaign already dispatched", "already_dispatched")
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.Accepted(w, map[string]any{"status": "sending", "enqueued": enqueued})
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, newsletter.ErrInvalidEmail):
		httputil.BadRequest(w, "invalid email address")
	case errors.Is(err, newsletter.ErrInvalidToken):
		httputil.NotFound(w, "invalid or expired confirmation link", "invalid_token")
	case errors.Is(err, newsletter.ErrNotFound):
		httputil.NotFound(w, "subscription not found", "not_found")
	case errors.Is(err, newsletter.ErrThrottled):
		httputil.TooManyRequests(w, "too many subscribe attempts, try again later")
	default:
		httputil.InternalError(w, err)
	}
}

// outcomeMessage maps outcome codes to the copy shown by the frontend.
func outcomeMessage(outcome string) string {
	switch outcome {
	case newsletter.OutcomePendingConfirmation:
		return "Check your inbox to confirm your subscription."
	case newsletter.OutcomeConfirmationResent:
		return "We sent you a fresh confirmation email."
	case newsletter.OutcomeAlreadySubscribed:
		return "You are already subscribed."
	case newsletter.OutcomeReactivated:
		return "Welcome back! Your subscription is active again."
	case newsletter.OutcomeConfirmed:
		return "Subscription confirmed. Welcome aboard!"
	case newsletter.OutcomeAlreadyConfirmed:
		return "Your subscription was already confirmed."
	case newsletter.OutcomeUnsubscribed:
		return "You have been unsubscribed."
	case newsletter.OutcomeAlreadyUnsubscribed:
		return "You were already unsubscribed."
	default:
		return ""
	}
}

// clientIP extracts the caller address for rate limiting. middleware.RealIP
// has already resolved X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func notFoundJSON(w http.ResponseWriter) {
	httputil.NotFound(w, "not found", "route_not_found")
}
