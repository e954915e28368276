package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/credits"
	"dialer-platform/internal/dialer"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth   *auth.Manager
	Store  campaigns.Store
	Ledger credits.Ledger
	Dialer *dialer.Orchestrator
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	tok, err := h.Auth.IssueAccessToken(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Campaigns ---

type createCampaignRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	AgentID        string `json:"agent_id"`
	OutboundNumber string `json:"outbound_number"`
	LocalTouch     bool   `json:"local_touch"`

	Contacts []createContactRequest `json:"contacts"`
}

type createContactRequest struct {
	PhoneNumber string            `json:"phone_number"`
	FirstName   string            `json:"first_name"`
	DynamicVars map[string]string `json:"dynamic_variables"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Title == "" || req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "title and agent_id required"})
		return
	}

	campaign := campaigns.Campaign{
		UserID:         userID,
		Title:          req.Title,
		Description:    req.Description,
		AgentID:        req.AgentID,
		OutboundNumber: req.OutboundNumber,
		LocalTouch:     req.LocalTouch,
		Status:         campaigns.StatusScheduled,
	}
	if err := campaign.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.Store.CreateCampaign(c.Request.Context(), campaign)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign create failed"})
		return
	}

	if len(req.Contacts) > 0 {
		contacts := make([]campaigns.Contact, 0, len(req.Contacts))
		for _, rc := range req.Contacts {
			if rc.PhoneNumber == "" {
				continue
			}
			contacts = append(contacts, campaigns.Contact{
				CampaignID:  id,
				PhoneNumber: rc.PhoneNumber,
				FirstName:   rc.FirstName,
				DynamicVars: rc.DynamicVars,
			})
		}
		if err := h.Store.AddContacts(c.Request.Context(), id, contacts); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "contact import failed"})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	_, campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, campaign)
}

type startCampaignRequest struct {
	// ContactIDs, when present, is an explicit dial selection (redial flow).
	ContactIDs []int64 `json:"contact_ids"`
	Resume     bool    `json:"resume"`
}

// StartCampaign triggers the dialing loop. The response acknowledges the
// launch; call outcomes surface through campaign status and call logs.
func (h Handlers) StartCampaign(c *gin.Context) {
	userID, campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}

	var req startCampaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	var selected []campaigns.Contact
	if len(req.ContactIDs) > 0 {
		var err error
		selected, err = h.Store.ContactsByIDs(c.Request.Context(), campaign.ID, req.ContactIDs)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "contact lookup failed"})
			return
		}
	}

	err := h.Dialer.Start(c.Request.Context(), dialer.StartRequest{
		CampaignID: campaign.ID,
		UserID:     userID,
		Contacts:   selected,
		Resume:     req.Resume,
	})
	if err != nil {
		h.abortDialerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": string(campaigns.StatusInProgress)})
}

type setStatusRequest struct {
	Status string `json:"status"`

	// Resuming relaunches the dialing loop instead of only flipping the row,
	// for campaigns whose loop is no longer live (e.g. after a restart).
	Resuming bool `json:"resuming"`
}

func (h Handlers) SetCampaignStatus(c *gin.Context) {
	userID, campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := campaigns.Status(req.Status)
	if status != campaigns.StatusPaused && status != campaigns.StatusInProgress {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be paused or in_progress"})
		return
	}

	if err := h.Dialer.SetStatus(c.Request.Context(), campaign.ID, userID, status, req.Resuming); err != nil {
		h.abortDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (h Handlers) ListCallLogs(c *gin.Context) {
	_, campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	logs, err := h.Store.CallLogs(c.Request.Context(), campaign.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_logs": logs})
}

// --- Credits ---

func (h Handlers) GetCreditBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	balance, err := h.Ledger.Balance(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, credits.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type topUpRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// TopUpCredits adds credits to the caller's balance. The idempotency key makes
// payment-webhook retries safe to replay.
func (h Handlers) TopUpCredits(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Amount <= 0 || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount and idempotency_key required"})
		return
	}
	if err := h.Ledger.IncrementBy(c.Request.Context(), userID, req.Amount, req.IdempotencyKey); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "top-up failed"})
		return
	}
	balance, err := h.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// --- helpers ---

// ownedCampaign loads the :campaign_id path param and enforces ownership.
// A campaign owned by someone else reads as not found, never as forbidden.
func (h Handlers) ownedCampaign(c *gin.Context) (string, campaigns.Campaign, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", campaigns.Campaign{}, false
	}
	id, err := strconv.ParseInt(c.Param("campaign_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id must be an integer"})
		return "", campaigns.Campaign{}, false
	}
	campaign, err := h.Store.Campaign(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
			return "", campaigns.Campaign{}, false
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign lookup failed"})
		return "", campaigns.Campaign{}, false
	}
	if campaign.UserID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return "", campaigns.Campaign{}, false
	}
	return userID, campaign, true
}

func (h Handlers) abortDialerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dialer.ErrCampaignNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, dialer.ErrCampaignCompleted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already completed"})
	case errors.Is(err, dialer.ErrCampaignRunning):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already running"})
	case errors.Is(err, dialer.ErrAPIKeyMissing):
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{"error": "call-provider api key not configured"})
	case errors.Is(err, dialer.ErrNoContactsToCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no contacts to call"})
	case errors.Is(err, dialer.ErrInsufficientCredits):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":  "insufficient credits",
			"action": "top_up",
		})
	case errors.Is(err, dialer.ErrTooManyActiveRuns):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many active campaign runs"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign start failed"})
	}
}
