package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/pullpay/internal/authz"
	"github.com/mbd888/pullpay/internal/debit"
	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/ledger"
	"github.com/mbd888/pullpay/internal/limits"
	"github.com/mbd888/pullpay/internal/pagination"
	"github.com/mbd888/pullpay/internal/record"
	"github.com/mbd888/pullpay/internal/registry"
	"github.com/mbd888/pullpay/internal/store"
)

// callerHeader carries the verified caller identity. Upstream auth is
// expected to have checked the caller's signature before the request
// reaches the engine.
const callerHeader = "X-Caller"

// caller extracts the caller identity from the request header. Writes the
// error response itself and returns false when the header is missing or
// malformed.
func caller(c *gin.Context) (identity.Identity, bool) {
	raw := c.GetHeader(callerHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller header is required",
		})
		return identity.Zero, false
	}
	id, err := identity.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_caller",
			"message": "X-Caller must be a 64-character hex identity",
		})
		return identity.Zero, false
	}
	return id, true
}

// writeError maps engine errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var te *debit.TransferError

	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Caller is not permitted to perform this operation",
		})
	case errors.Is(err, authz.ErrAlreadyInitialized):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_initialized",
			"message": "The engine has already been initialized",
		})
	case errors.Is(err, authz.ErrInvalidParameter):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_parameter",
			"message": err.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No record exists at this address",
		})
	case errors.Is(err, limits.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be positive",
		})
	case errors.Is(err, limits.ErrPerTransferLimitExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "per_transfer_limit_exceeded",
			"message": "Amount exceeds the per-transfer limit",
		})
	case errors.Is(err, limits.ErrPeriodLimitExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "period_limit_exceeded",
			"message": "Amount exceeds the remaining period allowance",
		})
	case errors.Is(err, limits.ErrArithmeticOverflow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "arithmetic_overflow",
			"message": "Amount overflows the period accumulator",
		})
	case errors.As(err, &te):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "transfer_failed",
			"message":   "Value transfer failed; the debit was rolled back",
			"reference": te.Reference,
		})
	case errors.Is(err, identity.ErrInvalidIdentity), errors.Is(err, store.ErrBadAddress),
		errors.Is(err, record.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

// merchantParam parses the :id path segment.
func merchantParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_merchant",
			"message": "Merchant ID must be an unsigned integer",
		})
		return 0, false
	}
	return id, true
}

// identityParam parses a hex identity path segment.
func identityParam(c *gin.Context, name string) (identity.Identity, bool) {
	id, err := identity.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_identity",
			"message": name + " must be a 64-character hex identity",
		})
		return identity.Zero, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	status := http.StatusOK
	state := "healthy"
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

type initRequest struct {
	Admin identity.Identity `json:"admin" binding:"required"`
}

func (s *Server) initHandler(c *gin.Context) {
	var req initRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.adminSvc.Initialize(c.Request.Context(), req.Admin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"admin": req.Admin})
}

type updateAdminRequest struct {
	Admin identity.Identity `json:"admin" binding:"required"`
}

func (s *Server) updateAdminHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req updateAdminRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.adminSvc.UpdateAdmin(c.Request.Context(), who, req.Admin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": req.Admin})
}

func (s *Server) closeRecordHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	addr, err := store.ParseAddress(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.adminSvc.CloseRecord(c.Request.Context(), who, addr); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Record inspection
// -----------------------------------------------------------------------------

func (s *Server) getRecordHandler(c *gin.Context) {
	addr, err := store.ParseAddress(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := s.store.Get(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordView(rec, s.clock.Now()))
}

// recordView renders a stored record for inspection.
func recordView(rec record.Record, now uint64) gin.H {
	switch r := rec.(type) {
	case *record.GlobalState:
		return gin.H{
			"kind":    "global_state",
			"admin":   r.Admin,
			"version": r.Version,
		}
	case *record.MerchantManager:
		return gin.H{
			"kind":    "merchant_manager",
			"manager": r.Manager,
		}
	case *record.MerchantDebitor:
		return gin.H{
			"kind":    "merchant_debitor",
			"allowed": r.Allowed,
		}
	case *record.MerchantDestination:
		return gin.H{
			"kind":    "merchant_destination",
			"allowed": r.Allowed,
		}
	case *record.UserDelegate:
		return gin.H{
			"kind":                    "user_delegate",
			"perTransferLimit":        r.PerTransferLimit,
			"periodTransferLimit":     r.PeriodTransferLimit,
			"periodTransferredAmount": r.PeriodTransferredAmount,
			"periodLastReset":         r.PeriodTimestampLastReset,
			"periodSeconds":           r.TransferLimitPeriodSeconds,
			"slotLastTransferred":     r.SlotLastTransferred,
			"remaining":               limits.Remaining(r, now),
		}
	default:
		return gin.H{"kind": "unknown"}
	}
}

// -----------------------------------------------------------------------------
// Merchant permission hierarchy
// -----------------------------------------------------------------------------

type setManagerRequest struct {
	Manager identity.Identity `json:"manager" binding:"required"`
}

func (s *Server) setManagerHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	merchant, ok := merchantParam(c)
	if !ok {
		return
	}
	var req setManagerRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.registry.SetMerchantManager(c.Request.Context(), who, merchant, req.Manager); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant": merchant,
		"manager":  req.Manager,
	})
}

type setAllowedRequest struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

func (s *Server) setDebitorHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	merchant, ok := merchantParam(c)
	if !ok {
		return
	}
	token, ok := identityParam(c, "token")
	if !ok {
		return
	}
	debitor, ok := identityParam(c, "identity")
	if !ok {
		return
	}
	var req setAllowedRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.registry.SetDebitorPermission(c.Request.Context(), who, merchant, token, debitor, *req.Allowed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant": merchant,
		"token":    token,
		"debitor":  debitor,
		"allowed":  *req.Allowed,
	})
}

func (s *Server) setDestinationHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	merchant, ok := merchantParam(c)
	if !ok {
		return
	}
	token, ok := identityParam(c, "token")
	if !ok {
		return
	}
	destination, ok := identityParam(c, "identity")
	if !ok {
		return
	}
	var req setAllowedRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.registry.SetDestinationPermission(c.Request.Context(), who, merchant, token, destination, *req.Allowed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant":    merchant,
		"token":       token,
		"destination": destination,
		"allowed":     *req.Allowed,
	})
}

type setDelegateRequest struct {
	PerTransferLimit    uint64 `json:"perTransferLimit"`
	PeriodTransferLimit uint64 `json:"periodTransferLimit"`
	PeriodSeconds       uint32 `json:"periodSeconds" binding:"required"`
}

func (s *Server) setDelegateHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	merchant, ok := merchantParam(c)
	if !ok {
		return
	}
	token, ok := identityParam(c, "token")
	if !ok {
		return
	}
	holder, ok := identityParam(c, "holder")
	if !ok {
		return
	}
	var req setDelegateRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg := registry.DelegateConfig{
		PerTransferLimit:    req.PerTransferLimit,
		PeriodTransferLimit: req.PeriodTransferLimit,
		PeriodSeconds:       req.PeriodSeconds,
	}
	if err := s.registry.SetUserDelegate(c.Request.Context(), who, merchant, token, holder, cfg, s.clock.Now()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant":            merchant,
		"token":               token,
		"holder":              holder,
		"perTransferLimit":    req.PerTransferLimit,
		"periodTransferLimit": req.PeriodTransferLimit,
		"periodSeconds":       req.PeriodSeconds,
	})
}

// -----------------------------------------------------------------------------
// Debits
// -----------------------------------------------------------------------------

type debitRequest struct {
	Merchant    uint64            `json:"merchant"`
	Token       identity.Identity `json:"token" binding:"required"`
	Holder      identity.Identity `json:"holder" binding:"required"`
	Destination identity.Identity `json:"destination" binding:"required"`
	Amount      uint64            `json:"amount" binding:"required"`
}

func (s *Server) debitHandler(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req debitRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.debits.Debit(c.Request.Context(), debit.Request{
		Merchant:    req.Merchant,
		Token:       req.Token,
		Debitor:     who,
		Holder:      req.Holder,
		Destination: req.Destination,
		Amount:      req.Amount,
		CurrentTime: s.clock.Now(),
		CurrentSlot: s.clock.Slot(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// Internal ledger
// -----------------------------------------------------------------------------

type depositRequest struct {
	Token   identity.Identity `json:"token" binding:"required"`
	Account identity.Identity `json:"account" binding:"required"`
	Amount  uint64            `json:"amount" binding:"required"`
}

func (s *Server) depositHandler(c *gin.Context) {
	var req depositRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.ledger.Deposit(c.Request.Context(), req.Token, req.Account, req.Amount); err != nil {
		writeError(c, err)
		return
	}
	balance, err := s.ledger.Balance(c.Request.Context(), req.Token, req.Account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":   req.Token,
		"account": req.Account,
		"balance": balance,
	})
}

func (s *Server) balanceHandler(c *gin.Context) {
	token, ok := identityParam(c, "token")
	if !ok {
		return
	}
	account, ok := identityParam(c, "account")
	if !ok {
		return
	}
	balance, err := s.ledger.Balance(c.Request.Context(), token, account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"account": account,
		"balance": balance,
	})
}

func (s *Server) historyHandler(c *gin.Context) {
	token, ok := identityParam(c, "token")
	if !ok {
		return
	}
	account, ok := identityParam(c, "account")
	if !ok {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	// Entries come back newest-first; fetch enough to resume past the
	// cursor plus one extra to detect another page.
	fetch := limit + 1
	if cur != nil {
		fetch = maxHistoryFetch
	}
	entries, err := s.ledger.History(c.Request.Context(), token, account, fetch)
	if err != nil {
		writeError(c, err)
		return
	}
	if cur != nil {
		entries = entriesAfterCursor(entries, cur)
		if len(entries) > limit+1 {
			entries = entries[:limit+1]
		}
	}

	page, next, hasMore := pagination.ComputePage(entries, limit, func(e *ledger.Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account":    account,
		"entries":    page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

const maxHistoryFetch = 500

// entriesAfterCursor drops everything up to and including the cursor
// entry. Falls back to a timestamp comparison when the cursor entry has
// left the retained window.
func entriesAfterCursor(entries []*ledger.Entry, cur *pagination.Cursor) []*ledger.Entry {
	for i, e := range entries {
		if e.ID == cur.ID {
			return entries[i+1:]
		}
	}
	for i, e := range entries {
		if e.CreatedAt.Before(cur.CreatedAt) {
			return entries[i:]
		}
	}
	return nil
}
