package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/draft"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/planner"
	"github.com/nhle/inbox-sync/internal/store"
	inboxsync "github.com/nhle/inbox-sync/internal/sync"
)

const (
	cronSecretHeader = "X-Cron-Secret"

	defaultPageSize = 25
	maxPageSize     = 100
	maxSyncLimit    = 500
)

type handlers struct {
	deps Deps
	log  zerolog.Logger
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// triggerSync runs one sync pass. An aborted run answers 503 with the
// error class only; protocol text never leaves the process. A run cut
// short by its budget answers 504 and keeps what it stored.
func (h *handlers) triggerSync(c *gin.Context) {
	if secret := h.deps.CronSecret; secret != "" {
		got := c.GetHeader(cronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			fail(c, http.StatusUnauthorized, codeUnauthorized, "invalid cron secret")
			return
		}
	}
	if h.deps.Runner == nil {
		fail(c, http.StatusServiceUnavailable, codeSyncFailed, "sync is not configured")
		return
	}

	opts, err := parseRunOptions(c)
	if err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	summary, err := h.deps.Runner.Run(c.Request.Context(), opts)
	if err != nil {
		status, msg := http.StatusServiceUnavailable, "sync aborted"
		if summary.LastErrorClass == model.ClassBudget {
			status, msg = http.StatusGatewayTimeout, "sync ran out of time"
		}
		c.AbortWithStatusJSON(status, gin.H{
			"request_id":       c.GetString(requestIDKey),
			"code":             codeSyncFailed,
			"message":          msg,
			"last_error_class": summary.LastErrorClass,
			"summary":          summary,
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseRunOptions(c *gin.Context) (inboxsync.RunOptions, error) {
	var opts inboxsync.RunOptions

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = min(n, maxSyncLimit)
	}

	switch {
	case c.Query("lookback") != "":
		d, err := time.ParseDuration(c.Query("lookback"))
		if err != nil || d <= 0 {
			return opts, errors.New("lookback must be a positive duration")
		}
		opts.Lookback = d
	case c.Query("days") != "":
		n, err := strconv.Atoi(c.Query("days"))
		if err != nil || n < 1 {
			return opts, errors.New("days must be a positive integer")
		}
		opts.Lookback = time.Duration(n) * 24 * time.Hour
	}

	if v := c.Query("scope"); v != "" {
		scope, err := planner.ParseScope(v)
		if err != nil {
			return opts, err
		}
		opts.Scope = scope
	}
	return opts, nil
}

type pollView struct {
	State   string           `json:"state"`
	LastRun *time.Time       `json:"last_run,omitempty"`
	Last    model.RunSummary `json:"last"`
}

type statusView struct {
	Intents map[model.Intent]int `json:"intents"`
	Poller  *pollView            `json:"poller,omitempty"`
}

func (h *handlers) status(c *gin.Context) {
	counts, err := h.deps.Messages.IntentCounts(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, codeInternal, "counting intents failed")
		return
	}
	out := statusView{Intents: counts}
	if p := h.deps.Poller; p != nil {
		st := p.Status()
		pv := &pollView{State: st.State.String(), Last: st.Last}
		if !st.LastRun.IsZero() {
			pv.LastRun = &st.LastRun
		}
		out.Poller = pv
	}
	c.JSON(http.StatusOK, out)
}

type messageView struct {
	model.InboundMessage
	Important *bool `json:"important"`
}

func viewOf(m model.InboundMessage) messageView {
	return messageView{InboundMessage: m, Important: m.ImportantJSON()}
}

type messagePage struct {
	Items    []messageView `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
}

func (h *handlers) listMessages(c *gin.Context) {
	page := max(atoiDefault(c.Query("page"), 1), 1)
	size := atoiDefault(c.Query("page_size"), defaultPageSize)
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}
	includeAuto, _ := strconv.ParseBool(c.Query("include_auto"))

	f := store.ListFilter{
		IncludeAuto: includeAuto,
		Limit:       size,
		Offset:      (page - 1) * size,
	}
	ctx := c.Request.Context()

	msgs, err := h.deps.Messages.List(ctx, f)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, codeInternal, "listing messages failed")
		return
	}
	total, err := h.deps.Messages.Count(ctx, f)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, codeInternal, "counting messages failed")
		return
	}

	items := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, viewOf(m))
	}
	c.JSON(http.StatusOK, messagePage{Items: items, Page: page, PageSize: size, Total: total})
}

func (h *handlers) getMessage(c *gin.Context) {
	m, err := h.deps.Messages.Get(c.Request.Context(), c.Param("key"))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, codeNotFound, "message not found")
		return
	}
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, codeInternal, "loading message failed")
		return
	}
	c.JSON(http.StatusOK, viewOf(*m))
}

func (h *handlers) getBody(c *gin.Context) {
	key := c.Param("key")
	if h.deps.Bodies == nil {
		fail(c, http.StatusServiceUnavailable, codeBodyUnavailable, "mailbox is not configured")
		return
	}
	body, err := h.deps.Bodies.GetBody(c.Request.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, codeNotFound, "message not found")
		return
	case errors.Is(err, inboxsync.ErrBodyUnavailable):
		fail(c, http.StatusNotFound, codeBodyUnavailable, "body is no longer available on the server")
		return
	case err != nil:
		_ = c.Error(err)
		h.log.Warn().Str("key", key).
			Str("error_class", string(inboxsync.ClassifyError(err))).
			Msg("body refetch failed")
		fail(c, http.StatusBadGateway, codeRefetchFailed, "body refetch failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity_key": key, "body": body})
}

type draftRequest struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Body    string `json:"body"`
}

type draftResponse struct {
	IdentityKey string    `json:"identity_key"`
	Draft       string    `json:"draft"`
	Cached      bool      `json:"cached"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// getDraft returns a cached or freshly generated reply. Fields the caller
// omits are filled from the stored message.
func (h *handlers) getDraft(c *gin.Context) {
	key := c.Param("key")
	ctx := c.Request.Context()

	var in draftRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
			return
		}
	}

	m, err := h.deps.Messages.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, codeNotFound, "message not found")
		return
	}
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, codeInternal, "loading message failed")
		return
	}

	req := draft.Request{Key: key, Subject: in.Subject, Sender: in.Sender, Body: in.Body}
	if req.Subject == "" {
		req.Subject = m.Subject
	}
	if req.Sender == "" {
		req.Sender = m.FromAddr
	}
	if req.Body == "" && h.deps.Bodies != nil {
		body, err := h.deps.Bodies.GetBody(ctx, key)
		if err != nil && !errors.Is(err, inboxsync.ErrBodyUnavailable) {
			h.log.Warn().Err(err).Str("key", key).Msg("drafting without body")
		}
		req.Body = body
	}

	res, err := h.deps.Drafts.GetOrGenerate(ctx, "ip:"+c.ClientIP(), req)
	switch {
	case errors.Is(err, draft.ErrRateLimited):
		c.Header("Retry-After", "60")
		fail(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
		return
	case errors.Is(err, draft.ErrNoGenerator):
		fail(c, http.StatusServiceUnavailable, codeDraftUnavailable, "draft generation is not configured")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, codeDraftFailed, "draft generation failed")
		return
	}

	c.JSON(http.StatusOK, draftResponse{
		IdentityKey: key,
		Draft:       res.Text,
		Cached:      res.Cached,
		UpdatedAt:   res.UpdatedAt,
	})
}
