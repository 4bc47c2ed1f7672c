// Package httpapi exposes the sync trigger, message listing, lazy bodies
// and reply drafts over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/draft"
	"github.com/nhle/inbox-sync/internal/metrics"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
	inboxsync "github.com/nhle/inbox-sync/internal/sync"
)

// BodyGetter returns message bodies, refetching on a cache miss.
type BodyGetter interface {
	GetBody(ctx context.Context, key string) (string, error)
}

// Drafter returns reply drafts.
type Drafter interface {
	GetOrGenerate(ctx context.Context, caller string, req draft.Request) (draft.Result, error)
}

// MessageReader is the read side of the store used by the listing routes.
type MessageReader interface {
	Get(ctx context.Context, key string) (*model.InboundMessage, error)
	List(ctx context.Context, f store.ListFilter) ([]model.InboundMessage, error)
	Count(ctx context.Context, f store.ListFilter) (int, error)
	IntentCounts(ctx context.Context) (map[model.Intent]int, error)
}

// Deps are the services routes call into.
type Deps struct {
	Runner   inboxsync.Runner
	Bodies   BodyGetter
	Drafts   Drafter
	Messages MessageReader
	Metrics  *metrics.Metrics
	// Poller is the background loop, when serve runs one.
	Poller   *inboxsync.Poller
	Gatherer prometheus.Gatherer

	// CronSecret, when set, must be sent in X-Cron-Secret to trigger a sync.
	CronSecret string

	Logger zerolog.Logger
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	// Identity keys may contain escaped slashes.
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(requestID())
	r.Use(accessLog(d.Logger))
	r.Use(recovery(d.Logger))
	r.Use(d.Metrics.Middleware())

	h := &handlers{deps: d, log: d.Logger}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/sync", h.triggerSync)
	v1.GET("/status", h.status)
	v1.GET("/messages", h.listMessages)
	v1.GET("/messages/:key", h.getMessage)
	v1.GET("/messages/:key/body", h.getBody)
	v1.POST("/messages/:key/draft", h.getDraft)

	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeNotFound, "route not found")
	})
	return r
}
