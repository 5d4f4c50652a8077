package dashboard

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/pkg/errors"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type Handler struct {
	service *Service
	refresh time.Duration
	logger  logger.Logger
}

func NewHandler(service *Service, refresh time.Duration, log logger.Logger) *Handler {
	if refresh <= 0 {
		refresh = constants.DefaultRefreshInterval
	}
	return &Handler{
		service: service,
		refresh: refresh,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(pageTemplate)
	router.GET("/", h.Index)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/events", h.ListEvents)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// ListEvents returns the plotted view as JSON.
func (h *Handler) ListEvents(c *gin.Context) {
	view, err := h.service.View(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Index renders the map page. It reloads itself every refresh interval.
func (h *Handler) Index(c *gin.Context) {
	seconds := int(h.refresh.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	page := gin.H{"RefreshSeconds": seconds}

	view, err := h.service.View(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
		page["Error"] = ErrFetchEvents.Message
		page["View"] = View{}
		c.HTML(errors.ToHTTPStatus(err), "index.html", page)
		return
	}

	page["View"] = view
	c.HTML(http.StatusOK, "index.html", page)
}
