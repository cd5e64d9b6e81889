package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/privacykit/shortlink/internal/app/repository"
	"github.com/privacykit/shortlink/internal/app/service"
	"go.uber.org/zap"
)

// RedirectDeps groups dependencies required by the redirect handler.
type RedirectDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
}

// RedirectHandler serves the resolve flow.
type RedirectHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:      logger,
		linkService: deps.LinkService,
	}
}

// Register wires redirect routes onto the provided router. Must run after
// the API routes so /:code does not shadow them.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/:code", h.Resolve)
}

// Health is a simple root endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "shortlink",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// DenialResponse is the body of a 410 response.
type DenialResponse struct {
	Error     string     `json:"error"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxClicks *int       `json:"max_clicks,omitempty"`
}

// Resolve handles GET /:code: a 302 to the destination, a 410 with the
// denial details, or a 404 for codes that were never issued.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing link code",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	resolution, err := h.linkService.ResolveLink(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "short link not found",
			})
		}
		h.logger.Error("failed to resolve link", zap.Error(err), zap.String("code", code))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	if !resolution.Allowed() {
		d := resolution.Denial
		return c.Status(fiber.StatusGone).JSON(DenialResponse{
			Error:     denialMessage(d.Reason),
			Reason:    string(d.Reason),
			ExpiresAt: d.ExpiresAt,
			MaxClicks: d.MaxClicks,
		})
	}

	h.logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", resolution.TargetURL))
	return c.Redirect(resolution.TargetURL, fiber.StatusFound)
}

func denialMessage(reason service.DenialReason) string {
	switch reason {
	case service.ReasonExpired:
		return "link has expired"
	case service.ReasonClickLimit:
		return "link has reached its maximum number of clicks"
	default:
		return "link is no longer active"
	}
}
