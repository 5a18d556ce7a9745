package handlers

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/graph"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

const (
	validationParam = "validationToken="
	slowHandshake   = 100 * time.Millisecond
)

// ValidationToken finds validationToken in a raw query string and percent-decodes it.
// Nothing else in the request is parsed. An empty value counts as absent.
func ValidationToken(rawQuery []byte) (string, bool) {
	q := rawQuery
	for len(q) > 0 {
		pair := q
		if i := bytes.IndexByte(q, '&'); i >= 0 {
			pair, q = q[:i], q[i+1:]
		} else {
			q = nil
		}
		if !bytes.HasPrefix(pair, []byte(validationParam)) {
			continue
		}
		raw := string(pair[len(validationParam):])
		if raw == "" {
			return "", false
		}
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return raw, true
		}
		return decoded, true
	}
	return "", false
}

// ValidationHandler answers Graph's subscription handshake.
type ValidationHandler struct {
	handshakes *graph.HandshakeTracker
	metrics    *observability.Metrics
	logger     *zap.Logger
	forward    fiber.Handler
}

// NewValidationHandler builds the responder. Requests without a token on /graph/validate
// are passed to forward.
func NewValidationHandler(handshakes *graph.HandshakeTracker, forward fiber.Handler, metrics *observability.Metrics, logger *zap.Logger) *ValidationHandler {
	return &ValidationHandler{handshakes: handshakes, forward: forward, metrics: metrics, logger: logger.Named("validation")}
}

// Middleware short-circuits any request carrying a validation token. Mount it ahead of
// everything else on the webhook prefix.
func (h *ValidationHandler) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if handled, err := h.respond(c, time.Now()); handled {
			return err
		}
		return c.Next()
	}
}

// GraphValidate GET|POST /graph/validate.
func (h *ValidationHandler) GraphValidate(c *fiber.Ctx) error {
	if handled, err := h.respond(c, time.Now()); handled {
		return err
	}
	if h.forward == nil {
		return c.SendStatus(fiber.StatusAccepted)
	}
	return h.forward(c)
}

// PreValidationTest GET|POST /pre-validation/test echoes the token with timing headers.
func (h *ValidationHandler) PreValidationTest(c *fiber.Ctx) error {
	started := time.Now()
	token, ok := ValidationToken(c.Request().URI().QueryString())
	if !ok {
		return apperrors.NewValidationError("missing validationToken", nil)
	}
	elapsed := time.Since(started)
	elapsedMs := float64(elapsed.Microseconds()) / 1000

	status := "PASS"
	if elapsed >= slowHandshake {
		status = "SLOW"
		h.logger.Warn("slow pre-validation response", zap.Duration("elapsed", elapsed))
	}
	c.Set("X-Response-Time-Us", strconv.FormatInt(elapsed.Microseconds(), 10))
	c.Set("X-Response-Time-Ms", fmt.Sprintf("%.2f", elapsedMs))
	c.Set("X-Response-Status", status)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(token)
}

func (h *ValidationHandler) respond(c *fiber.Ctx, started time.Time) (bool, error) {
	token, ok := ValidationToken(c.Request().URI().QueryString())
	if !ok {
		return false, nil
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	err := c.Status(fiber.StatusOK).SendString(token)
	h.logHandshake(c.Path(), token, time.Since(started))
	return true, err
}

func (h *ValidationHandler) logHandshake(path, token string, elapsed time.Duration) {
	h.metrics.Incr("validation.handshakes")
	fields := []zap.Field{
		zap.String("path", path),
		zap.Int("token_length", len(token)),
		zap.Int64("elapsed_us", elapsed.Microseconds()),
	}
	if resource, delay, ok := h.handshakes.Match(token); ok {
		fields = append(fields, zap.String("resource", resource), zap.Duration("since_create_timeout", delay))
	}
	if elapsed > slowHandshake {
		h.logger.Warn("slow validation handshake", fields...)
		return
	}
	h.logger.Info("validation handshake", fields...)
}
