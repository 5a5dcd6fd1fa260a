package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/DarkMukke/backup-discord-bot/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	XRequestID = "x-request-id"
	notFound   = "/not-found"
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "param", "query"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return ""
	})
	return &Validator{validate: validate}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// RequestID reuses the caller's x-request-id or assigns a new one.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Request().Header.Get(XRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			c.Set(XRequestID, reqID)
			c.Response().Header().Set(XRequestID, reqID)
			return next(c)
		}
	}
}

func isNotFoundHandler(handler echo.HandlerFunc) bool {
	return reflect.ValueOf(handler).Pointer() == reflect.ValueOf(echo.NotFoundHandler).Pointer()
}

// Metrics records the duration of every request by route.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			// to avoid high cardinality of 404
			if isNotFoundHandler(c.Handler()) {
				path = notFound
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(strconv.Itoa(c.Response().Status), c.Request().Method, path).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// LogRequest logs one line per request, skipping health and metrics probes.
func LogRequest(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uri := c.Request().RequestURI
			if uri == "/health" || uri == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			logger.Info("http.request",
				"request_id", c.Get(XRequestID),
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return err
		}
	}
}

// KeyAuth guards /api with a static key sent as a bearer token.
func KeyAuth(apiKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, "/api/")
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	})
}
