package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/turbine-shutdown/backend/internal/models"
)

const (
	// HeaderUserID carries the authenticated user id set by the auth proxy.
	HeaderUserID = "X-User-ID"

	MIMEMsgpack = "application/msgpack"
)

// userID returns the caller's id or a 401 when the header is missing.
func userID(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if id == "" {
		return "", NewUnauthorizedError("missing " + HeaderUserID + " header")
	}
	return id, nil
}

// respond writes v as msgpack when the client accepts it, JSON otherwise.
func respond(c echo.Context, status int, v any) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack) {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return NewInternalError("failed to encode response", err)
		}
		return c.Blob(status, MIMEMsgpack, data)
	}
	return c.JSON(status, v)
}

// bind decodes the request body from msgpack or JSON. An empty body is allowed.
func bind(c echo.Context, v any) error {
	req := c.Request()
	if req.ContentLength == 0 {
		return nil
	}
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), MIMEMsgpack) {
		if err := msgpack.NewDecoder(req.Body).Decode(v); err != nil {
			return NewBadRequestError("invalid msgpack body", err)
		}
		return nil
	}
	if err := c.Bind(v); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return nil
}

func parseInt64(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

// sampleInput is a sensor reading as sent by clients. Timestamp defaults to
// the receive time and quality to 1.
type sampleInput struct {
	Parameter string     `json:"parameter" msgpack:"parameter"`
	Value     float64    `json:"value" msgpack:"value"`
	Unit      string     `json:"unit" msgpack:"unit"`
	Timestamp *time.Time `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Quality   *float64   `json:"quality,omitempty" msgpack:"quality,omitempty"`
}

func (s sampleInput) toModel(now time.Time) models.SensorSample {
	out := models.SensorSample{
		Parameter: strings.TrimSpace(s.Parameter),
		Value:     s.Value,
		Unit:      s.Unit,
		Timestamp: now,
		Quality:   1,
	}
	if s.Timestamp != nil && !s.Timestamp.IsZero() {
		out.Timestamp = *s.Timestamp
	}
	if s.Quality != nil {
		out.Quality = *s.Quality
	}
	return out
}

func skewOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return models.DefaultClockSkew
	}
	return d
}

// validateSamples rejects samples without a parameter, with a quality
// outside [0, 1], or dated more than skew after now.
func validateSamples(in []sampleInput, now time.Time, skew time.Duration) error {
	for _, s := range in {
		if s.Timestamp != nil && s.Timestamp.After(now.Add(skew)) {
			return NewValidationError("samples.timestamp")
		}
		if strings.TrimSpace(s.Parameter) == "" {
			return NewValidationError("samples.parameter")
		}
		if s.Quality != nil && (*s.Quality < 0 || *s.Quality > 1) {
			return NewValidationError("samples.quality")
		}
	}
	return nil
}
