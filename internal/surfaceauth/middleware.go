package surfaceauth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/logger"
)

const (
	HeaderSurface   = "X-Surface-Id"
	HeaderTimestamp = "X-Surface-Timestamp"
	HeaderSignature = "X-Surface-Signature"
)

var (
	ErrMissingSurface   = errors.New("missing surface id")
	ErrMissingSignature = errors.New("missing surface signature")
	ErrMissingTimestamp = errors.New("missing surface timestamp")
	ErrStaleTimestamp   = errors.New("stale surface timestamp")
	ErrInvalidSignature = errors.New("invalid surface signature")
)

type surfaceKey struct{}

// Verifier authenticates UI surfaces sharing the storefront's client state.
// An empty Secret disables verification; the surface id is still recorded.
type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		surface, err := v.verify(r)
		if err != nil {
			logger.Or(v.Logger).Warn("surface rejected", "path", r.URL.Path, "surface", surface, "err", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), surfaceKey{}, surface)))
	})
}

// SurfaceID returns the id of the surface that issued the request.
func SurfaceID(ctx context.Context) string {
	id, _ := ctx.Value(surfaceKey{}).(string)
	return id
}

func (v *Verifier) verify(r *http.Request) (string, error) {
	surface := r.Header.Get(HeaderSurface)
	if v.Secret == "" {
		return surface, nil
	}
	if surface == "" {
		return "", ErrMissingSurface
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return surface, ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return surface, ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return surface, ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return surface, err
	}
	expected := Sign(v.Secret, surface, tsHeader, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return surface, ErrInvalidSignature
	}
	return surface, nil
}

// Sign computes the hex HMAC-SHA256 a surface sends in HeaderSignature.
func Sign(secret, surface, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(surface))
	mac.Write([]byte("\n"))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
