package surfaceauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"storefront/internal/logger"
)

func signedRequest(secret, surface string, at time.Time, body string) *http.Request {
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req.Header.Set(HeaderSurface, surface)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(secret, surface, ts, []byte(body)))
	return req
}

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now:     func() time.Time { return now },
		Logger:  logger.Discard(),
	}
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := `{"id":"p1"}`
	req := signedRequest("secret", "tab-1", now, body)
	rec := httptest.NewRecorder()

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if got := SurfaceID(r.Context()); got != "tab-1" {
			t.Fatalf("expected surface tab-1, got %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if string(raw) != body {
			t.Fatalf("body not restored: %q", raw)
		}
		w.WriteHeader(http.StatusOK)
	})

	fixedVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cases := map[string]func() *http.Request{
		"bad signature": func() *http.Request {
			req := signedRequest("secret", "tab-1", now, `{}`)
			req.Header.Set(HeaderSignature, "deadbeef")
			return req
		},
		"wrong secret": func() *http.Request {
			return signedRequest("other", "tab-1", now, `{}`)
		},
		"stale": func() *http.Request {
			return signedRequest("secret", "tab-1", now.Add(-2*time.Minute), `{}`)
		},
		"missing surface": func() *http.Request {
			req := signedRequest("secret", "tab-1", now, `{}`)
			req.Header.Del(HeaderSurface)
			return req
		},
		"signature bound to surface": func() *http.Request {
			req := signedRequest("secret", "tab-1", now, `{}`)
			req.Header.Set(HeaderSurface, "tab-2")
			return req
		},
		"missing timestamp": func() *http.Request {
			req := signedRequest("secret", "tab-1", now, `{}`)
			req.Header.Del(HeaderTimestamp)
			return req
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, build())

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart", nil)
	req.Header.Set(HeaderSurface, "tab-9")
	rec := httptest.NewRecorder()

	v := &Verifier{}
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := SurfaceID(r.Context()); got != "tab-9" {
			t.Fatalf("expected surface tab-9, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
