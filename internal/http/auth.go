package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	stdhttp "net/http"
)

// TokenHeader carries the admin token.
const TokenHeader = "TOKEN"

type adminKey struct{}

// authenticate marks requests as admin when no token is configured or the
// TOKEN header matches it. Other requests may only read.
func (s *Server) authenticate(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if s.token == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(TokenHeader)), []byte(s.token)) == 1 {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, true)))
			return
		}
		if r.Method != stdhttp.MethodGet && r.Method != stdhttp.MethodHead {
			slog.WarnContext(r.Context(), "rejected unauthenticated request", "method", r.Method, "path", r.URL.Path)
			stdhttp.Error(w, stdhttp.StatusText(stdhttp.StatusForbidden), stdhttp.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsAdmin reports whether the request carried a valid admin token.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey{}).(bool)
	return admin
}

func requireAdmin(next stdhttp.HandlerFunc) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if !IsAdmin(r.Context()) {
			stdhttp.Error(w, stdhttp.StatusText(stdhttp.StatusForbidden), stdhttp.StatusForbidden)
			return
		}
		next(w, r)
	})
}
