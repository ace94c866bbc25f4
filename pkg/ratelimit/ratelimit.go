package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// ClientHeader identifies the caller. Requests without it are keyed by
// remote IP.
const ClientHeader = "X-Client-ID"

const window = time.Minute

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter
type Limiter struct {
	store extratelimit.Limiter
}

// NewLimiter allows rpm requests per client per minute.
func NewLimiter(rdb *redis.Client, rpm int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(rpm)),
		extratelimit.WithWindow(window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(clientID string) string {
	return fmt.Sprintf("ratelimit:client:%s", clientID)
}

func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(clientID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(clientID))
}

// ClientID returns the X-Client-ID header or, failing that, the remote IP.
func ClientID(r *http.Request) string {
	if id := r.Header.Get(ClientHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Store errors let the
// request through so a Redis outage does not take the API down.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ClientID(r)
		allowed, err := l.Allow(r.Context(), clientID)
		if err != nil {
			slog.Warn("rate limit check failed", "component", "ratelimit", "client_id", clientID, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			retryAfter := strconv.Itoa(int(window.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter + "s",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
