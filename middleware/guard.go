package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/security"
	"github.com/malwarebo/paygate/services"
	"github.com/malwarebo/paygate/utils"
)

type rejection struct {
	Status       string     `json:"status"`
	Message      string     `json:"message"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

func writeRejection(w http.ResponseWriter, code int, message string) {
	writeRejectionUntil(w, code, message, nil)
}

func writeRejectionUntil(w http.ResponseWriter, code int, message string, until *time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rejection{Status: strconv.Itoa(code), Message: message, BlockedUntil: until})
}

// BurstLimitMiddleware sheds per-IP spikes in process, before any storage is touched.
func BurstLimitMiddleware(limiter *security.BurstLimiter, resolver *utils.IPResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.ClientIP(r)
			if !limiter.Allow(ip) {
				wait := limiter.RetryAfter(ip)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				utils.Warn(r.Context(), "Burst limit hit", map[string]interface{}{"ip": ip, "path": r.URL.Path})
				writeRejection(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Guard applies the IP blacklist and then the per-endpoint fixed window.
type Guard struct {
	security services.SecurityGuard
	resolver *utils.IPResolver
	limit    int
	window   time.Duration
	enabled  bool
}

func CreateGuard(guard services.SecurityGuard, resolver *utils.IPResolver, limit int, window time.Duration, rateLimitEnabled bool) *Guard {
	return &Guard{
		security: guard,
		resolver: resolver,
		limit:    limit,
		window:   window,
		enabled:  rateLimitEnabled,
	}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := g.resolver.ClientIP(r)

		if d := g.security.CheckIPBlacklist(ctx, ip); !d.Allowed {
			utils.Warn(ctx, "Request from blocked IP", map[string]interface{}{"ip": ip, "path": r.URL.Path})
			writeRejectionUntil(w, http.StatusForbidden, d.Reason, d.BlockedUntil)
			return
		}

		if g.enabled {
			d := g.security.CheckRateLimit(ctx, ip, models.IdentifierIP, r.URL.Path, g.limit, g.window)
			if !d.Allowed {
				if d.BlockedUntil != nil {
					retry := time.Until(*d.BlockedUntil)
					if retry > 0 {
						w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retry.Seconds()))))
					}
				}
				writeRejectionUntil(w, http.StatusTooManyRequests, d.Reason, d.BlockedUntil)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
