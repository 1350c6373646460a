package common

import (
	"fmt"
	"net/http"
	"time"

	tollbooth "github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"

	"github.com/strandnet/strand/code/go/strand.net/core/logging"
)

func GetRateLimiter(rps float64, ipLookups []string, ignoreURL bool, tokExpireTTL time.Duration) *limiter.Limiter {
	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{
		DefaultExpirationTTL: tokExpireTTL,
	})

	if ipLookups != nil {
		lmt.SetIPLookups(ipLookups)
	}

	lmt.SetIgnoreURL(ignoreURL)
	return lmt
}

// RateLimit wraps a handler with a shared limiter. Requests are keyed by
// tollbooth's lookups plus the caller's application key when present.
func RateLimit(handler ReqRespHandlerf, lmt *limiter.Limiter) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		if lmt != nil {
			keys := tollbooth.BuildKeys(lmt, r)

			if appKey := r.Header.Get(ClientKeyHeader); appKey != "" {
				keys = append(keys, []string{appKey})
			}

			for _, k := range keys {
				httpError := tollbooth.LimitByKeys(lmt, k)
				if httpError != nil {
					logging.Logger.Error(fmt.Sprintf("Rate limit error: %s", httpError.Error()))
					lmt.ExecOnLimitReached(w, r)
					w.Header().Add("Content-Type", lmt.GetMessageContentType())
					w.WriteHeader(httpError.StatusCode)
					w.Write([]byte(httpError.Message)) // nolint
					return
				}
			}
		}
		handler(w, r)
	}
}
