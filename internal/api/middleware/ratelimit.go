package middleware

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// callerBucket is one caller's token bucket.
type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateStore implements middleware.RateLimiterStore with one token bucket
// per identifier. Idle buckets are pruned lazily on access.
type CallerRateStore struct {
	mu          sync.Mutex
	buckets     map[string]*callerBucket
	rate        rate.Limit
	burst       int
	expiresIn   time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewCallerRateStore allows perMinute requests per identifier with the given burst.
func NewCallerRateStore(perMinute, burst int) *CallerRateStore {
	if burst < 1 {
		burst = 1
	}
	return &CallerRateStore{
		buckets:   make(map[string]*callerBucket),
		rate:      rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		expiresIn: 10 * time.Minute,
		now:       time.Now,
	}
}

// Allow implements middleware.RateLimiterStore.
func (s *CallerRateStore) Allow(identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[identifier]
	if !ok {
		b = &callerBucket{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.buckets[identifier] = b
	}
	b.lastSeen = now

	if now.Sub(s.lastCleanup) > s.expiresIn {
		for id, v := range s.buckets {
			if now.Sub(v.lastSeen) > s.expiresIn {
				delete(s.buckets, id)
			}
		}
		s.lastCleanup = now
	}

	return b.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked identifiers.
func (s *CallerRateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// NewRateLimiter wraps store in echo's rate limiter middleware. identify picks
// the bucket key; deny renders the rejection.
func NewRateLimiter(store middleware.RateLimiterStore, identify middleware.Extractor, deny func(c echo.Context, identifier string, err error) error) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: identify,
		ErrorHandler: func(c echo.Context, err error) error {
			return deny(c, "", err)
		},
		DenyHandler: deny,
	})
}
