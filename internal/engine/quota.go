package engine

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// QuotaEnforcer limits how fast each user may create requests.
//
// Each user has a token bucket refilled at perSecond tokens per second with
// the given burst. A submission that is answered by an existing request
// does not consume a token; only new request ids are charged.
//
// A zero perSecond disables the quota.
type QuotaEnforcer struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewQuotaEnforcer creates an enforcer with the given refill rate and burst.
func NewQuotaEnforcer(perSecond float64, burst int) *QuotaEnforcer {
	if burst < 1 {
		burst = 1
	}
	return &QuotaEnforcer{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Check consumes one token for user.
//
// Returns a QUOTA_EXCEEDED error if the user's bucket is empty.
func (q *QuotaEnforcer) Check(user string) error {
	if q == nil || q.perSecond <= 0 {
		return nil
	}
	if q.limiter(user).Allow() {
		return nil
	}
	return NewQuotaError(user, float64(q.perSecond), q.burst)
}

func (q *QuotaEnforcer) limiter(user string) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.limiters[user]
	if !ok {
		l = rate.NewLimiter(q.perSecond, q.burst)
		q.limiters[user] = l
	}
	return l
}

// Users returns the number of users with a bucket.
func (q *QuotaEnforcer) Users() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.limiters)
}

// IsQuotaError reports whether err is a quota error.
func IsQuotaError(err error) bool {
	return ir.IsCode(err, ir.CodeQuotaExceeded)
}
