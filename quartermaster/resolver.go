package quartermaster

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/harborline/procurer/requisition"
)

// Resolution errors surfaced to the executor.
var (
	// ErrNoQuartermaster means no quartermaster authorizes the
	// endpoint for the user.
	ErrNoQuartermaster = errors.New("no quartermaster authorizes this endpoint for the user")

	// ErrRateLimited means every authorized visa bucket is exhausted.
	ErrRateLimited = errors.New("visa rate limit exhausted")
)

// Resolver picks a quartermaster for (user, requisition) and meters
// visa buckets. Bucket state is shared across workers, so selection and
// token consumption happen under one mutex.
type Resolver struct {
	mu             sync.Mutex
	quartermasters []*Quartermaster
	limiters       map[string]*rate.Limiter
	calls          map[string]int
	logger         *slog.Logger
}

// NewResolver builds a resolver over the configured quartermasters.
// Quartermasters sharing a visa share its bucket.
func NewResolver(qms []*Quartermaster, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	limiters := make(map[string]*rate.Limiter)
	for _, q := range qms {
		v := q.Visa
		if v == nil {
			continue
		}
		if _, ok := limiters[v.ID]; ok {
			continue
		}
		interval := v.IntervalSeconds
		if interval <= 0 {
			interval = 1
		}
		limiters[v.ID] = rate.NewLimiter(rate.Limit(float64(v.CallsAllowed)/float64(interval)), v.CallsAllowed)
	}

	return &Resolver{
		quartermasters: qms,
		limiters:       limiters,
		calls:          make(map[string]int),
		logger:         logger,
	}
}

// Resolve selects the best quartermaster for the user and requisition
// and, when the requisition requires a visa, consumes one token from
// the chosen bucket. Preference order: private passports over public,
// then least recently used, then lowest id.
func (r *Resolver) Resolve(user string, req *requisition.Requisition) (*Quartermaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint := req.Key()

	var candidates []*Quartermaster
	for _, q := range r.quartermasters {
		if q.Authorizes(user, endpoint) {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoQuartermaster
	}

	if req.VisaRequired {
		var usable []*Quartermaster
		for _, q := range candidates {
			if q.Visa == nil {
				// unmetered credential
				usable = append(usable, q)
				continue
			}
			if r.limiters[q.Visa.ID].Tokens() >= 1 {
				usable = append(usable, q)
			}
		}
		if len(usable) == 0 {
			r.logger.Debug("All visa buckets exhausted", "endpoint", endpoint, "user", user)
			return nil, ErrRateLimited
		}
		candidates = usable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Passport.Public != b.Passport.Public {
			return !a.Passport.Public
		}
		if r.calls[a.ID] != r.calls[b.ID] {
			return r.calls[a.ID] < r.calls[b.ID]
		}
		return a.ID < b.ID
	})

	chosen := candidates[0]
	if req.VisaRequired && chosen.Visa != nil {
		if !r.limiters[chosen.Visa.ID].Allow() {
			return nil, ErrRateLimited
		}
	}
	r.calls[chosen.ID]++

	r.logger.Debug("Resolved quartermaster",
		"quartermaster", chosen.ID,
		"endpoint", endpoint,
		"user", user)
	return chosen, nil
}
