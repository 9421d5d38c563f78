package simulate

import (
	"math/rand"
	"sync"
	"time"

	"coldreach/models"
)

// Rates are the probabilistic outcome knobs, each a probability in [0,1].
type Rates struct {
	Delivery float64
	Open     float64
	Click    float64
	Reply    float64
	Bounce   float64
	Spam     float64
}

// DefaultRates mirror typical cold-outreach numbers.
func DefaultRates() Rates {
	return Rates{
		Delivery: 0.95,
		Open:     0.40,
		Click:    0.15,
		Reply:    0.05,
		Bounce:   0.03,
		Spam:     0.02,
	}
}

// Event is one simulated delivery outcome before it is persisted.
type Event struct {
	Type       models.EmailEventType
	OccurredAt time.Time
	Metadata   map[string]interface{}
}

// Result of simulating one send.
type Result struct {
	Events        []Event
	HasReply      bool
	ReplyCategory models.ThreadCategory
}

// Has reports whether an event of the given type was produced.
func (r Result) Has(t models.EmailEventType) bool {
	for _, e := range r.Events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// categoryWeight pairs a reply category with its draw weight. Order matters:
// the weighted walk breaks ties by declaration order.
type categoryWeight struct {
	category models.ThreadCategory
	weight   float64
}

var replyCategoryWeights = []categoryWeight{
	{models.CategoryInterested, 0.20},
	{models.CategoryNotInterested, 0.35},
	{models.CategoryOOO, 0.15},
	{models.CategoryNeutral, 0.25},
	{models.CategoryBounce, 0.03},
	{models.CategorySpam, 0.02},
}

var bounceReasons = []string{
	"Mailbox not found",
	"Domain does not exist",
	"Mailbox full",
	"Temporary delivery failure",
	"Blocked by recipient server",
	"Invalid email address",
}

// Simulator stands in for a real mail transport. It is safe for concurrent
// use; the mutex guards the shared rand source.
type Simulator struct {
	rates Rates

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator. A zero seed seeds from the clock; a fixed seed
// makes the event stream reproducible.
func New(rates Rates, seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rates: rates,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Send simulates one email send at time now and returns the resulting events
// in causal order: Sent always comes first, Delivered precedes Opened, Clicked
// follows its Opened, and Replied is timed independently.
func (s *Simulator) Send(now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Result{
		Events: []Event{{Type: models.EventSent, OccurredAt: now}},
	}

	// Bounces cut the send short, nothing else happens
	if s.chance(s.rates.Bounce) {
		result.Events = append(result.Events, Event{
			Type:       models.EventBounced,
			OccurredAt: now.Add(s.between(1*time.Second, 5*time.Second)),
			Metadata:   map[string]interface{}{"reason": bounceReasons[s.rng.Intn(len(bounceReasons))]},
		})
		return result
	}

	// Spam complaints likewise halt the outcome chain
	if s.chance(s.rates.Spam) {
		result.Events = append(result.Events, Event{
			Type:       models.EventSpam,
			OccurredAt: now.Add(s.between(60*time.Second, 300*time.Second)),
			Metadata:   map[string]interface{}{"reason": "Marked as spam by recipient"},
		})
		return result
	}

	// Silent failure: no bounce notice, just nothing after Sent
	if !s.chance(s.rates.Delivery) {
		return result
	}

	result.Events = append(result.Events, Event{
		Type:       models.EventDelivered,
		OccurredAt: now.Add(s.between(1*time.Second, 10*time.Second)),
	})

	if s.chance(s.rates.Open) {
		openedAt := now.Add(s.between(60*time.Second, 86400*time.Second))
		result.Events = append(result.Events, Event{
			Type:       models.EventOpened,
			OccurredAt: openedAt,
		})

		if s.chance(s.rates.Click) {
			result.Events = append(result.Events, Event{
				Type:       models.EventClicked,
				OccurredAt: openedAt.Add(s.between(5*time.Second, 60*time.Second)),
				Metadata:   map[string]interface{}{"link": "https://example.com/link"},
			})
		}
	}

	// Replies are rolled independently of opens: some people reply without
	// tracking ever seeing an open
	if s.chance(s.rates.Reply) {
		category := s.weightedCategory()
		result.HasReply = true
		result.ReplyCategory = category
		result.Events = append(result.Events, Event{
			Type:       models.EventReplied,
			OccurredAt: now.Add(s.between(300*time.Second, 172800*time.Second)),
			Metadata:   map[string]interface{}{"category": string(category)},
		})
	}

	return result
}

// Category draws a reply category using the configured weights. Exposed for
// the reply generator, which falls back to a fresh draw when an event carries
// no category.
func (s *Simulator) Category() models.ThreadCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weightedCategory()
}

// IntBetween returns a uniform integer in [min, max].
func (s *Simulator) IntBetween(min, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// DurationBetween returns a uniform duration in [min, max].
func (s *Simulator) DurationBetween(min, max time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.between(min, max)
}

func (s *Simulator) chance(probability float64) bool {
	return s.rng.Float64() < probability
}

func (s *Simulator) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min+1)))
}

// weightedCategory normalizes the weights, draws uniform(0,1) and walks the
// list subtracting weights until the cumulative sum covers the draw.
func (s *Simulator) weightedCategory() models.ThreadCategory {
	var total float64
	for _, cw := range replyCategoryWeights {
		total += cw.weight
	}

	draw := s.rng.Float64() * total
	for _, cw := range replyCategoryWeights {
		draw -= cw.weight
		if draw <= 0 {
			return cw.category
		}
	}
	return replyCategoryWeights[0].category
}
