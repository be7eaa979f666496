package notify

import (
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
)

// SpamDecision is the outcome of a donation spam check. When ShouldShow is false
// the individual notification is dropped; the detector may later surface the
// accumulated gifts as a single aggregated donation.
type SpamDecision struct {
	ShouldShow bool
}

// DonationSpamDetector decides whether an individual gift/envelope notification
// should be displayed or folded into an aggregate
type DonationSpamDetector interface {
	HandleDonationSpam(platform event.Platform, gift *event.Gift) SpamDecision
}

// AggregatedDonation is the synthetic event produced when a burst of gifts from one
// user is collapsed
type AggregatedDonation struct {
	UserID     string
	Username   string
	Platform   event.Platform
	GiftTypes  []string
	TotalGifts int
	TotalCoins float64
	Message    string
}

// FlushFunc receives a completed aggregate once a gift burst goes quiet
type FlushFunc func(agg AggregatedDonation)

// burstThreshold is the number of gifts within the coalescing window after which
// individual notifications are hidden
const burstThreshold = 3

type giftBurst struct {
	platform  event.Platform
	username  string
	giftTypes []string
	seen      map[string]bool
	count     int
	coins     float64
	lastAt    time.Time
	hidden    int
}

// CoalescingDetector is the default donation spam detector: rapid repeat gifts from
// one user within the coalescing window are hidden after a threshold, then flushed
// as one aggregated donation once the burst goes quiet.
type CoalescingDetector struct {
	mu     sync.Mutex
	window time.Duration
	bursts map[string]*giftBurst
	flush  FlushFunc
	now    func() time.Time
}

func NewCoalescingDetector(window time.Duration, flush FlushFunc) *CoalescingDetector {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &CoalescingDetector{
		window: window,
		bursts: make(map[string]*giftBurst),
		flush:  flush,
		now:    time.Now,
	}
}

func (d *CoalescingDetector) HandleDonationSpam(platform event.Platform, gift *event.Gift) SpamDecision {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	burst, ok := d.bursts[gift.UserID]
	if ok && now.Sub(burst.lastAt) > d.window {
		d.flushLocked(gift.UserID, burst)
		ok = false
	}
	if !ok {
		burst = &giftBurst{
			platform: platform,
			username: gift.Username,
			seen:     make(map[string]bool),
		}
		d.bursts[gift.UserID] = burst
	}

	burst.count += gift.GiftCount
	burst.coins += gift.Amount
	burst.lastAt = now
	if !burst.seen[gift.GiftType] {
		burst.seen[gift.GiftType] = true
		burst.giftTypes = append(burst.giftTypes, gift.GiftType)
	}

	if burst.count > burstThreshold {
		burst.hidden++
		return SpamDecision{ShouldShow: false}
	}
	return SpamDecision{ShouldShow: true}
}

// Sweep flushes bursts that have gone quiet. The Manager calls it from its cleanup
// loop.
func (d *CoalescingDetector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for userID, burst := range d.bursts {
		if now.Sub(burst.lastAt) > d.window {
			d.flushLocked(userID, burst)
		}
	}
}

func (d *CoalescingDetector) flushLocked(userID string, burst *giftBurst) {
	delete(d.bursts, userID)
	if burst.hidden == 0 || d.flush == nil {
		return
	}
	d.flush(AggregatedDonation{
		UserID:     userID,
		Username:   burst.username,
		Platform:   burst.platform,
		GiftTypes:  burst.giftTypes,
		TotalGifts: burst.count,
		TotalCoins: burst.coins,
	})
}
