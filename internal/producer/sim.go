// Package producer contains the update sources feeding the hub: a
// self-contained market simulation for demo and dry-run operation, and a
// REST price feed that refreshes open-position prices from an external
// endpoint. Both talk to the core exclusively through Publish.
package producer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"neongrid/internal/feed"
)

// Publisher is the producer-side boundary of the feed core; satisfied by
// *feed.Hub.
type Publisher interface {
	Publish(feed.Update) error
}

const maxSimPositions = 6

type simPosition struct {
	entry   float64
	current float64
	size    float64
}

// Simulator drives the hub with randomized but plausible trading activity:
// price drift on open positions, occasional opens and closes, profit and
// win-rate updates, activity events and an uptime tick.
type Simulator struct {
	pub      Publisher
	interval time.Duration
	rng      *rand.Rand
	start    time.Time

	positions map[string]simPosition
	profit    float64
	wins      int
	trades    int
}

// NewSimulator creates a simulator publishing to pub every interval. The
// seed makes runs reproducible in tests.
func NewSimulator(pub Publisher, interval time.Duration, seed int64) *Simulator {
	return &Simulator{
		pub:       pub,
		interval:  interval,
		rng:       rand.New(rand.NewSource(seed)),
		start:     time.Now(),
		positions: make(map[string]simPosition),
	}
}

// Run ticks the simulation until the context is canceled.
func (s *Simulator) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("starting producer simulation")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("producer simulation stopped")
			return
		case <-ticker.C:
			s.step()
		}
	}
}

// step advances the simulation by one tick.
func (s *Simulator) step() {
	s.publish(feed.MetricUpdate{
		Name:  feed.MetricUptimeSeconds,
		Value: math.Trunc(time.Since(s.start).Seconds()),
	})

	s.driftPrices()

	if len(s.positions) < maxSimPositions && s.rng.Float64() < 0.3 {
		s.openPosition()
	}
	if len(s.positions) > 0 && s.rng.Float64() < 0.2 {
		s.closeRandomPosition()
	}
	if s.rng.Float64() < 0.1 {
		s.publish(feed.ActivityAppend{
			Icon:   "⚡",
			Title:  "VIP signal detected",
			Detail: fmt.Sprintf("confidence %d%%", 50+s.rng.Intn(50)),
		})
	}
}

// openTokens returns the open tokens in a stable order. Map iteration order
// would otherwise desync the rng stream between identically seeded runs.
func (s *Simulator) openTokens() []string {
	tokens := make([]string, 0, len(s.positions))
	for token := range s.positions {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

func (s *Simulator) driftPrices() {
	for _, token := range s.openTokens() {
		pos := s.positions[token]
		drift := 1 + (s.rng.Float64()-0.48)*0.04
		pos.current *= drift
		if pos.current < 0.0001 {
			pos.current = 0.0001
		}
		s.positions[token] = pos
		s.publish(feed.PositionUpsert{
			TokenID: token,
			Entry:   pos.entry,
			Current: pos.current,
			Size:    pos.size,
			Source:  "sim",
		})
	}
}

func (s *Simulator) openPosition() {
	token := s.randomToken()
	pos := simPosition{
		entry: 0.5 + s.rng.Float64()*4.5,
		size:  0.05 + s.rng.Float64()*0.45,
	}
	pos.current = pos.entry
	s.positions[token] = pos

	s.publish(feed.PositionUpsert{
		TokenID: token,
		Entry:   pos.entry,
		Current: pos.current,
		Size:    pos.size,
		Source:  "sim",
	})
	s.publish(feed.ActivityAppend{
		Icon:   "🚀",
		Title:  "Position opened",
		Detail: fmt.Sprintf("%s @ %.4f, size %.3f SOL", token, pos.entry, pos.size),
	})
}

func (s *Simulator) closeRandomPosition() {
	tokens := s.openTokens()
	token := tokens[s.rng.Intn(len(tokens))]
	pos := s.positions[token]
	delete(s.positions, token)

	gain := (pos.current - pos.entry) * pos.size / pos.entry
	s.profit += gain
	s.trades++
	if gain > 0 {
		s.wins++
	}

	s.publish(feed.PositionClose{TokenID: token})
	s.publish(feed.MetricUpdate{Name: feed.MetricTotalProfit, Value: s.profit})
	s.publish(feed.MetricUpdate{
		Name:  feed.MetricWinRate,
		Value: math.Trunc(float64(s.wins) * 100 / float64(s.trades)),
	})

	icon, verb := "💰", "profit"
	if gain <= 0 {
		icon, verb = "📉", "loss"
	}
	s.publish(feed.ActivityAppend{
		Icon:   icon,
		Title:  "Position closed",
		Detail: fmt.Sprintf("%s closed with %s %.4f SOL", token, verb, math.Abs(gain)),
	})
}

const tokenAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func (s *Simulator) randomToken() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = tokenAlphabet[s.rng.Intn(len(tokenAlphabet))]
	}
	return string(b)
}

func (s *Simulator) publish(u feed.Update) {
	if err := s.pub.Publish(u); err != nil {
		log.Warn().Err(err).Msg("simulation publish rejected")
	}
}
