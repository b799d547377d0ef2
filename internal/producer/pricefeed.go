package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"neongrid/internal/feed"
)

// PriceFeed refreshes the current price of every open position from an
// external REST endpoint and publishes the result back into the hub.
type PriceFeed struct {
	hub      *feed.Hub
	client   *resty.Client
	url      string
	interval time.Duration
}

type priceResponse struct {
	Price float64 `json:"price"`
}

// NewPriceFeed creates a poller against url, one request per open position
// per interval.
func NewPriceFeed(hub *feed.Hub, url string, interval, timeout time.Duration) *PriceFeed {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &PriceFeed{
		hub:      hub,
		client:   client,
		url:      url,
		interval: interval,
	}
}

// Run polls until the context is canceled.
func (p *PriceFeed) Run(ctx context.Context) {
	log.Info().Str("url", p.url).Dur("interval", p.interval).Msg("starting price feed")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("price feed stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches a fresh price for each open position. Failures for one
// token do not stop the rest of the sweep.
func (p *PriceFeed) pollOnce(ctx context.Context) {
	snap := p.hub.Store().Snapshot()
	for _, pos := range snap.Positions {
		price, err := p.fetchPrice(ctx, pos.TokenID)
		if err != nil {
			log.Warn().Err(err).Str("token", pos.TokenID).Msg("price fetch failed")
			continue
		}
		// The position may have closed while the fetch was in flight; a
		// late upsert would reopen it.
		if !p.stillOpen(pos.TokenID) {
			log.Debug().Str("token", pos.TokenID).Msg("position closed mid-sweep, price discarded")
			continue
		}
		err = p.hub.Publish(feed.PositionUpsert{
			TokenID: pos.TokenID,
			Entry:   pos.Entry,
			Current: price,
			Size:    pos.Size,
			Source:  pos.Source,
		})
		if err != nil {
			log.Warn().Err(err).Str("token", pos.TokenID).Msg("price update rejected")
		}
	}
}

func (p *PriceFeed) stillOpen(tokenID string) bool {
	for _, pos := range p.hub.Store().Snapshot().Positions {
		if pos.TokenID == tokenID {
			return true
		}
	}
	return false
}

func (p *PriceFeed) fetchPrice(ctx context.Context, tokenID string) (float64, error) {
	var pr priceResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("token", tokenID).
		SetResult(&pr).
		Get(p.url)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("price endpoint returned %s", resp.Status())
	}
	if pr.Price <= 0 {
		return 0, fmt.Errorf("price endpoint returned non-positive price %v", pr.Price)
	}
	return pr.Price, nil
}
