package telegram

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"pulsesettings/internal/cache"
	"pulsesettings/internal/metrics"
)

// Processor drops updates from anyone but the admin and updates that were
// already handled, then hands the rest to the dispatcher.
type Processor struct {
	Base          ext.BaseProcessor
	Dedupe        *cache.UpdateDeduplicator
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	AllowedUserID int64
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if !p.allowed(ctx) {
		p.Logger.Debug().Int64("update_id", ctx.UpdateId).Msg("ignoring update from unknown user")
		return nil
	}
	if p.Dedupe != nil {
		first, err := p.Dedupe.MarkFirst(context.Background(), ctx.UpdateId)
		switch {
		case err != nil:
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		case !first:
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}

func (p Processor) allowed(ctx *ext.Context) bool {
	if p.AllowedUserID == 0 {
		return true
	}
	return ctx.EffectiveUser != nil && ctx.EffectiveUser.Id == p.AllowedUserID
}
