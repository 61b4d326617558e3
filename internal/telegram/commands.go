package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"pulsesettings/internal/cache"
	"pulsesettings/internal/settings"
)

var errUnknownField = errors.New("unknown settings field")

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Commands:",
		"/settings - open the settings panel",
		"/set <field> <value> - save a value while the panel is open",
		"",
		"Fields: api_key, temp, model, max_tokens",
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) set(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	field, value := splitFirstWord(commandRemainder(msg.GetText()))
	if field == "" || value == "" {
		return s.reply(ctx, b, "Usage: /set <api_key|temp|model|max_tokens> <value>")
	}

	uid := userID(ctx)
	draft, err := s.drafts.Get(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load settings draft")
		return s.reply(ctx, b, "Settings are unavailable right now.")
	}
	if draft == nil {
		return s.reply(ctx, b, "Open the panel with /settings first.")
	}
	if err := applyField(draft, field, value); err != nil {
		return s.reply(ctx, b, fmt.Sprintf("Unknown field %q. Use api_key, temp, model or max_tokens.", field))
	}

	quota, ok := s.allowWrite(b, ctx, uid)
	if !ok {
		return nil
	}
	if err := s.settings.Update(context.Background(), *draft); err != nil {
		return s.reply(ctx, b, "Failed to save settings.")
	}
	if err := s.drafts.Set(context.Background(), uid, *draft); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to store settings draft")
	}
	saved := "Saved."
	if quota != nil {
		saved = fmt.Sprintf("Saved. %d changes left this hour.", quota.Remaining)
	}
	return s.replyWithMarkup(ctx, b, saved+"\n\n"+panelText(*draft, s.settings.Snapshot()), panelKeyboard())
}

// allowWrite charges one write to uid and replies when the hourly quota is
// used up. The quota is nil when no limiter is configured.
func (s *Service) allowWrite(b *gotgbot.Bot, ctx *ext.Context, uid int64) (*cache.WriteQuota, bool) {
	if s.rateLimiter == nil {
		return nil, true
	}
	quota, err := s.rateLimiter.Allow(context.Background(), uid, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		_ = s.reply(ctx, b, "Settings are unavailable right now.")
		return nil, false
	}
	if !quota.Allowed {
		s.logger.Warn().Int64("user_id", uid).Int64("used", quota.Used).Msg("settings write rate limited")
		_ = s.reply(ctx, b, fmt.Sprintf("Too many changes. Try again after %s UTC.", quota.ResetAt.Format("15:04")))
		return nil, false
	}
	return &quota, true
}

// applyField sets one form field by its snake_case name.
func applyField(form *settings.Form, field, value string) error {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "api_key", "apikey", "key":
		form.APIKey = value
	case "temp", "temperature":
		form.Temp = value
	case "model":
		form.Model = value
	case "max_tokens", "maxtokens":
		form.MaxTokens = value
	default:
		return errUnknownField
	}
	return nil
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
