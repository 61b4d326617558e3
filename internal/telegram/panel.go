package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"pulsesettings/internal/settings"
)

const (
	cbPrefix = "ps:"

	cbRefresh = cbPrefix + "refresh"
	cbClose   = cbPrefix + "close"
)

func (s *Service) openPanel(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	s.settings.Show()

	draft := s.settings.Snapshot().Form()
	if err := s.drafts.Set(context.Background(), uid, draft); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to store settings draft")
		return s.reply(ctx, b, "Settings are unavailable right now.")
	}
	return s.replyWithMarkup(ctx, b, panelText(draft, s.settings.Snapshot()), panelKeyboard())
}

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}
	uid := userID(ctx)

	switch strings.TrimSpace(ctx.CallbackQuery.Data) {
	case cbRefresh:
		s.answerCallback(b, ctx, "", false)
		draft, err := s.drafts.Get(context.Background(), uid)
		if err != nil || draft == nil {
			return s.editOrReplyCallback(ctx, b, "Panel expired. Open it again with /settings.", nil)
		}
		return s.editOrReplyCallback(ctx, b, panelText(*draft, s.settings.Snapshot()), panelKeyboard())

	case cbClose:
		s.answerCallback(b, ctx, "", false)
		if err := s.drafts.Clear(context.Background(), uid); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to clear settings draft")
		}
		s.settings.Hide()
		return s.editOrReplyCallback(ctx, b, "Settings closed. Saved values are being reloaded.", nil)

	default:
		s.answerCallback(b, ctx, fmt.Sprintf("Unknown action: %s", ctx.CallbackQuery.Data), true)
		return nil
	}
}

func panelText(draft settings.Form, st settings.State) string {
	return strings.Join([]string{
		"Settings",
		"",
		fmt.Sprintf("api_key: %s", maskAPIKey(draft.APIKey)),
		fmt.Sprintf("temp: %s", orUnset(draft.Temp)),
		fmt.Sprintf("model: %s", orUnset(draft.Model)),
		fmt.Sprintf("max_tokens: %s", orUnset(draft.MaxTokens)),
		"",
		"Change a value with /set <field> <value>.",
		"Saved values take effect when the panel is closed.",
		fmt.Sprintf("reloads: %d", st.ReloadCount),
	}, "\n")
}

func panelKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Refresh", CallbackData: cbRefresh},
			{Text: "Close", CallbackData: cbClose},
		},
	}}
}

func maskAPIKey(key string) string {
	if key == "" {
		return "<not set>"
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func orUnset(v string) string {
	if strings.TrimSpace(v) == "" {
		return "<not set>"
	}
	return v
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}
