package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"kbar-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// cardMarkup converts OrderCardContent.Buttons to Telegram inline keyboard (URL vs callback).
func cardMarkup(c services.OrderCardContent) *tgbotapi.InlineKeyboardMarkup {
	if len(c.Buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(c.Buttons))
	for _, row := range c.Buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
			}
		}
		rows = append(rows, btns)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not modified")
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

// UpsertOrderCard edits the order's card of the given kind if a pointer exists, otherwise sends a new one
// and saves the pointer. A deleted message is replaced by a fresh one.
func (b *Bot) UpsertOrderCard(ctx context.Context, kind, orderID string, chatID int64, content services.OrderCardContent) {
	ptrChatID, messageID, ok, err := b.d.Cards.Get(ctx, orderID, kind)
	if err != nil {
		log.Printf("UpsertOrderCard get pointer order_id=%s kind=%s: %v", orderID, kind, err)
		return
	}
	if ok {
		if err := b.limiter.Wait(ctx, ptrChatID); err != nil {
			return
		}
		err = b.edit(ptrChatID, messageID, content)
		switch {
		case err == nil, isNotModified(err):
			return
		case isNotFound(err):
			chatID = ptrChatID
		default:
			log.Printf("UpsertOrderCard edit order_id=%s kind=%s: %v", orderID, kind, err)
			return
		}
	}
	msg := tgbotapi.NewMessage(chatID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		log.Printf("UpsertOrderCard send order_id=%s kind=%s: %v", orderID, kind, err)
		return
	}
	if err := b.d.Cards.Upsert(ctx, orderID, kind, chatID, sent.MessageID); err != nil {
		log.Printf("UpsertOrderCard save pointer order_id=%s kind=%s: %v", orderID, kind, err)
	}
}

func (b *Bot) edit(chatID int64, messageID int, content services.OrderCardContent) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		edit.ReplyMarkup = kb
	} else {
		emptyKb := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
		edit.ReplyMarkup = &emptyKb
	}
	_, err := b.api.Send(edit)
	return err
}

// showScreen edits editMsgID in place, or sends a new message when it is 0 or gone.
func (b *Bot) showScreen(chatID int64, editMsgID int, content services.OrderCardContent) {
	if editMsgID != 0 {
		err := b.edit(chatID, editMsgID, content)
		if err == nil || isNotModified(err) {
			return
		}
		if !isNotFound(err) {
			log.Printf("showScreen edit chat=%d: %v", chatID, err)
			return
		}
	}
	msg := tgbotapi.NewMessage(chatID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("showScreen send chat=%d: %v", chatID, err)
	}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("send chat=%d: %v", chatID, err)
	}
}

func (b *Bot) now() time.Time { return b.d.Machine.Now() }

// userMessage maps service errors to what the customer sees.
func userMessage(err error) string {
	var outstanding *services.OutstandingOrderError
	switch {
	case errors.As(err, &outstanding):
		return outstanding.Error()
	case errors.Is(err, services.ErrStorage):
		return "⚠️ Could not save your changes. Please try again."
	case errors.Is(err, services.ErrInvalidTransition):
		return "This order can no longer be changed."
	case errors.Is(err, services.ErrOrderNotFound):
		return "Order not found."
	case errors.Is(err, services.ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, services.ErrEmptyDraft):
		return "Add something to your quick order first."
	case errors.Is(err, services.ErrInvalidQuantity):
		return "Quantity must be at least 1."
	case errors.Is(err, services.ErrUnknownItem):
		return "This item is no longer on the menu."
	case errors.Is(err, services.ErrNotAuthorized):
		return "Staff only. Use /login <password>."
	default:
		return "Something went wrong. Please try again."
	}
}

// reportError tells the user what failed. An outstanding order comes with a shortcut to pay or cancel it.
func (b *Bot) reportError(chatID int64, err error) {
	var outstanding *services.OutstandingOrderError
	if !errors.As(err, &outstanding) {
		if !errors.Is(err, services.ErrInvalidTransition) && !errors.Is(err, services.ErrEmptyCart) && !errors.Is(err, services.ErrEmptyDraft) {
			log.Printf("chat=%d: %v", chatID, err)
		}
		b.send(chatID, userMessage(err))
		return
	}
	o := outstanding.Order
	b.showScreen(chatID, 0, services.OrderCardContent{
		Text: userMessage(err),
		Buttons: [][]services.OrderCardButton{{
			{Text: "💳 Pay now", CallbackData: services.ActionView + ":" + o.ID},
			{Text: "✖ Cancel", CallbackData: services.ActionCancel + ":" + o.ID},
		}},
	})
}
