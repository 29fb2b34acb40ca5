package service

import (
	"strings"

	chatdomain "github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
)

// Drop reasons, also used as log values.
const (
	reasonFromSelf    = "from_self"
	reasonNoSender    = "no_sender"
	reasonEmptyText   = "empty_text"
	reasonUnsupported = "unsupported_kind"
)

// Routable returns the messages of ev worth normalizing. Events other than
// notify, empty batches and the bot's own messages yield nothing.
func Routable(ev *chatdomain.InboundEvent) []chatdomain.InboundMessage {
	if ev == nil || ev.Type != chatdomain.EventNotify || len(ev.Messages) == 0 {
		return nil
	}
	out := make([]chatdomain.InboundMessage, 0, len(ev.Messages))
	for _, m := range ev.Messages {
		if m.FromSelf || m.RemoteID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Normalize decides what the router does with one message. acceptsPayments
// turns an uncaptioned image into a payment receipt instead of a generic
// media reply.
func Normalize(msg chatdomain.InboundMessage, acceptsPayments bool) chatdomain.Normalized {
	if msg.FromSelf {
		return drop(reasonFromSelf)
	}
	if msg.RemoteID == "" {
		return drop(reasonNoSender)
	}

	switch msg.Kind {
	case chatdomain.KindSticker:
		return chatdomain.Normalized{Action: chatdomain.ActionReply, Reply: textSticker, Reason: "sticker"}
	case chatdomain.KindAudio:
		return chatdomain.Normalized{Action: chatdomain.ActionReply, Reply: textAudio, Reason: "audio"}
	}

	text := CollapseSpaces(firstNonEmpty(msg.Text, msg.ExtendedText, msg.ImageCaption, msg.VideoCaption))

	switch msg.Kind {
	case chatdomain.KindImage:
		if text != "" {
			break
		}
		if acceptsPayments {
			return chatdomain.Normalized{Action: chatdomain.ActionPaymentImage, Reason: "payment_image"}
		}
		return chatdomain.Normalized{Action: chatdomain.ActionReply, Reply: textImageReceived, Reason: "image"}
	case chatdomain.KindVideo:
		if text != "" {
			break
		}
		return chatdomain.Normalized{Action: chatdomain.ActionReply, Reply: textVideoReceived, Reason: "video"}
	case chatdomain.KindText, chatdomain.KindDocument:
	default:
		return drop(reasonUnsupported)
	}

	if text == "" {
		return drop(reasonEmptyText)
	}
	return chatdomain.Normalized{Action: chatdomain.ActionRoute, Text: text}
}

// CollapseSpaces trims s and squeezes every whitespace run into one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func drop(reason string) chatdomain.Normalized {
	return chatdomain.Normalized{Action: chatdomain.ActionDrop, Reason: reason}
}
