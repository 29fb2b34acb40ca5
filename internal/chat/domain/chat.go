// Package domain holds the transport-neutral shapes of inbound WhatsApp
// traffic and the result of normalizing them before routing.
//
// A transport adapter (Twilio webhook, a bridge posting JSON, the console)
// converts whatever it receives into an InboundEvent. The chat service never
// sees transport-specific payloads.
package domain

// EventNotify is the only event type the router acts on.
const EventNotify = "notify"

// ============================================================
// Inbound events
// ============================================================

// MessageKind classifies the content variant of an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindSticker  MessageKind = "sticker"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindUnknown  MessageKind = "unknown"
)

// InboundEvent is one notification from the transport. It may batch
// several messages.
type InboundEvent struct {
	Type     string           `json:"type"`
	Messages []InboundMessage `json:"messages"`
}

// InboundMessage is a single message inside an event. Only one of the
// content fields is normally set, matching Kind.
type InboundMessage struct {
	ID       string      `json:"id"`
	FromSelf bool        `json:"fromSelf"`
	RemoteID string      `json:"remoteId"`
	PushName string      `json:"pushName,omitempty"`
	Kind     MessageKind `json:"kind"`

	Text         string `json:"text,omitempty"`
	ExtendedText string `json:"extendedText,omitempty"`
	ImageCaption string `json:"imageCaption,omitempty"`
	VideoCaption string `json:"videoCaption,omitempty"`

	// MediaRef points at the attachment (URL or transport media id).
	MediaRef  string `json:"mediaRef,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// ============================================================
// Normalization result
// ============================================================

// Action is what the router must do with a normalized message.
type Action int

const (
	// ActionDrop ignores the message without replying.
	ActionDrop Action = iota
	// ActionReply sends Reply and stops.
	ActionReply
	// ActionRoute hands Text to the state machine.
	ActionRoute
	// ActionPaymentImage treats the attachment as a payment receipt.
	ActionPaymentImage
)

func (a Action) String() string {
	switch a {
	case ActionReply:
		return "reply"
	case ActionRoute:
		return "route"
	case ActionPaymentImage:
		return "payment_image"
	default:
		return "drop"
	}
}

// Normalized is the outcome of normalizing one inbound message.
type Normalized struct {
	Action Action
	Text   string
	Reply  string
	Reason string
}
