package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

const maxMediaBytes = 16 << 20

// messageAPI is the slice of the Twilio REST API the transport uses.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	FetchAccount(sid string) (*twilioApi.ApiV2010Account, error)
}

// TwilioOptions configures NewTwilio.
type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	// From is the bot's WhatsApp number, with or without "whatsapp:".
	From       string
	Timeout    time.Duration
	Resilience resilience.Config
}

// Twilio sends WhatsApp messages through Twilio's Messages API. Twilio
// has no quoted replies, so replyTo is ignored.
type Twilio struct {
	api     messageAPI
	media   *resty.Client
	sid     string
	from    string
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

var _ port.Transport = (*Twilio)(nil)

// NewTwilio creates the Twilio transport.
func NewTwilio(opts TwilioOptions, metrics *observability.Metrics, logger *zap.Logger) (*Twilio, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" || opts.From == "" {
		return nil, fmt.Errorf("twilio: account sid, auth token and from number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return newTwilio(client.Api, opts, metrics, logger), nil
}

func newTwilio(api messageAPI, opts TwilioOptions, metrics *observability.Metrics, logger *zap.Logger) *Twilio {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Twilio{
		api: api,
		media: resty.New().
			SetBasicAuth(opts.AccountSID, opts.AuthToken).
			SetTimeout(opts.Timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
		sid:     opts.AccountSID,
		from:    "whatsapp:" + PhoneNumber(opts.From),
		cb:      resilience.NewCircuitBreaker("twilio", logger),
		cfg:     opts.Resilience,
		metrics: metrics,
		logger:  logger,
	}
}

func (t *Twilio) SendText(ctx context.Context, to, text, _ string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(text)
	return t.send(ctx, "text", to, params)
}

func (t *Twilio) SendImage(ctx context.Context, to, url, _ string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{url})
	return t.send(ctx, "image", to, params)
}

// SendDocument attaches url. Twilio names the file from the URL, so
// filename only shows up in the caption when there is none.
func (t *Twilio) SendDocument(ctx context.Context, to, url, filename, caption, _ string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{url})
	if caption == "" {
		caption = filename
	}
	if caption != "" {
		params.SetBody(caption)
	}
	return t.send(ctx, "document", to, params)
}

func (t *Twilio) send(ctx context.Context, kind, to string, params *twilioApi.CreateMessageParams) error {
	params.SetFrom(t.from)
	params.SetTo("whatsapp:" + PhoneNumber(to))

	msg, err := resilience.Call(ctx, t.cb, t.cfg, "twilio/send", func(context.Context) (*twilioApi.ApiV2010Message, error) {
		return t.api.CreateMessage(params)
	})
	t.metrics.IncrOutbound(kind, err == nil)
	if err != nil {
		t.metrics.IncrExternalError("twilio")
		t.logger.Warn("twilio: send failed",
			observability.Sender(to),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	if msg != nil && msg.Sid != nil {
		t.logger.Debug("twilio: message queued", observability.Sender(to), zap.String("sid", *msg.Sid))
	}
	return nil
}

// DownloadMedia fetches an inbound attachment. Twilio media URLs need the
// account credentials and redirect to a signed location.
func (t *Twilio) DownloadMedia(ctx context.Context, ref string) ([]byte, error) {
	return resilience.Call(ctx, t.cb, t.cfg, "twilio/media", func(ctx context.Context) ([]byte, error) {
		resp, err := t.media.R().SetContext(ctx).Get(ref)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, resilience.Permanent(&domain.ErrNotFound{Resource: "media", ID: ref})
		}
		if resp.IsError() {
			return nil, fmt.Errorf("media download returned %d", resp.StatusCode())
		}
		body := resp.Body()
		if len(body) > maxMediaBytes {
			return nil, resilience.Permanent(fmt.Errorf("media too large: %d bytes", len(body)))
		}
		return body, nil
	})
}

// Status asks Twilio for the account state. Only "active" counts as
// connected.
func (t *Twilio) Status(ctx context.Context) domain.TransportStatus {
	st := domain.TransportStatus{Transport: "twilio", Address: t.from}
	acct, err := resilience.Call(ctx, t.cb, t.cfg, "twilio/account", func(context.Context) (*twilioApi.ApiV2010Account, error) {
		return t.api.FetchAccount(t.sid)
	})
	if err != nil {
		t.logger.Warn("twilio: account check failed", zap.Error(err))
		return st
	}
	if acct != nil && acct.Status != nil {
		st.Account = *acct.Status
		st.Connected = *acct.Status == "active"
	}
	return st
}
