package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DialRequest is one outbound call.
type DialRequest struct {
	To string
	// VoiceURL answers with the TwiML that connects the media stream.
	VoiceURL  string
	StatusURL string
}

// Dialer places and controls outbound calls.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (sid string, err error)
	Status(ctx context.Context, sid string) (string, error)
	Hangup(ctx context.Context, sid string) error
}

// callAPI is the part of the Twilio REST API the dialer uses.
type callAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	FetchCall(sid string, params *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

type TwilioDialer struct {
	api  callAPI
	from string
	log  *slog.Logger
}

func NewTwilioDialer(accountSID, authToken, from string, logger *slog.Logger) *TwilioDialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioDialer(client.Api, from, logger)
}

func newTwilioDialer(api callAPI, from string, logger *slog.Logger) *TwilioDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioDialer{api: api, from: from, log: logger.With("component", "dialer")}
}

// The Twilio client has no context support; ctx is unused.
func (d *TwilioDialer) Dial(_ context.Context, req DialRequest) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(d.from)
	params.SetUrl(req.VoiceURL)
	params.SetMethod("POST")
	if req.StatusURL != "" {
		params.SetStatusCallback(req.StatusURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	call, err := d.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if call.Sid == nil {
		return "", fmt.Errorf("failed to create call: response has no sid")
	}
	d.log.Info("call placed", "call_sid", *call.Sid, "to", req.To)
	return *call.Sid, nil
}

func (d *TwilioDialer) Status(_ context.Context, sid string) (string, error) {
	call, err := d.api.FetchCall(sid, &twilioApi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("failed to fetch call %s: %w", sid, err)
	}
	if call.Status == nil {
		return "", nil
	}
	return *call.Status, nil
}

// Hangup ends an in-progress call.
func (d *TwilioDialer) Hangup(_ context.Context, sid string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := d.api.UpdateCall(sid, params); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", sid, err)
	}
	return nil
}

// CallbackURLs builds the webhook URLs Twilio is given for one call.
func CallbackURLs(baseURL, scenarioID, callID string) (voice, status string) {
	base := strings.TrimRight(baseURL, "/")
	q := url.Values{}
	q.Set("scenario", scenarioID)
	q.Set("call_id", callID)
	return base + "/twilio/voice?" + q.Encode(), base + "/twilio/status"
}
