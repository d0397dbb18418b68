package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"circles-backend/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

const (
	expoBatchSize = 100

	ProviderExpo = "expo"
	ProviderAPNs = "apns"
)

// PushMessage is a notification sent to one or more devices
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]any
}

// Notifier delivers push notifications to device tokens
type Notifier interface {
	Send(ctx context.Context, tokens []string, msg PushMessage) error
}

// IsExpoToken reports whether a token was issued by the Expo push service
func IsExpoToken(t string) bool {
	return strings.HasPrefix(t, "ExponentPushToken[") || strings.HasPrefix(t, "ExpoPushToken[")
}

// ExpoClient sends notifications through the Expo push relay
type ExpoClient struct {
	url         string
	accessToken string
	httpClient  *http.Client
	recorder    Recorder
}

// NewExpoClient creates an Expo push client
func NewExpoClient(url, accessToken string, recorder Recorder) *ExpoClient {
	return &ExpoClient{
		url:         url,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		recorder:    recorderOrNop(recorder),
	}
}

type expoMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts the message to every token, in batches the relay accepts
func (c *ExpoClient) Send(ctx context.Context, tokens []string, msg PushMessage) error {
	var errs []error
	for start := 0; start < len(tokens); start += expoBatchSize {
		end := min(start+expoBatchSize, len(tokens))
		if err := c.sendBatch(ctx, tokens[start:end], msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *ExpoClient) sendBatch(ctx context.Context, tokens []string, msg PushMessage) error {
	batch := make([]expoMessage, len(tokens))
	for i, t := range tokens {
		batch[i] = expoMessage{To: t, Title: msg.Title, Body: msg.Body, Data: msg.Data, Sound: "default"}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode expo messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordBatch(len(tokens), false)
		return fmt.Errorf("failed to send expo push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.recordBatch(len(tokens), false)
		return fmt.Errorf("expo push failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode expo response: %w", err)
	}
	if len(out.Errors) > 0 {
		c.recordBatch(len(tokens), false)
		return fmt.Errorf("expo push rejected: %s", out.Errors[0].Message)
	}

	for i, ticket := range out.Data {
		ok := ticket.Status == "ok"
		c.recorder.RecordPushDelivery(ProviderExpo, ok)
		if !ok && i < len(tokens) {
			log.Warn().
				Str("token", tokens[i]).
				Str("error", ticket.Details.Error).
				Str("message", ticket.Message).
				Msg("Expo push ticket error")
		}
	}
	return nil
}

func (c *ExpoClient) recordBatch(n int, ok bool) {
	for i := 0; i < n; i++ {
		c.recorder.RecordPushDelivery(ProviderExpo, ok)
	}
}

// apnsPusher is the part of *apns2.Client used here
type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends notifications straight to Apple for raw device tokens
type APNsClient struct {
	client   apnsPusher
	topic    string
	recorder Recorder
}

// NewAPNsClient creates a token-authenticated APNs client from a .p8 key
func NewAPNsClient(cfg config.PushConfig, recorder Recorder) (*APNsClient, error) {
	authKey, err := token.AuthKeyFromFile(cfg.APNsKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.APNsKeyID,
		TeamID:  cfg.APNsTeamID,
	})
	if cfg.APNsProduction {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsClient{client: client, topic: cfg.APNsTopic, recorder: recorderOrNop(recorder)}, nil
}

// Send pushes the message to each device token individually
func (c *APNsClient) Send(ctx context.Context, tokens []string, msg PushMessage) error {
	p := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound("default")
	for k, v := range msg.Data {
		p.Custom(k, v)
	}

	var errs []error
	for _, t := range tokens {
		res, err := c.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: t,
			Topic:       c.topic,
			Payload:     p,
		})
		if err != nil {
			c.recorder.RecordPushDelivery(ProviderAPNs, false)
			errs = append(errs, fmt.Errorf("failed to send apns push: %w", err))
			continue
		}

		c.recorder.RecordPushDelivery(ProviderAPNs, res.Sent())
		if !res.Sent() {
			log.Warn().
				Str("token", t).
				Int("status", res.StatusCode).
				Str("reason", res.Reason).
				Msg("APNs push rejected")
		}
	}
	return errors.Join(errs...)
}

// Dispatcher routes tokens to Expo or APNs by their shape
type Dispatcher struct {
	expo Notifier
	apns Notifier
}

// NewDispatcher creates a dispatcher. apns may be nil when not configured.
func NewDispatcher(expo, apns Notifier) *Dispatcher {
	return &Dispatcher{expo: expo, apns: apns}
}

func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg PushMessage) error {
	var expoTokens, deviceTokens []string
	for _, t := range tokens {
		if IsExpoToken(t) {
			expoTokens = append(expoTokens, t)
		} else {
			deviceTokens = append(deviceTokens, t)
		}
	}

	var errs []error
	if len(expoTokens) > 0 {
		errs = append(errs, d.expo.Send(ctx, expoTokens, msg))
	}
	if len(deviceTokens) > 0 {
		if d.apns == nil {
			log.Warn().Int("count", len(deviceTokens)).Msg("Skipping device tokens, APNs is not configured")
		} else {
			errs = append(errs, d.apns.Send(ctx, deviceTokens, msg))
		}
	}
	return errors.Join(errs...)
}
