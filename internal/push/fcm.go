package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fcmEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMProvider sends notifications through the FCM legacy HTTP API.
type FCMProvider struct {
	serverKey string
	endpoint  string
	client    *http.Client
}

func NewFCMProvider(serverKey string) *FCMProvider {
	return &FCMProvider{
		serverKey: serverKey,
		endpoint:  fcmEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	RegistrationIds []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func (p *FCMProvider) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	payload, err := json.Marshal(fcmRequest{
		RegistrationIds: tokens,
		Notification:    fcmNotification{Title: title, Body: body},
		Data:            data,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fcm returned %d: %s", resp.StatusCode, raw)
	}

	var result fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if result.Failure > 0 {
		return fmt.Errorf("fcm delivered %d of %d", result.Success, result.Success+result.Failure)
	}

	return nil
}
