package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"scout-pass-system/models"
)

// NotifierClient hands invite delivery off to the notification service.
// Fire-and-forget: Share never blocks on it and a failed delivery only
// logs; the landing link keeps working regardless.
type NotifierClient struct {
	BaseURL        string
	Token          string
	LandingBaseURL string
	Client         *http.Client
}

func NewNotifierClient(baseURL, token, landingBaseURL string) *NotifierClient {
	return &NotifierClient{
		BaseURL:        baseURL,
		Token:          token,
		LandingBaseURL: landingBaseURL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// LandingLink is the public claim URL embedded in the delivery.
func (n *NotifierClient) LandingLink(pass *models.Pass) string {
	return fmt.Sprintf("%s/claim/%s", n.LandingBaseURL, pass.Code)
}

// DeliverPassInvite posts the invite to the notification service.
// Called from a goroutine on the share path.
func (n *NotifierClient) DeliverPassInvite(pass *models.Pass, channel, recipientEmail string) {
	payload := map[string]interface{}{
		"channel":         channel,
		"recipient_email": recipientEmail,
		"landing_link":    n.LandingLink(pass),
		"pass_code":       pass.Code,
		"trial_days":      models.TrialDays,
	}
	jsonData, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", n.BaseURL+"/notifications/pass-invite", bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("❌ invite delivery request build failed for pass %s: %v", pass.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		log.Printf("❌ invite delivery failed for pass %s: %v", pass.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("❌ invite delivery for pass %s returned %d: %s", pass.ID, resp.StatusCode, string(body))
		return
	}
	log.Printf("📨 invite for pass %s delivered via %s", pass.ID, channel)
}
