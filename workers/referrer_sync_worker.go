// workers/referrer_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scout-pass-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriberChangesResponse is the account service's wire envelope.
type subscriberChangesResponse struct {
	Subscribers []models.RemoteSubscriber `json:"subscribers"`
}

// ReferrerSyncWorker mirrors subscriber profiles (display name, county
// scopes, plan status) from the account service into referrer_mirrors.
// The mirror feeds the claim landing page and the counties copied onto
// passes at issuance; the pass engine never calls the account service
// inline.
type ReferrerSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewReferrerSyncWorker(db *gorm.DB, accountServiceBaseURL, endpointPath, serviceToken string) *ReferrerSyncWorker {
	return &ReferrerSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      accountServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ReferrerSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Referrer Sync Worker (account-service → referrer_mirrors)…")
	go w.run(ctx)
}

func (w *ReferrerSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial referrer sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Referrer sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Referrer Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt in the local mirror.
func (w *ReferrerSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM referrer_mirrors WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

func (w *ReferrerSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid account service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpointURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to account service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("account service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response subscriberChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode account service response: %w", err)
	}

	if len(response.Subscribers) == 0 {
		return nil
	}

	now := time.Now()
	var upsertCount, errorCount int
	for _, remote := range response.Subscribers {
		mirror := models.ReferrerMirror{
			ID:             uuid.NewString(),
			ExternalUserID: remote.ExternalID,
			DisplayName:    remote.DisplayName,
			Email:          remote.Email,
			Counties:       strings.ToLower(strings.Join(remote.Counties, ",")),
			PlanStatus:     remote.PlanStatus,
			LastSyncedAt:   &now,
		}

		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "email", "counties", "plan_status",
				"last_synced_at", "updated_at",
			}),
		}).Create(&mirror).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert referrer mirror (external_id=%q): %v", remote.ExternalID, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[SYNC] ✅ Synced %d subscriber(s) (%d upserted, %d errors)",
		len(response.Subscribers), upsertCount, errorCount)
	return nil
}
