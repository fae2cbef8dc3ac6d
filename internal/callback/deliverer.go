package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/vantahire/signal/internal/domain/sourcing"
)

// PayloadStatus is the outcome reported to the callback receiver.
type PayloadStatus string

const (
	PayloadComplete PayloadStatus = "complete"
	PayloadPartial  PayloadStatus = "partial"
	PayloadFailed   PayloadStatus = "failed"
)

// Payload is the wire body POSTed to the request's callback URL. Field names
// are the receiver's contract, not ours.
type Payload struct {
	Version        int           `json:"version"`
	RequestID      string        `json:"requestId"`
	ExternalJobID  string        `json:"externalJobId"`
	Status         PayloadStatus `json:"status"`
	CandidateCount int           `json:"candidateCount"`
	EnrichedCount  int           `json:"enrichedCount"`
	Error          string        `json:"error,omitempty"`
}

const (
	maxAttempts    = 5
	requestTimeout = 10 * time.Second
)

// attemptDelays[i] separates attempt i+1 from attempt i+2.
var attemptDelays = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Store is the slice of request persistence the deliverer needs.
type Store interface {
	RecordCallbackAttempt(ctx context.Context, tenantID, id string, lastError string) error
	SetCallbackOutcome(ctx context.Context, tenantID, id string, status sourcing.Status) error
}

// Deliverer posts signed callbacks with bounded retries.
type Deliverer struct {
	store  Store
	signer *Signer
	client *http.Client
	logger *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform in [0, 1)
}

func NewDeliverer(store Store, signer *Signer, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		store:  store,
		signer: signer,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver posts the payload to the request's callback URL, retrying up to
// maxAttempts times. Each attempt is recorded on the request row; the first
// 2xx wins. updateStatus controls whether the terminal callback status is
// written back (the sweeper re-delivers without re-marking failures).
//
// Returns nil once the receiver acked; a non-nil error means every attempt
// failed and the request is marked callback_failed (when updateStatus).
func (d *Deliverer) Deliver(ctx context.Context, req *sourcing.Request, payload Payload, updateStatus bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptErr := d.attempt(ctx, req, body)

		msg := ""
		if attemptErr != nil {
			msg = attemptErr.Error()
		}
		if err := d.store.RecordCallbackAttempt(ctx, req.TenantID, req.ID, msg); err != nil {
			d.logger.Error("record callback attempt failed",
				"request_id", req.ID, "error", err)
		}

		if attemptErr == nil {
			if updateStatus {
				if err := d.store.SetCallbackOutcome(ctx, req.TenantID, req.ID, sourcing.StatusCallbackSent); err != nil {
					d.logger.Error("mark callback_sent failed",
						"request_id", req.ID, "error", err)
				}
			}
			d.logger.Info("callback delivered",
				"request_id", req.ID,
				"status", payload.Status,
				"attempt", attempt,
			)
			return nil
		}

		lastErr = attemptErr
		d.logger.Warn("callback attempt failed",
			"request_id", req.ID,
			"attempt", attempt,
			"error", attemptErr,
		)

		if attempt < maxAttempts {
			// Jitter x[0.8, 1.2] keeps herds of retries from aligning.
			base := attemptDelays[attempt-1]
			factor := 0.8 + 0.4*d.jitter()
			if err := d.sleep(ctx, time.Duration(float64(base)*factor)); err != nil {
				lastErr = err
				break
			}
		}
	}

	if updateStatus {
		if err := d.store.SetCallbackOutcome(ctx, req.TenantID, req.ID, sourcing.StatusCallbackFailed); err != nil {
			d.logger.Error("mark callback_failed failed",
				"request_id", req.ID, "error", err)
		}
	}
	return fmt.Errorf("callback exhausted after %d attempts: %w", maxAttempts, lastErr)
}

func (d *Deliverer) attempt(ctx context.Context, req *sourcing.Request, body []byte) error {
	token, err := d.signer.Sign(req.TenantID, req.ID)
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
