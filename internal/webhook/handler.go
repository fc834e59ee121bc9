// Package webhook receives GitHub deployment protection rule events
// and hands them to the processing queue. Intake does no evaluation;
// the webhook must answer quickly so GitHub does not time out the
// delivery.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/actiongates/actiongates-server/internal/domain"
)

// maxBodySize caps accepted payloads. Deployment protection rule
// payloads are small; 4 MB is generous.
const maxBodySize = 4 * 1024 * 1024

const eventHeader = "X-GitHub-Event"
const deliveryHeader = "X-GitHub-Delivery"

const protectionRuleEvent = "deployment_protection_rule"

const requestedAction = "requested"

// Handler accepts webhook deliveries and enqueues an envelope per
// relevant event.
type Handler struct {
	Queue     domain.Queue
	QueueName string

	// MaxTries is the processing budget granted to each delivery.
	MaxTries int

	Log *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	// Any event type other than the protection rule gets acknowledged
	// and dropped, so GitHub does not retry deliveries we will never
	// act on.
	if got := r.Header.Get(eventHeader); got != protectionRuleEvent {
		h.Log.Debug("ignoring event", "event", got)
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.Log.Error("read webhook body", "error", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	var event domain.DeploymentProtectionRuleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.Log.Warn("malformed webhook payload", "error", err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	// Only the requested action opens a gate; GitHub also delivers the
	// terminal actions back to us.
	if event.Action != requestedAction {
		h.Log.Debug("ignoring action", "action", event.Action)
		w.WriteHeader(http.StatusOK)
		return
	}

	deliveryID := r.Header.Get(deliveryHeader)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	env := domain.NewEnvelope(deliveryID, h.MaxTries, event)
	if err := h.Queue.Enqueue(r.Context(), h.QueueName, env, time.Time{}); err != nil {
		h.Log.Error("enqueue delivery", "delivery_id", deliveryID, "error", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	h.Log.Info("delivery accepted",
		"delivery_id", deliveryID,
		"environment", event.Environment,
		"repository", event.Repository.FullName,
	)
	w.WriteHeader(http.StatusOK)
}
