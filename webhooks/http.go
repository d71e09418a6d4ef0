package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/onesub/onesub-go/core"
)

// maxDeliveryBytes bounds webhook payload reads.
const maxDeliveryBytes = 1 << 20

type httpAck struct {
	Received bool   `json:"received"`
	Handled  bool   `json:"handled"`
	Deduped  bool   `json:"deduped,omitempty"`
	EventID  string `json:"eventId,omitempty"`
}

type httpErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPHandler exposes the dispatcher as a ready-to-mount endpoint. The
// response status follows the platform retry contract: 2xx acknowledges,
// anything else triggers redelivery.
func HTTPHandler(dispatcher *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, httpErrorEnvelope{
				Error:   core.ErrorCodeValidation,
				Message: "webhook deliveries must be POSTed",
			})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, httpErrorEnvelope{
				Error:   core.ErrorCodeValidation,
				Message: "webhook payload could not be read",
			})
			return
		}

		outcome, err := dispatcher.Process(r.Context(), payload, r.Header.Get(SignatureHeader))
		if err != nil {
			status := outcome.StatusCode
			if status == 0 {
				status = http.StatusInternalServerError
			}
			writeJSON(w, status, httpErrorEnvelope{
				Error:   core.ErrorTextCode(err),
				Message: err.Error(),
			})
			return
		}

		writeJSON(w, outcome.StatusCode, httpAck{
			Received: true,
			Handled:  outcome.Handled,
			Deduped:  outcome.Deduped,
			EventID:  outcome.EventID,
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
