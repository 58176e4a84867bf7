package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"mediagateway/internal/payments"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook confirms a top-up from a bank transfer notification.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	a.instrument("payment_webhook", w, func(w http.ResponseWriter) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil || !gjson.ValidBytes(bytes.TrimSpace(body)) {
			a.error(w, http.StatusBadRequest, errMalformedBody.Error())
			return
		}
		n := payments.ParseNotification(bytes.TrimSpace(body))
		if n.Code == "" {
			a.json(w, http.StatusOK, map[string]any{"success": false, "message": "no topup code in transfer content"})
			return
		}
		if a.payments == nil {
			a.error(w, http.StatusInternalServerError, "payments not configured")
			return
		}
		if err := a.payments.Confirm(r.Context(), n); err != nil {
			a.logger.Error().Err(err).Str("code", n.Code).Msg("topup confirmation failed")
			a.error(w, http.StatusInternalServerError, "failed to confirm topup")
			return
		}
		a.json(w, http.StatusOK, map[string]any{"success": true, "code": n.Code})
	})
}
