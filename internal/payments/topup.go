// Package payments confirms balance top-ups reported by the bank webhook.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mediagateway/internal/domain"
	"mediagateway/internal/infra"
	"mediagateway/internal/sqlinline"
	"mediagateway/internal/upstream"
)

var topupCode = regexp.MustCompile(`(?i)\b(TOPUP[0-9A-Z]{6,16})\b`)

var (
	contentRules = upstream.Rules{"content", "description", "transferContent", "data.content", "data.description"}
	amountRules  = upstream.Rules{"transferAmount", "amount", "data.transferAmount", "data.amount"}
)

// ExtractCode finds the top-up transaction code in free-text transfer content.
func ExtractCode(content string) string {
	m := topupCode.FindStringSubmatch(content)
	if len(m) < 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

// Notification is the part of a bank webhook the confirmer needs.
type Notification struct {
	Code   string
	Amount int64
	Raw    json.RawMessage
}

// ParseNotification reads a webhook body. Code is empty when the transfer
// content carries no top-up code.
func ParseNotification(body []byte) Notification {
	return Notification{
		Code:   ExtractCode(contentRules.String(body)),
		Amount: amountRules.Find(body).Int(),
		Raw:    json.RawMessage(body),
	}
}

// Confirmer hands confirmed transfers to the ledger procedure.
type Confirmer struct {
	sql    infra.SQLExecutor
	logger *infra.Logger
}

func NewConfirmer(sql infra.SQLExecutor, logger *infra.Logger) *Confirmer {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Confirmer{sql: sql, logger: logger}
}

// Confirm records the top-up identified by n.Code.
func (c *Confirmer) Confirm(ctx context.Context, n Notification) error {
	if n.Code == "" {
		return fmt.Errorf("confirm topup: %w: missing code", domain.ErrInvalidInput)
	}
	if _, err := c.sql.Exec(ctx, sqlinline.QConfirmTopup, n.Code, n.Amount, []byte(n.Raw)); err != nil {
		return fmt.Errorf("confirm topup %s: %w", n.Code, err)
	}
	c.logger.Info().Str("code", n.Code).Int64("amount", n.Amount).Msg("topup confirmed")
	return nil
}
