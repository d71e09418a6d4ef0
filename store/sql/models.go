package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:onesub_webhook_deliveries,alias:owd"`

	ID             string     `bun:"id,pk"`
	EventID        string     `bun:"event_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	Payload        []byte     `bun:"payload"`
	ClaimExpiresAt *time.Time `bun:"claim_expires_at,nullzero"`
	LastError      string     `bun:"last_error,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
