package audit

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/internal/pkg/cache"
)

const (
	mirrorStream    = "audit:mirror"
	mirrorStreamCap = 100000
)

// RedisSink mirrors ledger rows into a capped Redis stream so external
// reconciliation tooling can tail balance mutations without touching the
// primary store.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink creates a sink over the shared cache client.
func NewRedisSink() *RedisSink {
	return &RedisSink{client: cache.GetClient()}
}

func (s *RedisSink) Mirror(ctx context.Context, entry *models.BalanceAuditLog) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: mirrorStream,
		MaxLen: mirrorStreamCap,
		Approx: true,
		Values: map[string]interface{}{
			"audit_id":       entry.AuditID,
			"wallet_type":    entry.WalletType,
			"user_id":        entry.UserID,
			"wallet_id":      entry.WalletID,
			"internal_id":    entry.InternalWalletID,
			"currency":       entry.Currency,
			"balance_type":   entry.BalanceType,
			"amount_before":  entry.AmountBefore.String(),
			"amount_after":   entry.AmountAfter.String(),
			"change_amount":  entry.ChangeAmount.String(),
			"change_type":    entry.ChangeType,
			"transaction_id": entry.TransactionID,
			"post_checksum":  entry.PostChecksum,
		},
	}).Err()
}
