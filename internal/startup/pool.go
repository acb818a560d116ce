// Package startup loads the credential pool from the admin store and logs
// what the process is about to serve.
package startup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/models"
)

// CredentialSource is the read side of the admin store the pool is built from.
type CredentialSource interface {
	ActiveGroupID(ctx context.Context) (string, error)
	ListCredentials(ctx context.Context) ([]models.Credential, error)
}

// LoadPool replaces the pool contents with the stored credentials and active
// group. It is called at startup and after every admin write.
func LoadPool(ctx context.Context, src CredentialSource, pool *keypool.Pool) error {
	groupID, err := src.ActiveGroupID(ctx)
	if err != nil {
		return fmt.Errorf("read active group: %w", err)
	}

	creds, err := src.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	pool.Load(groupID, creds)
	return nil
}

// LogPoolDiagnostics reports the loaded pool. Startup continues in every
// case; an empty pool only means requests get 503 until keys are added.
func LogPoolDiagnostics(pool *keypool.Pool, log *slog.Logger) {
	groupID := pool.ActiveGroup()
	if groupID == "" {
		log.Error("WARNING: No active key group",
			"impact", "All proxied requests will fail with 503",
			"action_recommended", "Create a group and set it active via PUT /api/v1/admin/settings/active-group",
		)
		return
	}

	creds := pool.Credentials(groupID)
	if len(creds) == 0 {
		log.Error("WARNING: Active key group has no enabled credentials",
			"group_id", groupID,
			"impact", "All proxied requests will fail with 503",
			"action_recommended", "Add API keys via POST /api/v1/admin/keys",
		)
		return
	}

	log.Info("Credential pool ready",
		"group_id", groupID,
		"credentials", len(creds),
		"total_daily_quota", pool.TotalQuota(groupID),
	)
	for _, c := range creds {
		log.Debug("Credential loaded",
			"credential", &c,
			"daily_quota", pool.EffectiveQuota(c),
		)
	}
}
