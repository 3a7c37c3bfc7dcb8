package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateContractCache drops the per-contract keys and the listings that
// may contain the contract after any write to it.
func InvalidateContractCache(ctx context.Context, cm *CacheManager, contractID uint) {
	SafeDelete(ctx, cm.Contract,
		fmt.Sprintf("id:%d", contractID),
		fmt.Sprintf("audit:%d", contractID))

	SafeInvalidatePattern(ctx, cm.Contract, "list:*")
	SafeInvalidatePattern(ctx, cm.Exists, fmt.Sprintf("contract:%d:*", contractID))
}

// InvalidateUserCache drops a cached Casdoor profile.
func InvalidateUserCache(ctx context.Context, cm *CacheManager, userID string) {
	SafeDelete(ctx, cm.User, fmt.Sprintf("id:%s", userID))
}
