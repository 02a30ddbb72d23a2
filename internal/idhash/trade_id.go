package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"corrdiv/internal/domain"
)

// ComputePositionID computes a deterministic position_id using SHA256.
// Formula: SHA256(asset|side|opened_at)
// Returns hex-encoded hash (64 characters).
func ComputePositionID(asset string, side domain.Side, openedAtMs int64) string {
	data := fmt.Sprintf("%s|%s|%d", asset, string(side), openedAtMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(position_id|closed_at|exit_reason)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(positionID string, closedAtMs int64, exitReason string) string {
	data := fmt.Sprintf("%s|%d|%s",
		positionID,
		closedAtMs,
		exitReason,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
