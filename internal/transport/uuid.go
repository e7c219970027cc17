package transport

import (
	"strings"

	"github.com/go-ble/ble"
)

// bluetoothBaseSuffix is the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805F9B34FB) with dashes stripped and the
// 16-bit slot removed.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// normalizeUUID accepts both 16-bit short ("ff02") and 128-bit long
// forms, with or without dashes, and collapses SIG-base long UUIDs back
// to their short form so comparisons work across both notations.
// Returns nil for unparseable input.
func normalizeUUID(s string) ble.UUID {
	h := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	if len(h) == 32 && strings.HasSuffix(h, bluetoothBaseSuffix) && strings.HasPrefix(h, "0000") {
		h = h[4:8]
	}
	u, err := ble.Parse(h)
	if err != nil {
		return nil
	}
	return u
}
