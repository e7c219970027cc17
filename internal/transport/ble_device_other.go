//go:build !linux && !darwin

package transport

import (
	"fmt"

	"github.com/go-ble/ble"
)

func newBLEDevice() (ble.Device, error) {
	return nil, fmt.Errorf("BLE transport not supported on this platform")
}
