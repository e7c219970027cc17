//go:build darwin

package transport

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newBLEDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
