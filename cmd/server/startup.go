package main

import (
	"github.com/nantokaworks/labelprint/internal/env"
	"github.com/nantokaworks/labelprint/internal/profile"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"github.com/nantokaworks/labelprint/internal/transport"
	"go.uber.org/zap"
)

// buildTransport assembles the configured transport from environment
// settings. Unknown PRINTER_TYPE values fall back to BLE.
func buildTransport() transport.Transport {
	switch env.Value.PrinterType {
	case "usb":
		logger.Info("Using USB transport",
			zap.Uint16("vendor_id", env.Value.USBVendorID),
			zap.Uint16("product_id", env.Value.USBProductID))
		return transport.NewUSB(transport.USBConfig{
			VendorID:        env.Value.USBVendorID,
			ProductID:       env.Value.USBProductID,
			ChunkSize:       env.Value.USBChunkSize,
			InterChunkDelay: env.Value.InterChunkDelay,
		})

	case "ble", "":
	default:
		logger.Warn("Unknown PRINTER_TYPE, falling back to BLE",
			zap.String("printer_type", env.Value.PrinterType))
	}

	cfg := transport.BLEConfig{
		Matcher:         profile.MatchesKnownDevice,
		ShowAllDevices:  env.Value.ShowAllDevices,
		ServiceUUID:     env.Value.BLEServiceUUID,
		WriteCharUUID:   env.Value.BLEWriteCharUUID,
		NotifyCharUUID:  env.Value.BLENotifyCharUUID,
		ScanTimeout:     env.Value.BLEScanTimeout,
		ChunkSize:       env.Value.BLEChunkSize,
		InterChunkDelay: env.Value.InterChunkDelay,
	}
	if env.Value.PrinterAddress != nil {
		cfg.Address = *env.Value.PrinterAddress
	}
	return transport.NewBLE(cfg)
}
