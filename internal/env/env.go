package env

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"go.uber.org/zap"
)

// Env holds the process configuration loaded from .env / environment.
type Env struct {
	ServerPort int
	DebugMode  bool
	DryRunMode bool

	// プリンター設定
	PrinterType    string  // "ble" or "usb"
	PrinterAddress *string // BLE MAC address (optional, scan picks one otherwise)
	PrinterModel   string  // explicit model override, empty = auto detect
	Density        int     // 1..8
	TapeWidthMm    int     // 12 or 15, tape models only

	// BLE settings
	BLEServiceUUID   string
	BLEWriteCharUUID string
	BLENotifyCharUUID string
	BLEScanTimeout   time.Duration
	BLEChunkSize     int
	ShowAllDevices   bool

	// USB settings
	USBVendorID  uint16
	USBProductID uint16
	USBChunkSize int

	// Transport timing
	InterChunkDelay  time.Duration
	InterRecordDelay time.Duration

	DebugOutput bool // dump encoded bitmaps to the output dir
}

// Value is the loaded configuration. LoadEnv must run before use.
var Value Env

// LoadEnv loads .env (if present) and populates Value with defaults for
// anything not set.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		// .envが無いのは普通（環境変数だけで動かす構成）
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	Value = Env{
		ServerPort: getInt("SERVER_PORT", 8080),
		DebugMode:  getBool("DEBUG_MODE", false),
		DryRunMode: getBool("DRY_RUN_MODE", false),

		PrinterType:  getString("PRINTER_TYPE", "ble"),
		PrinterModel: getString("PRINTER_MODEL", ""),
		Density:      getInt("PRINTER_DENSITY", 3),
		TapeWidthMm:  getInt("TAPE_WIDTH_MM", 12),

		BLEServiceUUID:    getString("BLE_SERVICE_UUID", ""),
		BLEWriteCharUUID:  getString("BLE_WRITE_CHAR_UUID", ""),
		BLENotifyCharUUID: getString("BLE_NOTIFY_CHAR_UUID", ""),
		BLEScanTimeout:    getDuration("BLE_SCAN_TIMEOUT", 15*time.Second),
		BLEChunkSize:      getInt("BLE_CHUNK_SIZE", 128),
		ShowAllDevices:    getBool("SHOW_ALL_DEVICES", false),

		USBVendorID:  uint16(getInt("USB_VENDOR_ID", 0x0483)),
		USBProductID: uint16(getInt("USB_PRODUCT_ID", 0x5740)),
		USBChunkSize: getInt("USB_CHUNK_SIZE", 512),

		InterChunkDelay:  getDuration("INTER_CHUNK_DELAY", 20*time.Millisecond),
		InterRecordDelay: getDuration("INTER_RECORD_DELAY", 500*time.Millisecond),

		DebugOutput: getBool("DEBUG_OUTPUT", false),
	}

	if addr := os.Getenv("PRINTER_ADDRESS"); addr != "" {
		Value.PrinterAddress = &addr
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// 0x付き16進も受け付ける（USB VID/PID用）
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default",
			zap.String("key", key), zap.String("value", v))
		return def
	}
	return int(n)
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("Invalid duration in environment, using default",
			zap.String("key", key), zap.String("value", v))
		return def
	}
	return d
}
