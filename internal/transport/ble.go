package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"go.uber.org/zap"
)

// Default GATT endpoints shared by the supported label printers. The
// write characteristic takes raster data, the notify characteristic is
// never read but MUST be subscribed: several firmwares refuse writes
// from a client that has not registered a listener.
const (
	DefaultServiceUUID    = "ff00"
	DefaultWriteCharUUID  = "ff02"
	DefaultNotifyCharUUID = "ff03"

	DefaultBLEChunkSize = 128 // GATT write-without-response budget

	blePowerOnTimeout  = 10 * time.Second
	bleConnectTimeout  = 30 * time.Second
	bleStabilizeDelay  = 1 * time.Second
	bleReleaseDelay    = 2 * time.Second
	bleInitRetryDelay  = 500 * time.Millisecond
	bleInitRetryLimit  = 6
)

// BLEConfig configures a BLE session.
type BLEConfig struct {
	// Address pins a specific peripheral. Empty means scan and take the
	// first device whose advertised name Matcher accepts.
	Address string

	// Matcher filters advertised names during discovery. Nil accepts
	// any known printer model pattern supplied by the caller as a
	// fallback of "match nothing", so callers normally set this to
	// profile.MatchesKnownDevice.
	Matcher func(name string) bool

	// ShowAllDevices lifts the Matcher filter during ScanDevices.
	ShowAllDevices bool

	ServiceUUID    string // override, default ff00
	WriteCharUUID  string // override, default ff02
	NotifyCharUUID string // override, default ff03

	ScanTimeout     time.Duration // scan/connect budget, default 15s
	ChunkSize       int
	InterChunkDelay time.Duration
}

// BLE is the Bluetooth Low Energy transport.
type BLE struct {
	cfg BLEConfig

	mu        sync.Mutex
	state     State
	device    ble.Device
	client    ble.Client
	writeChar *ble.Characteristic
}

// NewBLE creates an unconnected BLE transport.
func NewBLE(cfg BLEConfig) *BLE {
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = DefaultServiceUUID
	}
	if cfg.WriteCharUUID == "" {
		cfg.WriteCharUUID = DefaultWriteCharUUID
	}
	if cfg.NotifyCharUUID == "" {
		cfg.NotifyCharUUID = DefaultNotifyCharUUID
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 15 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultBLEChunkSize
	}
	return &BLE{cfg: cfg}
}

func (b *BLE) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BLE) IsConnected() bool { return b.State() == StateConnected }

func (b *BLE) ChunkSize() int { return b.cfg.ChunkSize }

// Connect scans for a matching peripheral, connects, discovers the
// write/notify characteristics and subscribes to notifications.
func (b *BLE) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateConnected {
		// 排他制御: 二重接続は一度切ってから
		logger.Info("BLE already connected, disconnecting before reconnect")
		b.disconnectLocked()
	}
	b.state = StateConnecting
	b.mu.Unlock()

	if _, err := b.ensureDevice(); err != nil {
		b.setState(StateDisconnected)
		return &ConnectionError{Op: "ble power-on", Err: err}
	}

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.ScanTimeout)
	defer cancel()

	var seen []string
	var seenMu sync.Mutex

	filter := func(a ble.Advertisement) bool {
		name := a.LocalName()
		if name != "" {
			seenMu.Lock()
			seen = append(seen, name)
			seenMu.Unlock()
		}
		if b.cfg.Address != "" {
			return strings.EqualFold(a.Addr().String(), b.cfg.Address)
		}
		if b.cfg.Matcher != nil {
			return b.cfg.Matcher(name)
		}
		return false
	}

	logger.Info("Connecting to BLE printer",
		zap.String("address", b.cfg.Address),
		zap.Duration("timeout", b.cfg.ScanTimeout))

	client, err := ble.Connect(connectCtx, filter)
	if err != nil {
		b.setState(StateDisconnected)
		seenMu.Lock()
		defer seenMu.Unlock()
		return &ConnectionError{Op: "ble scan/connect", Devices: dedupe(seen), Err: err}
	}

	if err := b.setupSession(client); err != nil {
		client.CancelConnection()
		b.setState(StateDisconnected)
		return err
	}

	// 接続直後のMTU/Connection Intervalネゴシエーション完了を待つ
	logger.Debug("Waiting for BLE connection stabilization")
	time.Sleep(bleStabilizeDelay)

	b.mu.Lock()
	b.client = client
	b.state = StateConnected
	b.mu.Unlock()

	logger.Info("BLE printer connected", zap.String("peer", client.Addr().String()))
	return nil
}

// setupSession discovers the GATT profile, resolves the write and
// notify characteristics and subscribes to the notify characteristic.
func (b *BLE) setupSession(client ble.Client) error {
	prof, err := client.DiscoverProfile(true)
	if err != nil {
		return &ConnectionError{Op: "ble discover profile", Err: err}
	}

	svcUUID := normalizeUUID(b.cfg.ServiceUUID)
	writeUUID := normalizeUUID(b.cfg.WriteCharUUID)
	notifyUUID := normalizeUUID(b.cfg.NotifyCharUUID)
	if svcUUID == nil || writeUUID == nil {
		return &ConnectionError{
			Op:  "ble resolve uuids",
			Err: fmt.Errorf("invalid service/characteristic UUID override (%q / %q)", b.cfg.ServiceUUID, b.cfg.WriteCharUUID),
		}
	}

	var writeChar, notifyChar *ble.Characteristic
	var services []string
	for _, svc := range prof.Services {
		services = append(services, svc.UUID.String())
		if !svc.UUID.Equal(svcUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			switch {
			case c.UUID.Equal(writeUUID):
				writeChar = c
			case c.UUID.Equal(notifyUUID):
				notifyChar = c
			}
		}
	}

	if writeChar == nil {
		return &ConnectionError{
			Op:      "ble resolve write characteristic",
			Devices: services,
			Err:     fmt.Errorf("characteristic %s not found in service %s", b.cfg.WriteCharUUID, b.cfg.ServiceUUID),
		}
	}

	if notifyChar != nil {
		// データは読まないが購読だけはしておく（§購読しないと書き込みを
		// 受け付けないファームウェアがある）
		if err := client.Subscribe(notifyChar, false, func([]byte) {}); err != nil {
			logger.Warn("Notify subscription failed, continuing anyway", zap.Error(err))
		}
	} else {
		logger.Debug("Notify characteristic not present, skipping subscription")
	}

	b.mu.Lock()
	b.writeChar = writeChar
	b.mu.Unlock()
	return nil
}

// Send performs a single write-without-response.
func (b *BLE) Send(data []byte) error {
	b.mu.Lock()
	client, char, state := b.client, b.writeChar, b.state
	b.mu.Unlock()

	if state != StateConnected || client == nil || char == nil {
		return &WriteError{Err: fmt.Errorf("not connected")}
	}
	if err := client.WriteCharacteristic(char, data, true); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// SendChunked splits data into GATT-sized writes with drain pauses.
func (b *BLE) SendChunked(data []byte, onProgress ProgressFunc) error {
	return writeChunked(data, b.cfg.ChunkSize, b.cfg.InterChunkDelay, b.rawSend, onProgress)
}

func (b *BLE) rawSend(chunk []byte) error {
	b.mu.Lock()
	client, char, state := b.client, b.writeChar, b.state
	b.mu.Unlock()
	if state != StateConnected || client == nil || char == nil {
		return fmt.Errorf("not connected")
	}
	return client.WriteCharacteristic(char, chunk, true)
}

// Disconnect tears the session down. Errors are logged and swallowed:
// cleanup must never block caller shutdown.
func (b *BLE) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectLocked()
}

func (b *BLE) disconnectLocked() {
	if b.client != nil {
		if err := b.client.CancelConnection(); err != nil {
			logger.Warn("BLE disconnect error (ignored)", zap.Error(err))
		}
		b.client = nil
		b.writeChar = nil
	}
	if b.device != nil {
		if err := b.device.Stop(); err != nil {
			logger.Debug("BLE device stop error (ignored)", zap.Error(err))
		}
		b.device = nil
		// OS側のBLEリソース解放を待つ（すぐ再接続すると失敗する）
		time.Sleep(bleReleaseDelay)
	}
	b.state = StateDisconnected
}

// ensureDevice initializes the HCI/CoreBluetooth device, retrying while
// the adapter reports a transient invalid state right after startup.
func (b *BLE) ensureDevice() (ble.Device, error) {
	b.mu.Lock()
	if b.device != nil {
		dev := b.device
		b.mu.Unlock()
		return dev, nil
	}
	b.mu.Unlock()

	if err := ensureBLESafeToUse(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(blePowerOnTimeout)
	var lastErr error
	for attempt := 0; attempt < bleInitRetryLimit && time.Now().Before(deadline); attempt++ {
		dev, err := newBLEDevice()
		if err == nil {
			ble.SetDefaultDevice(dev)
			b.mu.Lock()
			b.device = dev
			b.mu.Unlock()
			return dev, nil
		}
		lastErr = err
		if !shouldRetryDeviceInit(err) {
			break
		}
		time.Sleep(bleInitRetryDelay)
	}
	return nil, wrapBLEInitError(lastErr)
}

func (b *BLE) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Device is one peripheral found during a scan.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// ScanDevices scans for advertising printers. With ShowAllDevices every
// named peripheral is listed, otherwise only names the Matcher accepts.
func (b *BLE) ScanDevices(ctx context.Context) ([]Device, error) {
	if _, err := b.ensureDevice(); err != nil {
		return nil, &ConnectionError{Op: "ble power-on", Err: err}
	}

	scanCtx, cancel := context.WithTimeout(ctx, b.cfg.ScanTimeout)
	defer cancel()

	var mu sync.Mutex
	found := map[string]Device{}

	handler := func(a ble.Advertisement) {
		name := a.LocalName()
		if name == "" {
			return
		}
		if !b.cfg.ShowAllDevices && b.cfg.Matcher != nil && !b.cfg.Matcher(name) {
			return
		}
		mu.Lock()
		found[a.Addr().String()] = Device{Name: name, Address: a.Addr().String(), RSSI: a.RSSI()}
		mu.Unlock()
	}

	err := ble.Scan(scanCtx, false, handler, nil)
	if err != nil && err != context.DeadlineExceeded && scanCtx.Err() != context.DeadlineExceeded {
		return nil, &ConnectionError{Op: "ble scan", Err: err}
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	logger.Info("BLE scan finished", zap.Int("device_count", len(devices)))
	return devices, nil
}

func dedupe(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
