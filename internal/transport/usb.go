package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	DefaultUSBVendorID  = 0x0483
	DefaultUSBProductID = 0x5740

	DefaultUSBChunkSize = 512 // one bulk transfer
)

// USBConfig configures a USB session.
type USBConfig struct {
	VendorID  uint16 // 0 means the default 0x0483
	ProductID uint16 // 0 means the default 0x5740

	ChunkSize       int
	InterChunkDelay time.Duration
}

// USB is the bulk-endpoint USB transport. It prefers interface class 7
// (printer class) and falls back to the first claimable interface,
// using the first OUT-direction bulk endpoint it finds.
type USB struct {
	cfg USBConfig

	mu      sync.Mutex
	state   State
	usbCtx  *gousb.Context
	dev     *gousb.Device
	usbCfg  *gousb.Config
	intf    *gousb.Interface
	out     *gousb.OutEndpoint
}

// NewUSB creates an unconnected USB transport.
func NewUSB(cfg USBConfig) *USB {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultUSBVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = DefaultUSBProductID
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultUSBChunkSize
	}
	return &USB{cfg: cfg}
}

func (u *USB) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *USB) IsConnected() bool { return u.State() == StateConnected }

func (u *USB) ChunkSize() int { return u.cfg.ChunkSize }

// Connect opens the device by VID/PID and claims a suitable interface.
func (u *USB) Connect(ctx context.Context) error {
	u.mu.Lock()
	if u.state == StateConnected {
		logger.Info("USB already connected, disconnecting before reconnect")
		u.disconnectLocked()
	}
	u.state = StateConnecting
	u.mu.Unlock()

	usbCtx := gousb.NewContext()

	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(u.cfg.VendorID), gousb.ID(u.cfg.ProductID))
	if err != nil || dev == nil {
		usbCtx.Close()
		u.setState(StateDisconnected)
		if err == nil {
			err = fmt.Errorf("device %04x:%04x not found", u.cfg.VendorID, u.cfg.ProductID)
		}
		return &ConnectionError{Op: "usb open", Err: err}
	}

	// カーネルドライバ(usblp等)が掴んでいる場合は外してもらう
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Debug("SetAutoDetach failed (ignored)", zap.Error(err))
	}

	cfg, intf, out, err := claimPrinterInterface(dev)
	if err != nil {
		dev.Close()
		usbCtx.Close()
		u.setState(StateDisconnected)
		return &ConnectionError{Op: "usb claim interface", Err: err}
	}

	u.mu.Lock()
	u.usbCtx = usbCtx
	u.dev = dev
	u.usbCfg = cfg
	u.intf = intf
	u.out = out
	u.state = StateConnected
	u.mu.Unlock()

	logger.Info("USB printer connected",
		zap.String("vid_pid", fmt.Sprintf("%04x:%04x", u.cfg.VendorID, u.cfg.ProductID)),
		zap.Int("endpoint", int(out.Desc.Number)))
	return nil
}

// claimPrinterInterface picks the printer-class interface when present,
// otherwise the first interface exposing a bulk OUT endpoint.
func claimPrinterInterface(dev *gousb.Device) (*gousb.Config, *gousb.Interface, *gousb.OutEndpoint, error) {
	cfg, err := dev.Config(1)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config 1: %w", err)
	}

	pick := -1
	for _, ifDesc := range cfg.Desc.Interfaces {
		if len(ifDesc.AltSettings) == 0 {
			continue
		}
		alt := ifDesc.AltSettings[0]
		if alt.Class == gousb.ClassPrinter {
			pick = ifDesc.Number
			break
		}
		if pick < 0 && hasBulkOut(alt) {
			pick = ifDesc.Number
		}
	}
	if pick < 0 {
		cfg.Close()
		return nil, nil, nil, fmt.Errorf("no usable interface on config 1")
	}

	intf, err := cfg.Interface(pick, 0)
	if err != nil {
		cfg.Close()
		return nil, nil, nil, fmt.Errorf("claim interface %d: %w", pick, err)
	}

	for _, epDesc := range intf.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && epDesc.TransferType == gousb.TransferTypeBulk {
			out, err := intf.OutEndpoint(epDesc.Number)
			if err != nil {
				intf.Close()
				cfg.Close()
				return nil, nil, nil, fmt.Errorf("open OUT endpoint %d: %w", epDesc.Number, err)
			}
			return cfg, intf, out, nil
		}
	}

	intf.Close()
	cfg.Close()
	return nil, nil, nil, fmt.Errorf("interface %d has no bulk OUT endpoint", pick)
}

func hasBulkOut(alt gousb.InterfaceSetting) bool {
	for _, ep := range alt.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut && ep.TransferType == gousb.TransferTypeBulk {
			return true
		}
	}
	return false
}

// Send performs one bulk write.
func (u *USB) Send(data []byte) error {
	u.mu.Lock()
	out, state := u.out, u.state
	u.mu.Unlock()

	if state != StateConnected || out == nil {
		return &WriteError{Err: fmt.Errorf("not connected")}
	}
	if _, err := out.Write(data); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// SendChunked splits data into bulk-transfer-sized writes.
func (u *USB) SendChunked(data []byte, onProgress ProgressFunc) error {
	return writeChunked(data, u.cfg.ChunkSize, u.cfg.InterChunkDelay, u.rawSend, onProgress)
}

func (u *USB) rawSend(chunk []byte) error {
	u.mu.Lock()
	out, state := u.out, u.state
	u.mu.Unlock()
	if state != StateConnected || out == nil {
		return fmt.Errorf("not connected")
	}
	_, err := out.Write(chunk)
	return err
}

// Disconnect releases the interface and closes the device. Best-effort.
func (u *USB) Disconnect() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disconnectLocked()
}

func (u *USB) disconnectLocked() {
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.usbCfg != nil {
		if err := u.usbCfg.Close(); err != nil {
			logger.Debug("USB config close error (ignored)", zap.Error(err))
		}
		u.usbCfg = nil
	}
	if u.dev != nil {
		if err := u.dev.Close(); err != nil {
			logger.Debug("USB device close error (ignored)", zap.Error(err))
		}
		u.dev = nil
	}
	if u.usbCtx != nil {
		if err := u.usbCtx.Close(); err != nil {
			logger.Debug("USB context close error (ignored)", zap.Error(err))
		}
		u.usbCtx = nil
	}
	u.out = nil
	u.state = StateDisconnected
}

func (u *USB) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}
