package status

import (
	"sync"
)

// PrinterStatusChangeCallback is called when printer connection status changes
type PrinterStatusChangeCallback func(connected bool)

// Broadcaster pushes a status event to connected UI clients. Injected by
// the webserver to avoid an import cycle.
type Broadcaster func(eventType string, data interface{})

var (
	mu               sync.RWMutex
	printerConnected bool
	printerCallbacks []PrinterStatusChangeCallback
	broadcaster      Broadcaster
)

// SetBroadcaster installs the event push function.
func SetBroadcaster(b Broadcaster) {
	mu.Lock()
	defer mu.Unlock()
	broadcaster = b
}

// SetPrinterConnected sets the printer connection status
func SetPrinterConnected(connected bool) {
	mu.Lock()
	previousStatus := printerConnected
	printerConnected = connected
	callbacks := make([]PrinterStatusChangeCallback, len(printerCallbacks))
	copy(callbacks, printerCallbacks)
	b := broadcaster
	mu.Unlock()

	// 状態が変更された場合のみ通知
	if previousStatus != connected {
		eventType := "printer_disconnected"
		if connected {
			eventType = "printer_connected"
		}

		if b != nil {
			b(eventType, map[string]interface{}{"connected": connected})
		}

		for _, callback := range callbacks {
			if callback != nil {
				callback(connected)
			}
		}
	}
}

// IsPrinterConnected returns the printer connection status
func IsPrinterConnected() bool {
	mu.RLock()
	defer mu.RUnlock()
	return printerConnected
}

// RegisterPrinterStatusChangeCallback registers a callback for printer status changes
func RegisterPrinterStatusChangeCallback(callback PrinterStatusChangeCallback) {
	mu.Lock()
	defer mu.Unlock()
	printerCallbacks = append(printerCallbacks, callback)
}
