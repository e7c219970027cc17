package transport

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func isRunningInAppBundleDarwin() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	// When launched as a proper macOS app (via LaunchServices), the executable lives under:
	//   Something.app/Contents/MacOS/<exe>
	// BLE access from a plain CLI process can SIGABRT if usage descriptions aren't available.
	return strings.Contains(exe, ".app/Contents/MacOS/")
}

// ensureBLESafeToUse prevents macOS-specific abort traps when CoreBluetooth is
// touched from a non-bundled CLI process (missing Info.plist usage descriptions).
func ensureBLESafeToUse() error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	if isRunningInAppBundleDarwin() {
		return nil
	}
	return fmt.Errorf("macOS requires launching from a .app bundle for Bluetooth access (plain CLI processes abort)")
}

// shouldRetryDeviceInit matches the transient adapter state right after
// startup: go-ble/cbgo briefly reports ManagerStateUnknown (have=0).
func shouldRetryDeviceInit(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "central manager has invalid state") && strings.Contains(msg, "have=0")
}

func wrapBLEInitError(err error) error {
	if err == nil {
		return nil
	}
	// Improve the common go-ble error message on macOS.
	if runtime.GOOS == "darwin" && strings.Contains(err.Error(), "central manager has invalid state") {
		return fmt.Errorf("%w (macOS: check Bluetooth is on and the app is allowed under Privacy & Security > Bluetooth)", err)
	}
	return err
}
