package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/nantokaworks/labelprint/internal/env"
	"github.com/nantokaworks/labelprint/internal/localdb"
	"github.com/nantokaworks/labelprint/internal/printjob"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"github.com/nantokaworks/labelprint/internal/shared/paths"
	"github.com/nantokaworks/labelprint/internal/transport"
	"github.com/nantokaworks/labelprint/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting labelprint server")

	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	db, err := localdb.SetupDB(paths.GetDBPath())
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}

	mappings := localdb.NewDeviceMappings(db)
	jobs := localdb.NewJobLog(db)

	tr := buildTransport()
	orch := printjob.New(tr, mappings, jobs)

	webserver.SetOrchestrator(orch)
	webserver.SetStores(mappings, jobs)
	if ble, ok := tr.(*transport.BLE); ok {
		webserver.SetScanner(ble)
	}

	if env.Value.DryRunMode {
		logger.Info("DRY_RUN_MODE is enabled: jobs render and encode but never touch hardware")
	}

	// NOTE: On macOS, touching Bluetooth from a non-bundled CLI can SIGABRT
	// if the process has no Info.plist with the usage descriptions. The BLE
	// transport checks this before the first scan/connect.
	if runtime.GOOS == "darwin" && env.Value.PrinterType == "ble" {
		logger.Info("macOS detected: BLE requires running from an app bundle with Bluetooth usage descriptions")
	}

	port := 8080
	if env.Value.ServerPort != 0 {
		port = env.Value.ServerPort
	}

	if err := webserver.StartWebServer(port); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/printer/", port)),
		zap.String("transport", env.Value.PrinterType))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	webserver.Shutdown()
	tr.Disconnect()

	logger.Info("Shutdown complete")
}
