package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"github.com/nantokaworks/labelprint/internal/status"
	"github.com/nantokaworks/labelprint/internal/version"
	"go.uber.org/zap"
)

var httpServer *http.Server

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

func StartWebServer(port int) error {
	// プリンター状態の変化をWebSocketクライアントへ流す
	status.SetBroadcaster(func(eventType string, data interface{}) {
		BroadcastWSMessage(eventType, data)
	})

	mux := http.NewServeMux()

	RegisterPrinterRoutes(mux)
	RegisterWebSocketRoute(mux)

	// Status endpoint
	mux.HandleFunc("/status", handleStatus)

	addr := fmt.Sprintf(":%d", port)

	// 起動メッセージを表示（logger出力の前に）
	fmt.Println("")
	fmt.Println("====================================================")
	fmt.Printf("🖨  ラベルプリントサーバーが起動しました %s\n", version.String())
	fmt.Printf("📡 アクセスURL: http://localhost:%d/\n", port)
	fmt.Printf("🔧 環境変数 SERVER_PORT で変更可能\n")
	fmt.Println("====================================================")
	fmt.Println("")

	logger.Info("Starting web server", zap.String("address", addr))

	httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine and wait briefly to check for immediate errors
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func Shutdown() {
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

// handleStatus returns the current system status
func handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	statusData := map[string]interface{}{
		"printerConnected": status.IsPrinterConnected(),
		"printing":         jobRunning(),
		"version":          version.String(),
		"timestamp":        time.Now().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(statusData); err != nil {
		http.Error(w, "Failed to marshal status", http.StatusInternalServerError)
	}
}
