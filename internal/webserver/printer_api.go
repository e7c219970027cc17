package webserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/nantokaworks/labelprint/internal/dither"
	"github.com/nantokaworks/labelprint/internal/env"
	"github.com/nantokaworks/labelprint/internal/localdb"
	"github.com/nantokaworks/labelprint/internal/printjob"
	"github.com/nantokaworks/labelprint/internal/profile"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"github.com/nantokaworks/labelprint/internal/shared/paths"
	"github.com/nantokaworks/labelprint/internal/status"
	"github.com/nantokaworks/labelprint/internal/testprint"
	"github.com/nantokaworks/labelprint/internal/transport"
	"go.uber.org/zap"
)

var (
	printOrch *printjob.Orchestrator
	mappings  *localdb.DeviceMappings
	jobLog    *localdb.JobLog
	scanner   *transport.BLE // nil when the configured transport is USB

	// 同時に走れる印刷ジョブは1つだけ
	jobMu     sync.Mutex
	jobCancel context.CancelFunc
)

// SetOrchestrator installs the print job orchestrator the API drives.
func SetOrchestrator(o *printjob.Orchestrator) { printOrch = o }

// SetStores installs the persistence handles used by the API.
func SetStores(m *localdb.DeviceMappings, j *localdb.JobLog) {
	mappings = m
	jobLog = j
}

// SetScanner installs the BLE transport used for device discovery.
func SetScanner(b *transport.BLE) { scanner = b }

// RegisterPrinterRoutes registers the printer API endpoints.
func RegisterPrinterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/printer/scan", corsMiddleware(handlePrinterScan))
	mux.HandleFunc("/api/printer/resolve", corsMiddleware(handlePrinterResolve))
	mux.HandleFunc("/api/printer/print", corsMiddleware(handlePrinterPrint))
	mux.HandleFunc("/api/printer/batch", corsMiddleware(handlePrinterBatch))
	mux.HandleFunc("/api/printer/cancel", corsMiddleware(handlePrinterCancel))
	mux.HandleFunc("/api/printer/status", corsMiddleware(handlePrinterStatus))
	mux.HandleFunc("/api/printer/test", corsMiddleware(handlePrinterTestPrint))
	mux.HandleFunc("/api/printer/jobs", corsMiddleware(handlePrinterJobs))
	mux.HandleFunc("/api/printer/mappings", corsMiddleware(handleDeviceMappings))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"error": msg})
}

func jobRunning() bool {
	jobMu.Lock()
	defer jobMu.Unlock()
	return jobCancel != nil
}

// startJob claims the single job slot and runs fn in a goroutine. Returns
// false when another job is already running.
func startJob(fn func(ctx context.Context)) bool {
	jobMu.Lock()
	if jobCancel != nil {
		jobMu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	jobCancel = cancel
	jobMu.Unlock()

	go func() {
		defer func() {
			jobMu.Lock()
			jobCancel = nil
			jobMu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// labelRequest is the JSON shape shared by the print/batch endpoints.
type labelRequest struct {
	Image          string `json:"image"` // base64、data URLプレフィックス可
	Dither         string `json:"dither"`
	ThresholdLevel int    `json:"threshold_level"`
	MatrixSize     int    `json:"matrix_size"`
	MarginPx       int    `json:"margin_px"`
	OffsetBytes    int    `json:"offset_bytes"`
	VOffsetDots    int    `json:"v_offset_dots"`
	FeedDots       int    `json:"feed_dots"`
}

type printRequest struct {
	labelRequest
	printTarget
}

type batchRequest struct {
	Items []labelRequest `json:"items"`
	printTarget
}

type printTarget struct {
	Device      string `json:"device"`
	Model       string `json:"model"`
	TapeWidthMm int    `json:"tape_width_mm"`
	Density     int    `json:"density"`
}

func (t printTarget) options() printjob.Options {
	opts := printjob.Options{
		DeviceName:       t.Device,
		Model:            t.Model,
		TapeWidthMm:      t.TapeWidthMm,
		Density:          t.Density,
		InterRecordDelay: env.Value.InterRecordDelay,
		DryRun:           env.Value.DryRunMode,
	}
	if opts.Model == "" && opts.DeviceName == "" {
		opts.Model = env.Value.PrinterModel
	}
	if opts.Density == 0 {
		opts.Density = env.Value.Density
	}
	if opts.TapeWidthMm == 0 {
		opts.TapeWidthMm = env.Value.TapeWidthMm
	}
	if env.Value.DebugOutput {
		opts.DebugOutputDir = paths.GetOutputDir()
	}
	return opts
}

func (l labelRequest) config() printjob.LabelConfig {
	return printjob.LabelConfig{
		DitherMode: dither.ParseMode(l.Dither),
		DitherOptions: dither.Options{
			Level:      uint8(l.ThresholdLevel),
			MatrixSize: l.MatrixSize,
		},
		MarginPx:    l.MarginPx,
		OffsetBytes: l.OffsetBytes,
		VOffsetDots: l.VOffsetDots,
		FeedDots:    l.FeedDots,
	}
}

func decodeLabelImage(encoded string) (image.Image, error) {
	// data URL形式（"data:image/png;base64,..."）にも対応
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	return img, err
}

func wsProgress(p printjob.Progress) {
	BroadcastWSMessage("print_progress", p)
}

func runBatch(items []printjob.BatchItem, opts printjob.Options) bool {
	return startJob(func(ctx context.Context) {
		count, err := printOrch.PrintBatch(ctx, items, opts, wsProgress)
		if err != nil {
			logger.Error("Print job failed", zap.Int("completed", count), zap.Error(err))
			BroadcastWSMessage("print_failed", map[string]interface{}{
				"completed": count,
				"error":     err.Error(),
			})
			return
		}
		event := "print_done"
		if count < len(items) {
			event = "print_cancelled"
		}
		BroadcastWSMessage(event, map[string]interface{}{
			"completed": count,
			"total":     len(items),
		})
	})
}

// handlePrinterScan scans for advertising BLE printers.
func handlePrinterScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if scanner == nil {
		// USB構成ではスキャン対象がない
		writeJSON(w, http.StatusOK, map[string]interface{}{"devices": []transport.Device{}})
		return
	}
	if jobRunning() {
		writeJSONError(w, http.StatusConflict, "print job in progress")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), env.Value.BLEScanTimeout)
	defer cancel()

	devices, err := scanner.ScanDevices(ctx)
	if err != nil {
		logger.Error("BLE scan failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// handlePrinterResolve resolves a device name to a printer profile. An
// unrecognized name returns 409 with the model list so the UI can ask
// the user to pick one.
func handlePrinterResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	device := r.URL.Query().Get("device")
	model := r.URL.Query().Get("model")
	tapeWidth, _ := strconv.Atoi(r.URL.Query().Get("tape_width_mm"))

	prof, err := printOrch.ResolveProfile(device, model, tapeWidth)
	if err != nil {
		var ambiguous *profile.AmbiguousDeviceError
		if errors.As(err, &ambiguous) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":        ambiguous.Error(),
				"device":       ambiguous.DeviceName,
				"known_models": profile.KnownModels(),
			})
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":         prof.Model,
		"family":        prof.Family.String(),
		"width_dots":    prof.WidthDots(),
		"width_bytes":   prof.WidthBytes,
		"dpi":           prof.DPI,
		"rotated":       prof.Rotated,
		"tape_width_mm": prof.TapeWidthMm,
		"height_preset": prof.LabelHeightPreset(),
	})
}

// handlePrinterPrint prints a single label.
func handlePrinterPrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req printRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	img, err := decodeLabelImage(req.Image)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to decode image: "+err.Error())
		return
	}

	items := []printjob.BatchItem{{Image: img, Config: req.config()}}
	if !runBatch(items, req.options()) {
		writeJSONError(w, http.StatusConflict, "print job in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "records": 1})
}

// handlePrinterBatch prints several labels as one job.
func handlePrinterBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "items is empty")
		return
	}

	items := make([]printjob.BatchItem, 0, len(req.Items))
	for i, item := range req.Items {
		img, err := decodeLabelImage(item.Image)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest,
				"failed to decode image at index "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		items = append(items, printjob.BatchItem{Image: img, Config: item.config()})
	}

	if !runBatch(items, req.options()) {
		writeJSONError(w, http.StatusConflict, "print job in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "records": len(items)})
}

// handlePrinterCancel requests a graceful stop of the running job. The
// job finishes its current record first; nothing is aborted mid-label.
func handlePrinterCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobMu.Lock()
	cancel := jobCancel
	jobMu.Unlock()

	if cancel == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "idle"})
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cancelling"})
}

// handlePrinterStatus reports connection and job state.
func handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": status.IsPrinterConnected(),
		"printing":  jobRunning(),
		"dry_run":   env.Value.DryRunMode,
	})
}

// handlePrinterTestPrint prints the built-in test label.
func handlePrinterTestPrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req printTarget
	if r.Body != nil {
		// ボディ省略時は環境変数のデフォルトを使う
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	opts := req.options()

	prof, err := printOrch.ResolveProfile(opts.DeviceName, opts.Model, opts.TapeWidthMm)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	img, err := testprint.Build(prof)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := []printjob.BatchItem{{Image: img, Config: printjob.LabelConfig{
		DitherMode: dither.ModeFloydSteinberg, // グラデーション帯の確認用
		FeedDots:   40,
	}}}
	if !runBatch(items, opts) {
		writeJSONError(w, http.StatusConflict, "print job in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"model":  prof.Model,
	})
}

// handlePrinterJobs returns recent job history.
func handlePrinterJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if jobLog == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []localdb.JobRecord{}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := jobLog.Recent(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []localdb.JobRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleDeviceMappings manages persisted device-name → model choices.
func handleDeviceMappings(w http.ResponseWriter, r *http.Request) {
	if mappings == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "database not initialized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := mappings.List()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []localdb.Mapping{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": list})

	case http.MethodPost:
		var req localdb.Mapping
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.DeviceName == "" || req.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "device_name and model are required")
			return
		}
		if _, ok := profile.ByModel(req.Model); !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown model "+req.Model)
			return
		}
		if err := mappings.Save(req.DeviceName, req.Model, req.TapeWidthMm); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "saved"})

	case http.MethodDelete:
		device := r.URL.Query().Get("device")
		if device == "" {
			writeJSONError(w, http.StatusBadRequest, "device query parameter required")
			return
		}
		if err := mappings.Delete(device); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
