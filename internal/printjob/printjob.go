package printjob

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/labelprint/internal/dither"
	"github.com/nantokaworks/labelprint/internal/profile"
	"github.com/nantokaworks/labelprint/internal/protocol"
	"github.com/nantokaworks/labelprint/internal/rasterize"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"github.com/nantokaworks/labelprint/internal/status"
	"github.com/nantokaworks/labelprint/internal/transport"
	"go.uber.org/zap"
)

// LabelConfig describes how one bitmap becomes a label.
type LabelConfig struct {
	DitherMode    dither.Mode
	DitherOptions dither.Options

	MarginPx    int
	OffsetBytes int
	VOffsetDots int

	FeedDots int // post-label feed, escpos/rotated families
}

// BatchItem pairs one bitmap with its label configuration.
type BatchItem struct {
	Image  image.Image
	Config LabelConfig
}

// Options applies to a whole job.
type Options struct {
	DeviceName  string // advertised device name, used for auto resolution
	Model       string // explicit model override ("" = auto)
	TapeWidthMm int    // 12/15 for tape models, 0 = profile default
	Density     int    // 1..8, 0 = default 3

	// InterRecordDelay lets the printer mechanically advance/cut
	// between batch records. 0 means the 500ms default.
	InterRecordDelay time.Duration

	// DryRun renders and encodes but never touches the transport.
	DryRun bool

	// DebugOutputDir, when set, receives a PNG dump of each dithered
	// bitmap before encoding. 印字結果がおかしい時の切り分け用。
	DebugOutputDir string
}

func (o Options) density() int {
	if o.Density == 0 {
		return 3
	}
	return o.Density
}

func (o Options) interRecordDelay() time.Duration {
	if o.InterRecordDelay == 0 {
		return 500 * time.Millisecond
	}
	return o.InterRecordDelay
}

// Progress is reported to the job's progress sink.
type Progress struct {
	JobID        string      `json:"job_id"`
	Stage        string      `json:"stage"` // "record_start", "chunk", "record_done"
	RecordIndex  int         `json:"record_index"`
	RecordsTotal int         `json:"records_total"`
	ChunkIndex   int         `json:"chunk_index"`
	ChunksTotal  int         `json:"chunks_total"`
	BytesSent    int         `json:"bytes_sent"`
	DitherMode   dither.Mode `json:"-"`
	DitherName   string      `json:"dither_mode"`
}

// ProgressFunc receives job progress. May be nil.
type ProgressFunc func(Progress)

// JobRecorder persists job history (implemented by localdb.JobLog).
type JobRecorder interface {
	Start(id, deviceName, model string, recordsTotal int) error
	Finish(id, status string, recordsDone int, jobErr error) error
}

// Orchestrator sequences profile resolution, dithering, raster encoding,
// protocol framing and chunked delivery. It owns the transport session
// exclusively for the duration of one job; jobs never run concurrently.
type Orchestrator struct {
	transport transport.Transport
	mappings  profile.MappingStore // may be nil
	jobs      JobRecorder          // may be nil
}

// New creates an orchestrator. mappings and jobs may be nil.
func New(t transport.Transport, mappings profile.MappingStore, jobs JobRecorder) *Orchestrator {
	return &Orchestrator{transport: t, mappings: mappings, jobs: jobs}
}

// ResolveProfile exposes profile resolution with this orchestrator's
// mapping store (entry point for the UI layer).
func (o *Orchestrator) ResolveProfile(deviceName, model string, tapeWidthMm int) (profile.Profile, error) {
	return profile.Resolve(deviceName, model, tapeWidthMm, o.mappings)
}

// PrintLabel prints a single label.
func (o *Orchestrator) PrintLabel(ctx context.Context, img image.Image, cfg LabelConfig, opts Options) error {
	done, err := o.PrintBatch(ctx, []BatchItem{{Image: img, Config: cfg}}, opts, nil)
	if err != nil {
		return err
	}
	if done != 1 {
		// ctx cancellation before the only record started
		return fmt.Errorf("print cancelled: %w", ctx.Err())
	}
	return nil
}

// PrintBatch prints items in order and returns how many records
// completed. Cancellation (via ctx) is honored only between records:
// aborting mid-transmission would leave the printer holding a partial
// raster frame. A transmission failure aborts all remaining records.
func (o *Orchestrator) PrintBatch(ctx context.Context, items []BatchItem, opts Options, onProgress ProgressFunc) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	prof, err := o.ResolveProfile(opts.DeviceName, opts.Model, opts.TapeWidthMm)
	if err != nil {
		return 0, err
	}

	jobID, err := gonanoid.New()
	if err != nil {
		return 0, fmt.Errorf("failed to generate job id: %w", err)
	}

	logger.Info("Print job starting",
		zap.String("job_id", jobID),
		zap.String("model", prof.Model),
		zap.String("family", prof.Family.String()),
		zap.Int("records", len(items)),
		zap.Bool("dry_run", opts.DryRun))

	if o.jobs != nil {
		if err := o.jobs.Start(jobID, opts.DeviceName, prof.Model, len(items)); err != nil {
			logger.Warn("Failed to record job start", zap.Error(err))
		}
	}

	// Connect-Print-Disconnect for every job: fresh printer state each
	// time, and the session is released the moment we are done.
	if !opts.DryRun {
		if err := o.transport.Connect(ctx); err != nil {
			o.finishJob(jobID, "failed", 0, err)
			return 0, err
		}
		status.SetPrinterConnected(true)
		defer func() {
			o.transport.Disconnect()
			status.SetPrinterConnected(false)
		}()
	}

	done := 0
	for i, item := range items {
		// キャンセルはレコード境界でのみ確認する（送信途中では見ない）
		select {
		case <-ctx.Done():
			logger.Info("Print job cancelled between records",
				zap.String("job_id", jobID), zap.Int("completed", done))
			o.finishJob(jobID, "cancelled", done, nil)
			return done, nil
		default:
		}

		if i > 0 {
			// 印字後の紙送り/カット動作待ち
			time.Sleep(opts.interRecordDelay())
		}

		if err := o.printRecord(jobID, i, len(items), item, prof, opts, onProgress); err != nil {
			// Fail fast: the printer's buffer state after a failed
			// write is unknown, remaining records are aborted.
			logger.Error("Print record failed, aborting batch",
				zap.String("job_id", jobID),
				zap.Int("record", i),
				zap.Int("completed", done),
				zap.Error(err))
			o.finishJob(jobID, "failed", done, err)
			return done, err
		}
		done++
	}

	logger.Info("Print job completed",
		zap.String("job_id", jobID), zap.Int("records", done))
	o.finishJob(jobID, "done", done, nil)
	return done, nil
}

func (o *Orchestrator) finishJob(jobID, state string, done int, err error) {
	if o.jobs == nil {
		return
	}
	if logErr := o.jobs.Finish(jobID, state, done, err); logErr != nil {
		logger.Warn("Failed to record job finish", zap.Error(logErr))
	}
}

// effectiveDitherMode applies the family rule: TSPL labels carry
// scannable edges, so error diffusion is never allowed there.
func effectiveDitherMode(requested dither.Mode, family profile.Family) dither.Mode {
	if family == profile.FamilyTspl {
		return dither.ModeThreshold
	}
	return requested
}

func (o *Orchestrator) printRecord(jobID string, index, total int, item BatchItem, prof profile.Profile, opts Options, onProgress ProgressFunc) error {
	mode := effectiveDitherMode(item.Config.DitherMode, prof.Family)

	report := func(p Progress) {
		if onProgress != nil {
			p.JobID = jobID
			p.RecordIndex = index
			p.RecordsTotal = total
			p.DitherMode = mode
			p.DitherName = mode.String()
			onProgress(p)
		}
	}

	report(Progress{Stage: "record_start"})

	mono := dither.Apply(item.Image, mode, item.Config.DitherOptions)

	if opts.DebugOutputDir != "" {
		dumpDebugBitmap(opts.DebugOutputDir, jobID, index, mono)
	}

	pkt, clip := rasterize.Encode(mono, prof, rasterize.Options{
		MarginPx:    item.Config.MarginPx,
		OffsetBytes: item.Config.OffsetBytes,
		VOffsetDots: item.Config.VOffsetDots,
	})
	if clip != nil {
		// 非致命。パケット自体は正しい形なのでそのまま送る
		logger.Warn("Raster clipped to printable width",
			zap.String("job_id", jobID),
			zap.Int("record", index),
			zap.Int("pixels_lost", clip.PixelsLost))
	}

	plan := protocol.BuildPlan(prof, opts.density(), pkt.WidthBytes, pkt.Rows, item.Config.FeedDots)

	payload := pkt.Data
	if plan.InvertPayload {
		inv := make([]byte, len(payload))
		for i, b := range payload {
			inv[i] = ^b
		}
		payload = inv
	}

	if opts.DryRun {
		logger.Info("DRY-RUN: skipping transport delivery",
			zap.String("job_id", jobID),
			zap.Int("record", index),
			zap.Int("payload_bytes", len(payload)))
		report(Progress{Stage: "record_done", BytesSent: len(payload)})
		return nil
	}

	if err := o.sendSequence(plan.Init); err != nil {
		return err
	}

	chunkProgress := func(chunkIndex, chunksTotal, bytesSent int) {
		report(Progress{
			Stage:       "chunk",
			ChunkIndex:  chunkIndex,
			ChunksTotal: chunksTotal,
			BytesSent:   bytesSent,
		})
	}

	if plan.CombinedHeaderWrite {
		// ヘッダ単独のパケットを捨てるファームウェアがあるので、
		// ヘッダとピクセルデータ先頭を同じwriteに乗せる
		combined := make([]byte, 0, len(plan.Header)+len(payload))
		combined = append(combined, plan.Header...)
		combined = append(combined, payload...)
		if err := o.transport.SendChunked(combined, chunkProgress); err != nil {
			return err
		}
	} else {
		if len(plan.Header) > 0 {
			if err := o.transport.Send(plan.Header); err != nil {
				return err
			}
		}
		if err := o.transport.SendChunked(payload, chunkProgress); err != nil {
			return err
		}
	}

	if err := o.sendSequence(plan.Trailer); err != nil {
		return err
	}

	report(Progress{Stage: "record_done", BytesSent: len(payload)})
	return nil
}

// dumpDebugBitmap saves the dithered bitmap for offline inspection.
// Failures are logged, never fatal.
func dumpDebugBitmap(dir, jobID string, index int, img image.Image) {
	name := filepath.Join(dir, fmt.Sprintf("%s_%02d.png", jobID, index))
	f, err := os.Create(name)
	if err != nil {
		logger.Warn("Failed to create debug bitmap file", zap.String("path", name), zap.Error(err))
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		logger.Warn("Failed to encode debug bitmap", zap.Error(err))
	}
}

func (o *Orchestrator) sendSequence(seq protocol.Sequence) error {
	for _, seg := range seq {
		if len(seg.Data) == 0 {
			continue
		}
		if err := o.transport.Send(seg.Data); err != nil {
			return err
		}
		if seg.DelayAfter > 0 {
			time.Sleep(seg.DelayAfter)
		}
	}
	return nil
}
