package printjob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/labelprint/internal/dither"
	"github.com/nantokaworks/labelprint/internal/transport"
)

// fakeTransport records every write so tests can assert on the exact
// byte stream the orchestrator produces.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	sends       [][]byte
	chunked     [][]byte

	failChunkedCall int // fail the Nth SendChunked (1-based), 0 = never
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SendChunked(data []byte, onProgress transport.ProgressFunc) error {
	f.mu.Lock()
	f.chunked = append(f.chunked, append([]byte(nil), data...))
	n := len(f.chunked)
	f.mu.Unlock()
	if f.failChunkedCall != 0 && n == f.failChunkedCall {
		return &transport.WriteError{Err: errors.New("device rejected write")}
	}
	if onProgress != nil {
		onProgress(0, 1, len(data))
	}
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) State() transport.State {
	if f.IsConnected() {
		return transport.StateConnected
	}
	return transport.StateDisconnected
}

func (f *fakeTransport) ChunkSize() int { return 128 }

type fakeJobLog struct {
	mu       sync.Mutex
	startID  string
	total    int
	finishID string
	status   string
	done     int
	err      error
}

func (f *fakeJobLog) Start(id, deviceName, model string, recordsTotal int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startID = id
	f.total = recordsTotal
	return nil
}

func (f *fakeJobLog) Finish(id, status string, recordsDone int, jobErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishID = id
	f.status = status
	f.done = recordsDone
	f.err = jobErr
	return nil
}

func whiteImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return img
}

func batchOf(n int, img image.Image, cfg LabelConfig) []BatchItem {
	items := make([]BatchItem, n)
	for i := range items {
		items[i] = BatchItem{Image: img, Config: cfg}
	}
	return items
}

func TestBatchCancelBetweenRecords(t *testing.T) {
	ft := &fakeTransport{}
	jl := &fakeJobLog{}
	o := New(ft, nil, jl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// D30 has no init sequence, so every record is exactly one chunked
	// write and the test stays fast.
	opts := Options{Model: "D30", InterRecordDelay: time.Millisecond}

	done, err := o.PrintBatch(ctx, batchOf(5, whiteImage(8, 96), LabelConfig{}), opts, func(p Progress) {
		if p.Stage == "record_done" && p.RecordIndex == 1 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("PrintBatch: %v", err)
	}
	if done != 2 {
		t.Fatalf("done = %d, want 2", done)
	}
	if len(ft.chunked) != 2 {
		t.Fatalf("chunked sends = %d, want 2 (no partial third record)", len(ft.chunked))
	}
	if jl.status != "cancelled" || jl.done != 2 {
		t.Fatalf("job log = %s/%d, want cancelled/2", jl.status, jl.done)
	}
	if ft.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", ft.disconnects)
	}
}

func TestBatchFailFast(t *testing.T) {
	ft := &fakeTransport{failChunkedCall: 2}
	jl := &fakeJobLog{}
	o := New(ft, nil, jl)

	opts := Options{Model: "D30", InterRecordDelay: time.Millisecond}
	done, err := o.PrintBatch(context.Background(), batchOf(4, whiteImage(8, 96), LabelConfig{}), opts, nil)
	if err == nil {
		t.Fatal("expected error from failing transport")
	}
	var we *transport.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want WriteError in chain", err)
	}
	if done != 1 {
		t.Fatalf("done = %d, want 1", done)
	}
	// Record 3 and 4 were never attempted.
	if len(ft.chunked) != 2 {
		t.Fatalf("chunked sends = %d, want 2", len(ft.chunked))
	}
	if jl.status != "failed" || jl.done != 1 {
		t.Fatalf("job log = %s/%d, want failed/1", jl.status, jl.done)
	}
}

func TestRotatedCombinedHeaderSharesFirstWrite(t *testing.T) {
	ft := &fakeTransport{}
	o := New(ft, nil, nil)

	// 8x96 source rotates to 96x8: exactly the D30's 96-dot width.
	err := o.PrintLabel(context.Background(), whiteImage(8, 96), LabelConfig{FeedDots: 40}, Options{Model: "D30"})
	if err != nil {
		t.Fatalf("PrintLabel: %v", err)
	}

	if len(ft.chunked) != 1 {
		t.Fatalf("chunked sends = %d, want 1", len(ft.chunked))
	}
	wantPrefix := []byte{0x1B, 0x40, 0x1D, 0x76, 0x30, 0x00, 12, 0, 8, 0}
	got := ft.chunked[0]
	if !bytes.HasPrefix(got, wantPrefix) {
		t.Fatalf("first write prefix = % X, want % X", got[:10], wantPrefix)
	}
	if len(got) != len(wantPrefix)+12*8 {
		t.Fatalf("combined write len = %d, want %d", len(got), len(wantPrefix)+12*8)
	}
	// Header never goes out as its own packet; only the feed does.
	if len(ft.sends) != 1 || !bytes.Equal(ft.sends[0], []byte{0x1B, 0x4A, 40}) {
		t.Fatalf("plain sends = %v, want single feed", ft.sends)
	}
}

func TestEscposDeliveryOrder(t *testing.T) {
	ft := &fakeTransport{}
	o := New(ft, nil, nil)

	err := o.PrintLabel(context.Background(), whiteImage(576, 8), LabelConfig{}, Options{Model: "M260"})
	if err != nil {
		t.Fatalf("PrintLabel: %v", err)
	}

	// INIT, LINE_SPACING, ALIGN, DENSITY, raster header as separate
	// writes, then the payload chunked.
	want := [][]byte{
		{0x1B, 0x40},
		{0x1B, 0x33, 0x00},
		{0x1B, 0x61, 0x01},
		{0x1D, 0x7C, 0x03}, // default density 3
		{0x1D, 0x76, 0x30, 0x00, 72, 0, 8, 0},
	}
	if len(ft.sends) != len(want) {
		t.Fatalf("plain sends = %d, want %d", len(ft.sends), len(want))
	}
	for i, w := range want {
		if !bytes.Equal(ft.sends[i], w) {
			t.Fatalf("send[%d] = % X, want % X", i, ft.sends[i], w)
		}
	}
	if len(ft.chunked) != 1 || len(ft.chunked[0]) != 72*8 {
		t.Fatalf("payload = %d writes, want 1 of %d bytes", len(ft.chunked), 72*8)
	}
	for _, b := range ft.chunked[0] {
		if b != 0 {
			t.Fatal("white label produced ink bytes")
		}
	}
}

func TestTsplForcesThresholdAndInvertsInk(t *testing.T) {
	ft := &fakeTransport{}
	o := New(ft, nil, nil)

	var applied dither.Mode
	items := []BatchItem{{Image: whiteImage(96, 32), Config: LabelConfig{DitherMode: dither.ModeAuto}}}
	done, err := o.PrintBatch(context.Background(), items, Options{Model: "P12", Density: 5}, func(p Progress) {
		applied = p.DitherMode
	})
	if err != nil || done != 1 {
		t.Fatalf("PrintBatch = %d, %v", done, err)
	}

	if applied != dither.ModeThreshold {
		t.Fatalf("applied dither = %v, want threshold (auto is overridden for TSPL)", applied)
	}

	if len(ft.sends) < 2 {
		t.Fatalf("sends = %d, want init directives plus header and trailer", len(ft.sends))
	}
	if !bytes.Equal(ft.sends[0], []byte("SIZE 12 mm,4 mm\r\n")) {
		t.Fatalf("first directive = %q", ft.sends[0])
	}
	var sawHeader bool
	for _, s := range ft.sends {
		if bytes.Equal(s, []byte("BITMAP 0,0,12,32,0,")) {
			sawHeader = true
		}
	}
	if !sawHeader {
		t.Fatal("BITMAP directive not sent")
	}
	if !bytes.Equal(ft.sends[len(ft.sends)-1], []byte("\r\nPRINT 1,1\r\n")) {
		t.Fatalf("last directive = %q", ft.sends[len(ft.sends)-1])
	}

	// White label: the encoder emits zero bytes, TSPL needs them
	// inverted to 0xFF (0-bit prints black).
	if len(ft.chunked) != 1 || len(ft.chunked[0]) != 12*32 {
		t.Fatalf("payload = %d writes of %d bytes", len(ft.chunked), len(ft.chunked[0]))
	}
	for _, b := range ft.chunked[0] {
		if b != 0xFF {
			t.Fatal("TSPL payload not ink-inverted")
		}
	}
}

func TestDryRunNeverTouchesTransport(t *testing.T) {
	ft := &fakeTransport{}
	jl := &fakeJobLog{}
	o := New(ft, nil, jl)

	done, err := o.PrintBatch(context.Background(),
		batchOf(2, whiteImage(8, 96), LabelConfig{}),
		Options{Model: "D30", DryRun: true, InterRecordDelay: time.Millisecond}, nil)
	if err != nil || done != 2 {
		t.Fatalf("PrintBatch = %d, %v", done, err)
	}
	if ft.connects != 0 || len(ft.sends) != 0 || len(ft.chunked) != 0 {
		t.Fatalf("dry run touched transport: connects=%d sends=%d chunked=%d",
			ft.connects, len(ft.sends), len(ft.chunked))
	}
	if jl.status != "done" || jl.done != 2 {
		t.Fatalf("job log = %s/%d, want done/2", jl.status, jl.done)
	}
}

func TestResolveFailureReturnsBeforeConnect(t *testing.T) {
	ft := &fakeTransport{}
	o := New(ft, nil, nil)

	_, err := o.PrintBatch(context.Background(),
		batchOf(1, whiteImage(8, 8), LabelConfig{}),
		Options{DeviceName: "UnknownDevice-99"}, nil)
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if ft.connects != 0 {
		t.Fatal("connected despite failed profile resolution")
	}
}
