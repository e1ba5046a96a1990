package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/flemzord/skillgate/internal/security"
)

// truncationMarker matches the marker executors append to cut outputs.
const truncationMarker = "...(truncated)"

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Log   Log
	Blobs BlobStore

	// Redactor, if non-nil, scrubs input, output and error text before
	// anything is stored.
	Redactor *security.Redactor

	// Caps in bytes. Zero values get defaults: 8 KiB input, 16 KiB
	// output, 2 KiB error.
	MaxInputBytes  int
	MaxOutputBytes int
	MaxErrorBytes  int

	// Mirror, if non-nil, receives every stored record as a JSON line.
	Mirror io.Writer

	Logger *slog.Logger
	Now    func() time.Time
	NewRef func() string
}

// Recorder appends invocation records and fans them out to live
// subscribers.
type Recorder struct {
	log       Log
	blobs     BlobStore
	redactor  *security.Redactor
	maxInput  int
	maxOutput int
	maxError  int
	logger    *slog.Logger
	now       func() time.Time
	newRef    func() string

	mirrorMu sync.Mutex
	mirror   io.Writer

	subsMu sync.Mutex
	subs   map[chan Record]struct{}
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = 8 << 10
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 16 << 10
	}
	if cfg.MaxErrorBytes <= 0 {
		cfg.MaxErrorBytes = 2 << 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRef == nil {
		cfg.NewRef = uuid.NewString
	}
	return &Recorder{
		log:       cfg.Log,
		blobs:     cfg.Blobs,
		redactor:  cfg.Redactor,
		maxInput:  cfg.MaxInputBytes,
		maxOutput: cfg.MaxOutputBytes,
		maxError:  cfg.MaxErrorBytes,
		logger:    cfg.Logger.With("component", "audit"),
		now:       cfg.Now,
		newRef:    cfg.NewRef,
		mirror:    cfg.Mirror,
		subs:      make(map[chan Record]struct{}),
	}
}

// Append redacts and caps r, stores it and returns the stored record.
// An output over the cap is stored whole as a blob and the record keeps
// a capped preview plus the blob reference. The returned error is a
// persistence failure; it is the only error an invocation surfaces.
func (r *Recorder) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.ID = 0
	rec.OutputRef = ""

	rec.Input = capBytes(r.redact(rec.Input), r.maxInput)
	rec.Error = capBytes(r.redact(rec.Error), r.maxError)

	output := r.redact(rec.Output)
	rec.Output = capBytes(output, r.maxOutput)
	if rec.Output != output && r.blobs != nil {
		ref := r.newRef()
		if err := r.blobs.PutBlob(ctx, ref, output); err != nil {
			return Record{}, fmt.Errorf("storing audit blob: %w", err)
		}
		rec.OutputRef = ref
	}

	stored, err := r.log.AppendRecord(ctx, rec)
	if err != nil {
		if rec.OutputRef != "" {
			if derr := r.blobs.DeleteBlob(context.WithoutCancel(ctx), rec.OutputRef); derr != nil {
				r.logger.Warn("removing orphaned audit blob failed", "ref", rec.OutputRef, "error", derr)
			}
		}
		return Record{}, fmt.Errorf("appending audit record: %w", err)
	}

	r.writeMirror(stored)
	r.publish(stored)
	return stored, nil
}

func (r *Recorder) redact(s string) string {
	if r.redactor == nil || s == "" {
		return s
	}
	return r.redactor.Redact(s)
}

// writeMirror appends the record to the JSONL mirror. Mirror failures are
// logged only; the stored record is authoritative.
func (r *Recorder) writeMirror(rec Record) {
	if r.mirror == nil {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()
	if err := json.NewEncoder(r.mirror).Encode(rec); err != nil {
		r.logger.Warn("audit mirror write failed", "error", err)
	}
}

// Subscribe returns a channel receiving every record appended from now
// on, and a function that ends the subscription. Slow subscribers miss
// records rather than block the request path.
func (r *Recorder) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, ch)
			r.subsMu.Unlock()
			close(ch)
		})
	}
}

func (r *Recorder) publish(rec Record) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- rec:
		default:
			r.logger.Debug("audit subscriber lagging, record dropped", "id", rec.ID)
		}
	}
}

// capBytes cuts s to at most limit bytes on a rune boundary and appends
// the truncation marker.
func capBytes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
