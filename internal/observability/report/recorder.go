package report

import (
	"errors"
	"sync"
	"time"

	"github.com/tiger/speakloop/api/pipeline"
)

// DefaultCapacity bounds recorded entries per run.
const DefaultCapacity = 4096

// Unclassified marks failures outside the pipeline taxonomy, e.g. playback.
const Unclassified = "unclassified"

// RecorderConfig controls a Recorder.
type RecorderConfig struct {
	SourceLanguage string
	TargetLanguage func() string
	Capacity       int
	// RedactText replaces transcript and translation text with its length.
	RedactText bool
	Now        func() time.Time
}

// Recorder decorates a Display and keeps an ordered record of every update
// it forwards. Entries past capacity are counted and dropped.
type Recorder struct {
	next  pipeline.Display
	cfg   RecorderConfig
	start time.Time

	mu      sync.Mutex
	seq     int
	dropped int
	entries []Entry
}

// NewRecorder wraps next. A nil next records without forwarding.
func NewRecorder(next pipeline.Display, cfg RecorderConfig) *Recorder {
	if next == nil {
		next = pipeline.NopDisplay{}
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{next: next, cfg: cfg, start: cfg.Now()}
}

func (r *Recorder) ShowStatus(status pipeline.Status) {
	r.append(Entry{Kind: EntryStatus, Status: string(status)})
	r.next.ShowStatus(status)
}

func (r *Recorder) ShowTranscript(text string, final bool) {
	r.append(Entry{Kind: EntryTranscript, Text: r.text(text), Final: final})
	r.next.ShowTranscript(text, final)
}

func (r *Recorder) ShowTranslation(text string) {
	r.append(Entry{Kind: EntryTranslation, Text: r.text(text)})
	r.next.ShowTranslation(text)
}

func (r *Recorder) ShowBusy(busy bool) {
	r.append(Entry{Kind: EntryBusy, Busy: busy})
	r.next.ShowBusy(busy)
}

func (r *Recorder) ShowFailure(err error) {
	entry := Entry{Kind: EntryFailure, FailureKind: Unclassified, Message: pipeline.Message(err)}
	if kind := pipeline.KindOf(err); kind != "" {
		entry.FailureKind = string(kind)
	}
	var failure *pipeline.Failure
	if errors.As(err, &failure) {
		entry.Class = failure.Class
		entry.Reason = failure.Reason
	}
	r.append(entry)
	r.next.ShowFailure(err)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Snapshot builds a report from the current entries.
func (r *Recorder) Snapshot() Report {
	target := ""
	if r.cfg.TargetLanguage != nil {
		target = r.cfg.TargetLanguage()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return Report{
		SchemaVersion:  SchemaVersion,
		GeneratedAt:    r.cfg.Now().UTC().Format(time.RFC3339),
		SourceLanguage: r.cfg.SourceLanguage,
		TargetLanguage: target,
		Dropped:        r.dropped,
		Entries:        entries,
	}
}

// WriteFile writes the current snapshot to path.
func (r *Recorder) WriteFile(path string) error {
	return Write(path, r.Snapshot())
}

func (r *Recorder) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if len(r.entries) >= r.cfg.Capacity {
		r.dropped++
		return
	}
	e.Seq = r.seq
	e.AtMS = r.cfg.Now().Sub(r.start).Milliseconds()
	if e.AtMS < 0 {
		e.AtMS = 0
	}
	r.entries = append(r.entries, e)
}

func (r *Recorder) text(s string) string {
	if !r.cfg.RedactText || s == "" {
		return s
	}
	return redacted(len([]rune(s)))
}
