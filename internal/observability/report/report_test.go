package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiger/speakloop/api/pipeline"
)

type countingDisplay struct {
	calls int
}

func (d *countingDisplay) ShowStatus(pipeline.Status)  { d.calls++ }
func (d *countingDisplay) ShowTranscript(string, bool) { d.calls++ }
func (d *countingDisplay) ShowTranslation(string)      { d.calls++ }
func (d *countingDisplay) ShowBusy(bool)               { d.calls++ }
func (d *countingDisplay) ShowFailure(error)           { d.calls++ }

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * 10 * time.Millisecond)
	}
}

func TestRecorderForwardsAndRecords(t *testing.T) {
	t.Parallel()

	next := &countingDisplay{}
	rec := NewRecorder(next, RecorderConfig{
		SourceLanguage: "en",
		TargetLanguage: func() string { return "Spanish" },
		Now:            fixedClock(),
	})
	rec.ShowStatus(pipeline.StatusListening)
	rec.ShowTranscript("hello", false)
	rec.ShowTranscript("hello world", true)
	rec.ShowBusy(true)
	rec.ShowTranslation("hola mundo")
	rec.ShowBusy(false)
	rec.ShowFailure(pipeline.NewFailure(pipeline.KindSynthesisFailure, "overload", "provider_overload", errors.New("throttled")))
	rec.ShowFailure(errors.New("play audio: exit status 1"))

	if next.calls != 8 {
		t.Fatalf("expected 8 forwarded calls, got %d", next.calls)
	}
	entries := rec.Entries()
	if len(entries) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, e.Seq)
		}
		if err := e.Validate(); err != nil {
			t.Fatalf("entry %d invalid: %v", i, err)
		}
	}
	if entries[2].Kind != EntryTranscript || !entries[2].Final || entries[2].Text != "hello world" {
		t.Fatalf("unexpected final transcript entry: %+v", entries[2])
	}
	synth := entries[6]
	if synth.FailureKind != string(pipeline.KindSynthesisFailure) || synth.Class != "overload" || synth.Reason != "provider_overload" {
		t.Fatalf("unexpected synthesis failure entry: %+v", synth)
	}
	if entries[7].FailureKind != Unclassified {
		t.Fatalf("expected unclassified playback failure, got %+v", entries[7])
	}
	if entries[1].AtMS <= entries[0].AtMS {
		t.Fatalf("expected increasing offsets, got %d then %d", entries[0].AtMS, entries[1].AtMS)
	}
}

func TestRecorderRedactsSpeech(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, RecorderConfig{SourceLanguage: "en", RedactText: true})
	rec.ShowTranscript("hello world", true)
	rec.ShowTranslation("")
	entries := rec.Entries()
	if entries[0].Text != "[redacted 11 chars]" {
		t.Fatalf("expected redacted transcript, got %q", entries[0].Text)
	}
	if entries[1].Text != "" {
		t.Fatalf("expected empty text to stay empty, got %q", entries[1].Text)
	}
}

func TestRecorderCountsDroppedEntriesPastCapacity(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, RecorderConfig{SourceLanguage: "en", TargetLanguage: func() string { return "Dutch" }, Capacity: 2})
	for i := 0; i < 5; i++ {
		rec.ShowBusy(i%2 == 0)
	}
	snap := rec.Snapshot()
	if len(snap.Entries) != 2 || snap.Dropped != 3 {
		t.Fatalf("expected 2 entries and 3 dropped, got %d/%d", len(snap.Entries), snap.Dropped)
	}
	if snap.TargetLanguage != "Dutch" {
		t.Fatalf("expected target Dutch, got %q", snap.TargetLanguage)
	}
}

func TestWriteThenReadValidatesAgainstSchema(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, RecorderConfig{
		SourceLanguage: "en",
		TargetLanguage: func() string { return "Spanish" },
		Now:            fixedClock(),
	})
	rec.ShowStatus(pipeline.StatusReady)
	rec.ShowTranscript("hello world", true)
	rec.ShowTranslation("hola mundo")

	path := filepath.Join(t.TempDir(), "nested", "report.json")
	if err := rec.WriteFile(path); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if got.SchemaVersion != SchemaVersion || len(got.Entries) != 3 || got.Entries[2].Text != "hola mundo" {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestValidateBytesRejectsInvalidReports(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "unknown version",
			raw:  `{"schema_version":"v9","generated_at_utc":"x","source_language":"en","target_language":"Spanish","dropped_entries":0,"entries":[]}`,
			want: "schema",
		},
		{
			name: "unknown field",
			raw:  `{"schema_version":"v1","generated_at_utc":"x","source_language":"en","target_language":"Spanish","dropped_entries":0,"entries":[],"extra":1}`,
			want: "schema",
		},
		{
			name: "status entry without status",
			raw:  `{"schema_version":"v1","generated_at_utc":"x","source_language":"en","target_language":"Spanish","dropped_entries":0,"entries":[{"seq":1,"at_ms":0,"kind":"status"}]}`,
			want: "schema",
		},
		{
			name: "failure entry without kind",
			raw:  `{"schema_version":"v1","generated_at_utc":"x","source_language":"en","target_language":"Spanish","dropped_entries":0,"entries":[{"seq":1,"at_ms":0,"kind":"failure"}]}`,
			want: "schema",
		},
		{
			name: "non-increasing seq",
			raw:  `{"schema_version":"v1","generated_at_utc":"x","source_language":"en","target_language":"Spanish","dropped_entries":0,"entries":[{"seq":2,"at_ms":0,"kind":"busy"},{"seq":2,"at_ms":1,"kind":"busy"}]}`,
			want: "seq must increase",
		},
		{
			name: "not json",
			raw:  `{`,
			want: "decode report",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateBytes([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWriteRejectsMissingLanguages(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")
	if err := Write(path, Report{SourceLanguage: "en"}); err == nil {
		t.Fatalf("expected missing target language to fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file on validation failure, got %v", err)
	}
	if err := Write("", Report{}); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
