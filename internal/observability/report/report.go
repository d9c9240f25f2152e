package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tiger/speakloop/api/pipeline"
)

// SchemaVersion identifies the report layout written by this package.
const SchemaVersion = "v1"

const schemaURL = "report.schema.json"

//go:embed report.schema.json
var schemaJSON string

// EntryKind names a display-level event.
type EntryKind string

const (
	EntryStatus      EntryKind = "status"
	EntryTranscript  EntryKind = "transcript"
	EntryTranslation EntryKind = "translation"
	EntryBusy        EntryKind = "busy"
	EntryFailure     EntryKind = "failure"
)

// Entry is one recorded display update.
type Entry struct {
	Seq    int       `json:"seq"`
	AtMS   int64     `json:"at_ms"`
	Kind   EntryKind `json:"kind"`
	Status string    `json:"status,omitempty"`
	Text   string    `json:"text,omitempty"`
	Final  bool      `json:"final,omitempty"`
	Busy   bool      `json:"busy,omitempty"`
	// Failure fields are set only for EntryFailure.
	FailureKind string `json:"failure_kind,omitempty"`
	Class       string `json:"outcome_class,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Validate enforces per-kind required fields.
func (e Entry) Validate() error {
	if e.Seq < 1 {
		return fmt.Errorf("entry seq must be >=1")
	}
	if e.AtMS < 0 {
		return fmt.Errorf("entry at_ms must be >=0")
	}
	switch e.Kind {
	case EntryStatus:
		if err := pipeline.Status(e.Status).Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", e.Seq, err)
		}
	case EntryTranscript, EntryTranslation, EntryBusy:
	case EntryFailure:
		if e.FailureKind == "" {
			return fmt.Errorf("entry %d: failure_kind is required", e.Seq)
		}
	default:
		return fmt.Errorf("entry %d: invalid kind %q", e.Seq, e.Kind)
	}
	return nil
}

// Report is the persisted record of one interactive run.
type Report struct {
	SchemaVersion  string  `json:"schema_version"`
	GeneratedAt    string  `json:"generated_at_utc"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
	Dropped        int     `json:"dropped_entries"`
	Entries        []Entry `json:"entries"`
}

// Validate checks version, language fields and entry ordering.
func (r Report) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported report schema_version: %s", r.SchemaVersion)
	}
	if strings.TrimSpace(r.SourceLanguage) == "" || strings.TrimSpace(r.TargetLanguage) == "" {
		return fmt.Errorf("source_language and target_language are required")
	}
	if r.Dropped < 0 {
		return fmt.Errorf("dropped_entries must be >=0")
	}
	for i, e := range r.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if i > 0 && e.Seq <= r.Entries[i-1].Seq {
			return fmt.Errorf("entry seq must increase: %d after %d", e.Seq, r.Entries[i-1].Seq)
		}
	}
	return nil
}

// Write stores r as indented JSON, creating parent directories.
func Write(path string, r Report) error {
	if path == "" {
		return fmt.Errorf("report path is required")
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = SchemaVersion
	}
	if r.GeneratedAt == "" {
		r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if r.Entries == nil {
		r.Entries = []Entry{}
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// Read loads and fully validates a report file.
func Read(path string) (Report, error) {
	if path == "" {
		return Report{}, fmt.Errorf("report path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	if err := ValidateBytes(raw); err != nil {
		return Report{}, err
	}
	var r Report
	if err := strictUnmarshal(raw, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}

// ValidateBytes runs both the embedded JSON schema and the typed validator.
func ValidateBytes(raw []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	var r Report
	if err := strictUnmarshal(raw, &r); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	return r.Validate()
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("unexpected trailing JSON payload")
	}
	return nil
}
