package catalog

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultCode is returned for display names the catalog does not know.
	DefaultCode = "en"
	// DefaultVoice is used for any language code without a mapped voice.
	DefaultVoice = "Kendra"
	// EnglishName is the only target offered when the source is not English.
	EnglishName = "English"
)

// Entry maps one target language to a translation code and an optional voice.
type Entry struct {
	DisplayName string `json:"display_name"`
	Code        string `json:"code"`
	VoiceID     string `json:"voice_id,omitempty"`
}

// Catalog is an immutable language table. Safe for concurrent use.
type Catalog struct {
	entries      []Entry
	byName       map[string]Entry
	voiceByCode  map[string]string
	defaultVoice string
}

var defaultCatalog = mustNew([]Entry{
	{DisplayName: "Dutch", Code: "nl", VoiceID: "Lotte"},
	{DisplayName: EnglishName, Code: "en"},
	{DisplayName: "French", Code: "fr", VoiceID: "Chantal"},
	{DisplayName: "German", Code: "de", VoiceID: "Hans"},
	{DisplayName: "Italian", Code: "it", VoiceID: "Carla"},
	{DisplayName: "Japanese", Code: "ja", VoiceID: "Mizuki"},
	{DisplayName: "Polish", Code: "pl", VoiceID: "Maja"},
	{DisplayName: "Portuguese", Code: "pt", VoiceID: "Ines"},
	{DisplayName: "Spanish", Code: "es", VoiceID: "Penelope"},
}, DefaultVoice)

// Default returns the process-wide catalog of languages supported by both
// the translation and the synthesis providers.
func Default() *Catalog {
	return defaultCatalog
}

// New validates entries and builds a catalog.
func New(entries []Entry, defaultVoice string) (*Catalog, error) {
	defaultVoice = strings.TrimSpace(defaultVoice)
	if defaultVoice == "" {
		return nil, fmt.Errorf("default voice is required")
	}
	c := &Catalog{
		entries:      make([]Entry, 0, len(entries)),
		byName:       make(map[string]Entry, len(entries)),
		voiceByCode:  make(map[string]string, len(entries)),
		defaultVoice: defaultVoice,
	}
	for _, e := range entries {
		e.DisplayName = strings.TrimSpace(e.DisplayName)
		e.Code = strings.ToLower(strings.TrimSpace(e.Code))
		e.VoiceID = strings.TrimSpace(e.VoiceID)
		if e.DisplayName == "" || e.Code == "" {
			return nil, fmt.Errorf("display_name and code are required")
		}
		key := nameKey(e.DisplayName)
		if _, exists := c.byName[key]; exists {
			return nil, fmt.Errorf("duplicate language %q", e.DisplayName)
		}
		if voice, exists := c.voiceByCode[e.Code]; exists && voice != "" && e.VoiceID != "" && voice != e.VoiceID {
			return nil, fmt.Errorf("code %q mapped to voices %q and %q", e.Code, voice, e.VoiceID)
		}
		c.byName[key] = e
		if e.VoiceID != "" {
			c.voiceByCode[e.Code] = e.VoiceID
		}
		c.entries = append(c.entries, e)
	}
	sort.Slice(c.entries, func(i, j int) bool {
		return c.entries[i].DisplayName < c.entries[j].DisplayName
	})
	return c, nil
}

func mustNew(entries []Entry, defaultVoice string) *Catalog {
	c, err := New(entries, defaultVoice)
	if err != nil {
		panic(err)
	}
	return c
}

// CodeFor resolves a display name to a language code, "en" when unknown.
func (c *Catalog) CodeFor(displayName string) string {
	if e, ok := c.byName[nameKey(displayName)]; ok {
		return e.Code
	}
	return DefaultCode
}

// VoiceFor resolves a language code to a voice, the default voice when unmapped.
func (c *Catalog) VoiceFor(code string) string {
	if voice, ok := c.voiceByCode[strings.ToLower(strings.TrimSpace(code))]; ok {
		return voice
	}
	return c.defaultVoice
}

// DefaultVoice returns the fallback voice.
func (c *Catalog) DefaultVoice() string {
	return c.defaultVoice
}

// Lookup finds an entry by display name, case-insensitively.
func (c *Catalog) Lookup(displayName string) (Entry, bool) {
	e, ok := c.byName[nameKey(displayName)]
	return e, ok
}

// Entries returns all entries sorted by display name.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// TargetsFor lists the targets offered for a source language. Synthesis only
// covers English output for non-English speakers, so those get English alone.
func (c *Catalog) TargetsFor(sourceCode string) []Entry {
	sourceCode = strings.ToLower(strings.TrimSpace(sourceCode))
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if sourceCode != "en" {
			if e.Code == "en" {
				out = append(out, e)
			}
			continue
		}
		if e.Code != "en" {
			out = append(out, e)
		}
	}
	return out
}

// DefaultTarget returns the preselected target for a source language.
func (c *Catalog) DefaultTarget(sourceCode string) string {
	if strings.ToLower(strings.TrimSpace(sourceCode)) != "en" {
		return EnglishName
	}
	if _, ok := c.Lookup("Spanish"); ok {
		return "Spanish"
	}
	targets := c.TargetsFor(sourceCode)
	if len(targets) == 0 {
		return EnglishName
	}
	return targets[len(targets)-1].DisplayName
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
