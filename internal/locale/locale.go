// Package locale derives the speaker's source language from the process
// environment.
package locale

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Source is the resolved source language.
type Source struct {
	Code        string
	DisplayName string
	Tag         language.Tag
}

var envOrder = []string{"LC_ALL", "LC_MESSAGES", "LANG"}

// FromEnv reads LC_ALL, LC_MESSAGES and LANG in that order.
func FromEnv() Source {
	return FromLookup(os.LookupEnv)
}

// FromLookup resolves the source language with a custom env lookup. Unset or
// unparseable values fall back to English.
func FromLookup(lookup func(string) (string, bool)) Source {
	for _, key := range envOrder {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if src, err := Parse(raw); err == nil {
			return src
		}
	}
	return fromTag(language.English)
}

// Parse converts a POSIX locale string such as "de_DE.UTF-8@euro" or a BCP 47
// tag such as "pt-BR".
func Parse(raw string) (Source, error) {
	value := strings.TrimSpace(raw)
	if i := strings.IndexAny(value, ".@"); i >= 0 {
		value = value[:i]
	}
	switch value {
	case "", "C", "POSIX":
		return fromTag(language.English), nil
	}
	tag, err := language.Parse(strings.ReplaceAll(value, "_", "-"))
	if err != nil {
		return Source{}, fmt.Errorf("parse locale %q: %w", raw, err)
	}
	return fromTag(tag), nil
}

// Resolve accepts an explicit override, either a code or an English name.
func Resolve(override string) (Source, error) {
	override = strings.TrimSpace(override)
	if override == "" {
		return FromEnv(), nil
	}
	if src, err := Parse(override); err == nil {
		return src, nil
	}
	for _, tag := range display.Supported.Tags() {
		if strings.EqualFold(display.English.Tags().Name(tag), override) {
			return fromTag(tag), nil
		}
	}
	return Source{}, fmt.Errorf("unknown source language %q", override)
}

func fromTag(tag language.Tag) Source {
	base, _ := tag.Base()
	baseTag := language.Make(base.String())
	return Source{
		Code:        base.String(),
		DisplayName: display.English.Tags().Name(baseTag),
		Tag:         tag,
	}
}
