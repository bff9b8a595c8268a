package asset

import (
	"fmt"

	"github.com/practicehub/asset-cache/internal/slug"
)

// Mode is the learning mode an audio asset belongs to. The mode decides both
// the manifest key folder and the filename template.
type Mode string

const (
	ModeFlashcards Mode = "flashcards"
	ModePractice   Mode = "practice"
	ModeListening  Mode = "listening"
	ModeReading    Mode = "reading"
)

// ParseMode returns the Mode for s, or an error for anything else.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFlashcards, ModePractice, ModeListening, ModeReading:
		return Mode(s), nil
	}
	return "", fmt.Errorf("asset: unknown mode %q", s)
}

// Folder is the asset folder for the mode. Flashcards and practice share the
// same published audio files, so both map to "audio".
func (m Mode) Folder() string {
	switch m {
	case ModeListening:
		return "listening"
	case ModeReading:
		return "reading"
	default:
		return "audio"
	}
}

func (m Mode) String() string { return string(m) }

// Key identifies one logical audio asset. Immutable once constructed;
// resolution is a pure function of the key plus manifest/config inputs.
type Key struct {
	Set   string
	Mode  Mode
	Index int

	// Hint is optional card text used to derive flashcards/practice
	// filenames. An empty slug means "no hint", not an error.
	Hint string

	// File overrides the derived filename when the upstream data names the
	// audio file explicitly.
	File string

	// Explicit is an upstream-supplied URL. When absolute it short-circuits
	// resolution entirely.
	Explicit string
}

// Filename returns the asset's filename: File verbatim when set, otherwise
// "<index>_<slug(hint)>.mp3" for flashcards/practice (suffix omitted when the
// slug is empty) and "<index>.mp3" for reading/listening.
func (k Key) Filename() string {
	if k.File != "" {
		return k.File
	}
	if k.Mode == ModeFlashcards || k.Mode == ModePractice {
		if s := slug.Slugify(k.Hint); s != "" {
			return fmt.Sprintf("%d_%s.mp3", k.Index, s)
		}
	}
	return fmt.Sprintf("%d.mp3", k.Index)
}

// ManifestKey returns the canonical manifest key "<folder>/<set>/<filename>".
func (k Key) ManifestKey() string {
	return k.Mode.Folder() + "/" + k.Set + "/" + k.Filename()
}
