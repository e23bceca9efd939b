// Package langdetect tags journal entries with the language they were
// spoken in.
package langdetect

import (
	"errors"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUndetermined is returned when the text is too short or ambiguous to
// classify.
var ErrUndetermined = errors.New("language undetermined")

// Result is one classification.
type Result struct {
	Code string // ISO 639-1, e.g. "en"
	Name string // English display name, e.g. "English"
}

// Detector classifies short utterances. Model loading is deferred to the
// first detection because it is comparatively expensive.
type Detector struct {
	once sync.Once
	impl lingua.LanguageDetector
}

// candidate languages: the voices the hosted recognizer and synthesizer
// actually support.
var candidates = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Japanese,
	lingua.Korean,
	lingua.Chinese,
}

// New creates a detector.
func New() *Detector {
	return &Detector{}
}

// Detect classifies the text.
func (d *Detector) Detect(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrUndetermined
	}

	d.once.Do(func() {
		d.impl = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidates...).
			Build()
	})

	lang, ok := d.impl.DetectLanguageOf(text)
	if !ok {
		return Result{}, ErrUndetermined
	}

	code := strings.ToLower(lang.IsoCode639_1().String())
	tag, err := language.Parse(code)
	if err != nil {
		return Result{Code: code, Name: lang.String()}, nil
	}
	return Result{
		Code: code,
		Name: display.English.Tags().Name(tag),
	}, nil
}
