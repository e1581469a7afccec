package voice

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"scenesense/internal/domain"
)

type pattern struct {
	phrase  string
	command domain.VoiceCommand
}

// Classifier maps free-form recognized speech to a discrete command by
// substring match against a phrase table. The table is kept sorted by phrase
// length descending so a specific multi-word phrase always wins over a
// shorter phrase it contains ("toma una foto" before "foto").
type Classifier struct {
	patterns []pattern
}

// NewClassifier builds a classifier with the built-in Spanish/English table.
func NewClassifier() *Classifier {
	c := &Classifier{patterns: builtinPatterns()}
	c.sortPatterns()
	return c
}

// NewClassifierFromFile extends the built-in table with phrases from a YAML
// file. A missing or empty path yields the built-in table only.
func NewClassifierFromFile(path string) (*Classifier, error) {
	c := &Classifier{patterns: builtinPatterns()}

	if strings.TrimSpace(path) != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read phrase file %q: %w", path, err)
			}
		} else {
			extra, err := parsePhraseFile(contents)
			if err != nil {
				return nil, fmt.Errorf("failed to parse phrase file %q: %w", path, err)
			}
			c.patterns = append(c.patterns, extra...)
		}
	}

	c.sortPatterns()
	return c, nil
}

// Classify normalizes the input (lower-case, accents stripped) and returns
// the command of the first matching phrase. ok is false when nothing matched.
func (c *Classifier) Classify(speech string) (domain.VoiceCommand, bool) {
	normalized := normalize(speech)
	if normalized == "" {
		return "", false
	}
	for _, p := range c.patterns {
		if strings.Contains(normalized, p.phrase) {
			return p.command, true
		}
	}
	return "", false
}

func (c *Classifier) sortPatterns() {
	sort.SliceStable(c.patterns, func(i, j int) bool {
		return len(c.patterns[i].phrase) > len(c.patterns[j].phrase)
	})
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalize(speech string) string {
	lowered := strings.ToLower(strings.TrimSpace(speech))
	stripped, _, err := transform.String(stripAccents, lowered)
	if err != nil {
		return lowered
	}
	return stripped
}

type phraseFile struct {
	Commands []struct {
		Phrase  string `yaml:"phrase"`
		Command string `yaml:"command"`
	} `yaml:"commands"`
}

func parsePhraseFile(contents []byte) ([]pattern, error) {
	var file phraseFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, err
	}

	patterns := make([]pattern, 0, len(file.Commands))
	for index, entry := range file.Commands {
		phrase := normalize(entry.Phrase)
		if phrase == "" {
			return nil, fmt.Errorf("entry %d: empty phrase", index)
		}
		command, ok := commandByName(entry.Command)
		if !ok {
			return nil, fmt.Errorf("entry %d: unknown command %q", index, entry.Command)
		}
		patterns = append(patterns, pattern{phrase: phrase, command: command})
	}
	return patterns, nil
}

func commandByName(name string) (domain.VoiceCommand, bool) {
	switch domain.VoiceCommand(strings.TrimSpace(name)) {
	case domain.CommandTakePhoto:
		return domain.CommandTakePhoto, true
	case domain.CommandRecordVideo:
		return domain.CommandRecordVideo, true
	case domain.CommandStop:
		return domain.CommandStop, true
	case domain.CommandPhotoMode:
		return domain.CommandPhotoMode, true
	case domain.CommandVideoMode:
		return domain.CommandVideoMode, true
	case domain.CommandContinuousMode:
		return domain.CommandContinuousMode, true
	case domain.CommandRepeat:
		return domain.CommandRepeat, true
	case domain.CommandDescribe:
		return domain.CommandDescribe, true
	default:
		return "", false
	}
}

// Phrases are stored in stripped-accent form since input is normalized the
// same way.
func builtinPatterns() []pattern {
	return []pattern{
		{"toma una foto", domain.CommandTakePhoto},
		{"tomar una foto", domain.CommandTakePhoto},
		{"take a picture", domain.CommandTakePhoto},
		{"captura una foto", domain.CommandTakePhoto},
		{"take a photo", domain.CommandTakePhoto},
		{"take picture", domain.CommandTakePhoto},
		{"captura foto", domain.CommandTakePhoto},
		{"take photo", domain.CommandTakePhoto},
		{"tomar foto", domain.CommandTakePhoto},
		{"toma foto", domain.CommandTakePhoto},
		{"sacar foto", domain.CommandTakePhoto},
		{"saca foto", domain.CommandTakePhoto},
		{"capturar", domain.CommandTakePhoto},
		{"captura", domain.CommandTakePhoto},
		{"foto", domain.CommandTakePhoto},

		{"grabar un video", domain.CommandRecordVideo},
		{"graba un video", domain.CommandRecordVideo},
		{"record a video", domain.CommandRecordVideo},
		{"grabar video", domain.CommandRecordVideo},
		{"record video", domain.CommandRecordVideo},
		{"graba video", domain.CommandRecordVideo},
		{"grabar", domain.CommandRecordVideo},

		{"modo continuo", domain.CommandContinuousMode},
		{"continuous mode", domain.CommandContinuousMode},
		{"modo automatico", domain.CommandContinuousMode},
		{"continuo", domain.CommandContinuousMode},

		{"modo foto", domain.CommandPhotoMode},
		{"modo fotografia", domain.CommandPhotoMode},
		{"photo mode", domain.CommandPhotoMode},

		{"modo video", domain.CommandVideoMode},
		{"video mode", domain.CommandVideoMode},

		{"que es lo que ves", domain.CommandDescribe},
		{"what do you see", domain.CommandDescribe},
		{"que ves", domain.CommandDescribe},
		{"descripcion", domain.CommandDescribe},
		{"describir", domain.CommandDescribe},
		{"describe", domain.CommandDescribe},
		{"analiza", domain.CommandDescribe},
		{"analizar", domain.CommandDescribe},

		{"otra vez", domain.CommandRepeat},
		{"repetir", domain.CommandRepeat},
		{"repite", domain.CommandRepeat},
		{"repeat", domain.CommandRepeat},
		{"again", domain.CommandRepeat},

		// "para" is deliberately absent: too common as a Spanish preposition.
		{"detente", domain.CommandStop},
		{"detener", domain.CommandStop},
		{"parar", domain.CommandStop},
		{"pause", domain.CommandStop},
		{"stop", domain.CommandStop},
	}
}
