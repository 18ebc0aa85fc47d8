// Package locale translates user-facing notifications into the supported
// languages.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

// Message identifiers
const (
	BackOnline        = "BackOnline"
	WentOffline       = "WentOffline"
	ProcessingPending = "ProcessingPending"
	PendingProcessed  = "PendingProcessed"
	PendingRemaining  = "PendingRemaining"
	ImageQueued       = "ImageQueued"
	PredictionFailed  = "PredictionFailed"
	CameraUnavailable = "CameraUnavailable"
	CaptureFailed     = "CaptureFailed"
	StorageCleared    = "StorageCleared"
)

// Translator renders message IDs in a given language
type Translator struct {
	bundle     *i18n.Bundle
	localizers map[models.Language]*i18n.Localizer
}

// New loads the embedded English and Hindi message files
func New() (*Translator, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[models.Language]*i18n.Localizer),
	}
	for _, lang := range []models.Language{models.English, models.Hindi} {
		name := string(lang) + ".json"
		data, err := localesFS.ReadFile("locales/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read locale file %s: %w", name, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return nil, fmt.Errorf("failed to parse locale file %s: %w", name, err)
		}
		t.localizers[lang] = i18n.NewLocalizer(bundle, string(lang))
	}
	return t, nil
}

func (t *Translator) localizer(lang models.Language) *i18n.Localizer {
	if l, ok := t.localizers[lang]; ok {
		return l
	}
	return t.localizers[models.English]
}

// T translates messageID, returning the ID itself when no translation exists
func (t *Translator) T(lang models.Language, messageID string) string {
	msg, err := t.localizer(lang).Localize(&i18n.LocalizeConfig{
		MessageID: messageID,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// Count translates a plural message with {{.Count}} set to n
func (t *Translator) Count(lang models.Language, messageID string, n int) string {
	msg, err := t.localizer(lang).Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		PluralCount:  n,
		TemplateData: map[string]interface{}{"Count": n},
	})
	if err != nil {
		return messageID
	}
	return msg
}
