package models

import "fmt"

// Language is a UI language code
type Language string

const (
	English Language = "en"
	Hindi   Language = "hi"
)

// ParseLanguage validates a language code
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case English, Hindi:
		return Language(s), nil
	}
	return "", fmt.Errorf("unsupported language: %q", s)
}

// DiseaseInfo is the bilingual knowledge entry for one disease label
type DiseaseInfo struct {
	ID         string                `json:"id"`
	Disease    string                `json:"disease"`
	Symptoms   map[Language]string   `json:"symptoms"`
	Treatments map[Language][]string `json:"treatments"`
	Images     []string              `json:"images"`
}

// SymptomsIn returns the symptoms text, falling back to English
func (d *DiseaseInfo) SymptomsIn(lang Language) string {
	if s, ok := d.Symptoms[lang]; ok {
		return s
	}
	return d.Symptoms[English]
}

// TreatmentsIn returns the ordered treatments, falling back to English
func (d *DiseaseInfo) TreatmentsIn(lang Language) []string {
	if t, ok := d.Treatments[lang]; ok {
		return t
	}
	return d.Treatments[English]
}
