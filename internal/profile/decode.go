package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Parse decodes an onboarding JSON document. The document must be a JSON
// object; a category that is missing, null or malformed decodes to an empty
// list and is logged rather than failing the whole record.
func Parse(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("decoding profile: %w", err)
	}

	var r Record
	scalar(raw, "Name", &r.Name)
	scalar(raw, "Preferred name", &r.PreferredName)
	scalar(raw, "Address", &r.Address)
	scalar(raw, "About", &r.About)

	category(raw, "Education", &r.Education)
	category(raw, "Work experience", &r.WorkExperience)
	category(raw, "Organizations", &r.Organizations)
	category(raw, "Certification", &r.Certifications)
	category(raw, "Projects", &r.Projects)
	category(raw, "Languages", &r.Languages)

	return r, nil
}

// Encode is the inverse of Parse, used when persisting a record.
func Encode(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return b, nil
}

func scalar(raw map[string]json.RawMessage, key string, dst *string) {
	v, ok := raw[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		slog.Warn("malformed profile field, skipping", "key", key, "error", err)
	}
}

func category[T any](raw map[string]json.RawMessage, key string, dst *[]T) {
	v, ok := raw[key]
	if !ok {
		return
	}
	var items []T
	if err := json.Unmarshal(v, &items); err != nil {
		slog.Warn("malformed profile category, treating as empty", "category", key, "error", err)
		return
	}
	*dst = items
}
