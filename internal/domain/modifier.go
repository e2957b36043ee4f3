package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Modifier is a style-modifier catalog entry. The catalog is owned outside
// the queue and only read while segments are created.
type Modifier struct {
	ID                string
	Name              string
	HighFile          *string
	HighURI           *string
	LowFile           *string
	LowURI            *string
	DefaultHighWeight float64
	DefaultLowWeight  float64
}

// CatalogSlot references a catalog modifier by id. After resolution it also
// carries the canonical file locations and effective weights.
type CatalogSlot struct {
	ModifierID string   `json:"lora_id"`
	HighFile   *string  `json:"high_file,omitempty"`
	HighURI    *string  `json:"high_s3_uri,omitempty"`
	LowFile    *string  `json:"low_file,omitempty"`
	LowURI     *string  `json:"low_s3_uri,omitempty"`
	HighWeight *float64 `json:"high_weight,omitempty"`
	LowWeight  *float64 `json:"low_weight,omitempty"`
}

// ModifierSlot is either a CatalogSlot or a legacy payload forwarded verbatim.
// Exactly one of Catalog and Legacy is set.
type ModifierSlot struct {
	Catalog *CatalogSlot
	Legacy  json.RawMessage
}

// ModifierSlots is the ordered slot list of a segment. A nil list is stored as null.
type ModifierSlots []ModifierSlot

// IsCatalog reports whether the slot references the catalog.
func (s ModifierSlot) IsCatalog() bool {
	return s.Catalog != nil
}

// UnmarshalJSON selects the variant: an object with a non-empty string
// "lora_id" is a catalog slot, anything else is legacy.
func (s *ModifierSlot) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("modifier slot: empty payload")
	}
	*s = ModifierSlot{}
	if trimmed[0] == '{' {
		var peek struct {
			ModifierID json.RawMessage `json:"lora_id"`
		}
		if err := json.Unmarshal(trimmed, &peek); err != nil {
			return err
		}
		var id string
		if len(peek.ModifierID) > 0 && json.Unmarshal(peek.ModifierID, &id) == nil && id != "" {
			var slot CatalogSlot
			if err := json.Unmarshal(trimmed, &slot); err != nil {
				return err
			}
			s.Catalog = &slot
			return nil
		}
	}
	s.Legacy = append(json.RawMessage(nil), trimmed...)
	return nil
}

// MarshalJSON writes the active variant.
func (s ModifierSlot) MarshalJSON() ([]byte, error) {
	if s.Catalog != nil {
		return json.Marshal(s.Catalog)
	}
	if len(s.Legacy) == 0 {
		return []byte("null"), nil
	}
	return s.Legacy, nil
}
