package wingsite

import (
	"bytes"
	"encoding/json"
)

// MediaFile is an uploaded asset referenced by a block.
type MediaFile struct {
	ID              int    `json:"id"`
	URL             string `json:"url"`
	AlternativeText string `json:"alternativeText,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

// NeedsLookup reports whether only the id is known and the URL must be
// fetched from the CMS upload API.
func (m MediaFile) NeedsLookup() bool {
	return m.URL == "" && m.ID != 0
}

type mediaFields struct {
	ID              int    `json:"id"`
	URL             string `json:"url"`
	AlternativeText string `json:"alternativeText"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type mediaEnvelope struct {
	mediaFields
	Attributes *mediaFields     `json:"attributes"`
	Data       *json.RawMessage `json:"data"`
}

// UnmarshalJSON accepts the flat shape, the v4 {"data": {"id", "attributes"}}
// shape, and a bare numeric id.
func (m *MediaFile) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*m = MediaFile{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '{' {
		return json.Unmarshal(data, &m.ID)
	}

	var env mediaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Data != nil {
		return m.UnmarshalJSON(*env.Data)
	}
	f := env.mediaFields
	if env.Attributes != nil {
		id := f.ID
		f = *env.Attributes
		if f.ID == 0 {
			f.ID = id
		}
	}
	*m = MediaFile(f)
	return nil
}

// MediaList is an ordered list of media files.
type MediaList []MediaFile

// UnmarshalJSON accepts a plain array or the v4 {"data": [...]} wrapper.
func (l *MediaList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*l = nil
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		return l.UnmarshalJSON(env.Data)
	}
	var files []MediaFile
	if err := json.Unmarshal(data, &files); err != nil {
		return err
	}
	*l = files
	return nil
}
