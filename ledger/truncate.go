package ledger

import "encoding/json"

const (
	// MaxResultBytes is the largest tool result stored verbatim.
	MaxResultBytes = 10240
	// PreviewBytes is how much of an oversized result is kept.
	PreviewBytes = 2000
)

type truncated struct {
	Truncated    bool   `json:"_truncated"`
	OriginalSize int    `json:"_original_size"`
	Preview      string `json:"_preview"`
}

// Truncate replaces a serialized result larger than MaxResultBytes with a
// marker carrying the original size and a preview.
func Truncate(raw json.RawMessage) json.RawMessage {
	if len(raw) <= MaxResultBytes {
		return raw
	}
	preview := raw[:PreviewBytes]
	out, err := json.Marshal(truncated{
		Truncated:    true,
		OriginalSize: len(raw),
		Preview:      string(preview),
	})
	if err != nil {
		return json.RawMessage(`{"_truncated":true}`)
	}
	return out
}
