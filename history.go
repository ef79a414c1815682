package mcpclient

// ModelFeature identifies an input modality a model declares support for.
type ModelFeature string

const (
	FeatureVision   ModelFeature = "vision"
	FeatureAudio    ModelFeature = "audio"
	FeatureVideo    ModelFeature = "video"
	FeatureDocument ModelFeature = "document"
)

// FeatureSet is the set of modalities a model supports.
type FeatureSet map[ModelFeature]bool

// ChatMessage is one entry of a conversation history. Content carries either
// plain text (Text, when Parts is nil) or a list of typed content items.
type ChatMessage struct {
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`

	Text  string    `json:"text,omitempty"`
	Parts []Content `json:"parts,omitempty"`
}

// FilterHistory removes content items of modalities the model does not
// support from a conversation history. Text items are always retained, and
// messages with plain text content pass through untouched. Image, video, and
// document items are kept when the model declares the vision feature; audio,
// video, and document items are additionally kept under their own features.
// The input is never mutated.
func FilterHistory(msgs []ChatMessage, features FeatureSet) []ChatMessage {
	filtered := make([]ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Parts == nil {
			filtered = append(filtered, msg)
			continue
		}

		parts := make([]Content, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if keepContent(part.Type, features) {
				parts = append(parts, part)
			}
		}

		msg.Parts = parts
		filtered = append(filtered, msg)
	}
	return filtered
}

func keepContent(typ ContentType, features FeatureSet) bool {
	switch typ {
	case ContentTypeText:
		return true
	case ContentTypeImage:
		return features[FeatureVision]
	case ContentTypeAudio:
		return features[FeatureAudio]
	case ContentTypeVideo:
		return features[FeatureVision] || features[FeatureVideo]
	case ContentTypeDocument:
		return features[FeatureVision] || features[FeatureDocument]
	default:
		return false
	}
}
