package gemini

import (
	"strings"

	"google.golang.org/genai"
)

// PayloadKind tags what a model response carried
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadBinary
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadBinary:
		return "binary"
	default:
		return "empty"
	}
}

// Payload is the classified result of a model call.
// Binary wins over text: an image response may also include commentary.
type Payload struct {
	Kind     PayloadKind
	Text     string
	Data     []byte
	MIMEType string
}

// Classify reduces the first candidate of a response to a tagged payload
func Classify(resp *genai.GenerateContentResponse) Payload {
	if resp == nil || len(resp.Candidates) == 0 {
		return Payload{Kind: PayloadEmpty}
	}

	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return Payload{Kind: PayloadEmpty}
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return Payload{
				Kind:     PayloadBinary,
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
				Text:     text.String(),
			}
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}

	if text.Len() > 0 {
		return Payload{Kind: PayloadText, Text: text.String()}
	}
	return Payload{Kind: PayloadEmpty}
}
