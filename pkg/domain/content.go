package domain

import "strings"

type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartDocument PartType = "document"
	PartRaw      PartType = "raw"
)

// Part is one typed unit of prompt content. Provider adapters switch on the
// concrete type; anything they cannot render natively must still reach the
// model as text.
type Part interface {
	Type() PartType
}

type TextPart struct {
	Text string
}

// ImagePart carries either a data URI (data:<mime>;base64,<payload>) or an
// external URL.
type ImagePart struct {
	URL string
}

type DocumentPart struct {
	MediaType string
	Data      string
	FileName  string
}

// RawPart describes an attachment no backend renders natively (audio, generic files).
type RawPart struct {
	Kind      AttachmentKind
	MediaType string
	FileName  string
}

func (TextPart) Type() PartType     { return PartText }
func (ImagePart) Type() PartType    { return PartImage }
func (DocumentPart) Type() PartType { return PartDocument }
func (RawPart) Type() PartType      { return PartRaw }

// Turn is a role-tagged entry of an assembled prompt.
type Turn struct {
	Role  Role
	Parts []Part
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if tp, ok := p.(TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{TextPart{Text: text}}}
}
