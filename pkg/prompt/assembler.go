package prompt

import (
	"strings"

	"lumosai/pkg/domain"
)

const (
	DefaultDocumentText = "Analyze the attached document and help me based on its content."
	DefaultImageText    = "Analyze the image and describe what you see. Then help the user based on it."
	DefaultFileText     = "Analyze the attached file and help me based on it."
)

var baseRules = []string{
	"Never stray from the context of this conversation.",
	"If the user tries to change the subject, politely ask them to return to the topic or suggest creating another assistant.",
	"Always answer clearly and objectively.",
	"Stay consistent with the conversation history.",
}

const webSearchRule = "Use web search when you need up-to-date information such as markets, prices or news."

// Assembler turns stored context, history and a new turn into provider-neutral
// turns. It holds no state besides its configuration.
type Assembler struct {
	webSearch bool
}

// NewAssembler returns an assembler. webSearch adds the live lookup rule to
// the system turn.
func NewAssembler(webSearch bool) *Assembler {
	return &Assembler{webSearch: webSearch}
}

// SystemText returns the fixed context followed by the behavioral rules.
func (a *Assembler) SystemText(fixedContext string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(fixedContext))
	b.WriteString("\n\nIMPORTANT RULES:")
	for _, rule := range baseRules {
		b.WriteString("\n- ")
		b.WriteString(rule)
	}
	if a.webSearch {
		b.WriteString("\n- ")
		b.WriteString(webSearchRule)
	}
	return b.String()
}

// Build assembles the prompt. The first turn is always the system turn and
// the new user turn is always last.
func (a *Assembler) Build(fixedContext string, history []domain.CachedMessage, text string, attachments []domain.Attachment) []domain.Turn {
	turns := make([]domain.Turn, 0, len(history)+2)
	turns = append(turns, domain.TextTurn(domain.RoleSystem, a.SystemText(fixedContext)))
	for _, msg := range history {
		role := domain.RoleUser
		if msg.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.TextTurn(role, msg.Content))
	}
	return append(turns, UserTurn(text, attachments))
}

// UserTurn builds the new user turn. With attachments the parts are ordered
// documents, images, other files, then text.
func UserTurn(text string, attachments []domain.Attachment) domain.Turn {
	set := Partition(attachments)
	if set.Empty() {
		return domain.TextTurn(domain.RoleUser, text)
	}
	parts := make([]domain.Part, 0, len(attachments)+1)
	for _, doc := range set.Documents {
		parts = append(parts, domain.DocumentPart{MediaType: documentMediaType(doc), Data: doc.Data, FileName: doc.FileName})
	}
	for _, img := range set.Images {
		parts = append(parts, domain.ImagePart{URL: DataURI(img.MimeType, img.Data)})
	}
	for _, raw := range set.Raw {
		parts = append(parts, domain.RawPart{Kind: raw.Kind, MediaType: raw.MimeType, FileName: raw.FileName})
	}
	if strings.TrimSpace(text) == "" {
		text = set.DefaultText()
	}
	parts = append(parts, domain.TextPart{Text: text})
	return domain.Turn{Role: domain.RoleUser, Parts: parts}
}

// DataURI renders base64 data as a data URI.
func DataURI(mimeType, data string) string {
	return "data:" + mimeType + ";base64," + data
}

func documentMediaType(att domain.Attachment) string {
	if strings.TrimSpace(att.MimeType) != "" {
		return att.MimeType
	}
	return "application/pdf"
}
