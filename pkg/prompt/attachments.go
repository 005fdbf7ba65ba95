package prompt

import (
	"strings"

	"lumosai/pkg/domain"
)

const defaultDocumentName = "document.pdf"

// AttachmentSet groups the attachments of one turn by how they are rendered.
type AttachmentSet struct {
	Documents []domain.Attachment
	Images    []domain.Attachment
	Raw       []domain.Attachment
	// Ignored holds documents and images that arrived without a payload.
	Ignored []domain.Attachment
}

// Partition sorts attachments into documents, images and raw files, keeping
// the request order inside each group.
func Partition(attachments []domain.Attachment) AttachmentSet {
	var set AttachmentSet
	for _, att := range attachments {
		hasData := strings.TrimSpace(att.Data) != ""
		switch {
		case isDocument(att):
			if hasData {
				set.Documents = append(set.Documents, att)
			} else {
				set.Ignored = append(set.Ignored, att)
			}
		case att.Kind == domain.AttachmentImage:
			if hasData && strings.TrimSpace(att.MimeType) != "" {
				set.Images = append(set.Images, att)
			} else {
				set.Ignored = append(set.Ignored, att)
			}
		default:
			set.Raw = append(set.Raw, att)
		}
	}
	return set
}

func isDocument(att domain.Attachment) bool {
	return att.Kind == domain.AttachmentPDF ||
		att.Kind == domain.AttachmentDocument ||
		strings.EqualFold(att.MimeType, "application/pdf")
}

// Recognized reports whether the set holds a document or an image.
func (s AttachmentSet) Recognized() bool {
	return len(s.Documents) > 0 || len(s.Images) > 0
}

// Empty reports whether nothing renderable is present.
func (s AttachmentSet) Empty() bool {
	return !s.Recognized() && len(s.Raw) == 0
}

// DefaultText is the instruction used when the user sent attachments without text.
func (s AttachmentSet) DefaultText() string {
	switch {
	case len(s.Documents) > 0:
		return DefaultDocumentText
	case len(s.Images) > 0:
		return DefaultImageText
	default:
		return DefaultFileText
	}
}

// UserTurnNote is the text stored for a user turn. Attachment bytes are kept
// out of the content column, so a short marker records what was sent.
func UserTurnNote(text string, set AttachmentSet) string {
	text = strings.TrimSpace(text)
	var marker string
	switch {
	case len(set.Documents) > 0:
		names := make([]string, 0, len(set.Documents))
		for _, doc := range set.Documents {
			name := strings.TrimSpace(doc.FileName)
			if name == "" {
				name = defaultDocumentName
			}
			names = append(names, name)
		}
		marker = "[Document attached: " + strings.Join(names, ", ") + "]"
	case len(set.Images) > 0:
		marker = "[Image attached]"
	}
	switch {
	case marker == "":
		return text
	case text == "":
		return marker
	default:
		return text + "\n\n" + marker
	}
}
