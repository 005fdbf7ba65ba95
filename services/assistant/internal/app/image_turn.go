package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"lumosai/pkg/ai"
	"lumosai/pkg/domain"
	"lumosai/pkg/prompt"
	"lumosai/pkg/telemetry"
)

const ImageAcknowledgement = "Here is the image I generated based on your request."

const (
	visionInstruction = "Describe the attached image in detail: subjects, composition, colors, lighting, style and any visible text. " +
		"The description will guide an image generation model, so be concrete and do not add commentary."
	visionRequest     = "Describe this image."
	promptInstruction = "You write prompts for an image generation model. Combine the assistant context, the conversation, " +
		"the current request and the image description (when given) into one self-contained prompt in English. " +
		`Reply only with JSON of the form {"prompt": "..."}.`
	auxMaxTokens = 1024
)

// imageTurn serves a turn classified as an image request: an optional vision
// description of the attached image, a synthesized generation prompt, then the
// image itself. Normal prompt assembly is bypassed.
func (a *App) imageTurn(ctx context.Context, t turn) (SendResult, error) {
	id := t.assistant.ID
	start := a.now()
	var (
		usage  []domain.UsageEvent
		tokens ai.Usage
	)
	fail := func(stage, provider, model string, err error) (SendResult, error) {
		call := a.apiCall(id, provider, start)
		call.StatusCode = http.StatusInternalServerError
		call.Model = model
		call.ErrorMessage = err.Error()
		addTokens(&call, tokens)
		a.log(ctx).Error("image turn failed", "assistantId", id, "stage", stage, "provider", provider, "err", err)
		a.recorder.RecordTurn(ctx, usage, call)
		return SendResult{}, fmt.Errorf("%w: %s: %w", ErrProcessing, stage, err)
	}
	chatDone := func(res ai.ChatResult) {
		usage = append(usage, telemetry.ChatUsage(&id, a.chat.Name(), modelOr(res.Model, a.chat.DefaultModel()), res.Usage))
		tokens.PromptTokens += res.Usage.PromptTokens
		tokens.CompletionTokens += res.Usage.CompletionTokens
		tokens.CacheReadTokens += res.Usage.CacheReadTokens
		tokens.CacheCreationTokens += res.Usage.CacheCreationTokens
	}

	var description string
	if len(t.set.Images) > 0 {
		res, err := a.chat.Chat(ctx, visionTurns(t.set.Images), ai.ChatOptions{MaxTokens: auxMaxTokens})
		if err != nil {
			return fail("describe image", a.chat.Name(), a.chat.DefaultModel(), err)
		}
		chatDone(res)
		description = strings.TrimSpace(res.Text)
	}

	synth, err := a.chat.Chat(ctx, synthesisTurns(t, description), ai.ChatOptions{
		Temperature: &t.temperature,
		MaxTokens:   auxMaxTokens,
	})
	if err != nil {
		return fail("synthesize prompt", a.chat.Name(), a.chat.DefaultModel(), err)
	}
	chatDone(synth)
	imagePrompt := parseImagePrompt(synth.Text, fallbackImagePrompt(t.text, description))

	img, err := a.images.GenerateImage(ctx, imagePrompt)
	if err != nil {
		return fail("generate image", a.images.Name(), a.images.ImageModel(), err)
	}
	imageModel := modelOr(img.Model, a.images.ImageModel())
	usage = append(usage, telemetry.ImageUsage(&id, a.images.Name(), imageModel, modelOr(img.Size, a.images.ImageSize()), 1))

	generated := domain.Attachment{Kind: domain.AttachmentImage, MimeType: img.MimeType, Data: img.Data}
	reply := generated
	if a.archive != nil {
		if _, url, err := a.archive.Save(ctx, id, img.MimeType, img.Data); err != nil {
			a.log(ctx).Warn("archive generated image failed", "assistantId", id, "err", err)
		} else {
			reply.URL = url
		}
	}

	persistErr := a.persistExchange(ctx, t, ImageAcknowledgement, []domain.Attachment{generated})
	call := a.apiCall(id, a.images.Name(), start)
	call.Model = imageModel
	addTokens(&call, tokens)
	a.recorder.RecordTurn(ctx, usage, call)
	if persistErr != nil {
		a.log(ctx).Error("persist exchange failed", "assistantId", id, "err", persistErr)
		return SendResult{}, persistErr
	}
	return SendResult{
		Reply:       ImageAcknowledgement,
		Attachments: []domain.Attachment{reply},
		Assistant:   t.assistant.Ref(),
	}, nil
}

func visionTurns(images []domain.Attachment) []domain.Turn {
	return []domain.Turn{
		domain.TextTurn(domain.RoleSystem, visionInstruction),
		prompt.UserTurn(visionRequest, images),
	}
}

// synthesisTurns renders the context, the recent dialogue, the request and
// the optional image description as a single instruction.
func synthesisTurns(t turn, description string) []domain.Turn {
	var b strings.Builder
	b.WriteString("Assistant context:\n")
	b.WriteString(strings.TrimSpace(t.assistant.Context))
	if len(t.history) > 0 {
		b.WriteString("\n\nConversation:")
		for _, msg := range t.history {
			speaker := "User"
			if msg.Role == domain.RoleAssistant {
				speaker = "Assistant"
			}
			b.WriteString("\n")
			b.WriteString(speaker)
			b.WriteString(": ")
			b.WriteString(msg.Content)
		}
	}
	b.WriteString("\n\nCurrent request:\n")
	if t.text != "" {
		b.WriteString(t.text)
	} else {
		b.WriteString("(no text, use the image description)")
	}
	if description != "" {
		b.WriteString("\n\nImage description:\n")
		b.WriteString(description)
	}
	return []domain.Turn{
		domain.TextTurn(domain.RoleSystem, promptInstruction),
		domain.TextTurn(domain.RoleUser, b.String()),
	}
}

// parseImagePrompt extracts {"prompt": ...} from a model reply, repairing
// malformed JSON. Replies without JSON are used verbatim.
func parseImagePrompt(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	if start < 0 {
		if raw != "" {
			return raw
		}
		return fallback
	}
	body := raw[start:]
	if end := strings.LastIndex(body, "}"); end >= 0 {
		body = body[:end+1]
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &out) != nil {
			out.Prompt = ""
		}
	}
	if p := strings.TrimSpace(out.Prompt); p != "" {
		return p
	}
	if fallback != "" {
		return fallback
	}
	return raw
}

func fallbackImagePrompt(text, description string) string {
	switch {
	case text != "" && description != "":
		return text + "\n\n" + description
	case text != "":
		return text
	default:
		return description
	}
}
