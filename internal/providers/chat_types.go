package providers

import (
	"encoding/json"
	"strings"
)

// OpenAI-compatible chat completion wire types shared by Mistral and OpenRouter.

type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []chatContentPart
}

type chatContentPart struct {
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	DocumentURL string    `json:"document_url,omitempty"` // Mistral
	File        *chatFile `json:"file,omitempty"`         // OpenRouter
}

type chatFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
	// Error is returned by some gateways with a 200 status
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code,omitempty"`
	} `json:"error,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// documentPart renders an attached PDF as a provider-specific content part.
type documentPart func(pdf []byte, idx int) chatContentPart

func mistralDocumentPart(pdf []byte, _ int) chatContentPart {
	return chatContentPart{Type: "document_url", DocumentURL: pdfDataURL(pdf)}
}

// toChatMessages converts messages to wire format, attaching documents with part.
func toChatMessages(msgs []Message, part documentPart) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Documents) == 0 {
			out = append(out, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []chatContentPart{{Type: "text", Text: m.Content}}
		for i, doc := range m.Documents {
			parts = append(parts, part(doc, i))
		}
		out = append(out, chatMessage{Role: m.Role, Content: parts})
	}
	return out
}

// messageText returns message content as text. Content may be a plain string
// or an array of typed parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}
	return string(raw)
}
