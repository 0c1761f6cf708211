package main

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiPrompt = `Look at this CAPTCHA image and extract the text/characters shown.
Rules:
- The CAPTCHA contains alphanumeric characters (letters and numbers)
- Return ONLY the characters you see, nothing else
- No spaces, no explanation, just the raw characters
- Case sensitive - preserve uppercase/lowercase as shown
- Common confusions: 0 vs O, 1 vs l vs I, 5 vs S
- If unsure between similar characters, make your best guess

Output the captcha text only:`

// contentGenerator is the part of *genai.Models the provider needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOCR asks a vision model to read the challenge.
type GeminiOCR struct {
	models contentGenerator
	model  string
}

// NewGeminiOCR returns nil when no API key is configured so the resolver runs
// with the remote endpoint alone.
func NewGeminiOCR(ctx context.Context, cfg OCRConfig) (*GeminiOCR, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiOCR{models: client.Models, model: model}, nil
}

func (g *GeminiOCR) Name() string { return "gemini" }

func (g *GeminiOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(geminiPrompt),
			genai.NewPartFromBytes(image, "image/png"),
		}, genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini returned no response")
	}

	return cleanModelAnswer(resp.Text()), nil
}

// cleanModelAnswer strips quotes and whitespace a model tends to wrap answers in.
func cleanModelAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(`"`, "", "'", "", "`", "").Replace(s)
	return strings.TrimSpace(s)
}
