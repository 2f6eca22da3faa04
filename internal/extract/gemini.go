package extract

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// DefaultModelName is the default Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// Gemini implements Extractor using the Gemini vision models. Credentials
// come from the environment (GOOGLE_API_KEY / application default
// credentials).
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed extractor. An empty model name selects
// DefaultModelName.
func NewGemini(ctx context.Context, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultModelName
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, &Error{Message: "create genai client", Cause: err}
	}

	return &Gemini{client: client, model: model}, nil
}

// Extract sends the document to the model and parses its JSON reply into a
// statement or document result.
func (g *Gemini) Extract(ctx context.Context, data []byte, mimeType, reportingCurrency string) (*task.Result, error) {
	prompt := buildExtractionPrompt(reportingCurrency)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, &Error{Message: "generate content", Cause: err}
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, &Error{Message: "empty response from model"}
	}

	// Clean up Markdown fences / extra text if the model ignored instructions.
	clean := cleanModelJSON(rawText)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, &Error{Message: "unmarshal model JSON", Cause: err}
	}

	res, err := resultFromModelOutput(parsed)
	if err != nil {
		return nil, &Error{Message: "transform model output", Cause: err}
	}
	return res, nil
}

// cleanModelJSON strips code fences and surrounding junk, keeping only the
// outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	// Remove trailing ``` if present.
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: if there's still junk around the JSON object, keep only
	// from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
