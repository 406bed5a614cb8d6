package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"doubtbot/internal/domain"
)

const (
	geminiDefaultAPIBase = "https://generativelanguage.googleapis.com"
	geminiDefaultModel   = "gemini-2.0-flash-lite"
	defaultHTTPTimeout   = 120 * time.Second

	// Images up to this size travel inline with the request; larger ones go
	// through the Files API and are deleted best-effort after the call.
	geminiInlineLimit = 15 << 20
)

// Gemini implements domain.Completer against the Gemini generateContent API.
type Gemini struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiDefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini: no API key configured")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBase+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("gemini: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini returned %d", resp.StatusCode)
	}
	return nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
	FileData   *geminiFileData   `json:"file_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiFile struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Complete sends one generateContent request and returns the generated text.
// Any non-text result is an error.
func (g *Gemini) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	parts := []geminiPart{{Text: req.Instruction}}

	if len(req.ImageBytes) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		if len(req.ImageBytes) > geminiInlineLimit {
			file, err := g.uploadFile(ctx, req.ImageBytes, mime)
			if err != nil {
				return "", fmt.Errorf("gemini upload: %w", err)
			}
			// Cleanup must not block or fail the response.
			defer g.deleteFile(context.WithoutCancel(ctx), file.Name)
			parts = append(parts, geminiPart{FileData: &geminiFileData{MIMEType: mime, FileURI: file.URI}})
		} else {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: mime,
				Data:     base64.StdEncoding.EncodeToString(req.ImageBytes),
			}})
		}
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}
	if req.Preamble != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.Preamble}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.apiBase, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini %d: %s", resp.StatusCode, string(respBody))
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	return extractGeminiText(gr)
}

// extractGeminiText pulls the concatenated text parts out of the first
// candidate, or reports why there is none.
func extractGeminiText(gr geminiResponse) (string, error) {
	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked prompt: %s", gr.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text string
	for _, p := range gr.Candidates[0].Content.Parts {
		text += p.Text
	}
	if text == "" {
		return "", fmt.Errorf("gemini candidate contained no text (finish reason: %s)", gr.Candidates[0].FinishReason)
	}
	return text, nil
}

// uploadFile pushes image bytes through the Files API (raw upload protocol).
func (g *Gemini) uploadFile(ctx context.Context, data []byte, mime string) (*geminiFile, error) {
	url := g.apiBase + "/upload/v1beta/files"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")
	httpReq.Header.Set("Content-Type", mime)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		File geminiFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if out.File.Name == "" || out.File.URI == "" {
		return nil, fmt.Errorf("upload response missing file reference")
	}
	return &out.File, nil
}

// deleteFile removes an uploaded file. Best-effort: failures are logged and
// never surfaced to the caller.
func (g *Gemini) deleteFile(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	url := g.apiBase + "/v1beta/" + name
	httpReq, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		g.logger.Warn("gemini file cleanup failed", "file", name, "err", err)
		return
	}
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.Warn("gemini file cleanup failed", "file", name, "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("gemini file cleanup failed", "file", name, "status", resp.StatusCode)
	}
}
