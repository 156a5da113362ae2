package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL            = "https://api.openai.com/v1"
	defaultOpenAITranscriptionModel = "whisper-1"
	defaultOpenAIImageModel         = "dall-e-3"
)

// OpenAIClient covers the OpenAI capabilities that have no local equivalent:
// audio transcription and image generation.
type OpenAIClient struct {
	baseURL            string
	apiKey             string
	transcriptionModel string
	imageModel         string
	httpClient         *http.Client
}

// NewOpenAIClient constructs a client with the provided API key. Empty model
// names fall back to whisper-1 and dall-e-3.
func NewOpenAIClient(baseURL, apiKey, transcriptionModel, imageModel string) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	transcriptionModel = strings.TrimSpace(transcriptionModel)
	if transcriptionModel == "" {
		transcriptionModel = defaultOpenAITranscriptionModel
	}
	imageModel = strings.TrimSpace(imageModel)
	if imageModel == "" {
		imageModel = defaultOpenAIImageModel
	}
	return &OpenAIClient{
		baseURL:            baseURL,
		apiKey:             apiKey,
		transcriptionModel: transcriptionModel,
		imageModel:         imageModel,
		httpClient:         &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Transcribe sends recorded audio to the transcriptions endpoint and returns
// the recognized text.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio bytes required")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.WriteField("model", c.transcriptionModel); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeOpenAIError(resp)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai transcribe decode: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("empty transcription from openai")
	}
	return out.Text, nil
}

// GenerateImage renders one 1024x1024 image for the prompt and downloads its
// bytes from the returned URL.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	reqBody := oaiImageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		Quality:        "standard",
		ResponseFormat: "url",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai image request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeOpenAIError(resp)
	}
	var out oaiImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai image decode: %w", err)
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].URL) == "" {
		return nil, fmt.Errorf("empty image response from openai")
	}
	return c.download(ctx, out.Data[0].URL)
}

func (c *OpenAIClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download image: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func decodeOpenAIError(resp *http.Response) error {
	var errResp oaiErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Message != "" {
		return fmt.Errorf("openai api error: %s", errResp.Error.Message)
	}
	return fmt.Errorf("openai api error: %s", resp.Status)
}

type oaiImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	ResponseFormat string `json:"response_format"`
}

type oaiImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}
