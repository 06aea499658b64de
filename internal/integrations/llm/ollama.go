package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"tact/internal/domain"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2:3b"
)

// OllamaProvider talks to a local Ollama server. The first Parse call makes
// sure the model is installed, pulling it if needed; later calls skip that.
type OllamaProvider struct {
	baseURL    string
	model      string
	client     *http.Client
	pullClient *http.Client

	mu       sync.Mutex
	verified bool
}

func NewOllamaProvider(baseURL, model string, client, pullClient *http.Client) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	if pullClient == nil {
		pullClient = client
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		client:     client,
		pullClient: pullClient,
	}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }

type ollamaGenerateRequest struct {
	Model  string         `json:"model"`
	System string         `json:"system"`
	Prompt string         `json:"prompt"`
	Stream bool           `json:"stream"`
	Format map[string]any `json:"format"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (p *OllamaProvider) Parse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome {
	if err := p.ensureModel(ctx); err != nil {
		log.Printf("llm ollama model unavailable model=%s: %v", p.model, err)
		return domain.FailedOutcome(err.Error())
	}

	system, user := BuildPrompts(text, pc)
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  p.model,
		System: system,
		Prompt: user,
		Stream: false,
		Format: outputSchema,
	})
	if err != nil {
		return domain.FailedOutcome(fmt.Sprintf("marshal request: %v", err))
	}

	respBody, err := p.post(ctx, "/api/generate", body)
	if err != nil {
		log.Printf("llm ollama generate error model=%s: %v", p.model, err)
		return domain.FailedOutcome(fmt.Sprintf("HTTP error: %v", err))
	}

	var gen ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("invalid generate response: %v", err))
	}
	if gen.Error != "" {
		return domain.FailedOutcome(fmt.Sprintf("ollama error: %s", gen.Error))
	}
	log.Printf("llm ollama response model=%s size=%d", p.model, len(gen.Response))

	out := decodeOutcome(gen.Response)
	if out.Failed() {
		log.Printf("llm ollama undecodable response model=%s: %s", p.model, out.Error)
	}
	return out
}

// ensureModel runs once per provider; a successful check is cached for the
// life of the process.
func (p *OllamaProvider) ensureModel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified {
		return nil
	}

	installed, err := p.modelInstalled(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if !installed {
		log.Printf("llm ollama pulling model=%s", p.model)
		if err := p.pullModel(ctx); err != nil {
			return fmt.Errorf("pull model %s: %w", p.model, err)
		}
		log.Printf("llm ollama pulled model=%s", p.model)
	}
	p.verified = true
	return nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

func (p *OllamaProvider) modelInstalled(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("decode tags: %w", err)
	}
	for _, m := range tags.Models {
		for _, name := range []string{m.Name, m.Model} {
			if name == p.model || name == p.model+":latest" {
				return true, nil
			}
		}
	}
	return false, nil
}

type ollamaPullStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// pullModel streams the pull progress, one JSON object per line, until the
// server reports success or an error.
func (p *OllamaProvider) pullModel(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"model": p.model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.pullClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	last := ""
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var st ollamaPullStatus
		if err := json.Unmarshal(line, &st); err != nil {
			return fmt.Errorf("decode pull status: %w", err)
		}
		if st.Error != "" {
			return fmt.Errorf("%s", st.Error)
		}
		if st.Status != last {
			log.Printf("llm ollama pull model=%s status=%q", p.model, st.Status)
			last = st.Status
		}
		if st.Status == "success" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}
	return fmt.Errorf("pull stream ended without success (last status %q)", last)
}

func (p *OllamaProvider) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
