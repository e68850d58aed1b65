package bots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("bot service unavailable")

// Verdict is the outcome of a moderation check.
type Verdict struct {
	Safe   bool
	Reason string
}

// Service generates bot content. Callers decide how failures degrade.
type Service interface {
	Respond(ctx context.Context, kind protocol.BotKind, content string, history []protocol.Message) (string, error)
	Moderate(ctx context.Context, content string) (Verdict, error)
	Polish(ctx context.Context, draft string) (string, error)
	// EditImage returns the edited image as a data URL.
	EditImage(ctx context.Context, image, instruction string) (string, error)
}

// Offline is a Service that always fails. It is used when no endpoint is configured.
type Offline struct{}

func (Offline) Respond(context.Context, protocol.BotKind, string, []protocol.Message) (string, error) {
	return "", ErrUnavailable
}

func (Offline) Moderate(context.Context, string) (Verdict, error) {
	return Verdict{}, ErrUnavailable
}

func (Offline) Polish(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Offline) EditImage(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

// HTTPService talks JSON to a text-generation gateway. Each operation is a
// POST to <endpoint>/<op> with a generateRequest body.
type HTTPService struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPService(endpoint string, timeout time.Duration, log *zap.Logger) *HTTPService {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPService{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type generateRequest struct {
	SystemInstruction string  `json:"systemInstruction,omitempty"`
	Prompt            string  `json:"prompt"`
	Temperature       float64 `json:"temperature"`
	Search            bool    `json:"search,omitempty"`
	Image             string  `json:"image,omitempty"`
}

type generateResponse struct {
	Text    string   `json:"text"`
	Image   string   `json:"image,omitempty"`
	Sources []source `json:"sources,omitempty"`
}

type source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

func (s *HTTPService) Respond(ctx context.Context, kind protocol.BotKind, content string, history []protocol.Message) (string, error) {
	bot, ok := Lookup(kind)
	if !ok {
		return "", fmt.Errorf("unknown bot kind %q", kind)
	}

	prompt := content
	if kind == protocol.BotSummary {
		var b strings.Builder
		for _, m := range RecentHistory(history, HistoryWindow) {
			fmt.Fprintf(&b, "%s: %s\n", m.SenderName, m.Content)
		}
		prompt = fmt.Sprintf("Here is the chat history:\n%s\nPlease summarize this for the user in a friendly way.", b.String())
	}

	resp, err := s.call(ctx, "respond", generateRequest{
		SystemInstruction: bot.SystemInstruction,
		Prompt:            prompt,
		Temperature:       0.7,
		Search:            kind == protocol.BotHelper,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = "..."
	}
	if len(resp.Sources) > 0 {
		seen := make(map[string]bool)
		var links []string
		for _, src := range resp.Sources {
			link := fmt.Sprintf("- [%s](%s)", src.Title, src.URI)
			if !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		}
		text += "\n\nSources:\n" + strings.Join(links, "\n")
	}
	return text, nil
}

func (s *HTTPService) Moderate(ctx context.Context, content string) (Verdict, error) {
	bot, _ := Lookup(protocol.BotModerator)
	resp, err := s.call(ctx, "moderate", generateRequest{
		SystemInstruction: bot.SystemInstruction,
		Prompt:            content,
	})
	if err != nil {
		return Verdict{}, err
	}
	result := strings.TrimSpace(resp.Text)
	if result == safeVerdict {
		return Verdict{Safe: true}, nil
	}
	return Verdict{Safe: false, Reason: result}, nil
}

func (s *HTTPService) Polish(ctx context.Context, draft string) (string, error) {
	resp, err := s.call(ctx, "polish", generateRequest{
		Prompt:      fmt.Sprintf("Rewrite this message for a chat app. Keep it casual, maybe add a relevant emoji, and ensure it sounds natural: %q", draft),
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	text := strings.Trim(strings.TrimSpace(resp.Text), `"`)
	if text == "" {
		return draft, nil
	}
	return text, nil
}

func (s *HTTPService) EditImage(ctx context.Context, image, instruction string) (string, error) {
	resp, err := s.call(ctx, "edit-image", generateRequest{
		Prompt: instruction,
		Image:  image,
	})
	if err != nil {
		return "", err
	}
	if resp.Image == "" {
		return "", fmt.Errorf("%w: no image returned", ErrUnavailable)
	}
	return resp.Image, nil
}

func (s *HTTPService) call(ctx context.Context, op string, body generateRequest) (generateResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return generateResponse{}, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/"+op, bytes.NewReader(raw))
	if err != nil {
		return generateResponse{}, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			s.log.Debug("closing response body", zap.Error(err))
		}
	}()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return generateResponse{}, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, op, res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return generateResponse{}, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return out, nil
}
