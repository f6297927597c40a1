package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"laneassist/internal/config"
)

const (
	sendTimeout     = 30 * time.Second
	maxMediaSize    = 16 << 20
	maxErrorPreview = 512
)

// ErrDelivery marks a reply that could not be handed to the messaging platform.
var ErrDelivery = errors.New("delivery failed")

// Sender delivers replies to a user on a messaging channel.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to, path, caption string) error
}

// WhatsApp talks to the WhatsApp Cloud API.
type WhatsApp struct {
	baseURL       string
	phoneNumberID string
	token         string
	mediaDir      string
	httpClient    *http.Client
}

func NewWhatsApp(cfg *config.Config) (*WhatsApp, error) {
	wa := cfg.WhatsApp
	if wa.PhoneNumberID == "" || wa.AccessToken == "" {
		return nil, errors.New("whatsapp phone number id and access token required")
	}
	if err := os.MkdirAll(cfg.BasicConfig.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &WhatsApp{
		baseURL:       strings.TrimRight(wa.BaseURL, "/") + "/" + wa.APIVersion,
		phoneNumberID: wa.PhoneNumberID,
		token:         wa.AccessToken,
		mediaDir:      cfg.BasicConfig.MediaDir,
		httpClient:    &http.Client{Timeout: sendTimeout},
	}, nil
}

// SendText sends a plain text message. Reasoning blocks are stripped first.
func (w *WhatsApp) SendText(ctx context.Context, to, text string) error {
	text = CleanReply(text)
	if to == "" || text == "" {
		return fmt.Errorf("%w: recipient and text required", ErrDelivery)
	}
	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	})
}

// SendDocument uploads the file at path and sends it as a document message.
func (w *WhatsApp) SendDocument(ctx context.Context, to, path, caption string) error {
	if to == "" || path == "" {
		return fmt.Errorf("%w: recipient and file required", ErrDelivery)
	}
	mediaID, err := w.upload(ctx, path)
	if err != nil {
		return err
	}
	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "document",
		"document": map[string]any{
			"id":       mediaID,
			"filename": filepath.Base(path),
			"caption":  caption,
		},
	})
}

func (w *WhatsApp) postMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/"+w.phoneNumberID+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = w.do(req)
	return err
}

func (w *WhatsApp) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrDelivery, path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_ = mw.WriteField("messaging_product", "whatsapp")
	_ = mw.WriteField("type", mimeType)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrDelivery, path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/"+w.phoneNumberID+"/media", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := w.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("%w: media upload returned no id", ErrDelivery)
	}
	return out.ID, nil
}

// DownloadMedia resolves mediaID and stores the file under the media directory.
func (w *WhatsApp) DownloadMedia(ctx context.Context, mediaID string) (string, error) {
	if mediaID == "" {
		return "", errors.New("media id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/"+mediaID, nil)
	if err != nil {
		return "", err
	}
	body, err := w.do(req)
	if err != nil {
		return "", fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || meta.URL == "" {
		return "", fmt.Errorf("resolve media %s: no url in response", mediaID)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return "", err
	}
	data, err := w.do(req)
	if err != nil {
		return "", fmt.Errorf("download media %s: %w", mediaID, err)
	}

	path := filepath.Join(w.mediaDir, uuid.NewString()+mediaExt(meta.MimeType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}
	return path, nil
}

func mediaExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func (w *WhatsApp) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+w.token)
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrDelivery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > maxErrorPreview {
			preview = preview[:maxErrorPreview]
		}
		slog.Warn("whatsapp api error", "url", req.URL.Path, "status", resp.StatusCode, "body", preview)
		return nil, fmt.Errorf("%w: %s", ErrDelivery, resp.Status)
	}
	return body, nil
}

// Noop discards replies. The web channel returns the reply in the HTTP response.
type Noop struct{}

func (Noop) SendText(context.Context, string, string) error { return nil }
func (Noop) SendDocument(context.Context, string, string, string) error { return nil }
