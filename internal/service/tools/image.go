package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"laneassist/internal/service/ai"
)

const (
	maxImageBytes = 10 << 20
	visionPrompt  = "Describe this image for an auto parts shop. Name the vehicle part or parts shown, " +
		"any visible brand, part number or model markings, and the likely vehicle make. " +
		"Answer in one short paragraph that can be used as a catalog search query."
)

// ImageReader turns a product photo into a text query using a vision model.
type ImageReader struct {
	vision model.BaseChatModel
}

func NewImageReader(vision model.BaseChatModel) *ImageReader {
	return &ImageReader{vision: vision}
}

// Read describes the image stored at path.
func (r *ImageReader) Read(ctx context.Context, path string) (string, error) {
	if r == nil || r.vision == nil {
		return "", errors.New("vision model not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("image file is empty")
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := r.vision.Generate(ctx, []*schema.Message{{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: visionPrompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURL, Detail: schema.ImageURLDetailAuto}},
		},
	}}, model.WithTemperature(0.1))
	if err != nil {
		return "", fmt.Errorf("vision model: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("vision model returned no description")
	}
	return text, nil
}

type ImageParams struct {
	MediaPath string `json:"media_path" jsonschema:"description=Local path of the image sent by the customer"`
}

// NewImageTool exposes the reader as read_image.
func NewImageTool(reader *ImageReader) (tool.InvokableTool, error) {
	if reader == nil {
		return nil, errors.New("read_image needs an image reader")
	}
	return utils.InferTool(string(ai.ToolReadImage),
		"Describe an image the customer sent, focusing on vehicle parts, brands and part numbers.",
		func(ctx context.Context, params *ImageParams) (string, error) {
			if params == nil || strings.TrimSpace(params.MediaPath) == "" {
				return "", fmt.Errorf("%w: media_path is required", ErrValidation)
			}
			return reader.Read(ctx, strings.TrimSpace(params.MediaPath))
		})
}
