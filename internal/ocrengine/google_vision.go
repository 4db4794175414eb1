package ocrengine

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/apiv1"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	visionpb "google.golang.org/genproto/googleapis/cloud/vision/v1"

	"github.com/ocrplatform/extraction-worker/pkg/logger"
)

// GoogleVisionAdapter backs the llm_proxy_cloud tier with Google Cloud
// Vision's DOCUMENT_TEXT_DETECTION feature, for deployments that prefer
// a managed OCR backend over a self-hosted sidecar.
type GoogleVisionAdapter struct {
	client *vision.ImageAnnotatorClient
}

// NewGoogleVisionAdapter dials the Vision API using the supplied API
// key. The client holds no per-call state and is safe for concurrent
// use.
func NewGoogleVisionAdapter(ctx context.Context, apiKey string) (*GoogleVisionAdapter, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("ocrengine: creating google vision client: %w", err)
	}
	return &GoogleVisionAdapter{client: client}, nil
}

func (a *GoogleVisionAdapter) Process(ctx context.Context, image []byte, languageHint string, _ Mode) (Result, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{{
				Type:       visionpb.Feature_DOCUMENT_TEXT_DETECTION,
				MaxResults: 1,
			}},
		}},
	}

	resp, err := a.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("ocrengine: google vision call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return Result{}, fmt.Errorf("ocrengine: google vision returned no responses")
	}
	if apiErr := resp.Responses[0].Error; apiErr != nil {
		return Result{}, fmt.Errorf("ocrengine: google vision error: %s", apiErr.GetMessage())
	}

	annotation := resp.Responses[0].GetFullTextAnnotation()
	if annotation == nil {
		return Result{}, nil
	}

	var blocks []Block
	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				var text string
				var total float64
				var symbols int
				for _, word := range paragraph.Words {
					for _, symbol := range word.Symbols {
						text += symbol.GetText()
						total += float64(symbol.GetConfidence())
						symbols++
					}
				}
				confidence := 0.0
				if symbols > 0 {
					confidence = total / float64(symbols)
				}
				blocks = append(blocks, Block{Text: text, Confidence: confidence})
			}
		}
	}

	logger.Get().Debug("google vision extraction complete",
		zap.String("language_hint", languageHint),
		zap.Int("text_length", len(annotation.GetText())),
		zap.Int("blocks", len(blocks)),
	)

	return Result{Text: annotation.GetText(), Blocks: blocks}, nil
}

// Available reports whether the Vision API client was constructed. It
// makes no remote health check; transient failures surface through
// Process instead.
func (a *GoogleVisionAdapter) Available(ctx context.Context) bool {
	return a.client != nil
}
