package ocrengine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// TesseractAdapter shells out to a local tesseract binary. It is the
// only Adapter implementation that runs in-process rather than calling
// a sidecar, matching the lowest (cheapest, fastest) tier's deployment
// shape.
type TesseractAdapter struct {
	binaryPath string
}

// NewTesseractAdapter builds an adapter invoking the named binary
// (usually just "tesseract", resolved via PATH).
func NewTesseractAdapter(binaryPath string) *TesseractAdapter {
	if binaryPath == "" {
		binaryPath = "tesseract"
	}
	return &TesseractAdapter{binaryPath: binaryPath}
}

func (a *TesseractAdapter) Process(ctx context.Context, image []byte, languageHint string, _ Mode) (Result, error) {
	tmp, err := os.CreateTemp("", "ocr-tesseract-*.img")
	if err != nil {
		return Result{}, fmt.Errorf("tesseract: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("tesseract: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("tesseract: closing temp file: %w", err)
	}

	args := []string{tmp.Name(), "stdout"}
	if languageHint != "" {
		args = append(args, "-l", languageHint)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, a.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("tesseract: %w: %s", err, stderr.String())
	}

	return Result{
		Text:       stdout.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func (a *TesseractAdapter) Available(ctx context.Context) bool {
	_, err := exec.LookPath(a.binaryPath)
	return err == nil
}
