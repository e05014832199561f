package http_utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DownloadFileByPresignedURL fetches url into outputPath. Bodies larger than
// maxBytes are rejected and nothing is left at outputPath.
func DownloadFileByPresignedURL(ctx context.Context, presignedURL string, outputPath string, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return fmt.Errorf("invalid download url: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file from presigned URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file, received status code: %d", resp.StatusCode)
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := outputPath + ".part"
	outFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", tempPath, err)
	}

	n, err := io.Copy(outFile, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := outFile.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("failed to write file content to %s: %w", outputPath, err)
	case closeErr != nil:
		err = closeErr
	case n > maxBytes:
		err = fmt.Errorf("download exceeds %d bytes", maxBytes)
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, outputPath)
}
