package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cowechat/internal/domain"
	"cowechat/internal/metrics"
)

// Upload stages a local file as temporary media of the given type and
// returns the endpoint's response body unchanged. It always fetches a fresh
// token first, and that token becomes the current one.
func (c *Client) Upload(ctx context.Context, fileType, path string) ([]byte, error) {
	if fileType == "" || path == "" {
		err := &InputError{Kind: domain.MessageKind(fileType), Reason: "upload needs both a file type and a file path"}
		c.logger.Error("missing upload arguments", "type", fileType, "path", path)
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		c.logger.Error("cannot open upload file", "path", path, "err", err)
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	token, err := c.creds.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	c.setToken(token)

	metrics.Uploads.Inc()
	body, err := c.api.UploadMedia(ctx, token, fileType, filepath.Base(path), f)
	if err != nil {
		c.logger.Error("media upload failed", "type", fileType, "path", path, "err", err)
		return nil, err
	}
	return body, nil
}
