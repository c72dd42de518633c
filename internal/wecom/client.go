// Package wecom talks to the enterprise messaging HTTP API: token
// issuance, message delivery and temporary media upload.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://qyapi.weixin.qq.com"

	tokenPath  = "/cgi-bin/gettoken"
	sendPath   = "/cgi-bin/message/send"
	uploadPath = "/cgi-bin/media/upload"

	// maxBodyBytes bounds how much of a JSON response is read.
	maxBodyBytes = 1 << 20
)

// Client is a thin request/response mapping over the remote API. It holds
// no credential state of its own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig configures a Client. HTTPClient wins over Timeout when set.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// SendResponse is the body returned by the message endpoint.
type SendResponse struct {
	ErrCode      int    `json:"errcode"`
	ErrMsg       string `json:"errmsg"`
	InvalidUser  string `json:"invaliduser,omitempty"`
	InvalidParty string `json:"invalidparty,omitempty"`
	InvalidTag   string `json:"invalidtag,omitempty"`
	MsgID        string `json:"msgid,omitempty"`
}

// FetchToken asks the token endpoint for a new access token and returns the
// decoded response object as-is, whatever its errcode.
func (c *Client) FetchToken(ctx context.Context, corpID, secret string) (map[string]any, error) {
	q := url.Values{}
	q.Set("corpid", corpID)
	q.Set("corpsecret", secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(tokenPath, q), nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}

	var out map[string]any
	if err := c.doJSON(req, "gettoken", &out); err != nil {
		return nil, err
	}
	c.logger.Info("token fetched from remote", "errmsg", out["errmsg"])
	return out, nil
}

// SendMessage posts one message payload. A non-zero errcode is returned as
// *APIError; anything that prevented a decoded answer is *TransportError.
func (c *Client) SendMessage(ctx context.Context, token string, payload any) (*SendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	q := url.Values{}
	q.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(sendPath, q), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		SendResponse
		ErrCode *int `json:"errcode"`
	}
	if err := c.doJSON(req, "message/send", &raw); err != nil {
		return nil, err
	}
	if raw.ErrCode == nil {
		c.logger.Error("send response without errcode", "errmsg", raw.ErrMsg)
		return nil, fmt.Errorf("message/send: %w", ErrMissingErrcode)
	}
	out := raw.SendResponse
	out.ErrCode = *raw.ErrCode
	if out.ErrCode != 0 {
		return &out, &APIError{Op: "message/send", Code: out.ErrCode, Message: out.ErrMsg}
	}
	return &out, nil
}

// UploadMedia streams r as the "file" part of a multipart form to the media
// endpoint and returns the raw response body.
func (c *Client) UploadMedia(ctx context.Context, token, kind, filename string, r io.Reader) ([]byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("type", kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(uploadPath, q), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return nil, &TransportError{Op: "media/upload", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "media/upload", StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Info("media upload response", "status", resp.StatusCode, "body", string(body))
	return body, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(body), 200))}
	}
	c.logger.Debug("api response", "op", op, "status", resp.StatusCode, "body", string(body))

	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseMediaID extracts media_id from an upload response body.
func ParseMediaID(body []byte) (string, error) {
	var out struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ErrCode != 0 {
		return "", &APIError{Op: "media/upload", Code: out.ErrCode, Message: out.ErrMsg}
	}
	if out.MediaID == "" {
		return "", errors.New("upload response has no media_id")
	}
	return out.MediaID, nil
}
