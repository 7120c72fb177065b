// Package telegram is a minimal Bot API client covering the calls the
// bots and the publication projector need. Message parsing and update
// routing live in the adapters, not here.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ChatRef converts a numeric chat id into the string form used for
// Bot API chat_id fields and for owner_ref in the store.
func ChatRef(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Sender is the surface consumed by the adapters and the projector.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (int64, error)
	SendPhoto(ctx context.Context, chatID, fileID, caption string) (int64, error)
	SendMediaGroup(ctx context.Context, chatID string, fileIDs []string, caption string) (int64, error)
	DeleteMessage(ctx context.Context, chatID string, messageID int64) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Client talks to the Bot API for a single bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// SendOptions carries the optional sendMessage parameters the bots use.
type SendOptions struct {
	ParseMode      string          `json:"parse_mode,omitempty"`
	ReplyMarkup    *InlineKeyboard `json:"reply_markup,omitempty"`
	DisablePreview bool            `json:"disable_web_page_preview,omitempty"`
}

// InlineKeyboard mirrors the Bot API reply markup structure.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

type fileResult struct {
	FilePath string `json:"file_path"`
}

func NewClient(token, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Client{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) call(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", method, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("%s failed (code %d): %s", method, apiResp.ErrorCode, apiResp.Description)
	}

	return apiResp.Result, nil
}

// SendMessage posts a text message and returns the channel message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (int64, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil {
		if opts.ParseMode != "" {
			payload["parse_mode"] = opts.ParseMode
		}
		if opts.ReplyMarkup != nil {
			payload["reply_markup"] = opts.ReplyMarkup
		}
		if opts.DisablePreview {
			payload["disable_web_page_preview"] = true
		}
	}

	result, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}

	var msg messageResult
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("failed to unmarshal message result: %w", err)
	}
	return msg.MessageID, nil
}

// SendPhoto posts a single photo by Telegram file id.
func (c *Client) SendPhoto(ctx context.Context, chatID, fileID, caption string) (int64, error) {
	result, err := c.call(ctx, "sendPhoto", map[string]interface{}{
		"chat_id":    chatID,
		"photo":      fileID,
		"caption":    caption,
		"parse_mode": "HTML",
	})
	if err != nil {
		return 0, err
	}

	var msg messageResult
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("failed to unmarshal message result: %w", err)
	}
	return msg.MessageID, nil
}

// SendMediaGroup posts up to ten photos as an album. The caption rides
// on the first item. Returns the id of the first message in the album.
func (c *Client) SendMediaGroup(ctx context.Context, chatID string, fileIDs []string, caption string) (int64, error) {
	media := make([]map[string]interface{}, 0, len(fileIDs))
	for i, fileID := range fileIDs {
		item := map[string]interface{}{
			"type":  "photo",
			"media": fileID,
		}
		if i == 0 {
			item["caption"] = caption
			item["parse_mode"] = "HTML"
		}
		media = append(media, item)
	}

	result, err := c.call(ctx, "sendMediaGroup", map[string]interface{}{
		"chat_id": chatID,
		"media":   media,
	})
	if err != nil {
		return 0, err
	}

	var msgs []messageResult
	if err := json.Unmarshal(result, &msgs); err != nil {
		return 0, fmt.Errorf("failed to unmarshal media group result: %w", err)
	}
	if len(msgs) == 0 {
		return 0, fmt.Errorf("sendMediaGroup returned no messages")
	}
	return msgs[0].MessageID, nil
}

// DeleteMessage removes a previously posted channel message.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	_, err := c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

// DownloadFile resolves a file id and fetches its content. File paths
// returned by getFile are short-lived, so the download happens
// immediately.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	result, err := c.call(ctx, "getFile", map[string]interface{}{
		"file_id": fileID,
	})
	if err != nil {
		return nil, err
	}

	var file fileResult
	if err := json.Unmarshal(result, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file result: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
