// Package kie wraps the KIE music generation API. The ledger core only cares
// about the task identifier and the success signal; payload shapes stay in
// this package.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.kie.ai/api/v1"

// Generation types accepted by Submit.
const (
	TypeSong    = "song"
	TypeExtend  = "extend"
	TypeCover   = "cover"
	TypeLyrics  = "lyrics"
	TypePersona = "persona"
)

// Options configures the KIE client.
type Options struct {
	APIKey         string
	BaseURL        string
	CallbackURL    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the KIE API.
type Client struct {
	apiKey      string
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

// GenerateRequest captures the inputs for one generation task. Fields not
// relevant to the chosen type are ignored.
type GenerateRequest struct {
	Type         string  `json:"type"`
	Model        string  `json:"model,omitempty"`
	Prompt       string  `json:"prompt,omitempty"`
	Style        string  `json:"style,omitempty"`
	Title        string  `json:"title,omitempty"`
	Instrumental bool    `json:"instrumental,omitempty"`
	CustomMode   *bool   `json:"customMode,omitempty"`
	VocalGender  string  `json:"vocalGender,omitempty"`
	NegativeTags string  `json:"negativeTags,omitempty"`
	StyleWeight  float64 `json:"styleWeight,omitempty"`
	Weirdness    float64 `json:"weirdnessConstraint,omitempty"`
	AudioWeight  float64 `json:"audioWeight,omitempty"`
	PersonaID    string  `json:"personaId,omitempty"`
	UploadURL    string  `json:"uploadUrl,omitempty"`
	ContinueAt   int     `json:"continueAt,omitempty"`
	TaskID       string  `json:"taskId,omitempty"`
	AudioID      string  `json:"audioId,omitempty"`
	Name         string  `json:"name,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Submission is the normalized accept response.
type Submission struct {
	TaskID string
	Raw    json.RawMessage
}

// TaskStatus is the normalized polling response.
type TaskStatus struct {
	TaskID  string
	Status  string
	Done    bool
	Failed  bool
	Raw     json.RawMessage
	Message string
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		callbackURL: opts.CallbackURL,
		httpClient:  httpClient,
	}, nil
}

// Submit starts a generation task and returns its task identifier.
func (c *Client) Submit(ctx context.Context, req GenerateRequest) (*Submission, error) {
	endpoint, payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	env, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		TaskID string `json:"taskId"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("kie: decode submit response: %w", err)
		}
	}
	return &Submission{TaskID: data.TaskID, Raw: env.Data}, nil
}

// QueryStatus fetches the current state of a task.
func (c *Client) QueryStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	u := fmt.Sprintf("%s/generate/record-info?taskId=%s", c.baseURL, url.QueryEscape(taskID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kie: query status: %w", err)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}

	var data struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("kie: decode status response: %w", err)
		}
	}
	status := strings.ToUpper(data.Status)
	return &TaskStatus{
		TaskID:  data.TaskID,
		Status:  data.Status,
		Done:    strings.Contains(status, "SUCCESS"),
		Failed:  strings.Contains(status, "FAIL") || strings.Contains(status, "ERROR"),
		Raw:     env.Data,
		Message: env.Msg,
	}, nil
}

func (c *Client) buildPayload(req GenerateRequest) (string, map[string]any, error) {
	callback := c.callbackURL

	base := map[string]any{}
	addCommon := func() {
		if req.VocalGender != "" {
			base["vocalGender"] = req.VocalGender
		}
		if req.NegativeTags != "" {
			base["negativeTags"] = req.NegativeTags
		}
		if req.StyleWeight > 0 {
			base["styleWeight"] = req.StyleWeight
		}
		if req.Weirdness > 0 {
			base["weirdnessConstraint"] = req.Weirdness
		}
		if req.AudioWeight > 0 {
			base["audioWeight"] = req.AudioWeight
		}
		if req.PersonaID != "" {
			base["personaId"] = req.PersonaID
		}
	}

	switch req.Type {
	case TypeSong, "":
		base["prompt"] = req.Prompt
		base["model"] = defaultString(req.Model, "V4")
		base["customMode"] = true
		base["instrumental"] = req.Instrumental
		base["style"] = defaultString(req.Style, "Pop")
		base["title"] = defaultString(req.Title, "New Song")
		base["callBackUrl"] = callback
		addCommon()
		return "/generate", base, nil
	case TypeCover:
		if req.UploadURL == "" {
			return "", nil, fmt.Errorf("kie: uploadUrl is required for cover")
		}
		customMode := req.CustomMode == nil || *req.CustomMode
		base["uploadUrl"] = req.UploadURL
		base["model"] = defaultString(req.Model, "V5")
		base["customMode"] = customMode
		base["instrumental"] = req.Instrumental
		base["callBackUrl"] = callback
		if customMode {
			base["style"] = defaultString(req.Style, "Pop")
			base["title"] = defaultString(req.Title, "Covered Song")
			if !req.Instrumental {
				base["prompt"] = req.Prompt
			}
		} else {
			base["prompt"] = req.Prompt
		}
		addCommon()
		return "/generate/upload-cover", base, nil
	case TypeExtend:
		if req.UploadURL == "" || req.ContinueAt <= 0 {
			return "", nil, fmt.Errorf("kie: uploadUrl and continueAt are required for extend")
		}
		base["uploadUrl"] = req.UploadURL
		base["model"] = defaultString(req.Model, "V5")
		base["continueAt"] = req.ContinueAt
		base["customMode"] = true
		base["instrumental"] = req.Instrumental
		base["style"] = defaultString(req.Style, "Pop")
		base["title"] = defaultString(req.Title, "Extended Song")
		base["callBackUrl"] = callback
		if !req.Instrumental && req.Prompt != "" {
			base["prompt"] = req.Prompt
		}
		addCommon()
		return "/generate/upload-extend", base, nil
	case TypeLyrics:
		base["prompt"] = req.Prompt
		base["callBackUrl"] = callback
		return "/lyrics", base, nil
	case TypePersona:
		if req.TaskID == "" || req.AudioID == "" || req.Name == "" || req.Description == "" {
			return "", nil, fmt.Errorf("kie: taskId, audioId, name and description are required for persona")
		}
		base["taskId"] = req.TaskID
		base["audioId"] = req.AudioID
		base["name"] = req.Name
		base["description"] = req.Description
		return "/generate/generate-persona", base, nil
	default:
		return "", nil, fmt.Errorf("kie: unsupported generation type %q", req.Type)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (*apiEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kie: submit: %w", err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp)
}

func decodeEnvelope(resp *http.Response) (*apiEnvelope, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kie: read response: %w", err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kie: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || (env.Code != 0 && env.Code != 200) {
		msg := env.Msg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("kie: api error (code %d): %s", env.Code, msg)
	}
	return &env, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
