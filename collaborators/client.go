// Package collaborators implements the engine's external services over HTTP. One Client
// talks to a collaborator gateway and satisfies every collaborator interface the runtime
// dispatches to.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/rules"
	"github.com/liamcoop/stageconditions/runtime"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept on StatusError
const maxErrorBody = 2048

// StatusError is a non-2xx response from the gateway
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the gateway may accept the same request later
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

var (
	_ actions.NotificationSender    = (*Client)(nil)
	_ actions.FieldUpdater          = (*Client)(nil)
	_ actions.ActionInvoker         = (*Client)(nil)
	_ actions.UserAssigner          = (*Client)(nil)
	_ actions.StageController       = (*Client)(nil)
	_ runtime.ComponentDataProvider = (*Client)(nil)
	_ runtime.WorkflowStageProvider = (*Client)(nil)
	_ runtime.ConditionSource       = (*Client)(nil)
)

// Client calls the collaborator gateway rooted at a base URL
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sends token as a bearer credential on every request
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New creates a client for the gateway at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("collaborator base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid collaborator base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collaborator base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collaborators returns the client as the action executor's collaborator bundle
func (c *Client) Collaborators() actions.Collaborators {
	return actions.Collaborators{
		Notifications: c,
		Fields:        c,
		Invoker:       c,
		Assigner:      c,
		Stages:        c,
	}
}

// Send posts a notification for one recipient
func (c *Client) Send(ctx context.Context, recipientType, recipientID, templateID string, params map[string]any) error {
	body := map[string]any{
		"recipientType": recipientType,
		"recipientId":   recipientID,
		"templateId":    templateID,
		"parameters":    params,
	}
	return c.do(ctx, http.MethodPost, "/notifications", body, nil)
}

// Update writes a field value on a stage
func (c *Client) Update(ctx context.Context, stageID int64, fieldID string, value any) error {
	path := "/stages/" + id(stageID) + "/fields/" + url.PathEscape(fieldID)
	return c.do(ctx, http.MethodPut, path, map[string]any{"value": value}, nil)
}

// Invoke runs an action definition for the execution context
func (c *Client) Invoke(ctx context.Context, actionDefinitionID string, ec actions.ExecutionContext, params map[string]any) error {
	body := map[string]any{
		"onboardingId": ec.OnboardingID,
		"stageId":      ec.StageID,
		"conditionId":  ec.ConditionID,
		"operator":     ec.Operator,
		"parameters":   params,
	}
	return c.do(ctx, http.MethodPost, "/action-definitions/"+url.PathEscape(actionDefinitionID)+"/invoke", body, nil)
}

// Assign assigns a user or team to an onboarding
func (c *Client) Assign(ctx context.Context, onboardingID int64, assignee actions.Assignee) error {
	return c.do(ctx, http.MethodPost, "/onboardings/"+id(onboardingID)+"/assignments", assignee, nil)
}

// MoveToStage transitions an onboarding to toStageID
func (c *Client) MoveToStage(ctx context.Context, onboardingID, fromStageID, toStageID int64) error {
	body := map[string]int64{"fromStageId": fromStageID, "toStageId": toStageID}
	return c.do(ctx, http.MethodPost, "/onboardings/"+id(onboardingID)+"/stage", body, nil)
}

// EndWorkflow ends an onboarding's workflow with status
func (c *Client) EndWorkflow(ctx context.Context, onboardingID int64, status string) error {
	return c.do(ctx, http.MethodPost, "/onboardings/"+id(onboardingID)+"/end", map[string]string{"status": status}, nil)
}

// BusinessData fetches the component snapshot of an onboarding stage.
// An unknown onboarding or stage returns an error wrapping runtime.ErrNotFound.
func (c *Client) BusinessData(ctx context.Context, onboardingID, stageID int64) (*rules.BusinessDataContext, error) {
	var bdc rules.BusinessDataContext
	path := "/onboardings/" + id(onboardingID) + "/stages/" + id(stageID) + "/business-data"
	if err := c.do(ctx, http.MethodGet, path, nil, &bdc); err != nil {
		return nil, lookupErr(err)
	}
	if bdc.OnboardingID == 0 {
		bdc.OnboardingID = onboardingID
	}
	if bdc.StageID == 0 {
		bdc.StageID = stageID
	}
	return &bdc, nil
}

// WorkflowStages fetches the ordered stage ids of an onboarding's workflow
func (c *Client) WorkflowStages(ctx context.Context, onboardingID int64) ([]int64, error) {
	var resp struct {
		StageIDs []int64 `json:"stageIds"`
	}
	if err := c.do(ctx, http.MethodGet, "/onboardings/"+id(onboardingID)+"/workflow-stages", nil, &resp); err != nil {
		return nil, lookupErr(err)
	}
	return resp.StageIDs, nil
}

// Condition fetches a stored condition definition
func (c *Client) Condition(ctx context.Context, conditionID int64) (*runtime.Condition, error) {
	var cond runtime.Condition
	if err := c.do(ctx, http.MethodGet, "/conditions/"+id(conditionID), nil, &cond); err != nil {
		return nil, lookupErr(err)
	}
	if cond.ID == 0 {
		cond.ID = conditionID
	}
	return &cond, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return actions.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		if statusErr.Temporary() {
			return actions.Transient(statusErr)
		}
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// lookupErr maps a 404 on a read to runtime.ErrNotFound
func lookupErr(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", runtime.ErrNotFound, err)
	}
	return err
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
