package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"smart-progress/internal/config"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
)

// TaskSource reads the current items of one tracker project.
type TaskSource interface {
	FetchTasks(ctx context.Context, projectID string) ([]model.TrackedItem, error)
}

const backlogPageSize = 100

// BacklogClient reads issues from the Backlog REST API v2.
type BacklogClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	loc        *time.Location
}

func NewBacklogClient(cfg config.TrackerConfig, loc *time.Location) *BacklogClient {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.backlog.com", cfg.SpaceKey)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &BacklogClient{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		loc:        loc,
	}
}

type backlogIssue struct {
	ID        int64        `json:"id"`
	ProjectID int64        `json:"projectId"`
	IssueKey  string       `json:"issueKey"`
	Summary   string       `json:"summary"`
	Assignee  *backlogUser `json:"assignee"`
	Status    backlogNamed `json:"status"`
	Priority  backlogNamed `json:"priority"`
	DueDate   *string      `json:"dueDate"`
	Created   string       `json:"created"`
	Updated   string       `json:"updated"`
}

type backlogUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type backlogNamed struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// FetchTasks pages through every issue of projectID. Issues that cannot be parsed
// are skipped and counted; only page-level failures are errors.
func (c *BacklogClient) FetchTasks(ctx context.Context, projectID string) ([]model.TrackedItem, error) {
	fetchedAt := time.Now()
	var items []model.TrackedItem
	skipped := 0
	defer func() {
		if skipped > 0 {
			logger.Warn("backlog.malformed", "project", projectID, "skipped", skipped)
		}
	}()
	for offset := 0; ; offset += backlogPageSize {
		q := url.Values{}
		q.Add("projectId[]", projectID)
		q.Set("count", strconv.Itoa(backlogPageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("sort", "created")
		q.Set("order", "asc")

		var page []backlogIssue
		if err := c.get(ctx, "/api/v2/issues", q, &page); err != nil {
			return nil, fmt.Errorf("backlog issues %s: %w", projectID, err)
		}
		for _, is := range page {
			it, err := c.toItem(is)
			if err != nil {
				logger.Debug("backlog issue skipped", "project", projectID, "issue", is.IssueKey, "err", err)
				skipped++
				continue
			}
			it.FetchedAt = fetchedAt
			items = append(items, it)
		}
		if len(page) < backlogPageSize {
			return items, nil
		}
	}
}

// Ping checks credentials against the space endpoint.
func (c *BacklogClient) Ping(ctx context.Context) error {
	var space struct {
		SpaceKey string `json:"spaceKey"`
	}
	return c.get(ctx, "/api/v2/space", nil, &space)
}

func (c *BacklogClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransientSource, err)
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("apiKey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", model.ErrMalformedRecord)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, model.ErrAuthentication)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d: %w", resp.StatusCode, model.ErrTransientSource)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// classifyTransport marks network failures as transient. The error text is dropped
// because it carries the request URL and with it the api key.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("request timed out: %w", model.ErrTransientSource)
	}
	return fmt.Errorf("request failed: %w", model.ErrTransientSource)
}

func (c *BacklogClient) toItem(is backlogIssue) (model.TrackedItem, error) {
	it := model.TrackedItem{
		ID:        is.IssueKey,
		ProjectID: strconv.FormatInt(is.ProjectID, 10),
		Summary:   is.Summary,
		Status:    backlogStatus(is.Status),
		Priority:  backlogPriority(is.Priority),
		URL:       c.baseURL + "/view/" + is.IssueKey,
	}
	if it.ID == "" {
		return it, model.ErrMalformedRecord
	}
	if is.Assignee != nil {
		it.AssigneeID = strconv.FormatInt(is.Assignee.ID, 10)
		it.AssigneeName = is.Assignee.Name
	}
	var err error
	if it.CreatedAt, err = time.Parse(time.RFC3339, is.Created); err != nil {
		return it, fmt.Errorf("created %q: %w", is.Created, model.ErrMalformedRecord)
	}
	if it.UpdatedAt, err = time.Parse(time.RFC3339, is.Updated); err != nil {
		return it, fmt.Errorf("updated %q: %w", is.Updated, model.ErrMalformedRecord)
	}
	if is.DueDate != nil && *is.DueDate != "" {
		d, err := time.Parse(time.RFC3339, *is.DueDate)
		if err != nil {
			return it, fmt.Errorf("due %q: %w", *is.DueDate, model.ErrMalformedRecord)
		}
		// Backlog sends the due day as midnight UTC; keep the calendar day.
		due := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
		it.DueDate = &due
	}
	if it.Status.Terminal() {
		done := it.UpdatedAt
		it.CompletedAt = &done
	}
	return it, nil
}

func backlogStatus(s backlogNamed) model.ItemStatus {
	switch s.ID {
	case 1:
		return model.StatusOpen
	case 2:
		return model.StatusInProgress
	case 3:
		return model.StatusResolved
	case 4:
		return model.StatusClosed
	}
	switch strings.ToLower(s.Name) {
	case "完了", "closed", "done":
		return model.StatusClosed
	case "処理済み", "resolved":
		return model.StatusResolved
	case "保留", "pending", "on hold":
		return model.StatusPending
	case "処理中", "in progress":
		return model.StatusInProgress
	}
	return model.StatusOpen
}

func backlogPriority(p backlogNamed) model.Priority {
	switch p.ID {
	case 2:
		return model.PriorityHigh
	case 4:
		return model.PriorityLow
	}
	return model.PriorityNormal
}
