// Package openproject implements the ticket backend against the OpenProject
// work-package REST API. Tickets are work packages of a configured "call"
// type; the tracking-id set and call timestamps live in custom fields, and
// optimistic concurrency rides on the API's lockVersion token.
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/backend"
	"github.com/spec-kit/callbridge/internal/calltrack"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
)

func init() {
	backend.Register("openproject", func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.TicketBackend, error) {
		if cfg.OpenProject.BaseURL == "" {
			return nil, fmt.Errorf("OPENPROJECT_BASE_URL required for the openproject backend")
		}
		return New(cfg.OpenProject, cfg.Call, logger), nil
	})
}

// Backend talks to one OpenProject instance.
type Backend struct {
	cfg    config.OpenProjectConfig
	call   config.CallConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the backend.
func New(cfg config.OpenProjectConfig, call config.CallConfig, logger *zap.Logger) *Backend {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{
		cfg:    cfg,
		call:   call,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// GetTicketByCallID finds the work package tracking id as an exact token.
func (b *Backend) GetTicketByCallID(ctx context.Context, id string) (*domain.Ticket, error) {
	tickets, err := b.queryWorkPackages(ctx, "", []filter{
		{field: b.cfg.TrackingField, operator: "~", values: []string{id}},
	})
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		for _, token := range calltrack.SplitCallIDs(tickets[i].TrackingCallIDs) {
			if token == id {
				return &tickets[i], nil
			}
		}
	}
	return nil, nil
}

// GetTicketByCallIDContains finds the work package whose tracking field
// contains id as a substring.
func (b *Backend) GetTicketByCallIDContains(ctx context.Context, id string) (*domain.Ticket, error) {
	tickets, err := b.queryWorkPackages(ctx, "", []filter{
		{field: b.cfg.TrackingField, operator: "~", values: []string{id}},
	})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return &tickets[0], nil
}

// LatestOpenCallTicketInProject returns the newest open call work package in
// the project.
func (b *Backend) LatestOpenCallTicketInProject(ctx context.Context, projectID string) (*domain.Ticket, error) {
	tickets, err := b.queryWorkPackages(ctx, projectID, []filter{
		b.openStatusFilter(),
		{field: "type", operator: "=", values: []string{path.Base(b.cfg.TypeCall)}},
	})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return &tickets[0], nil
}

// LatestOpenTicketByTitle returns the newest open call work package in the
// project whose subject matches exactly. The API's subject filter is a
// contains-match, so exactness is enforced here.
func (b *Backend) LatestOpenTicketByTitle(ctx context.Context, projectID, title string) (*domain.Ticket, error) {
	tickets, err := b.queryWorkPackages(ctx, projectID, []filter{
		b.openStatusFilter(),
		{field: "type", operator: "=", values: []string{path.Base(b.cfg.TypeCall)}},
		{field: "subject", operator: "~", values: []string{title}},
	})
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		if tickets[i].Title == title {
			return &tickets[i], nil
		}
	}
	return nil, nil
}

// CreateTicket posts a new work package of the call type.
func (b *Backend) CreateTicket(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, error) {
	projectID := b.call.DefaultProjectID
	if caller != nil && len(caller.ProjectIDs) > 0 && caller.ProjectIDs[0] != "" {
		projectID = caller.ProjectIDs[0]
	}

	body := map[string]any{
		"subject": backend.TitleFor(caller, call, b.call.UnknownTitlePrefix),
		"description": map[string]any{
			"format": "markdown",
			"raw":    "",
		},
		b.cfg.TrackingField: calltrack.AddCallID("", call.CallID),
		"_links": map[string]any{
			"type":   map[string]any{"href": b.cfg.TypeCall},
			"status": map[string]any{"href": b.cfg.StatusNew},
		},
	}
	if call.AgentUser != "" {
		if href, err := b.userHref(ctx, call.AgentUser); err == nil && href != "" {
			body["_links"].(map[string]any)["assignee"] = map[string]any{"href": href}
		}
	}

	endpoint := fmt.Sprintf("%s/api/v3/projects/%s/work_packages", b.cfg.BaseURL, url.PathEscape(projectID))
	var wp workPackage
	if err := b.do(ctx, http.MethodPost, endpoint, body, &wp); err != nil {
		return nil, err
	}
	ticket := b.toTicket(wp)
	ticket.ProjectID = projectID
	ticket.CallerNumber = call.CallerNumber
	ticket.DialedNumber = call.DialedNumber
	b.logger.Info("created call work package",
		zap.String("ticket_id", ticket.ID),
		zap.String("project_id", projectID),
		zap.String("call_id", call.CallID))
	return ticket, nil
}

// Save patches the work package, echoing lockVersion. A 409 from the API
// means a concurrent writer won and surfaces as ErrStaleTicket.
func (b *Backend) Save(ctx context.Context, ticket *domain.Ticket) error {
	body := map[string]any{
		"lockVersion": ticket.LockVersion,
		"subject":     ticket.Title,
		"description": map[string]any{
			"format": "markdown",
			"raw":    ticket.Description,
		},
		b.cfg.TrackingField:  ticket.TrackingCallIDs,
		b.cfg.CallStartField: ticket.CallStartTimestamp,
		b.cfg.CallEndField:   ticket.CallEndTimestamp,
		"_links": map[string]any{
			"status": map[string]any{"href": b.statusHref(ticket.Status)},
		},
	}
	if ticket.Assignee != "" {
		if href, err := b.userHref(ctx, ticket.Assignee); err == nil && href != "" {
			body["_links"].(map[string]any)["assignee"] = map[string]any{"href": href}
		}
	}

	endpoint := fmt.Sprintf("%s/api/v3/work_packages/%s", b.cfg.BaseURL, url.PathEscape(ticket.ID))
	var wp workPackage
	if err := b.do(ctx, http.MethodPatch, endpoint, body, &wp); err != nil {
		return err
	}
	ticket.LockVersion = wp.LockVersion
	return nil
}

// UserExists looks the login up through the users API.
func (b *Backend) UserExists(ctx context.Context, name string) (bool, error) {
	href, err := b.userHref(ctx, name)
	if err != nil {
		return false, err
	}
	return href != "", nil
}

// Ping checks the API root.
func (b *Backend) Ping(ctx context.Context) error {
	return b.do(ctx, http.MethodGet, b.cfg.BaseURL+"/api/v3", nil, nil)
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (b *Backend) Close() {}

type filter struct {
	field    string
	operator string
	values   []string
}

type workPackage struct {
	ID          json.Number `json:"id"`
	LockVersion int64       `json:"lockVersion"`
	Subject     string      `json:"subject"`
	Description struct {
		Raw string `json:"raw"`
	} `json:"description"`
	Links struct {
		Status struct {
			Href string `json:"href"`
		} `json:"status"`
		Assignee struct {
			Href  string `json:"href"`
			Title string `json:"title"`
		} `json:"assignee"`
		Project struct {
			Href string `json:"href"`
		} `json:"project"`
	} `json:"_links"`

	// Custom fields arrive as dynamically named top-level keys.
	extra map[string]json.RawMessage
}

func (wp *workPackage) UnmarshalJSON(data []byte) error {
	type alias workPackage
	var base alias
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	*wp = workPackage(base)
	return json.Unmarshal(data, &wp.extra)
}

func (wp *workPackage) stringField(name string) string {
	raw, ok := wp.extra[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (b *Backend) toTicket(wp workPackage) *domain.Ticket {
	return &domain.Ticket{
		ID:                 wp.ID.String(),
		ProjectID:          path.Base(wp.Links.Project.Href),
		Title:              wp.Subject,
		Assignee:           wp.Links.Assignee.Title,
		Status:             b.statusFromHref(wp.Links.Status.Href),
		TrackingCallIDs:    wp.stringField(b.cfg.TrackingField),
		Description:        wp.Description.Raw,
		CallStartTimestamp: wp.stringField(b.cfg.CallStartField),
		CallEndTimestamp:   wp.stringField(b.cfg.CallEndField),
		LockVersion:        wp.LockVersion,
	}
}

func (b *Backend) statusFromHref(href string) domain.TicketStatus {
	switch href {
	case b.cfg.StatusNew:
		return domain.TicketStatusNew
	case b.cfg.StatusClosed:
		return domain.TicketStatusClosed
	default:
		// Unrecognized statuses are treated as in progress so they stay
		// mutable; only the configured closed status blocks reopening.
		return domain.TicketStatusInProgress
	}
}

func (b *Backend) statusHref(status domain.TicketStatus) string {
	switch status {
	case domain.TicketStatusNew:
		return b.cfg.StatusNew
	case domain.TicketStatusClosed:
		return b.cfg.StatusClosed
	default:
		return b.cfg.StatusInProgress
	}
}

func (b *Backend) openStatusFilter() filter {
	return filter{
		field:    "status",
		operator: "=",
		values:   []string{path.Base(b.cfg.StatusNew), path.Base(b.cfg.StatusInProgress)},
	}
}

func (b *Backend) queryWorkPackages(ctx context.Context, projectID string, filters []filter) ([]domain.Ticket, error) {
	encoded, err := encodeFilters(filters)
	if err != nil {
		return nil, err
	}

	endpoint := b.cfg.BaseURL + "/api/v3/work_packages"
	if projectID != "" {
		endpoint = fmt.Sprintf("%s/api/v3/projects/%s/work_packages", b.cfg.BaseURL, url.PathEscape(projectID))
	}
	query := url.Values{}
	query.Set("filters", encoded)
	query.Set("sortBy", `[["updatedAt","desc"]]`)
	query.Set("pageSize", "20")

	var collection struct {
		Embedded struct {
			Elements []workPackage `json:"elements"`
		} `json:"_embedded"`
	}
	if err := b.do(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil, &collection); err != nil {
		return nil, err
	}

	tickets := make([]domain.Ticket, 0, len(collection.Embedded.Elements))
	for _, wp := range collection.Embedded.Elements {
		tickets = append(tickets, *b.toTicket(wp))
	}
	return tickets, nil
}

func (b *Backend) userHref(ctx context.Context, login string) (string, error) {
	encoded, err := encodeFilters([]filter{{field: "login", operator: "=", values: []string{login}}})
	if err != nil {
		return "", err
	}
	query := url.Values{}
	query.Set("filters", encoded)

	var collection struct {
		Embedded struct {
			Elements []struct {
				ID json.Number `json:"id"`
			} `json:"elements"`
		} `json:"_embedded"`
	}
	if err := b.do(ctx, http.MethodGet, b.cfg.BaseURL+"/api/v3/users?"+query.Encode(), nil, &collection); err != nil {
		return "", err
	}
	if len(collection.Embedded.Elements) == 0 {
		return "", nil
	}
	return "/api/v3/users/" + collection.Embedded.Elements[0].ID.String(), nil
}

func encodeFilters(filters []filter) (string, error) {
	out := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, map[string]any{
			f.field: map[string]any{
				"operator": f.operator,
				"values":   f.values,
			},
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth("apikey", b.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return backend.ErrStaleTicket
	case resp.StatusCode >= 400:
		return fmt.Errorf("openproject: %s %s returned %s", method, endpoint, strconv.Itoa(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
