package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPClient talks to the LMS REST API. Each call carries the configured
// timeout; a timed-out or failed call surfaces as an error for the caller to
// classify (per-record failure inside a batch, phase abort during pagination).
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListUsers(ctx context.Context, opts ListOptions) (*Page[User], error) {
	return listPage(ctx, c, "/v1/users", opts, parseUser)
}

func (c *HTTPClient) ListGroups(ctx context.Context, opts ListOptions) (*Page[Group], error) {
	return listPage(ctx, c, "/v1/groups", opts, parseGroup)
}

func (c *HTTPClient) ListCourses(ctx context.Context, opts ListOptions) (*Page[Course], error) {
	return listPage(ctx, c, "/v1/courses", opts, parseCourse)
}

func (c *HTTPClient) ListEnrollments(ctx context.Context, opts ListOptions) (*Page[Enrollment], error) {
	return listPage(ctx, c, "/v1/enrollments", opts, parseEnrollment)
}

func (c *HTTPClient) ListGroupMembers(ctx context.Context, groupID string, opts ListOptions) (*Page[Membership], error) {
	path := fmt.Sprintf("/v1/groups/%s/memberships", url.PathEscape(groupID))
	return listPage(ctx, c, path, opts, func(raw map[string]any) (Membership, error) {
		return parseMembership(raw, groupID)
	})
}

func (c *HTTPClient) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	q := url.Values{"email": {strings.ToLower(email)}}
	var envelope map[string]any
	if err := c.doRequest(ctx, http.MethodGet, "/v1/users?"+q.Encode(), nil, &envelope); err != nil {
		return nil, err
	}

	items, err := extractItems(envelope)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	user, err := parseUser(items[0])
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) AddGroupMember(ctx context.Context, groupID, userID string) error {
	path := fmt.Sprintf("/v1/groups/%s/memberships", url.PathEscape(groupID))
	body, _ := json.Marshal(map[string]string{"user_id": userID})

	err := c.doRequest(ctx, http.MethodPost, path, body, nil)
	var httpErr *statusError
	if asStatusError(err, &httpErr) && (httpErr.status == http.StatusConflict ||
		(httpErr.status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(httpErr.body), "already"))) {
		return ErrAlreadyMember
	}
	return err
}

func (c *HTTPClient) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	path := fmt.Sprintf("/v1/groups/%s/memberships/%s", url.PathEscape(groupID), url.PathEscape(userID))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) CreateGroup(ctx context.Context, name string) (*Group, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	var raw map[string]any
	if err := c.doRequest(ctx, http.MethodPost, "/v1/groups", body, &raw); err != nil {
		return nil, err
	}

	// Some deployments nest the created entity under "data".
	if nested, ok := raw["data"].(map[string]any); ok {
		raw = nested
	}
	group, err := parseGroup(raw)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (c *HTTPClient) RenameGroup(ctx context.Context, groupID, name string) error {
	path := "/v1/groups/" + url.PathEscape(groupID)
	body, _ := json.Marshal(map[string]string{"name": name})
	return c.doRequest(ctx, http.MethodPatch, path, body, nil)
}

func (c *HTTPClient) DeleteGroup(ctx context.Context, groupID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/groups/"+url.PathEscape(groupID), nil, nil)
}

// listPage fetches one page and parses each record, counting malformed records
// instead of failing the page. When a Since filter is rejected by the server
// (400), the page is refetched unfiltered so incremental callers degrade to a
// full fetch.
func listPage[T any](ctx context.Context, c *HTTPClient, path string, opts ListOptions, parse func(map[string]any) (T, error)) (*Page[T], error) {
	items, err := c.listRaw(ctx, path, opts)
	var httpErr *statusError
	if asStatusError(err, &httpErr) && httpErr.status == http.StatusBadRequest && opts.Since != nil {
		log.Debug().Str("path", path).Msg("server rejected incremental filter, falling back to full fetch")
		opts.Since = nil
		items, err = c.listRaw(ctx, path, opts)
	}
	if err != nil {
		return nil, err
	}

	page := &Page[T]{
		Items:   len(items),
		HasMore: opts.PerPage > 0 && len(items) == opts.PerPage,
	}
	for _, raw := range items {
		rec, err := parse(raw)
		if err != nil {
			page.Malformed++
			log.Warn().Err(err).Str("path", path).Msg("skipping malformed LMS record")
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func (c *HTTPClient) listRaw(ctx context.Context, path string, opts ListOptions) ([]map[string]any, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.Since != nil {
		q.Set("updated_since", opts.Since.UTC().Format(time.RFC3339))
	}

	full := path
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		full = path + sep + q.Encode()
	}

	var envelope map[string]any
	if err := c.doRequest(ctx, http.MethodGet, full, nil, &envelope); err != nil {
		return nil, err
	}
	return extractItems(envelope)
}

// extractItems locates the record array inside a list envelope. Known envelope
// keys are tried first; an envelope with no array at all is a shape error.
func extractItems(envelope map[string]any) ([]map[string]any, error) {
	candidates := []string{"data", "items", "results"}
	var arr []any
	for _, k := range candidates {
		if v, ok := envelope[k].([]any); ok {
			arr = v
			break
		}
	}
	if arr == nil {
		for _, v := range envelope {
			if a, ok := v.([]any); ok {
				arr = a
				break
			}
		}
	}
	if arr == nil {
		return nil, fmt.Errorf("LMS list response has no record array: keys %v", keysOf(envelope))
	}

	items := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("LMS API returned %d: %s", e.status, e.body)
}

func asStatusError(err error, target **statusError) bool {
	if err == nil {
		return false
	}
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body []byte, response any) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("lms request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", time.Since(start)).
			Msg("lms request failed")
		return &statusError{status: resp.StatusCode, body: string(b)}
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode lms response: %w", err)
	}
	return nil
}
