// Package classroom is a read-only client for the Google Classroom REST API.
// Every listing is paginated lazily and mapped once into validated records.
package classroom

import (
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

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public Classroom API endpoint.
	DefaultBaseURL = "https://classroom.googleapis.com"
	// DefaultRequestTimeout bounds a single HTTP attempt.
	DefaultRequestTimeout = 20 * time.Second
	// MaxResponseSize caps a decoded page body (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	defaultPageSize      = 100
	defaultRetryInterval = 200 * time.Millisecond
	userAgent            = "classroom-sync/1.0"
)

// Outcome labels passed to Config.Observe.
const (
	OutcomeOK          = "ok"
	OutcomeAuth        = "auth"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
)

// Config controls endpoint, timeouts and retry policy.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	PageSize       int
	RetryInterval  time.Duration
	// Observe, when set, is called once per HTTP attempt.
	Observe func(op, outcome string, elapsed time.Duration)
}

// Client fetches courses, rosters and coursework.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient constructs a Client. A nil httpClient uses a fresh http.Client.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// ListCourses lists the courses the token owner teaches.
func (c *Client) ListCourses(accessToken string) *Pager[Course] {
	return newPager(func(ctx context.Context, pageToken string) ([]Course, int, string, error) {
		var resp courseListResponse
		query := c.pageQuery(pageToken)
		query.Set("teacherId", "me")
		if err := c.getJSON(ctx, "list_courses", accessToken, "/v1/courses", query, &resp); err != nil {
			return nil, 0, "", err
		}
		courses := make([]Course, 0, len(resp.Courses))
		malformed := 0
		for _, dto := range resp.Courses {
			course, ok := dto.toCourse()
			if !ok {
				malformed++
				continue
			}
			courses = append(courses, course)
		}
		return courses, malformed, resp.NextPageToken, nil
	})
}

// ListStudents lists the roster of one course.
func (c *Client) ListStudents(accessToken, courseID string) *Pager[Student] {
	path := "/v1/courses/" + url.PathEscape(courseID) + "/students"
	return newPager(func(ctx context.Context, pageToken string) ([]Student, int, string, error) {
		var resp studentListResponse
		if err := c.getJSON(ctx, "list_students", accessToken, path, c.pageQuery(pageToken), &resp); err != nil {
			return nil, 0, "", err
		}
		students := make([]Student, 0, len(resp.Students))
		malformed := 0
		for _, dto := range resp.Students {
			student, ok := dto.toStudent()
			if !ok {
				malformed++
				continue
			}
			students = append(students, student)
		}
		return students, malformed, resp.NextPageToken, nil
	})
}

// ListCoursework lists the coursework of one course.
func (c *Client) ListCoursework(accessToken, courseID string) *Pager[Coursework] {
	path := "/v1/courses/" + url.PathEscape(courseID) + "/courseWork"
	return newPager(func(ctx context.Context, pageToken string) ([]Coursework, int, string, error) {
		var resp courseworkListResponse
		if err := c.getJSON(ctx, "list_coursework", accessToken, path, c.pageQuery(pageToken), &resp); err != nil {
			return nil, 0, "", err
		}
		items := make([]Coursework, 0, len(resp.CourseWork))
		malformed := 0
		for _, dto := range resp.CourseWork {
			work, ok := dto.toCoursework()
			if !ok {
				malformed++
				continue
			}
			items = append(items, work)
		}
		return items, malformed, resp.NextPageToken, nil
	})
}

func (c *Client) pageQuery(pageToken string) url.Values {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	return query
}

func (c *Client) getJSON(ctx context.Context, op, accessToken, path string, query url.Values, out any) error {
	endpoint := c.cfg.BaseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.attempt(ctx, op, accessToken, endpoint)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("classroom request failed, retrying",
				zap.String("op", op), zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return ce
		}
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.observe(op, OutcomeMalformed, 0)
		return &Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// attempt performs one bounded HTTP call. Auth and non-retryable client
// errors are wrapped with backoff.Permanent.
func (c *Client) attempt(ctx context.Context, op, accessToken, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(&Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("build request: %w", err)})
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, OutcomeUnavailable, time.Since(start))
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.observe(op, OutcomeAuth, time.Since(start))
		return nil, backoff.Permanent(&Error{Kind: KindAuth, Op: op, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		c.observe(op, OutcomeUnavailable, time.Since(start))
		return nil, &Error{Kind: KindUnavailable, Op: op, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.observe(op, OutcomeUnavailable, time.Since(start))
		return nil, backoff.Permanent(&Error{Kind: KindUnavailable, Op: op, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)})
	}

	if resp.ContentLength > MaxResponseSize {
		c.observe(op, OutcomeMalformed, time.Since(start))
		return nil, backoff.Permanent(&Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("response size %d exceeds %d bytes", resp.ContentLength, MaxResponseSize)})
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		c.observe(op, OutcomeUnavailable, time.Since(start))
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(body) > MaxResponseSize {
		c.observe(op, OutcomeMalformed, time.Since(start))
		return nil, backoff.Permanent(&Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("response exceeds %d bytes", MaxResponseSize)})
	}

	c.observe(op, OutcomeOK, time.Since(start))
	c.logger.Debug("classroom request", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))
	return body, nil
}

func (c *Client) observe(op, outcome string, elapsed time.Duration) {
	if c.cfg.Observe != nil {
		c.cfg.Observe(op, outcome, elapsed)
	}
}
