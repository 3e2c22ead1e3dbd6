// Package graph is a small client for the Microsoft Graph mail and calendar
// endpoints used by the composer and the calendar view.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"graphmail/models"
	"graphmail/utils"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client talks to Graph on behalf of one signed-in user
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	log     *utils.Logger
}

// Options configures a Client
type Options struct {
	BaseURL string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling
	RequestsPerSecond float64
	Trace             bool
	// Base is the transport under the OAuth layer; nil means
	// http.DefaultTransport
	Base   http.RoundTripper
	Logger *utils.Logger
}

// NewClient returns a client that authorizes every request with tokens
// from src, refreshing them as they expire
func NewClient(src oauth2.TokenSource, opts Options) *Client {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = utils.Log
	}
	log = log.WithField("component", "graph")
	if opts.Trace {
		base = Trace(base, log)
	}

	c := &Client{
		http: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, src),
				Base:   base,
			},
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		log:     log,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type sendMailRequest struct {
	Message         *models.Message `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// PostMessage saves msg as a draft or sends it. A message that already has
// an id is an existing draft: it is updated in place and, when sending,
// sent from there. On a successful save of a new draft msg.ID is set to
// the created id.
func (c *Client) PostMessage(ctx context.Context, msg *models.Message, send bool) error {
	log := c.log.WithFields(map[string]interface{}{"send": send, "draft": msg.ID})

	if msg.ID == "" {
		if send {
			log.Debug("Sending new message")
			return c.do(ctx, http.MethodPost, "/me/sendMail", nil,
				sendMailRequest{Message: msg, SaveToSentItems: true}, nil)
		}
		var created models.Message
		if err := c.do(ctx, http.MethodPost, "/me/messages", nil, msg, &created); err != nil {
			return err
		}
		msg.ID = created.ID
		log.Debug("Created draft %s", created.ID)
		return nil
	}

	patch := *msg
	patch.ID = ""
	path := "/me/messages/" + url.PathEscape(msg.ID)
	if err := c.do(ctx, http.MethodPatch, path, nil, &patch, nil); err != nil {
		return err
	}
	if !send {
		log.Debug("Updated draft")
		return nil
	}
	log.Debug("Sending existing draft")
	return c.do(ctx, http.MethodPost, path+"/send", nil, nil, nil)
}

// GetMessage loads a message, used to seed edit, reply and forward
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodGet, "/me/messages/"+url.PathEscape(id), nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type eventPage struct {
	Value    []models.Event `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// ListEvents returns the events overlapping [start, end), following
// paging links
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	q := url.Values{}
	q.Set("startDateTime", start.UTC().Format(time.RFC3339))
	q.Set("endDateTime", end.UTC().Format(time.RFC3339))
	q.Set("$orderby", "start/dateTime")
	q.Set("$top", "100")

	var events []models.Event
	var page eventPage
	if err := c.do(ctx, http.MethodGet, "/me/calendarView", q, nil, &page); err != nil {
		return nil, err
	}
	events = append(events, page.Value...)

	for page.NextLink != "" {
		next, err := c.relative(page.NextLink)
		if err != nil {
			return nil, err
		}
		page = eventPage{}
		if err := c.do(ctx, http.MethodGet, next.Path, next.Query, nil, &page); err != nil {
			return nil, err
		}
		events = append(events, page.Value...)
	}
	return events, nil
}

type relativeLink struct {
	Path  string
	Query url.Values
}

// relative turns an absolute paging link back into a path under baseURL
func (c *Client) relative(link string) (relativeLink, error) {
	if !strings.HasPrefix(link, c.baseURL) {
		return relativeLink{}, fmt.Errorf("paging link %q is outside %s", link, c.baseURL)
	}
	u, err := url.Parse(link)
	if err != nil {
		return relativeLink{}, err
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return relativeLink{}, err
	}
	return relativeLink{
		Path:  strings.TrimPrefix(u.Path, base.Path),
		Query: u.Query(),
	}, nil
}

// Me returns the signed-in user
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
