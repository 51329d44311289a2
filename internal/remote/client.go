// Package remote is the client for the catalog source's GraphQL API. All
// retrieval is paginated with a fixed, bounded page size; the API's
// "per_page: -1" fetch-all affordance is never emitted.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akarpov87/catsync/internal/model"
)

const (
	// DefaultPageSize bounds outstanding memory to a small multiple of one
	// page regardless of total collection size.
	DefaultPageSize = 200

	// maxPageSize is the hard ceiling a caller-supplied page size may not exceed.
	maxPageSize = 1000
)

// Page is one fetched slice of an entity collection.
type Page struct {
	Items []model.Entity
	Total int
}

// IDPage is one fetched slice of an ID-only enumeration.
type IDPage struct {
	IDs   []string
	Total int
}

// Fetcher retrieves catalog pages. Implemented by *Client and by test fakes.
type Fetcher interface {
	// FindPage returns page (1-based) of entities of the given type, filtered
	// to records mutated at or after since when since is non-nil.
	FindPage(ctx context.Context, t model.EntityType, since *time.Time, page int) (Page, error)
	// FindIDPage returns page (1-based) of remote IDs only.
	FindIDPage(ctx context.Context, t model.EntityType, page int) (IDPage, error)
	// PageSize returns the fixed page size all fetches use.
	PageSize() int
}

// Client talks to one remote catalog instance.
type Client struct {
	endpoint string
	apiKey   string
	pageSize int
	http     *http.Client
}

// NewClient validates the page size and constructs a client. An unbounded or
// oversized page size is rejected outright rather than clamped silently.
func NewClient(endpoint, apiKey string, pageSize int) (*Client, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		return nil, fmt.Errorf("remote: page size %d out of range (1..%d)", pageSize, maxPageSize)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/") + "/graphql",
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// PageSize returns the fixed page size.
func (c *Client) PageSize() int { return c.pageSize }

// attribute fields requested per type, beyond the envelope fields every
// query carries (id, updated_at).
var attributeFields = map[model.EntityType]string{
	model.TypeTag:       "name description",
	model.TypeStudio:    "name url details",
	model.TypePerformer: "name disambiguation birthdate country",
	model.TypeGroup:     "name date duration",
	model.TypeGallery:   "title date details",
	model.TypeScene:     "title date details director",
	model.TypeImage:     "title date",
}

func selection(t model.EntityType) string {
	fields := []string{"id", "updated_at", attributeFields[t]}
	if t.HasFingerprints() {
		fields = append(fields, "fingerprints { value }")
	}
	if t.Hierarchical() {
		fields = append(fields, "parents { id }")
	}
	return strings.Join(fields, " ")
}

// FindPage fetches one page of full records for t.
func (c *Client) FindPage(ctx context.Context, t model.EntityType, since *time.Time, page int) (Page, error) {
	filter := map[string]any{
		"page":      page,
		"per_page":  c.pageSize,
		"sort":      "updated_at",
		"direction": "ASC",
	}
	vars := map[string]any{"filter": filter}
	var sinceClause string
	if since != nil {
		sinceClause = `, updated_since: $since`
		vars["since"] = since.UTC().Format(time.RFC3339)
	}
	varDecl := "$filter: FindFilterType!"
	if since != nil {
		varDecl += ", $since: Timestamp!"
	}
	query := fmt.Sprintf(
		"query FindPage(%s) { %s(filter: $filter%s) { count %s { %s } } }",
		varDecl, t.QueryField(), sinceClause, t.ResultField(), selection(t),
	)

	raw, err := c.do(ctx, query, vars, t.QueryField())
	if err != nil {
		return Page{}, fmt.Errorf("find %s page %d: %w", t, page, err)
	}
	return decodePage(t, raw)
}

// FindIDPage fetches one page of remote IDs for t, used by cleanup. Only the
// id field is requested so the remote dataset's attributes are never
// materialized for this path.
func (c *Client) FindIDPage(ctx context.Context, t model.EntityType, page int) (IDPage, error) {
	vars := map[string]any{"filter": map[string]any{
		"page":      page,
		"per_page":  c.pageSize,
		"sort":      "id",
		"direction": "ASC",
	}}
	query := fmt.Sprintf(
		"query FindIDs($filter: FindFilterType!) { %s(filter: $filter) { count %s { id } } }",
		t.QueryField(), t.ResultField(),
	)

	raw, err := c.do(ctx, query, vars, t.QueryField())
	if err != nil {
		return IDPage{}, fmt.Errorf("find %s ids page %d: %w", t, page, err)
	}
	return decodeIDPage(t, raw)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do posts one GraphQL request and returns the raw payload under field.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, field string) (json.RawMessage, error) {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}
	raw, ok := out.Data[field]
	if !ok {
		return nil, fmt.Errorf("response missing field %q", field)
	}
	return raw, nil
}
