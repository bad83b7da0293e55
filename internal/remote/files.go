package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// listPageSize is the maxResults value for file list requests.
const listPageSize = 1000

// fileResponse mirrors the API file JSON. Unexported; callers use Resource
// via toResource() normalization.
type fileResponse struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	MimeType string            `json:"mimeType"`
	ETag     string            `json:"etag"`
	Parents  []parentReference `json:"parents"`
	Labels   *fileLabels       `json:"labels"`
}

type parentReference struct {
	ID     string `json:"id"`
	IsRoot bool   `json:"isRoot"`
}

type fileLabels struct {
	Trashed bool `json:"trashed"`
}

type fileListResponse struct {
	Items         []fileResponse `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

type aboutResponse struct {
	RootFolderID    string `json:"rootFolderId"`
	LargestChangeID int64  `json:"largestChangeId,string"`
}

type createFolderRequest struct {
	Title    string            `json:"title"`
	MimeType string            `json:"mimeType"`
	Parents  []parentReference `json:"parents,omitempty"`
}

func (f *fileResponse) toResource() Resource {
	r := Resource{
		ID:       f.ID,
		Title:    f.Title,
		IsFolder: f.MimeType == FolderMimeType,
		ETag:     f.ETag,
		Parents:  make([]ParentRef, 0, len(f.Parents)),
	}

	for _, p := range f.Parents {
		r.Parents = append(r.Parents, ParentRef{ID: p.ID, IsRoot: p.IsRoot})
	}

	if f.Labels != nil {
		r.Trashed = f.Labels.Trashed
	}

	return r
}

// quoteQuery quotes a string literal for use in a files.list query.
func quoteQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)

	return "'" + s + "'"
}

// GetAbout returns the account-wide state: the id of the implicit top-level
// folder and the largest change id known to the service.
func (c *Client) GetAbout(ctx context.Context) (*About, error) {
	c.logger.Info("getting about resource")

	resp, err := c.Do(ctx, http.MethodGet, "/about", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar aboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("remote: decoding about response: %w", err)
	}

	return &About{RootFolderID: ar.RootFolderID, LargestChangeID: ar.LargestChangeID}, nil
}

// GetResource retrieves a single resource, including its current parents.
func (c *Client) GetResource(ctx context.Context, resourceID string) (*Resource, error) {
	c.logger.Info("getting resource", slog.String("resource_id", resourceID))

	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(resourceID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("remote: decoding file response: %w", err)
	}

	r := fr.toResource()

	return &r, nil
}

// ListFoldersByTitle returns every non-trashed folder whose title equals
// title, in service listing order.
func (c *Client) ListFoldersByTitle(ctx context.Context, title string) ([]Resource, error) {
	q := fmt.Sprintf("title = %s and mimeType = %s and trashed = false",
		quoteQuery(title), quoteQuery(FolderMimeType))

	return c.listAll(ctx, q, "listing folders by title", slog.String("title", title))
}

// ListChildren returns every non-trashed direct child of folderID, in service
// listing order.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]Resource, error) {
	q := fmt.Sprintf("%s in parents and trashed = false", quoteQuery(folderID))

	return c.listAll(ctx, q, "listing children", slog.String("folder_id", folderID))
}

// listAll pages through a files.list query and concatenates the results.
func (c *Client) listAll(ctx context.Context, query, msg string, attr slog.Attr) ([]Resource, error) {
	c.logger.Info(msg, attr)

	var (
		resources []Resource
		pageToken string
		page      = 1
	)

	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("maxResults", strconv.Itoa(listPageSize))

		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		resp, err := c.Do(ctx, http.MethodGet, "/files?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var lr fileListResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&lr)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("remote: decoding file list response: %w", decodeErr)
		}

		for i := range lr.Items {
			resources = append(resources, lr.Items[i].toResource())
		}

		c.logger.Debug("fetched list page",
			slog.Int("page", page),
			slog.Int("count", len(lr.Items)),
		)

		if lr.NextPageToken == "" {
			break
		}

		pageToken = lr.NextPageToken
		page++
	}

	c.logger.Info(msg+" complete", attr, slog.Int("total_items", len(resources)))

	return resources, nil
}

// CreateFolder creates a folder titled title under parentID. An empty
// parentID creates the folder in the implicit top-level container.
func (c *Client) CreateFolder(ctx context.Context, parentID, title string) (*Resource, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("title", title),
	)

	req := createFolderRequest{Title: title, MimeType: FolderMimeType}
	if parentID != "" {
		req.Parents = []parentReference{{ID: parentID}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/files", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("remote: decoding create folder response: %w", err)
	}

	r := fr.toResource()

	return &r, nil
}

// RemoveParent removes the parent link parentID from resourceID. The
// resource itself is not deleted even when it loses its last parent.
func (c *Client) RemoveParent(ctx context.Context, resourceID, parentID string) error {
	c.logger.Info("removing parent link",
		slog.String("resource_id", resourceID),
		slog.String("parent_id", parentID),
	)

	path := fmt.Sprintf("/files/%s/parents/%s", url.PathEscape(resourceID), url.PathEscape(parentID))

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	// 204 No Content: drain and close to reuse the connection.
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("remote: draining remove parent response body: %w", copyErr)
	}

	return nil
}
