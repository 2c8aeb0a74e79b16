package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// listChildrenPageSize is the $top value for ListChildren requests.
// 200 is the maximum allowed by the Graph API for drive item collections.
const listChildrenPageSize = 200

// Timestamps outside this range are replaced with the current time.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// Conflict behaviors accepted by create and copy.
const (
	ConflictFail    = "fail"
	ConflictReplace = "replace"
	ConflictRename  = "rename"
)

// encodePathSegments URL-encodes each segment of a slash-separated path.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// driveRoot returns the API prefix of a drive. An empty driveID selects
// the signed-in user's default drive.
func driveRoot(driveID string) string {
	if driveID == "" {
		return "/me/drive"
	}

	return "/drives/" + url.PathEscape(driveID)
}

// itemURL addresses an item by ID.
func itemURL(driveID, itemID string) string {
	return driveRoot(driveID) + "/items/" + url.PathEscape(itemID)
}

// pathURL addresses an item by drive-relative path. "" and "/" are the root.
func pathURL(driveID, remotePath string) string {
	p := strings.Trim(remotePath, "/")
	if p == "" {
		return driveRoot(driveID) + "/root"
	}

	return driveRoot(driveID) + "/root:/" + encodePathSegments(p) + ":"
}

// driveItemResponse mirrors the Graph API driveItem JSON.
// Callers use Item via toItem().
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	WebURL               string           `json:"webUrl"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Root                 *json.RawMessage `json:"root"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type itemReference struct {
	DriveID string `json:"driveId,omitempty"`
	ID      string `json:"id"`
}

type moveItemRequest struct {
	ParentReference *itemReference `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

type copyItemRequest struct {
	ParentReference itemReference `json:"parentReference"`
	Name            string        `json:"name,omitempty"`
}

type copyStatusResponse struct {
	Status             string  `json:"status"`
	PercentageComplete float64 `json:"percentageComplete"`
	ResourceID         string  `json:"resourceId"`
	// ID is set when the monitor redirected to the finished item.
	ID string `json:"id"`
}

// toItem normalizes a Graph API driveItem response into Item.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		IsFolder:    d.Folder != nil || d.Root != nil,
		IsRoot:      d.Root != nil,
		IsPackage:   d.Package != nil,
		ChildCount:  ChildCountUnknown,
		WebURL:      d.WebURL,
		DownloadURL: d.DownloadURL,
	}

	if d.ParentReference != nil {
		item.DriveID = strings.ToLower(d.ParentReference.DriveID)
		item.ParentID = d.ParentReference.ID
		item.ParentPath = parentPath(d.ParentReference.Path)
	}

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA256Hash = d.File.Hashes.SHA256Hash
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parentPath converts a parentReference.path such as "/drive/root:/a/b"
// into "/a/b". The drive root becomes "/".
func parentPath(raw string) string {
	if raw == "" {
		return ""
	}

	_, after, found := strings.Cut(raw, "root:")
	if !found {
		return ""
	}

	if decoded, err := url.PathUnescape(after); err == nil {
		after = decoded
	}

	if after == "" {
		return "/"
	}

	return after
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC().
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Debug("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// decodeItem reads one driveItem from resp and closes the body.
func (c *Client) decodeItem(resp *http.Response, what string) (*Item, error) {
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "item")
}

// GetItem retrieves a single drive item by ID.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	c.logger.Debug("getting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	return c.fetchItem(ctx, itemURL(driveID, itemID))
}

// GetItemByPath retrieves a drive item by its drive-relative path.
// "" and "/" return the drive root.
func (c *Client) GetItemByPath(ctx context.Context, driveID, remotePath string) (*Item, error) {
	c.logger.Debug("getting item by path",
		slog.String("drive_id", driveID),
		slog.String("path", remotePath),
	)

	return c.fetchItem(ctx, pathURL(driveID, remotePath))
}

// ListChildren returns all children of a folder, following pagination.
func (c *Client) ListChildren(ctx context.Context, driveID, parentID string) ([]Item, error) {
	return c.fetchAllChildren(ctx,
		fmt.Sprintf("%s/children?$top=%d", itemURL(driveID, parentID), listChildrenPageSize),
		slog.String("parent_id", parentID),
	)
}

// ListChildrenByPath returns all children of the folder at remotePath.
func (c *Client) ListChildrenByPath(ctx context.Context, driveID, remotePath string) ([]Item, error) {
	return c.fetchAllChildren(ctx,
		fmt.Sprintf("%s/children?$top=%d", pathURL(driveID, remotePath), listChildrenPageSize),
		slog.String("path", remotePath),
	)
}

func (c *Client) fetchAllChildren(ctx context.Context, apiPath string, attr slog.Attr) ([]Item, error) {
	c.logger.Info("listing children", attr)

	var items []Item

	for page := 1; apiPath != ""; page++ {
		pageItems, nextPath, err := c.listChildrenPage(ctx, apiPath, page)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)
		apiPath = nextPath
	}

	items = normalizeListing(items, c.logger)

	c.logger.Info("listed children", attr, slog.Int("total_items", len(items)))

	return items, nil
}

// listChildrenPage fetches a single page of children and returns the items
// and the next page path (empty if no more pages).
func (c *Client) listChildrenPage(ctx context.Context, path string, page int) ([]Item, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, "", fmt.Errorf("graph: decoding children response: %w", err)
	}

	items := make([]Item, 0, len(lcr.Value))
	for i := range lcr.Value {
		items = append(items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(items)),
	)

	if lcr.NextLink == "" {
		return items, "", nil
	}

	next, err := c.stripBaseURL(lcr.NextLink)
	if err != nil {
		return nil, "", err
	}

	return items, next, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path and query for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// CreateFolder creates a folder under parentID. conflict is one of the
// Conflict* constants; ConflictFail yields ErrConflict on a name collision.
func (c *Client) CreateFolder(ctx context.Context, driveID, parentID, name, conflict string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	if conflict == "" {
		conflict = ConflictFail
	}

	body, err := json.Marshal(createFolderRequest{Name: name, ConflictBehavior: conflict})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemURL(driveID, parentID)+"/children", body)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "create folder")
}

// ErrMoveNoChanges is returned when MoveItem is called with both newParentID
// and newName empty.
var ErrMoveNoChanges = errors.New("graph: MoveItem requires at least one of newParentID or newName")

// MoveItem moves and/or renames an item.
func (c *Client) MoveItem(ctx context.Context, driveID, itemID, newParentID, newName string) (*Item, error) {
	if newParentID == "" && newName == "" {
		return nil, ErrMoveNoChanges
	}

	c.logger.Info("moving item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.String("new_parent_id", newParentID),
		slog.String("new_name", newName),
	)

	req := moveItemRequest{Name: newName}
	if newParentID != "" {
		req.ParentReference = &itemReference{ID: newParentID}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling move request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPatch, itemURL(driveID, itemID), body)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "move")
}

// CopyItem starts a server-side copy of itemID into newParentID. Copies
// are asynchronous; the returned monitor is polled with CopyStatus or
// WaitCopy. An existing target name fails the copy.
func (c *Client) CopyItem(ctx context.Context, driveID, itemID, newParentID, newName string) (*CopyMonitor, error) {
	c.logger.Info("copying item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.String("new_parent_id", newParentID),
		slog.String("new_name", newName),
	)

	body, err := json.Marshal(copyItemRequest{
		ParentReference: itemReference{DriveID: driveID, ID: newParentID},
		Name:            newName,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling copy request: %w", err)
	}

	path := itemURL(driveID, itemID) + "/copy?@microsoft.graph.conflictBehavior=" + ConflictFail

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("graph: copy response has no monitor location (status %d)", resp.StatusCode)
	}

	return &CopyMonitor{URL: loc}, nil
}

// CopyStatus samples a copy monitor once.
func (c *Client) CopyStatus(ctx context.Context, m *CopyMonitor) (*CopyStatus, error) {
	resp, err := c.doPreAuth(ctx, "copy monitor", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating copy monitor request: %w", reqErr)
		}

		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var csr copyStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&csr); err != nil {
		return nil, fmt.Errorf("graph: decoding copy status: %w", err)
	}

	st := &CopyStatus{
		Status:             csr.Status,
		PercentageComplete: csr.PercentageComplete,
		ResourceID:         csr.ResourceID,
	}

	if st.Status == "" && csr.ID != "" {
		st.Status = CopyCompleted
		st.ResourceID = csr.ID
		st.PercentageComplete = 100
	}

	return st, nil
}

// ErrCopyFailed is returned by WaitCopy when the monitor reports failure.
var ErrCopyFailed = errors.New("graph: copy failed")

// WaitCopy polls m every interval until the copy completes and returns the
// new item.
func (c *Client) WaitCopy(ctx context.Context, driveID string, m *CopyMonitor, interval time.Duration) (*Item, error) {
	for {
		st, err := c.CopyStatus(ctx, m)
		if err != nil {
			return nil, err
		}

		switch st.Status {
		case CopyCompleted:
			return c.GetItem(ctx, driveID, st.ResourceID)
		case CopyFailed:
			return nil, ErrCopyFailed
		}

		c.logger.Debug("copy in progress", slog.Float64("percent", st.PercentageComplete))

		if err := c.sleepFunc(ctx, interval); err != nil {
			return nil, fmt.Errorf("graph: waiting for copy: %w", err)
		}
	}
}

// DeleteItem deletes a drive item. Returns nil on success (HTTP 204).
func (c *Client) DeleteItem(ctx context.Context, driveID, itemID string) error {
	c.logger.Info("deleting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	resp, err := c.Do(ctx, http.MethodDelete, itemURL(driveID, itemID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("graph: draining delete response body: %w", copyErr)
	}

	return nil
}
