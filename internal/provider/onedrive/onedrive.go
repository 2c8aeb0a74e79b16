// Package onedrive adapts the Graph drive API to the cloud container tree.
// Native objects are graph.Item values; paths are drive-relative.
package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/cloudtree/cloudtree/internal/auth"
	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/graph"
)

// Name identifies the provider in config and token file names.
const Name = "onedrive"

// Scopes requested at consent. offline_access yields a refresh token.
var Scopes = []string{"Files.ReadWrite.All", "User.Read", "offline_access"}

// DefaultTenant accepts both personal and work accounts.
const DefaultTenant = "common"

// downloadURLTTL is how long a pre-authenticated download URL is trusted.
// Graph documents roughly an hour; stay under it.
const downloadURLTTL = 50 * time.Minute

// defaultCopyPoll is the copy monitor sampling interval.
const defaultCopyPoll = time.Second

var (
	_ cloud.Adapter[graph.Item] = (*Adapter)(nil)
	_ auth.TokenValidator       = (*Validator)(nil)
)

// NewExchanger returns the OAuth2 exchanger for a registered Azure AD
// application. An empty tenant selects DefaultTenant.
func NewExchanger(clientID, tenant string) *auth.OAuth2Exchanger {
	if tenant == "" {
		tenant = DefaultTenant
	}

	return auth.NewOAuth2Exchanger(oauth2.Config{
		ClientID: clientID,
		Scopes:   Scopes,
		Endpoint: microsoft.AzureADEndpoint(tenant),
	})
}

// Adapter implements cloud.Adapter over one drive. An empty drive ID
// selects the signed-in user's default drive.
type Adapter struct {
	client   *graph.Client
	driveID  string
	logger   *slog.Logger
	now      func() time.Time
	copyPoll time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCopyPoll sets the copy monitor sampling interval.
func WithCopyPoll(d time.Duration) Option {
	return func(a *Adapter) { a.copyPoll = d }
}

// WithClock replaces time.Now for link expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New returns an adapter. client must be non-nil.
func New(client *graph.Client, driveID string, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if client == nil {
		return nil, csperr.Build("onedrive adapter", errors.New("nil graph client"))
	}

	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		client:   client,
		driveID:  driveID,
		logger:   logger,
		now:      time.Now,
		copyPoll: defaultCopyPoll,
	}

	for _, o := range opts {
		o(a)
	}

	return a, nil
}

// Client returns the underlying Graph client.
func (a *Adapter) Client() *graph.Client { return a.client }

// Describe maps an item to the neutral view.
func (a *Adapter) Describe(it graph.Item) cloud.Info {
	return cloud.Info{
		ID:       it.ID,
		Name:     it.Name,
		Path:     it.Path(),
		Size:     it.Size,
		IsFolder: it.IsFolder,
		Modified: it.ModifiedAt,
	}
}

// FetchMetadata resolves ref by ID when present, otherwise by path.
func (a *Adapter) FetchMetadata(ctx context.Context, ref cloud.Ref) (graph.Item, error) {
	var (
		it  *graph.Item
		err error
	)

	if ref.ID != "" {
		it, err = a.client.GetItem(ctx, a.driveID, ref.ID)
	} else {
		it, err = a.client.GetItemByPath(ctx, a.driveID, ref.Path)
	}

	if err != nil {
		return graph.Item{}, mapErr(err)
	}

	return *it, nil
}

func (a *Adapter) itemAt(ctx context.Context, p string) (*graph.Item, error) {
	it, err := a.client.GetItemByPath(ctx, a.driveID, p)
	if err != nil {
		return nil, mapErr(err)
	}

	return it, nil
}

// ListChildren lists the folder at folderPath.
func (a *Adapter) ListChildren(ctx context.Context, folderPath string) ([]graph.Item, error) {
	items, err := a.client.ListChildrenByPath(ctx, a.driveID, folderPath)
	if err != nil {
		return nil, mapErr(err)
	}

	return items, nil
}

// CreateDirectLink returns the item's pre-authenticated download URL,
// refetching the item when the cached one is missing. Folders have none.
func (a *Adapter) CreateDirectLink(ctx context.Context, it graph.Item) (cloud.Link, error) {
	if it.IsFolder {
		return cloud.Link{}, fmt.Errorf("%w: folders have no direct link", csperr.ErrUnavailable)
	}

	fetchedAt := a.now()

	fresh, err := a.client.GetItem(ctx, a.driveID, it.ID)
	if err != nil {
		return cloud.Link{}, mapErr(err)
	}

	if fresh.DownloadURL == "" {
		return cloud.Link{}, fmt.Errorf("%w: %w", csperr.ErrUnavailable, graph.ErrNoDownloadURL)
	}

	return cloud.Link{URL: fresh.DownloadURL, Expires: fetchedAt.Add(downloadURLTTL)}, nil
}

// ShareLink creates a browser sharing link, which unlike the direct link
// can outlive the session.
func (a *Adapter) ShareLink(ctx context.Context, it graph.Item, scope string, expires time.Time) (*graph.SharingLink, error) {
	link, err := a.client.CreateLink(ctx, a.driveID, it.ID, graph.LinkView, scope, expires)
	if err != nil {
		return nil, mapErr(err)
	}

	return link, nil
}

// CopyRemote starts a server-side copy and waits for the monitor to finish.
func (a *Adapter) CopyRemote(ctx context.Context, srcPath, destPath string) (graph.Item, error) {
	src, err := a.itemAt(ctx, srcPath)
	if err != nil {
		return graph.Item{}, err
	}

	parent, err := a.itemAt(ctx, path.Dir(destPath))
	if err != nil {
		return graph.Item{}, err
	}

	m, err := a.client.CopyItem(ctx, a.driveID, src.ID, parent.ID, path.Base(destPath))
	if err != nil {
		return graph.Item{}, mapErr(err)
	}

	it, err := a.client.WaitCopy(ctx, a.driveID, m, a.copyPoll)
	if err != nil {
		return graph.Item{}, mapErr(err)
	}

	return *it, nil
}

// MoveRemote moves and/or renames srcPath to destPath in one PATCH.
func (a *Adapter) MoveRemote(ctx context.Context, srcPath, destPath string) error {
	src, err := a.itemAt(ctx, srcPath)
	if err != nil {
		return err
	}

	var newParentID, newName string

	if path.Dir(srcPath) != path.Dir(destPath) {
		parent, perr := a.itemAt(ctx, path.Dir(destPath))
		if perr != nil {
			return perr
		}

		newParentID = parent.ID
	}

	if path.Base(srcPath) != path.Base(destPath) {
		newName = path.Base(destPath)
	}

	if _, err := a.client.MoveItem(ctx, a.driveID, src.ID, newParentID, newName); err != nil {
		return mapErr(err)
	}

	return nil
}

// DeleteRemote deletes the item at p.
func (a *Adapter) DeleteRemote(ctx context.Context, p string) error {
	it, err := a.itemAt(ctx, p)
	if err != nil {
		return err
	}

	return mapErr(a.client.DeleteItem(ctx, a.driveID, it.ID))
}

// CreateFolder creates the folder at p. An existing name fails.
func (a *Adapter) CreateFolder(ctx context.Context, p string) (graph.Item, error) {
	parent, err := a.itemAt(ctx, path.Dir(p))
	if err != nil {
		return graph.Item{}, err
	}

	it, err := a.client.CreateFolder(ctx, a.driveID, parent.ID, path.Base(p), graph.ConflictFail)
	if err != nil {
		return graph.Item{}, mapErr(err)
	}

	return *it, nil
}

// OpenUploadStream returns a graph.UploadWriter for destPath whose Close
// also checks the uploaded content hash.
func (a *Adapter) OpenUploadStream(ctx context.Context, destPath string, size int64) (io.WriteCloser, error) {
	parent, err := a.itemAt(ctx, path.Dir(destPath))
	if err != nil {
		return nil, err
	}

	name := path.Base(destPath)

	return &verifiedUpload{
		w:      a.client.NewUploadWriter(ctx, a.driveID, parent.ID, name, size, time.Time{}),
		h:      newQuickXor(),
		name:   name,
		logger: a.logger,
	}, nil
}

// OpenDownloadStream opens the content of srcPath.
func (a *Adapter) OpenDownloadStream(ctx context.Context, srcPath string) (io.ReadCloser, error) {
	it, err := a.itemAt(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	body, err := a.client.OpenDownload(ctx, a.driveID, it.ID)
	if err != nil {
		return nil, mapErr(err)
	}

	return newVerifiedDownload(body, it), nil
}

// mapErr attaches the core's causes to Graph errors so callers can match
// csperr.ErrNotFound and csperr.ErrExists without knowing about Graph.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, graph.ErrNotFound):
		return fmt.Errorf("%w: %w", csperr.ErrNotFound, err)
	case errors.Is(err, graph.ErrConflict):
		return fmt.Errorf("%w: %w", csperr.ErrExists, err)
	default:
		return err
	}
}

// Validator checks a credential with GET /me.
type Validator struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ValidateToken returns nil when Graph accepts the credential. The
// credential's Host, when set, overrides BaseURL.
func (v *Validator) ValidateToken(ctx context.Context, cred auth.Credential) error {
	if cred.Token == nil {
		return auth.ErrNoToken
	}

	base := v.BaseURL
	if cred.Host != "" {
		base = cred.Host
	}

	c := graph.NewClient(base, v.HTTPClient, oauth2.StaticTokenSource(cred.Token), v.Logger)

	user, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("validating token: %w", err)
	}

	if v.Logger != nil {
		v.Logger.Debug("token accepted", slog.String("user", user.DisplayName))
	}

	return nil
}
