package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Account is the signed-in user together with the drives they can reach.
// Selected is the ID of the drive an adapter built with the same driveID
// operates on.
type Account struct {
	User     User
	Drives   []Drive
	Selected string
}

type userJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	UPN         string `json:"userPrincipalName"`
}

// Personal accounts often leave mail blank; the UPN is the usable address.
func (u userJSON) user() User {
	email := u.Mail
	if email == "" {
		email = u.UPN
	}

	return User{ID: u.ID, DisplayName: u.DisplayName, Email: email}
}

type driveJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	Owner     *struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"owner"`
	Quota *struct {
		Used  int64 `json:"used"`
		Total int64 `json:"total"`
	} `json:"quota"`
}

func (d driveJSON) drive() Drive {
	out := Drive{ID: d.ID, Name: d.Name, DriveType: d.DriveType}

	if d.Owner != nil {
		out.OwnerName = d.Owner.User.DisplayName
	}

	if d.Quota != nil {
		out.QuotaUsed = d.Quota.Used
		out.QuotaTotal = d.Quota.Total
	}

	return out
}

// getJSON issues a GET against path and decodes the body into T.
func getJSON[T any](ctx context.Context, c *Client, path, what string) (T, error) {
	var v T

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	return v, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	u, err := getJSON[userJSON](ctx, c, "/me", "user")
	if err != nil {
		return nil, err
	}

	user := u.user()

	return &user, nil
}

// Drives returns all drives accessible to the authenticated user.
func (c *Client) Drives(ctx context.Context) ([]Drive, error) {
	list, err := getJSON[struct {
		Value []driveJSON `json:"value"`
	}](ctx, c, "/me/drives", "drives")
	if err != nil {
		return nil, err
	}

	drives := make([]Drive, 0, len(list.Value))
	for _, d := range list.Value {
		drives = append(drives, d.drive())
	}

	return drives, nil
}

// Drive returns a drive by ID. An empty driveID returns the user's default drive.
func (c *Client) Drive(ctx context.Context, driveID string) (*Drive, error) {
	d, err := getJSON[driveJSON](ctx, c, driveRoot(driveID), "drive")
	if err != nil {
		return nil, err
	}

	drive := d.drive()

	return &drive, nil
}

// Account fetches the profile, the drive list and the drive selected by
// driveID in parallel.
func (c *Client) Account(ctx context.Context, driveID string) (*Account, error) {
	var (
		acct     Account
		selected *Drive
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := c.Me(gctx)
		if err != nil {
			return err
		}

		acct.User = *u

		return nil
	})

	g.Go(func() error {
		drives, err := c.Drives(gctx)
		acct.Drives = drives

		return err
	})

	g.Go(func() error {
		d, err := c.Drive(gctx, driveID)
		selected = d

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	acct.Selected = selected.ID

	c.logger.Debug("fetched account",
		slog.String("user", acct.User.ID),
		slog.Int("drives", len(acct.Drives)),
		slog.String("selected", acct.Selected),
	)

	return &acct, nil
}
