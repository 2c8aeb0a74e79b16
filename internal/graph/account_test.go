package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	meBody = `{"id":"user-abc-123","displayName":"Test User","mail":"","userPrincipalName":"test@outlook.com"}`

	drivesBody = `{"value":[
		{"id":"drive-1","name":"OneDrive","driveType":"personal",
		 "owner":{"user":{"displayName":"Test User"}},"quota":{"used":1073741824,"total":5368709120}},
		{"id":"drive-2","name":"Shared","driveType":"documentLibrary"}
	]}`
)

func accountServer(t *testing.T, defaultDrive string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/me":
			fmt.Fprint(w, meBody)
		case "/me/drives":
			fmt.Fprint(w, drivesBody)
		case "/me/drive":
			fmt.Fprintf(w, `{"id":%q,"name":"OneDrive","driveType":"personal"}`, defaultDrive)
		case "/drives/drive-2":
			fmt.Fprint(w, `{"id":"drive-2","name":"Shared","driveType":"documentLibrary"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"itemNotFound"}}`)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestMe_EmailFallbackToUPN(t *testing.T) {
	client := newTestClient(t, accountServer(t, "drive-1").URL)

	user, err := client.Me(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "user-abc-123", user.ID)
	assert.Equal(t, "Test User", user.DisplayName)
	assert.Equal(t, "test@outlook.com", user.Email)
}

func TestUserJSON_MailWins(t *testing.T) {
	u := userJSON{ID: "u", Mail: "m@example.com", UPN: "upn@example.com"}
	assert.Equal(t, "m@example.com", u.user().Email)
}

func TestDrives_OptionalFacets(t *testing.T) {
	client := newTestClient(t, accountServer(t, "drive-1").URL)

	drives, err := client.Drives(context.Background())
	require.NoError(t, err)
	require.Len(t, drives, 2)

	assert.Equal(t, "Test User", drives[0].OwnerName)
	assert.Equal(t, int64(1073741824), drives[0].QuotaUsed)
	assert.Equal(t, int64(5368709120), drives[0].QuotaTotal)

	assert.Empty(t, drives[1].OwnerName)
	assert.Zero(t, drives[1].QuotaTotal)
}

func TestDrive_ByIDAndDefault(t *testing.T) {
	client := newTestClient(t, accountServer(t, "drive-1").URL)

	d, err := client.Drive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "drive-1", d.ID)

	d, err = client.Drive(context.Background(), "drive-2")
	require.NoError(t, err)
	assert.Equal(t, "documentLibrary", d.DriveType)

	_, err = client.Drive(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAccount(t *testing.T) {
	client := newTestClient(t, accountServer(t, "drive-1").URL)

	acct, err := client.Account(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "user-abc-123", acct.User.ID)
	assert.Len(t, acct.Drives, 2)
	assert.Equal(t, "drive-1", acct.Selected)

	acct, err = client.Account(context.Background(), "drive-2")
	require.NoError(t, err)
	assert.Equal(t, "drive-2", acct.Selected)
}

func TestAccount_PropagatesFailure(t *testing.T) {
	client := newTestClient(t, accountServer(t, "drive-1").URL)

	_, err := client.Account(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMe_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("request-id", "req-401")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Me(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
