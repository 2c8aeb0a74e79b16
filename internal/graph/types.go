package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Item represents a drive item (file, folder, or package).
// Fields are normalized from the Graph API response.
type Item struct {
	ID           string
	Name         string
	DriveID      string // lowercase; Graph casing is inconsistent
	ParentID     string
	ParentPath   string // drive-relative, "/" for children of the root; empty for the root itself
	Size         int64
	ETag         string
	IsFolder     bool
	IsRoot       bool
	IsPackage    bool
	MimeType     string
	QuickXorHash string // base64
	SHA256Hash   string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ChildCount   int    // ChildCountUnknown if not present
	WebURL       string // browser link, not a direct download
	// DownloadURL is pre-authenticated and short-lived. Never log it.
	DownloadURL string
}

// Path returns the drive-relative path of the item, "/" for the root.
func (it Item) Path() string {
	switch {
	case it.IsRoot:
		return "/"
	case it.ParentPath == "" || it.ParentPath == "/":
		return "/" + it.Name
	default:
		return it.ParentPath + "/" + it.Name
	}
}

// User is the authenticated account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Drive is a drive the user can access.
type Drive struct {
	ID         string
	Name       string
	DriveType  string
	OwnerName  string
	QuotaUsed  int64
	QuotaTotal int64
}

// UploadSession is a resumable upload in progress. UploadURL is
// pre-authenticated; never log it.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

// UploadSessionStatus reports which byte ranges the server still expects.
type UploadSessionStatus struct {
	UploadURL          string
	ExpirationTime     time.Time
	NextExpectedRanges []string
}

// SharingLink is the result of createLink.
type SharingLink struct {
	WebURL  string
	Type    string
	Scope   string
	Expires time.Time // zero when the link does not expire
}

// CopyMonitor tracks a server-side asynchronous copy. URL is
// pre-authenticated; never log it.
type CopyMonitor struct {
	URL string
}

// CopyStatus is one sample of a copy monitor.
type CopyStatus struct {
	Status             string // notStarted, inProgress, completed, failed, ...
	PercentageComplete float64
	ResourceID         string
}

// Copy monitor status values.
const (
	CopyCompleted = "completed"
	CopyFailed    = "failed"
)
