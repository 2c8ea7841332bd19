// Package version holds the release version and checks for newer releases.
package version

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/tidwall/gjson"
)

const (
	// Version is the current version of lldb-agent
	Version = "0.2.0"

	// GitHubRepo is the repository path
	GitHubRepo = "ctagard/lldb-agent"

	// LatestReleaseURL is the GitHub API endpoint for the latest release
	LatestReleaseURL = "https://api.github.com/repos/" + GitHubRepo + "/releases/latest"
)

// UpdateInfo describes the outcome of an update check
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// UpdateMessage returns a human-readable message, or "" when up to date
func (u *UpdateInfo) UpdateMessage() string {
	if !u.UpdateAvailable {
		return ""
	}
	return fmt.Sprintf("A new version of lldb-agent is available: v%s (current: v%s). See %s",
		u.LatestVersion, u.CurrentVersion, u.ReleaseURL)
}

// CheckForUpdates asks the release endpoint at url for the latest tag and
// compares it with Version. A nil client uses a 5s timeout client.
func CheckForUpdates(ctx context.Context, client *http.Client, url string) (*UpdateInfo, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "lldb-agent/"+Version)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	release := gjson.ParseBytes(body)
	latest, err := goversion.NewVersion(release.Get("tag_name").String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse release tag: %w", err)
	}
	current := goversion.Must(goversion.NewVersion(Version))

	return &UpdateInfo{
		CurrentVersion:  current.String(),
		LatestVersion:   latest.String(),
		UpdateAvailable: current.LessThan(latest),
		ReleaseURL:      release.Get("html_url").String(),
		CheckedAt:       time.Now(),
	}, nil
}
