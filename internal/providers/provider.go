package providers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// Hosts lists the hostnames accepted for each platform.
// github.com and gitlab.com are always accepted.
type Hosts struct {
	GitHub []string
	GitLab []string
}

func (h Hosts) platformFor(host string) (models.Platform, bool) {
	host = strings.ToLower(host)
	if host == "github.com" || host == "www.github.com" {
		return models.PlatformGitHub, true
	}
	if host == "gitlab.com" || host == "www.gitlab.com" {
		return models.PlatformGitLab, true
	}
	for _, gh := range h.GitHub {
		if strings.EqualFold(hostOf(gh), host) {
			return models.PlatformGitHub, true
		}
	}
	for _, gl := range h.GitLab {
		if strings.EqualFold(hostOf(gl), host) {
			return models.PlatformGitLab, true
		}
	}
	return "", false
}

func hostOf(s string) string {
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(s, "/")
}

// ParseURL resolves a PR/MR URL to exactly one platform and number.
//
//	https://github.com/{owner}/{repo}/pull/{n}[/files...]
//	https://{gitlab-host}/{group}/{subgroup...}/{project}/-/merge_requests/{n}[/diffs...]
func ParseURL(raw string, hosts Hosts) (models.TargetRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.TargetRef{}, reviewerr.InvalidTarget("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.TargetRef{}, reviewerr.InvalidTarget("malformed URL %q: %v", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return models.TargetRef{}, reviewerr.InvalidTarget("unsupported scheme %q", u.Scheme)
	}
	platform, ok := hosts.platformFor(u.Host)
	if !ok {
		return models.TargetRef{}, reviewerr.InvalidTarget("unsupported host %q", u.Host)
	}

	segments := splitPath(u.Path)
	ref := models.TargetRef{Platform: platform, Host: u.Host, URL: raw}

	switch platform {
	case models.PlatformGitHub:
		// owner / repo / pull / n
		if len(segments) < 4 || segments[2] != "pull" {
			return models.TargetRef{}, reviewerr.InvalidTarget("not a GitHub pull request URL: %q", raw)
		}
		n, err := parseNumber(segments[3])
		if err != nil {
			return models.TargetRef{}, reviewerr.InvalidTarget("invalid pull request number in %q", raw)
		}
		ref.Repository = segments[0] + "/" + segments[1]
		ref.Number = n
	case models.PlatformGitLab:
		idx := -1
		for i := 0; i+2 < len(segments); i++ {
			if segments[i] == "-" && segments[i+1] == "merge_requests" {
				idx = i
				break
			}
		}
		// need at least group/project before "/-/"
		if idx < 2 {
			return models.TargetRef{}, reviewerr.InvalidTarget("not a GitLab merge request URL: %q", raw)
		}
		n, err := parseNumber(segments[idx+2])
		if err != nil {
			return models.TargetRef{}, reviewerr.InvalidTarget("invalid merge request number in %q", raw)
		}
		ref.Repository = strings.Join(segments[:idx], "/")
		ref.Number = n
	}
	return ref, nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
