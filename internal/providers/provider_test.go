package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

func TestParseURL(t *testing.T) {
	hosts := Hosts{GitLab: []string{"https://git.example.com"}}

	tests := []struct {
		name     string
		url      string
		platform models.Platform
		repo     string
		number   int
	}{
		{"github", "https://github.com/acme/api/pull/42", models.PlatformGitHub, "acme/api", 42},
		{"github files tab", "https://github.com/acme/api/pull/7/files", models.PlatformGitHub, "acme/api", 7},
		{"gitlab", "https://gitlab.com/acme/api/-/merge_requests/3", models.PlatformGitLab, "acme/api", 3},
		{"gitlab subgroup", "https://gitlab.com/acme/platform/api/-/merge_requests/11/diffs", models.PlatformGitLab, "acme/platform/api", 11},
		{"self hosted gitlab", "https://git.example.com/team/svc/-/merge_requests/5", models.PlatformGitLab, "team/svc", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseURL(tt.url, hosts)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, ref.Platform)
			assert.Equal(t, tt.repo, ref.Repository)
			assert.Equal(t, tt.number, ref.Number)
			assert.Equal(t, tt.url, ref.URL)
		})
	}
}

func TestParseURLRejectsMalformedInput(t *testing.T) {
	bad := []string{
		"",
		"not a url",
		"ftp://github.com/acme/api/pull/1",
		"https://bitbucket.org/acme/api/pull-requests/1",
		"https://github.com/acme/api/issues/1",
		"https://github.com/acme/api/pull/abc",
		"https://github.com/acme/api/pull/0",
		"https://github.com/acme/pull/1",
		"https://gitlab.com/acme/-/merge_requests/1",
		"https://gitlab.com/acme/api/merge_requests/1",
		"https://gitlab.com/acme/api/-/merge_requests/-4",
	}
	for _, raw := range bad {
		_, err := ParseURL(raw, Hosts{})
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, reviewerr.ErrInvalidTarget), raw)
	}
}

func TestTargetRefPRID(t *testing.T) {
	ref := models.TargetRef{Platform: models.PlatformGitHub, Repository: "acme/api", Number: 42}
	assert.Equal(t, "acme/api#42", ref.PRID())
	assert.Equal(t, "github:acme/api#42", ref.String())
}
