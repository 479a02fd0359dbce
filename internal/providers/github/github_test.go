package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

const prJSON = `{
  "number": 42,
  "title": "Rename x",
  "body": "Cleans up naming",
  "html_url": "https://github.com/acme/api/pull/42",
  "changed_files": %d,
  "user": {"login": "octo"},
  "head": {"sha": "headsha", "ref": "feature", "repo": {"clone_url": "https://github.com/acme/api.git"}},
  "base": {"sha": "basesha", "ref": "main"}
}`

var ref = models.TargetRef{Platform: models.PlatformGitHub, Repository: "acme/api", Number: 42}

func newTestProvider(t *testing.T, mux *http.ServeMux) *GitHubProvider {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	p, err := NewWithHTTPClient(server.Client(), server.URL, "test-token")
	require.NoError(t, err)
	return p
}

func TestFetchFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprintf(w, prJSON, 2)
	})
	mux.HandleFunc("/repos/acme/api/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"filename":"b.go","status":"added","changes":1,"patch":"@@ -0,0 +1 @@\n+package b"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/api/pulls/42/files?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"filename":"file.rs","status":"modified","changes":2,"patch":"@@ -40,5 +40,6 @@\n a\n-b\n+c\n+d\n e\n f\n g"}]`)
	})

	target, err := newTestProvider(t, mux).Fetch(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, "Rename x", target.Title)
	assert.Equal(t, "Cleans up naming", target.Description)
	assert.Equal(t, "headsha", target.DiffRefs.HeadSHA)
	assert.Equal(t, "https://github.com/acme/api.git", target.CloneURL)
	require.Len(t, target.Files, 2)
	assert.Equal(t, "file.rs", target.Files[0].FilePath)
	require.Len(t, target.Files[0].Hunks, 1)
	assert.True(t, target.Files[0].Hunks[0].ContainsNewLine(42))
	assert.True(t, target.Files[1].IsNew)
}

func TestFetchReportsIncompleteFileList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, prJSON, 3001)
	})
	mux.HandleFunc("/repos/acme/api/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"filename":"a.go","status":"modified","changes":1,"patch":"@@ -1 +1 @@\n-a\n+b"}]`)
	})

	_, err := newTestProvider(t, mux).Fetch(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reviewerr.ErrIncomplete))
}

func TestFetchReportsTruncatedPatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "diff") {
			w.WriteHeader(http.StatusNotAcceptable)
			fmt.Fprint(w, `{"message":"Sorry, the diff exceeded the maximum number of lines"}`)
			return
		}
		fmt.Fprintf(w, prJSON, 2)
	})
	mux.HandleFunc("/repos/acme/api/pulls/42/files", truncatedFiles)

	_, err := newTestProvider(t, mux).Fetch(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reviewerr.ErrIncomplete))
	assert.Contains(t, err.Error(), "huge.sql")
}

func truncatedFiles(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `[
	  {"filename":"huge.sql","status":"modified","changes":90000},
	  {"filename":"logo.png","status":"added","changes":0}
	]`)
}

func TestFetchRecoversTruncatedPatchFromFullDiff(t *testing.T) {
	const fullDiff = "diff --git a/huge.sql b/huge.sql\n" +
		"index 1111111..2222222 100644\n" +
		"--- a/huge.sql\n" +
		"+++ b/huge.sql\n" +
		"@@ -10,2 +10,3 @@\n" +
		" a\n" +
		"+b\n" +
		" c\n" +
		"diff --git a/logo.png b/logo.png\n" +
		"new file mode 100644\n" +
		"Binary files /dev/null and b/logo.png differ\n"
	var rawCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "diff") {
			rawCalls.Add(1)
			fmt.Fprint(w, fullDiff)
			return
		}
		fmt.Fprintf(w, prJSON, 2)
	})
	mux.HandleFunc("/repos/acme/api/pulls/42/files", truncatedFiles)

	target, err := newTestProvider(t, mux).Fetch(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, int32(1), rawCalls.Load())
	require.Len(t, target.Files, 2)
	assert.Equal(t, "huge.sql", target.Files[0].FilePath)
	require.Len(t, target.Files[0].Hunks, 1)
	assert.True(t, target.Files[0].Hunks[0].ContainsNewLine(11))
	assert.True(t, target.Files[1].IsBinary)
}

func TestFetchClassifiesStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusBadGateway:   reviewerr.ErrTransient,
		http.StatusUnauthorized: reviewerr.ErrRejected,
		http.StatusNotFound:     reviewerr.ErrRejected,
	}
	for status, want := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/acme/api/pulls/42", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				fmt.Fprint(w, `{"message":"nope"}`)
			})
			_, err := newTestProvider(t, mux).Fetch(context.Background(), ref)
			require.Error(t, err)
			assert.True(t, errors.Is(err, want), "got %v", err)
		})
	}
}

func TestPostSummaryAndLineComment(t *testing.T) {
	var summaryBody, linePayload map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &summaryBody))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1001}`)
	})
	mux.HandleFunc("/repos/acme/api/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &linePayload))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 2002}`)
	})

	p := newTestProvider(t, mux)
	target := &models.ReviewTarget{Ref: ref, DiffRefs: models.DiffRefs{HeadSHA: "headsha"}}

	id, err := p.PostSummary(context.Background(), target, "## Review")
	require.NoError(t, err)
	assert.Equal(t, "1001", id)
	assert.Equal(t, "## Review", summaryBody["body"])

	id, err = p.PostLineComment(context.Background(), target, models.LineComment{File: "file.rs", Line: 42, Body: "rename x"})
	require.NoError(t, err)
	assert.Equal(t, "2002", id)
	assert.Equal(t, "file.rs", linePayload["path"])
	assert.Equal(t, float64(42), linePayload["line"])
	assert.Equal(t, "RIGHT", linePayload["side"])
	assert.Equal(t, "headsha", linePayload["commit_id"])
}

func TestPostLineCommentRejectedAnchor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Validation Failed"}`)
	})
	p := newTestProvider(t, mux)
	_, err := p.PostLineComment(context.Background(), &models.ReviewTarget{Ref: ref}, models.LineComment{File: "x", Line: 1, Body: "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, reviewerr.ErrRejected))
	e, ok := reviewerr.As(err)
	require.True(t, ok)
	assert.Equal(t, reviewerr.StagePublish, e.Stage)
}
