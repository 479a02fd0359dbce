package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/pkg/models"
)

const sampleDiff = `diff --git a/file.rs b/file.rs
index 3b18e51..a9c7f2d 100644
--- a/file.rs
+++ b/file.rs
@@ -40,5 +40,6 @@ fn main() {
     let a = 1;
-    let x = 2;
+    let x = 3;
+    let y = 4;
     println!("{}", x);
     a
 }
diff --git a/old/name.go b/new/name.go
similarity index 90%
rename from old/name.go
rename to new/name.go
@@ -1 +1 @@
-package old
+package name
diff --git a/gone.txt b/gone.txt
deleted file mode 100644
@@ -1,2 +0,0 @@
-a
-b
`

func TestParseMultiFileDiff(t *testing.T) {
	files, err := NewParser().Parse(sampleDiff)
	require.NoError(t, err)
	require.Len(t, files, 3)

	want := []models.DiffHunk{{
		FilePath:     "file.rs",
		OldStartLine: 40,
		OldLineCount: 5,
		NewStartLine: 40,
		NewLineCount: 6,
	}}
	if diff := cmp.Diff(want, files[0].Hunks, cmpopts.IgnoreFields(models.DiffHunk{}, "Content")); diff != "" {
		t.Errorf("hunks mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, files[0].Hunks[0].Content, "+    let y = 4;")
	assert.NotEmpty(t, files[0].FileType)

	assert.True(t, files[1].IsRenamed)
	assert.Equal(t, "old/name.go", files[1].OldFilePath)
	assert.Equal(t, "new/name.go", files[1].FilePath)
	require.Len(t, files[1].Hunks, 1)
	assert.Equal(t, 1, files[1].Hunks[0].NewLineCount, "omitted count defaults to one line")

	assert.True(t, files[2].IsDeleted)
	require.Len(t, files[2].Hunks, 1)
	assert.Equal(t, 0, files[2].Hunks[0].NewLineCount)
}

func TestParsePatchWithoutGitHeader(t *testing.T) {
	patch := "@@ -1,3 +1,4 @@\n a\n+b\n c\n d\n@@ -20,2 +21,3 @@ func x()\n e\n+f\n g\n"
	cd, err := NewParser().ParsePatch("pkg/x.go", patch)
	require.NoError(t, err)
	require.Len(t, cd.Hunks, 2)
	assert.Equal(t, 21, cd.Hunks[1].NewStartLine)
	assert.Equal(t, 3, cd.Hunks[1].NewLineCount)
	assert.Equal(t, " e\n+f\n g\n", cd.Hunks[1].Content)
	assert.Equal(t, "Go", cd.FileType)
}

func TestHunkContainsNewLine(t *testing.T) {
	h := models.DiffHunk{NewStartLine: 40, NewLineCount: 6}
	assert.False(t, h.ContainsNewLine(39))
	assert.True(t, h.ContainsNewLine(40))
	assert.True(t, h.ContainsNewLine(45))
	assert.False(t, h.ContainsNewLine(46))
	assert.False(t, models.DiffHunk{NewStartLine: 0, NewLineCount: 0}.ContainsNewLine(0))
}

func TestParseEmpty(t *testing.T) {
	files, err := NewParser().Parse("")
	require.NoError(t, err)
	assert.Nil(t, files)
}
