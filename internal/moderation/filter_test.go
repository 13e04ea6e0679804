package moderation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterMatchesDenyWords(t *testing.T) {
	filter, err := NewFilter([]string{"crapweasel", "dirtbag"})
	require.NoError(t, err)

	verdict := filter.Check("what a crapweasel move")
	require.False(t, verdict.IsSafe)
	require.Equal(t, "Content contains inappropriate language", verdict.Reason)

	require.True(t, filter.Check("a perfectly fine sentence").IsSafe)
}

func TestFilterDefeatsLeetAndSpacing(t *testing.T) {
	filter, err := NewFilter([]string{"dirtbag"})
	require.NoError(t, err)

	for _, content := range []string{
		"d1rtb4g",
		"DIRTBAG",
		"d i r t b a g",
		"d.i.r.t.b.a.g",
		"d!rtb@g",
	} {
		require.False(t, filter.Check(content).IsSafe, "expected %q to match", content)
	}
}

func TestFilterEmptyListPassesEverything(t *testing.T) {
	filter, err := NewFilter(nil)
	require.NoError(t, err)

	require.True(t, filter.Check("anything at all").IsSafe)
	require.True(t, filter.Check("").IsSafe)
}

func TestFilterPunctuationOnlyContent(t *testing.T) {
	filter, err := NewFilter([]string{"dirtbag"})
	require.NoError(t, err)

	require.True(t, filter.Check("!!! ... ???").IsSafe)
}

func TestNewFilterFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.txt")
	content := "# deny list\ncrapweasel\n\n  dirtbag  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	filter, err := NewFilterFromFile(path)
	require.NoError(t, err)

	require.False(t, filter.Check("dirtbag alert").IsSafe)
	require.True(t, filter.Check("deny list").IsSafe, "comment lines are not patterns")
}

func TestNewFilterFromFileMissing(t *testing.T) {
	_, err := NewFilterFromFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}
