package diffstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIngestParsesKinds(t *testing.T) {
	in := "100.0\t-\t/a\n100.0\t+\t/b\n100.0\tM\t/c\n100.0\tR\t/d\t/e\n"
	events, err := Ingest(strings.NewReader(in), "")
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, Removed, events[0].Kind)
	require.Equal(t, Created, events[1].Kind)
	require.Equal(t, Modified, events[2].Kind)
	require.Equal(t, Renamed, events[3].Kind)
	require.Equal(t, "/e", events[3].NewPath)
}

func TestIngestRejectsMalformedLine(t *testing.T) {
	_, err := Ingest(strings.NewReader("not a valid line"), "")
	require.Error(t, err)
}

func TestIngestRenamedRequiresFourthField(t *testing.T) {
	_, err := Ingest(strings.NewReader("100.0\tR\t/d\n"), "")
	require.Error(t, err)
}

func TestIngestEmptyStreamSurfacesStderr(t *testing.T) {
	_, err := Ingest(strings.NewReader(""), "dataset is busy")
	require.Error(t, err)
	require.Contains(t, err.Error(), "dataset is busy")
}

func TestIngestEmptyStreamBenignStderrIsNotAnError(t *testing.T) {
	events, err := Ingest(strings.NewReader(""), "unable to determine path or stats for object 123")
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestIngestEmptyStreamNoStderr(t *testing.T) {
	_, err := Ingest(strings.NewReader(""), "")
	require.Error(t, err)
}

func TestReduceByPathKeepsMaxTimestamp(t *testing.T) {
	in := "100.0\t-\t/a\n200.0\tM\t/a\n150.0\t+\t/b\n"
	events, err := Ingest(strings.NewReader(in), "")
	require.NoError(t, err)

	reduced := ReduceByPath(events)
	require.Len(t, reduced, 2)

	byPath := map[string]Event{}
	for _, e := range reduced {
		byPath[e.Path] = e
	}
	require.Equal(t, Modified, byPath["/a"].Kind)
	require.Equal(t, Created, byPath["/b"].Kind)
}

func TestReduceByPathBreaksTimestampTiesByKindPriority(t *testing.T) {
	in := "100.0\tM\t/a\n100.0\t-\t/a\n100.0\tR\t/a\t/z\n100.0\t+\t/a\n"
	events, err := Ingest(strings.NewReader(in), "")
	require.NoError(t, err)

	reduced := ReduceByPath(events)
	require.Len(t, reduced, 1)
	require.Equal(t, Renamed, reduced[0].Kind)
	require.Equal(t, "/z", reduced[0].NewPath)
}

func TestReduceByPathTieBreakPrefersModifiedOverCreated(t *testing.T) {
	in := "100.0\t+\t/a\n100.0\tM\t/a\n"
	events, err := Ingest(strings.NewReader(in), "")
	require.NoError(t, err)

	reduced := ReduceByPath(events)
	require.Len(t, reduced, 1)
	require.Equal(t, Modified, reduced[0].Kind)
}
