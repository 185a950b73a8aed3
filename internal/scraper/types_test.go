package scraper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		BoolValue(true),
		BoolValue(false),
		TextValue("Heap-buffer-overflow"),
		ListValue([]string{"a", "b"}),
		ListValue([]string{}),
		RangesValue([][]string{{"aaaa", "bbbb"}, {"cccc"}}),
	}
	for _, value := range values {
		data, err := json.Marshal(value)
		require.NoError(t, err)
		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		// An empty list has no nested element to discriminate on, so both
		// empty collections decode as the empty list.
		if value.Kind == KindRanges && len(value.Ranges) == 0 {
			value = ListValue([]string{})
		}
		require.Equal(t, value, back, string(data))
	}
}

func TestValueUnmarshalRejectsMixedLists(t *testing.T) {
	var value Value
	require.Error(t, value.UnmarshalJSON([]byte(`[["a"],"b"]`)))
	require.Error(t, value.UnmarshalJSON([]byte(`[1,2]`)))
	require.Error(t, value.UnmarshalJSON([]byte(`{"a":1}`)))
}

func TestAppendContinuationPromotesScalars(t *testing.T) {
	rec := NewRecord("1", "https://issues.example.com/issues/1")

	// No-op without an existing field.
	rec.AppendContinuation("Crash State", "frame")
	_, ok := rec.Get("Crash State")
	require.False(t, ok)

	// Empty scalar is replaced by a single-element list.
	rec.Set("Crash State", TextValue(""))
	rec.AppendContinuation("Crash State", "frame_one")
	require.Equal(t, ListValue([]string{"frame_one"}), rec.Extra["Crash State"])

	// Lists grow in order.
	rec.AppendContinuation("Crash State", "frame_two")
	require.Equal(t, ListValue([]string{"frame_one", "frame_two"}), rec.Extra["Crash State"])

	// A populated scalar keeps its value as the first element.
	rec.Set("Notes", TextValue("first"))
	rec.AppendContinuation("Notes", "second")
	require.Equal(t, ListValue([]string{"first", "second"}), rec.Extra["Notes"])
}

func TestRecordFieldsOmitsEmptyOptionals(t *testing.T) {
	rec := NewRecord("42", "https://issues.example.com/issues/42")
	fields := rec.Fields()
	require.Equal(t, TextValue("42"), fields["id"])
	require.Equal(t, TextValue("https://issues.example.com/issues/42"), fields["url"])
	require.Equal(t, BoolValue(false), fields["error"])
	require.Len(t, fields, 3)

	rec.Title = "t"
	rec.Hotlists = []string{"h"}
	rec.ReportedTime = "2023-04-01 12:30"
	rec.FixedTime = "2023-04-15 08:30"
	rec.Set("Project", TextValue("curl"))
	require.Equal(t, []string{
		"Project", "error", "fixed_time", "hotlists", "id",
		"reported_time", "title", "url",
	}, rec.Keys())
}

func TestRevisionDataApply(t *testing.T) {
	rec := NewRecord("42", "https://issues.example.com/issues/42")

	data := &RevisionData{
		Components: []string{"/src/x"},
		Revisions:  [][]string{{"aaaa", "bbbb"}},
		Buildtime:  []string{"aaaa", "bbbb"},
	}
	data.Apply(rec, "regressed")
	require.Equal(t, ListValue([]string{"/src/x"}), rec.Extra["regressed_components"])
	require.Equal(t, RangesValue([][]string{{"aaaa", "bbbb"}}), rec.Extra["regressed_revisions"])
	require.Equal(t, ListValue([]string{"aaaa", "bbbb"}), rec.Extra["regressed_buildtime"])

	empty := &RevisionData{Components: []string{}, Revisions: [][]string{}}
	empty.Apply(rec, "fixed")
	require.Equal(t, Null(), rec.Extra["fixed_buildtime"])
}
