package metadata

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clean-dependency-project/itchmirror/internal/catalog"
)

func ptr(s string) *string { return &s }

func decodeGames(t *testing.T, doc string) []catalog.Game {
	t.Helper()
	var games []catalog.Game
	if err := json.Unmarshal([]byte(doc), &games); err != nil {
		t.Fatalf("decoding games: %v", err)
	}
	return games
}

func TestSortByPublishedDesc(t *testing.T) {
	games := []catalog.Game{
		{ID: 1, PublishedAt: ptr("2020-01-01 00:00:00")},
		{ID: 2, PublishedAt: ptr("2022-06-15 00:00:00")},
		{ID: 3, PublishedAt: ptr("2021-03-10 00:00:00")},
	}

	sorted := SortByPublishedDesc(games)

	want := []int64{2, 3, 1}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Errorf("sorted[%d].ID = %d, want %d", i, sorted[i].ID, id)
		}
	}
	if games[0].ID != 1 || games[1].ID != 2 {
		t.Error("input slice was reordered")
	}
}

func TestSortByPublishedDesc_StableAndNullsLast(t *testing.T) {
	games := []catalog.Game{
		{ID: 1, PublishedAt: nil},
		{ID: 2, PublishedAt: ptr("2021-01-01 00:00:00")},
		{ID: 3, PublishedAt: ptr("2021-01-01 00:00:00")},
		{ID: 4, PublishedAt: ptr("2023-01-01 00:00:00")},
		{ID: 5, PublishedAt: nil},
	}

	sorted := SortByPublishedDesc(games)

	want := []int64{4, 2, 3, 1, 5}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Errorf("sorted[%d].ID = %d, want %d", i, sorted[i].ID, id)
		}
	}
}

func TestEncode_TabIndentNoHTMLEscape(t *testing.T) {
	data, err := Encode(map[string]string{"title": "Tom & Jerry <3"})
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n\t\"title\": \"Tom & Jerry <3\"\n}"
	if string(data) != want {
		t.Errorf("Encode() = %q, want %q", data, want)
	}
}

func TestWriteGameMetadata_PreservesAllFields(t *testing.T) {
	games := decodeGames(t, `[{"id":1,"title":"Alpha","published_at":"2020-01-01 00:00:00","min_price":500,"user":{"id":9,"username":"dev"}}]`)
	path := filepath.Join(t.TempDir(), "Alpha", "metadata.json")

	if err := NewWriter(nil).WriteGameMetadata(games[0], path); err != nil {
		t.Fatalf("WriteGameMetadata() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\t\"min_price\": 500") {
		t.Errorf("expected tab-indented unknown field, got:\n%s", text)
	}
	if !strings.Contains(text, "\"username\": \"dev\"") {
		t.Errorf("nested object lost:\n%s", text)
	}
}

func TestWriteAggregateMetadata(t *testing.T) {
	games := decodeGames(t, `[
		{"id":1,"title":"Old","published_at":"2020-01-01 00:00:00"},
		{"id":2,"title":"New","published_at":"2022-06-15 00:00:00"},
		{"id":3,"title":"Mid","published_at":"2021-03-10 00:00:00"}
	]`)
	path := filepath.Join(t.TempDir(), "metadata.json")

	if err := NewWriter(nil).WriteAggregateMetadata(games, path); err != nil {
		t.Fatalf("WriteAggregateMetadata() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	written := decodeGames(t, string(data))
	var got []string
	for _, g := range written {
		got = append(got, g.PublishedAtKey()[:10])
	}
	want := []string{"2022-06-15", "2021-03-10", "2020-01-01"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
	if !strings.HasPrefix(string(data), "[\n\t{") {
		t.Errorf("expected tab-indented array, got %q", string(data)[:10])
	}
}

func TestWriteAggregateMetadata_EmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := NewWriter(nil).WriteAggregateMetadata(nil, path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[]" {
		t.Errorf("empty catalog written as %q", data)
	}
}

func TestWriteFileIfChanged_SkipsIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	game := catalog.Game{ID: 1, Title: "Same"}
	w := NewWriter(nil)

	if err := w.WriteGameMetadata(game, path); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if err := w.WriteGameMetadata(game, path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Error("unchanged content should not rewrite the file")
	}
}

func TestWriteGameMetadata_Failure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "Game")
	if err := os.WriteFile(blocker, []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}

	err := NewWriter(nil).WriteGameMetadata(catalog.Game{Title: "Game"}, filepath.Join(blocker, "metadata.json"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}
