package transcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grafov/m3u8"
)

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	source := MediaInfo{Width: 1920, Height: 1080}
	presets := SelectLadder(source.Height)

	path, err := WriteMasterPlaylist(dir, source, presets)
	if err != nil {
		t.Fatalf("write master playlist: %v", err)
	}
	if filepath.Base(path) != MasterPlaylistName {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := os.Stat(filepath.Join(dir, MasterPlaylistName+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp playlist left behind: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open playlist: %v", err)
	}
	defer file.Close()
	playlist, listType, err := m3u8.DecodeFrom(file, true)
	if err != nil {
		t.Fatalf("decode playlist: %v", err)
	}
	if listType != m3u8.MASTER {
		t.Fatalf("list type = %v, want master", listType)
	}
	master := playlist.(*m3u8.MasterPlaylist)
	if len(master.Variants) != len(presets) {
		t.Fatalf("variant count = %d, want %d", len(master.Variants), len(presets))
	}
	previous := uint32(0)
	for i, variant := range master.Variants {
		if variant.URI != presets[i].Name+".m3u8" {
			t.Fatalf("variant %d URI = %q", i, variant.URI)
		}
		if variant.Bandwidth <= previous {
			t.Fatalf("bandwidths not strictly increasing at %d: %d <= %d", i, variant.Bandwidth, previous)
		}
		if !strings.HasSuffix(variant.Resolution, "x"+strings.TrimSuffix(presets[i].Name, "p")) {
			t.Fatalf("variant %d resolution = %q", i, variant.Resolution)
		}
		previous = variant.Bandwidth
	}
}

func TestWriteMasterPlaylistRejectsEmptyLadder(t *testing.T) {
	if _, err := WriteMasterPlaylist(t.TempDir(), MediaInfo{}, nil); err == nil {
		t.Fatal("expected error for empty ladder")
	}
}
