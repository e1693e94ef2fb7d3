package transcode

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grafov/m3u8"
)

// MasterPlaylistName is the filename of the variant index inside an asset's
// hls directory.
const MasterPlaylistName = "master.m3u8"

// WriteMasterPlaylist renders the variant index for the encoded renditions
// and installs it atomically, so a master playlist on disk always references
// a complete set of renditions. Presets must be in ascending ladder order;
// bandwidths then come out strictly increasing.
func WriteMasterPlaylist(dir string, source MediaInfo, presets []Preset) (string, error) {
	if len(presets) == 0 {
		return "", fmt.Errorf("no renditions to publish")
	}
	master := m3u8.NewMasterPlaylist()
	for _, preset := range presets {
		master.Append(preset.Name+".m3u8", nil, m3u8.VariantParams{
			ProgramId:  1,
			Bandwidth:  uint32(preset.Bandwidth()),
			Resolution: Resolution(source, preset),
			Name:       preset.Name,
		})
	}

	path := filepath.Join(dir, MasterPlaylistName)
	tmp := filepath.Join(dir, MasterPlaylistName+".tmp")
	if err := os.WriteFile(tmp, master.Encode().Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("install master playlist: %w", err)
	}
	return path, nil
}
