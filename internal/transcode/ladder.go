// Package transcode turns an uploaded original into adaptive-bitrate HLS
// renditions. The worker consumes jobs from the queue, probes the source,
// runs the encoder once per selected rendition, and publishes a master
// playlist only when every rendition succeeded.
package transcode

import "fmt"

// MediaInfo is the probe result for a source file.
type MediaInfo struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Bitrate  int64
}

// Preset is one rung of the rendition ladder.
type Preset struct {
	Name         string
	Height       int
	VideoBitrate int // kbit/s
	AudioBitrate int // kbit/s
}

// Bandwidth is the total stream bandwidth advertised in the master playlist,
// in bits per second.
func (p Preset) Bandwidth() int {
	return (p.VideoBitrate + p.AudioBitrate) * 1000
}

// ladder is ordered by ascending quality; selection and encoding preserve
// this order so logs and playlists are reproducible.
var ladder = []Preset{
	{Name: "240p", Height: 240, VideoBitrate: 400, AudioBitrate: 64},
	{Name: "360p", Height: 360, VideoBitrate: 800, AudioBitrate: 96},
	{Name: "480p", Height: 480, VideoBitrate: 1400, AudioBitrate: 128},
	{Name: "720p", Height: 720, VideoBitrate: 2800, AudioBitrate: 128},
	{Name: "1080p", Height: 1080, VideoBitrate: 5000, AudioBitrate: 192},
}

// Ladder returns a copy of the full preset ladder.
func Ladder() []Preset {
	out := make([]Preset, len(ladder))
	copy(out, ladder)
	return out
}

// SelectLadder picks the presets whose target height does not exceed the
// source. A source shorter than the smallest preset still gets that preset,
// so every asset ends up with at least one playable rendition.
func SelectLadder(sourceHeight int) []Preset {
	selected := make([]Preset, 0, len(ladder))
	for _, preset := range ladder {
		if preset.Height <= sourceHeight {
			selected = append(selected, preset)
		}
	}
	if len(selected) == 0 {
		selected = append(selected, ladder[0])
	}
	return selected
}

// ScaledWidth computes the encoded width for a target height, preserving the
// source aspect ratio and rounding to an even value as the encoder requires.
// An unknown source shape falls back to 16:9.
func ScaledWidth(source MediaInfo, targetHeight int) int {
	if source.Width <= 0 || source.Height <= 0 {
		return targetHeight * 16 / 9 / 2 * 2
	}
	width := source.Width * targetHeight / source.Height
	if width%2 != 0 {
		width++
	}
	return width
}

// Resolution formats the WxH string advertised for a rendition.
func Resolution(source MediaInfo, preset Preset) string {
	return fmt.Sprintf("%dx%d", ScaledWidth(source, preset.Height), preset.Height)
}
