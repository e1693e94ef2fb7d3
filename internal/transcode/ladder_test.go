package transcode

import (
	"reflect"
	"testing"
)

func TestSelectLadder(t *testing.T) {
	cases := []struct {
		name   string
		height int
		want   []string
	}{
		{name: "1080p source gets full ladder", height: 1080, want: []string{"240p", "360p", "480p", "720p", "1080p"}},
		{name: "4k source capped at 1080p", height: 2160, want: []string{"240p", "360p", "480p", "720p", "1080p"}},
		{name: "480p source stops at 480p", height: 480, want: []string{"240p", "360p", "480p"}},
		{name: "719p source excludes 720p", height: 719, want: []string{"240p", "360p", "480p"}},
		{name: "tiny source still gets smallest", height: 100, want: []string{"240p"}},
		{name: "unknown height gets smallest", height: 0, want: []string{"240p"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			presets := SelectLadder(tc.height)
			names := make([]string, len(presets))
			for i, preset := range presets {
				names[i] = preset.Name
			}
			if !reflect.DeepEqual(names, tc.want) {
				t.Fatalf("SelectLadder(%d) = %v, want %v", tc.height, names, tc.want)
			}
		})
	}
}

func TestLadderBandwidthsStrictlyIncrease(t *testing.T) {
	previous := 0
	for _, preset := range Ladder() {
		bandwidth := preset.Bandwidth()
		if bandwidth <= previous {
			t.Fatalf("%s bandwidth %d does not exceed %d", preset.Name, bandwidth, previous)
		}
		previous = bandwidth
	}
}

func TestScaledWidth(t *testing.T) {
	cases := []struct {
		name   string
		source MediaInfo
		height int
		want   int
	}{
		{name: "16:9 downscale", source: MediaInfo{Width: 1920, Height: 1080}, height: 720, want: 1280},
		{name: "truncated to even", source: MediaInfo{Width: 854, Height: 480}, height: 360, want: 640},
		{name: "unknown shape assumes 16:9", source: MediaInfo{}, height: 480, want: 852},
		{name: "vertical video", source: MediaInfo{Width: 1080, Height: 1920}, height: 720, want: 406},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScaledWidth(tc.source, tc.height)
			if got != tc.want {
				t.Fatalf("ScaledWidth = %d, want %d", got, tc.want)
			}
			if got%2 != 0 {
				t.Fatalf("width %d is odd", got)
			}
		})
	}
}
