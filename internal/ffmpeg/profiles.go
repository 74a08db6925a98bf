package ffmpeg

import (
	"fmt"
	"strings"
)

// DefaultProfiles returns the candidate encoders in preference order:
// software x264, the macOS hardware encoder, then plain MPEG-4 Part 2 which
// every ffmpeg build ships.
func DefaultProfiles(preset string, crf int) []Profile {
	return ProfilesFor([]string{DefaultVideoCodec, "h264_videotoolbox", "mpeg4"}, preset, crf)
}

// ProfilesFor builds profiles for the named codecs, keeping their order.
// Unknown names get a bare "-c:v name" profile.
func ProfilesFor(codecs []string, preset string, crf int) []Profile {
	if preset == "" {
		preset = DefaultPreset
	}
	if crf <= 0 || crf > 51 {
		crf = DefaultCRF
	}

	profiles := make([]Profile, 0, len(codecs))
	for _, codec := range codecs {
		codec = strings.TrimSpace(codec)
		if codec == "" {
			continue
		}
		var args []string
		switch codec {
		case "libx264":
			args = []string{"-c:v", "libx264", "-preset", preset, "-crf", fmt.Sprintf("%d", crf)}
		case "h264_videotoolbox":
			args = []string{"-c:v", "h264_videotoolbox", "-b:v", "8M", "-allow_sw", "1"}
		case "mpeg4":
			args = []string{"-c:v", "mpeg4", "-q:v", "3"}
		default:
			args = []string{"-c:v", codec}
		}
		args = append(args, "-pix_fmt", DefaultPixFmt)
		profiles = append(profiles, Profile{Name: codec, Args: args})
	}
	return profiles
}
