// Package uploader launches and supervises the ffmpeg child process that
// reads a session's playlist over loopback HTTP and pushes it to the
// configured ingest target.
package uploader

import (
	"errors"
	"fmt"
	"strconv"
)

// Supported upload targets.
const (
	TargetYouTube = "youtube"
	TargetTwitch  = "twitch"
)

// ErrUnknownTarget is returned when a launch names a target with no command
// template.
var ErrUnknownTarget = errors.New("unknown upload target")

// LaunchSpec describes one uploader invocation.
type LaunchSpec struct {
	SessionID string
	Target    string
	StreamKey string
	// PlaylistURL is the loopback URL of the session playlist,
	// e.g. http://127.0.0.1:8080/segments/<session_id>/playlist.m3u8.
	PlaylistURL string
	// LiveStartIndex selects the playlist entry ffmpeg starts reading from.
	// Nil means no -live_start_index argument: ffmpeg joins at the live edge.
	LiveStartIndex *int
}

// BuildArgs assembles the ffmpeg argument list for a launch. The flag set and
// ordering are an operator-facing contract: people grep process listings and
// compare them against the documented command lines.
func BuildArgs(spec LaunchSpec) ([]string, error) {
	args := []string{
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_on_http_error", "4xx,5xx",
		"-reconnect_delay_max", "60",
		"-max_reload", "60",
		"-m3u8_hold_counters", "60",
		"-seg_max_retry", "60",
	}

	if spec.LiveStartIndex != nil {
		args = append(args, "-live_start_index", strconv.Itoa(*spec.LiveStartIndex))
	}

	args = append(args, "-copyts", "-fflags", "+igndts", "-re", "-i", spec.PlaylistURL)

	switch spec.Target {
	case TargetYouTube:
		args = append(args,
			"-c", "copy",
			"-fps_mode", "passthrough",
			"-master_pl_name", "master.m3u8",
			"-http_persistent", "1",
			"-f", "hls",
			"-hls_playlist_type", "event",
			"-hls_allow_cache", "1",
			"-method", "POST",
			fmt.Sprintf("https://a.upload.youtube.com/http_upload_hls?cid=%s&copy=0&file=master.m3u8", spec.StreamKey),
		)
	case TargetTwitch:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-b:v", "8M",
			"-pix_fmt", "yuv420p",
			"-bufsize", "16000k",
			"-g", "60",
			"-c:a", "copy",
			"-fps_mode", "passthrough",
			"-f", "flv",
			"-rtmp_buffer", "10000",
			"rtmp://ingest.global-contribute.live-video.net/app/"+spec.StreamKey,
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, spec.Target)
	}

	return args, nil
}
