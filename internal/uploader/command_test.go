package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestBuildArgs_YouTubeFromStart(t *testing.T) {
	args, err := BuildArgs(LaunchSpec{
		SessionID:      "abc",
		Target:         TargetYouTube,
		StreamKey:      "yt-key-1234",
		PlaylistURL:    "http://127.0.0.1:8080/segments/abc/playlist.m3u8",
		LiveStartIndex: intPtr(0),
	})
	require.NoError(t, err)

	expected := []string{
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_on_http_error", "4xx,5xx",
		"-reconnect_delay_max", "60",
		"-max_reload", "60",
		"-m3u8_hold_counters", "60",
		"-seg_max_retry", "60",
		"-live_start_index", "0",
		"-copyts",
		"-fflags", "+igndts",
		"-re",
		"-i", "http://127.0.0.1:8080/segments/abc/playlist.m3u8",
		"-c", "copy",
		"-fps_mode", "passthrough",
		"-master_pl_name", "master.m3u8",
		"-http_persistent", "1",
		"-f", "hls",
		"-hls_playlist_type", "event",
		"-hls_allow_cache", "1",
		"-method", "POST",
		"https://a.upload.youtube.com/http_upload_hls?cid=yt-key-1234&copy=0&file=master.m3u8",
	}
	assert.Equal(t, expected, args)
}

func TestBuildArgs_TwitchLiveEdge(t *testing.T) {
	args, err := BuildArgs(LaunchSpec{
		SessionID:   "abc",
		Target:      TargetTwitch,
		StreamKey:   "tw-key-5678",
		PlaylistURL: "http://127.0.0.1:9000/segments/abc/playlist.m3u8",
	})
	require.NoError(t, err)

	expected := []string{
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_on_http_error", "4xx,5xx",
		"-reconnect_delay_max", "60",
		"-max_reload", "60",
		"-m3u8_hold_counters", "60",
		"-seg_max_retry", "60",
		"-copyts",
		"-fflags", "+igndts",
		"-re",
		"-i", "http://127.0.0.1:9000/segments/abc/playlist.m3u8",
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
		"rtmp://ingest.global-contribute.live-video.net/app/tw-key-5678",
	}
	assert.Equal(t, expected, args)
}

func TestBuildArgs_LiveEdgeOmitsStartIndex(t *testing.T) {
	args, err := BuildArgs(LaunchSpec{
		Target:      TargetYouTube,
		StreamKey:   "k",
		PlaylistURL: "http://127.0.0.1:8080/segments/s/playlist.m3u8",
	})
	require.NoError(t, err)
	assert.NotContains(t, args, "-live_start_index")
}

func TestBuildArgs_UnknownTarget(t *testing.T) {
	_, err := BuildArgs(LaunchSpec{
		Target:      "kick",
		StreamKey:   "k",
		PlaylistURL: "http://127.0.0.1:8080/segments/s/playlist.m3u8",
	})
	assert.ErrorIs(t, err, ErrUnknownTarget)
}
