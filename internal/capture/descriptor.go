package capture

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeRTSPURL percent-encodes userinfo so credentials containing
// URL-special characters ('@', '/', '%', ...) survive composition into the
// capture descriptor. Already-valid URLs pass through unchanged.
func NormalizeRTSPURL(raw string) string {
	// Fast path: parses and has no userinfo to worry about.
	if u, err := url.Parse(raw); err == nil && u.User == nil {
		return raw
	}

	rest, ok := strings.CutPrefix(raw, "rtsp://")
	if !ok {
		return raw
	}
	// Split on the LAST '@': everything before it is userinfo, which may
	// itself contain '@'.
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	userinfo, hostpart := rest[:at], rest[at+1:]
	user, pass, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return "rtsp://" + url.PathEscape(user) + "@" + hostpart
	}
	return fmt.Sprintf("rtsp://%s:%s@%s", url.QueryEscape(user), url.QueryEscape(pass), hostpart)
}

// Descriptor selects which ffmpeg invocation decodes the stream.
type Descriptor int

const (
	// DescriptorPrimary keeps ffmpeg's reorder queue and jitter buffering.
	DescriptorPrimary Descriptor = iota
	// DescriptorAlternative drops strict jitter buffering; used after
	// repeated decoder-class failures on the primary descriptor.
	DescriptorAlternative
)

func (d Descriptor) String() string {
	if d == DescriptorAlternative {
		return "alternative"
	}
	return "primary"
}

// ffmpegArgs builds the decode command for the descriptor: RTSP in, raw
// BGR frames at the target geometry out on stdout.
func ffmpegArgs(d Descriptor, rtspURL string, w, h int) []string {
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
	}
	if d == DescriptorAlternative {
		// No reorder queue, no buffering: trades smoothness for liveness
		// on sources whose jitter-buffered decode keeps failing.
		args = append([]string{
			"-fflags", "nobuffer",
			"-flags", "low_delay",
			"-reorder_queue_size", "0",
		}, args...)
	} else {
		args = append([]string{"-max_delay", "500000"}, args...)
	}
	args = append(args,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", strconv.Itoa(w)+"x"+strconv.Itoa(h),
		"-",
	)
	return args
}

// connectionErrorMarkers are transport failures. They extend backoff but
// never trigger the descriptor switch.
var connectionErrorMarkers = []string{
	"connection refused",
	"timed out",
	"no route to host",
	"connection reset",
	"network is unreachable",
	"401 unauthorized",
	"404 not found",
}

// decoderErrorMarkers are decode/format failures that the alternative
// descriptor has historically worked around.
var decoderErrorMarkers = []string{
	"invalid data found",
	"error while decoding",
	"co located pocs unavailable",
	"non-existing pps",
	"could not find codec parameters",
	"decode_slice_header error",
}

// errorClass partitions a capture failure by its stderr tail.
type errorClass int

const (
	errClassUnknown errorClass = iota
	errClassConnection
	errClassDecoder
)

func classifyError(stderrTail string) errorClass {
	s := strings.ToLower(stderrTail)
	for _, m := range connectionErrorMarkers {
		if strings.Contains(s, m) {
			return errClassConnection
		}
	}
	for _, m := range decoderErrorMarkers {
		if strings.Contains(s, m) {
			return errClassDecoder
		}
	}
	return errClassUnknown
}
