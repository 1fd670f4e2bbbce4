// Package e2e records real files through libav and checks them with ffprobe.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

// FFProbeStream is a single stream of the ffprobe output.
type FFProbeStream struct {
	Index          int    `json:"index"`
	CodecName      string `json:"codec_name"`
	CodecType      string `json:"codec_type"`
	Profile        string `json:"profile,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	PixFmt         string `json:"pix_fmt,omitempty"`
	ColorSpace     string `json:"color_space,omitempty"`
	ColorTransfer  string `json:"color_transfer,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty"`
	SampleRate     string `json:"sample_rate,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	AvgFrameRate   string `json:"avg_frame_rate,omitempty"`
	NbFrames       string `json:"nb_frames,omitempty"`
	Duration       string `json:"duration,omitempty"`

	SideDataList []FFProbeSideData `json:"side_data_list,omitempty"`
}

type FFProbeSideData struct {
	SideDataType string `json:"side_data_type"`
}

func (s *FFProbeStream) HasSideData(sideDataType string) bool {
	for _, sd := range s.SideDataList {
		if strings.EqualFold(sd.SideDataType, sideDataType) {
			return true
		}
	}
	return false
}

// FFProbePacket is a single packet of the ffprobe output.
type FFProbePacket struct {
	StreamIndex int    `json:"stream_index"`
	PTSTime     string `json:"pts_time"`
	DTSTime     string `json:"dts_time"`
	Flags       string `json:"flags"`
}

// FFProbeResult represents ffprobe output.
type FFProbeResult struct {
	Streams []FFProbeStream `json:"streams"`
	Packets []FFProbePacket `json:"packets"`
	Format  struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

func (r *FFProbeResult) Stream(codecType string) *FFProbeStream {
	for idx := range r.Streams {
		if r.Streams[idx].CodecType == codecType {
			return &r.Streams[idx]
		}
	}
	return nil
}

func (r *FFProbeResult) Duration() time.Duration {
	sec, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

// KeyFrames returns the indexes of the key frame packets of a stream.
func (r *FFProbeResult) KeyFrames(streamIndex int) []int {
	var result []int
	idx := 0
	for _, pkt := range r.Packets {
		if pkt.StreamIndex != streamIndex {
			continue
		}
		if len(pkt.Flags) > 0 && pkt.Flags[0] == 'K' {
			result = append(result, idx)
		}
		idx++
	}
	return result
}

func (r *FFProbeResult) PacketCount(streamIndex int) int {
	count := 0
	for _, pkt := range r.Packets {
		if pkt.StreamIndex == streamIndex {
			count++
		}
	}
	return count
}

// FileVerifier checks recorded files.
type FileVerifier struct {
	t   *testing.T
	ctx context.Context
}

// NewFileVerifier skips the test if ffprobe is not installed.
func NewFileVerifier(t *testing.T, ctx context.Context) *FileVerifier {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skipf("ffprobe is not available: %v", err)
	}
	return &FileVerifier{t: t, ctx: ctx}
}

// VerifyRecordedFile runs ffprobe on a recorded file, including its packets.
func (v *FileVerifier) VerifyRecordedFile(filePath string) (*FFProbeResult, error) {
	ctx, cancel := context.WithTimeout(v.ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-show_packets",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result FFProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &result, nil
}

// VerifyHasVideo checks if the file has a valid video track.
func (v *FileVerifier) VerifyHasVideo(result *FFProbeResult) (*FFProbeStream, error) {
	stream := result.Stream("video")
	if stream == nil || stream.Width == 0 || stream.Height == 0 {
		return nil, fmt.Errorf("no valid video stream found")
	}
	v.t.Logf("Found video stream: %s %dx%d %s", stream.CodecName, stream.Width, stream.Height, stream.PixFmt)
	return stream, nil
}

// VerifyHasAudio checks if the file has a valid audio track.
func (v *FileVerifier) VerifyHasAudio(result *FFProbeResult) (*FFProbeStream, error) {
	stream := result.Stream("audio")
	if stream == nil || stream.SampleRate == "" {
		return nil, fmt.Errorf("no valid audio stream found")
	}
	v.t.Logf("Found audio stream: %s %s Hz", stream.CodecName, stream.SampleRate)
	return stream, nil
}
