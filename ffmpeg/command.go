package ffmpeg

import "strconv"

// TranscodeOptions are the encode parameters of a transcode task. Zero fields
// take the defaults of DefaultTranscodeOptions.
type TranscodeOptions struct {
	VideoCodec   string   `json:"video_codec,omitempty"`
	Preset       string   `json:"preset,omitempty"`
	CRF          int      `json:"crf,omitempty"`
	AudioCodec   string   `json:"audio_codec,omitempty"`
	AudioBitrate string   `json:"audio_bitrate,omitempty"`
	PixelFormat  string   `json:"pixel_format,omitempty"`
	Scale        string   `json:"scale,omitempty"`
	ExtraArgs    []string `json:"extra_args,omitempty"`
}

func DefaultTranscodeOptions() TranscodeOptions {
	return TranscodeOptions{
		VideoCodec:   "libx264",
		Preset:       "medium",
		CRF:          20,
		AudioCodec:   "aac",
		AudioBitrate: "192k",
		PixelFormat:  "yuv420p",
		Scale:        "-2:720",
	}
}

// WithDefaults fills every unset field.
func (o TranscodeOptions) WithDefaults() TranscodeOptions {
	d := DefaultTranscodeOptions()
	if o.VideoCodec == "" {
		o.VideoCodec = d.VideoCodec
	}
	if o.Preset == "" {
		o.Preset = d.Preset
	}
	if o.CRF <= 0 {
		o.CRF = d.CRF
	}
	if o.AudioCodec == "" {
		o.AudioCodec = d.AudioCodec
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = d.AudioBitrate
	}
	if o.PixelFormat == "" {
		o.PixelFormat = d.PixelFormat
	}
	if o.Scale == "" {
		o.Scale = d.Scale
	}
	return o
}

// TranscodeArgs builds the encoder arguments that transcode input into output
// while streaming machine-readable progress on stdout.
func TranscodeArgs(input, output string, o TranscodeOptions) []string {
	o = o.WithDefaults()
	args := []string{
		"-y", "-nostdin",
		"-i", input,
		"-c:v", o.VideoCodec,
		"-preset", o.Preset,
		"-crf", strconv.Itoa(o.CRF),
		"-vf", "scale=" + o.Scale,
		"-pix_fmt", o.PixelFormat,
		"-movflags", "+faststart",
		"-c:a", o.AudioCodec,
		"-b:a", o.AudioBitrate,
		"-ac", "2",
		"-ar", "44100",
	}
	args = append(args, o.ExtraArgs...)
	return append(args, "-progress", "pipe:1", "-nostats", "-f", "mp4", output)
}

// StreamOptions shape a live push encoder.
type StreamOptions struct {
	Rotation  int
	Loop      bool
	ExtraArgs []string
}

// RotationFilter maps a clockwise rotation in degrees to a transpose filter.
// Unsupported angles yield no filter.
func RotationFilter(rotation int) string {
	switch rotation {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=2,transpose=2"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// StreamArgs builds the arguments of a low-latency push encoder reading a
// concat playlist and publishing FLV to url.
func StreamArgs(playlist, url string, o StreamOptions) []string {
	loop := "0"
	if o.Loop {
		loop = "-1"
	}
	args := []string{
		"-nostdin",
		"-re",
		"-stream_loop", loop,
		"-f", "concat",
		"-safe", "0",
		"-i", playlist,
	}
	if vf := RotationFilter(o.Rotation); vf != "" {
		args = append(args, "-vf", vf)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-b:v", "5000k",
		"-maxrate", "5000k",
		"-bufsize", "10000k",
		"-g", "60",
		"-keyint_min", "60",
		"-sc_threshold", "0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ar", "44100",
		"-ac", "2",
	)
	args = append(args, o.ExtraArgs...)
	return append(args, "-f", "flv", url)
}
