package mediasource

import (
	"errors"
	"fmt"

	"emeharness/internal/eme"
)

// Content selects how a track is protected.
type Content string

const (
	FullEncryption      Content = "fullEncryption"
	SubsampleEncryption Content = "subsampleEncryption"
	Clear               Content = "clear"
	None                Content = "none"
)

// TrackKind is audio or video.
type TrackKind string

const (
	Audio TrackKind = "audio"
	Video TrackKind = "video"
)

// Mime types of the demo media.
const (
	MimeVP8    = `video/webm;codecs="vp8"`
	MimeVP9    = `video/webm;codecs="vp9"`
	MimeOpus   = `audio/webm;codecs="opus"`
	MimeVorbis = `audio/webm;codecs="vorbis"`
)

const (
	clearBunnyAudio      = "media/big-buck-bunny_trailer_audio.webm"
	clearSintelAudio     = "media/sintel-trailer_audio.webm"
	encryptedBunnyAudio  = "media/big-buck-bunny_trailer_audio-clearkey-encrypted.webm"
	subsampleSintelAudio = "media/sintel-trailer_audio-clearkey-subsample-encrypted.webm"
	encryptedBunnyVideo  = "media/big-buck-bunny_trailer_video-clearkey-encrypted.webm"
	subsampleSintelVideo = "media/sintel-trailer_video-clearkey-subsample-encrypted.webm"
)

var (
	ErrUnknownContent         = errors.New("unrecognized content")
	ErrClearVideo             = errors.New("clear video is not available")
	ErrClearAudioWithoutVideo = errors.New("clear audio requires encrypted video")
	ErrNothingSelected        = errors.New("no audio or video selected")
)

// ParseContent maps a tag to Content. The empty string, "none" and "null"
// select nothing.
func ParseContent(s string) (Content, error) {
	switch c := Content(s); c {
	case FullEncryption, SubsampleEncryption, Clear, None:
		return c, nil
	case "", "null":
		return None, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownContent, s)
	}
}

// Track is one media file to be loaded into its own source buffer.
type Track struct {
	Kind     TrackKind `json:"kind"`
	Content  Content   `json:"content"`
	URL      string    `json:"url"`
	MimeType string    `json:"mime_type"`
}

// Selection is the validated audio and video choice.
type Selection struct {
	Audio *Track `json:"audio,omitempty"`
	Video *Track `json:"video,omitempty"`
}

// SelectMedia resolves the content tags to tracks.
func SelectMedia(audio, video Content) (*Selection, error) {
	sel := &Selection{}

	switch video {
	case FullEncryption:
		sel.Video = &Track{Kind: Video, Content: video, URL: encryptedBunnyVideo, MimeType: MimeVP8}
	case SubsampleEncryption:
		sel.Video = &Track{Kind: Video, Content: video, URL: subsampleSintelVideo, MimeType: MimeVP9}
	case Clear:
		return nil, ErrClearVideo
	case None:
	default:
		return nil, fmt.Errorf("%w: video %q", ErrUnknownContent, video)
	}

	switch audio {
	case FullEncryption:
		sel.Audio = &Track{Kind: Audio, Content: audio, URL: encryptedBunnyAudio, MimeType: MimeVorbis}
	case SubsampleEncryption:
		sel.Audio = &Track{Kind: Audio, Content: audio, URL: subsampleSintelAudio, MimeType: MimeOpus}
	case Clear:
		switch video {
		case FullEncryption:
			sel.Audio = &Track{Kind: Audio, Content: audio, URL: clearBunnyAudio, MimeType: MimeVorbis}
		case SubsampleEncryption:
			sel.Audio = &Track{Kind: Audio, Content: audio, URL: clearSintelAudio, MimeType: MimeOpus}
		default:
			return nil, ErrClearAudioWithoutVideo
		}
	case None:
	default:
		return nil, fmt.Errorf("%w: audio %q", ErrUnknownContent, audio)
	}

	if sel.Audio == nil && sel.Video == nil {
		return nil, ErrNothingSelected
	}
	return sel, nil
}

// ParseSelection parses both tags and resolves them.
func ParseSelection(audio, video string) (*Selection, error) {
	a, err := ParseContent(audio)
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	v, err := ParseContent(video)
	if err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}
	return SelectMedia(a, v)
}

// Tracks returns the selected tracks, video first.
func (s *Selection) Tracks() []Track {
	var out []Track
	if s.Video != nil {
		out = append(out, *s.Video)
	}
	if s.Audio != nil {
		out = append(out, *s.Audio)
	}
	return out
}

// KeySystemConfig returns the configuration to negotiate key system access
// with.
func (s *Selection) KeySystemConfig() eme.KeySystemConfiguration {
	cfg := eme.KeySystemConfiguration{InitDataTypes: []string{eme.InitDataWebM}}
	if s.Video != nil {
		cfg.VideoCapabilities = []eme.MediaCapability{{ContentType: s.Video.MimeType}}
	}
	if s.Audio != nil {
		cfg.AudioCapabilities = []eme.MediaCapability{{ContentType: s.Audio.MimeType}}
	}
	return cfg
}

// Encrypted reports whether any selected track needs a license.
func (s *Selection) Encrypted() bool {
	for _, t := range s.Tracks() {
		if t.Content != Clear {
			return true
		}
	}
	return false
}
