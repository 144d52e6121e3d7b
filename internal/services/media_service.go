package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"emeharness/internal/clearkey"
	"emeharness/internal/eme"
	"emeharness/internal/mediasource"
)

// MediaRoutePrefix is the URL prefix under which track URLs are served.
const MediaRoutePrefix = "media/"

// TrackInfo is a selected track plus its availability on disk.
type TrackInfo struct {
	mediasource.Track
	Available bool  `json:"available"`
	Size      int64 `json:"size,omitempty"`
}

// SelectionResponse is what the harness page needs to set up playback.
type SelectionResponse struct {
	KeySystem     string                     `json:"key_system"`
	Encrypted     bool                       `json:"encrypted"`
	Tracks        []TrackInfo                `json:"tracks"`
	Configuration eme.KeySystemConfiguration `json:"configuration"`
}

// MediaService resolves media selections against the media directory.
type MediaService struct {
	dir    string
	logger *slog.Logger
}

// NewMediaService creates a service serving files from dir.
func NewMediaService(dir string, logger *slog.Logger) *MediaService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaService{
		dir:    dir,
		logger: logger.With(slog.String("service", "media")),
	}
}

// Dir returns the media directory.
func (s *MediaService) Dir() string {
	return s.dir
}

// Select validates the audio and video tags and reports the chosen tracks.
func (s *MediaService) Select(ctx context.Context, audio, video string) (*SelectionResponse, error) {
	sel, err := mediasource.ParseSelection(audio, video)
	if err != nil {
		s.logger.DebugContext(ctx, "invalid media selection",
			slog.String("audio", audio),
			slog.String("video", video),
			slog.String("error", err.Error()))
		return nil, err
	}

	resp := &SelectionResponse{
		KeySystem:     clearkey.KeySystem,
		Encrypted:     sel.Encrypted(),
		Configuration: sel.KeySystemConfig(),
	}
	for _, track := range sel.Tracks() {
		info := TrackInfo{Track: track}
		if fi, err := s.stat(track); err == nil {
			info.Available = true
			info.Size = fi.Size()
		}
		resp.Tracks = append(resp.Tracks, info)
	}

	s.logger.InfoContext(ctx, "media selected",
		slog.String("audio", audio),
		slog.String("video", video),
		slog.Int("tracks", len(resp.Tracks)))
	return resp, nil
}

// CheckTracks returns ErrMediaUnavailable when a track of sel is missing.
func (s *MediaService) CheckTracks(sel *mediasource.Selection) error {
	for _, track := range sel.Tracks() {
		if _, err := s.stat(track); err != nil {
			return fmt.Errorf("%w: %s", ErrMediaUnavailable, track.URL)
		}
	}
	return nil
}

// DirAvailable reports whether the media directory exists.
func (s *MediaService) DirAvailable() bool {
	fi, err := os.Stat(s.dir)
	return err == nil && fi.IsDir()
}

func (s *MediaService) stat(track mediasource.Track) (os.FileInfo, error) {
	rel := strings.TrimPrefix(path.Clean("/"+track.URL), "/"+MediaRoutePrefix)
	fi, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}
	return fi, nil
}
