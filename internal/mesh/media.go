package mesh

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// MediaCapture produces the local tracks sent to every peer.
type MediaCapture interface {
	Capture(ctx context.Context) (*LocalMedia, error)
	// CaptureScreen returns a video track of the screen and a func that
	// stops the capture.
	CaptureScreen(ctx context.Context) (webrtc.TrackLocal, func(), error)
}

// LocalMedia is the captured camera and microphone. Either track may be nil.
type LocalMedia struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal

	stop     func()
	stopOnce sync.Once
}

func NewLocalMedia(audio, video webrtc.TrackLocal, stop func()) *LocalMedia {
	return &LocalMedia{Audio: audio, Video: video, stop: stop}
}

func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	tracks := make([]webrtc.TrackLocal, 0, 2)
	if m.Audio != nil {
		tracks = append(tracks, m.Audio)
	}
	if m.Video != nil {
		tracks = append(tracks, m.Video)
	}
	return tracks
}

func (m *LocalMedia) Stop() {
	m.stopOnce.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// SampleCapture hands out pion sample tracks that the caller feeds, e.g.
// from a file or a synthetic source.
type SampleCapture struct {
	StreamID string

	mu     sync.Mutex
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	screen *webrtc.TrackLocalStaticSample
}

func NewSampleCapture(streamID string) *SampleCapture {
	if streamID == "" {
		streamID = uuid.NewString()
	}
	return &SampleCapture{StreamID: streamID}
}

func (c *SampleCapture) Capture(ctx context.Context) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", c.StreamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", c.StreamID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.audio, c.video = audio, video
	c.mu.Unlock()

	return NewLocalMedia(audio, video, nil), nil
}

func (c *SampleCapture) CaptureScreen(ctx context.Context) (webrtc.TrackLocal, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", c.StreamID)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.screen = screen
	c.mu.Unlock()

	return screen, func() {
		c.mu.Lock()
		if c.screen == screen {
			c.screen = nil
		}
		c.mu.Unlock()
	}, nil
}

// Tracks returns the sample writers of the last capture.
func (c *SampleCapture) Tracks() (audio, video, screen *webrtc.TrackLocalStaticSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio, c.video, c.screen
}
