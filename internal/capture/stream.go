package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/metrics"
)

const (
	AudioTrackID = "audio_label"
	VideoTrackID = "video_label"
	StreamID     = "stream_label"
)

type StreamConfig struct {
	Provider  Provider
	AudioFile string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func StreamConfigFromConfig(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) StreamConfig {
	return StreamConfig{
		Provider:  DirProvider{Dir: cfg.CaptureDir},
		AudioFile: cfg.AudioFile,
		Logger:    logger,
		Metrics:   m,
	}
}

// LocalStream is the audio+video track pair shared by every session. Capture
// starts on the first Attach; if no video device opens, Attach adds nothing
// and the next Attach tries again.
type LocalStream struct {
	cfg     StreamConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	video  *webrtc.TrackLocalStaticSample
	audio  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLocalStream(cfg StreamConfig) *LocalStream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStream{
		cfg:     cfg,
		log:     logger.With("component", "capture"),
		metrics: cfg.Metrics,
	}
}

// Attach adds the shared tracks to pc, starting capture if needed. RTCP from
// the resulting senders is drained until the connection closes.
func (s *LocalStream) Attach(pc *webrtc.PeerConnection) error {
	tracks, err := s.tracks()
	if err != nil {
		return err
	}
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

func (s *LocalStream) tracks() ([]*webrtc.TrackLocalStaticSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("local stream closed")
	}
	if s.video == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}
	return []*webrtc.TrackLocalStaticSample{s.video, s.audio}, nil
}

func (s *LocalStream) startLocked() error {
	if s.cfg.Provider == nil {
		s.metrics.Inc(metrics.CaptureNoDevice)
		return ErrNoDevice
	}
	videoSrc, dev, err := OpenFirst(s.cfg.Provider, s.log)
	if err != nil {
		s.metrics.Inc(metrics.CaptureNoDevice)
		return err
	}

	video, err := webrtc.NewTrackLocalStaticSample(videoSrc.Codec(), VideoTrackID, StreamID)
	if err != nil {
		_ = videoSrc.Close()
		return fmt.Errorf("create video track: %w", err)
	}

	audioSrc := s.openAudio()
	audio, err := webrtc.NewTrackLocalStaticSample(audioSrc.Codec(), AudioTrackID, StreamID)
	if err != nil {
		_ = videoSrc.Close()
		_ = audioSrc.Close()
		return fmt.Errorf("create audio track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.video = video
	s.audio = audio
	s.cancel = cancel

	s.wg.Add(2)
	go s.pump(ctx, video, videoSrc)
	go s.pump(ctx, audio, audioSrc)

	s.metrics.Inc(metrics.CaptureOpened)
	s.log.Info("capture opened", "device", dev.Name, "video_codec", videoSrc.Codec().MimeType, "audio_codec", audioSrc.Codec().MimeType)
	return nil
}

func (s *LocalStream) openAudio() Source {
	if s.cfg.AudioFile == "" {
		return silenceSource{}
	}
	src, err := openOgg(s.cfg.AudioFile)
	if err != nil {
		s.log.Warn("audio file unusable, sending silence", "path", s.cfg.AudioFile, "err", err)
		return silenceSource{}
	}
	return src
}

func (s *LocalStream) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, src Source) {
	defer s.wg.Done()
	defer src.Close()

	log := s.log.With("track", track.ID())
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	rewound := false
	for {
		sample, err := src.NextSample()
		if errors.Is(err, io.EOF) {
			if rewound {
				log.Warn("capture source has no samples")
				return
			}
			rewound = true
			if err := src.Rewind(); err != nil {
				s.metrics.Inc(metrics.CaptureSampleErr)
				log.Warn("capture rewind failed", "err", err)
				return
			}
			continue
		}
		if err != nil {
			s.metrics.Inc(metrics.CaptureSampleErr)
			log.Warn("capture read failed", "err", err)
			return
		}
		rewound = false

		if err := track.WriteSample(sample); err != nil {
			s.metrics.Inc(metrics.CaptureSampleErr)
			log.Debug("write sample failed", "err", err)
		}

		if sample.Duration <= 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		timer.Reset(sample.Duration)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Started reports whether capture is running.
func (s *LocalStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil
}

// Close stops the sample pumps. Attach fails afterwards.
func (s *LocalStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}
