package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	defaultVideoFrameDuration = 33 * time.Millisecond
	opusFrameDuration         = 20 * time.Millisecond
	opusClockRate             = 48000
)

// Source yields encoded media samples. NextSample returns io.EOF once the
// underlying media is exhausted; Rewind restarts it from the beginning.
type Source interface {
	Codec() webrtc.RTPCodecCapability
	NextSample() (media.Sample, error)
	Rewind() error
	Close() error
}

var fourCCMimeTypes = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
	"AV01": webrtc.MimeTypeAV1,
}

type ivfSource struct {
	path  string
	f     *os.File
	r     *ivfreader.IVFReader
	codec webrtc.RTPCodecCapability
	frame time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	s := &ivfSource{path: path}
	hdr, err := s.open()
	if err != nil {
		return nil, err
	}
	mime, ok := fourCCMimeTypes[hdr.FourCC]
	if !ok {
		_ = s.Close()
		return nil, fmt.Errorf("%s: unsupported fourcc %q", path, hdr.FourCC)
	}
	s.codec = webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}
	s.frame = defaultVideoFrameDuration
	if hdr.TimebaseDenominator > 0 && hdr.TimebaseNumerator > 0 {
		s.frame = time.Duration(uint64(time.Second) * uint64(hdr.TimebaseNumerator) / uint64(hdr.TimebaseDenominator))
	}
	return s, nil
}

func (s *ivfSource) open() (*ivfreader.IVFFileHeader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	r, hdr, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.f = f
	s.r = r
	return hdr, nil
}

func (s *ivfSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *ivfSource) NextSample() (media.Sample, error) {
	frame, _, err := s.r.ParseNextFrame()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return media.Sample{}, io.EOF
		}
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.frame}, nil
}

func (s *ivfSource) Rewind() error {
	_ = s.Close()
	_, err := s.open()
	return err
}

func (s *ivfSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type oggSource struct {
	path        string
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggSource, error) {
	s := &oggSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.f = f
	s.r = r
	s.lastGranule = 0
	return nil
}

func (s *oggSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
}

func (s *oggSource) NextSample() (media.Sample, error) {
	page, hdr, err := s.r.ParseNextPage()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return media.Sample{}, io.EOF
		}
		return media.Sample{}, err
	}

	dur := opusFrameDuration
	if hdr.GranulePosition >= s.lastGranule {
		samples := hdr.GranulePosition - s.lastGranule
		dur = time.Duration(samples * uint64(time.Second) / opusClockRate)
	}
	s.lastGranule = hdr.GranulePosition
	return media.Sample{Data: page, Duration: dur}, nil
}

func (s *oggSource) Rewind() error {
	_ = s.Close()
	return s.open()
}

func (s *oggSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// opusSilence is a single 20ms Opus frame (TOC 0xF8) decoding to silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

type silenceSource struct{}

func (silenceSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
}

func (silenceSource) NextSample() (media.Sample, error) {
	data := make([]byte, len(opusSilence))
	copy(data, opusSilence)
	return media.Sample{Data: data, Duration: opusFrameDuration}, nil
}

func (silenceSource) Rewind() error { return nil }
func (silenceSource) Close() error  { return nil }
