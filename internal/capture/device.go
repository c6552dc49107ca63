package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoDevice = errors.New("no video capture device could be opened")

// Device is one enumerated video capture device.
type Device struct {
	Name string
	Path string
}

// Provider enumerates and opens video capture devices.
type Provider interface {
	Devices() ([]Device, error)
	Open(d Device) (Source, error)
}

// DirProvider treats every IVF file in Dir as a capture device.
type DirProvider struct {
	Dir string
}

func (p DirProvider) Devices() ([]Device, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", p.Dir, err)
	}
	var devs []Device
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".ivf") {
			continue
		}
		devs = append(devs, Device{
			Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path: filepath.Join(p.Dir, e.Name()),
		})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path < devs[j].Path })
	return devs, nil
}

func (p DirProvider) Open(d Device) (Source, error) {
	return openIVF(d.Path)
}

// OpenFirst opens the first device that opens successfully, in enumeration
// order. It returns ErrNoDevice when none does.
func OpenFirst(p Provider, logger *slog.Logger) (Source, Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	devs, err := p.Devices()
	if err != nil {
		return nil, Device{}, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	for _, d := range devs {
		src, err := p.Open(d)
		if err != nil {
			logger.Debug("capture device failed to open", "device", d.Name, "err", err)
			continue
		}
		return src, d, nil
	}
	return nil, Device{}, ErrNoDevice
}
