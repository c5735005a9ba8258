package memory

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrUnsupported is returned by samplers that cannot run on this platform.
var ErrUnsupported = errors.New("memory sampling not supported on this platform")

// ProcSampler reads MemTotal and MemAvailable from a meminfo file.
type ProcSampler struct {
	Path string
}

// UsagePercent implements Sampler.
func (s ProcSampler) UsagePercent() (float64, error) {
	path := s.Path
	if path == "" {
		path = "/proc/meminfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	var total, avail uint64
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := parseMeminfoLine(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "MemTotal":
			total, haveTotal = val, true
		case "MemAvailable":
			avail, haveAvail = val, true
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if !haveTotal || !haveAvail || total == 0 {
		return 0, fmt.Errorf("reading %s: MemTotal or MemAvailable missing", path)
	}
	if avail > total {
		avail = total
	}
	return float64(total-avail) / float64(total) * 100, nil
}

// parseMeminfoLine splits "MemTotal:  16318504 kB".
func parseMeminfoLine(line string) (string, uint64, bool) {
	key, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key, v, true
}

// FallbackSampler tries each sampler in turn and returns the first success.
type FallbackSampler []Sampler

// UsagePercent implements Sampler.
func (fs FallbackSampler) UsagePercent() (float64, error) {
	var errs []error
	for _, s := range fs {
		u, err := s.UsagePercent()
		if err == nil {
			return u, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, ErrUnsupported
	}
	return 0, errors.Join(errs...)
}

// DefaultSampler reads /proc/meminfo and falls back to sysinfo(2).
func DefaultSampler() Sampler {
	return FallbackSampler{ProcSampler{}, SysinfoSampler{}}
}
