//go:build !linux

package memory

// SysinfoSampler is unavailable outside Linux.
type SysinfoSampler struct{}

// UsagePercent implements Sampler.
func (SysinfoSampler) UsagePercent() (float64, error) {
	return 0, ErrUnsupported
}
