//go:build !linux

package resources

import "context"

// UPowerReader is only available on Linux
type UPowerReader struct{}

func (UPowerReader) PowerStatus(ctx context.Context) (PowerStatus, error) {
	return PowerStatus{}, ErrPowerSourceUnavailable
}
