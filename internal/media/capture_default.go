//go:build !mediadevices

package media

import "go.uber.org/zap"

// DefaultCapturer returns the synthetic capturer. Build with the mediadevices tag to
// capture from a real camera and microphone.
func DefaultCapturer(logger *zap.Logger) Capturer {
	logger.Info("using synthetic media capture")
	return NewSyntheticCapturer()
}
