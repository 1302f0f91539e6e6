package chromeprofiles

import "go.uber.org/zap"

// Option configures a profile manager
type Option func(*profileManager)

// WithVerbose enables verbose logging
func WithVerbose(verbose bool) Option {
	return func(pm *profileManager) {
		pm.verbose = verbose
	}
}

// WithLogger routes the manager's verbose output through the gateway's
// structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(pm *profileManager) {
		pm.log = log
	}
}

