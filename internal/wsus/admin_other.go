//go:build !windows

package wsus

import "context"

// AdminServer is unavailable off Windows; every method reports ErrUnsupportedPlatform.
type AdminServer struct{}

// Connect always fails on non-Windows platforms.
func Connect(_ context.Context, opts Options) (*AdminServer, error) {
	return nil, &ConnectError{Server: opts.String(), Err: ErrUnsupportedPlatform}
}

func (s *AdminServer) Close() error { return nil }

func (s *AdminServer) EnumerateAllUpdates() ([]UpdateRecord, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *AdminServer) EnumerateUpdates(_ UpdateFilter) ([]UpdateRecord, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *AdminServer) Decline(_ string) error { return ErrUnsupportedPlatform }

func (s *AdminServer) Approve(_ string, _ TargetGroup) error { return ErrUnsupportedPlatform }

func (s *AdminServer) Delete(_ string) error { return ErrUnsupportedPlatform }

func (s *AdminServer) StartSynchronization() error { return ErrUnsupportedPlatform }

func (s *AdminServer) SynchronizationPhase() (SyncPhase, error) {
	return SyncNotProcessing, ErrUnsupportedPlatform
}

func (s *AdminServer) LastSynchronization() (SyncResult, error) {
	return SyncResult{}, ErrUnsupportedPlatform
}

func (s *AdminServer) PerformCleanup(_ CleanupScope) (CleanupResult, error) {
	return CleanupResult{}, ErrUnsupportedPlatform
}

func (s *AdminServer) TargetGroups() ([]TargetGroup, error) {
	return nil, ErrUnsupportedPlatform
}
