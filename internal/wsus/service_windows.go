//go:build windows

package wsus

import (
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const wsusServiceName = "WsusService"

// ServiceCheck is the outcome of the local WSUS service probe.
type ServiceCheck struct {
	Name    string
	Passed  bool
	Message string
}

// checkLocalService ensures the WSUS service is running on this machine.
// A stopped service is reported, never started.
func checkLocalService() ServiceCheck {
	check := ServiceCheck{Name: "wsus_service"}

	m, err := mgr.Connect()
	if err != nil {
		check.Message = fmt.Sprintf("failed to connect to service manager: %v", err)
		return check
	}
	defer m.Disconnect()

	s, err := m.OpenService(wsusServiceName)
	if err != nil {
		check.Message = fmt.Sprintf("failed to open %s service (is the WSUS role installed?): %v", wsusServiceName, err)
		return check
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		check.Message = fmt.Sprintf("failed to query %s status: %v", wsusServiceName, err)
		return check
	}

	if status.State != svc.Running {
		check.Message = fmt.Sprintf("%s is %s", wsusServiceName, svcStateName(status.State))
		return check
	}

	check.Passed = true
	check.Message = wsusServiceName + " is running"
	return check
}

func svcStateName(state svc.State) string {
	switch state {
	case svc.Stopped:
		return "Stopped"
	case svc.StartPending:
		return "StartPending"
	case svc.StopPending:
		return "StopPending"
	case svc.Running:
		return "Running"
	case svc.ContinuePending:
		return "ContinuePending"
	case svc.PausePending:
		return "PausePending"
	case svc.Paused:
		return "Paused"
	default:
		return fmt.Sprintf("Unknown(%d)", state)
	}
}

// isElevated reports whether the process token is elevated. Membership in
// WSUS Administrators also grants access, so this is advisory only.
func isElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
