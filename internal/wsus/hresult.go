package wsus

import "fmt"

// hresultInfo holds a human-readable name and description for an HRESULT code.
type hresultInfo struct {
	Name    string
	Message string
}

// knownHResults maps HRESULT codes seen when driving the WSUS administration API over COM.
var knownHResults = map[int]hresultInfo{
	0x80040154: {"REGDB_E_CLASSNOTREG", "WSUS administration API is not registered; install the WSUS console or API components"},
	0x800401F3: {"CO_E_CLASSSTRING", "invalid class string; WSUS administration API is not installed"},
	0x80020006: {"DISP_E_UNKNOWNNAME", "member not found on the administration object"},
	0x80020009: {"DISP_E_EXCEPTION", "the administration API raised an exception"},
	0x8002000E: {"DISP_E_BADPARAMCOUNT", "invalid number of parameters"},
	0x80131509: {"COR_E_INVALIDOPERATION", "operation is not valid in the current server state"},
	0x80131500: {"COR_E_EXCEPTION", "the administration API raised an exception"},

	0x80070005: {"E_ACCESSDENIED", "access denied; run as a member of WSUS Administrators"},
	0x8007000E: {"E_OUTOFMEMORY", "not enough memory to complete the operation"},
	0x80070057: {"E_INVALIDARG", "one or more arguments are not valid"},
	0x800706BA: {"RPC_S_SERVER_UNAVAILABLE", "the RPC server is unavailable"},
	0x80072EE2: {"WININET_E_TIMEOUT", "the operation timed out"},
	0x80072EFD: {"WININET_E_CANNOT_CONNECT", "could not connect to the WSUS server"},
	0x80072EFE: {"WININET_E_CONNECTION_ABORTED", "the connection with the server was terminated"},
	0x80072F8F: {"WININET_E_DECODING_FAILED", "a security error occurred (certificate problem)"},
	0x80244019: {"WU_E_PT_HTTP_STATUS_NOT_FOUND", "the server returned HTTP 404; check the port and SSL settings"},
}

// FormatHResult returns a human-readable description of an HRESULT code.
// For known codes: "0x80040154: REGDB_E_CLASSNOTREG: WSUS administration API is not registered..."
// For unknown codes: "0x80004005: unknown HRESULT"
func FormatHResult(hr int) string {
	if info, ok := knownHResults[hr]; ok {
		return fmt.Sprintf("0x%08X: %s: %s", uint32(hr), info.Name, info.Message)
	}
	return fmt.Sprintf("0x%08X: unknown HRESULT", uint32(hr))
}

// IsAccessDenied returns true if the HRESULT indicates an access denied error.
func IsAccessDenied(hr int) bool {
	return hr == 0x80070005
}

// IsNotRegistered returns true if the administration API is not installed.
func IsNotRegistered(hr int) bool {
	return hr == 0x80040154 || hr == 0x800401F3
}

// IsNetworkError returns true if the HRESULT indicates a network connectivity issue.
func IsNetworkError(hr int) bool {
	switch hr {
	case 0x800706BA, 0x80072EE2, 0x80072EFD, 0x80072EFE, 0x80072F8F, 0x80244019:
		return true
	}
	return false
}

// hresultCause maps an HRESULT to one of the sentinel causes, or nil.
func hresultCause(hr int) error {
	switch {
	case IsAccessDenied(hr):
		return ErrAccessDenied
	case IsNotRegistered(hr):
		return ErrAPINotInstalled
	case IsNetworkError(hr):
		return ErrServerUnreachable
	}
	return nil
}
