//go:build windows

package wsus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/breeze-rmm/wsus/internal/logging"
)

var log = logging.L("wsus")

const (
	adminProxyProgID   = "Microsoft.UpdateServices.Administration.AdminProxy"
	cleanupScopeProgID = "Microsoft.UpdateServices.Administration.CleanupScope"

	approvalActionInstall = 0

	dispUnknownName   = 0x80020006
	dispTypeMismatch  = 0x80020005
	dispBadParamCount = 0x8002000E
)

// AdminServer is a connection to a WSUS server through the COM-visible
// administration API. All methods must be called from the goroutine that
// called Connect; the connection pins that goroutine to its OS thread.
type AdminServer struct {
	opts   Options
	server *ole.IDispatch

	updates map[string]*ole.IDispatch
	groups  []groupHandle
}

type groupHandle struct {
	group TargetGroup
	disp  *ole.IDispatch
}

// Connect opens a connection to the WSUS server described by opts.
func Connect(ctx context.Context, opts Options) (*AdminServer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if IsLocalHost(opts.Host, hostname) {
		if check := checkLocalService(); !check.Passed {
			return nil, &ConnectError{Server: opts.String(), Err: errors.New(check.Message)}
		}
	}
	if !isElevated() {
		log.Warn("process is not elevated, administration calls may be denied", logging.KeyServer, opts.String())
	}

	runtime.LockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE means COM was already initialized on this thread.
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
			runtime.UnlockOSThread()
			return nil, &ConnectError{Server: opts.String(), Err: fmt.Errorf("initialize COM: %w", err)}
		}
	}

	server, err := openServer(opts)
	if err != nil {
		ole.CoUninitialize()
		runtime.UnlockOSThread()
		return nil, &ConnectError{Server: opts.String(), Err: describeError(err)}
	}

	log.Info("connected to WSUS server", logging.KeyServer, opts.String())
	return &AdminServer{
		opts:    opts,
		server:  server,
		updates: make(map[string]*ole.IDispatch),
	}, nil
}

func openServer(opts Options) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(adminProxyProgID)
	if err != nil {
		return nil, fmt.Errorf("create admin proxy: %w", err)
	}
	defer unknown.Release()

	proxy, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("query admin proxy: %w", err)
	}
	defer proxy.Release()

	serverVar, err := callOverload(proxy, "GetUpdateServerInstance", opts.Host, opts.UseSSL, int32(opts.Port))
	if err != nil {
		return nil, fmt.Errorf("get update server: %w", err)
	}
	defer serverVar.Clear()

	server := serverVar.ToIDispatch()
	if server == nil {
		return nil, fmt.Errorf("get update server: nil server")
	}
	server.AddRef()
	return server, nil
}

// Close releases every COM object held by the connection.
func (s *AdminServer) Close() error {
	if s == nil || s.server == nil {
		return nil
	}
	s.releaseUpdates()
	s.releaseGroups()
	s.server.Release()
	s.server = nil

	ole.CoUninitialize()
	runtime.UnlockOSThread()
	return nil
}

// EnumerateAllUpdates returns every update known to the server.
func (s *AdminServer) EnumerateAllUpdates() ([]UpdateRecord, error) {
	return s.enumerate(UpdateFilter{})
}

// EnumerateUpdates returns the updates matching filter.
func (s *AdminServer) EnumerateUpdates(filter UpdateFilter) ([]UpdateRecord, error) {
	return s.enumerate(filter)
}

func (s *AdminServer) enumerate(filter UpdateFilter) ([]UpdateRecord, error) {
	s.releaseUpdates()

	collVar, err := callOverload(s.server, "GetUpdates")
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", describeError(err))
	}
	defer collVar.Clear()

	coll := collVar.ToIDispatch()
	if coll == nil {
		return nil, fmt.Errorf("get updates: nil collection")
	}

	count, err := getInt(coll, "Count")
	if err != nil {
		return nil, fmt.Errorf("updates count: %w", err)
	}

	records := make([]UpdateRecord, 0, count)
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.CallMethod(coll, "Item", int32(i))
		if err != nil {
			log.Debug("skipping unreadable update", "index", i, "error", err)
			continue
		}
		update := itemVar.ToIDispatch()
		if update == nil {
			itemVar.Clear()
			continue
		}
		update.AddRef()
		itemVar.Clear()

		record, err := readUpdate(update)
		if err != nil {
			log.Debug("skipping unreadable update", "index", i, "error", err)
			update.Release()
			continue
		}
		if !filter.Matches(record) {
			update.Release()
			continue
		}

		if prev, ok := s.updates[record.ID]; ok {
			prev.Release()
		}
		s.updates[record.ID] = update
		records = append(records, record)
	}

	return records, nil
}

func readUpdate(update *ole.IDispatch) (UpdateRecord, error) {
	id, err := updateID(update)
	if err != nil {
		return UpdateRecord{}, err
	}

	title, _ := getString(update, "Title")
	classification, _ := getString(update, "UpdateClassificationTitle")
	isBeta, _ := getBool(update, "IsBeta")
	isSuperseded, _ := getBool(update, "IsSuperseded")
	isDeclined, _ := getBool(update, "IsDeclined")
	isApproved, _ := getBool(update, "IsApproved")
	arrival, _ := getTime(update, "ArrivalDate")

	state := NotApproved
	switch {
	case isDeclined:
		state = Declined
	case isApproved:
		state = Approved
	}

	return UpdateRecord{
		ID:             id,
		Title:          title,
		Classification: classification,
		KBArticle:      firstKBArticle(update),
		IsBeta:         isBeta,
		IsSuperseded:   isSuperseded,
		IsDeclined:     isDeclined,
		ApprovalState:  state,
		ArrivalDate:    arrival,
	}, nil
}

// updateID renders the update's revision identity as an opaque string.
func updateID(update *ole.IDispatch) (string, error) {
	revVar, err := oleutil.GetProperty(update, "Id")
	if err != nil {
		return "", fmt.Errorf("update identity: %w", err)
	}
	defer revVar.Clear()

	rev := revVar.ToIDispatch()
	if rev == nil {
		return "", fmt.Errorf("update identity missing")
	}

	if guid, err := getString(rev, "UpdateId"); err == nil && guid != "" {
		return strings.ToLower(strings.Trim(guid, "{}")), nil
	}

	strVar, err := oleutil.CallMethod(rev, "ToString")
	if err != nil {
		return "", fmt.Errorf("update identity string: %w", err)
	}
	defer strVar.Clear()
	return strVar.ToString(), nil
}

func firstKBArticle(update *ole.IDispatch) string {
	kbVar, err := oleutil.GetProperty(update, "KnowledgebaseArticles")
	if err != nil {
		return ""
	}
	defer kbVar.Clear()

	kbs := kbVar.ToIDispatch()
	if kbs == nil {
		return ""
	}
	if n, err := getInt(kbs, "Count"); err != nil || n == 0 {
		return ""
	}

	itemVar, err := oleutil.CallMethod(kbs, "Item", int32(0))
	if err != nil {
		return ""
	}
	defer itemVar.Clear()

	kb := itemVar.ToString()
	if kb != "" && !strings.HasPrefix(kb, "KB") {
		kb = "KB" + kb
	}
	return kb
}

// Decline declines the update.
func (s *AdminServer) Decline(id string) error {
	update, err := s.lookup(id)
	if err != nil {
		return err
	}
	if _, err := oleutil.CallMethod(update, "Decline"); err != nil {
		return fmt.Errorf("decline %s: %w", id, describeError(err))
	}
	return nil
}

// Approve approves the update for installation on group.
func (s *AdminServer) Approve(id string, group TargetGroup) error {
	update, err := s.lookup(id)
	if err != nil {
		return err
	}

	groupDisp, err := s.groupDispatch(group)
	if err != nil {
		return err
	}

	approvalVar, err := callOverload(update, "Approve", int32(approvalActionInstall), groupDisp)
	if err != nil {
		return fmt.Errorf("approve %s for %s: %w", id, group.Name, describeError(err))
	}
	approvalVar.Clear()
	return nil
}

// Delete removes the update from the server database.
func (s *AdminServer) Delete(id string) error {
	update, err := s.lookup(id)
	if err != nil {
		return err
	}

	revVar, err := oleutil.GetProperty(update, "Id")
	if err != nil {
		return fmt.Errorf("delete %s: read identity: %w", id, err)
	}
	defer revVar.Clear()

	rev := revVar.ToIDispatch()
	if rev == nil {
		return fmt.Errorf("delete %s: identity missing", id)
	}

	guidVar, err := oleutil.GetProperty(rev, "UpdateId")
	if err != nil {
		return fmt.Errorf("delete %s: read update id: %w", id, err)
	}
	defer guidVar.Clear()

	if _, err := oleutil.CallMethod(s.server, "DeleteUpdate", guidVar); err != nil {
		return fmt.Errorf("delete %s: %w", id, describeError(err))
	}

	s.updates[id].Release()
	delete(s.updates, id)
	return nil
}

// StartSynchronization asks the server to synchronize with its upstream source.
func (s *AdminServer) StartSynchronization() error {
	return s.withSubscription(func(sub *ole.IDispatch) error {
		if _, err := oleutil.CallMethod(sub, "StartSynchronization"); err != nil {
			return fmt.Errorf("start synchronization: %w", describeError(err))
		}
		return nil
	})
}

// SynchronizationPhase returns the server's current synchronization status.
func (s *AdminServer) SynchronizationPhase() (SyncPhase, error) {
	var phase SyncPhase
	err := s.withSubscription(func(sub *ole.IDispatch) error {
		statusVar, err := oleutil.CallMethod(sub, "GetSynchronizationStatus")
		if err != nil {
			return fmt.Errorf("synchronization status: %w", describeError(err))
		}
		defer statusVar.Clear()
		phase = SyncPhase(statusVar.Val)
		return nil
	})
	return phase, err
}

// LastSynchronization returns the outcome of the most recent synchronization.
func (s *AdminServer) LastSynchronization() (SyncResult, error) {
	var result SyncResult
	err := s.withSubscription(func(sub *ole.IDispatch) error {
		infoVar, err := oleutil.CallMethod(sub, "GetLastSynchronizationInfo")
		if err != nil {
			return fmt.Errorf("last synchronization: %w", describeError(err))
		}
		defer infoVar.Clear()

		info := infoVar.ToIDispatch()
		if info == nil {
			return fmt.Errorf("last synchronization: nil info")
		}

		code, _ := getInt(info, "Result")
		result.Result = syncResultName(code)
		result.StartTime, _ = getTime(info, "StartTime")
		result.EndTime, _ = getTime(info, "EndTime")
		result.Error, _ = getString(info, "ErrorText")
		return nil
	})
	return result, err
}

func syncResultName(code int) string {
	switch code {
	case 0:
		return SyncResultUnknown
	case 1:
		return SyncResultSucceeded
	case 2:
		return SyncResultFailed
	case 3:
		return SyncResultCanceled
	case 4:
		return SyncResultNeverRun
	default:
		return fmt.Sprintf("Result(%d)", code)
	}
}

func (s *AdminServer) withSubscription(action func(sub *ole.IDispatch) error) error {
	subVar, err := oleutil.CallMethod(s.server, "GetSubscription")
	if err != nil {
		return fmt.Errorf("get subscription: %w", describeError(err))
	}
	defer subVar.Clear()

	sub := subVar.ToIDispatch()
	if sub == nil {
		return fmt.Errorf("get subscription: nil subscription")
	}
	return action(sub)
}

// PerformCleanup runs the server cleanup wizard with the given scope.
func (s *AdminServer) PerformCleanup(scope CleanupScope) (CleanupResult, error) {
	mgrVar, err := oleutil.CallMethod(s.server, "GetCleanupManager")
	if err != nil {
		return CleanupResult{}, fmt.Errorf("get cleanup manager: %w", describeError(err))
	}
	defer mgrVar.Clear()

	manager := mgrVar.ToIDispatch()
	if manager == nil {
		return CleanupResult{}, fmt.Errorf("get cleanup manager: nil manager")
	}

	unknown, err := oleutil.CreateObject(cleanupScopeProgID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("create cleanup scope: %w", describeError(err))
	}
	defer unknown.Release()

	scopeDisp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("query cleanup scope: %w", err)
	}
	defer scopeDisp.Release()

	props := []struct {
		name  string
		value bool
	}{
		{"CleanupLocalPublishedContentFiles", scope.RemoveLocalContentFiles},
		{"CleanupObsoleteComputers", scope.RemoveObsoleteClientRecords},
		{"CleanupObsoleteUpdates", scope.RemoveObsoleteUpdates},
		{"CleanupUnneededContentFiles", scope.RemoveUnneededContentFiles},
		{"CompressUpdates", scope.CompressRevisions},
		{"DeclineExpiredUpdates", scope.DeclineExpired},
		{"DeclineSupersededUpdates", scope.DeclineSuperseded},
	}
	for _, p := range props {
		if _, err := oleutil.PutProperty(scopeDisp, p.name, p.value); err != nil {
			return CleanupResult{}, fmt.Errorf("set cleanup scope %s: %w", p.name, err)
		}
	}

	start := time.Now()
	resultVar, err := oleutil.CallMethod(manager, "PerformCleanup", scopeDisp)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("perform cleanup: %w", describeError(err))
	}
	defer resultVar.Clear()

	res := resultVar.ToIDispatch()
	if res == nil {
		return CleanupResult{}, fmt.Errorf("perform cleanup: nil result")
	}

	var result CleanupResult
	freed, _ := getInt64(res, "DiskSpaceFreed")
	result.DiskSpaceFreed = freed
	result.ExpiredUpdatesDeclined, _ = getInt(res, "ExpiredUpdatesDeclined")
	result.ObsoleteComputersDeleted, _ = getInt(res, "ObsoleteComputersDeleted")
	result.ObsoleteUpdatesDeleted, _ = getInt(res, "ObsoleteUpdatesDeleted")
	result.SupersededUpdatesDeclined, _ = getInt(res, "SupersededUpdatesDeclined")
	result.UpdatesCompressed, _ = getInt(res, "UpdatesCompressed")

	log.Debug("cleanup finished", logging.KeyDurationMs, time.Since(start).Milliseconds())
	return result, nil
}

// TargetGroups returns the computer target groups defined on the server.
func (s *AdminServer) TargetGroups() ([]TargetGroup, error) {
	s.releaseGroups()

	collVar, err := oleutil.CallMethod(s.server, "GetComputerTargetGroups")
	if err != nil {
		return nil, fmt.Errorf("get target groups: %w", describeError(err))
	}
	defer collVar.Clear()

	coll := collVar.ToIDispatch()
	if coll == nil {
		return nil, fmt.Errorf("get target groups: nil collection")
	}

	count, err := getInt(coll, "Count")
	if err != nil {
		return nil, fmt.Errorf("target group count: %w", err)
	}

	groups := make([]TargetGroup, 0, count)
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.CallMethod(coll, "Item", int32(i))
		if err != nil {
			continue
		}
		disp := itemVar.ToIDispatch()
		if disp == nil {
			itemVar.Clear()
			continue
		}
		disp.AddRef()
		itemVar.Clear()

		name, _ := getString(disp, "Name")
		id, _ := getString(disp, "Id")
		group := TargetGroup{ID: strings.ToLower(strings.Trim(id, "{}")), Name: name}

		s.groups = append(s.groups, groupHandle{group: group, disp: disp})
		groups = append(groups, group)
	}

	return groups, nil
}

func (s *AdminServer) groupDispatch(group TargetGroup) (*ole.IDispatch, error) {
	if len(s.groups) == 0 {
		if _, err := s.TargetGroups(); err != nil {
			return nil, err
		}
	}
	for _, h := range s.groups {
		if h.group == group {
			return h.disp, nil
		}
	}
	return nil, fmt.Errorf("target group %q not found", group.Name)
}

func (s *AdminServer) lookup(id string) (*ole.IDispatch, error) {
	update, ok := s.updates[id]
	if !ok {
		return nil, &UpdateNotFoundError{ID: id}
	}
	return update, nil
}

func (s *AdminServer) releaseUpdates() {
	for id, update := range s.updates {
		update.Release()
		delete(s.updates, id)
	}
}

func (s *AdminServer) releaseGroups() {
	for _, h := range s.groups {
		h.disp.Release()
	}
	s.groups = nil
}

// callOverload invokes a .NET method exposed over IDispatch. Overloads are
// published as name, name_2, name_3, ...; the first one accepting args wins.
func callOverload(disp *ole.IDispatch, name string, args ...interface{}) (*ole.VARIANT, error) {
	candidates := []string{name, name + "_2", name + "_3", name + "_4"}

	var lastErr error
	for _, candidate := range candidates {
		result, err := oleutil.CallMethod(disp, candidate, args...)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) {
			return nil, err
		}
		switch oleErr.Code() {
		case dispUnknownName:
			// No further overloads exist.
			return nil, lastErr
		case dispBadParamCount, dispTypeMismatch:
			continue
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// describeError annotates COM errors with a readable HRESULT description.
func describeError(err error) error {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return err
	}
	hr := int(uint32(oleErr.Code()))
	if cause := hresultCause(hr); cause != nil {
		return fmt.Errorf("%w: %w (%s)", cause, err, FormatHResult(hr))
	}
	return fmt.Errorf("%w (%s)", err, FormatHResult(hr))
}

func getString(dispatch *ole.IDispatch, name string) (string, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return "", err
	}
	defer value.Clear()
	return value.ToString(), nil
}

func getInt(dispatch *ole.IDispatch, name string) (int, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return 0, err
	}
	defer value.Clear()
	return int(value.Val), nil
}

func getInt64(dispatch *ole.IDispatch, name string) (int64, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return 0, err
	}
	defer value.Clear()
	return value.Val, nil
}

func getBool(dispatch *ole.IDispatch, name string) (bool, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return false, err
	}
	defer value.Clear()
	return value.Val != 0, nil
}

func getTime(dispatch *ole.IDispatch, name string) (time.Time, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return time.Time{}, err
	}
	defer value.Clear()
	if t, ok := value.Value().(time.Time); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s is not a date", name)
}
