package maintenance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/breeze-rmm/wsus/internal/wsus"
)

// fakeServer keeps an in-memory update catalog and records every call.
type fakeServer struct {
	updates []wsus.UpdateRecord
	groups  []wsus.TargetGroup
	phases  []wsus.SyncPhase
	last    wsus.SyncResult
	cleanup wsus.CleanupResult

	failOn     map[string]error // "decline:<id>", "delete:<id>", "approve:<id>", or a method name
	calls      []string
	approvedTo map[string]wsus.TargetGroup
	scope      wsus.CleanupScope
	filters    []wsus.UpdateFilter
}

func newFakeServer(updates ...wsus.UpdateRecord) *fakeServer {
	return &fakeServer{
		updates:    updates,
		groups:     []wsus.TargetGroup{{ID: "g-1", Name: "Pilot"}, {ID: wsus.AllComputersGroupID, Name: wsus.AllComputersGroupName}},
		last:       wsus.SyncResult{Result: wsus.SyncResultSucceeded},
		failOn:     map[string]error{},
		approvedTo: map[string]wsus.TargetGroup{},
	}
}

func (s *fakeServer) record(call string) error {
	s.calls = append(s.calls, call)
	name, _, _ := strings.Cut(call, ":")
	if err := s.failOn[call]; err != nil {
		return err
	}
	return s.failOn[name]
}

func (s *fakeServer) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeServer) mutatingCalls() []string {
	var out []string
	for _, c := range s.calls {
		name, _, _ := strings.Cut(c, ":")
		switch name {
		case "decline", "approve", "delete", "startSync", "cleanup":
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeServer) find(id string) *wsus.UpdateRecord {
	for i := range s.updates {
		if s.updates[i].ID == id {
			return &s.updates[i]
		}
	}
	return nil
}

func (s *fakeServer) EnumerateAllUpdates() ([]wsus.UpdateRecord, error) {
	if err := s.record("enumerateAll"); err != nil {
		return nil, err
	}
	return append([]wsus.UpdateRecord(nil), s.updates...), nil
}

func (s *fakeServer) EnumerateUpdates(filter wsus.UpdateFilter) ([]wsus.UpdateRecord, error) {
	s.filters = append(s.filters, filter)
	if err := s.record("enumerate"); err != nil {
		return nil, err
	}
	return filter.Apply(s.updates), nil
}

func (s *fakeServer) Decline(id string) error {
	if err := s.record("decline:" + id); err != nil {
		return err
	}
	u := s.find(id)
	if u == nil {
		return &wsus.UpdateNotFoundError{ID: id}
	}
	u.IsDeclined = true
	u.ApprovalState = wsus.Declined
	return nil
}

func (s *fakeServer) Approve(id string, group wsus.TargetGroup) error {
	if err := s.record("approve:" + id); err != nil {
		return err
	}
	u := s.find(id)
	if u == nil {
		return &wsus.UpdateNotFoundError{ID: id}
	}
	u.ApprovalState = wsus.Approved
	s.approvedTo[id] = group
	return nil
}

func (s *fakeServer) Delete(id string) error {
	if err := s.record("delete:" + id); err != nil {
		return err
	}
	for i := range s.updates {
		if s.updates[i].ID == id {
			s.updates = append(s.updates[:i], s.updates[i+1:]...)
			return nil
		}
	}
	return &wsus.UpdateNotFoundError{ID: id}
}

func (s *fakeServer) StartSynchronization() error {
	return s.record("startSync")
}

func (s *fakeServer) SynchronizationPhase() (wsus.SyncPhase, error) {
	if err := s.record("syncPhase"); err != nil {
		return wsus.SyncNotProcessing, err
	}
	if len(s.phases) == 0 {
		return wsus.SyncNotProcessing, nil
	}
	p := s.phases[0]
	s.phases = s.phases[1:]
	return p, nil
}

func (s *fakeServer) LastSynchronization() (wsus.SyncResult, error) {
	if err := s.record("lastSync"); err != nil {
		return wsus.SyncResult{}, err
	}
	return s.last, nil
}

func (s *fakeServer) PerformCleanup(scope wsus.CleanupScope) (wsus.CleanupResult, error) {
	s.scope = scope
	if err := s.record("cleanup"); err != nil {
		return wsus.CleanupResult{}, err
	}
	return s.cleanup, nil
}

func (s *fakeServer) TargetGroups() ([]wsus.TargetGroup, error) {
	if err := s.record("groups"); err != nil {
		return nil, err
	}
	return s.groups, nil
}

var errBoom = errors.New("boom")

func update(id, title string) wsus.UpdateRecord {
	return wsus.UpdateRecord{ID: id, Title: title, Classification: "Security Updates"}
}

func numbered(n int, title string) []wsus.UpdateRecord {
	out := make([]wsus.UpdateRecord, n)
	for i := range out {
		out[i] = update(fmt.Sprintf("u-%02d", i), fmt.Sprintf("%s %d", title, i))
	}
	return out
}
