package ipc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/httputil"
	"github.com/multiacct/sessionhost/internal/accounts"
	"github.com/multiacct/sessionhost/internal/supervisor"
)

// channelHandler serves one IPC channel: it receives the raw body, decodes
// and validates its own request DTO (if it has one) with decodeAndValidate,
// and returns a JSON-able payload or a *errors.HostError.
type channelHandler func(ctx context.Context, s *Server, body []byte) (interface{}, error)

// channels is the authoritative whitelist (spec §6 "Channels are
// whitelisted at the boundary; unknown channels are rejected").
var channels = map[string]channelHandler{
	"account.list":    handleAccountList,
	"account.get":     handleAccountGet,
	"account.create":  handleAccountCreate,
	"account.update":  handleAccountUpdate,
	"account.delete":  handleAccountDelete,
	"account.reorder": handleAccountReorder,

	"instance.start":       handleInstanceStart,
	"instance.stop":        handleInstanceStop,
	"instance.restart":     handleInstanceRestart,
	"instance.updateProxy": handleInstanceUpdateProxy,
	"instance.status":      handleInstanceStatus,
	"instance.health":      handleInstanceStatus,
	"instance.healthAll":   handleInstanceHealthAll,

	"view.switchTo":      handleViewSwitchTo,
	"view.switchToIndex": handleViewSwitchToIndex,
	"view.next":          handleViewNext,
	"view.previous":      handleViewPrevious,
	"view.active":        handleViewActive,
	"view.reload":        handleViewReload,
	"view.loadUrl":       handleViewLoadURL,

	"session.hasData":     handleSessionHasData,
	"session.clear":       handleSessionClear,
	"session.stats":       handleSessionStats,
	"session.detectLogin": handleSessionDetectLogin,

	"migration.status":  handleMigrationStatus,
	"migration.execute": handleMigrationExecute,
}

// dispatch routes POST /ipc/{channel} to the whitelisted handler (spec §6).
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	r.Header.Set("X-IPC-Channel", channel)

	handler, ok := channels[channel]
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, "UnknownChannel", "unknown IPC channel", map[string]interface{}{"channel": channel})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "InvalidRequest", "failed to read request body", nil)
		return
	}

	result, err := handler(r.Context(), s, body)
	if err != nil {
		if he := hosterrors.GetHostError(err); he != nil {
			httputil.WriteHostError(w, r, he)
			return
		}
		httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "InternalError", err.Error(), nil)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// decodeAndValidate unmarshals body into req and runs struct validation
// tags, returning a ValidationError HostError on failure (spec §4.1 "all
// invalid fields are collected and returned together").
func decodeAndValidate(body []byte, req interface{}) error {
	if len(body) > 0 {
		if err := json.Unmarshal(body, req); err != nil {
			return hosterrors.New(hosterrors.CategoryValidationError, "malformed request body", http.StatusBadRequest)
		}
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs []hosterrors.FieldError
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fieldErrs = append(fieldErrs, hosterrors.FieldError{Field: fe.Field(), Reason: fe.Tag()})
			}
		} else {
			fieldErrs = append(fieldErrs, hosterrors.FieldError{Field: "request", Reason: err.Error()})
		}
		return hosterrors.ValidationError(fieldErrs)
	}
	return nil
}

// AccountWithStatus is the §6 `AccountRecordWithStatus` wire shape: the
// persisted record joined with live instance and view state.
type AccountWithStatus struct {
	accounts.Account
	InstanceState string `json:"instanceState,omitempty"`
	ViewState     string `json:"viewState,omitempty"`
	Active        bool   `json:"active"`
}

func (s *Server) withStatus(a accounts.Account) AccountWithStatus {
	out := AccountWithStatus{Account: a}
	if status, err := s.supervisor.GetStatus(a.ID); err == nil {
		out.InstanceState = string(status.State)
	}
	if state, ok := s.switcher.State(a.ID); ok {
		out.ViewState = string(state)
	}
	out.Active = s.switcher.ActiveID() == a.ID
	return out
}

func handleAccountList(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccountWithStatus, 0, len(all))
	for _, a := range all {
		out = append(out, s.withStatus(a))
	}
	return out, nil
}

func handleAccountGet(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, ok := s.store.Get(req.ID)
	if !ok {
		return nil, hosterrors.NotFound("account", req.ID)
	}
	return s.withStatus(a), nil
}

func handleAccountCreate(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req createAccountRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, err := s.store.Create(ctx, req.toAccount())
	if err != nil {
		return nil, err
	}
	s.notifyAccountsUpdated()
	return a, nil
}

func handleAccountUpdate(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req updateAccountRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, err := s.store.Update(ctx, req.ID, req.toPatch())
	if err != nil {
		return nil, err
	}
	s.notifyAccountsUpdated()
	return a, nil
}

func handleAccountDelete(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req deleteAccountRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, req.ID, accounts.DeleteOptions{RetainStorage: req.RetainStorage}); err != nil {
		return nil, err
	}
	s.switcher.DestroyView(ctx, req.ID)
	s.supervisor.Destroy(ctx, req.ID, supervisor.DestroyOptions{TimeoutMs: 5000})
	s.notifyAccountsUpdated()
	return map[string]bool{"ok": true}, nil
}

func handleAccountReorder(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req reorderRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.store.Reorder(ctx, req.IDSequence); err != nil {
		return nil, err
	}
	s.notifyAccountsUpdated()
	return map[string]bool{"ok": true}, nil
}

func (s *Server) notifyAccountsUpdated() {
	if s.hub != nil {
		s.hub.Broadcast(Notification{Channel: "accounts-updated"})
	}
}

func handleInstanceStart(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, ok := s.store.Get(req.ID)
	if !ok {
		return nil, hosterrors.NotFound("account", req.ID)
	}
	if _, err := s.supervisor.Create(ctx, a); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleInstanceStop(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.supervisor.Destroy(ctx, req.ID, supervisor.DestroyOptions{TimeoutMs: 5000}); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleInstanceRestart(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, ok := s.store.Get(req.ID)
	if !ok {
		return nil, hosterrors.NotFound("account", req.ID)
	}
	if _, err := s.supervisor.Restart(ctx, a); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleInstanceUpdateProxy(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req updateProxyRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	a, ok := s.store.Get(req.ID)
	if !ok {
		return nil, hosterrors.NotFound("account", req.ID)
	}
	if err := s.supervisor.UpdateProxy(ctx, a, req.Proxy); err != nil {
		return nil, err
	}
	patch := accounts.Patch{Proxy: &req.Proxy}
	updated, err := s.store.Update(ctx, req.ID, patch)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func handleInstanceStatus(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	return s.supervisor.GetStatus(req.ID)
}

func handleInstanceHealthAll(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	return s.supervisor.ListRunning(), nil
}

func handleViewSwitchTo(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.switcher.SwitchTo(ctx, req.ID); err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.Broadcast(Notification{Channel: "account-active-changed", AccountID: req.ID})
	}
	return map[string]bool{"ok": true}, nil
}

func orderedAccountIDs(ctx context.Context, s *Server) ([]string, error) {
	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, a := range all {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func handleViewSwitchToIndex(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req switchToIndexRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	ids, err := orderedAccountIDs(ctx, s)
	if err != nil {
		return nil, err
	}
	if req.Index < 0 || req.Index >= len(ids) {
		return nil, hosterrors.New(hosterrors.CategoryValidationError, "index out of range", http.StatusBadRequest)
	}
	if err := s.switcher.SwitchTo(ctx, ids[req.Index]); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleViewNext(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	return s.switchRelative(ctx, 1)
}

func handleViewPrevious(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	return s.switchRelative(ctx, -1)
}

// switchRelative switches to the next/previous account in order-sorted
// position relative to the currently active view, wrapping around the
// ends of the list (spec §6 "view.next()"/"view.previous()").
func (s *Server) switchRelative(ctx context.Context, delta int) (interface{}, error) {
	ids, err := orderedAccountIDs(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, hosterrors.NotFound("account", "")
	}
	active := s.switcher.ActiveID()
	idx := 0
	for i, id := range ids {
		if id == active {
			idx = i
			break
		}
	}
	next := ((idx+delta)%len(ids) + len(ids)) % len(ids)
	if err := s.switcher.SwitchTo(ctx, ids[next]); err != nil {
		return nil, err
	}
	return map[string]string{"id": ids[next]}, nil
}

func handleViewActive(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	return map[string]string{"id": s.switcher.ActiveID()}, nil
}

func handleViewReload(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req reloadRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.switcher.ReloadView(ctx, req.ID, req.IgnoreCache); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleViewLoadURL(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req loadURLRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	if err := s.switcher.LoadURL(ctx, req.ID, req.URL); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleMigrationStatus(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	done, sentinel, err := s.migration.Status()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"completed": done, "sentinel": sentinel}, nil
}

func handleMigrationExecute(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	result, err := s.migration.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}
