package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/accounts"
	"github.com/multiacct/sessionhost/internal/hostconfig"
	"github.com/multiacct/sessionhost/internal/isolation"
	"github.com/multiacct/sessionhost/internal/migration"
	"github.com/multiacct/sessionhost/internal/monitor"
	"github.com/multiacct/sessionhost/internal/supervisor"
	"github.com/multiacct/sessionhost/internal/switching"
)

type fakeHandle struct{}

func (fakeHandle) Pid() int                                        { return 1234 }
func (fakeHandle) Probe(ctx context.Context, timeout time.Duration) error { return nil }
func (fakeHandle) Stop(ctx context.Context, timeout time.Duration) error  { return nil }

type fakeLauncher struct{}

func (fakeLauncher) Launch(ctx context.Context, rt isolation.Runtime) (supervisor.ProcessHandle, error) {
	return fakeHandle{}, nil
}

type fakeViewRuntime struct{}

func (fakeViewRuntime) EnsureCreated(ctx context.Context, id string) error       { return nil }
func (fakeViewRuntime) Reparent(ctx context.Context, id string, visible bool) error { return nil }
func (fakeViewRuntime) Resize(ctx context.Context, id string, bounds switching.Bounds) error {
	return nil
}
func (fakeViewRuntime) Destroy(ctx context.Context, id string) error { return nil }
func (fakeViewRuntime) Reload(ctx context.Context, id string, ignoreCache bool) error {
	return nil
}
func (fakeViewRuntime) LoadURL(ctx context.Context, id string, url string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := logging.New("ipc-test", "error", "text")

	store := accounts.NewStore(filepath.Join(dir, "registry.json"), logger)
	if _, err := store.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	materializer := isolation.NewMaterializer(filepath.Join(dir, "profiles"), "")
	bus := monitor.NewBus(logger, nil, nil)
	sup := supervisor.New(fakeLauncher{}, materializer, hostconfig.DefaultConfig().Supervisor, logger, nil, bus)
	sw := switching.New(fakeViewRuntime{}, bus, logger, 0)
	mig := migration.New(
		filepath.Join(dir, "legacy-registry.json"),
		filepath.Join(dir, "legacy-sessions"),
		filepath.Join(dir, "backups"),
		filepath.Join(dir, "migration-completed.json"),
		filepath.Join(dir, "migration.log"),
		store, logger, bus,
	)

	return NewServer(Deps{
		Store:        store,
		Supervisor:   sup,
		Switching:    sw,
		Migration:    mig,
		Materializer: materializer,
		Bus:          bus,
		Metrics:      nil,
		Logger:       logger,
	})
}

func postChannel(t *testing.T, s *Server, channel string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest("POST", "/ipc/"+channel, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestDispatch_UnknownChannelRejected(t *testing.T) {
	s := newTestServer(t)
	rec := postChannel(t, s, "account.doesNotExist", nil)
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDispatch_AccountCreateAndList(t *testing.T) {
	s := newTestServer(t)

	rec := postChannel(t, s, "account.create", createAccountRequest{
		Name:       "Alice",
		SessionDir: filepath.Join(t.TempDir(), "alice"),
	})
	if rec.Code != 200 {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created accounts.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated account id")
	}

	rec = postChannel(t, s, "account.list", nil)
	if rec.Code != 200 {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var list []AccountWithStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list = %+v, want one entry matching %v", list, created.ID)
	}
}

func TestDispatch_AccountCreateValidationFailure(t *testing.T) {
	s := newTestServer(t)
	rec := postChannel(t, s, "account.create", createAccountRequest{})
	if rec.Code != 400 {
		t.Errorf("status = %d, want 400 for a missing required field", rec.Code)
	}
}

func TestDispatch_InstanceLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := postChannel(t, s, "account.create", createAccountRequest{
		Name:       "Bob",
		SessionDir: filepath.Join(t.TempDir(), "bob"),
	})
	var created accounts.Account
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = postChannel(t, s, "instance.start", idRequest{ID: created.ID})
	if rec.Code != 200 {
		t.Fatalf("instance.start status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = postChannel(t, s, "instance.status", idRequest{ID: created.ID})
	if rec.Code != 200 {
		t.Fatalf("instance.status status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = postChannel(t, s, "instance.stop", idRequest{ID: created.ID})
	if rec.Code != 200 {
		t.Fatalf("instance.stop status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDispatch_ViewSwitchToUnknownAccount(t *testing.T) {
	s := newTestServer(t)
	rec := postChannel(t, s, "view.switchTo", idRequest{ID: "v1"})
	if rec.Code != 200 {
		t.Fatalf("switchTo status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = postChannel(t, s, "view.active", nil)
	if rec.Code != 200 {
		t.Fatalf("view.active status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["id"] != "v1" {
		t.Errorf("active id = %v, want v1", resp["id"])
	}
}

func TestDispatch_MigrationStatusNoOp(t *testing.T) {
	s := newTestServer(t)
	rec := postChannel(t, s, "migration.status", nil)
	if rec.Code != 200 {
		t.Fatalf("migration.status status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDispatch_SessionHasDataFalseForFreshAccount(t *testing.T) {
	s := newTestServer(t)
	rec := postChannel(t, s, "account.create", createAccountRequest{
		Name:       "Carol",
		SessionDir: filepath.Join(t.TempDir(), "carol"),
	})
	var created accounts.Account
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = postChannel(t, s, "session.hasData", idRequest{ID: created.ID})
	if rec.Code != 200 {
		t.Fatalf("session.hasData status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["hasData"] {
		t.Error("expected hasData=false for a freshly created account")
	}
}
