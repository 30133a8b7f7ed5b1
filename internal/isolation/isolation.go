// Package isolation builds the per-account isolation contract (spec §4.3
// "Isolation contract"): a dedicated partition directory, a dedicated
// storage session label, and an outbound proxy header, so that one
// account's runtime can never observe another's storage or network
// identity.
package isolation

import (
	"encoding/base64"
	"fmt"
	"path/filepath"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/internal/accounts"
)

// DefaultUserAgent is the realistic browser user-agent string applied to
// every isolated view, per spec §4.3 "A realistic user-agent string so the
// external web service treats the view as a normal browser."
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// ViewPolicy is the fixed polymorphic-view hardening contract (spec §4.3):
// scripting on, node integration off, context isolation on, sandboxed.
type ViewPolicy struct {
	ScriptingEnabled      bool
	NodeIntegrationEnabled bool
	ContextIsolation      bool
	Sandbox               bool
	PreloadScript         string
	UserAgent             string
}

// DefaultViewPolicy returns the spec-mandated hardened view configuration.
func DefaultViewPolicy(preloadScript string) ViewPolicy {
	return ViewPolicy{
		ScriptingEnabled:       true,
		NodeIntegrationEnabled: false,
		ContextIsolation:       true,
		Sandbox:                true,
		PreloadScript:          preloadScript,
		UserAgent:              DefaultUserAgent,
	}
}

// Partition is an account's dedicated, non-overlapping storage location.
type Partition struct {
	AccountID string
	Dir       string
}

// SessionLabel is the dedicated, persistent storage session name for an
// account, so the partition survives restarts (spec §4.3).
type SessionLabel string

// ProxyHeader is the base64-encoded Proxy-Authorization value derived from
// credentials (spec §4.3 "credentials base64-encoded"), or "" when the
// proxy has no credentials.
type ProxyHeader string

// Runtime is the fully materialized isolation contract for one account,
// everything the Supervisor needs to stand up a view.
type Runtime struct {
	AccountID    string
	Partition    Partition
	SessionLabel SessionLabel
	Proxy        accounts.ProxySettings
	ProxyHeader  ProxyHeader
	View         ViewPolicy
}

// Materializer builds Runtimes for accounts. baseDir is the root under
// which every account's partition directory is created (spec's
// `profiles/account_{a}`); preloadScript is the path to the content-script
// injection hook the external translation collaborator uses.
type Materializer struct {
	baseDir       string
	preloadScript string
}

// NewMaterializer constructs a Materializer rooted at baseDir.
func NewMaterializer(baseDir, preloadScript string) *Materializer {
	return &Materializer{baseDir: baseDir, preloadScript: preloadScript}
}

// PartitionDir returns the exclusive storage root for accountID, without
// creating it. Caller-supplied sessionDir (spec §3 Account.sessionDir)
// takes precedence over the default `profiles/account_{id}` naming so
// migrated accounts can keep their original partition location.
func (m *Materializer) PartitionDir(accountID, sessionDir string) string {
	if sessionDir != "" {
		return sessionDir
	}
	return filepath.Join(m.baseDir, fmt.Sprintf("account_%s", accountID))
}

// SessionLabelFor returns the dedicated storage session label for an
// account (spec §4.3 "persist:account_{a}").
func SessionLabelFor(accountID string) SessionLabel {
	return SessionLabel(fmt.Sprintf("persist:account_%s", accountID))
}

// Build materializes the full isolation Runtime for an account, validating
// the proxy configuration first (spec §4.3 operations "updateProxy...
// validates the proxy first" applies equally at creation time).
func (m *Materializer) Build(a accounts.Account) (Runtime, error) {
	if a.Proxy.Enabled {
		if errs := accounts.Validate(a); len(errs) > 0 {
			return Runtime{}, hosterrors.ValidationError(errs)
		}
	}

	return Runtime{
		AccountID:    a.ID,
		Partition:    Partition{AccountID: a.ID, Dir: m.PartitionDir(a.ID, a.SessionDir)},
		SessionLabel: SessionLabelFor(a.ID),
		Proxy:        a.Proxy,
		ProxyHeader:  proxyAuthHeader(a.Proxy),
		View:         DefaultViewPolicy(m.preloadScript),
	}, nil
}

// proxyAuthHeader returns the base64-encoded "user:pass" Proxy-Authorization
// value for proxy, or "" if the proxy is disabled or carries no username.
func proxyAuthHeader(proxy accounts.ProxySettings) ProxyHeader {
	if !proxy.Enabled || proxy.Username == "" {
		return ""
	}
	raw := fmt.Sprintf("%s:%s", proxy.Username, proxy.Password)
	return ProxyHeader(base64.StdEncoding.EncodeToString([]byte(raw)))
}
