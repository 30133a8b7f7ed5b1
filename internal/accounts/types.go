// Package accounts implements the Configuration Store (spec §4.1): durable,
// validated storage of the account registry and global settings.
package accounts

import "time"

// ProxySettings is the per-account network proxy configuration.
type ProxySettings struct {
	Enabled  bool   `json:"enabled"`
	Protocol string `json:"protocol" validate:"oneof=socks5 http https"`
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"min=1,max=65535"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Bypass   string `json:"bypass,omitempty"`
}

// FriendOverride is a per-contact translation override.
type FriendOverride struct {
	Enabled        bool   `json:"enabled"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// TranslationSettings is the per-account translation configuration.
type TranslationSettings struct {
	Enabled        bool                      `json:"enabled"`
	TargetLanguage string                    `json:"targetLanguage" validate:"required"`
	Engine         string                    `json:"engine" validate:"oneof=google gpt4 gemini deepseek"`
	APIKey         string                    `json:"apiKey,omitempty"`
	AutoTranslate  bool                      `json:"autoTranslate"`
	TranslateInput bool                      `json:"translateInput"`
	FriendSettings map[string]FriendOverride `json:"friendSettings,omitempty"`
}

// NotificationSettings is the per-account notification configuration.
type NotificationSettings struct {
	Enabled bool `json:"enabled"`
	Sound   bool `json:"sound"`
	Badge   bool `json:"badge"`
}

// Account is the persisted account record (spec §3 "Account record"). It
// deliberately carries no window geometry: geometry is a property of the
// shell, not of individual accounts.
type Account struct {
	ID            string              `json:"id"`
	Name          string              `json:"name" validate:"required,max=100"`
	Note          string              `json:"note,omitempty"`
	Order         int                 `json:"order" validate:"min=0"`
	CreatedAt     time.Time           `json:"createdAt"`
	LastActiveAt  time.Time           `json:"lastActiveAt"`
	AutoStart     bool                `json:"autoStart"`
	SessionDir    string              `json:"sessionDir" validate:"required"`
	// Proxy and Translation carry conditionally-required fields validated
	// explicitly by Validate only when Enabled; validate:"-" keeps the
	// top-level struct pass (which always dives into nested structs by
	// default) from enforcing those rules unconditionally.
	Proxy         ProxySettings        `json:"proxy" validate:"-"`
	Translation   TranslationSettings  `json:"translation" validate:"-"`
	Notifications NotificationSettings `json:"notifications"`
}

// Patch carries a sparse set of updates to merge onto an existing Account.
// Pointer fields distinguish "not supplied" from "set to the zero value".
type Patch struct {
	Name          *string
	Note          *string
	AutoStart     *bool
	SessionDir    *string
	Proxy         *ProxySettings
	Translation   *TranslationSettings
	Notifications *NotificationSettings
}

// Apply merges p onto a, returning the merged copy. Order, CreatedAt and
// id are never touched by a patch; LastActiveAt is bumped to now whenever
// the patch supplies any field (even one equal to the current value), so
// an empty patch leaves the record unchanged, per spec §8's "update(id, {})
// is a no-op up to lastActiveAt" law.
func (p Patch) Apply(a Account, now time.Time) Account {
	out := a
	changed := false

	if p.Name != nil {
		out.Name = *p.Name
		changed = true
	}
	if p.Note != nil {
		out.Note = *p.Note
		changed = true
	}
	if p.AutoStart != nil {
		out.AutoStart = *p.AutoStart
		changed = true
	}
	if p.SessionDir != nil {
		out.SessionDir = *p.SessionDir
		changed = true
	}
	if p.Proxy != nil {
		out.Proxy = *p.Proxy
		changed = true
	}
	if p.Translation != nil {
		out.Translation = *p.Translation
		changed = true
	}
	if p.Notifications != nil {
		out.Notifications = *p.Notifications
		changed = true
	}

	if changed {
		out.LastActiveAt = now
	}
	return out
}

// registryFile is the on-disk JSON shape (spec §6 "Registry file").
type registryFile struct {
	Version      string             `json:"version"`
	Accounts     map[string]Account `json:"accounts"`
	MigratedAt   *time.Time         `json:"migratedAt,omitempty"`
	MigratedFrom *string            `json:"migratedFrom,omitempty"`
}

// SchemaVersionCurrent is the post-migration registry schema version.
const SchemaVersionCurrent = "2.0.0"

// SchemaVersionLegacy is the pre-migration registry schema version.
const SchemaVersionLegacy = "1.0.0"
