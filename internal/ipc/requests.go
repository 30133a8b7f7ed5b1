package ipc

import (
	"github.com/go-playground/validator/v10"

	"github.com/multiacct/sessionhost/internal/accounts"
)

var validate = validator.New()

// createAccountRequest is the account.create request body.
type createAccountRequest struct {
	ID            string                        `json:"id,omitempty"`
	Name          string                        `json:"name" validate:"required,max=100"`
	Note          string                        `json:"note,omitempty"`
	AutoStart     bool                          `json:"autoStart"`
	SessionDir    string                        `json:"sessionDir" validate:"required"`
	// Proxy/Translation skip struct-tag validation here: their fields are
	// only conditionally required when Enabled, which accounts.Validate
	// (called downstream by Store.Create) already checks explicitly.
	Proxy         accounts.ProxySettings        `json:"proxy" validate:"-"`
	Translation   accounts.TranslationSettings  `json:"translation" validate:"-"`
	Notifications accounts.NotificationSettings `json:"notifications"`
}

func (req createAccountRequest) toAccount() accounts.Account {
	return accounts.Account{
		ID:            req.ID,
		Name:          req.Name,
		Note:          req.Note,
		AutoStart:     req.AutoStart,
		SessionDir:    req.SessionDir,
		Proxy:         req.Proxy,
		Translation:   req.Translation,
		Notifications: req.Notifications,
	}
}

// updateAccountRequest is the account.update request body: id plus a
// sparse patch. Pointer fields distinguish "not supplied" from "cleared".
type updateAccountRequest struct {
	ID            string                         `json:"id" validate:"required"`
	Name          *string                        `json:"name,omitempty"`
	Note          *string                        `json:"note,omitempty"`
	AutoStart     *bool                          `json:"autoStart,omitempty"`
	SessionDir    *string                        `json:"sessionDir,omitempty"`
	Proxy         *accounts.ProxySettings        `json:"proxy,omitempty" validate:"-"`
	Translation   *accounts.TranslationSettings  `json:"translation,omitempty" validate:"-"`
	Notifications *accounts.NotificationSettings `json:"notifications,omitempty"`
}

func (req updateAccountRequest) toPatch() accounts.Patch {
	return accounts.Patch{
		Name:          req.Name,
		Note:          req.Note,
		AutoStart:     req.AutoStart,
		SessionDir:    req.SessionDir,
		Proxy:         req.Proxy,
		Translation:   req.Translation,
		Notifications: req.Notifications,
	}
}

// idRequest carries a single target account/instance/view id.
type idRequest struct {
	ID string `json:"id" validate:"required"`
}

// deleteAccountRequest is the account.delete request body.
type deleteAccountRequest struct {
	ID            string `json:"id" validate:"required"`
	RetainStorage bool   `json:"retainStorage"`
}

// reorderRequest is the account.reorder request body.
type reorderRequest struct {
	IDSequence []string `json:"idSequence" validate:"required,min=1"`
}

// updateProxyRequest is the instance.updateProxy request body.
type updateProxyRequest struct {
	ID    string                 `json:"id" validate:"required"`
	Proxy accounts.ProxySettings `json:"proxy" validate:"-"`
}

// switchToIndexRequest is the view.switchToIndex request body.
type switchToIndexRequest struct {
	Index int `json:"index" validate:"min=0"`
}

// reloadRequest is the view.reload request body.
type reloadRequest struct {
	ID           string `json:"id" validate:"required"`
	IgnoreCache  bool   `json:"ignoreCache"`
}

// loadURLRequest is the view.loadUrl request body.
type loadURLRequest struct {
	ID  string `json:"id" validate:"required"`
	URL string `json:"url" validate:"required,url"`
}
