package services

import (
	"context"
	"net/http"
	"sync"

	"github.com/dynamicruntime/dnclient/core"
	"github.com/dynamicruntime/dnclient/profile"
)

// accountSubscriberKey is the cache registration key of the account panel.
// Keys are unique per cache, matching one mounted panel per page.
const accountSubscriberKey = "UserRegistration"

// AccountPanel shows the user's registration information and owns the
// change-password sub-form. It tracks the profile cache while started.
type AccountPanel struct {
	transport core.Transport
	profiles  *profile.Cache

	mu sync.Mutex

	activity Activity

	username string
	email    string
	userID   string

	currentPassword string
	password        string
	passwordVerify  string

	submitting bool
	progress   Progress
}

func NewAccountPanel(t core.Transport, profiles *profile.Cache) *AccountPanel {
	return &AccountPanel{
		transport: t,
		profiles:  profiles,
		activity:  ActivityShowInfo,
	}
}

// Start connects the panel to the profile cache and seeds it from the
// current data. Close must be called before the panel is discarded.
func (p *AccountPanel) Start() {
	p.profiles.Subscribe(accountSubscriberKey, p.handleProfileUpdate)
	p.handleProfileUpdate(p.profiles.Current())
}

// Close disconnects the panel from the profile cache.
func (p *AccountPanel) Close() {
	p.profiles.Unsubscribe(accountSubscriberKey)
}

func (p *AccountPanel) handleProfileUpdate(data core.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = data.DisplayName()
	p.email = data.RegistrationEmail()
	p.userID = data.UserID
}

func (p *AccountPanel) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

func (p *AccountPanel) Email() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.email
}

func (p *AccountPanel) Activity() Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activity
}

func (p *AccountPanel) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *AccountPanel) SetCurrentPassword(v string) { p.set(&p.currentPassword, v) }
func (p *AccountPanel) SetPassword(v string)        { p.set(&p.password, v) }
func (p *AccountPanel) SetPasswordVerify(v string)  { p.set(&p.passwordVerify, v) }

func (p *AccountPanel) set(field *string, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*field = v
}

// ToggleChangePassword flips between showing info and editing the password,
// clearing the progress message either way.
func (p *AccountPanel) ToggleChangePassword() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activity == ActivityChangePassword {
		p.activity = ActivityShowInfo
	} else {
		p.activity = ActivityChangePassword
	}
	p.progress = Progress{}
}

// Guard computes the change-password button enablement.
func (p *AccountPanel) Guard() Guard {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := Guard{SubmitDisabled: p.submitting, PasswordVisible: true}
	if p.activity != ActivityChangePassword {
		g.SubmitDisabled = true
		return g
	}
	if err := core.ValidateChangePassword(p.currentPassword, p.password, p.passwordVerify); err != nil {
		g.SubmitDisabled = true
		g.Warning = err.Error()
	}
	return g
}

// Submit sends the password change request.
func (p *AccountPanel) Submit(ctx context.Context) error {
	p.mu.Lock()
	if p.activity != ActivityChangePassword {
		p.mu.Unlock()
		return nil
	}
	if p.submitting {
		p.mu.Unlock()
		return core.ErrSubmitInProgress
	}
	p.submitting = true
	p.progress = Progress{Message: "Sending password change request"}
	data := map[string]any{
		"userId":          p.userID,
		"currentPassword": p.currentPassword,
		"password":        p.password,
	}
	p.mu.Unlock()

	resp, err := p.transport.Do(ctx, http.MethodPut, "/user/self/setData", data)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitting = false
	switch {
	case err != nil:
		p.progress = Progress{Message: err.Error(), IsError: true}
	case resp.IsSuccess():
		p.activity = ActivityShowInfo
		p.currentPassword = ""
		p.password = ""
		p.passwordVerify = ""
		p.progress = Progress{Message: "Password has been updated."}
	case resp.HTTPCode == 403:
		p.progress = Progress{Message: "Request is not allowed for security reasons.", IsError: true}
	default:
		p.progress = Progress{Message: resp.Message, IsError: true}
	}
	return nil
}

// Logout posts the logout request and, on success, resets the profile cache
// to the empty profile so every subscribed view settles on logged-out.
func Logout(ctx context.Context, t core.Transport, profiles *profile.Cache) error {
	_, err := t.Do(ctx, http.MethodPost, "/auth/logout", map[string]any{})
	if err != nil {
		return err
	}
	profiles.Set(core.Profile{})
	return nil
}
