// Package services contains the portal's stateful view logic: the login
// activity machine, the account panel, the node health watcher, the login
// source history, and the schema-driven endpoint form.
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/dynamicruntime/dnclient/core"
	"github.com/dynamicruntime/dnclient/profile"
)

// Activity selects which fields are live, which endpoint a submit calls,
// and how the response is interpreted. Exactly one activity is active at a
// time; transitions are explicit.
type Activity string

const (
	ActivityLoginByPassword  Activity = "loginByPassword"
	ActivityLoginByCode      Activity = "loginByCode"
	ActivityForgotPassword   Activity = "forgotPassword"
	ActivityRegisterNewEmail Activity = "registerNewEmail"
	ActivityLoginSetData     Activity = "loginSetData"
	ActivityAfterLogin       Activity = "afterLogin"

	// ActivitySendCode is a request activity only; the flow never rests in it.
	ActivitySendCode Activity = "sendCode"

	// Activities of the account panel.
	ActivityShowInfo       Activity = "showInfo"
	ActivityChangePassword Activity = "changePassword"
)

// Progress is the free-text message a form shows below its fields.
type Progress struct {
	Message string
	IsError bool
}

// Guard is the computed enablement of the form's buttons. It is derived
// from current field values on every call, never stored.
type Guard struct {
	SubmitDisabled   bool
	SendCodeDisabled bool
	// Warning is the first blocking validation message, if any.
	Warning string
	// PasswordVisible reports whether the password rules apply yet; on the
	// code-verified activities the password fields stay hidden until an
	// eight character code is entered.
	PasswordVisible bool
}

// LoginFlow multiplexes the five authentication flows through one set of
// form fields. It owns no rendering; callers read the activity, guard, and
// progress and present them however they like.
type LoginFlow struct {
	transport core.Transport
	profiles  *profile.Cache
	onLogin   func()

	mu sync.Mutex

	activity Activity

	// Form fields. ContactType is fixed to "email"; the webapp never
	// populated it from an input either.
	username       string
	password       string
	passwordVerify string
	contactAddress string
	contactType    string
	verifyCode     string
	userID         string

	formAuthToken string
	formAuthCode  string

	submitting bool
	sentCode   bool
	// touched flips on the first field change. Until then the browser may
	// have auto-filled fields behind our back, so emptiness proves nothing
	// and the guard stays permissive.
	touched bool

	progress Progress
}

// NewLoginFlow starts a flow in the password login activity. The onLogin
// callback fires after a successful login has been stored in the profile
// cache; it may be nil.
func NewLoginFlow(t core.Transport, profiles *profile.Cache, onLogin func()) *LoginFlow {
	return &LoginFlow{
		transport:   t,
		profiles:    profiles,
		onLogin:     onLogin,
		activity:    ActivityLoginByPassword,
		contactType: "email",
	}
}

//
// Field setters. Every change marks the form as touched.
//

func (f *LoginFlow) SetUsername(v string)       { f.setField(&f.username, v) }
func (f *LoginFlow) SetPassword(v string)       { f.setField(&f.password, v) }
func (f *LoginFlow) SetPasswordVerify(v string) { f.setField(&f.passwordVerify, v) }
func (f *LoginFlow) SetContactAddress(v string) { f.setField(&f.contactAddress, v) }
func (f *LoginFlow) SetVerifyCode(v string)     { f.setField(&f.verifyCode, v) }

func (f *LoginFlow) setField(field *string, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*field = v
	f.touched = true
}

//
// State accessors.
//

func (f *LoginFlow) Activity() Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity
}

func (f *LoginFlow) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *LoginFlow) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

func (f *LoginFlow) SentCode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentCode
}

func (f *LoginFlow) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *LoginFlow) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

func (f *LoginFlow) FormAuthToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.formAuthToken
}

// SwitchTo handles the user-triggered activity links. Only the three entry
// activities can be switched to; password fields, the verify code, the
// sent-code flag, and the progress message are cleared on the way.
func (f *LoginFlow) SwitchTo(activity Activity) error {
	switch activity {
	case ActivityLoginByPassword, ActivityForgotPassword, ActivityRegisterNewEmail:
	default:
		return fmt.Errorf("%w: cannot switch to %q", core.ErrUnknownActivity, activity)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activity == ActivityAfterLogin {
		return fmt.Errorf("%w: flow already completed", core.ErrUnknownActivity)
	}
	f.activity = activity
	f.password = ""
	f.passwordVerify = ""
	f.verifyCode = ""
	f.sentCode = false
	f.progress = Progress{}
	return nil
}

// passwordEntity names the password in validation messages.
func passwordEntity(activity Activity) string {
	if activity == ActivityLoginSetData {
		return "password"
	}
	return "new password"
}

// settingPassword reports whether the activity establishes a new password.
func settingPassword(activity Activity) bool {
	return activity == ActivityForgotPassword || activity == ActivityLoginSetData
}

// codeVerified reports whether the activity proves identity by emailed code.
func codeVerified(activity Activity) bool {
	return activity == ActivityLoginByCode || activity == ActivityRegisterNewEmail ||
		activity == ActivityForgotPassword
}

// Guard computes button enablement from the current field values and flags.
// It mirrors the webapp's pre-submit checks exactly, including the rule that
// an untouched form is never blocked on emptiness alone.
func (f *LoginFlow) Guard() Guard {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := Guard{
		SubmitDisabled:   f.touched && f.submitting,
		SendCodeDisabled: f.submitting,
		PasswordVisible:  true,
	}

	if f.activity != ActivityRegisterNewEmail {
		// All activities have a username except email registration.
		if f.username == "" {
			// Only block if we truly know the username is not set.
			if f.touched {
				g.SubmitDisabled = true
				g.SendCodeDisabled = true
			}
		} else if f.activity != ActivityLoginByPassword {
			if err := core.ValidateUsername(f.username); err != nil {
				g.SubmitDisabled = true
				g.SendCodeDisabled = true
				g.Warning = err.Error()
			}
		}
	} else {
		if err := core.ValidateContactAddress(f.contactAddress); err != nil {
			g.SubmitDisabled = true
			g.SendCodeDisabled = true
		}
		if f.formAuthToken == "" {
			g.SubmitDisabled = true
		}
	}

	if codeVerified(f.activity) {
		if core.ValidateVerifyCode(f.verifyCode) != nil {
			g.PasswordVisible = false
			g.SubmitDisabled = true
		}
	} else if f.activity == ActivityLoginByPassword {
		if f.password == "" && f.touched {
			g.SubmitDisabled = true
		}
	}

	if g.PasswordVisible && settingPassword(f.activity) {
		entity := passwordEntity(f.activity)
		if err := core.ValidatePassword(entity, f.password, f.passwordVerify); err != nil {
			g.SubmitDisabled = true
			if g.Warning == "" {
				g.Warning = err.Error()
			}
		}
	}
	return g
}

// Submit executes the current activity's request chain. The double-click
// guard makes a second call while one is in flight return
// core.ErrSubmitInProgress without touching the form.
func (f *LoginFlow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return core.ErrSubmitInProgress
	}
	activity := f.activity
	switch activity {
	case ActivityLoginByPassword:
		if f.username == "" || f.password == "" {
			f.progress = Progress{Message: "Username and password must be filled out in form."}
			f.mu.Unlock()
			return nil
		}
		data := map[string]any{"username": f.username, "password": f.password}
		f.submitting = true
		f.mu.Unlock()
		return f.doTokenRequest(ctx, http.MethodPost, "/auth/login/byPassword", activity, data)
	case ActivityLoginByCode:
		data := map[string]any{
			"username":      f.username,
			"formAuthToken": f.formAuthToken,
			"verifyCode":    f.verifyCode,
		}
		f.submitting = true
		f.mu.Unlock()
		return f.doRequest(ctx, http.MethodPost, "/auth/login/byCode", activity, data)
	case ActivityForgotPassword:
		data := map[string]any{
			"username":      f.username,
			"formAuthToken": f.formAuthToken,
			"password":      f.password,
			"verifyCode":    f.verifyCode,
		}
		f.submitting = true
		f.mu.Unlock()
		return f.doRequest(ctx, http.MethodPost, "/auth/login/byCode", activity, data)
	case ActivityRegisterNewEmail:
		data := map[string]any{
			"formAuthToken":  f.formAuthToken,
			"contactAddress": f.contactAddress,
			"contactType":    f.contactType,
			"verifyCode":     f.verifyCode,
		}
		f.submitting = true
		f.mu.Unlock()
		return f.doRequest(ctx, http.MethodPut, "/auth/user/createInitial", activity, data)
	case ActivityLoginSetData:
		data := map[string]any{
			"formAuthToken": f.formAuthToken,
			"userId":        f.userID,
			"username":      f.username,
			"password":      f.password,
			"verifyCode":    f.verifyCode,
		}
		f.submitting = true
		f.mu.Unlock()
		return f.doRequest(ctx, http.MethodPut, "/auth/user/setLoginData", activity, data)
	default:
		f.mu.Unlock()
		return fmt.Errorf("%w: cannot submit %q", core.ErrUnknownActivity, activity)
	}
}

// SendCode emails a verification code to the user's registration address.
// The preceding token request stores the form auth token so the submit that
// follows does not need its own. The resting activity never changes.
func (f *LoginFlow) SendCode(ctx context.Context) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return core.ErrSubmitInProgress
	}
	var method, endpoint string
	var data map[string]any
	if f.activity == ActivityRegisterNewEmail {
		method, endpoint = http.MethodPost, "/auth/newContact/sendVerify"
		data = map[string]any{"contactAddress": f.contactAddress, "contactType": f.contactType}
	} else {
		method, endpoint = http.MethodPost, "/auth/user/sendVerify"
		data = map[string]any{"username": f.username}
	}
	f.submitting = true
	f.mu.Unlock()
	return f.doTokenRequest(ctx, method, endpoint, ActivitySendCode, data)
}

// doTokenRequest gets a form auth token, adds it to the request data, and
// then issues the real request. The chain is strictly sequential.
func (f *LoginFlow) doTokenRequest(ctx context.Context, method, endpoint string, activity Activity, data map[string]any) error {
	f.mu.Lock()
	f.progress = Progress{Message: "Requesting Form Token"}
	f.mu.Unlock()

	resp, err := f.transport.Get(ctx, "/auth/form/createToken")
	if err != nil {
		f.mu.Lock()
		f.progress = Progress{Message: err.Error(), IsError: true}
		f.sentCode = false
		f.submitting = false
		f.mu.Unlock()
		return nil
	}

	token := resp.Str("formAuthToken")
	code, _ := resp.Map("captchaData")["formAuthCode"].(string)
	data["formAuthToken"] = token
	data["formAuthCode"] = code

	f.mu.Lock()
	f.formAuthToken = token
	f.formAuthCode = code
	f.mu.Unlock()

	return f.doRequest(ctx, method, endpoint, activity, data)
}

// doRequest is the standard request step: issue the call and feed the
// envelope through the transition table.
func (f *LoginFlow) doRequest(ctx context.Context, method, endpoint string, activity Activity, data map[string]any) error {
	f.mu.Lock()
	f.progress = Progress{Message: "Executing request"}
	f.mu.Unlock()

	resp, err := f.transport.Do(ctx, method, endpoint, data)
	if err != nil {
		f.mu.Lock()
		f.progress = Progress{Message: err.Error(), IsError: true}
		f.sentCode = false
		f.submitting = false
		f.mu.Unlock()
		return nil
	}
	f.processResult(activity, data, resp)
	return nil
}

// processResult applies the transition table to both successful and failed
// results, taking the request's activity into account.
func (f *LoginFlow) processResult(activity Activity, data map[string]any, resp *core.Response) {
	username, _ := data["username"].(string)

	f.mu.Lock()
	isSuccess := false
	didLogin := false
	switch {
	case resp.IsSuccess():
		isSuccess = true
		switch {
		case strings.HasPrefix(string(activity), "login") || activity == ActivityForgotPassword:
			// Tell the shared cache about the logged in user.
			f.activity = ActivityAfterLogin
			f.progress = Progress{Message: "Successfully logged in."}
			didLogin = true
		case activity == ActivitySendCode:
			f.progress = Progress{Message: "Sent Verification Code"}
			f.sentCode = true
			f.verifyCode = ""
		case activity == ActivityRegisterNewEmail:
			f.activity = ActivityLoginSetData
			f.userID = resp.Str("userId")
			f.username = ""
			f.password = ""
			f.progress = Progress{}
		default:
			f.progress = Progress{Message: "Invalid activity.", IsError: true}
		}
	case resp.HTTPCode == 404:
		f.progress = Progress{
			Message: fmt.Sprintf("User %s is not available for a login.", username),
			IsError: true,
		}
	case resp.HTTPCode == 403:
		switch activity {
		case ActivityLoginByPassword:
			// Browser or device not recognized; fall over to code login.
			f.activity = ActivityLoginByCode
			f.progress = Progress{Message: "Login requires email validation."}
		case ActivityRegisterNewEmail:
			f.progress = Progress{
				Message: fmt.Sprintf("Email %s is not available for creating a new user.", f.contactAddress),
				IsError: true,
			}
		default:
			f.progress = Progress{Message: "Request is not allowed for security reasons.", IsError: true}
		}
	default:
		f.progress = Progress{Message: resp.Message, IsError: true}
	}
	f.submitting = false
	if !isSuccess {
		f.sentCode = false
	}
	onLogin := f.onLogin
	f.mu.Unlock()

	// Store the profile and run the callback after our own state settles.
	if didLogin {
		f.profiles.SetFromResponse(resp)
		if onLogin != nil {
			onLogin()
		}
	}
}
