// Package authtest is an in-process stand-in for the portal backend. Tests
// and the CLI's demo mode run the SDK against it over a real loopback
// listener so the cookie jar, envelope convention, and flow chaining are
// exercised end to end. It follows the backend's convention of returning
// transport status 200 with the application-level code embedded in the body.
package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/xlzd/gotp"
	"golang.org/x/crypto/bcrypt"

	"github.com/dynamicruntime/dnclient/core"
)

const (
	authCookieName = "dnAuthCookie"
	sessionMaxAge  = time.Hour
)

type user struct {
	id             string
	username       string
	passwordHash   []byte
	contactAddress string
	// sightings holds the per-IP login history in the backend's
	// "firstSeen#lastSeen@userAgent" encoding.
	sightings map[string][]string
}

// Server simulates the portal backend endpoints the SDK consumes.
type Server struct {
	mu sync.Mutex

	router   *mux.Router
	validate *validator.Validate
	totp     *gotp.TOTP

	jwtSecret []byte

	usersByName map[string]*user
	usersByID   map[string]*user
	contacts    map[string]string // contact address -> user id
	tokens      map[string]string // formAuthToken -> formAuthCode
	codes       map[string]string // principal -> last issued verify code
	recognized  map[string]bool   // username + "|" + user agent

	deviceChecks bool

	schemas map[string]core.EndpointSchema

	nodeIDs   []string
	nodeIndex int
	startTime time.Time
}

func New() *Server {
	s := &Server{
		validate:    validator.New(),
		totp:        gotp.NewTOTP(gotp.RandomSecret(16), 8, 30, nil),
		jwtSecret:   []byte(uuid.NewString()),
		usersByName: map[string]*user{},
		usersByID:   map[string]*user{},
		contacts:    map[string]string{},
		tokens:      map[string]string{},
		codes:       map[string]string{},
		recognized:  map[string]bool{},
		schemas:     map[string]core.EndpointSchema{},
		nodeIDs:     []string{"node-a", "node-b"},
		startTime:   time.Now(),
	}
	s.seedSchemas()

	r := mux.NewRouter()
	r.StrictSlash(true)
	r.HandleFunc("/auth/form/createToken", s.handleCreateToken).Methods(http.MethodGet)
	r.HandleFunc("/auth/login/byPassword", s.handleLoginByPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/login/byCode", s.handleLoginByCode).Methods(http.MethodPost)
	r.HandleFunc("/auth/user/createInitial", s.handleCreateInitial).Methods(http.MethodPut)
	r.HandleFunc("/auth/user/setLoginData", s.handleSetLoginData).Methods(http.MethodPut)
	r.HandleFunc("/auth/user/sendVerify", s.handleSendVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/newContact/sendVerify", s.handleNewContactSendVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/user/self/info", s.handleSelfInfo).Methods(http.MethodGet)
	r.HandleFunc("/user/self/setData", s.handleSetData).Methods(http.MethodPut)
	r.HandleFunc("/health/info", s.handleHealthInfo).Methods(http.MethodGet)
	r.HandleFunc("/schema/endpoint/info", s.handleEndpointInfo).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the server's HTTP handler for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

//
// Test hooks.
//

// AddUser creates a ready-made account and returns its user id.
func (s *Server) AddUser(username, password, contactAddress string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	u := &user{
		id:             uuid.NewString(),
		username:       username,
		passwordHash:   hash,
		contactAddress: contactAddress,
		sightings:      map[string][]string{},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByName[username] = u
	s.usersByID[u.id] = u
	if contactAddress != "" {
		s.contacts[contactAddress] = u.id
	}
	return u.id
}

// LastCode returns the verification code most recently issued to a username
// or contact address, letting tests play the role of the mailbox.
func (s *Server) LastCode(principal string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[principal]
}

// SetDeviceChecks turns on the unrecognized-browser rule: password logins
// from a user agent that has never logged in before answer 403.
func (s *Server) SetDeviceChecks(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceChecks = on
}

// AddSchema registers an endpoint schema for the discovery handler.
func (s *Server) AddSchema(schema core.EndpointSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.EndpointName] = schema
}

func (s *Server) seedSchemas() {
	s.schemas["user/self/setData"] = core.EndpointSchema{
		EndpointName: "user/self/setData",
		HTTPMethod:   http.MethodPut,
		Description:  "Update the current user's login data.",
		Fields: []core.EndpointField{
			{Name: "userId", Type: core.FieldText, Required: true, DnTypeName: "UserId"},
			{Name: "currentPassword", Type: core.FieldPassword},
			{Name: "password", Type: core.FieldPassword},
		},
	}
	s.schemas["health/info"] = core.EndpointSchema{
		EndpointName: "health/info",
		HTTPMethod:   http.MethodGet,
		Description:  "Report health data for the answering node.",
		Fields: []core.EndpointField{
			{Name: "detail", Type: core.FieldText},
		},
	}
}

//
// Envelope helpers.
//

func writeEnvelope(w http.ResponseWriter, data map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, httpCode int, message string) {
	writeEnvelope(w, map[string]any{"httpCode": httpCode, "message": message})
}

// decodeInto decodes and validates a request body; a false return means a
// failure envelope was already written.
func (s *Server) decodeInto(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFailure(w, 400, "Request body could not be parsed.")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeFailure(w, 422, "Request is missing required fields.")
		return false
	}
	return true
}

//
// Session cookie.
//

func (s *Server) issueCookie(w http.ResponseWriter, username string) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(sessionMaxAge).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
	})
}

func (s *Server) cookieUsername(r *http.Request) string {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return ""
	}
	token, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	username, _ := claims["username"].(string)
	return username
}

//
// Handlers.
//

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	code := uuid.NewString()[:8]
	s.mu.Lock()
	s.tokens[token] = code
	s.mu.Unlock()
	writeEnvelope(w, map[string]any{
		"formAuthToken": token,
		"captchaData":   map[string]any{"formAuthCode": code},
	})
}

func (s *Server) tokenIssued(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

type loginByPasswordRequest struct {
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	FormAuthToken string `json:"formAuthToken"`
}

func (s *Server) handleLoginByPassword(w http.ResponseWriter, r *http.Request) {
	var req loginByPasswordRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	s.mu.Lock()
	u := s.usersByName[req.Username]
	deviceChecks := s.deviceChecks
	recognized := s.recognized[req.Username+"|"+r.UserAgent()]
	s.mu.Unlock()

	if u == nil {
		writeFailure(w, 404, "User is not known.")
		return
	}
	if deviceChecks && !recognized {
		writeFailure(w, 403, "Login from this browser requires email validation.")
		return
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeFailure(w, 401, "Username or password is incorrect.")
		return
	}
	s.completeLogin(w, r, u)
}

type loginByCodeRequest struct {
	Username      string `json:"username" validate:"required"`
	FormAuthToken string `json:"formAuthToken" validate:"required"`
	VerifyCode    string `json:"verifyCode" validate:"required"`
	Password      string `json:"password"`
}

func (s *Server) handleLoginByCode(w http.ResponseWriter, r *http.Request) {
	var req loginByCodeRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	if !s.tokenIssued(req.FormAuthToken) {
		writeFailure(w, 403, "Form auth token is not valid.")
		return
	}
	s.mu.Lock()
	u := s.usersByName[req.Username]
	var expected string
	if u != nil {
		expected = s.codes[u.username]
	}
	s.mu.Unlock()

	if u == nil {
		writeFailure(w, 404, "User is not known.")
		return
	}
	if expected == "" || expected != req.VerifyCode {
		writeFailure(w, 401, "Verification code does not match.")
		return
	}
	if req.Password != "" {
		// Forgot-password flow sets the replacement on its way in.
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
		if err != nil {
			writeFailure(w, 500, "Could not store new password.")
			return
		}
		s.mu.Lock()
		u.passwordHash = hash
		s.mu.Unlock()
	}
	s.completeLogin(w, r, u)
}

type createInitialRequest struct {
	FormAuthToken  string `json:"formAuthToken" validate:"required"`
	ContactAddress string `json:"contactAddress" validate:"required"`
	ContactType    string `json:"contactType" validate:"required"`
	VerifyCode     string `json:"verifyCode" validate:"required"`
}

func (s *Server) handleCreateInitial(w http.ResponseWriter, r *http.Request) {
	var req createInitialRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	if !s.tokenIssued(req.FormAuthToken) {
		writeFailure(w, 403, "Form auth token is not valid.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contacts[req.ContactAddress]; exists {
		writeFailure(w, 403, "Contact address is already registered.")
		return
	}
	if s.codes[req.ContactAddress] == "" || s.codes[req.ContactAddress] != req.VerifyCode {
		writeFailure(w, 401, "Verification code does not match.")
		return
	}
	u := &user{
		id:             uuid.NewString(),
		contactAddress: req.ContactAddress,
		sightings:      map[string][]string{},
	}
	s.usersByID[u.id] = u
	s.contacts[req.ContactAddress] = u.id
	writeEnvelope(w, map[string]any{"userId": u.id})
}

type setLoginDataRequest struct {
	FormAuthToken string `json:"formAuthToken" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	VerifyCode    string `json:"verifyCode" validate:"required"`
}

func (s *Server) handleSetLoginData(w http.ResponseWriter, r *http.Request) {
	var req setLoginDataRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	if !s.tokenIssued(req.FormAuthToken) {
		writeFailure(w, 403, "Form auth token is not valid.")
		return
	}
	if err := core.ValidateUsername(req.Username); err != nil {
		writeFailure(w, 422, err.Error())
		return
	}
	s.mu.Lock()
	u := s.usersByID[req.UserID]
	taken := s.usersByName[req.Username] != nil
	var expected string
	if u != nil {
		expected = s.codes[u.contactAddress]
	}
	s.mu.Unlock()

	if u == nil {
		writeFailure(w, 404, "User is not known.")
		return
	}
	if taken {
		writeFailure(w, 409, "Username is not available.")
		return
	}
	if expected == "" || expected != req.VerifyCode {
		writeFailure(w, 401, "Verification code does not match.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeFailure(w, 500, "Could not store password.")
		return
	}
	s.mu.Lock()
	u.username = req.Username
	u.passwordHash = hash
	s.usersByName[req.Username] = u
	s.mu.Unlock()
	s.completeLogin(w, r, u)
}

type sendVerifyRequest struct {
	Username string `json:"username" validate:"required"`
}

func (s *Server) handleSendVerify(w http.ResponseWriter, r *http.Request) {
	var req sendVerifyRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersByName[req.Username] == nil {
		writeFailure(w, 404, "User is not known.")
		return
	}
	s.codes[req.Username] = s.totp.Now()
	writeEnvelope(w, map[string]any{"sent": true})
}

type newContactSendVerifyRequest struct {
	ContactAddress string `json:"contactAddress" validate:"required"`
	ContactType    string `json:"contactType" validate:"required"`
}

func (s *Server) handleNewContactSendVerify(w http.ResponseWriter, r *http.Request) {
	var req newContactSendVerifyRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[req.ContactAddress] = s.totp.Now()
	writeEnvelope(w, map[string]any{"sent": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   authCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeEnvelope(w, map[string]any{"loggedOut": true})
}

func (s *Server) handleSelfInfo(w http.ResponseWriter, r *http.Request) {
	username := s.cookieUsername(r)
	s.mu.Lock()
	u := s.usersByName[username]
	s.mu.Unlock()
	if username == "" || u == nil {
		writeFailure(w, 401, "Not logged in.")
		return
	}
	writeEnvelope(w, s.profilePayload(u))
}

type setDataRequest struct {
	UserID          string `json:"userId"`
	CurrentPassword string `json:"currentPassword" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

func (s *Server) handleSetData(w http.ResponseWriter, r *http.Request) {
	username := s.cookieUsername(r)
	s.mu.Lock()
	u := s.usersByName[username]
	s.mu.Unlock()
	if u == nil {
		writeFailure(w, 403, "Not logged in.")
		return
	}
	var req setDataRequest
	if !s.decodeInto(w, r, &req) {
		return
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.CurrentPassword)) != nil {
		writeFailure(w, 403, "Current password is incorrect.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeFailure(w, 500, "Could not store password.")
		return
	}
	s.mu.Lock()
	u.passwordHash = hash
	s.mu.Unlock()
	writeEnvelope(w, map[string]any{"updated": true})
}

func (s *Server) handleHealthInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	nodeID := s.nodeIDs[s.nodeIndex%len(s.nodeIDs)]
	s.nodeIndex++
	start := s.startTime
	s.mu.Unlock()
	now := time.Now()
	writeEnvelope(w, map[string]any{
		"nodeId":        nodeID,
		"currentTime":   now.UTC().Format(time.RFC3339),
		"nodeStartTime": start.UTC().Format(time.RFC3339),
		"uptime":        now.Sub(start).Round(time.Second).String(),
	})
}

func (s *Server) handleEndpointInfo(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("endpointName")
	s.mu.Lock()
	schema, ok := s.schemas[name]
	s.mu.Unlock()
	if !ok {
		writeFailure(w, 404, "Endpoint is not known.")
		return
	}
	data, err := json.Marshal(schema)
	if err != nil {
		writeFailure(w, 500, "Could not encode schema.")
		return
	}
	payload := map[string]any{}
	_ = json.Unmarshal(data, &payload)
	writeEnvelope(w, payload)
}

// completeLogin records the sighting, issues the session cookie, and writes
// the profile payload the webapp stored into its cache on login.
func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, u *user) {
	ip := r.RemoteAddr
	if host, _, ok := strings.Cut(r.RemoteAddr, ":"); ok {
		ip = host
	}
	now := time.Now().UTC().Format(time.RFC3339)
	s.mu.Lock()
	u.sightings[ip] = append(u.sightings[ip], now+"#"+now+"@"+r.UserAgent())
	s.recognized[u.username+"|"+r.UserAgent()] = true
	payload := s.profilePayload(u)
	s.mu.Unlock()

	s.issueCookie(w, u.username)
	writeEnvelope(w, payload)
}

func (s *Server) profilePayload(u *user) map[string]any {
	capturedIPs := make([]map[string]any, 0, len(u.sightings))
	for ip, agents := range u.sightings {
		capturedIPs = append(capturedIPs, map[string]any{
			"ipAddress":  ip,
			"userAgents": agents,
		})
	}
	return map[string]any{
		"username": u.username,
		"userId":   u.id,
		"userProfileData": map[string]any{
			"publicName": u.username,
			"contacts": []map[string]any{
				{
					"contactType":    "email",
					"contactAddress": u.contactAddress,
					"contactUsage":   "registration",
				},
			},
			"loginSources": map[string]any{
				"capturedIps": capturedIPs,
			},
		},
	}
}
