package core

import "encoding/json"

// Response is the decoded envelope of a portal JSON body. The backend puts
// an application-level httpCode inside the payload; its absence means 200.
// The transport status code is deliberately not part of this model.
type Response struct {
	HTTPCode int             `json:"httpCode"`
	Message  string          `json:"message,omitempty"`
	Data     map[string]any  `json:"-"`
	Raw      json.RawMessage `json:"-"`
}

// IsSuccess reports whether the embedded code is one of the two codes the
// webapp treated as success.
func (r *Response) IsSuccess() bool {
	return r.HTTPCode == 200 || r.HTTPCode == 201
}

// Str returns a top-level string value from the payload, or "".
func (r *Response) Str(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

// Map returns a top-level object value from the payload, or nil.
func (r *Response) Map(key string) map[string]any {
	m, _ := r.Data[key].(map[string]any)
	return m
}

// Decode unmarshals the raw payload into a typed value.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// ParseResponse classifies a trimmed response body the way the webapp's
// fetch wrapper did. The caller guarantees body is non-empty and starts
// with '{'.
func ParseResponse(body []byte) (*Response, error) {
	data := map[string]any{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	resp := &Response{
		HTTPCode: 200,
		Data:     data,
		Raw:      append(json.RawMessage(nil), body...),
	}
	if code, ok := data["httpCode"].(float64); ok && code != 0 {
		resp.HTTPCode = int(code)
	}
	if msg, ok := data["message"].(string); ok {
		resp.Message = msg
	}
	return resp, nil
}

// Contact is one entry of a user's profile contact list.
type Contact struct {
	ContactType    string `json:"contactType"`
	ContactAddress string `json:"contactAddress"`
	ContactUsage   string `json:"contactUsage,omitempty"`
}

// CapturedIP holds the login history the backend captured for one address.
// UserAgents entries use the "firstSeen#lastSeen@userAgent" micro-format.
type CapturedIP struct {
	IPAddress   string   `json:"ipAddress"`
	GeoLocation []string `json:"geoLocation,omitempty"`
	UserAgents  []string `json:"userAgents,omitempty"`
}

type LoginSources struct {
	CapturedIPs []CapturedIP `json:"capturedIps,omitempty"`
}

type UserProfileData struct {
	PublicName   string       `json:"publicName,omitempty"`
	Contacts     []Contact    `json:"contacts,omitempty"`
	LoginSources LoginSources `json:"loginSources,omitempty"`
}

// Profile is the server-shaped record behind /user/self/info and the
// successful login responses.
type Profile struct {
	Username        string          `json:"username,omitempty"`
	UserID          string          `json:"userId,omitempty"`
	UserProfileData UserProfileData `json:"userProfileData,omitempty"`
}

// DisplayName flattens the username, preferring the profile's public name
// when present.
func (p Profile) DisplayName() string {
	if p.UserProfileData.PublicName != "" {
		return p.UserProfileData.PublicName
	}
	return p.Username
}

// RegistrationEmail returns the address of the registration contact, or "".
func (p Profile) RegistrationEmail() string {
	for _, c := range p.UserProfileData.Contacts {
		if c.ContactUsage == "registration" {
			return c.ContactAddress
		}
	}
	return ""
}

// NodeHealth is the payload of /health/info for a single node.
type NodeHealth struct {
	NodeID        string `json:"nodeId"`
	CurrentTime   string `json:"currentTime"`
	NodeStartTime string `json:"nodeStartTime"`
	Uptime        string `json:"uptime"`
}

// FieldType enumerates the input control kinds the endpoint schemas use.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldNumber    FieldType = "number"
	FieldDate      FieldType = "date"
	FieldPassword  FieldType = "password"
	FieldLargeText FieldType = "largeText"
)

// EndpointField describes one input of a discovered endpoint.
type EndpointField struct {
	Name       string    `json:"name"`
	Label      string    `json:"label,omitempty"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required,omitempty"`
	DnTypeName string    `json:"dnTypeName,omitempty"`
}

// EndpointSchema is the discovery payload for one endpoint.
type EndpointSchema struct {
	EndpointName string          `json:"endpointName"`
	HTTPMethod   string          `json:"httpMethod"`
	Description  string          `json:"description,omitempty"`
	Fields       []EndpointField `json:"fields"`
}
