package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dynamicruntime/dnclient/core"
)

// EndpointForm drives the dynamic endpoint-testing view: it discovers an
// endpoint's schema, collects values for each declared field, and executes
// the request with either a query string or a JSON body depending on the
// schema's HTTP method. The raw response text is kept for display.
type EndpointForm struct {
	transport core.Transport
	nav       *core.NavBuilder
	name      string

	mu         sync.Mutex
	schema     *core.EndpointSchema
	values     map[string]string
	response   string
	progress   Progress
	submitting bool
}

// Control is the renderable description of one schema field together with
// its current value.
type Control struct {
	Field core.EndpointField
	// InputType is the HTML-ish control kind: text, number, date, password,
	// or textarea.
	InputType string
	Value     string
	// DocURL links the field's declared type to the schema browser; empty
	// when the field declares none.
	DocURL string
}

func NewEndpointForm(t core.Transport, nav *core.NavBuilder, endpointName string) *EndpointForm {
	return &EndpointForm{
		transport: t,
		nav:       nav,
		name:      endpointName,
		values:    map[string]string{},
	}
}

// Load fetches the endpoint's schema from the discovery endpoint.
func (f *EndpointForm) Load(ctx context.Context) error {
	endpoint := "/schema/endpoint/info?endpointName=" + url.QueryEscape(f.name)
	resp, err := f.transport.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("cannot load schema for %s: %s", f.name, resp.Message)
	}
	var schema core.EndpointSchema
	if err := resp.Decode(&schema); err != nil {
		return fmt.Errorf("cannot decode schema for %s: %w", f.name, err)
	}
	if schema.HTTPMethod == "" {
		schema.HTTPMethod = http.MethodGet
	}
	f.mu.Lock()
	f.schema = &schema
	f.mu.Unlock()
	return nil
}

// Schema returns the loaded schema, or nil before Load.
func (f *EndpointForm) Schema() *core.EndpointSchema {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schema
}

// SetValue stores a field value. Unknown fields are rejected so a typo in a
// caller cannot silently widen the request.
func (f *EndpointForm) SetValue(field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil || f.fieldByName(field) == nil {
		return fmt.Errorf("%w: %q", core.ErrUnknownField, field)
	}
	f.values[field] = value
	return nil
}

func (f *EndpointForm) fieldByName(name string) *core.EndpointField {
	for i := range f.schema.Fields {
		if f.schema.Fields[i].Name == name {
			return &f.schema.Fields[i]
		}
	}
	return nil
}

// Controls returns one renderable control per schema field, in schema order.
func (f *EndpointForm) Controls() []Control {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return nil
	}
	controls := make([]Control, 0, len(f.schema.Fields))
	for _, field := range f.schema.Fields {
		c := Control{Field: field, Value: f.values[field.Name]}
		switch field.Type {
		case core.FieldNumber:
			c.InputType = "number"
		case core.FieldDate:
			c.InputType = "date"
		case core.FieldPassword:
			c.InputType = "password"
		case core.FieldLargeText:
			c.InputType = "textarea"
		default:
			c.InputType = "text"
		}
		if field.DnTypeName != "" && f.nav != nil {
			c.DocURL = f.nav.NavURL("/schema/dnType/list",
				map[string]string{"dnTypeName": field.DnTypeName})
		}
		controls = append(controls, c)
	}
	return controls
}

// Validate checks typed fields and required-ness before a submit.
func (f *EndpointForm) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return fmt.Errorf("no schema loaded for %s", f.name)
	}
	for _, field := range f.schema.Fields {
		value := f.values[field.Name]
		if value == "" {
			if field.Required {
				return fmt.Errorf("field %s is required", field.Name)
			}
			continue
		}
		switch field.Type {
		case core.FieldNumber:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("field %s must be a number", field.Name)
			}
		case core.FieldDate:
			if _, err := time.Parse("2006-01-02", value); err != nil {
				if _, err := time.Parse(time.RFC3339, value); err != nil {
					return fmt.Errorf("field %s must be a date", field.Name)
				}
			}
		}
	}
	return nil
}

// buildQuery renders the non-blank values as a query string in schema field
// order. Password values are replaced with asterisks when masked; masking is
// for the human-readable preview only.
func (f *EndpointForm) buildQuery(masked bool) string {
	var b strings.Builder
	for _, field := range f.schema.Fields {
		value := f.values[field.Name]
		if value == "" {
			continue
		}
		if masked && field.Type == core.FieldPassword {
			value = strings.Repeat("*", len(value))
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(field.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	return b.String()
}

// buildBody renders the non-blank values as a JSON payload, sending numbers
// as numbers.
func (f *EndpointForm) buildBody() (map[string]any, error) {
	body := map[string]any{}
	for _, field := range f.schema.Fields {
		value := f.values[field.Name]
		if value == "" {
			continue
		}
		if field.Type == core.FieldNumber {
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s must be a number", field.Name)
			}
			body[field.Name] = n
			continue
		}
		body[field.Name] = value
	}
	return body, nil
}

// endpointPath derives the request path from the endpoint name, which the
// discovery service reports in slash-separated form already.
func (f *EndpointForm) endpointPath() string {
	if strings.HasPrefix(f.name, "/") {
		return f.name
	}
	return "/" + f.name
}

// PreviewURL is the human-readable form of the GET request that Submit
// would issue, with password values masked. The real request never masks.
func (f *EndpointForm) PreviewURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return ""
	}
	query := f.buildQuery(true)
	if query == "" {
		return f.endpointPath()
	}
	return f.endpointPath() + "?" + query
}

// PreviewBody is the masked JSON preview for non-GET methods.
func (f *EndpointForm) PreviewBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return ""
	}
	body := map[string]any{}
	for _, field := range f.schema.Fields {
		value := f.values[field.Name]
		if value == "" {
			continue
		}
		if field.Type == core.FieldPassword {
			value = strings.Repeat("*", len(value))
		}
		body[field.Name] = value
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// Submit executes the request described by the schema and current values
// and retains the raw response text for display.
func (f *EndpointForm) Submit(ctx context.Context) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return core.ErrSubmitInProgress
	}
	f.submitting = true
	method := strings.ToUpper(f.schema.HTTPMethod)
	var endpoint string
	var payload any
	if method == http.MethodGet {
		endpoint = f.endpointPath()
		if query := f.buildQuery(false); query != "" {
			endpoint += "?" + query
		}
	} else {
		endpoint = f.endpointPath()
		body, err := f.buildBody()
		if err != nil {
			f.submitting = false
			f.mu.Unlock()
			return err
		}
		payload = body
	}
	f.mu.Unlock()

	text, err := f.transport.DoText(ctx, method, endpoint, payload)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err != nil {
		f.progress = Progress{Message: err.Error(), IsError: true}
		return nil
	}
	f.response = text
	f.progress = Progress{}
	return nil
}

// Response returns the raw text of the last submission.
func (f *EndpointForm) Response() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response
}

// Progress returns the last submission problem, or the zero value.
func (f *EndpointForm) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}
