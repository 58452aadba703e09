package services

import (
	"context"
	"net/http"
	"sync"

	"github.com/dynamicruntime/dnclient/core"
)

// FakeTransport is a test-only fake implementing core.Transport. It serves
// scripted responses keyed by "METHOD endpoint", records every call, and
// exposes error fields for behavior injection.
type FakeTransport struct {
	mu        sync.Mutex
	responses map[string]*core.Response
	texts     map[string]string
	errs      map[string]error
	calls     []FakeCall

	// Handler, when set, wins over the scripted maps.
	Handler func(method, endpoint string, payload any) (*core.Response, error)
}

type FakeCall struct {
	Method   string
	Endpoint string
	Payload  any
}

var _ core.Transport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		responses: make(map[string]*core.Response),
		texts:     make(map[string]string),
		errs:      make(map[string]error),
	}
}

// Respond scripts the envelope returned for a method and endpoint. The body
// is given as JSON so tests read like wire traffic.
func (f *FakeTransport) Respond(method, endpoint, body string) {
	resp, err := core.ParseResponse([]byte(body))
	if err != nil {
		panic("FakeTransport.Respond: bad body: " + err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+endpoint] = resp
}

// RespondText scripts the raw text returned by DoText.
func (f *FakeTransport) RespondText(method, endpoint, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[method+" "+endpoint] = text
}

// Fail scripts an error for a method and endpoint.
func (f *FakeTransport) Fail(method, endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+" "+endpoint] = err
}

// Calls returns a copy of every recorded call in order.
func (f *FakeTransport) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]FakeCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// CallCount returns how many calls hit a method and endpoint.
func (f *FakeTransport) CallCount(method, endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if c.Method == method && c.Endpoint == endpoint {
			count++
		}
	}
	return count
}

func (f *FakeTransport) Do(ctx context.Context, method, endpoint string, payload any) (*core.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Method: method, Endpoint: endpoint, Payload: payload})
	handler := f.Handler
	err := f.errs[method+" "+endpoint]
	resp := f.responses[method+" "+endpoint]
	f.mu.Unlock()

	if handler != nil {
		return handler(method, endpoint, payload)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, core.ErrNoResponseData
	}
	// Hand out a copy so a test mutating the result cannot corrupt the script.
	clone := *resp
	return &clone, nil
}

func (f *FakeTransport) Get(ctx context.Context, endpoint string) (*core.Response, error) {
	return f.Do(ctx, http.MethodGet, endpoint, nil)
}

func (f *FakeTransport) DoText(ctx context.Context, method, endpoint string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Method: method, Endpoint: endpoint, Payload: payload})
	err := f.errs[method+" "+endpoint]
	text, ok := f.texts[method+" "+endpoint]
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if !ok {
		return "", core.ErrNoResponseData
	}
	return text, nil
}
