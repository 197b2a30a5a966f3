package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockRequest logs incoming requests
type MockRequest struct {
	Method    string
	Path      string
	Query     map[string]string
	Body      map[string]interface{}
	Header    http.Header
	Timestamp time.Time
}

// MockPaymentProvider fakes the mobile-money push-payment API: one initiate
// endpoint and one verify endpoint, both answering from scripts.
type MockPaymentProvider struct {
	Server *httptest.Server

	mu               sync.Mutex
	initiateStatus   int
	initiateResponse map[string]interface{}
	verifyScript     []map[string]interface{}
	verifyDefault    map[string]interface{}
	verifyStatus     int
	verifyDelay      time.Duration
	verifyHold       chan struct{}
	requestLog       []MockRequest
	initiateCalls    int
	verifyCalls      int
}

// NewMockPaymentProvider serves initiatePath and verifyPath. By default
// initiation succeeds with token "abc123" and every verify call is pending.
func NewMockPaymentProvider(initiatePath, verifyPath string) *MockPaymentProvider {
	mock := &MockPaymentProvider{
		initiateStatus:   http.StatusOK,
		initiateResponse: map[string]interface{}{"status": true, "checkoutRequestID": "abc123"},
		verifyDefault:    map[string]interface{}{"status": false},
		verifyStatus:     http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(initiatePath, mock.handleInitiate)
	mux.HandleFunc(verifyPath, mock.handleVerify)
	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockPaymentProvider) handleInitiate(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.initiateCalls++
	m.logRequest(r)
	status, response := m.initiateStatus, m.initiateResponse
	m.mu.Unlock()

	writeJSON(w, status, response)
}

func (m *MockPaymentProvider) handleVerify(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.verifyCalls++
	m.logRequest(r)
	response := m.verifyDefault
	if len(m.verifyScript) > 0 {
		response = m.verifyScript[0]
		m.verifyScript = m.verifyScript[1:]
	}
	status, delay, hold := m.verifyStatus, m.verifyDelay, m.verifyHold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	writeJSON(w, status, response)
}

func (m *MockPaymentProvider) logRequest(r *http.Request) {
	req := MockRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     parseQuery(r),
		Header:    r.Header.Clone(),
		Timestamp: time.Now(),
	}
	if r.Body != nil && r.Method == http.MethodPost {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req.Body = body
		}
	}
	m.requestLog = append(m.requestLog, req)
}

func (m *MockPaymentProvider) SetInitiateResponse(status int, response map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiateStatus = status
	m.initiateResponse = response
}

// ScriptVerify queues verify responses; once drained the default answer is used.
func (m *MockPaymentProvider) ScriptVerify(responses ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyScript = append(m.verifyScript, responses...)
}

func (m *MockPaymentProvider) SetVerifyDefault(response map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyDefault = response
}

func (m *MockPaymentProvider) SetVerifyStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyStatus = status
}

func (m *MockPaymentProvider) SetVerifyDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyDelay = d
}

// HoldVerify makes verify calls block after they are counted, until
// ReleaseVerify or the caller gives up.
func (m *MockPaymentProvider) HoldVerify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyHold == nil {
		m.verifyHold = make(chan struct{})
	}
}

func (m *MockPaymentProvider) ReleaseVerify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyHold != nil {
		close(m.verifyHold)
		m.verifyHold = nil
	}
}

func (m *MockPaymentProvider) InitiateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initiateCalls
}

func (m *MockPaymentProvider) VerifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyCalls
}

func (m *MockPaymentProvider) GetRequestLog() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requestLog...)
}

func (m *MockPaymentProvider) Close() {
	m.Server.Close()
}

func (m *MockPaymentProvider) URL() string {
	return m.Server.URL
}

// MockAccessBackend fakes the grant endpoint of the access service.
type MockAccessBackend struct {
	Server *httptest.Server

	mu         sync.Mutex
	status     int
	response   map[string]interface{}
	requestLog []MockRequest
}

func NewMockAccessBackend() *MockAccessBackend {
	mock := &MockAccessBackend{
		status: http.StatusOK,
		response: map[string]interface{}{
			"success": true,
			"message": "access granted",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/grants", mock.handleGrant)
	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockAccessBackend) handleGrant(w http.ResponseWriter, r *http.Request) {
	req := MockRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Header:    r.Header.Clone(),
		Timestamp: time.Now(),
	}
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		req.Body = body
	}

	m.mu.Lock()
	m.requestLog = append(m.requestLog, req)
	status, response := m.status, m.response
	m.mu.Unlock()

	writeJSON(w, status, response)
}

func (m *MockAccessBackend) SetResponse(status int, response map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.response = response
}

func (m *MockAccessBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requestLog)
}

func (m *MockAccessBackend) GetRequestLog() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requestLog...)
}

func (m *MockAccessBackend) Close() {
	m.Server.Close()
}

func (m *MockAccessBackend) URL() string {
	return m.Server.URL
}

// MockTelegramBotAPI is a mock HTTP server for Telegram Bot API.
// Every method call is answered with ok=true and sendMessage payloads are kept.
type MockTelegramBotAPI struct {
	Server     *httptest.Server
	messages   []map[string]string
	mu         sync.RWMutex
	shouldFail bool
}

func NewMockTelegramBotAPI() *MockTelegramBotAPI {
	mock := &MockTelegramBotAPI{}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handleRequest))
	return mock
}

func (m *MockTelegramBotAPI) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	fail := m.shouldFail
	m.mu.RUnlock()
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		msg := make(map[string]string)
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					msg[k] = v[0]
				}
			}
		}
		m.mu.Lock()
		m.messages = append(m.messages, msg)
		m.mu.Unlock()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": map[string]interface{}{"message_id": 1},
	})
}

// GetSentMessages returns the form fields of every sendMessage call.
func (m *MockTelegramBotAPI) GetSentMessages() []map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]map[string]string(nil), m.messages...)
}

func (m *MockTelegramBotAPI) SetShouldFail(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
}

func (m *MockTelegramBotAPI) Close() {
	m.Server.Close()
}

func (m *MockTelegramBotAPI) URL() string {
	return m.Server.URL
}

func parseQuery(r *http.Request) map[string]string {
	result := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

// writeJSON sends only the status line when body is a nil map.
func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
