package test

import (
	"errors"
	"io"
	"net/http"
	"sync"
)

type MockHttpClient struct {
	sync.Mutex
	SentReqs     map[string]bool
	returnErrors bool
	status       int
}

func NewMockHttpClient() *MockHttpClient {
	return &MockHttpClient{
		SentReqs: map[string]bool{},
		status:   http.StatusOK,
	}
}

func (m *MockHttpClient) Post(url, contentType string, body io.Reader) (resp *http.Response, err error) {
	m.Lock()
	defer m.Unlock()

	if m.returnErrors {
		return nil, errors.New("oops")
	}

	m.SentReqs[url] = true

	return &http.Response{StatusCode: m.status}, nil
}

func (m *MockHttpClient) ReturnErrors() {
	m.returnErrors = true
}

// ReturnStatus makes every following request answer with status.
func (m *MockHttpClient) ReturnStatus(status int) {
	m.status = status
}
