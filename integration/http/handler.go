//go:build integration
// +build integration

package http

import (
	"net/http"
	"sync"
)

var (
	mu    sync.Mutex
	recvd = map[string]bool{}
)

// GetHttpTestHandlerFunc stands in for a service mesh sidecar proxy.
func GetHttpTestHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/quitquitquit":
			handleQuit(w, r)
			return
		}
	}
}

func Received(path string) bool {
	mu.Lock()
	defer mu.Unlock()
	return recvd[path]
}

func Reset() {
	mu.Lock()
	defer mu.Unlock()
	recvd = map[string]bool{}
}

func handleQuit(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	recvd["/quitquitquit"] = true
	mu.Unlock()

	w.WriteHeader(200)
}
