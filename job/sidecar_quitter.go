package job

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"inviqa/event-outbox-relay/log"
)

type httpPoster interface {
	Post(url, contentType string, body io.Reader) (resp *http.Response, err error)
}

// SidecarQuitter tells a service mesh sidecar that a one-shot job is done,
// so that the pod can complete.
type SidecarQuitter struct {
	QuitSidecar     bool
	Client          httpPoster
	sidecarProxyUrl string
}

func (s *SidecarQuitter) EnableSideCarProxyQuit(proxyUrl string) {
	s.QuitSidecar = true
	s.sidecarProxyUrl = strings.TrimRight(proxyUrl, "/")
}

func (s *SidecarQuitter) Quit() error {
	url := s.sidecarProxyUrl + "/quitquitquit"
	resp, err := s.Client.Post(url, "text/plain", nil)
	if err != nil {
		log.Logger.WithError(err).WithField("url", url).Error("unexpected error received from sidecar proxy /quitquitquit")
		return err
	}

	if resp.Body != nil {
		_ = resp.Body.Close()
	}

	if resp.StatusCode >= 300 {
		err = fmt.Errorf("sidecar proxy answered /quitquitquit with status %d", resp.StatusCode)
		log.Logger.WithField("url", url).Error(err)
		return err
	}

	return nil
}
