package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// serverChan pushes via the ServerChan relay (sctapi.ftqq.com), the
// original delivery channel for this kind of bot.
type serverChan struct {
	key  string
	http *http.Client
	base string
}

func newServerChan(key string) *serverChan {
	return &serverChan{
		key:  key,
		http: &http.Client{Timeout: 8 * time.Second},
		base: "https://sctapi.ftqq.com",
	}
}

func (s *serverChan) Name() string { return "serverchan" }

func (s *serverChan) Send(ctx context.Context, title, body string) error {
	form := url.Values{}
	form.Set("title", title)
	form.Set("desp", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.base+"/"+s.key+".send", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("serverchan: http %d", resp.StatusCode)
	}
	return nil
}
