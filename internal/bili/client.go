package bili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client is the remote surface the core depends on. Every call either
// returns a result or fails; no call retries internally.
type Client interface {
	// LoginVerify resolves the access key to an account. A platform reply
	// with uid 0 maps to ErrInvalidCredential.
	LoginVerify(ctx context.Context) (Account, error)

	// Medals lists all owned badges with room info. Paged internally;
	// consumed once per registry build.
	Medals(ctx context.Context) ([]Medal, error)

	LiveStatus(ctx context.Context, roomID int64) (LiveStatus, error)

	// WatchProgress returns today's watched progress in raw platform units.
	// The core scales it to minutes.
	WatchProgress(ctx context.Context, targetID int64) (int64, error)

	// BadgeLit re-queries the lit state of one badge.
	BadgeLit(ctx context.Context, targetID int64) (bool, error)

	Like(ctx context.Context, roomID, targetID, uid int64) error

	// SendMessage posts one chat message. Empty text lets the platform
	// pick its default emoticon.
	SendMessage(ctx context.Context, roomID int64, text string) error

	Heartbeat(ctx context.Context, roomID, targetID int64) error

	WearMedal(ctx context.Context, medalID int64) error

	// Close releases the underlying network session. The account runner
	// rotates sessions on day rollover.
	Close()
}

// App credentials for the mobile API surface. These are the platform's
// published mobile-client constants, not user secrets.
const (
	appKey    = "1d8b6e7d45233436"
	appSecret = "560c52ccd288fed045859ed18bffd973"
)

const (
	baseApp  = "https://app.bilibili.com"
	baseLive = "https://api.live.bilibili.com"

	requestTimeout = 5 * time.Second
	medalPageSize  = 50
)

// Config configures the HTTP client.
type Config struct {
	AccessKey string
	Proxy     string // optional outbound proxy URL

	// BaseApp/BaseLive override the API hosts (tests).
	BaseApp  string
	BaseLive string
}

type client struct {
	cfg  Config
	http *http.Client

	baseApp  string
	baseLive string
}

// New builds the HTTP client. The session carries a short fixed timeout;
// a timeout is indistinguishable from any other failure to callers.
func New(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, fmt.Errorf("access key is empty")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(cfg.Proxy); p != "" {
		pu, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(pu)
	}
	c := &client{
		cfg:      cfg,
		http:     &http.Client{Timeout: requestTimeout, Transport: transport},
		baseApp:  baseApp,
		baseLive: baseLive,
	}
	if cfg.BaseApp != "" {
		c.baseApp = cfg.BaseApp
	}
	if cfg.BaseLive != "" {
		c.baseLive = cfg.BaseLive
	}
	return c, nil
}

func (c *client) Close() {
	c.http.CloseIdleConnections()
}

// apiError is a non-zero platform response code.
type apiError struct {
	Code int
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// sign appends the mobile-API signature: params sorted by key, concatenated
// with the secret, md5-hexed into "sign".
func sign(params url.Values) url.Values {
	params.Set("appkey", appKey)
	params.Set("ts", strconv.FormatInt(time.Now().Unix(), 10))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	sum := md5.Sum([]byte(b.String() + appSecret))
	params.Set("sign", hex.EncodeToString(sum[:]))
	return params
}

func (c *client) do(ctx context.Context, method, rawURL string, params url.Values, out any) error {
	params.Set("access_key", c.cfg.AccessKey)
	params = sign(params)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, rawURL+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 BiliDroid/7.49.0 (bbcallen@gmail.com)")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &apiError{Code: env.Code, Msg: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func (c *client) LoginVerify(ctx context.Context) (Account, error) {
	var data struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodGet, c.baseApp+"/x/v2/account/mine", url.Values{}, &data)
	if err != nil {
		return Account{}, err
	}
	if data.Mid == 0 {
		return Account{}, ErrInvalidCredential
	}
	return Account{UID: data.Mid, Name: data.Name}, nil
}

type medalEntry struct {
	Medal struct {
		MedalID    int64 `json:"medal_id"`
		TargetID   int64 `json:"target_id"`
		Level      int   `json:"level"`
		GuardLevel int   `json:"guard_level"`
		IsLighted  int   `json:"is_lighted"`
	} `json:"medal"`
	AnchorInfo struct {
		NickName string `json:"nick_name"`
	} `json:"anchor_info"`
	RoomInfo struct {
		RoomID int64 `json:"room_id"`
	} `json:"room_info"`
}

func (e medalEntry) toMedal() Medal {
	return Medal{
		MedalID:    e.Medal.MedalID,
		TargetID:   e.Medal.TargetID,
		TargetName: e.AnchorInfo.NickName,
		RoomID:     e.RoomInfo.RoomID,
		GuardLevel: e.Medal.GuardLevel,
		Level:      e.Medal.Level,
		IsLit:      e.Medal.IsLighted == 1,
	}
}

func (c *client) Medals(ctx context.Context) ([]Medal, error) {
	var medals []Medal
	for page := 1; ; page++ {
		var data struct {
			List []medalEntry `json:"list"`
			PageInfo struct {
				TotalPage   int `json:"total_page"`
				CurrentPage int `json:"current_page"`
			} `json:"page_info"`
		}
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("page_size", strconv.Itoa(medalPageSize))
		err := c.do(ctx, http.MethodGet, c.baseLive+"/xlive/app-ucenter/v1/fansMedal/panel", params, &data)
		if err != nil {
			return nil, err
		}
		for _, e := range data.List {
			medals = append(medals, e.toMedal())
		}
		if data.PageInfo.TotalPage == 0 || page >= data.PageInfo.TotalPage || len(data.List) == 0 {
			return medals, nil
		}
	}
}

func (c *client) LiveStatus(ctx context.Context, roomID int64) (LiveStatus, error) {
	var data struct {
		LiveStatus int `json:"live_status"`
	}
	params := url.Values{}
	params.Set("room_id", strconv.FormatInt(roomID, 10))
	err := c.do(ctx, http.MethodGet, c.baseLive+"/room/v1/Room/get_info", params, &data)
	if err != nil {
		return StatusOffline, err
	}
	switch data.LiveStatus {
	case 1:
		return StatusLive, nil
	case 2:
		return StatusRotating, nil
	default:
		return StatusOffline, nil
	}
}

func (c *client) WatchProgress(ctx context.Context, targetID int64) (int64, error) {
	var data struct {
		Progress int64 `json:"watch_time"`
	}
	params := url.Values{}
	params.Set("target_id", strconv.FormatInt(targetID, 10))
	err := c.do(ctx, http.MethodGet, c.baseLive+"/xlive/app-ucenter/v1/fansMedal/live_progress", params, &data)
	if err != nil {
		return 0, err
	}
	return data.Progress, nil
}

func (c *client) BadgeLit(ctx context.Context, targetID int64) (bool, error) {
	var data struct {
		IsLighted int `json:"is_lighted"`
	}
	params := url.Values{}
	params.Set("target_id", strconv.FormatInt(targetID, 10))
	err := c.do(ctx, http.MethodGet, c.baseLive+"/xlive/app-ucenter/v1/fansMedal/medal_state", params, &data)
	if err != nil {
		return false, err
	}
	return data.IsLighted == 1, nil
}

func (c *client) Like(ctx context.Context, roomID, targetID, uid int64) error {
	params := url.Values{}
	params.Set("room_id", strconv.FormatInt(roomID, 10))
	params.Set("anchor_id", strconv.FormatInt(targetID, 10))
	params.Set("uid", strconv.FormatInt(uid, 10))
	params.Set("click_time", "1")
	return c.do(ctx, http.MethodPost, c.baseLive+"/xlive/app-ucenter/v1/like_info_v3/like/likeReportV3", params, nil)
}

func (c *client) SendMessage(ctx context.Context, roomID int64, text string) error {
	params := url.Values{}
	params.Set("cid", strconv.FormatInt(roomID, 10))
	if text != "" {
		params.Set("msg", text)
	} else {
		params.Set("msg", defaultMessage())
	}
	params.Set("rnd", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("color", "16777215")
	params.Set("fontsize", "25")
	return c.do(ctx, http.MethodPost, c.baseLive+"/xlive/app-ucenter/v2/danmaku/Send", params, nil)
}

func (c *client) Heartbeat(ctx context.Context, roomID, targetID int64) error {
	params := url.Values{}
	params.Set("room_id", strconv.FormatInt(roomID, 10))
	params.Set("target_id", strconv.FormatInt(targetID, 10))
	return c.do(ctx, http.MethodPost, c.baseLive+"/xlive/data-interface/v1/heartbeat/mobileHeartBeat", params, nil)
}

func (c *client) WearMedal(ctx context.Context, medalID int64) error {
	params := url.Values{}
	params.Set("medal_id", strconv.FormatInt(medalID, 10))
	return c.do(ctx, http.MethodPost, c.baseLive+"/xlive/app-ucenter/v1/fansMedal/wear", params, nil)
}

var stockMessages = []string{"(⌒▽⌒)", "（￣▽￣）", "(=・ω・=)", "(｀・ω・´)", "(〜￣△￣)〜", "(･∀･)", "(°∀°)ﾉ"}

func defaultMessage() string {
	return stockMessages[int(time.Now().UnixNano())%len(stockMessages)]
}
