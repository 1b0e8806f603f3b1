package security

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrDocumentURLRejected は書類URLがダウンロード方針に合わない場合に返される。
	ErrDocumentURLRejected = errors.New("document URL rejected")
	// ErrResponseTooLarge はレスポンス本文が上限サイズを超えた場合に返される。
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
)

// maxDocumentRedirects は外部ホストからのダウンロードで追跡するリダイレクトの上限。
const maxDocumentRedirects = 3

// DocumentPolicy はバックエンド以外のホストにある出荷書類へ適用するダウンロード方針。
type DocumentPolicy struct {
	// AllowedHosts はダウンロードを許可する外部ホスト。
	// "." で始まるエントリはそのドメイン配下のすべてのホストに一致する（例: ".s3.amazonaws.com"）。
	// 空の場合はブロック対象以外のすべての公開ホストを許可する。
	AllowedHosts []string
	// AllowHTTP がfalseの場合はhttpsのみ許可する。
	AllowHTTP bool
	// MaxSize はレスポンス本文の上限バイト数。0以下は無制限。
	MaxSize int64
	// Timeout はリクエスト全体のタイムアウト。
	Timeout time.Duration
}

// DocumentGuard は外部ホストの書類URLを検証し、SSRF防止クライアントを提供する。
// 静的な検証はCheckで、DNS解決後のIP検証はsafeurlのDialerで行う。
type DocumentGuard struct {
	policy  DocumentPolicy
	schemes []string
	ports   []int
	hosts   []string
}

// NewDocumentGuard はpolicyに従うDocumentGuardを生成する。
func NewDocumentGuard(policy DocumentPolicy) *DocumentGuard {
	g := &DocumentGuard{
		policy:  policy,
		schemes: []string{"https"},
		ports:   []int{443},
	}
	if policy.AllowHTTP {
		g.schemes = append(g.schemes, "http")
		g.ports = append(g.ports, 80)
	}
	for _, h := range policy.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			g.hosts = append(g.hosts, h)
		}
	}
	return g
}

// blockedNetworks はダウンロード先として拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10", // CGNAT
		"127.0.0.0/8",
		"169.254.0.0/16", // クラウドメタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostSuffixes は社内向けの名前解決に使われるホスト名の接尾辞。
var blockedHostSuffixes = []string{".localhost", ".internal", ".local"}

// Check はrawURLが外部ホストの書類URLとしてダウンロード方針を満たすかを検証する。
// DNS解決は行わない。違反時のエラーはErrDocumentURLRejectedをラップする。
func (g *DocumentGuard) Check(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrDocumentURLRejected)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentURLRejected, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: relative URL %q must be resolved against the backend first", ErrDocumentURLRejected, rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if !contains(g.schemes, scheme) {
		return fmt.Errorf("%w: scheme %q is not allowed (allowed: %s)", ErrDocumentURLRejected, scheme, strings.Join(g.schemes, ", "))
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrDocumentURLRejected)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrDocumentURLRejected)
	}
	if port := u.Port(); port != "" && !g.allowedPort(port) {
		return fmt.Errorf("%w: port %s is not allowed", ErrDocumentURLRejected, port)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address %s", ErrDocumentURLRejected, ip)
		}
	} else if isBlockedHostname(host) {
		return fmt.Errorf("%w: blocked host %s", ErrDocumentURLRejected, host)
	}

	if len(g.hosts) > 0 && !g.allowedHost(host) {
		return fmt.Errorf("%w: host %s is not in the document host allow-list", ErrDocumentURLRejected, host)
	}
	return nil
}

// Client は外部ホストから書類を取得するためのHTTPクライアントを返す。
// safeurlのDialerが接続先IPを検証し、リダイレクト先にもCheckを適用する。
// MaxSizeが設定されていれば、上限を超えた本文の読み込みはErrResponseTooLargeで失敗する。
func (g *DocumentGuard) Client() *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(g.policy.Timeout).
		SetAllowedSchemes(g.schemes...).
		SetAllowedPorts(g.ports...).
		Build()

	client := safeurl.Client(config).Client
	if g.policy.MaxSize > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &limitedTransport{base: base, max: g.policy.MaxSize}
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxDocumentRedirects {
			return fmt.Errorf("%w: too many redirects", ErrDocumentURLRejected)
		}
		return g.Check(req.URL.String())
	}
	return client
}

func (g *DocumentGuard) allowedHost(host string) bool {
	for _, allowed := range g.hosts {
		if strings.HasPrefix(allowed, ".") {
			if strings.HasSuffix(host, allowed) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func (g *DocumentGuard) allowedPort(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

// limitedTransport はレスポンス本文を上限サイズで打ち切る。
type limitedTransport struct {
	base http.RoundTripper
	max  int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.max {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes declared", ErrResponseTooLarge, resp.ContentLength)
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.max}
	return resp, nil
}

// limitedBody は上限を1バイトでも超えて読まれた時点でエラーを返す。
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n - 1, ErrResponseTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
