package skills

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

const (
	maxResponseBytes = 1 << 20
	maxWebChars      = 5_000
	maxBodyChars     = 100_000
	fetchTimeout     = 15 * time.Second
	requestTimeout   = 20 * time.Second
	userAgent        = "agentcore/1.0"
)

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
}

func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

// webClient issues outbound requests and refuses to connect to loopback,
// private or link-local addresses. The check runs at dial time as well, so a
// hostname that re-resolves to an internal address is still refused.
// Every redirect hop goes through the policy again.
type webClient struct {
	policy       policy.Enforcer
	allowPrivate bool
	// sameHost refuses redirects to another host: an approval covers one endpoint.
	sameHost bool
	client   *http.Client
}

func newWebClient(p policy.Enforcer, allowPrivate, sameHost bool) *webClient {
	w := &webClient{policy: p, allowPrivate: allowPrivate, sameHost: sameHost}
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			if w.allowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip != nil && privateIP(ip) {
				return fmt.Errorf("connection to private address %s refused", host)
			}
			return nil
		},
	}
	w.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     60 * time.Second,
		},
		CheckRedirect: w.checkRedirect,
	}
	return w
}

func (w *webClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if w.sameHost && !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		return fmt.Errorf("%w: redirect from %s to %s refused", domain.ErrPolicyDenied, via[0].URL.Host, req.URL.Host)
	}
	if w.policy != nil {
		if res := w.policy.CheckHTTPAccess(req.URL.String(), req.Method); !res.Allowed() {
			return fmt.Errorf("%w: redirect to %s: %s", domain.ErrPolicyDenied, req.URL, res.Reason)
		}
	}
	return w.checkURL(req.Context(), req.URL.String())
}

// checkURL is the static SSRF guard: scheme, blocked hostnames, literal and
// resolved private addresses. A failed lookup passes here and fails on dial.
func (w *webClient) checkURL(ctx context.Context, raw string) error {
	if len(raw) > 2048 {
		return invalid("URL is longer than 2048 characters")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("malformed URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("only http and https URLs are allowed, got %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return invalid("URL has no host")
	}
	if w.allowPrivate {
		return nil
	}
	if blockedHosts[host] || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return invalid("access to %s is blocked", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if privateIP(ip) {
			return invalid("access to private address %s is blocked", host)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if privateIP(a.IP) {
			return invalid("%s resolves to private address %s", host, a.IP)
		}
	}
	return nil
}

type webResponse struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (w *webClient) do(ctx context.Context, method, raw, body, contentType string) (webResponse, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, raw, rd)
	if err != nil {
		return webResponse{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	if body != "" {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return webResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return webResponse{}, err
	}
	text := string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = htmlToText(text)
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return webResponse{Method: method, URL: raw, Status: resp.StatusCode, Body: text}, nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// htmlToText extracts readable text from a page, dropping scripts and styles.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return b.String()
}

// URLFetch downloads a page and returns its text content.
type URLFetch struct {
	policy policy.Enforcer
	web    *webClient
}

func NewURLFetch(p policy.Enforcer) *URLFetch {
	return &URLFetch{policy: p, web: newWebClient(p, false, false)}
}

func (s *URLFetch) Metadata() Metadata {
	return Metadata{
		Name: "url_fetch",
		Description: "Fetch a web page over HTTP(S) and return its readable text. " +
			"Internal and private network addresses are not reachable.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 3,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "Absolute http or https URL."},
			},
			"required": []string{"url"},
		},
	}
}

func (s *URLFetch) Validate(params map[string]any) error {
	raw, err := stringParam(params, "url", true)
	if err != nil {
		return err
	}
	return s.web.checkURL(context.Background(), raw)
}

func (s *URLFetch) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	raw, _ := stringParam(params, "url", true)
	return s.policy.CheckHTTPAccess(raw, http.MethodGet)
}

func (s *URLFetch) Execute(ctx context.Context, params map[string]any) (any, error) {
	raw, _ := stringParam(params, "url", true)
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	resp, err := s.web.do(ctx, http.MethodGet, raw, "", "")
	if err != nil {
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, fmt.Errorf("HTTP error fetching %s: status %d", raw, resp.Status)
	}
	return resp, nil
}

func (s *URLFetch) SanitizeOutput(result any) string {
	r, ok := result.(webResponse)
	if !ok {
		return fmt.Sprintf("[url_fetch] unexpected result %T", result)
	}
	text := Truncate(SanitizeExternal(r.Body), maxWebChars)
	if text == "" {
		text = "(empty page)"
	}
	return fmt.Sprintf("[%s] (HTTP %d)\n\n%s", r.URL, r.Status, text)
}

// HTTPRequest performs an arbitrary HTTP call. Anything but GET and HEAD goes
// through human approval.
type HTTPRequest struct {
	policy policy.Enforcer
	web    *webClient
}

func NewHTTPRequest(p policy.Enforcer) *HTTPRequest {
	return &HTTPRequest{policy: p, web: newWebClient(p, false, true)}
}

var httpMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

func (s *HTTPRequest) Metadata() Metadata {
	return Metadata{
		Name: "http_request",
		Description: "Send an HTTP request to an external API and return the status and body. " +
			"Requests that change remote state require human approval.",
		RiskLevel:       domain.RiskHigh,
		MaxCallsPerTurn: 3,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":          map[string]any{"type": "string", "description": "Absolute http or https URL."},
				"method":       map[string]any{"type": "string", "enum": httpMethods, "description": "HTTP method, GET by default."},
				"body":         map[string]any{"type": "string", "description": "Request body."},
				"content_type": map[string]any{"type": "string", "description": "Body content type, application/json by default."},
			},
			"required": []string{"url"},
		},
	}
}

func (s *HTTPRequest) method(params map[string]any) (string, error) {
	if m, ok := params["method"].(string); ok {
		params["method"] = strings.ToUpper(strings.TrimSpace(m))
	}
	return enumParam(params, "method", http.MethodGet, httpMethods...)
}

func (s *HTTPRequest) Validate(params map[string]any) error {
	raw, err := stringParam(params, "url", true)
	if err != nil {
		return err
	}
	if _, err := s.method(params); err != nil {
		return err
	}
	body, err := stringParam(params, "body", false)
	if err != nil {
		return err
	}
	if len(body) > maxBodyChars {
		return invalid("parameter 'body' must be under %d bytes", maxBodyChars)
	}
	if _, err := stringParam(params, "content_type", false); err != nil {
		return err
	}
	return s.web.checkURL(context.Background(), raw)
}

func (s *HTTPRequest) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	raw, _ := stringParam(params, "url", true)
	method, _ := s.method(params)
	return s.policy.CheckHTTPAccess(raw, method)
}

func (s *HTTPRequest) DescribeApproval(params map[string]any) (string, string) {
	raw, _ := stringParam(params, "url", true)
	method, _ := s.method(params)
	body, _ := stringParam(params, "body", false)
	return method + " " + raw, body
}

func (s *HTTPRequest) Execute(ctx context.Context, params map[string]any) (any, error) {
	raw, _ := stringParam(params, "url", true)
	method, _ := s.method(params)
	body, _ := stringParam(params, "body", false)
	ct, _ := stringParam(params, "content_type", false)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return s.web.do(ctx, method, raw, body, ct)
}

func (s *HTTPRequest) SanitizeOutput(result any) string {
	r, ok := result.(webResponse)
	if !ok {
		return fmt.Sprintf("[http_request] unexpected result %T", result)
	}
	text := Truncate(SanitizeExternal(r.Body), maxWebChars)
	if text == "" {
		text = "(empty body)"
	}
	return fmt.Sprintf("[%s %s] HTTP %d\n\n%s", r.Method, r.URL, r.Status, text)
}
