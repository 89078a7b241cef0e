package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/ScormHost/backend/internal/scorm"
)

var (
	ErrNotHTML      = errors.New("content is not an HTML document")
	ErrPageTooLarge = errors.New("content exceeds maximum size")
)

// Script is one page script in document order. Src is resolved against the
// page URL; Code holds the inline body or the fetched source.
type Script struct {
	Src  string
	Code string
}

// Page is a fetched and decoded content document.
type Page struct {
	URL     string
	Title   string
	Charset string
	MIME    string
	Scripts []Script
	DOM     *DOM
}

// Loader fetches content pages for the headless sandbox.
type Loader struct {
	client *resty.Client
	config Config
	logger *zap.Logger
}

// NewLoader creates a loader. A nil client gets a resty client with the
// sandbox timeout.
func NewLoader(client *resty.Client, config Config, logger *zap.Logger) *Loader {
	if client == nil {
		client = resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "ScormHost/1.0 (headless)")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxPageBytes <= 0 {
		config.MaxPageBytes = DefaultConfig().MaxPageBytes
	}
	return &Loader{client: client, config: config, logger: logger}
}

// Load fetches pageURL, decodes it to UTF-8 and collects its scripts.
// Every failure to obtain the page is a *scorm.LoadError. External scripts
// that fail to load are logged and skipped, as a browser would.
func (l *Loader) Load(ctx context.Context, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &scorm.LoadError{URL: pageURL, Err: fmt.Errorf("invalid url: %q", pageURL)}
	}

	body, contentType, err := l.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	mime := mimetype.Detect(body)
	if !isHTML(mime, contentType) {
		return nil, &scorm.LoadError{URL: pageURL, Err: fmt.Errorf("%w: %s", ErrNotHTML, mime.String())}
	}

	name, decoded := decode(body, contentType)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return nil, &scorm.LoadError{URL: pageURL, Err: err}
	}

	page := &Page{
		URL:     pageURL,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Charset: name,
		MIME:    mime.String(),
		DOM:     NewDOM(doc),
	}
	page.Scripts = l.scripts(ctx, base, doc)

	l.logger.Debug("content loaded",
		zap.String("url", pageURL),
		zap.String("charset", name),
		zap.Int("scripts", len(page.Scripts)))
	return page, nil
}

func (l *Loader) fetch(ctx context.Context, target string) ([]byte, string, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml,*/*;q=0.8").
		Get(target)
	if err != nil {
		return nil, "", &scorm.LoadError{URL: target, Err: err}
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, "", &scorm.LoadError{URL: target, Status: resp.StatusCode()}
	}

	body := resp.Body()
	if int64(len(body)) > l.config.MaxPageBytes {
		return nil, "", &scorm.LoadError{URL: target, Err: ErrPageTooLarge}
	}
	return body, resp.Header().Get("Content-Type"), nil
}

// scripts returns the page's classic scripts in document order.
func (l *Loader) scripts(ctx context.Context, base *url.URL, doc *goquery.Document) []Script {
	var out []Script
	fetched := 0

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t, ok := s.Attr("type"); ok && !isJavaScriptType(t) {
			return
		}

		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			if code := s.Text(); strings.TrimSpace(code) != "" {
				out = append(out, Script{Code: code})
			}
			return
		}

		ref, err := base.Parse(strings.TrimSpace(src))
		if err != nil {
			l.logger.Debug("bad script src", zap.String("src", src), zap.Error(err))
			return
		}
		if l.config.MaxScripts > 0 && fetched >= l.config.MaxScripts {
			l.logger.Debug("script limit reached", zap.String("src", ref.String()))
			return
		}
		fetched++

		body, contentType, err := l.fetch(ctx, ref.String())
		if err != nil {
			l.logger.Warn("content script failed to load", zap.String("src", ref.String()), zap.Error(err))
			return
		}
		_, code := decode(body, contentType)
		out = append(out, Script{Src: ref.String(), Code: string(code)})
	})
	return out
}

// decode converts body to UTF-8. A BOM, the Content-Type charset or a meta
// declaration wins; chardet only guesses for undeclared non-UTF-8 bodies.
func decode(body []byte, contentType string) (string, []byte) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" && !declaresCharset(body) {
		if guess := detectCharset(body); guess != "" {
			if e, n := charset.Lookup(guess); e != nil {
				enc, name = e, n
			}
		}
	}
	if name == "utf-8" {
		return name, body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return name, body
	}
	return name, out
}

func declaresCharset(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("charset"))
}

func detectCharset(body []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(body)
	if err != nil || result == nil || result.Confidence < 50 {
		return ""
	}
	return strings.ToLower(result.Charset)
}

func isHTML(mime *mimetype.MIME, contentType string) bool {
	if mime.Is("text/html") || mime.Is("application/xhtml+xml") {
		return true
	}
	// Fragments without a doctype sniff as plain text; trust the server then.
	ct := strings.ToLower(contentType)
	return mime.Is("text/plain") && (strings.Contains(ct, "text/html") || strings.Contains(ct, "xhtml"))
}

func isJavaScriptType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text/javascript", "application/javascript", "application/x-javascript", "text/ecmascript", "application/ecmascript":
		return true
	}
	return false
}
