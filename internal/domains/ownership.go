package domains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

const maxTokenFileSize = 4 << 10

// Result is the outcome of one ownership check. A failed check is not an
// error; Reason says why it failed.
type Result struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Challenge tells the domain owner what to publish.
type Challenge struct {
	Method      models.ValidationMethod `json:"method"`
	Token       string                  `json:"token"`
	RecordType  string                  `json:"record_type,omitempty"`
	RecordName  string                  `json:"record_name,omitempty"`
	RecordValue string                  `json:"record_value,omitempty"`
	FileURL     string                  `json:"file_url,omitempty"`
	FileContent string                  `json:"file_content,omitempty"`
}

// OwnershipVerifier proves control of a domain by one method.
type OwnershipVerifier interface {
	Method() models.ValidationMethod
	Challenge(domain, token string) Challenge
	Verify(ctx context.Context, domain, token string) Result
}

// DNSVerifier checks for a TXT record under a fixed label of the domain.
type DNSVerifier struct {
	client  *dns.Client
	server  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDNSVerifier queries server (host:port) for TXT records named
// prefix.domain.
func NewDNSVerifier(server, prefix string, timeout time.Duration, logger *slog.Logger) *DNSVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DNSVerifier{
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		server:  server,
		prefix:  strings.Trim(prefix, "."),
		timeout: timeout,
		logger:  logger.With("component", "dns_verifier"),
	}
}

func (v *DNSVerifier) Method() models.ValidationMethod { return models.ValidationDNS }

func (v *DNSVerifier) recordName(domain string) string {
	if v.prefix == "" {
		return domain
	}
	return v.prefix + "." + domain
}

func recordValue(token string) string {
	return "license-verification=" + token
}

func (v *DNSVerifier) Challenge(domain, token string) Challenge {
	return Challenge{
		Method:      models.ValidationDNS,
		Token:       token,
		RecordType:  "TXT",
		RecordName:  v.recordName(domain),
		RecordValue: recordValue(token),
	}
}

// Verify looks for a TXT record whose text equals the expected value.
// Timeouts and resolver failures report an unverified result.
func (v *DNSVerifier) Verify(ctx context.Context, domain, token string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	name := dns.Fqdn(v.recordName(domain))
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := v.client.ExchangeContext(ctx, msg, v.server)
	if err != nil {
		reason := "dns lookup failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			reason = "dns lookup timed out"
		}
		v.logger.WarnContext(ctx, reason, "domain", domain, "record", name, "error", err)
		return Result{Reason: reason}
	}
	if resp.Rcode != dns.RcodeSuccess {
		return Result{Reason: fmt.Sprintf("dns lookup returned %s", dns.RcodeToString[resp.Rcode])}
	}

	expected := recordValue(token)
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if strings.Join(txt.Txt, "") == expected {
			return Result{Verified: true}
		}
	}
	return Result{Reason: fmt.Sprintf("no TXT record %s with the expected value", strings.TrimSuffix(name, "."))}
}

// FileVerifier fetches a token file over HTTPS from a well-known path.
type FileVerifier struct {
	client  *http.Client
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFileVerifier uses client, or a client with timeout when nil.
func NewFileVerifier(client *http.Client, path string, timeout time.Duration, logger *slog.Logger) *FileVerifier {
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.URL.Scheme != "https" {
					return errors.New("redirect to non-https url")
				}
				if len(via) >= 3 {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileVerifier{
		client:  client,
		path:    path,
		timeout: timeout,
		logger:  logger.With("component", "file_verifier"),
	}
}

func (v *FileVerifier) Method() models.ValidationMethod { return models.ValidationFile }

func (v *FileVerifier) url(domain string) string {
	return "https://" + domain + v.path
}

func (v *FileVerifier) Challenge(domain, token string) Challenge {
	return Challenge{
		Method:      models.ValidationFile,
		Token:       token,
		FileURL:     v.url(domain),
		FileContent: token,
	}
}

// Verify fetches the token file and requires its trimmed body to equal token.
func (v *FileVerifier) Verify(ctx context.Context, domain, token string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url(domain), nil)
	if err != nil {
		return Result{Reason: "invalid verification url"}
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := v.client.Do(req)
	if err != nil {
		reason := "verification file fetch failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			reason = "verification file fetch timed out"
		}
		v.logger.WarnContext(ctx, reason, "domain", domain, "error", err)
		return Result{Reason: reason}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Reason: fmt.Sprintf("verification file returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenFileSize))
	if err != nil {
		return Result{Reason: "verification file read failed"}
	}
	if strings.TrimSpace(string(body)) != token {
		return Result{Reason: "verification file content does not match token"}
	}
	return Result{Verified: true}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
