// Package querier provides a high-level API for querying mDNS (.local) names
// and services.
//
// A Querier is a resolver-only responder: it claims no host name, so it
// never probes or announces, and it turns full names such as
// "printer.local" or "_http._tcp.local" into one-shot queries.
//
// RFC 6762 §5.1: One-Shot Multicast DNS Queries
// RFC 6763 §4: Service Instance Enumeration (Browsing)
package querier

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/responder"
)

// DefaultTimeout bounds a query when the context carries no earlier
// deadline.
const DefaultTimeout = time.Second

// Querier sends mDNS queries and aggregates the answers.
//
// Querier is safe for concurrent use: every Query runs as an independent
// search inside the shared engine.
type Querier struct {
	resp     *responder.Responder
	timeout  time.Duration
	respOpts []responder.Option
}

// Option configures a Querier.
type Option func(*Querier) error

// WithTimeout sets the default query timeout.
//
// The effective timeout of a query is the earlier of this value and the
// context deadline.
func WithTimeout(d time.Duration) Option {
	return func(q *Querier) error {
		if d <= 0 {
			return &errors.ValidationError{Field: "timeout", Value: d, Message: "must be positive"}
		}
		q.timeout = d
		return nil
	}
}

// WithInterfaces restricts queries to the named interfaces.
func WithInterfaces(names ...string) Option {
	return func(q *Querier) error {
		q.respOpts = append(q.respOpts, responder.WithInterfaces(names...))
		return nil
	}
}

// WithResponderOptions passes options through to the underlying responder,
// for example a custom transport or clock.
func WithResponderOptions(opts ...responder.Option) Option {
	return func(q *Querier) error {
		q.respOpts = append(q.respOpts, opts...)
		return nil
	}
}

// New creates a Querier and starts its engine.
//
// Returns a NetworkError when the mDNS sockets cannot be opened.
func New(opts ...Option) (*Querier, error) {
	q := &Querier{timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	resp, err := responder.New(context.Background(), q.respOpts...)
	if err != nil {
		return nil, err
	}
	q.resp = resp
	return q, nil
}

// Responder returns the underlying resolver-only responder.
func (q *Querier) Responder() *responder.Responder {
	return q.resp
}

// Close stops the engine and releases the sockets.
func (q *Querier) Close() error {
	return q.resp.Close()
}

// Query resolves name for recordType.
//
// Names are full .local names; the trailing dot is optional:
//   - A, AAAA: "printer.local"
//   - PTR: "_http._tcp.local"
//   - SRV, TXT: "My Printer._ipp._tcp.local"
//
// PTR queries collect every instance seen before the timeout, with the SRV,
// TXT and address records that arrived alongside. Other types stop at the
// first answer.
//
// Returns a ValidationError for a malformed name or unsupported type and
// the context error if ctx is cancelled. A context deadline acts like the
// timeout: what arrived before it is returned. No answers is an empty
// Response, not an error.
func (q *Querier) Query(ctx context.Context, name string, recordType RecordType) (*Response, error) {
	instance, service, proto, err := splitName(name, recordType)
	if err != nil {
		return nil, err
	}

	timeout := q.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	maxResults := 1
	if recordType == RecordTypePTR {
		maxResults = 0
	}
	results, err := q.resp.Query(ctx, instance, service, proto, responder.RecordType(recordType), timeout, maxResults)
	if err != nil {
		return nil, err
	}
	return toResponse(results, recordType), nil
}

// splitName breaks a full name into the parts a search needs.
func splitName(name string, rt RecordType) (instance, service, proto string, err error) {
	invalid := func(msg string) error {
		return &errors.ValidationError{Field: "name", Value: name, Message: msg}
	}
	n := strings.TrimSuffix(strings.TrimSpace(name), ".")
	if n == "" {
		return "", "", "", invalid("must not be empty")
	}
	if i := len(n) - len(".local"); i <= 0 || !strings.EqualFold(n[i:], ".local") {
		return "", "", "", invalid("must end in .local")
	}
	n = n[:len(n)-len(".local")]

	switch rt {
	case RecordTypeA, RecordTypeAAAA:
		if strings.Contains(n, ".") || strings.HasPrefix(n, "_") {
			return "", "", "", invalid("host name must be a single label")
		}
		return n, "", "", nil
	case RecordTypePTR:
		parts := strings.Split(n, ".")
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") {
			return "", "", "", invalid("service type must look like _service._proto.local")
		}
		return "", parts[0], parts[1], nil
	case RecordTypeSRV, RecordTypeTXT:
		// The instance label may itself contain dots.
		j := strings.LastIndex(n, ".")
		if j <= 0 {
			return "", "", "", invalid("instance name must look like instance._service._proto.local")
		}
		i := strings.LastIndex(n[:j], ".")
		if i <= 0 || !strings.HasPrefix(n[i+1:j], "_") || !strings.HasPrefix(n[j+1:], "_") {
			return "", "", "", invalid("instance name must look like instance._service._proto.local")
		}
		return n[:i], n[i+1 : j], n[j+1:], nil
	default:
		return "", "", "", &errors.ValidationError{Field: "type", Value: rt, Message: "unsupported record type"}
	}
}

type recordKey struct {
	rt   RecordType
	name string
	data string
}

// toResponse flattens search results into records, dropping duplicates
// learned on several interfaces.
func toResponse(results []*responder.Result, rt RecordType) *Response {
	resp := &Response{}
	seen := make(map[recordKey]bool)
	add := func(rec ResourceRecord) {
		k := recordKey{rec.Type, strings.ToLower(rec.Name), fmt.Sprint(rec.Data)}
		if seen[k] {
			return
		}
		seen[k] = true
		resp.Records = append(resp.Records, rec)
	}

	for _, r := range results {
		ifIndex := r.Slot.Interface
		if r.Instance != "" && r.Service != "" {
			svcType := r.Service + "." + r.Proto + ".local"
			full := r.Instance + "." + svcType
			if rt == RecordTypePTR {
				add(ResourceRecord{Type: RecordTypePTR, Name: svcType, Data: full, Interface: ifIndex})
			}
			if r.Hostname != "" && (rt == RecordTypePTR || rt == RecordTypeSRV) {
				add(ResourceRecord{Type: RecordTypeSRV, Name: full, Interface: ifIndex,
					Data: SRVData{Target: r.Hostname + ".local", Port: r.Port}})
			}
			if len(r.TXT) > 0 && (rt == RecordTypePTR || rt == RecordTypeTXT) {
				txt := make([]string, len(r.TXT))
				for i, item := range r.TXT {
					txt[i] = item.String()
				}
				add(ResourceRecord{Type: RecordTypeTXT, Name: full, Data: txt, Interface: ifIndex})
			}
		}
		if r.Hostname == "" {
			continue
		}
		host := r.Hostname + ".local"
		for _, a := range r.Addrs {
			switch {
			case a.Is4() && rt != RecordTypeAAAA:
				add(ResourceRecord{Type: RecordTypeA, Name: host, Data: net.IP(a.AsSlice()), Interface: ifIndex})
			case a.Is6() && rt != RecordTypeA:
				add(ResourceRecord{Type: RecordTypeAAAA, Name: host, Data: net.IP(a.AsSlice()), Interface: ifIndex})
			}
		}
	}
	return resp
}
