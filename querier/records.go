package querier

import (
	"net"

	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// RecordType represents a DNS record type for querying per RFC 1035.
//
// RFC 1035 §3.2.2: TYPE Values
// RFC 6762 §5: mDNS Query Types
//
// Each type serves a specific purpose in DNS-SD service discovery:
//
//   - A and AAAA records: resolve host names to addresses
//   - PTR records: enumerate service instances of a given type
//   - SRV records: get service location (host name and port)
//   - TXT records: retrieve service metadata (key=value pairs)
//
// Example:
//
//	// Query for IPv4 address
//	response, _ := q.Query(ctx, "printer.local", querier.RecordTypeA)
//
//	// Discover HTTP services
//	response, _ = q.Query(ctx, "_http._tcp.local", querier.RecordTypePTR)
type RecordType uint16

const (
	// RecordTypeA queries for IPv4 address records (type 1).
	//
	// Example: Query("printer.local", RecordTypeA) → 192.168.1.100
	RecordTypeA RecordType = RecordType(protocol.RecordTypeA)

	// RecordTypePTR queries for pointer records (type 12).
	//
	// Used for service discovery.
	// Example: Query("_http._tcp.local", RecordTypePTR) → "webserver._http._tcp.local"
	RecordTypePTR RecordType = RecordType(protocol.RecordTypePTR)

	// RecordTypeTXT queries for text records (type 16).
	//
	// Used for service metadata (key=value pairs).
	// Example: Query("webserver._http._tcp.local", RecordTypeTXT) → ["version=1.0", "path=/"]
	RecordTypeTXT RecordType = RecordType(protocol.RecordTypeTXT)

	// RecordTypeAAAA queries for IPv6 address records (type 28).
	//
	// Example: Query("printer.local", RecordTypeAAAA) → fe80::1
	RecordTypeAAAA RecordType = RecordType(protocol.RecordTypeAAAA)

	// RecordTypeSRV queries for service records (type 33).
	//
	// Used to get service hostname and port.
	// Example: Query("webserver._http._tcp.local", RecordTypeSRV) → {Priority:0, Weight:0, Port:8080, Target:"server.local"}
	RecordTypeSRV RecordType = RecordType(protocol.RecordTypeSRV)
)

// String returns a human-readable name for the record type.
func (r RecordType) String() string {
	return protocol.RecordType(r).String()
}

// Response represents the aggregated results from an mDNS query per RFC 6762 §6.
//
// RFC 6762 §6: Responding
// RFC 6762 §7: Traffic Reduction (response aggregation)
//
// Response contains all unique resource records learned within the timeout
// window. Multiple responders may send identical records; these are
// deduplicated.
//
// An empty Records slice indicates no devices responded within the timeout. This is
// NOT an error condition - it simply means no services/devices were discovered.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    return err
//	}
//
//	if len(response.Records) == 0 {
//	    fmt.Println("No devices found (timeout - not an error)")
//	} else {
//	    for _, record := range response.Records {
//	        if ip := record.AsA(); ip != nil {
//	            fmt.Printf("Found device at %s\n", ip)
//	        }
//	    }
//	}
type Response struct {
	// Records contains all discovered resource records.
	//
	// Records may include:
	//   - Answer records (direct answers to the query)
	//   - Records resolved alongside a browse (SRV, TXT and addresses of
	//     each discovered instance)
	Records []ResourceRecord
}

// ResourceRecord represents a single record learned from mDNS responses.
//
// RFC 1035 §3.2.1: Resource Record Format
// RFC 6762 §5: mDNS Resource Record Format
//
// ResourceRecord provides the record's owner name and type together with
// type-specific parsed data through helper methods (AsA, AsAAAA, AsPTR,
// AsSRV, AsTXT).
//
// The Data field contains parsed, type-specific information:
//   - A and AAAA records: net.IP
//   - PTR record: string (target domain name)
//   - SRV record: SRVData struct (priority, weight, port, target)
//   - TXT record: []string (key=value strings)
//
// Example:
//
//	for _, record := range response.Records {
//	    switch record.Type {
//	    case querier.RecordTypeA:
//	        if ip := record.AsA(); ip != nil {
//	            fmt.Printf("IPv4: %s → %s\n", record.Name, ip)
//	        }
//	    case querier.RecordTypePTR:
//	        if target := record.AsPTR(); target != "" {
//	            fmt.Printf("Service: %s → %s\n", record.Name, target)
//	        }
//	    }
//	}
type ResourceRecord struct {
	// Data contains the type-specific parsed data:
	//   - A and AAAA records: net.IP
	//   - PTR record: string (target domain name)
	//   - SRV record: SRVData struct
	//   - TXT record: []string (text strings)
	//
	// Use AsA(), AsAAAA(), AsPTR(), AsSRV(), or AsTXT() for type-safe access.
	Data interface{}

	// Name is the domain name for this record (e.g., "printer.local").
	Name string

	// Type is the DNS record type.
	Type RecordType

	// Interface is the index of the interface the record was learned on.
	Interface int
}

// SRVData represents parsed SRV record data per RFC 2782.
//
// SRV records specify the location (hostname and port) of a service.
type SRVData struct {
	// Target is the domain name of the host providing the service.
	// Target may require additional A/AAAA query to resolve to IP.
	Target string

	// Priority is the priority of this target host.
	// Lower values indicate higher priority.
	Priority uint16

	// Weight is used for load balancing among targets with same priority.
	// Higher values indicate higher weight.
	Weight uint16

	// Port is the TCP or UDP port where the service is available.
	Port uint16
}

// AsA returns the IPv4 address for an A record, or nil if not an A record.
//
// Example:
//
//	for _, record := range response.Records {
//	    if ip := record.AsA(); ip != nil {
//	        fmt.Printf("Found IP: %s\n", ip)
//	    }
//	}
func (r *ResourceRecord) AsA() net.IP {
	if r.Type != RecordTypeA {
		return nil
	}

	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}

	return ip
}

// AsAAAA returns the IPv6 address for an AAAA record, or nil if not an AAAA record.
func (r *ResourceRecord) AsAAAA() net.IP {
	if r.Type != RecordTypeAAAA {
		return nil
	}

	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}

	return ip
}

// AsPTR returns the target name for a PTR record, or empty string if not a PTR record.
//
// Example:
//
//	for _, record := range response.Records {
//	    if target := record.AsPTR(); target != "" {
//	        fmt.Printf("Found service: %s\n", target)
//	    }
//	}
func (r *ResourceRecord) AsPTR() string {
	if r.Type != RecordTypePTR {
		return ""
	}

	target, ok := r.Data.(string)
	if !ok {
		return ""
	}

	return target
}

// AsSRV returns the SRV data for an SRV record, or nil if not an SRV record.
//
// Example:
//
//	for _, record := range response.Records {
//	    if srv := record.AsSRV(); srv != nil {
//	        fmt.Printf("Service at %s:%d\n", srv.Target, srv.Port)
//	    }
//	}
func (r *ResourceRecord) AsSRV() *SRVData {
	if r.Type != RecordTypeSRV {
		return nil
	}

	srv, ok := r.Data.(SRVData)
	if !ok {
		return nil
	}

	return &srv
}

// AsTXT returns the text strings for a TXT record, or nil if not a TXT record.
//
// Example:
//
//	for _, record := range response.Records {
//	    if txt := record.AsTXT(); txt != nil {
//	        for _, kv := range txt {
//	            fmt.Printf("Metadata: %s\n", kv)
//	        }
//	    }
//	}
func (r *ResourceRecord) AsTXT() []string {
	if r.Type != RecordTypeTXT {
		return nil
	}

	txt, ok := r.Data.([]string)
	if !ok {
		return nil
	}

	return txt
}
