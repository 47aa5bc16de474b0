package resolver

import "time"

// Provider is one DNS-over-HTTPS endpoint.
type Provider struct {
	ID      string
	URL     string
	Address string // optional ip:port dialed instead of the URL host
}

// Options tunes a single Resolve call.
type Options struct {
	ForceRefresh bool // skip the cache
}

// Record is one resource record of a DoH JSON response.
type Record struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// Record types used by ExtractIPs.
const (
	TypeA     = 1
	TypeCNAME = 5
	TypeAAAA  = 28
)

// Answer is a resolved response with provider attribution.
type Answer struct {
	Domain    string    `json:"domain"`
	Type      string    `json:"type"`
	Provider  string    `json:"provider"`
	Status    int       `json:"Status"`
	Answer    []Record  `json:"Answer"`
	Authority []Record  `json:"Authority"`
	CachedAt  time.Time `json:"cachedAt"`
	FromCache bool      `json:"-"`
}

// usable reports whether the response carries a result worth caching.
func (a *Answer) usable() bool {
	return len(a.Answer) > 0 || (a.Status == 0 && len(a.Authority) > 0)
}

func (a *Answer) clone() *Answer {
	c := *a
	c.Answer = append([]Record(nil), a.Answer...)
	c.Authority = append([]Record(nil), a.Authority...)
	return &c
}

// ExtractIPs returns the A records of an answer. Without any A record it falls back
// to AAAA records, and as a last resort to the data of the first record.
func ExtractIPs(a *Answer) []string {
	if a == nil {
		return nil
	}
	var v4, v6 []string
	for _, rec := range a.Answer {
		switch rec.Type {
		case TypeA:
			v4 = append(v4, rec.Data)
		case TypeAAAA:
			v6 = append(v6, rec.Data)
		}
	}
	switch {
	case len(v4) > 0:
		return v4
	case len(v6) > 0:
		return v6
	case len(a.Answer) > 0:
		return []string{a.Answer[0].Data}
	}
	return nil
}
