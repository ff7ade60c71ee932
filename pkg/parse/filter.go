package parse

import (
	"errors"
	"net/url"
	"slices"
	"strings"
)

// FilterFunc resolves candidate against base and returns the normalized
// address, or false when the candidate is rejected.
type FilterFunc func(base, candidate string) (string, bool)

// FilterRule restricts which addresses a crawl may admit.
// A nil slice leaves that axis unrestricted; an empty non-nil slice allows nothing.
type FilterRule struct {
	AllowedSchemes        []string `yaml:"allowed_schemes,omitempty"`
	AllowedHosts          []string `yaml:"allowed_hosts,omitempty"`
	AllowedFileExtensions []string `yaml:"allowed_file_extensions,omitempty"` // Include "" for extension-less paths
	BlockedSubstrings     []string `yaml:"blocked_substrings,omitempty"`
}

// Resolve resolves candidate against base and strips the fragment.
// The result must be absolute; percent-encoding and case are left as written.
func Resolve(base, candidate string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(candidate))
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	if !resolved.IsAbs() {
		return "", errNotAbsolute
	}
	return resolved.String(), nil
}

var errNotAbsolute = errors.New("address is not absolute")

// FileExtension returns the suffix of the final path segment, dot included.
// Trailing slashes are ignored; a leading or trailing dot yields "".
func FileExtension(p string) string {
	p = strings.TrimRight(p, "/")
	name := p[strings.LastIndex(p, "/")+1:]
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}

// Filter implements FilterFunc for the rule. It never returns an error:
// anything that fails to parse is rejected.
func (r FilterRule) Filter(base, candidate string) (string, bool) {
	addr, err := Resolve(base, candidate)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", false
	}

	if r.AllowedSchemes != nil && !slices.Contains(r.AllowedSchemes, u.Scheme) {
		return "", false
	}
	if r.AllowedHosts != nil && !slices.Contains(r.AllowedHosts, u.Host) {
		return "", false
	}
	if r.AllowedFileExtensions != nil && !slices.Contains(r.AllowedFileExtensions, FileExtension(u.Path)) {
		return "", false
	}
	for _, blocked := range r.BlockedSubstrings {
		if strings.Contains(addr, blocked) {
			return "", false
		}
	}
	return addr, true
}

// Hosts returns the distinct hosts of the given absolute addresses in input order.
// Used to derive AllowedHosts from seeds when none are configured.
func Hosts(addresses []string) []string {
	var hosts []string
	for _, a := range addresses {
		u, err := url.Parse(a)
		if err != nil || u.Host == "" || slices.Contains(hosts, u.Host) {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
