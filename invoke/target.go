package invoke

import (
	"net/url"
	"sort"

	"github.com/relaykit/invoke-go/invoke/tool"
)

// breakerTarget resolves the circuit-breaker partition for a call.
//
// Tools that address a remote endpoint through a URL argument are
// partitioned by the URL's host, so one unhealthy API does not trip the
// breaker for every use of the tool. Everything else partitions by tool
// name. The "url" key wins; otherwise the remaining keys are scanned in
// sorted order so resolution is deterministic.
func breakerTarget(desc tool.Descriptor, args map[string]interface{}) string {
	if host := urlHost(args["url"]); host != "" {
		return host
	}

	keys := make([]string, 0, len(args))
	for key := range args {
		if key == "url" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if host := urlHost(args[key]); host != "" {
			return host
		}
	}
	return desc.Name()
}

// urlHost extracts the hostname from a string argument that parses as an
// absolute http or https URL. Returns "" for everything else.
func urlHost(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.Hostname()
}
