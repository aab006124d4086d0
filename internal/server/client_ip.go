package server

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

var (
	ipv4Pattern       = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){3}$`)
	mappedIPv4Pattern = regexp.MustCompile(`^::ffff:\d{1,3}(?:\.\d{1,3}){3}$`)
)

// ClientIP picks the caller's address for display. Forwarded-for entries come
// first, then the direct peer; the first IPv4-looking entry wins, otherwise the
// first entry, otherwise "". The forwarded header is not trusted or verified.
func ClientIP(r *http.Request) string {
	return selectIP(ipCandidates(r))
}

func ipCandidates(r *http.Request) []string {
	var candidates []string
	if values, ok := r.Header["X-Forwarded-For"]; ok {
		for _, entry := range strings.Split(strings.Join(values, ","), ",") {
			candidates = append(candidates, strings.TrimSpace(entry))
		}
	}
	if peer := peerHost(r.RemoteAddr); peer != "" {
		candidates = append(candidates, peer)
	}
	return candidates
}

func selectIP(candidates []string) string {
	for _, candidate := range candidates {
		if ipv4Pattern.MatchString(candidate) || mappedIPv4Pattern.MatchString(candidate) {
			return candidate
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func peerHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSuffix(strings.TrimPrefix(remoteAddr, "["), "]")
	}
	return host
}
