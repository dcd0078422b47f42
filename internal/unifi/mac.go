package unifi

import "strings"

// macReplacer rewrites the separator characters UniFi and humans use
// interchangeably into colons.
var macReplacer = strings.NewReplacer("-", ":", ".", ":")

// NormalizeMAC converts any common MAC address representation (mixed
// case, dash- or dot-separated) into the canonical lowercase
// colon-separated form used as the key for every lookup and control
// operation. The function is idempotent; an already-canonical MAC is
// returned unchanged.
func NormalizeMAC(mac string) string {
	return macReplacer.Replace(strings.ToLower(strings.TrimSpace(mac)))
}
