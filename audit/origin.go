package audit

import "github.com/mssola/useragent"

// DescribeOrigin summarises o for event details: the address plus the
// browser, platform and bot classification parsed from the agent string.
func DescribeOrigin(o Origin) map[string]any {
	out := map[string]any{}
	if o.IP != "" {
		out["ip"] = o.IP
	}
	if o.UserAgent == "" {
		return out
	}
	ua := useragent.New(o.UserAgent)
	name, version := ua.Browser()
	if name != "" {
		out["browser"] = name
		if version != "" {
			out["browser_version"] = version
		}
	}
	if os := ua.OS(); os != "" {
		out["os"] = os
	}
	out["mobile"] = ua.Mobile()
	out["bot"] = ua.Bot()
	return out
}
