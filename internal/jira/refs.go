package jira

import "strings"

// NormalizeSiteURL returns domain as an https URL without a trailing slash.
// Project records store either "acme.atlassian.net" or a full URL.
func NormalizeSiteURL(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain
}

// IssueURL builds the browse link for an issue key on a site.
func IssueURL(domain, key string) string {
	return NormalizeSiteURL(domain) + "/browse/" + key
}

// IsIssueLink reports whether link is a browse URL, optionally on domain.
func IsIssueLink(link, domain string) bool {
	if !strings.Contains(link, "/browse/") {
		return false
	}
	if domain != "" && !strings.HasPrefix(link, NormalizeSiteURL(domain)+"/") {
		return false
	}
	return true
}

// ExtractIssueKey extracts the key from a browse URL.
// For example, "https://acme.atlassian.net/browse/PROJ-123" returns "PROJ-123".
func ExtractIssueKey(link string) string {
	idx := strings.LastIndex(link, "/browse/")
	if idx == -1 {
		return ""
	}
	return link[idx+len("/browse/"):]
}
