package c2pa

import (
	"regexp"
	"strings"
)

// Assertion labels read by the selectors.
const (
	LabelCreativeWork = "stds.schema-org.CreativeWork"
	LabelExif         = "stds.exif"
	LabelActions      = "c2pa.actions"
)

// Producer is the person credited in the CreativeWork assertion.
type Producer struct {
	Name string
	ID   string
}

// FormattedGenerator returns a display form of the claim generator:
// "name version" from the generator info, or the first product token of
// the claim generator string with underscores turned into spaces.
func FormattedGenerator(a *ActiveManifest) string {
	if a == nil {
		return ""
	}
	if len(a.ClaimGeneratorInfo) > 0 {
		gi := a.ClaimGeneratorInfo[0]
		return strings.TrimSpace(gi.Name + " " + gi.Version)
	}
	fields := strings.Fields(a.ClaimGenerator)
	if len(fields) == 0 {
		return ""
	}
	name, version, _ := strings.Cut(fields[0], "/")
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " ") + " " + version)
}

func creativeWorkAuthors(a *ActiveManifest) []map[string]any {
	var out []map[string]any
	for _, as := range a.AssertionsByLabel(LabelCreativeWork) {
		authors, _ := as.Data["author"].([]any)
		for _, raw := range authors {
			if author, ok := raw.(map[string]any); ok {
				out = append(out, author)
			}
		}
	}
	return out
}

// SelectProducer returns the first Person author of the CreativeWork
// assertion, or nil.
func SelectProducer(a *ActiveManifest) *Producer {
	for _, author := range creativeWorkAuthors(a) {
		if t, _ := author["@type"].(string); t != "Person" {
			continue
		}
		name, _ := author["name"].(string)
		id, _ := author["@id"].(string)
		return &Producer{Name: name, ID: id}
	}
	return nil
}

// SelectSocialAccounts returns the account URLs attached to CreativeWork
// authors: their "@id" values and any "sameAs" links.
func SelectSocialAccounts(a *ActiveManifest) []string {
	var accounts []string
	seen := map[string]bool{}
	add := func(v string) {
		if strings.HasPrefix(v, "http") && !seen[v] {
			seen[v] = true
			accounts = append(accounts, v)
		}
	}
	for _, author := range creativeWorkAuthors(a) {
		if id, ok := author["@id"].(string); ok {
			add(id)
		}
		switch same := author["sameAs"].(type) {
		case string:
			add(same)
		case []any:
			for _, s := range same {
				if v, ok := s.(string); ok {
					add(v)
				}
			}
		}
	}
	return accounts
}

// SelectWebsite returns the CreativeWork url, or "".
func SelectWebsite(a *ActiveManifest) string {
	for _, as := range a.AssertionsByLabel(LabelCreativeWork) {
		if url, ok := as.Data["url"].(string); ok && url != "" {
			return url
		}
	}
	return ""
}

type providerMatcher struct {
	pattern *regexp.Regexp
	name    string
}

// First match wins, so the generic Adobe entry follows the specific products.
var providerMatchers = []providerMatcher{
	{regexp.MustCompile(`(?i)nikon`), "Nikon"},
	{regexp.MustCompile(`(?i)photoshop`), "Photoshop"},
	{regexp.MustCompile(`(?i)adobe\sexpress`), "Adobe Express"},
	{regexp.MustCompile(`(?i)adobe\sfirefly`), "Adobe Firefly"},
	{regexp.MustCompile(`(?i)adobe\sstock`), "Adobe Stock"},
	{regexp.MustCompile(`(?i)adobe`), "Adobe"},
	{regexp.MustCompile(`(?i)behance\.net`), "Behance"},
	{regexp.MustCompile(`(?i)facebook\.com`), "Facebook"},
	{regexp.MustCompile(`(?i)instagram\.com`), "Instagram"},
	{regexp.MustCompile(`(?i)linkedin\.com`), "LinkedIn"},
	{regexp.MustCompile(`(?i)net\.s2stagehance\.com`), "Behance (staging)"},
	{regexp.MustCompile(`(?i)truepic`), "Truepic"},
	{regexp.MustCompile(`(?i)twitter\.com`), "Twitter"},
	{regexp.MustCompile(`(?i)pinterest\.com`), "Pinterest"},
	{regexp.MustCompile(`(?i)vimeo\.com`), "Vimeo"},
	{regexp.MustCompile(`(?i)youtube\.com`), "YouTube"},
	{regexp.MustCompile(`(?i)leica`), "Leica"},
	{regexp.MustCompile(`(?i)M11`), "Leica"},
	{regexp.MustCompile(`(?i)lightroom`), "Adobe Lightroom"},
}

// ProviderName maps an account URL or generator string to a known provider
// name. It returns "" when nothing matches.
func ProviderName(s string) string {
	for _, m := range providerMatchers {
		if m.pattern.MatchString(s) {
			return m.name
		}
	}
	return ""
}
