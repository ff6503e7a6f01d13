// Package menu projects the active manifest onto the Content Credentials
// menu. Every field resolves on its own; absent fields are hidden.
package menu

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/models"
)

// Menu field keys, in display order.
const (
	KeyIssuer           = "SIG_ISSUER"
	KeyDate             = "DATE"
	KeyClaimGenerator   = "CLAIM_GENERATOR"
	KeyName             = "NAME"
	KeyLocation         = "LOCATION"
	KeyWebsite          = "WEBSITE"
	KeySocial           = "SOCIAL"
	KeyValidationStatus = "VALIDATION_STATUS"
	KeyAlert            = "ALERT"
)

// Labels maps each key to its display label.
var Labels = map[string]string{
	KeyIssuer:           "Issued by",
	KeyDate:             "Issued on",
	KeyClaimGenerator:   "App or device used",
	KeyName:             "Name",
	KeyLocation:         "Location",
	KeyWebsite:          "Website",
	KeySocial:           "Social Media",
	KeyValidationStatus: "Current Validation Status",
	KeyAlert:            "Alert",
}

var order = []string{
	KeyIssuer, KeyDate, KeyClaimGenerator, KeyName, KeyLocation,
	KeyWebsite, KeySocial, KeyValidationStatus, KeyAlert,
}

const dateLayout = "Jan 02, 2006"

// SocialAccount is a linked account with its provider name.
type SocialAccount struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// Location is the capture position from the EXIF assertion.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f, %.6f", l.Latitude, l.Longitude)
}

// Menu holds the resolved fields. Nil or empty fields are hidden.
type Menu struct {
	Issuer           *string         `json:"issuer,omitempty"`
	IssuedOn         *string         `json:"issuedOn,omitempty"`
	ClaimGenerator   *string         `json:"claimGenerator,omitempty"`
	Name             *string         `json:"name,omitempty"`
	Location         *Location       `json:"location,omitempty"`
	Website          *string         `json:"website,omitempty"`
	Social           []SocialAccount `json:"social,omitempty"`
	ValidationStatus string          `json:"validationStatus"`
	Alert            *string         `json:"alert,omitempty"`
}

// Item is one visible menu row.
type Item struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Build resolves the menu for manifest m, the aggregate status and the
// compromised ranges ("mm:ss-mm:ss").
func Build(m *c2pa.Manifest, status models.Status, compromised []string) Menu {
	menu := Menu{
		ValidationStatus: status.Label(),
		Alert:            alert(compromised),
	}

	a := m.Active()
	if a == nil {
		return menu
	}

	if a.SignatureInfo != nil {
		menu.Issuer = nonEmpty(a.SignatureInfo.Issuer)
		if ts := a.SignatureInfo.Time; ts != nil && !ts.IsZero() {
			menu.IssuedOn = nonEmpty(ts.Format(dateLayout))
		}
	}
	menu.ClaimGenerator = nonEmpty(c2pa.FormattedGenerator(a))
	if p := c2pa.SelectProducer(a); p != nil {
		menu.Name = nonEmpty(p.Name)
	}
	menu.Location = location(a)
	menu.Website = nonEmpty(c2pa.SelectWebsite(a))
	for _, acct := range c2pa.SelectSocialAccounts(a) {
		menu.Social = append(menu.Social, SocialAccount{URL: acct, Provider: providerName(acct)})
	}
	return menu
}

// AlertText builds the tampering alert for compromised ranges.
func AlertText(compromised []string) string {
	return "The segment between " + strings.Join(compromised, ", ") + " may have been tampered with"
}

func alert(compromised []string) *string {
	if len(compromised) == 0 {
		return nil
	}
	s := AlertText(compromised)
	return &s
}

// Items returns the visible rows in display order.
func (m Menu) Items() []Item {
	values := map[string]string{KeyValidationStatus: m.ValidationStatus}
	set := func(key string, v *string) {
		if v != nil {
			values[key] = *v
		}
	}
	set(KeyIssuer, m.Issuer)
	set(KeyDate, m.IssuedOn)
	set(KeyClaimGenerator, m.ClaimGenerator)
	set(KeyName, m.Name)
	set(KeyWebsite, m.Website)
	set(KeyAlert, m.Alert)
	if m.Location != nil {
		values[KeyLocation] = m.Location.String()
	}
	if len(m.Social) > 0 {
		names := make([]string, len(m.Social))
		for i, s := range m.Social {
			names[i] = s.Provider
		}
		values[KeySocial] = strings.Join(names, ", ")
	}

	var items []Item
	for _, key := range order {
		if v, ok := values[key]; ok {
			items = append(items, Item{Key: key, Label: Labels[key], Value: v})
		}
	}
	return items
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func location(a *c2pa.ActiveManifest) *Location {
	exif := a.AssertionsByLabel(c2pa.LabelExif)
	if len(exif) == 0 {
		return nil
	}
	lat, okLat := coordinate(exif[0].Data["EXIF:GPSLatitude"])
	lon, okLon := coordinate(exif[0].Data["EXIF:GPSLongitude"])
	if !okLat || !okLon {
		return nil
	}
	return &Location{Latitude: lat, Longitude: lon}
}

// coordinate accepts a number or a string starting with one.
func coordinate(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case int64:
		return float64(c), true
	case uint64:
		return float64(c), true
	case string:
		fields := strings.Fields(c)
		if len(fields) == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimRight(fields[0], ","), 64)
		return f, err == nil
	}
	return 0, false
}

// providerName falls back to the host name for unknown providers.
func providerName(account string) string {
	if name := c2pa.ProviderName(account); name != "" {
		return name
	}
	if u, err := url.Parse(account); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return account
}
