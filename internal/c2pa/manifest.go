// Package c2pa holds the manifest structure returned by the external
// verifier and the boundary used to obtain it.
package c2pa

import "time"

// Manifest is the parsed provenance record for one asset or fragment.
type Manifest struct {
	ManifestStore *ManifestStore `json:"manifestStore"`
}

// ManifestStore mirrors the verifier's manifest store: the active manifest
// and the validation problems found while checking it.
type ManifestStore struct {
	ActiveManifest   *ActiveManifest    `json:"activeManifest,omitempty"`
	ValidationStatus []ValidationStatus `json:"validationStatus"`
}

// ValidationStatus is one validation problem. An empty list means the
// manifest validated.
type ValidationStatus struct {
	Code        string `json:"code"`
	URL         string `json:"url,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// ActiveManifest is the manifest that describes the current state of the asset.
type ActiveManifest struct {
	Label              string          `json:"label,omitempty"`
	Title              string          `json:"title,omitempty"`
	Format             string          `json:"format,omitempty"`
	ClaimGenerator     string          `json:"claimGenerator,omitempty"`
	ClaimGeneratorInfo []GeneratorInfo `json:"claimGeneratorInfo,omitempty"`
	SignatureInfo      *SignatureInfo  `json:"signatureInfo,omitempty"`
	Assertions         []Assertion     `json:"assertions,omitempty"`
	Ingredients        []Ingredient    `json:"ingredients,omitempty"`
}

// GeneratorInfo names the application that produced the claim.
type GeneratorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// SignatureInfo describes the claim signer.
type SignatureInfo struct {
	Issuer       string     `json:"issuer,omitempty"`
	CertSerial   string     `json:"certSerialNumber,omitempty"`
	Time         *time.Time `json:"time,omitempty"`
	Alg          string     `json:"alg,omitempty"`
	CommonName   string     `json:"cert_common_name,omitempty"`
	RevocationOK *bool      `json:"revocationStatus,omitempty"`
}

// Assertion is a labelled piece of claim data.
type Assertion struct {
	Label    string         `json:"label"`
	Data     map[string]any `json:"data,omitempty"`
	Instance int            `json:"instance,omitempty"`
}

// Ingredient is an asset this one was derived from.
type Ingredient struct {
	Title            string             `json:"title,omitempty"`
	Format           string             `json:"format,omitempty"`
	Relationship     string             `json:"relationship,omitempty"`
	ValidationStatus []ValidationStatus `json:"validationStatus,omitempty"`
}

// Valid reports whether the manifest exists and its validation status list
// is empty.
func (m *Manifest) Valid() bool {
	if m == nil || m.ManifestStore == nil {
		return false
	}
	return len(m.ManifestStore.ValidationStatus) == 0
}

// Present reports whether a manifest store was found at all.
func (m *Manifest) Present() bool {
	return m != nil && m.ManifestStore != nil
}

// FirstValidationError returns the first validation problem, or "" when
// there is none.
func (m *Manifest) FirstValidationError() string {
	if !m.Present() || len(m.ManifestStore.ValidationStatus) == 0 {
		return ""
	}
	vs := m.ManifestStore.ValidationStatus[0]
	if vs.Explanation != "" {
		return vs.Code + ": " + vs.Explanation
	}
	return vs.Code
}

// Active returns the active manifest, or nil.
func (m *Manifest) Active() *ActiveManifest {
	if !m.Present() {
		return nil
	}
	return m.ManifestStore.ActiveManifest
}

// AssertionsByLabel returns the assertions carrying label, in manifest order.
func (a *ActiveManifest) AssertionsByLabel(label string) []Assertion {
	if a == nil {
		return nil
	}
	var out []Assertion
	for _, as := range a.Assertions {
		if as.Label == label {
			out = append(out, as)
		}
	}
	return out
}
