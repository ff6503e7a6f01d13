package menu_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/c2pa/c2patest"
	"c2pastreamd/internal/menu"
	"c2pastreamd/internal/models"
)

func richManifest() *c2pa.Manifest {
	m := c2patest.ValidManifest()
	a := m.ManifestStore.ActiveManifest
	signed := time.Date(2024, time.March, 7, 10, 0, 0, 0, time.UTC)
	a.SignatureInfo.Time = &signed
	a.Assertions = append(a.Assertions,
		c2pa.Assertion{Label: c2pa.LabelExif, Data: map[string]any{
			"EXIF:GPSLatitude":  "39.2904 N",
			"EXIF:GPSLongitude": -76.6122,
		}},
		c2pa.Assertion{Label: c2pa.LabelCreativeWork, Data: map[string]any{
			"url": "https://example.org/newsroom",
			"author": []any{map[string]any{
				"@id":    "https://www.instagram.com/jane",
				"sameAs": []any{"https://mastodon.example/@jane"},
			}},
		}},
	)
	return m
}

func TestBuild_AllFields(t *testing.T) {
	m := menu.Build(richManifest(), models.StatusFailed, []string{"00:04-00:08", "01:00-01:04"})

	require.NotNil(t, m.Issuer)
	assert.Equal(t, "Example CA", *m.Issuer)
	require.NotNil(t, m.IssuedOn)
	assert.Equal(t, "Mar 07, 2024", *m.IssuedOn)
	assert.Equal(t, "c2pa-python 0.6.1", *m.ClaimGenerator)
	assert.Equal(t, "Jane Producer", *m.Name)
	require.NotNil(t, m.Location)
	assert.InDelta(t, 39.2904, m.Location.Latitude, 1e-9)
	assert.InDelta(t, -76.6122, m.Location.Longitude, 1e-9)
	assert.Equal(t, "https://example.org/newsroom", *m.Website)
	assert.Equal(t, []menu.SocialAccount{
		{URL: "https://www.instagram.com/jane", Provider: "Instagram"},
		{URL: "https://mastodon.example/@jane", Provider: "mastodon.example"},
	}, m.Social)
	assert.Equal(t, "Failed", m.ValidationStatus)
	require.NotNil(t, m.Alert)
	assert.Equal(t, "The segment between 00:04-00:08, 01:00-01:04 may have been tampered with", *m.Alert)

	var keys []string
	for _, it := range m.Items() {
		keys = append(keys, it.Key)
	}
	assert.Equal(t, []string{
		menu.KeyIssuer, menu.KeyDate, menu.KeyClaimGenerator, menu.KeyName, menu.KeyLocation,
		menu.KeyWebsite, menu.KeySocial, menu.KeyValidationStatus, menu.KeyAlert,
	}, keys)
}

// TestBuild_NoManifest verifies only the status row is visible without a
// manifest.
func TestBuild_NoManifest(t *testing.T) {
	m := menu.Build(nil, models.StatusUnknown, nil)

	items := m.Items()
	require.Len(t, items, 1)
	assert.Equal(t, menu.Item{Key: menu.KeyValidationStatus, Label: "Current Validation Status", Value: "Unknown"}, items[0])
	assert.Nil(t, m.Alert)
}

func TestBuild_LocationNeedsBothCoordinates(t *testing.T) {
	m := c2patest.ValidManifest()
	a := m.ManifestStore.ActiveManifest
	a.Assertions = append(a.Assertions, c2pa.Assertion{Label: c2pa.LabelExif, Data: map[string]any{
		"EXIF:GPSLatitude": "39.2904",
	}})

	got := menu.Build(m, models.StatusPassed, nil)
	assert.Nil(t, got.Location)
	assert.Equal(t, "Passed", got.ValidationStatus)
	assert.Nil(t, got.IssuedOn)
}
