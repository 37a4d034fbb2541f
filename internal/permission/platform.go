package permission

import "fmt"

// Platform selects the consent flow and settings deep link.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ParsePlatform parses a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformAndroid, PlatformIOS:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// StagedBackground reports whether background consent needs a separate prompt after foreground
// consent. iOS asks for both in one "always" request and upgrades provisionally.
func (p Platform) StagedBackground() bool {
	return p == PlatformAndroid
}

// SettingsURL is the deep link into the app's OS settings page.
func (p Platform) SettingsURL(appID string) string {
	if p == PlatformIOS {
		return "app-settings:"
	}
	return "package:" + appID
}

// Guidance is user-facing remediation for a denial.
type Guidance struct {
	Capability  Capability `json:"capability"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	SettingsURL string     `json:"settingsUrl"`
}

// GuidanceFunc receives guidance whenever a capability is denied.
type GuidanceFunc func(Guidance)

func guidanceFor(p Platform, appID string, c Capability) Guidance {
	g := Guidance{Capability: c, SettingsURL: p.SettingsURL(appID)}

	switch c {
	case CapabilityBackground:
		g.Title = "Background location needed"
		if p == PlatformIOS {
			g.Message = "To keep zones updated while the app is closed, open Settings and set Location to \"Always\"."
		} else {
			g.Message = "To keep zones updated while the app is closed, open Settings and choose \"Allow all the time\" for location."
		}
	default:
		g.Title = "Location access needed"
		g.Message = "Location access is required to share your position with your zones. Open Settings to allow it."
	}
	return g
}
