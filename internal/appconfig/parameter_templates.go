// internal/appconfig/parameter_templates.go
package appconfig

import "strings"

// ProfileName identifies a sampling preset a host can opt into.
type ProfileName string

const (
	ProfileBalanced ProfileName = "balanced"
	ProfilePrecise  ProfileName = "precise"
	ProfileCreative ProfileName = "creative"
)

// ParamsForProfile selects a sampling preset by name.
// Empty or unknown names return the balanced preset.
func ParamsForProfile(name string) Parameters {
	switch ProfileName(normalizeProfileName(name)) {
	case ProfilePrecise:
		// Fix-up attempts benefit from low variance.
		return Parameters{Temperature: ptrFloat(0.2), TopP: ptrFloat(0.9), MaxTokens: ptrInt(defaultMaxTokens)}
	case ProfileCreative:
		return Parameters{Temperature: ptrFloat(0.9), TopP: ptrFloat(1.0), MaxTokens: ptrInt(4000)}
	default:
		return Parameters{Temperature: ptrFloat(defaultTemperature), TopP: ptrFloat(defaultTopP), MaxTokens: ptrInt(defaultMaxTokens)}
	}
}

// mergeParams fills nil fields of override from base.
func mergeParams(base, override Parameters) Parameters {
	out := override
	if out.Temperature == nil && base.Temperature != nil {
		out.Temperature = ptrFloat(*base.Temperature)
	}
	if out.TopP == nil && base.TopP != nil {
		out.TopP = ptrFloat(*base.TopP)
	}
	if out.MaxTokens == nil && base.MaxTokens != nil {
		out.MaxTokens = ptrInt(*base.MaxTokens)
	}
	return out
}

func normalizeProfileName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "default", "generic", "":
		return string(ProfileBalanced)
	case "accuracy", "accurate", "strict":
		return string(ProfilePrecise)
	}
	return s
}

func ptrInt(v int) *int           { return &v }
func ptrFloat(v float64) *float64 { return &v }
