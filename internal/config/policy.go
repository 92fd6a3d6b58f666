package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chronicle/editor/internal/export"
)

// ExportPolicy maps plan tiers to the export formats they may use. Tiers
// are listed from lowest to highest.
type ExportPolicy struct {
	DefaultTier string       `yaml:"defaultTier"`
	UpgradeURL  string       `yaml:"upgradeUrl"`
	Tiers       []TierPolicy `yaml:"tiers"`
}

type TierPolicy struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label"`
	Formats []string `yaml:"formats"`
}

// DefaultExportPolicy lets every tier export HTML and Markdown and reserves
// PDF and DOCX for Pro.
func DefaultExportPolicy() ExportPolicy {
	return ExportPolicy{
		DefaultTier: "free",
		UpgradeURL:  "https://chronicle.dev/pricing",
		Tiers: []TierPolicy{
			{Name: "free", Label: "Free", Formats: []string{string(export.FormatHTML), string(export.FormatMarkdown)}},
			{Name: "pro", Label: "Pro", Formats: []string{
				string(export.FormatPDF), string(export.FormatDOCX), string(export.FormatHTML), string(export.FormatMarkdown),
			}},
		},
	}
}

// LoadExportPolicy reads a YAML policy file. An empty path yields the
// default policy. Format aliases such as "pdf" are normalized to MIME types.
func LoadExportPolicy(path string) (ExportPolicy, error) {
	if path == "" {
		return DefaultExportPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExportPolicy{}, fmt.Errorf("read export policy: %w", err)
	}
	return ParseExportPolicy(raw)
}

func ParseExportPolicy(raw []byte) (ExportPolicy, error) {
	var policy ExportPolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return ExportPolicy{}, fmt.Errorf("decode export policy: %w", err)
	}
	if len(policy.Tiers) == 0 {
		return ExportPolicy{}, errors.New("export policy: at least one tier is required")
	}
	for i, tier := range policy.Tiers {
		if tier.Name == "" {
			return ExportPolicy{}, fmt.Errorf("export policy: tier %d has no name", i)
		}
		if tier.Label == "" {
			policy.Tiers[i].Label = tier.Name
		}
		for j, f := range tier.Formats {
			format, err := export.ParseFormat(f)
			if err != nil {
				return ExportPolicy{}, fmt.Errorf("export policy: tier %s: %w: %s", tier.Name, err, f)
			}
			policy.Tiers[i].Formats[j] = string(format)
		}
	}
	if policy.DefaultTier == "" {
		policy.DefaultTier = policy.Tiers[0].Name
	}
	return policy, nil
}

// Allows reports whether tier may export format. Unknown tiers fall back
// to the default tier.
func (p ExportPolicy) Allows(tier string, format export.Format) bool {
	t, ok := p.tier(tier)
	if !ok {
		t, ok = p.tier(p.DefaultTier)
		if !ok {
			return false
		}
	}
	for _, f := range t.Formats {
		if f == string(format) {
			return true
		}
	}
	return false
}

// UpgradeTier returns the lowest tier that allows format.
func (p ExportPolicy) UpgradeTier(format export.Format) (TierPolicy, bool) {
	for _, t := range p.Tiers {
		for _, f := range t.Formats {
			if f == string(format) {
				return t, true
			}
		}
	}
	return TierPolicy{}, false
}

func (p ExportPolicy) tier(name string) (TierPolicy, bool) {
	for _, t := range p.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return TierPolicy{}, false
}
