package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Set bundles the loaded rule documents handed to the matching components.
type Set struct {
	Classifier *ClassifierDoc
	Risk       *RiskDoc
}

// Load reads and validates both rule files. An empty riskPath falls back to
// the built-in default predicate set; the classifier document is mandatory.
func Load(classifierPath, riskPath string) (*Set, error) {
	cls, err := LoadClassifier(classifierPath)
	if err != nil {
		return nil, err
	}

	risk := DefaultRiskDoc()
	if riskPath != "" {
		risk, err = LoadRisk(riskPath)
		if err != nil {
			return nil, err
		}
	}

	return &Set{Classifier: cls, Risk: risk}, nil
}

// LoadClassifier reads and validates a classifier rule file.
func LoadClassifier(path string) (*ClassifierDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read classifier rules %s", path)
	}

	var doc ClassifierDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "rules: parse classifier rules %s", path)
	}
	if err := doc.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rules: validate classifier rules %s", path)
	}
	return &doc, nil
}

// LoadRisk reads and validates a risk rule file.
func LoadRisk(path string) (*RiskDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read risk rules %s", path)
	}

	var doc RiskDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "rules: parse risk rules %s", path)
	}
	if err := doc.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rules: validate risk rules %s", path)
	}
	return &doc, nil
}
