package plan

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ampkernel/amp/kernelerr"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a Plan from path. A .yaml/.yml extension is parsed as
// YAML; every other extension is parsed as JSON, matching the on-disk
// format §6 of the surrounding documentation describes.
func LoadFile(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Plan
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, kernelerr.Validation("plan.LoadFile", "", "invalid yaml: "+err.Error())
		}
		return &p, nil
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, kernelerr.Validation("plan.LoadFile", "", "invalid json: "+err.Error())
	}
	return &p, nil
}
