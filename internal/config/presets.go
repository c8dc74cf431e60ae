package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Class table presets.
const (
	PresetAnimals = "animals"
	PresetPeople  = "people"
	PresetFaces   = "faces"
)

// COCO class ids for living subjects commonly found in photo galleries.
var animalClasses = map[int]string{
	14: "bird",
	15: "cat",
	16: "dog",
	17: "horse",
	18: "sheep",
	19: "cow",
	20: "elephant",
	21: "bear",
	22: "zebra",
	23: "giraffe",
}

var presets = map[string]map[int]string{
	PresetAnimals: animalClasses,
	PresetPeople:  {0: "person"},
	PresetFaces:   {0: "face"},
}

// PresetNames lists the known class table presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var modelSizes = map[string]struct{}{
	"nano": {}, "small": {}, "medium": {}, "large": {}, "xlarge": {},
}

// ClassTable resolves the allowed class set: the preset table, narrowed to
// Classes when set, with ClassLabels applied on top. Ids outside the preset
// that are listed in Classes fall back to a generic "class_<id>" label.
func (c *Config) ClassTable() (map[int]string, error) {
	base, ok := presets[c.Detection.Preset]
	if !ok {
		return nil, fmt.Errorf("detection.preset: unknown preset %q (want one of %s)", c.Detection.Preset, strings.Join(PresetNames(), ", "))
	}

	overrides := make(map[int]string, len(c.Detection.ClassLabels))
	for key, label := range c.Detection.ClassLabels {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("detection.class_labels: key %q is not a class id", key)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("detection.class_labels: empty label for class %d", id)
		}
		overrides[id] = label
	}

	table := make(map[int]string)
	if len(c.Detection.Classes) == 0 {
		for id, label := range base {
			table[id] = label
		}
	} else {
		for _, id := range c.Detection.Classes {
			if label, ok := base[id]; ok {
				table[id] = label
			} else {
				table[id] = fmt.Sprintf("class_%d", id)
			}
		}
	}
	for id, label := range overrides {
		if _, ok := table[id]; ok || len(c.Detection.Classes) == 0 {
			table[id] = label
		}
	}
	return table, nil
}
