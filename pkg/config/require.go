package config

import (
	"fmt"
	"sort"
	"strings"
)

// Missing reports every env name whose value is empty, sorted by name.
func Missing(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required env %s", strings.Join(missing, ", "))
}
