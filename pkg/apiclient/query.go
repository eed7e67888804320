package apiclient

import (
	"fmt"
	"net/url"
)

// BuildQuery encodes params sorted by key, skipping nil values.
func BuildQuery(params map[string]any) string {
	q := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		if p, ok := v.(*string); ok {
			if p == nil {
				continue
			}
			v = *p
		}
		q.Set(k, fmt.Sprint(v))
	}
	return q.Encode()
}
