package feeder

import "strings"

// Substitute replaces every {{field}} in template with the record's value.
// Placeholders without a matching field are left as they are.
func Substitute(template string, record Record) string {
	if len(record) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	pairs := make([]string, 0, 2*len(record))
	for key, value := range record {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
