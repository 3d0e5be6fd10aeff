package wire

import (
	"fmt"
	"strings"
)

// ParseInfoResponse decodes the payload of an info frame into a map of
// command name to value. The payload consists of newline terminated
// lines, each holding a name and a tab separated value.
func ParseInfoResponse(buf []byte) (map[string]string, error) {
	result := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, "\t")
		if !found {
			// commands without a value report just their name
			result[line] = ""
			continue
		}
		result[name] = value
	}
	return result, nil
}

// InfoValue extracts a single command value from a parsed info response
// and fails when the node did not answer the command.
func InfoValue(values map[string]string, name string) (string, error) {
	value, ok := values[name]
	if !ok {
		return "", fmt.Errorf("info response is missing %q", name)
	}
	if strings.HasPrefix(strings.ToLower(value), "error") {
		return "", fmt.Errorf("info command %q failed: %s", name, value)
	}
	return value, nil
}
