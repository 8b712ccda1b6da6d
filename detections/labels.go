package detections

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// namesMetadataKey is the custom metadata entry YOLO exports carry the class
// table in, formatted like a Python dict: {0: 'person', 1: 'bicycle'}.
const namesMetadataKey = "names"

var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// ParseNames reads a class table in the exporter's dict notation. Indices
// that are missing from the table are left as empty strings.
func ParseNames(raw string) ([]string, error) {
	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no class names found in %q", truncate(raw, 64))
	}

	byIndex := make(map[int]string, len(matches))
	highest := -1
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid class index %q: %w", m[1], err)
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		byIndex[idx] = unescape(name)
		highest = max(highest, idx)
	}

	names := make([]string, highest+1)
	for idx, name := range byIndex {
		names[idx] = name
	}
	return names, nil
}

// LoadNamesFile reads one class name per line. Blank lines keep their index.
func LoadNamesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Trailing blank lines are editor noise, not classes.
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return names, nil
}

func loadModelNames(modelPath string) ([]string, error) {
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	defer metadata.Destroy()

	raw, ok, err := metadata.LookupCustomMetadataMap(namesMetadataKey)
	if err != nil {
		return nil, fmt.Errorf("lookup %q metadata: %w", namesMetadataKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("model has no %q metadata", namesMetadataKey)
	}
	return ParseNames(raw)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`).Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
