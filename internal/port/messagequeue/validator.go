package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	if !strings.HasPrefix(subject, SubjectMessages+".") {
		return nil
	}

	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.Type == "" || p.From == "" {
		return fmt.Errorf("schema validation failed for %s: message_type and from are required", subject)
	}
	if want := MessageSubject(p.Type); want != subject {
		return fmt.Errorf("schema validation failed for %s: message_type %q belongs on %s", subject, p.Type, want)
	}
	return nil
}
