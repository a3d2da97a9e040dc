package index

import "time"

// parseDateTime accepts the xsd:dateTime and xsd:date lexical forms the
// persisted encoder handles.
func parseDateTime(s string) (int64, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	_, err := time.Parse(time.RFC3339, s)
	return 0, err
}

func formatDateTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
