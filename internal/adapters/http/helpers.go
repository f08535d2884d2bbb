package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func readAll(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "failed to read request body", domain.WithCause(err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return raw, nil
}

func decodeJSON(r *http.Request, v any) error {
	raw, err := readAll(r)
	if err != nil || raw == nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewError(domain.KindValidation, "request body is not valid JSON", domain.WithCode("MALFORMED_BODY"), domain.WithCause(err))
	}
	return nil
}

// writeEvent writes one server-sent event with a JSON payload.
func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
