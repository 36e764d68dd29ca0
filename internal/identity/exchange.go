package identity

import (
	"encoding/json"

	"github.com/nhle/taskwatch/internal/source"
)

// exchangeResponse covers every response shape the exchange endpoint is
// known to use.
type exchangeResponse struct {
	Token       string        `json:"token"`
	AccessToken string        `json:"access_token"`
	Data        *exchangeData `json:"data"`
}

type exchangeData struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// exchangeSchemas lists the known response shapes in priority order. The
// first one that yields a non-empty token wins.
var exchangeSchemas = []struct {
	name string
	pick func(*exchangeResponse) string
}{
	{"token", func(r *exchangeResponse) string { return r.Token }},
	{"access_token", func(r *exchangeResponse) string { return r.AccessToken }},
	{"data.token", func(r *exchangeResponse) string {
		if r.Data == nil {
			return ""
		}
		return r.Data.Token
	}},
	{"data.access_token", func(r *exchangeResponse) string {
		if r.Data == nil {
			return ""
		}
		return r.Data.AccessToken
	}},
}

// parseExchangeResponse extracts the access token from body, returning a
// MalformedResponseError when no known schema matches.
func parseExchangeResponse(op string, body []byte) (string, error) {
	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &source.MalformedResponseError{Op: op, Body: string(body)}
	}

	for _, schema := range exchangeSchemas {
		if token := schema.pick(&resp); token != "" {
			return token, nil
		}
	}

	return "", &source.MalformedResponseError{Op: op, Body: string(body)}
}
