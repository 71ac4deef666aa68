package router

// Provider describes how to reach one upstream service: its base URL and the
// shape of its auth header. This is the pure provider table consumed by the
// forwarding path.
type Provider struct {
	BaseURL string
	// Header is the request header carrying the credential upstream.
	Header string
	// Prefix is prepended to the credential, e.g. "Bearer ".
	Prefix string
}

// DefaultProviders returns the built-in provider table.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"openai": {
			BaseURL: "https://api.openai.com",
			Header:  "Authorization",
			Prefix:  "Bearer ",
		},
		"anthropic": {
			BaseURL: "https://api.anthropic.com",
			Header:  "x-api-key",
		},
		"stripe": {
			BaseURL: "https://api.stripe.com",
			Header:  "Authorization",
			Prefix:  "Bearer ",
		},
		"github": {
			BaseURL: "https://api.github.com",
			Header:  "Authorization",
			Prefix:  "Bearer ",
		},
	}
}
