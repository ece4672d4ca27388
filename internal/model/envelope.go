package model

const (
	EnvelopeTypeQuery    = "query"
	EnvelopeTypeResponse = "response"
)

// QueryEnvelope is published by the bridge to the job channel.
type QueryEnvelope struct {
	Type   string `json:"type"`
	Job    string `json:"job"`
	Portal string `json:"portal"`
	Data   string `json:"data"`
}

// ResponseEnvelope is what the external portal client publishes back on the
// same channel. Messages with any other type are ignored by the waiter.
type ResponseEnvelope struct {
	Type string       `json:"type"`
	Data ResponseData `json:"data"`
}

type ResponseData struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}
