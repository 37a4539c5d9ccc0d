package dispatch

// Notification is the user-visible part of a push message.
type Notification struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

// Message is a recipient-independent push payload. It is combined with a
// token set at dispatch time.
type Message struct {
	Notification *Notification    `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// TokenResult is the gateway's verdict for a single token.
type TokenResult struct {
	Token   string
	Success bool
	// Invalid marks tokens the provider reported as permanently unusable
	// (uninstalled app, expired registration).
	Invalid bool
	Err     error
}

// Outcome is the result of one dispatch. Results are in the order the tokens
// were handed to the gateway.
type Outcome struct {
	DispatchID string
	Results    []TokenResult
}

// Tokens returns every targeted token, in dispatch order.
func (o *Outcome) Tokens() []string {
	tokens := make([]string, len(o.Results))
	for i, r := range o.Results {
		tokens[i] = r.Token
	}
	return tokens
}

// Failed returns the tokens whose delivery failed.
func (o *Outcome) Failed() []string {
	var failed []string
	for _, r := range o.Results {
		if !r.Success {
			failed = append(failed, r.Token)
		}
	}
	return failed
}

// Invalid returns the failed tokens the provider reported as permanently unusable.
func (o *Outcome) Invalid() []string {
	var invalid []string
	for _, r := range o.Results {
		if !r.Success && r.Invalid {
			invalid = append(invalid, r.Token)
		}
	}
	return invalid
}

func (o *Outcome) SuccessCount() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (o *Outcome) FailureCount() int {
	return len(o.Results) - o.SuccessCount()
}
