package history

import "github.com/MaartenKnaepen/home-agent/internal/llm"

// Kind classifies an exchange element.
type Kind int

const (
	// KindRequest is a model-bound element: user content and/or
	// tool-invocation records.
	KindRequest Kind = iota
	// KindResponse is a model-produced element: generated content
	// and/or tool-result records.
	KindResponse
)

// Exchange is one element of the in-memory conversation shape used for
// windowing. A request and the response that immediately follows it
// form a pair; pairs are atomic and never split by the window. The
// Messages slice carries the underlying model messages so a single
// exchange can hold a tool invocation together with its result.
type Exchange struct {
	Kind     Kind
	Messages []llm.Message
}

// NewRequest builds a request exchange from model messages.
func NewRequest(messages ...llm.Message) Exchange {
	return Exchange{Kind: KindRequest, Messages: messages}
}

// NewResponse builds a response exchange from model messages.
func NewResponse(messages ...llm.Message) Exchange {
	return Exchange{Kind: KindResponse, Messages: messages}
}

// Window returns a bounded suffix of exchanges containing at most keep
// complete (request, response) pairs plus any trailing in-flight
// sequence.
//
// The function is pure: no I/O, no mutation of the input. It runs on
// every model step within a turn, so repeated application to its own
// output is a no-op.
//
// Rules:
//   - Complete pairs are collected left to right; only the last keep
//     pairs are retained, never truncated mid-pair.
//   - A response with no immediately preceding unconsumed request is
//     malformed input and is dropped, not an error.
//   - Everything from the first unpaired request onward (the in-flight
//     turn) is preserved verbatim after the retained pairs, regardless
//     of keep: the surrounding agent loop requires every window to end
//     with a request when one is in flight.
//   - keep = 0 keeps only the trailing in-flight sequence, if any.
func Window(exchanges []Exchange, keep int) []Exchange {
	if keep < 0 {
		keep = 0
	}

	type pair struct {
		req, resp Exchange
	}
	var pairs []pair
	var tail []Exchange

	for i := 0; i < len(exchanges); {
		ex := exchanges[i]
		if ex.Kind != KindRequest {
			// Stray response — skip.
			i++
			continue
		}
		if i+1 < len(exchanges) && exchanges[i+1].Kind == KindResponse {
			pairs = append(pairs, pair{req: ex, resp: exchanges[i+1]})
			i += 2
			continue
		}
		// Unpaired request: the in-flight turn starts here.
		tail = exchanges[i:]
		break
	}

	if keep < len(pairs) {
		pairs = pairs[len(pairs)-keep:]
	}

	result := make([]Exchange, 0, 2*len(pairs)+len(tail))
	for _, p := range pairs {
		result = append(result, p.req, p.resp)
	}
	result = append(result, tail...)
	return result
}

// Flatten expands a window back into the flat model message list sent
// to the provider.
func Flatten(exchanges []Exchange) []llm.Message {
	var messages []llm.Message
	for _, ex := range exchanges {
		messages = append(messages, ex.Messages...)
	}
	return messages
}

// FromRows lifts persisted rows into the exchange shape: user and
// system rows become requests, assistant rows become responses.
func FromRows(rows []Row) []Exchange {
	exchanges := make([]Exchange, 0, len(rows))
	for _, r := range rows {
		msg := llm.Message{Role: r.Role, Content: r.Content}
		if r.Role == "assistant" {
			exchanges = append(exchanges, NewResponse(msg))
		} else {
			exchanges = append(exchanges, NewRequest(msg))
		}
	}
	return exchanges
}
