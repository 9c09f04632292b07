package llmprovider

import "context"

// ScriptedClient is an in-memory Client double used by stage 3 tests: each
// call to Extract pops the next entry from Responses, in order, and returns
// its Response together with its Err.
type ScriptedClient struct {
	ProviderName string
	Responses    []ScriptedResult
	Calls        int
}

// ScriptedResult is one queued Extract outcome.
type ScriptedResult struct {
	Response Response
	Err      error
}

func (c *ScriptedClient) Name() string { return c.ProviderName }

func (c *ScriptedClient) Extract(ctx context.Context, images [][]byte, mimeType, systemPrompt, userPrompt string) (Response, error) {
	if c.Calls >= len(c.Responses) {
		panic("llmprovider.ScriptedClient: Extract called more times than scripted")
	}
	r := c.Responses[c.Calls]
	c.Calls++
	return r.Response, r.Err
}
